package reminders

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeNotifier struct {
	granted   bool
	permErr   error
	shown     []Request
	cancelled []int64
	tapped    func(id int64)
}

func (n *fakeNotifier) RequestPermission(ctx context.Context) (bool, error) {
	return n.granted, n.permErr
}

func (n *fakeNotifier) Show(ctx context.Context, req Request) error {
	n.shown = append(n.shown, req)
	return nil
}

func (n *fakeNotifier) Cancel(ctx context.Context, id int64) error {
	n.cancelled = append(n.cancelled, id)
	return nil
}

func (n *fakeNotifier) OnActionTapped(fn func(id int64)) {
	n.tapped = fn
}

func newTestScheduler(t *testing.T, notifier Notifier, randN func(int64) int64) *Scheduler {
	t.Helper()
	scheduler, err := NewScheduler(SchedulerConfig{Notifier: notifier, RandInt64N: randN})
	if err != nil {
		t.Fatalf("failed to construct scheduler: %v", err)
	}
	return scheduler
}

func TestScheduleUsesNoteIDWhenSaved(t *testing.T) {
	notifier := &fakeNotifier{granted: true}
	scheduler := newTestScheduler(t, notifier, nil)

	key, err := scheduler.Schedule(context.Background(), 42, "title", "body", time.Unix(1760000000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != 42 {
		t.Fatalf("expected note id as key, got %d", key)
	}
	if len(notifier.shown) != 1 || notifier.shown[0].ID != 42 {
		t.Fatalf("unexpected registrations: %+v", notifier.shown)
	}
}

func TestScheduleUnsavedNoteDrawsFallbackKey(t *testing.T) {
	notifier := &fakeNotifier{granted: true}
	scheduler := newTestScheduler(t, notifier, nil)

	key, err := scheduler.Schedule(context.Background(), 0, "title", "body", time.Unix(1760000000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key < FallbackKeyMin || key >= FallbackKeyMax {
		t.Fatalf("expected fallback key in [%d, %d), got %d", FallbackKeyMin, FallbackKeyMax, key)
	}
}

func TestScheduleFallbackKeysAvoidSessionCollisions(t *testing.T) {
	notifier := &fakeNotifier{granted: true}
	// Force the generator to repeat its first draw so the collision path runs.
	draws := []int64{5, 5, 6}
	index := 0
	scheduler := newTestScheduler(t, notifier, func(n int64) int64 {
		value := draws[index%len(draws)]
		index++
		return value
	})

	first, err := scheduler.Schedule(context.Background(), 0, "a", "", time.Unix(1760000000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := scheduler.Schedule(context.Background(), 0, "b", "", time.Unix(1760000000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct fallback keys, got %d twice", first)
	}
	if first != FallbackKeyMin+5 || second != FallbackKeyMin+6 {
		t.Fatalf("unexpected keys %d, %d", first, second)
	}
}

func TestScheduleFallbackExhaustionErrorsInsteadOfSpinning(t *testing.T) {
	notifier := &fakeNotifier{granted: true}
	// Every draw lands on the same key, so once it is issued no free key can
	// ever be found; the allocator must give up rather than loop forever.
	scheduler := newTestScheduler(t, notifier, func(n int64) int64 { return 1 })

	if _, err := scheduler.Schedule(context.Background(), 0, "a", "", time.Unix(1760000000, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := scheduler.Schedule(context.Background(), 0, "b", "", time.Unix(1760000000, 0))
	if !errors.Is(err, ErrFallbackKeysExhausted) {
		t.Fatalf("expected ErrFallbackKeysExhausted, got %v", err)
	}
	if len(notifier.shown) != 1 {
		t.Fatalf("expected no second registration, got %+v", notifier.shown)
	}
}

func TestSchedulePermissionDenied(t *testing.T) {
	notifier := &fakeNotifier{granted: false}
	scheduler := newTestScheduler(t, notifier, nil)

	_, err := scheduler.Schedule(context.Background(), 1, "title", "body", time.Unix(1760000000, 0))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if len(notifier.shown) != 0 {
		t.Fatalf("expected nothing scheduled, got %+v", notifier.shown)
	}
}

func TestRescheduleCancelsFallbackRegistration(t *testing.T) {
	notifier := &fakeNotifier{granted: true}
	scheduler := newTestScheduler(t, notifier, func(n int64) int64 { return 3 })

	fallback, err := scheduler.Schedule(context.Background(), 0, "draft", "", time.Unix(1760000000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	key, err := scheduler.Reschedule(context.Background(), fallback, 42, "draft", "", time.Unix(1760000000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != 42 {
		t.Fatalf("expected confirmed id as key, got %d", key)
	}
	if len(notifier.cancelled) != 1 || notifier.cancelled[0] != fallback {
		t.Fatalf("expected fallback registration cancelled, got %v", notifier.cancelled)
	}
	if len(notifier.shown) != 2 || notifier.shown[1].ID != 42 {
		t.Fatalf("expected registration under confirmed id, got %+v", notifier.shown)
	}
}

func TestRescheduleRequiresConfirmedID(t *testing.T) {
	scheduler := newTestScheduler(t, &fakeNotifier{granted: true}, nil)

	if _, err := scheduler.Reschedule(context.Background(), FallbackKeyMin, 0, "x", "", time.Unix(1760000000, 0)); err == nil {
		t.Fatalf("expected error for unconfirmed id")
	}
}

func TestCancelReleasesFallbackKeyForReuse(t *testing.T) {
	notifier := &fakeNotifier{granted: true}
	scheduler := newTestScheduler(t, notifier, func(n int64) int64 { return 7 })

	key, err := scheduler.Schedule(context.Background(), 0, "a", "", time.Unix(1760000000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := scheduler.Cancel(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The released key may be drawn again without spinning forever.
	again, err := scheduler.Schedule(context.Background(), 0, "b", "", time.Unix(1760000000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != key {
		t.Fatalf("expected released key %d to be reusable, got %d", key, again)
	}
}

func TestHandleActionsForwardsTaps(t *testing.T) {
	notifier := &fakeNotifier{granted: true}
	scheduler := newTestScheduler(t, notifier, nil)

	var tappedID int64
	scheduler.HandleActions(func(noteID int64) { tappedID = noteID })
	if notifier.tapped == nil {
		t.Fatalf("expected tap callback registered")
	}
	notifier.tapped(15)
	if tappedID != 15 {
		t.Fatalf("expected tap forwarded with note id, got %d", tappedID)
	}
}

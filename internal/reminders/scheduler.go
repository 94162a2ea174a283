// Package reminders translates "note + future time" into a scheduled local
// notification. Delivery itself belongs to a collaborator; this package owns
// the identity-key handling, including the fallback keys used while a note's
// real local id is not yet assigned.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Fallback keys live in a fixed reserved range so two unsaved notes scheduled
// in the same session cannot collide with each other. They may still collide
// with a real note id that grows into the range; a documented limitation.
const (
	FallbackKeyMin int64 = 1_000_000_000
	FallbackKeyMax int64 = 1_000_010_000
)

// Draws attempted before giving up on a free fallback key. Bounds the
// allocation loop when the reserved range is (nearly) exhausted in one session.
const maxFallbackDraws = 10_000

var (
	// ErrPermissionDenied indicates the user refused notification permission.
	// Nothing was scheduled.
	ErrPermissionDenied = errors.New("reminders: notification permission denied")

	// ErrFallbackKeysExhausted indicates no free fallback key could be drawn.
	ErrFallbackKeysExhausted = errors.New("reminders: fallback key range exhausted")

	errMissingNotifier = errors.New("reminders: notifier is required")
)

// Request is one notification registration. ID is the identity key attached to
// the delivery so a later tap can be correlated back to a note.
type Request struct {
	ID      int64
	Title   string
	Message string
	FireAt  time.Time
}

// Notifier is the notification-delivery collaborator.
type Notifier interface {
	RequestPermission(ctx context.Context) (bool, error)
	Show(ctx context.Context, req Request) error
	Cancel(ctx context.Context, id int64) error
	OnActionTapped(fn func(id int64))
}

// SchedulerConfig describes the scheduler dependencies.
type SchedulerConfig struct {
	Notifier Notifier
	Logger   *zap.Logger
	// RandInt64N returns a uniform value in [0, n); defaults to math/rand/v2.
	RandInt64N func(n int64) int64
}

// Scheduler registers reminder notifications keyed by note identity.
type Scheduler struct {
	notifier Notifier
	logger   *zap.Logger
	randN    func(n int64) int64

	mu     sync.Mutex
	issued map[int64]struct{}
}

// NewScheduler constructs a Scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Notifier == nil {
		return nil, errMissingNotifier
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	randN := cfg.RandInt64N
	if randN == nil {
		randN = rand.Int64N
	}
	return &Scheduler{
		notifier: cfg.Notifier,
		logger:   logger,
		randN:    randN,
		issued:   make(map[int64]struct{}),
	}, nil
}

// Schedule registers one notification. The identity key is the note's local id
// when it is non-zero; otherwise a fallback key is drawn from the reserved
// range. The key actually used is returned so the caller can reschedule under
// the real id once the note is saved.
func (s *Scheduler) Schedule(ctx context.Context, noteID int64, title, message string, fireAt time.Time) (int64, error) {
	if err := s.checkPermission(ctx); err != nil {
		return 0, err
	}

	key := noteID
	if key <= 0 {
		var err error
		key, err = s.fallbackKey()
		if err != nil {
			return 0, err
		}
	}

	if err := s.notifier.Show(ctx, Request{ID: key, Title: title, Message: message, FireAt: fireAt}); err != nil {
		return 0, err
	}
	s.logger.Info("reminder scheduled",
		zap.Int64("key", key),
		zap.Bool("fallback", key != noteID),
		zap.Time("fireAt", fireAt))
	return key, nil
}

// Reschedule moves a fallback-keyed registration onto a note's confirmed local
// id. The fallback registration is cancelled first so it does not fire twice;
// cancellation failures are logged and do not block the confirmed schedule.
func (s *Scheduler) Reschedule(ctx context.Context, fallbackKey, noteID int64, title, message string, fireAt time.Time) (int64, error) {
	if noteID <= 0 {
		return 0, fmt.Errorf("reminders: reschedule requires a confirmed note id")
	}
	if err := s.checkPermission(ctx); err != nil {
		return 0, err
	}

	if fallbackKey > 0 {
		if err := s.notifier.Cancel(ctx, fallbackKey); err != nil {
			s.logger.Warn("failed to cancel fallback reminder",
				zap.Int64("fallbackKey", fallbackKey),
				zap.Error(err))
		}
		s.release(fallbackKey)
	}

	if err := s.notifier.Show(ctx, Request{ID: noteID, Title: title, Message: message, FireAt: fireAt}); err != nil {
		return 0, err
	}
	s.logger.Info("reminder rescheduled",
		zap.Int64("fallbackKey", fallbackKey),
		zap.Int64("noteID", noteID))
	return noteID, nil
}

// Cancel revokes the registration for the given identity key, typically when
// the owning note is deleted.
func (s *Scheduler) Cancel(ctx context.Context, key int64) error {
	s.release(key)
	return s.notifier.Cancel(ctx, key)
}

// HandleActions registers the tap callback used to navigate back to a note.
func (s *Scheduler) HandleActions(fn func(noteID int64)) {
	s.notifier.OnActionTapped(fn)
}

func (s *Scheduler) checkPermission(ctx context.Context) error {
	granted, err := s.notifier.RequestPermission(ctx)
	if err != nil {
		return err
	}
	if !granted {
		return ErrPermissionDenied
	}
	return nil
}

func (s *Scheduler) fallbackKey() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for attempt := 0; attempt < maxFallbackDraws; attempt++ {
		key := FallbackKeyMin + s.randN(FallbackKeyMax-FallbackKeyMin)
		if _, taken := s.issued[key]; taken {
			continue
		}
		s.issued[key] = struct{}{}
		return key, nil
	}
	return 0, ErrFallbackKeysExhausted
}

func (s *Scheduler) release(key int64) {
	s.mu.Lock()
	delete(s.issued, key)
	s.mu.Unlock()
}

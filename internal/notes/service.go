package notes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mossline/fieldnotes/internal/attachments"
	"github.com/mossline/fieldnotes/internal/device"
	"github.com/mossline/fieldnotes/internal/reminders"
	"github.com/mossline/fieldnotes/internal/settings"
	"go.uber.org/zap"
)

const locationFixTimeout = 30 * time.Second

var errMissingLocalStore = errors.New("notes: local store is required")

// ServiceError tags a failure with the dotted operation code it occurred in.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opSaveNote    = "notes.save"
	opDeleteNote  = "notes.delete"
	opAttachPhoto = "notes.attach_photo"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Event describes a completed note flow, published for observers such as the
// HTTP event stream.
type Event struct {
	Type   string
	NoteID int64
	At     time.Time
}

// Event types emitted by the service.
const (
	EventNoteSaved   = "note-saved"
	EventNoteDeleted = "note-deleted"
)

// EventPublisher receives flow events. Implementations must not block.
type EventPublisher interface {
	Publish(event Event)
}

// ServiceConfig wires the collaborators of the note flows. Store is required;
// everything else degrades to a no-op when absent.
type ServiceConfig struct {
	Store       *Store
	Reconciler  *Reconciler
	Scheduler   *reminders.Scheduler
	Attachments *attachments.Store
	Settings    *settings.Store
	Geolocation device.Geolocation
	MediaPicker device.MediaPicker
	Permissions device.Permissions
	Events      EventPublisher
	Logger      *zap.Logger
	Clock       func() time.Time
}

// Service is the flow boundary for user-initiated note actions. Store and
// capability errors are converted to flow errors here and never terminate the
// process; there is no automatic retry.
type Service struct {
	store       *Store
	reconciler  *Reconciler
	scheduler   *reminders.Scheduler
	attachments *attachments.Store
	settings    *settings.Store
	geolocation device.Geolocation
	mediaPicker device.MediaPicker
	permissions device.Permissions
	events      EventPublisher
	logger      *zap.Logger
	clock       func() time.Time
}

// NewService constructs the note flow service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingLocalStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:       cfg.Store,
		reconciler:  cfg.Reconciler,
		scheduler:   cfg.Scheduler,
		attachments: cfg.Attachments,
		settings:    cfg.Settings,
		geolocation: cfg.Geolocation,
		mediaPicker: cfg.MediaPicker,
		permissions: cfg.Permissions,
		events:      cfg.Events,
		logger:      logger,
		clock:       clock,
	}, nil
}

// SaveRequest carries one save action. ID 0 means a new note. ReminderAt, when
// set, schedules a notification keyed by the post-save identity.
// CaptureLocation asks the geolocation collaborator for a fix before the
// write; an unavailable fix degrades to "no location", never a failure.
type SaveRequest struct {
	ID              int64
	Title           string
	Content         string
	CategoryID      int64
	Latitude        *float64
	Longitude       *float64
	ImagePath       string
	CaptureLocation bool
	ReminderAt      *time.Time
}

// SaveResult reports the saved note as read back from the local store, the
// reminder identity key when one was scheduled, and non-fatal warnings (mirror
// unavailable, reminder permission denied, location unavailable).
type SaveResult struct {
	Note        Note
	ReminderKey int64
	Mirrored    bool
	Warnings    []string
}

// SaveNote runs the full save flow: local write (identity confirmed first),
// mirror reconciliation, then reminder scheduling under the confirmed id. The
// local write is authoritative; a mirror failure leaves the local result
// standing and is reported as a warning.
func (s *Service) SaveNote(ctx context.Context, req SaveRequest) (SaveResult, error) {
	var result SaveResult

	if req.Title == "" {
		return result, newServiceError(opSaveNote, "missing_title", errors.New("a note requires a title"))
	}

	note := Note{
		ID:         req.ID,
		Title:      req.Title,
		Content:    req.Content,
		CategoryID: req.CategoryID,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		ImagePath:  req.ImagePath,
	}

	if req.CaptureLocation {
		if fix := s.captureLocation(ctx); fix != nil {
			note.Latitude = &fix.Latitude
			note.Longitude = &fix.Longitude
		} else {
			result.Warnings = append(result.Warnings, "location unavailable")
		}
	}

	id, err := s.store.SaveNote(ctx, &note)
	if err != nil {
		if errors.Is(err, ErrNoteNotFound) {
			return result, newServiceError(opSaveNote, "not_found", err)
		}
		return result, newServiceError(opSaveNote, "local_write", err)
	}

	// Read back the canonical record: updates preserve the original creation
	// timestamp, which the caller-supplied struct does not carry.
	saved, err := s.store.GetNote(ctx, id)
	if err != nil {
		return result, newServiceError(opSaveNote, "read_back", err)
	}
	result.Note = saved

	if s.reconciler != nil {
		if err := s.reconciler.SyncSave(ctx, saved); err != nil {
			s.logger.Warn("mirror reconciliation failed, local write stands",
				zap.Int64("noteID", id),
				zap.Error(err))
			result.Warnings = append(result.Warnings, "mirror unavailable")
		} else {
			result.Mirrored = true
		}
	}

	if req.ReminderAt != nil && s.scheduler != nil {
		message := saved.Content
		if message == "" {
			message = saved.Title
		}
		key, err := s.scheduler.Schedule(ctx, id, saved.Title, message, *req.ReminderAt)
		switch {
		case errors.Is(err, reminders.ErrPermissionDenied):
			result.Warnings = append(result.Warnings, "notification permission denied")
		case err != nil:
			s.logger.Warn("reminder scheduling failed",
				zap.Int64("noteID", id),
				zap.Error(err))
			result.Warnings = append(result.Warnings, "reminder not scheduled")
		default:
			result.ReminderKey = key
		}
	}

	if s.settings != nil {
		if err := s.settings.SetLastSelectedNoteID(ctx, id); err != nil {
			s.logger.Warn("failed to persist note selection", zap.Error(err))
		}
	}

	s.publish(Event{Type: EventNoteSaved, NoteID: id, At: s.clock().UTC()})
	return result, nil
}

// DeleteNote removes the note locally, deletes its attachment file when one
// exists, removes the remote mirror document, cancels any pending reminder and
// clears a matching persisted selection. Idempotent: deleting an absent note
// still sweeps the remote side and succeeds, but triggers none of the other
// side effects and publishes no event.
func (s *Service) DeleteNote(ctx context.Context, id int64) error {
	note, err := s.store.GetNote(ctx, id)
	if err != nil && !errors.Is(err, ErrNoteNotFound) {
		return newServiceError(opDeleteNote, "lookup", err)
	}
	existed := err == nil

	if existed {
		if deleteErr := s.store.DeleteNote(ctx, note); deleteErr != nil {
			return newServiceError(opDeleteNote, "local_delete", deleteErr)
		}
		if note.ImagePath != "" && s.attachments != nil {
			if removeErr := s.attachments.Remove(note.ImagePath); removeErr != nil {
				s.logger.Warn("failed to remove attachment file",
					zap.String("path", note.ImagePath),
					zap.Error(removeErr))
			}
		}
	}

	// A stray mirror document with this local id is removed even when no
	// local row existed; the mirror is derivable from the local store.
	if s.reconciler != nil {
		if syncErr := s.reconciler.SyncDelete(ctx, id); syncErr != nil {
			s.logger.Warn("mirror delete failed, document may linger",
				zap.Int64("noteID", id),
				zap.Error(syncErr))
		}
	}

	if !existed {
		return nil
	}

	if s.scheduler != nil {
		if cancelErr := s.scheduler.Cancel(ctx, id); cancelErr != nil {
			s.logger.Warn("failed to cancel reminder", zap.Int64("noteID", id), zap.Error(cancelErr))
		}
	}

	if s.settings != nil {
		if clearErr := s.settings.ClearLastSelectedNote(ctx, id); clearErr != nil {
			s.logger.Warn("failed to clear note selection", zap.Error(clearErr))
		}
	}

	s.publish(Event{Type: EventNoteDeleted, NoteID: id, At: s.clock().UTC()})
	return nil
}

// ListNotes returns all notes annotated with category names, newest first.
func (s *Service) ListNotes(ctx context.Context) ([]NoteWithCategory, error) {
	return s.store.ListNotesWithCategory(ctx)
}

// GetNote returns one note by id.
func (s *Service) GetNote(ctx context.Context, id int64) (Note, error) {
	return s.store.GetNote(ctx, id)
}

// ListCategories returns all categories in insertion order.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.store.ListCategories(ctx)
}

// SaveCategory inserts or updates a category.
func (s *Service) SaveCategory(ctx context.Context, category *Category) (int64, error) {
	return s.store.SaveCategory(ctx, category)
}

// DeleteCategory removes a category.
func (s *Service) DeleteCategory(ctx context.Context, category Category) error {
	return s.store.DeleteCategory(ctx, category)
}

// SaveAttachment copies an uploaded image stream into private storage and
// returns the stored path for use in a subsequent save.
func (s *Service) SaveAttachment(ctx context.Context, r io.Reader, name string) (string, error) {
	if s.attachments == nil {
		return "", newServiceError(opAttachPhoto, "unavailable", errors.New("attachment storage not configured"))
	}
	return s.attachments.Save(r, name)
}

// AttachPhoto captures or picks a photo through the media collaborator and
// stores it. A nil photo means the user cancelled; the empty path reports
// that.
func (s *Service) AttachPhoto(ctx context.Context, fromCamera bool) (string, error) {
	if s.mediaPicker == nil || s.attachments == nil {
		return "", newServiceError(opAttachPhoto, "unavailable", errors.New("media capture not configured"))
	}

	capability := device.CapabilityMediaLibrary
	if fromCamera {
		capability = device.CapabilityCamera
	}
	if !s.capabilityGranted(ctx, capability) {
		return "", newServiceError(opAttachPhoto, "permission_denied", device.ErrPermissionDenied)
	}

	var photo *device.Photo
	var err error
	if fromCamera {
		photo, err = s.mediaPicker.CapturePhoto(ctx)
	} else {
		photo, err = s.mediaPicker.PickPhoto(ctx)
	}
	if err != nil {
		return "", newServiceError(opAttachPhoto, "capture", err)
	}
	if photo == nil {
		return "", nil
	}
	defer photo.Reader.Close()

	return s.attachments.Save(photo.Reader, photo.Name)
}

// LastSelectedNoteID returns the persisted selection, settings.NoSelection
// when absent.
func (s *Service) LastSelectedNoteID(ctx context.Context) (int64, error) {
	if s.settings == nil {
		return settings.NoSelection, nil
	}
	return s.settings.LastSelectedNoteID(ctx)
}

// SetLastSelectedNoteID persists the selection.
func (s *Service) SetLastSelectedNoteID(ctx context.Context, id int64) error {
	if s.settings == nil {
		return nil
	}
	return s.settings.SetLastSelectedNoteID(ctx, id)
}

func (s *Service) captureLocation(ctx context.Context) *device.Coordinates {
	if s.geolocation == nil {
		return nil
	}
	if !s.capabilityGranted(ctx, device.CapabilityLocation) {
		return nil
	}
	fix, err := s.geolocation.Current(ctx, device.AccuracyMedium, locationFixTimeout)
	if err != nil {
		s.logger.Warn("geolocation fix failed", zap.Error(err))
		return nil
	}
	return fix
}

func (s *Service) capabilityGranted(ctx context.Context, capability device.Capability) bool {
	if s.permissions == nil {
		return true
	}
	granted, err := s.permissions.Check(ctx, capability)
	if err != nil {
		s.logger.Warn("permission check failed", zap.String("capability", string(capability)), zap.Error(err))
		return false
	}
	if granted {
		return true
	}
	granted, err = s.permissions.Request(ctx, capability)
	if err != nil {
		s.logger.Warn("permission request failed", zap.String("capability", string(capability)), zap.Error(err))
		return false
	}
	return granted
}

func (s *Service) publish(event Event) {
	if s.events != nil {
		s.events.Publish(event)
	}
}

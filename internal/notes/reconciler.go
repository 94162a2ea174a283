package notes

import (
	"context"
	"errors"
	"fmt"

	"github.com/mossline/fieldnotes/internal/mirror"
	"go.uber.org/zap"
)

var errMissingMirror = errors.New("notes: mirror store is required")

// Reconciler keeps the remote mirror document aligned with a local note after
// every local save and delete. The local store is the system of record; the
// mirror is derivable from it. The lookup-then-write protocol is not atomic,
// so two concurrent flows sharing one local id could double-create a document;
// the local store serializes identity-assigning inserts, which keeps that
// window out of normal operation.
type Reconciler struct {
	mirror mirror.Store
	logger *zap.Logger
}

// NewReconciler constructs a reconciler over the given mirror backend.
func NewReconciler(store mirror.Store, logger *zap.Logger) (*Reconciler, error) {
	if store == nil {
		return nil, errMissingMirror
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{mirror: store, logger: logger}, nil
}

// DocumentForNote builds the mirror representation of a local note. The note's
// id must already be assigned: the mirror must never see an identity that is
// not durably stored locally.
func DocumentForNote(note Note) mirror.Document {
	return mirror.Document{
		LocalID:          note.ID,
		Title:            note.Title,
		Content:          note.Content,
		CreatedAtSeconds: note.CreatedAtSeconds,
		CategoryID:       note.CategoryID,
		Latitude:         note.Latitude,
		Longitude:        note.Longitude,
		ImagePath:        note.ImagePath,
	}
}

// SyncSave runs after a successful local save: it looks up the mirror document
// for the note's confirmed local id and creates it when absent, or
// merge-updates it under the existing document key.
func (r *Reconciler) SyncSave(ctx context.Context, note Note) error {
	if note.ID == 0 {
		return fmt.Errorf("notes: cannot mirror a note without a local id")
	}

	existing, err := r.mirror.GetNoteByLocalID(ctx, note.ID)
	if err != nil && !errors.Is(err, mirror.ErrDocumentNotFound) {
		return err
	}

	doc := DocumentForNote(note)
	if errors.Is(err, mirror.ErrDocumentNotFound) {
		documentID, err := r.mirror.AddNote(ctx, doc)
		if err != nil {
			return err
		}
		r.logger.Debug("mirror document created",
			zap.Int64("noteID", note.ID),
			zap.String("documentID", documentID))
		return nil
	}

	if err := r.mirror.UpdateNote(ctx, existing.ID, doc); err != nil {
		return err
	}
	r.logger.Debug("mirror document updated",
		zap.Int64("noteID", note.ID),
		zap.String("documentID", existing.ID))
	return nil
}

// SyncDelete runs after a local delete: it removes the mirror document for the
// local id when one exists. An already-absent document is a no-op.
func (r *Reconciler) SyncDelete(ctx context.Context, localID int64) error {
	existing, err := r.mirror.GetNoteByLocalID(ctx, localID)
	if errors.Is(err, mirror.ErrDocumentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.mirror.DeleteNote(ctx, existing.ID)
}

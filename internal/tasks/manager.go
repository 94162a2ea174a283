// Package tasks runs the periodic background sweeps: re-pushing local notes to
// the mirror and pruning orphaned mirror documents and attachment files. The
// local store is authoritative, so the sweeps only ever repair the mirror and
// the attachment directory toward it.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mossline/fieldnotes/internal/attachments"
	"github.com/mossline/fieldnotes/internal/mirror"
	"github.com/mossline/fieldnotes/internal/notes"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("tasks: note store is required")
	errMissingReconciler = errors.New("tasks: reconciler is required")
	errMissingMirror     = errors.New("tasks: mirror store is required")
)

// ManagerConfig describes the sweep dependencies. Attachments may be nil, in
// which case the attachment sweep is skipped.
type ManagerConfig struct {
	Store       *notes.Store
	Reconciler  *notes.Reconciler
	Mirror      mirror.Store
	Attachments *attachments.Store
	Interval    time.Duration
	Logger      *zap.Logger
}

// Manager owns the cron schedule for the background sweeps.
type Manager struct {
	store       *notes.Store
	reconciler  *notes.Reconciler
	mirror      mirror.Store
	attachments *attachments.Store
	interval    time.Duration
	logger      *zap.Logger
	cron        *cron.Cron
}

// NewManager constructs the sweep manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Reconciler == nil {
		return nil, errMissingReconciler
	}
	if cfg.Mirror == nil {
		return nil, errMissingMirror
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Manager{
		store:       cfg.Store,
		reconciler:  cfg.Reconciler,
		mirror:      cfg.Mirror,
		attachments: cfg.Attachments,
		interval:    interval,
		logger:      logger,
		cron:        cron.New(),
	}, nil
}

// Start registers the sweeps and begins the schedule.
func (m *Manager) Start() error {
	spec := fmt.Sprintf("@every %s", m.interval)
	if _, err := m.cron.AddFunc(spec, m.runMirrorSweep); err != nil {
		return fmt.Errorf("tasks: register mirror sweep: %w", err)
	}
	if m.attachments != nil {
		if _, err := m.cron.AddFunc(spec, m.runAttachmentSweep); err != nil {
			return fmt.Errorf("tasks: register attachment sweep: %w", err)
		}
	}
	m.cron.Start()
	m.logger.Info("background sweeps started", zap.Duration("interval", m.interval))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (m *Manager) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

func (m *Manager) runMirrorSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := m.MirrorSweep(ctx); err != nil {
		m.logger.Warn("mirror sweep failed", zap.Error(err))
	}
}

func (m *Manager) runAttachmentSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := m.AttachmentSweep(ctx); err != nil {
		m.logger.Warn("attachment sweep failed", zap.Error(err))
	}
}

// MirrorSweep pushes every local note to the mirror and deletes mirror
// documents whose local id no longer exists. The mirror can be rebuilt from
// scratch this way after a backend swap.
func (m *Manager) MirrorSweep(ctx context.Context) error {
	listed, err := m.store.ListNotesWithCategory(ctx)
	if err != nil {
		return fmt.Errorf("tasks: list local notes: %w", err)
	}

	localIDs := make(map[int64]struct{}, len(listed))
	for _, entry := range listed {
		localIDs[entry.Note.ID] = struct{}{}
		if err := m.reconciler.SyncSave(ctx, entry.Note); err != nil {
			m.logger.Warn("mirror sweep could not push note",
				zap.Int64("noteID", entry.Note.ID),
				zap.Error(err))
		}
	}

	documents, err := m.mirror.ListNotes(ctx)
	if err != nil {
		return fmt.Errorf("tasks: list mirror documents: %w", err)
	}
	removed := 0
	for _, document := range documents {
		if _, ok := localIDs[document.LocalID]; ok {
			continue
		}
		if err := m.mirror.DeleteNote(ctx, document.ID); err != nil {
			m.logger.Warn("mirror sweep could not delete orphan document",
				zap.String("documentID", document.ID),
				zap.Error(err))
			continue
		}
		removed++
	}

	m.logger.Info("mirror sweep finished",
		zap.Int("localNotes", len(listed)),
		zap.Int("orphansRemoved", removed))
	return nil
}

// AttachmentSweep removes stored attachment files no note references.
func (m *Manager) AttachmentSweep(ctx context.Context) error {
	if m.attachments == nil {
		return nil
	}
	listed, err := m.store.ListNotesWithCategory(ctx)
	if err != nil {
		return fmt.Errorf("tasks: list local notes: %w", err)
	}
	referenced := make(map[string]struct{}, len(listed))
	for _, entry := range listed {
		if entry.Note.ImagePath != "" {
			referenced[entry.Note.ImagePath] = struct{}{}
		}
	}

	files, err := m.attachments.List()
	if err != nil {
		return fmt.Errorf("tasks: list attachment files: %w", err)
	}
	removed := 0
	for _, path := range files {
		if _, ok := referenced[path]; ok {
			continue
		}
		if err := m.attachments.Remove(path); err != nil {
			m.logger.Warn("attachment sweep could not remove file",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		removed++
	}

	m.logger.Info("attachment sweep finished",
		zap.Int("referenced", len(referenced)),
		zap.Int("removed", removed))
	return nil
}

package reminders

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// LogNotifier is the default delivery collaborator for deployments without a
// platform notification bridge: permission is always granted and registrations
// are logged. It keeps the tap callback so a bridge wired later in the process
// can forward events through it.
type LogNotifier struct {
	logger *zap.Logger

	mu     sync.Mutex
	tapped func(id int64)
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) RequestPermission(ctx context.Context) (bool, error) {
	return true, nil
}

func (n *LogNotifier) Show(ctx context.Context, req Request) error {
	n.logger.Info("notification registered",
		zap.Int64("id", req.ID),
		zap.String("title", req.Title),
		zap.Time("fireAt", req.FireAt))
	return nil
}

func (n *LogNotifier) Cancel(ctx context.Context, id int64) error {
	n.logger.Info("notification cancelled", zap.Int64("id", id))
	return nil
}

func (n *LogNotifier) OnActionTapped(fn func(id int64)) {
	n.mu.Lock()
	n.tapped = fn
	n.mu.Unlock()
}

// Tap simulates a user tapping the notification with the given identity key.
func (n *LogNotifier) Tap(id int64) {
	n.mu.Lock()
	fn := n.tapped
	n.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

package bribes

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type lifecycleStore interface {
	ShiftPendingPeriods(ctx context.Context, now time.Time) (int64, error)
	FinishExpiredBribes(ctx context.Context, now time.Time) (int64, error)
}

// Lifecycle hosts the epoch-boundary maintenance jobs.
type Lifecycle struct {
	store  lifecycleStore
	logger *zap.Logger
}

// NewLifecycle wires the maintenance jobs.
func NewLifecycle(st lifecycleStore, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{store: st, logger: logger}
}

// RollPending moves the epoch window of still-pending pledges one week
// forward, run at each epoch boundary.
func (l *Lifecycle) RollPending(ctx context.Context) error {
	n, err := l.store.ShiftPendingPeriods(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		l.logger.Info("pending bribes rolled forward", zap.Int64("count", n))
	}
	return nil
}

// StopExpired finishes active pledges whose epoch has ended.
func (l *Lifecycle) StopExpired(ctx context.Context) error {
	n, err := l.store.FinishExpiredBribes(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		l.logger.Info("expired bribes finished", zap.Int64("count", n))
	}
	return nil
}

package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// maxSweepBatches bounds one tick so a backlog cannot stall the loop for long.
const maxSweepBatches = 10

// RunCleanup sweeps expired records every interval until ctx is cancelled. A tick keeps
// deleting batches while they come back full.
func RunCleanup(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := sweep(ctx, store, now, batch)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Int("removed", removed), zap.Error(err))
			} else if removed > 0 {
				logger.Debug("idempotency cleanup", zap.Int("removed", removed))
			}
		}
	}
}

func sweep(ctx context.Context, store Store, now time.Time, batch int) (int, error) {
	total := 0
	for i := 0; i < maxSweepBatches; i++ {
		removed, err := store.CleanupExpired(ctx, now, batch)
		total += removed
		if err != nil || batch <= 0 || removed < batch {
			return total, err
		}
	}
	return total, nil
}

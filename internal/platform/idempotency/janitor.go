package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor periodically deletes expired records from a Store.
type Janitor struct {
	store     Store
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

// NewJanitor constructs a cleanup loop. Non-positive values fall back to an hourly sweep of 200 records.
func NewJanitor(store Store, interval time.Duration, batchSize int, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{store: store, interval: interval, batchSize: batchSize, logger: logger, now: time.Now}
}

// Sweep removes expired records until a batch comes back short.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		removed, err := j.store.CleanupExpired(ctx, j.now().UTC(), j.batchSize)
		total += removed
		if err != nil {
			return total, err
		}
		if removed < j.batchSize {
			return total, nil
		}
	}
}

// Run sweeps on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := j.Sweep(ctx)
			if err != nil {
				j.logger.Warn("idempotency cleanup failed", zap.Error(err), zap.Int("removed", removed))
				continue
			}
			if removed > 0 {
				j.logger.Debug("idempotency records removed", zap.Int("removed", removed))
			}
		}
	}
}

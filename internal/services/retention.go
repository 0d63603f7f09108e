package services

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTrashRetention is how long a soft-deleted generation stays restorable.
const DefaultTrashRetention = 10 * 24 * time.Hour

// Purger is implemented by LifecycleService.
type Purger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// RetentionSweeper purges generations whose trash window has ended.
type RetentionSweeper struct {
	purger    Purger
	retention time.Duration
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

func NewRetentionSweeper(p Purger, retention time.Duration, batchSize int, logger *slog.Logger) *RetentionSweeper {
	if retention <= 0 {
		retention = DefaultTrashRetention
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionSweeper{
		purger:    p,
		retention: retention,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Sweep purges in batches until a batch comes back short. A generation
// soft-deleted exactly one retention window ago is eligible.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	total := 0
	for {
		n, err := s.purger.PurgeExpired(ctx, cutoff, s.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.batchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	if total > 0 {
		s.logger.Info("expired trash purged", "generations", total, "cutoff", cutoff)
	}
	return total, nil
}

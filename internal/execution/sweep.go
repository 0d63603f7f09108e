package execution

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

// SweepTrashArgs triggers one retention sweep. Scheduled as a periodic job.
type SweepTrashArgs struct{}

func (SweepTrashArgs) Kind() string { return "sweep_trash" }

func (SweepTrashArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type SweepTrashWorker struct {
	river.WorkerDefaults[SweepTrashArgs]
	sweeper Sweeper
	logger  *slog.Logger
}

func NewSweepTrashWorker(s Sweeper, logger *slog.Logger) *SweepTrashWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepTrashWorker{sweeper: s, logger: logger}
}

func (w *SweepTrashWorker) Work(ctx context.Context, job *river.Job[SweepTrashArgs]) error {
	n, err := w.sweeper.Sweep(ctx)
	if err != nil {
		w.logger.Error("trash sweep failed", "job_id", job.ID, "purged", n, "error", err)
		return err
	}
	if n > 0 {
		w.logger.Info("trash sweep", "job_id", job.ID, "purged", n)
	}
	return nil
}

package execution

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

// ReconcileUnitsArgs fails units whose generate job river no longer holds,
// such as a job discarded after a crash on its last attempt.
type ReconcileUnitsArgs struct{}

func (ReconcileUnitsArgs) Kind() string { return "reconcile_units" }

func (ReconcileUnitsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

// ReconcileBatchSize bounds how many abandoned units one run resolves.
const ReconcileBatchSize = 100

type Reconciler interface {
	ReconcileAbandoned(ctx context.Context, limit int) (int, error)
}

type ReconcileUnitsWorker struct {
	river.WorkerDefaults[ReconcileUnitsArgs]
	reconciler Reconciler
	logger     *slog.Logger
}

func NewReconcileUnitsWorker(r Reconciler, logger *slog.Logger) *ReconcileUnitsWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileUnitsWorker{reconciler: r, logger: logger}
}

func (w *ReconcileUnitsWorker) Work(ctx context.Context, job *river.Job[ReconcileUnitsArgs]) error {
	n, err := w.reconciler.ReconcileAbandoned(ctx, ReconcileBatchSize)
	if err != nil {
		w.logger.Error("unit reconcile failed", "job_id", job.ID, "failed_units", n, "error", err)
		return err
	}
	if n > 0 {
		w.logger.Warn("abandoned units failed", "job_id", job.ID, "failed_units", n)
	}
	return nil
}

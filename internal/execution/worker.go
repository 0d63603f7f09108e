package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/inaiurai/studio/internal/models"
	"github.com/inaiurai/studio/internal/provider"
	"github.com/inaiurai/studio/internal/storage"
)

// GenerateJobArgs is one output unit of a generation. A batch of K outputs is K jobs.
type GenerateJobArgs struct {
	GenerationID uuid.UUID       `json:"generation_id"`
	AccountID    uuid.UUID       `json:"account_id"`
	MediaKind    models.Kind     `json:"kind"`
	Index        int             `json:"item_index"`
	Total        int             `json:"total_items"`
	Params       json.RawMessage `json:"params"`
}

func (GenerateJobArgs) Kind() string { return "generate_media" }

// UnitOutput is a persisted asset ready to be attached to its generation.
type UnitOutput struct {
	GenerationID uuid.UUID
	Index        int
	URL          string
	StorageKey   string
}

// Recorder is how the worker reports progress. Writes are keyed by
// (generation, index) so replays after a crash are no-ops.
type Recorder interface {
	UnitDone(ctx context.Context, generationID uuid.UUID, index int) (bool, error)
	MarkRunning(ctx context.Context, generationID uuid.UUID) error
	MarkDownloading(ctx context.Context, generationID uuid.UUID) error
	RecordUnitSuccess(ctx context.Context, out UnitOutput) error
	RecordUnitFailure(ctx context.Context, generationID uuid.UUID, index int, reason string) error
}

const (
	maxPollInterval = 30 * time.Second
	recordTimeout   = 15 * time.Second
)

type WorkerConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	RetryBase    time.Duration
	Logger       *slog.Logger
}

type GenerateWorker struct {
	river.WorkerDefaults[GenerateJobArgs]
	recorder Recorder
	provider provider.Provider
	store    storage.ObjectStore
	cfg      WorkerConfig
	logger   *slog.Logger
}

func NewGenerateWorker(rec Recorder, p provider.Provider, store storage.ObjectStore, cfg WorkerConfig) *GenerateWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateWorker{recorder: rec, provider: p, store: store, cfg: cfg, logger: logger}
}

// Timeout bounds a single attempt, including provider polling.
func (w *GenerateWorker) Timeout(*river.Job[GenerateJobArgs]) time.Duration {
	return w.cfg.Timeout
}

// NextRetry doubles the delay on each attempt: base, 2*base, 4*base...
func (w *GenerateWorker) NextRetry(job *river.Job[GenerateJobArgs]) time.Time {
	return time.Now().Add(RetryDelay(w.cfg.RetryBase, job.Attempt))
}

// RetryDelay is the backoff after a failed attempt (1-based).
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return base * time.Duration(1<<(attempt-1))
}

func (w *GenerateWorker) Work(ctx context.Context, job *river.Job[GenerateJobArgs]) error {
	args := job.Args
	log := w.logger.With("job_id", job.ID, "generation_id", args.GenerationID, "item_index", args.Index, "attempt", job.Attempt)

	done, err := w.recorder.UnitDone(ctx, args.GenerationID, args.Index)
	if errors.Is(err, models.ErrNotFound) {
		log.Info("generation gone, dropping job")
		return river.JobCancel(err)
	}
	if err != nil {
		return w.fail(ctx, job, log, fmt.Errorf("check unit: %w", err))
	}
	if done {
		return nil
	}
	if err := w.recorder.MarkRunning(ctx, args.GenerationID); err != nil {
		return w.fail(ctx, job, log, fmt.Errorf("mark running: %w", err))
	}

	out, err := w.produce(ctx, args)
	if err != nil {
		return w.fail(ctx, job, log, err)
	}

	err = w.recorder.RecordUnitSuccess(ctx, *out)
	if errors.Is(err, models.ErrNotFound) {
		// Purged while we were producing; the asset has no owner.
		if derr := w.store.Delete(context.WithoutCancel(ctx), out.StorageKey); derr != nil {
			log.Warn("delete orphaned asset", "error", derr)
		}
		return river.JobCancel(err)
	}
	if err != nil {
		// The success may have committed before the error surfaced, so the
		// asset is kept; a failure record for a resolved unit is a no-op.
		return w.fail(ctx, job, log, fmt.Errorf("record unit success: %w", err))
	}
	log.Info("unit completed")
	return nil
}

func (w *GenerateWorker) produce(ctx context.Context, args GenerateJobArgs) (*UnitOutput, error) {
	handle, err := w.provider.Submit(ctx, args.MediaKind, args.Params)
	if err != nil {
		return nil, err
	}
	if err := w.recorder.MarkDownloading(ctx, args.GenerationID); err != nil {
		return nil, err
	}
	res, err := w.await(ctx, handle)
	if err != nil {
		return nil, err
	}
	data, contentType := res.Data, res.ContentType
	if len(data) == 0 {
		if res.AssetURL == "" {
			return nil, fmt.Errorf("%w: provider returned no asset", provider.ErrTransient)
		}
		data, contentType, err = w.provider.Fetch(ctx, res.AssetURL)
		if err != nil {
			return nil, err
		}
	}
	key := storage.UnitKey(args.GenerationID, args.Index, contentType)
	url, err := w.store.Put(ctx, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: store asset: %v", provider.ErrTransient, err)
	}
	return &UnitOutput{GenerationID: args.GenerationID, Index: args.Index, URL: url, StorageKey: key}, nil
}

// await polls with a doubling interval until the job resolves or ctx ends.
func (w *GenerateWorker) await(ctx context.Context, handle string) (*provider.Result, error) {
	interval := w.cfg.PollInterval
	for {
		res, err := w.provider.Poll(ctx, handle)
		if err != nil {
			return nil, err
		}
		switch res.State {
		case provider.StateSucceeded:
			return res, nil
		case provider.StateFailed:
			if res.Retryable {
				return nil, fmt.Errorf("%w: %s", provider.ErrTransient, res.Error)
			}
			return nil, fmt.Errorf("%w: %s", provider.ErrFatal, res.Error)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", provider.ErrTransient, ctx.Err())
		case <-time.After(interval):
		}
		interval = min(interval*2, maxPollInterval)
	}
}

// fail records a terminal unit failure for fatal errors and for the last
// attempt; anything else goes back to river for a retry. If the failure
// cannot be recorded either, the unit stays pending until ReconcileUnitsWorker
// finds its job gone.
func (w *GenerateWorker) fail(ctx context.Context, job *river.Job[GenerateJobArgs], log *slog.Logger, cause error) error {
	fatal := provider.IsFatal(cause)
	if !fatal && job.Attempt < job.MaxAttempts {
		log.Warn("unit attempt failed, will retry", "error", cause)
		return cause
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	err := w.recorder.RecordUnitFailure(rctx, job.Args.GenerationID, job.Args.Index, cause.Error())
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("unit failed (%v) and recording the failure failed: %w", cause, err)
	}
	log.Error("unit failed terminally", "error", cause, "fatal", fatal)
	if fatal {
		return river.JobCancel(cause)
	}
	return cause
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/inaiurai/studio/internal/execution"
)

// ErrNotStarted is returned when jobs are enqueued before Start.
var ErrNotStarted = errors.New("job queue not started")

type Config struct {
	Concurrency int
	MaxAttempts int
	JobTimeout  time.Duration
	Logger      *slog.Logger
}

// Queue owns the river client. It is created before the services that
// enqueue into it and started once the workers that depend on those services
// exist.
type Queue struct {
	pool *pgxpool.Pool
	cfg  Config

	mu     sync.RWMutex
	client *river.Client[pgx.Tx]
}

func New(pool *pgxpool.Pool, cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{pool: pool, cfg: cfg}
}

// Migrate applies river's own schema migrations.
func (q *Queue) Migrate(ctx context.Context) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(q.pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	return nil
}

// Start creates the client with the given workers and periodic jobs and
// begins processing.
func (q *Queue) Start(ctx context.Context, workers *river.Workers, periodic []*river.PeriodicJob) error {
	client, err := river.NewClient(riverpgxv5.New(q.pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: q.cfg.Concurrency},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
		MaxAttempts:  q.cfg.MaxAttempts,
		JobTimeout:   q.cfg.JobTimeout,
		Logger:       q.cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	q.mu.Lock()
	q.client = client
	q.mu.Unlock()
	return client.Start(ctx)
}

// EnqueueGenerationTx inserts one job per unit in the caller's transaction.
func (q *Queue) EnqueueGenerationTx(ctx context.Context, tx pgx.Tx, jobs []execution.GenerateJobArgs) error {
	q.mu.RLock()
	client := q.client
	q.mu.RUnlock()
	if client == nil {
		return ErrNotStarted
	}
	if len(jobs) == 0 {
		return nil
	}
	if _, err := client.InsertManyTx(ctx, tx, insertParams(jobs, q.cfg.MaxAttempts)); err != nil {
		return fmt.Errorf("enqueue generation jobs: %w", err)
	}
	return nil
}

// Stop waits for running jobs to finish, up to ctx's deadline.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.RLock()
	client := q.client
	q.mu.RUnlock()
	if client == nil {
		return nil
	}
	return client.Stop(ctx)
}

func insertParams(jobs []execution.GenerateJobArgs, maxAttempts int) []river.InsertManyParams {
	params := make([]river.InsertManyParams, len(jobs))
	for i, j := range jobs {
		params[i] = river.InsertManyParams{
			Args:       j,
			InsertOpts: &river.InsertOpts{MaxAttempts: maxAttempts},
		}
	}
	return params
}

// SweepSchedule runs the trash sweep every interval, and once at startup.
func SweepSchedule(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return execution.SweepTrashArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}

// ReconcileSchedule fails abandoned units every interval.
func ReconcileSchedule(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return execution.ReconcileUnitsArgs{}, nil
		},
		nil,
	)
}

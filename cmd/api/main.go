package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/riverqueue/river"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/inaiurai/studio/internal/auth"
	"github.com/inaiurai/studio/internal/config"
	"github.com/inaiurai/studio/internal/database"
	"github.com/inaiurai/studio/internal/execution"
	"github.com/inaiurai/studio/internal/handlers"
	"github.com/inaiurai/studio/internal/ledger"
	"github.com/inaiurai/studio/internal/metrics"
	"github.com/inaiurai/studio/internal/notify"
	"github.com/inaiurai/studio/internal/provider"
	"github.com/inaiurai/studio/internal/queue"
	"github.com/inaiurai/studio/internal/repository"
	"github.com/inaiurai/studio/internal/router"
	"github.com/inaiurai/studio/internal/services"
	"github.com/inaiurai/studio/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("studio exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up", "error", err)
		return err
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database")

	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}
	jobQueue := queue.New(pool, queue.Config{
		Concurrency: cfg.WorkerConcurrency,
		MaxAttempts: cfg.JobMaxAttempts,
		JobTimeout:  cfg.JobTimeout,
		Logger:      logger,
	})
	if err := jobQueue.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("Migrations applied")

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, logger)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool))
	validator, err := services.NewValidator()
	if err != nil {
		return err
	}
	stores := services.Stores{
		Generations: repository.NewGenerationRepo(),
		Images:      repository.NewImageRepo(),
		Units:       repository.NewUnitRepo(),
	}
	opts := services.Options{
		Notifier:            notifier,
		Metrics:             m,
		LowBalanceThreshold: cfg.LowBalanceThreshold,
		Logger:              logger,
	}
	generations := services.NewGenerationService(pool, stores, ledgerSvc, jobQueue, validator, opts)
	lifecycle := services.NewLifecycleService(pool, stores, ledgerSvc, objects, opts)
	sweeper := services.NewRetentionSweeper(lifecycle, cfg.TrashRetention, cfg.SweepBatchSize, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewGenerateWorker(generations, provider.NewHTTPProvider(provider.HTTPConfig{
		BaseURL: cfg.ProviderBaseURL,
		APIKey:  cfg.ProviderAPIKey,
		Timeout: cfg.ProviderTimeout,
	}), objects, execution.WorkerConfig{
		PollInterval: cfg.ProviderPollInterval,
		Timeout:      cfg.JobTimeout,
		RetryBase:    cfg.JobRetryBase,
		Logger:       logger,
	}))
	river.AddWorker(workers, execution.NewSweepTrashWorker(sweeper, logger))
	river.AddWorker(workers, execution.NewReconcileUnitsWorker(generations, logger))

	// Stop drains running jobs; cancelling the Start context would abort them.
	if err := jobQueue.Start(context.WithoutCancel(ctx), workers, []*river.PeriodicJob{
		queue.SweepSchedule(cfg.SweepInterval),
		queue.ReconcileSchedule(cfg.ReconcileInterval),
	}); err != nil {
		return err
	}
	slog.Info("Job queue started", "workers", cfg.WorkerConcurrency)

	api := router.New(router.Deps{
		Auth:        auth.NewService(cfg.JWTSecret),
		Generations: &handlers.GenerationHandler{Generations: generations, Lifecycle: lifecycle, Logger: logger},
		Images:      &handlers.ImageHandler{Lifecycle: lifecycle, Logger: logger},
		Accounts: &handlers.AccountHandler{
			Accounts: repository.NewAccountRepo(pool),
			Credits:  repository.NewCreditRepo(pool),
			Logger:   logger,
		},
		DB:       pool,
		Gatherer: prometheus.DefaultGatherer,
	})

	mux := http.NewServeMux()
	mux.Handle("/", api)
	if cfg.StorageDriver == "fs" {
		mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.StoragePath))))
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(shutdownCtx)
		queueErr := jobQueue.Stop(shutdownCtx)
		return errors.Join(httpErr, queueErr)
	})
	return g.Wait()
}

func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.StorageDriver == "s3" {
		return storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicBaseURL:   cfg.StoragePublicBaseURL,
		})
	}
	return storage.NewFileStore(cfg.StoragePath, cfg.StoragePublicBaseURL)
}

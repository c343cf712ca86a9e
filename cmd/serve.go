package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/speedindex/pageaudit/internal/admission"
	"github.com/speedindex/pageaudit/internal/api"
	"github.com/speedindex/pageaudit/internal/audit"
	"github.com/speedindex/pageaudit/internal/auth"
	"github.com/speedindex/pageaudit/internal/clock/system"
	"github.com/speedindex/pageaudit/internal/collector"
	"github.com/speedindex/pageaudit/internal/collector/browser"
	"github.com/speedindex/pageaudit/internal/collector/weight"
	"github.com/speedindex/pageaudit/internal/config"
	"github.com/speedindex/pageaudit/internal/dispatcher"
	"github.com/speedindex/pageaudit/internal/id/uuid"
	"github.com/speedindex/pageaudit/internal/logging"
	"github.com/speedindex/pageaudit/internal/metrics"
	"github.com/speedindex/pageaudit/internal/scheduler"
	"github.com/speedindex/pageaudit/internal/worker"

	queueMemory "github.com/speedindex/pageaudit/internal/queue/memory"
	storageMemory "github.com/speedindex/pageaudit/internal/storage/memory"
)

// newServeCmd creates and configures the 'serve' subcommand, which runs the
// audit HTTP service until interrupted.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the audit HTTP service",
		Long: `Starts the HTTP API that accepts audit runs, the worker pool that
executes them, and the Prometheus metrics endpoint. The process shuts down
gracefully on SIGINT or SIGTERM.`,

		RunE: runServeCommand,
	}
	return cmd
}

func runServeCommand(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runStore := storageMemory.NewRunStore()
	resultStore := storageMemory.NewResultStore(cfg.ResultTTL())
	defer resultStore.Close()
	queue := queueMemory.NewQueue(cfg.Worker.QueueDepth)
	controller := admission.NewController(cfg.Admission.MaxAnonymous)
	clock := system.New()
	idGen := uuid.New()

	sched := scheduler.New(runStore, resultStore, queue, controller, idGen, clock, logger.Named("scheduler"))

	coll, cleanup, err := buildCollector(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var workers []*worker.Worker
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			sched,
			coll,
			worker.Config{RunTimeout: cfg.RunTimeout()},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(workers)

	validator := auth.NewValidator(cfg.Auth.AuthorizedKeys)
	apiServer := api.NewServer(validator, sched, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Worker.Concurrency))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
	return nil
}

// buildCollector assembles the configured audit collector. The fake collector
// serves smoke deployments where no Chrome binary is available.
func buildCollector(cfg config.Config, logger *zap.Logger) (audit.Collector, func(), error) {
	if cfg.Worker.Collector == "fake" {
		logger.Warn("using fake collector, audits return canned metrics")
		return &collector.Fake{}, func() {}, nil
	}

	browserCollector, err := browser.New(browser.Config{
		UserAgent:     cfg.Browser.UserAgent,
		MaxParallel:   cfg.Browser.MaxParallel,
		NavTimeout:    time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
		DomainQPS:     cfg.Browser.DomainQPS,
		DefaultDevice: cfg.Browser.DeviceDefault,
	}, logger.Named("browser"))
	if err != nil {
		return nil, nil, fmt.Errorf("init browser collector: %w", err)
	}

	weightCollector := weight.New(weight.Config{
		UserAgent: cfg.Browser.UserAgent,
		MaxAssets: cfg.Weight.MaxAssets,
		Timeout:   time.Duration(cfg.Weight.TimeoutSeconds) * time.Second,
	})

	pipeline := collector.NewPipeline(browserCollector, weightCollector, logger.Named("collector"))
	return pipeline, browserCollector.Close, nil
}

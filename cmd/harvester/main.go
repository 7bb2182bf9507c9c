// Package main wires together the contact harvester service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/api"
	"github.com/JakeFAU/contact-harvester/internal/clock/system"
	"github.com/JakeFAU/contact-harvester/internal/config"
	"github.com/JakeFAU/contact-harvester/internal/directory"
	"github.com/JakeFAU/contact-harvester/internal/dispatcher"
	"github.com/JakeFAU/contact-harvester/internal/enrich"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/id/uuid"
	"github.com/JakeFAU/contact-harvester/internal/logging"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
	"github.com/JakeFAU/contact-harvester/internal/orchestrator"
	queuemem "github.com/JakeFAU/contact-harvester/internal/queue/memory"
	"github.com/JakeFAU/contact-harvester/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the config")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load env file failed: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	runErr := run(ctx, cfg, logger)
	stop()

	if runErr != nil {
		logger.Error("harvester exited with error", zap.Error(runErr))
	}
	if syncErr := logger.Sync(); syncErr != nil {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	var closers cleanup
	defer closers.run(logger)

	stores, err := openStores(ctx, cfg, clock, &closers)
	if err != nil {
		return err
	}
	flags, err := openStopFlags(cfg, &closers)
	if err != nil {
		return err
	}
	blobs, err := openBlobStore(ctx, cfg, &closers)
	if err != nil {
		return err
	}
	hub, err := openEvents(ctx, cfg, logger, &closers)
	if err != nil {
		return err
	}
	browser, err := openBrowser(cfg, logger)
	if err != nil {
		return err
	}
	crawler, err := newEngine(cfg, browser, logger)
	if err != nil {
		return err
	}

	places := directory.New(directory.Config{
		APIKey:           cfg.Directory.APIKey,
		PlacesBaseURL:    cfg.Directory.PlacesBaseURL,
		PlacesNewBaseURL: cfg.Directory.PlacesNewBaseURL,
		GeocoderBaseURL:  cfg.Directory.GeocoderBaseURL,
		UserAgent:        cfg.Crawler.UserAgent,
		PageDelay:        cfg.PageDelay(),
		DetailsRPS:       cfg.Directory.DetailsRPS,
		HTTPTimeout:      time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
	}, stores.leads, logger.Named("directory"))
	if cfg.Directory.APIKey == "" {
		logger.Warn("directory api key is not set; directory jobs will fail")
	}

	registry := orchestrator.NewRegistry(flags, logger.Named("registry"))
	queue := queuemem.NewQueue(cfg.Orchestrator.QueueDepth)
	workerCfg := worker.Config{ArtifactPrefix: cfg.Artifacts.Prefix}

	runners := make([]dispatcher.Runner, 0, cfg.Orchestrator.Concurrency)
	var executor *worker.Worker
	for i := 0; i < cfg.Orchestrator.Concurrency; i++ {
		w := worker.New(
			queue,
			stores.jobs,
			crawler,
			places,
			registry,
			blobs,
			hub,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		)
		if executor == nil {
			executor = w
		}
		runners = append(runners, w)
	}
	pool := dispatcher.New(queue, runners, cfg.EnqueueTimeout(), logger.Named("dispatcher"))

	enricher := enrich.New(stores.leads, crawler, blobs, hub, clock, enrich.Config{
		MaxPages:       cfg.Crawler.BackfillMaxPages,
		ArtifactPrefix: cfg.Artifacts.Prefix,
	}, logger.Named("enrich"))

	orch := orchestrator.New(
		stores.jobs,
		stores.leads,
		registry,
		pool,
		executor,
		enricher,
		uuid.New(),
		clock,
		orchestrator.Config{
			MaxPagesDefault: cfg.Crawler.MaxPagesDefault,
			Directory: harvest.DirectoryParams{
				Radius:    cfg.Directory.RadiusDefault,
				PlaceType: cfg.Directory.PlaceTypeDefault,
				MaxPlaces: cfg.Directory.MaxPlacesDefault,
			},
		},
		logger.Named("orchestrator"),
	)
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	logger.Info("worker pool started",
		zap.Int("concurrency", cfg.Orchestrator.Concurrency),
		zap.Int("queue_depth", cfg.Orchestrator.QueueDepth),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("browser", cfg.Browser.Driver),
	)

	apiServer := api.NewServer(orch, cfg, logger.Named("api"), storeReady(stores.jobs))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var result error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-serveErr:
		if err != nil {
			result = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := orch.Close(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
	return result
}

// storeReady reports the job store as ready once it answers a trivial list.
func storeReady(jobs harvest.JobStore) api.ReadyCheck {
	return func(ctx context.Context) error {
		if _, err := jobs.ListJobs(ctx, harvest.JobFilter{Limit: 1}); err != nil {
			return fmt.Errorf("job store: %w", err)
		}
		return nil
	}
}

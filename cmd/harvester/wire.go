package main

import (
	"context"
	"fmt"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/config"
	"github.com/JakeFAU/contact-harvester/internal/engine"
	"github.com/JakeFAU/contact-harvester/internal/events"
	"github.com/JakeFAU/contact-harvester/internal/events/sinks"
	collyfetcher "github.com/JakeFAU/contact-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/contact-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/policy/ratelimit"
	kafkapublisher "github.com/JakeFAU/contact-harvester/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/contact-harvester/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/contact-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/contact-harvester/internal/sitemap"
	"github.com/JakeFAU/contact-harvester/internal/storage/gcs"
	"github.com/JakeFAU/contact-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/contact-harvester/internal/storage/memory"
	"github.com/JakeFAU/contact-harvester/internal/storage/postgres"
	redisstore "github.com/JakeFAU/contact-harvester/internal/storage/redis"
	"github.com/JakeFAU/contact-harvester/internal/storage/sqlite"
)

// cleanup runs release funcs in reverse registration order.
type cleanup []func(ctx context.Context) error

func (c *cleanup) add(fn func(ctx context.Context) error) {
	*c = append(*c, fn)
}

func (c cleanup) run(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](ctx); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}
}

type stores struct {
	jobs  harvest.JobStore
	leads harvest.LeadStore
}

func openStores(ctx context.Context, cfg config.Config, clock harvest.Clock, closers *cleanup) (stores, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Storage.SQLitePath, clock)
		if err != nil {
			return stores{}, fmt.Errorf("open sqlite store: %w", err)
		}
		closers.add(func(context.Context) error { return db.Close() })
		return stores{jobs: db, leads: db}, nil
	case "postgres":
		db, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxConns),
		}, clock)
		if err != nil {
			return stores{}, fmt.Errorf("open postgres store: %w", err)
		}
		closers.add(func(context.Context) error {
			db.Close()
			return nil
		})
		if err := db.Migrate(ctx); err != nil {
			return stores{}, fmt.Errorf("migrate postgres store: %w", err)
		}
		return stores{jobs: db, leads: db}, nil
	default:
		return stores{
			jobs:  memorystorage.NewJobStore(clock),
			leads: memorystorage.NewLeadStore(clock),
		}, nil
	}
}

// openStopFlags returns nil when the Redis mirror is disabled.
func openStopFlags(cfg config.Config, closers *cleanup) (harvest.StopFlags, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	flags, err := redisstore.New(redisstore.Config{
		Addr:   cfg.Redis.Addr,
		Prefix: cfg.Redis.Prefix,
		TTL:    time.Duration(cfg.Redis.TTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open redis stop flags: %w", err)
	}
	closers.add(func(context.Context) error { return flags.Close() })
	return flags, nil
}

// openBlobStore returns nil when artifacts are disabled.
func openBlobStore(ctx context.Context, cfg config.Config, closers *cleanup) (harvest.BlobStore, error) {
	switch cfg.Artifacts.Driver {
	case "memory":
		return memorystorage.NewBlobStore(), nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Artifacts.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local artifacts: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		closers.add(func(context.Context) error { return client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Artifacts.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs artifacts: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

func openEvents(ctx context.Context, cfg config.Config, logger *zap.Logger, closers *cleanup) (*events.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("register event metrics: %w", err)
	}
	hubSinks := []events.Sink{sinks.NewLogSink(logger.Named("events")), promSink}

	switch cfg.Events.Driver {
	case "memory":
		hubSinks = append(hubSinks, sinks.NewPublisherSink(memorypublisher.New(), cfg.Events.Topic, nil, logger))
	case "kafka":
		pub, err := kafkapublisher.New(cfg.Events.Brokers)
		if err != nil {
			return nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		hubSinks = append(hubSinks, sinks.NewPublisherSink(pub, cfg.Events.Topic, pub.Close, logger))
	case "pubsub":
		pub, err := pubsubpublisher.New(ctx, cfg.Events.ProjectID, cfg.Events.Topic)
		if err != nil {
			return nil, fmt.Errorf("create pubsub publisher: %w", err)
		}
		hubSinks = append(hubSinks, sinks.NewPublisherSink(pub, cfg.Events.Topic, pub.Close, logger))
	}

	hub := events.NewHub(events.Config{Logger: logger.Named("events")}, hubSinks...)
	closers.add(hub.Close)
	return hub, nil
}

func openBrowser(cfg config.Config, logger *zap.Logger) (harvest.Browser, error) {
	navTimeout := time.Duration(cfg.Browser.NavTimeoutSeconds) * time.Second
	if cfg.Browser.Driver == "http" {
		direct, err := collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   navTimeout,
		}, logger.Named("page_fetcher"))
		if err != nil {
			return nil, fmt.Errorf("create page fetcher: %w", err)
		}
		var tor harvest.Fetcher
		if cfg.Browser.TorProxy != "" {
			proxied, err := collyfetcher.New(collyfetcher.Config{
				UserAgent: cfg.Crawler.UserAgent,
				Timeout:   navTimeout,
				ProxyURL:  cfg.Browser.TorProxy,
			}, logger.Named("page_fetcher"))
			if err != nil {
				return nil, fmt.Errorf("create proxied page fetcher: %w", err)
			}
			tor = proxied
		}
		return collyfetcher.NewBrowser(direct, tor), nil
	}
	browser, err := headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.Browser.MaxParallel,
		UserAgent:         cfg.Crawler.UserAgent,
		NavigationTimeout: navTimeout,
		TorProxy:          cfg.Browser.TorProxy,
		ExecPath:          cfg.Browser.ExecPath,
	}, logger.Named("chromedp"))
	if err != nil {
		return nil, fmt.Errorf("create chromedp browser: %w", err)
	}
	return browser, nil
}

// newEngine assembles sitemap discovery, robots checks and per-site pacing
// around browser. Runs on the anonymizing network read robots.txt and
// sitemaps through the proxied document fetcher.
func newEngine(cfg config.Config, browser harvest.Browser, logger *zap.Logger) (*engine.Engine, error) {
	timeout := time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second
	direct, err := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   timeout,
	}, logger.Named("doc_fetcher"))
	if err != nil {
		return nil, fmt.Errorf("create document fetcher: %w", err)
	}
	docs := sitemap.Fetchers{Direct: direct}
	if cfg.Browser.TorProxy != "" {
		proxied, err := collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   timeout,
			ProxyURL:  cfg.Browser.TorProxy,
		}, logger.Named("doc_fetcher"))
		if err != nil {
			return nil, fmt.Errorf("create proxied document fetcher: %w", err)
		}
		docs.Tor = proxied
	}
	robots := sitemap.NewRobots(docs, cfg.Crawler.UserAgent, cfg.Crawler.RespectRobots, logger.Named("robots"))
	discoverer := sitemap.NewDiscoverer(docs, robots, sitemap.Config{
		MaxDepth: cfg.Crawler.SitemapMaxDepth,
		Fanout:   cfg.Crawler.SitemapFanout,
	}, logger.Named("sitemap"))
	pacer := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Crawler.PagesPerSecond, DefaultBurst: 1})
	return engine.New(discoverer, browser, logger.Named("engine"),
		engine.WithPacer(pacer),
		engine.WithRobots(robots),
	), nil
}

// Package app initializes and holds long-lived application services, acting
// as the dependency container shared by the CLI commands and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/config"
	"github.com/JakeFAU/sitecrawl/internal/crawler"
	"github.com/JakeFAU/sitecrawl/internal/engine"
	"github.com/JakeFAU/sitecrawl/internal/export"
	collyfetcher "github.com/JakeFAU/sitecrawl/internal/fetcher/colly"
	"github.com/JakeFAU/sitecrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/sitecrawl/internal/progress"
	"github.com/JakeFAU/sitecrawl/internal/progress/sinks"
	"github.com/JakeFAU/sitecrawl/internal/retry"
	"github.com/JakeFAU/sitecrawl/internal/robots"
	"github.com/JakeFAU/sitecrawl/internal/storage/gcs"
	"github.com/JakeFAU/sitecrawl/internal/storage/local"
	"github.com/JakeFAU/sitecrawl/internal/store"
	"github.com/JakeFAU/sitecrawl/internal/store/memory"
	"github.com/JakeFAU/sitecrawl/internal/store/postgres"
	"github.com/JakeFAU/sitecrawl/internal/store/sqlite"
)

// PageStore is a store the crawl writes to and search reads from.
type PageStore interface {
	crawler.PageStore
	crawler.PageLoader
}

// App holds the shared services built from configuration.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	fetcher  *collyfetcher.Fetcher
	limiter  *ratelimit.Limiter
	pages    PageStore
	blobs    crawler.BlobStore
	hub      *progress.Hub
	runs     store.RunRepository

	closers []func(context.Context) error
}

// Option customizes New.
type Option func(*options)

type options struct {
	sinks []progress.Sink
}

// WithSinks adds progress sinks next to the configured ones, e.g. the CLI's
// progress renderer.
func WithSinks(s ...progress.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s...) }
}

// New builds every service cfg asks for. It fails fast: a store or bucket that
// cannot be reached aborts startup.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.HTTP.Timeout,
		MaxBodySize: cfg.HTTP.MaxBodyBytes,
	})
	limiter, err := ratelimit.New(ratelimit.Config{
		RPS:        cfg.Crawler.RatePerHost,
		Burst:      cfg.Crawler.RateBurst,
		Registerer: a.registry,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	a.limiter = limiter

	sinkList := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink: %w", err)
	}
	sinkList = append(sinkList, promSink)

	runSink, err := a.openPageStore(ctx)
	if err != nil {
		_ = a.closeAll(ctx)
		return nil, err
	}
	if runSink != nil {
		sinkList = append(sinkList, runSink)
	}
	if err := a.openBlobStore(ctx); err != nil {
		_ = a.closeAll(ctx)
		return nil, err
	}
	pubSink, err := a.openPubSub(ctx)
	if err != nil {
		_ = a.closeAll(ctx)
		return nil, err
	}
	if pubSink != nil {
		sinkList = append(sinkList, pubSink)
	}
	sinkList = append(sinkList, o.sinks...)

	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("hub")}, sinkList...)
	return a, nil
}

func (a *App) openPageStore(ctx context.Context) (progress.Sink, error) {
	cfg := a.cfg.Store
	switch cfg.Driver {
	case config.StoreMemory, "":
		a.logger.Info("using in-memory page store; pages are lost on exit")
		a.pages = memory.NewPageStore()
		return nil, nil
	case config.StoreSQLite:
		a.logger.Info("using sqlite page store", zap.String("dsn", cfg.DSN))
		s, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.pages = s
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return nil, nil
	case config.StorePostgres:
		a.logger.Info("connecting to postgres page store")
		pool, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		pages, err := postgres.NewPageStoreWithPool(pool, cfg.PagesTable)
		if err != nil {
			return nil, err
		}
		runs, err := postgres.NewRunStoreWithPool(pool, cfg.RunsTable)
		if err != nil {
			return nil, err
		}
		if err := pages.Migrate(ctx); err != nil {
			return nil, err
		}
		if err := runs.Migrate(ctx); err != nil {
			return nil, err
		}
		a.pages = pages
		a.runs = runs
		return sinks.NewRunSink(runs, a.logger.Named("runs")), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

func (a *App) openBlobStore(ctx context.Context) error {
	cfg := a.cfg.Export
	switch cfg.Driver {
	case config.ExportNone, "":
		return nil
	case config.ExportLocal:
		s, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return fmt.Errorf("open local export: %w", err)
		}
		a.blobs = s
		return nil
	case config.ExportGCS:
		a.logger.Info("using gcs snapshot export", zap.String("bucket", cfg.Bucket))
		s, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix, VerifyBucket: true})
		if err != nil {
			return fmt.Errorf("open gcs export: %w", err)
		}
		a.blobs = s
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return nil
	default:
		return fmt.Errorf("unknown export driver: %s", cfg.Driver)
	}
}

func (a *App) openPubSub(ctx context.Context) (progress.Sink, error) {
	cfg := a.cfg.PubSub
	if !cfg.Enabled() {
		return nil, nil
	}
	a.logger.Info("publishing crawl events to pubsub", zap.String("topic", cfg.TopicName))
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	publisher := sinks.NewTopicPublisher(client.Topic(cfg.TopicName))
	popts := []sinks.PubSubOption{sinks.WithPubSubLogger(a.logger.Named("pubsub"))}
	if cfg.AllEvents {
		popts = append(popts, sinks.WithAllEvents())
	}
	return sinks.NewPubSubSink(publisher, popts...), nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Registry returns the Prometheus registry exposed on /metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Pages returns the configured page store.
func (a *App) Pages() PageStore { return a.pages }

// BlobStore returns the snapshot export target or nil when export is off.
func (a *App) BlobStore() crawler.BlobStore { return a.blobs }

// Runs returns the crawl run repository, nil unless the store is Postgres.
func (a *App) Runs() store.RunRepository { return a.runs }

// Hub returns the progress hub every crawl emits into.
func (a *App) Hub() *progress.Hub { return a.hub }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// CrawlOptions returns engine options for seed from the crawler defaults.
func (a *App) CrawlOptions(seed string) engine.Options {
	c := a.cfg.Crawler
	opts := engine.DefaultOptions()
	opts.SeedURL = seed
	opts.MaxPages = c.MaxPages
	opts.Workers = c.Workers
	opts.Timeout = a.cfg.HTTP.Timeout
	opts.SameDomainOnly = c.SameDomainOnly
	opts.RespectRobots = a.cfg.Robots.Respect
	opts.UserAgent = c.UserAgent
	opts.PolitenessDelay = c.PolitenessDelay
	opts.Jitter = c.Jitter
	opts.MaxRetries = a.cfg.HTTP.MaxRetries
	opts.StopTimeout = c.StopTimeout
	opts.PollInterval = c.PollInterval
	opts.BatchSize = a.cfg.Store.BatchSize
	return opts
}

// Deps returns fresh per-crawl collaborators. The robots gate is new for
// every crawl so its cache never outlives one run, and the retry policy
// follows opts.MaxRetries so a per-request override takes effect.
func (a *App) Deps(opts engine.Options) (engine.Deps, error) {
	return engine.Deps{
		Fetcher: a.fetcher,
		Robots: robots.New(robots.Config{
			Respect:   opts.RespectRobots,
			UserAgent: opts.UserAgent,
			Timeout:   a.cfg.Robots.Timeout,
			Client:    &http.Client{Transport: a.fetcher.Transport()},
			Logger:    a.logger.Named("robots"),
		}),
		Store:   a.pages,
		Limiter: a.limiter,
		Emitter: a.hub,
		Retry:   a.retryPolicy(opts.MaxRetries),
		Logger:  a.logger.Named("crawl"),
	}, nil
}

// retryPolicy uses the configured backoff bounds; zero retries disables them.
func (a *App) retryPolicy(maxRetries int) *retry.Policy {
	if maxRetries == 0 {
		maxRetries = -1
	}
	return retry.New(retry.Config{
		MaxRetries: maxRetries,
		BaseDelay:  a.cfg.HTTP.BackoffInitial,
		MaxDelay:   a.cfg.HTTP.BackoffMax,
	})
}

// Export writes snap to the blob store. It returns "" when export is off.
func (a *App) Export(ctx context.Context, snap crawler.Snapshot) (string, error) {
	if a.blobs == nil {
		return "", nil
	}
	uri, err := export.Snapshot(ctx, a.blobs, snap)
	if err != nil {
		return "", err
	}
	a.logger.Info("snapshot exported", zap.String("crawl_id", snap.ID), zap.String("uri", uri))
	return uri, nil
}

// Close flushes the hub and releases stores and clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, a.closeAll(ctx))
	return errors.Join(errs...)
}

func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

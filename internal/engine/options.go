// Package engine runs one domain-scoped crawl: a fixed worker pool pulling
// from a shared frontier, a lifecycle controller exposing start, pause,
// resume and stop, and a writer that streams page records to a store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/clock/system"
	"github.com/JakeFAU/sitecrawl/internal/crawler"
	collyfetcher "github.com/JakeFAU/sitecrawl/internal/fetcher/colly"
	"github.com/JakeFAU/sitecrawl/internal/frontier"
	"github.com/JakeFAU/sitecrawl/internal/hash/sha256"
	"github.com/JakeFAU/sitecrawl/internal/id/uuid"
	"github.com/JakeFAU/sitecrawl/internal/progress"
	"github.com/JakeFAU/sitecrawl/internal/retry"
	"github.com/JakeFAU/sitecrawl/internal/robots"
)

// DefaultUserAgent identifies the crawler to sites and robots.txt.
const DefaultUserAgent = "sitecrawl/1.0 (+https://github.com/JakeFAU/sitecrawl)"

// Limits on the worker pool size.
const (
	MinWorkers = 1
	MaxWorkers = 50
)

const (
	defaultWorkers     = 5
	defaultTimeout     = 15 * time.Second
	defaultStopTimeout = 5 * time.Second
	defaultBatchSize   = 25
	defaultFlushEvery  = 2 * time.Second
	defaultStoreWait   = 30 * time.Second
)

// Options describes a single crawl.
type Options struct {
	SeedURL         string
	MaxPages        int // 0 means unlimited
	Workers         int
	Timeout         time.Duration // per fetch
	SameDomainOnly  bool
	RespectRobots   bool
	UserAgent       string
	PolitenessDelay time.Duration
	// Jitter spreads PolitenessDelay uniformly over [0.5d, 1.5d).
	Jitter       bool
	MaxRetries   int
	PollInterval time.Duration
	StopTimeout  time.Duration
	BatchSize    int
	FlushEvery   time.Duration
	StoreTimeout time.Duration
}

// DefaultOptions returns the options used when a caller sets only a seed.
func DefaultOptions() Options {
	return Options{
		Workers:        defaultWorkers,
		Timeout:        defaultTimeout,
		SameDomainOnly: true,
		RespectRobots:  true,
		UserAgent:      DefaultUserAgent,
		MaxRetries:     retry.DefaultMaxRetries,
		PollInterval:   frontier.DefaultPollInterval,
		StopTimeout:    defaultStopTimeout,
		BatchSize:      defaultBatchSize,
		FlushEvery:     defaultFlushEvery,
		StoreTimeout:   defaultStoreWait,
	}
}

// Validate checks the numeric bounds. The seed is checked by Start so that an
// invalid seed still yields a finished snapshot carrying the error.
func (o Options) Validate() error {
	var errs []error
	if o.Workers < MinWorkers || o.Workers > MaxWorkers {
		errs = append(errs, fmt.Errorf("workers must be between %d and %d, got %d", MinWorkers, MaxWorkers, o.Workers))
	}
	if o.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("max_pages must be >= 0, got %d", o.MaxPages))
	}
	if o.Timeout < 0 || o.PolitenessDelay < 0 || o.StopTimeout < 0 {
		errs = append(errs, errors.New("durations must be >= 0"))
	}
	if o.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("batch_size must be >= 0, got %d", o.BatchSize))
	}
	return errors.Join(errs...)
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Workers == 0 {
		o.Workers = def.Workers
	}
	if o.Timeout == 0 {
		o.Timeout = def.Timeout
	}
	if o.UserAgent == "" {
		o.UserAgent = def.UserAgent
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.StopTimeout == 0 {
		o.StopTimeout = def.StopTimeout
	}
	if o.BatchSize == 0 {
		o.BatchSize = def.BatchSize
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = def.FlushEvery
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = def.StoreTimeout
	}
	return o
}

// Robots is the robots.txt view a crawl needs: an eager load for the seed
// host and per-URL checks.
type Robots interface {
	Load(ctx context.Context, rawURL string) (crawler.RobotsStatus, string)
	crawler.RobotsPolicy
}

// Deps carries the collaborators of a crawl. Only Fetcher is required when
// the defaults below are acceptable.
type Deps struct {
	Fetcher crawler.Fetcher
	// Robots defaults to a fresh robots.Gate per crawl.
	Robots Robots
	// Store is optional; when nil, records live only in the snapshot.
	Store   crawler.PageStore
	Limiter crawler.RateLimiter
	Hasher  crawler.Hasher
	Clock   crawler.Clock
	Emitter progress.Emitter
	IDs     crawler.IDGenerator
	Retry   *retry.Policy
	// HTTPClient is used by the default robots gate.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func (d Deps) withDefaults(opts Options) Deps {
	if d.Fetcher == nil {
		d.Fetcher = collyfetcher.New(collyfetcher.Config{UserAgent: opts.UserAgent, Timeout: opts.Timeout})
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.HTTPClient == nil {
		if cf, ok := d.Fetcher.(*collyfetcher.Fetcher); ok {
			d.HTTPClient = &http.Client{Transport: cf.Transport()}
		}
	}
	if d.Robots == nil {
		d.Robots = robots.New(robots.Config{
			Respect:   opts.RespectRobots,
			UserAgent: opts.UserAgent,
			Client:    d.HTTPClient,
			Logger:    d.Logger,
		})
	}
	if d.Hasher == nil {
		d.Hasher = sha256.New()
	}
	if d.Clock == nil {
		d.Clock = system.New()
	}
	if d.Emitter == nil {
		d.Emitter = progress.Nop{}
	}
	if d.IDs == nil {
		d.IDs = uuid.New()
	}
	if d.Retry == nil {
		maxRetries := opts.MaxRetries
		if maxRetries == 0 {
			maxRetries = -1
		}
		d.Retry = retry.New(retry.Config{MaxRetries: maxRetries})
	}
	return d
}

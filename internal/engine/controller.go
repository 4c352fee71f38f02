package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
	"github.com/JakeFAU/sitecrawl/internal/frontier"
	"github.com/JakeFAU/sitecrawl/internal/progress"
)

// ErrStopTimeout is returned by Stop when workers do not exit in time. The
// crawl is still marked stopped.
var ErrStopTimeout = errors.New("crawl stop timed out")

// Controller owns one crawl and is its stop handle. All methods are safe for
// concurrent use.
type Controller struct {
	opts   Options
	deps   Deps
	id     uuid.UUID
	logger *zap.Logger

	mu       sync.Mutex
	state    crawler.State
	snap     crawler.Snapshot
	reserved int
	crawled  int
	current  string
	resumeCh chan struct{}
	cancel   context.CancelFunc
	site     string
	seed     string

	frontier *frontier.Frontier
	scope    *crawler.Scope
	pages    chan crawler.PageRecord

	done       chan struct{}
	doneOnce   sync.Once
	budget     chan struct{}
	budgetOnce sync.Once
}

// New validates opts and builds an idle Controller.
func New(opts Options, deps Deps) (*Controller, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl options: %w", err)
	}
	deps = deps.withDefaults(opts)
	id, err := deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("crawl id: %w", err)
	}
	return &Controller{
		opts:   opts,
		deps:   deps,
		id:     id,
		logger: deps.Logger.With(zap.String("crawl_id", id.String())),
		state:  crawler.StateIdle,
		snap:   crawler.NewSnapshot(id.String(), opts.SeedURL),
		done:   make(chan struct{}),
		budget: make(chan struct{}),
	}, nil
}

// ID returns the crawl identifier.
func (c *Controller) ID() uuid.UUID {
	return c.id
}

// Options returns the effective options.
func (c *Controller) Options() Options {
	return c.opts
}

// Start launches the crawl in the background. It is a no-op while the crawl is
// running or paused and returns crawler.ErrCrawlDone once it has ended. An
// invalid seed finishes the crawl immediately and is returned wrapped in
// crawler.ErrInvalidSeed.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state == crawler.StateRunning || c.state == crawler.StatePaused:
		c.mu.Unlock()
		return nil
	case c.state.Terminal():
		c.mu.Unlock()
		return crawler.ErrCrawlDone
	}

	seed, scope, err := parseSeed(c.opts.SeedURL)
	now := c.deps.Clock.Now()
	c.snap.StartedAt = now
	if err != nil {
		err = fmt.Errorf("%w: %w", crawler.ErrInvalidSeed, err)
		c.state = crawler.StateFinished
		c.snap.State = crawler.StateFinished
		c.snap.Finished = true
		c.snap.Error = err.Error()
		c.snap.FinishedAt = now
		c.snap.Timestamp = now
		c.mu.Unlock()
		c.logger.Warn("crawl rejected", zap.String("seed", c.opts.SeedURL), zap.Error(err))
		c.emitTerminal(progress.StageCrawlError, err.Error(), 0)
		c.closeDone()
		return err
	}

	crawlCtx, cancel := context.WithCancel(ctx)
	c.seed = seed
	c.scope = scope
	c.site = hostOf(seed)
	c.snap.StartURL = seed
	c.frontier = frontier.New(frontier.DiscoveryLimit(c.opts.MaxPages, c.opts.Workers))
	_, target, _ := crawler.ResolveLinkTarget(nil, c.opts.SeedURL)
	c.frontier.EnqueueTarget(seed, target)
	c.cancel = cancel
	c.state = crawler.StateRunning
	c.snap.State = crawler.StateRunning
	c.mu.Unlock()

	status, reason := c.deps.Robots.Load(crawlCtx, seed)
	c.mu.Lock()
	c.snap.RobotsStatus = status
	c.mu.Unlock()
	c.logger.Info("crawl started",
		zap.String("seed", seed),
		zap.Int("max_pages", c.opts.MaxPages),
		zap.Int("workers", c.opts.Workers),
		zap.String("robots", string(status)),
		zap.String("robots_reason", reason),
	)
	c.deps.Emitter.Emit(c.event(progress.StageCrawlStart, func(e *progress.Event) {
		e.URL = seed
	}))

	go c.run(crawlCtx)
	return nil
}

// Pause stops workers from pulling new URLs. In-flight fetches complete.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != crawler.StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = crawler.StatePaused
	c.snap.State = crawler.StatePaused
	c.resumeCh = make(chan struct{})
	c.mu.Unlock()
	c.logger.Info("crawl paused")
	c.deps.Emitter.Emit(c.event(progress.StageCrawlPaused, nil))
}

// Resume lets paused workers continue.
func (c *Controller) Resume() {
	c.mu.Lock()
	if c.state != crawler.StatePaused {
		c.mu.Unlock()
		return
	}
	c.state = crawler.StateRunning
	c.snap.State = crawler.StateRunning
	close(c.resumeCh)
	c.resumeCh = nil
	c.mu.Unlock()
	c.logger.Info("crawl resumed")
	c.deps.Emitter.Emit(c.event(progress.StageCrawlResumed, nil))
}

// Stop ends the crawl, cancelling in-flight fetches, and waits up to the stop
// timeout (or ctx) for the workers to exit. Stopping an ended crawl is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state.Terminal():
		c.mu.Unlock()
		return nil
	case c.state == crawler.StateIdle:
		now := c.deps.Clock.Now()
		c.markStopped(now)
		c.snap.FinishedAt = now
		c.snap.Timestamp = now
		c.mu.Unlock()
		c.closeDone()
		return nil
	}
	c.markStopped(c.deps.Clock.Now())
	if c.resumeCh != nil {
		close(c.resumeCh)
		c.resumeCh = nil
	}
	cancel := c.cancel
	c.mu.Unlock()

	c.logger.Info("crawl stop requested")
	cancel()

	timer := time.NewTimer(c.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return nil
	case <-timer.C:
		c.logger.Warn("workers did not exit before stop timeout", zap.Duration("timeout", c.opts.StopTimeout))
		return ErrStopTimeout
	case <-ctx.Done():
		return fmt.Errorf("crawl stop: %w", ctx.Err())
	}
}

// must hold c.mu
func (c *Controller) markStopped(now time.Time) {
	c.state = crawler.StateStopped
	c.snap.State = crawler.StateStopped
	c.snap.Stopped = true
	if c.snap.FinishedAt.IsZero() {
		c.snap.FinishedAt = now
	}
}

// Wait blocks until the crawl ends or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("crawl wait: %w", ctx.Err())
	}
}

// Done closes once the crawl has ended and its terminal event was emitted.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Progress returns a consistent point-in-time view.
func (c *Controller) Progress() crawler.Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return crawler.Progress{
		ID:           c.snap.ID,
		PagesCrawled: c.crawled,
		Discovered:   c.discoveredLocked(),
		MaxPages:     c.opts.MaxPages,
		CurrentURL:   c.current,
		State:        c.state,
		Running:      c.state == crawler.StateRunning,
		Paused:       c.state == crawler.StatePaused,
		Finished:     c.state == crawler.StateFinished,
		Stopped:      c.state == crawler.StateStopped,
		Error:        c.snap.Error,
	}
}

// Result returns a deep copy of the snapshot: complete once finished, partial
// while running or after a stop.
func (c *Controller) Result() crawler.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.snap.Clone()
	snap.State = c.state
	snap.Discovered = c.discoveredLocked()
	return snap
}

func (c *Controller) discoveredLocked() int {
	if c.frontier == nil {
		return c.snap.Discovered
	}
	return c.frontier.SeenCount()
}

func (c *Controller) event(stage progress.Stage, fill func(*progress.Event)) progress.Event {
	c.mu.Lock()
	evt := progress.Event{
		CrawlID:      c.id,
		TS:           c.deps.Clock.Now(),
		Stage:        stage,
		Site:         c.site,
		PagesCrawled: c.crawled,
		Discovered:   c.discoveredLocked(),
		MaxPages:     c.opts.MaxPages,
	}
	c.mu.Unlock()
	if fill != nil {
		fill(&evt)
	}
	return evt
}

// emitTerminal delivers the final event with a bounded blocking send.
func (c *Controller) emitTerminal(stage progress.Stage, note string, dur time.Duration) {
	evt := c.event(stage, func(e *progress.Event) {
		e.Note = note
		e.Dur = dur
		if e.URL == "" {
			e.URL = c.opts.SeedURL
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
	defer cancel()
	if err := c.deps.Emitter.EmitWait(ctx, evt); err != nil {
		c.logger.Warn("terminal progress event not delivered", zap.String("stage", string(stage)), zap.Error(err))
	}
}

func (c *Controller) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Controller) budgetReached() {
	c.budgetOnce.Do(func() { close(c.budget) })
}

// finalize runs once the pool and the writer have exited.
func (c *Controller) finalize() {
	now := c.deps.Clock.Now()
	c.mu.Lock()
	if c.state != crawler.StateStopped {
		c.state = crawler.StateFinished
		c.snap.State = crawler.StateFinished
		c.snap.Finished = true
		c.snap.FinishedAt = now
	}
	c.snap.Timestamp = now
	c.snap.Discovered = c.frontier.SeenCount()
	c.snap.Links = pruneLinks(c.snap.Links, c.snap.Pages)
	summary := c.snap.Summary()
	stage := progress.StageCrawlDone
	switch {
	case c.state == crawler.StateStopped:
		stage = progress.StageCrawlStopped
	case c.snap.Error != "":
		stage = progress.StageCrawlError
	}
	runtime := now.Sub(c.snap.StartedAt)
	store := c.snap.Store
	c.mu.Unlock()

	c.logger.Info("crawl summary",
		zap.String("start_url", summary.StartURL),
		zap.Int("crawled", summary.Crawled),
		zap.Int("discovered", summary.Discovered),
		zap.String("state", string(summary.State)),
		zap.String("error", summary.Error),
		zap.Int("store_inserted", store.Inserted),
		zap.Int("store_updated", store.Updated),
		zap.Int("store_errors", len(store.Errors)),
		zap.Duration("runtime", runtime),
	)
	c.emitTerminal(stage, summary.Error, runtime)
	c.closeDone()
}

// pruneLinks keeps link-graph entries only for committed pages.
func pruneLinks(links map[string][]string, pages map[string]crawler.PageRecord) map[string][]string {
	for k := range links {
		if _, ok := pages[k]; !ok {
			delete(links, k)
		}
	}
	return links
}

func parseSeed(raw string) (string, *crawler.Scope, error) {
	if raw == "" {
		return "", nil, errors.New("seed url is empty")
	}
	seed, err := crawler.NormalizeURL(raw)
	if err != nil {
		return "", nil, err
	}
	scope, err := crawler.NewScope(seed)
	if err != nil {
		return "", nil, err
	}
	return seed, scope, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

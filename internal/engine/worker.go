package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
	"github.com/JakeFAU/sitecrawl/internal/extract"
	"github.com/JakeFAU/sitecrawl/internal/frontier"
	"github.com/JakeFAU/sitecrawl/internal/progress"
	"github.com/JakeFAU/sitecrawl/internal/retry"
)

// run drives the pool until the frontier drains, the page budget is spent or
// the crawl context is cancelled, then flushes the writer and finalizes.
func (c *Controller) run(ctx context.Context) {
	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	var writerDone chan struct{}
	if c.deps.Store != nil {
		c.pages = make(chan crawler.PageRecord, c.opts.BatchSize*2)
		writerDone = make(chan struct{})
		go func() {
			defer close(writerDone)
			c.write(ctx)
		}()
	}

	go func() {
		select {
		case <-c.frontier.Drained():
			c.logger.Debug("frontier drained")
		case <-c.budget:
			c.logger.Debug("page budget reached", zap.Int("max_pages", c.opts.MaxPages))
		case <-workCtx.Done():
		}
		cancelWork()
	}()

	g, gctx := errgroup.WithContext(workCtx)
	for i := 0; i < c.opts.Workers; i++ {
		w := &worker{c: c, logger: c.logger.Named("worker").With(zap.Int("worker", i))}
		g.Go(func() error {
			w.loop(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Error("worker pool failed", zap.Error(err))
	}

	if c.pages != nil {
		close(c.pages)
		<-writerDone
	}
	c.finalize()
}

type worker struct {
	c         *Controller
	logger    *zap.Logger
	lastFetch time.Time
}

func (w *worker) loop(ctx context.Context) {
	c := w.c
	for {
		if !c.waitWhilePaused(ctx) {
			return
		}
		entry, ok := c.frontier.Dequeue(ctx, c.opts.PollInterval)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-c.frontier.Drained():
				return
			default:
			}
			continue
		}
		if c.paused() {
			c.frontier.Requeue(entry)
			c.frontier.Done()
			continue
		}
		w.handle(ctx, entry)
	}
}

// handle processes one entry, turning a panic into a degraded record.
func (w *worker) handle(ctx context.Context, entry frontier.Entry) {
	c := w.c
	reserved := false
	defer c.frontier.Done()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		w.logger.Error("worker panic recovered",
			zap.String("url", entry.URL),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
		if !reserved && !c.reserve() {
			return
		}
		err := crawler.NewPageError(crawler.ErrPanic, entry.URL, fmt.Errorf("%v", r))
		c.commit(failedRecord(entry, c.deps.Clock.Now(), 0, err), nil, 0)
	}()

	if !c.deps.Robots.Allowed(ctx, entry.FetchURL()) {
		w.logger.Debug("blocked by robots.txt", zap.String("url", entry.URL))
		return
	}
	if c.opts.SameDomainOnly && !c.scope.InScope(entry.URL) {
		return
	}
	if !c.reserve() {
		return
	}
	reserved = true

	if err := w.polite(ctx, entry.URL); err != nil {
		c.release()
		reserved = false
		return
	}

	fetchedAt := c.deps.Clock.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	resp, err := c.deps.Fetcher.Fetch(fetchCtx, crawler.FetchRequest{
		URL:           entry.FetchURL(),
		Attempt:       entry.Attempt,
		CheckRedirect: c.redirectGuard(ctx),
	})
	cancel()
	w.lastFetch = c.deps.Clock.Now()

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			c.release()
			reserved = false
			return
		}
		if c.deps.Retry.ShouldRetry(err, entry.Attempt) {
			c.release()
			reserved = false
			backoff := c.deps.Retry.Backoff(entry.Attempt)
			w.logger.Debug("retrying fetch",
				zap.String("url", entry.URL),
				zap.Int("attempt", entry.Attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			if c.deps.Clock.Sleep(ctx, backoff) != nil {
				return
			}
			c.frontier.Requeue(frontier.Entry{URL: entry.URL, Target: entry.Target, Attempt: entry.Attempt + 1})
			return
		}
		var pageErr *crawler.PageError
		if !errors.As(err, &pageErr) {
			err = crawler.NewPageError(crawler.ErrNetwork, entry.URL, err)
		}
		w.logger.Warn("fetch failed", zap.String("url", entry.URL), zap.Int("attempts", entry.Attempt+1), zap.Error(err))
		if entry.URL == c.seed {
			c.setError(fmt.Errorf("%w: %w", crawler.ErrSeedUnreachable, err))
		}
		c.commit(failedRecord(entry, fetchedAt, c.deps.Clock.Now().Sub(fetchedAt), err), nil, 0)
		return
	}

	rec, links := w.record(entry, fetchedAt, resp)
	c.commit(rec, links, int64(len(resp.Body)))
}

// redirectGuard refuses redirect targets the crawl would not fetch directly:
// hosts outside the scope and paths robots.txt disallows.
func (c *Controller) redirectGuard(ctx context.Context) func(string) error {
	return func(target string) error {
		if c.opts.SameDomainOnly && !c.scope.InScope(target) {
			return crawler.NewPageError(crawler.ErrRedirectBlocked, target, errors.New("outside crawl scope"))
		}
		if !c.deps.Robots.Allowed(ctx, target) {
			return crawler.NewPageError(crawler.ErrRedirectBlocked, target, errors.New("disallowed by robots.txt"))
		}
		return nil
	}
}

// record turns a response into a page record plus the in-scope links to queue.
// Links resolve against the address actually served, trailing slash included.
func (w *worker) record(entry frontier.Entry, fetchedAt time.Time, resp crawler.FetchResponse) (crawler.PageRecord, []frontier.Entry) {
	c := w.c
	rec := crawler.PageRecord{
		URL:         entry.URL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType(),
		FetchedAt:   fetchedAt,
		Latency:     resp.Duration,
		Attempts:    entry.Attempt + 1,
	}
	pageURL := entry.FetchURL()
	if resp.FinalURL != "" {
		if final, err := crawler.NormalizeURL(resp.FinalURL); err == nil {
			pageURL = resp.FinalURL
			if final != entry.URL {
				rec.FinalURL = final
				if !c.opts.SameDomainOnly || c.scope.InScope(final) {
					c.frontier.MarkSeen(final)
				}
			}
		}
	}

	switch {
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		setError(&rec, crawler.NewPageError(crawler.ErrHTTPStatus, entry.URL, fmt.Errorf("status %d", resp.StatusCode)))
		return rec, nil
	case !extract.IsHTML(rec.ContentType):
		setError(&rec, crawler.NewPageError(crawler.ErrUnsupportedContent, entry.URL, fmt.Errorf("content type %q", rec.ContentType)))
		return rec, nil
	}

	res, err := extract.Page(pageURL, resp.Body)
	if err != nil {
		w.logger.Debug("page parsed with errors", zap.String("url", entry.URL), zap.Error(err))
		setError(&rec, err)
	}
	rec.Title = res.Title
	rec.MetaDescription = res.MetaDescription
	rec.Canonical = res.Canonical
	rec.Headings = res.Headings
	rec.Images = res.Images
	rec.OutboundLinks = res.Links
	rec.BodyText = res.Text
	rec.WordCount = res.WordCount
	rec.Indexable = res.Indexable
	if hash, err := c.deps.Hasher.Hash([]byte(res.Text)); err == nil {
		rec.ContentHash = hash
	}

	var queue []frontier.Entry
	for _, link := range res.Links {
		if c.opts.SameDomainOnly && !c.scope.InScope(link) {
			continue
		}
		queue = append(queue, frontier.Entry{URL: link, Target: res.Targets[link]})
	}
	return rec, queue
}

// polite waits out the politeness delay since this worker's last fetch and
// then the per-host limiter.
func (w *worker) polite(ctx context.Context, rawURL string) error {
	c := w.c
	if d := c.opts.PolitenessDelay; d > 0 && !w.lastFetch.IsZero() {
		if c.opts.Jitter {
			d = d/2 + retry.Jitter(d)
		}
		if wait := d - c.deps.Clock.Now().Sub(w.lastFetch); wait > 0 {
			if err := c.deps.Clock.Sleep(ctx, wait); err != nil {
				return fmt.Errorf("politeness delay: %w", err)
			}
		}
	}
	if c.deps.Limiter != nil {
		if err := c.deps.Limiter.Wait(ctx, rawURL); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	return nil
}

func failedRecord(entry frontier.Entry, at time.Time, latency time.Duration, err error) crawler.PageRecord {
	rec := crawler.PageRecord{
		URL:       entry.URL,
		FetchedAt: at,
		Latency:   latency,
		Attempts:  entry.Attempt + 1,
	}
	setError(&rec, err)
	return rec
}

func setError(rec *crawler.PageRecord, err error) {
	rec.Error = err.Error()
	rec.ErrorKind = crawler.KindName(err)
}

func (c *Controller) waitWhilePaused(ctx context.Context) bool {
	for {
		c.mu.Lock()
		ch := c.resumeCh
		paused := c.state == crawler.StatePaused
		c.mu.Unlock()
		if !paused || ch == nil {
			return ctx.Err() == nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}

func (c *Controller) paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == crawler.StatePaused
}

// reserve claims one slot of the page budget.
func (c *Controller) reserve() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == crawler.StateStopped {
		return false
	}
	if c.opts.MaxPages > 0 && c.reserved >= c.opts.MaxPages {
		return false
	}
	c.reserved++
	return true
}

func (c *Controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reserved > 0 {
		c.reserved--
	}
}

func (c *Controller) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.Error == "" {
		c.snap.Error = err.Error()
	}
}

// commit publishes a record under a reserved slot: snapshot, progress event,
// store writer and finally the discovered links.
func (c *Controller) commit(rec crawler.PageRecord, links []frontier.Entry, size int64) {
	c.mu.Lock()
	c.snap.Pages[rec.URL] = rec
	if rec.OutboundLinks != nil {
		c.snap.Links[rec.URL] = append([]string(nil), rec.OutboundLinks...)
	}
	c.crawled++
	c.current = rec.URL
	crawled := c.crawled
	c.mu.Unlock()

	for _, link := range links {
		c.frontier.EnqueueTarget(link.URL, link.Target)
	}

	c.deps.Emitter.Emit(c.event(progress.StagePageDone, func(e *progress.Event) {
		e.URL = rec.URL
		e.StatusCode = rec.StatusCode
		e.StatusClass = progress.ClassifyStatus(rec.StatusCode)
		e.Bytes = size
		e.Dur = rec.Latency
		e.Note = rec.ErrorKind
	}))

	if c.pages != nil {
		c.pages <- rec.Clone()
	}
	if c.opts.MaxPages > 0 && crawled >= c.opts.MaxPages {
		c.budgetReached()
	}
}

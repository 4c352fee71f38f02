package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
)

// write batches committed records into the page store until c.pages closes.
// Upserts run detached from crawl cancellation so a stopped crawl still
// persists what it committed.
func (c *Controller) write(ctx context.Context) {
	storeCtx := context.WithoutCancel(ctx)
	batch := make([]crawler.PageRecord, 0, c.opts.BatchSize)
	ticker := time.NewTicker(c.opts.FlushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.upsert(storeCtx, batch)
		batch = make([]crawler.PageRecord, 0, c.opts.BatchSize)
	}

	for {
		select {
		case rec, ok := <-c.pages:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= c.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (c *Controller) upsert(ctx context.Context, batch []crawler.PageRecord) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	defer cancel()

	res, err := c.deps.Store.Upsert(ctx, batch)
	if err != nil {
		c.logger.Error("page store upsert failed", zap.Int("batch", len(batch)), zap.Error(err))
		res.Errors = append(res.Errors, err.Error())
	} else {
		c.logger.Debug("page batch stored",
			zap.Int("batch", len(batch)),
			zap.Int("inserted", res.Inserted),
			zap.Int("updated", res.Updated),
			zap.Int("errors", len(res.Errors)),
		)
	}

	c.mu.Lock()
	c.snap.Store.Add(res)
	c.mu.Unlock()
}

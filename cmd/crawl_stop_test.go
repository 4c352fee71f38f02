package cmd

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/app"
	"github.com/JakeFAU/sitecrawl/internal/config"
	"github.com/JakeFAU/sitecrawl/internal/crawler"
	"github.com/JakeFAU/sitecrawl/internal/engine"
)

// hangingStore blocks every Upsert until release closes, ignoring ctx.
type hangingStore struct {
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (s *hangingStore) Upsert(context.Context, []crawler.PageRecord) (crawler.UpsertResult, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return crawler.UpsertResult{}, nil
}

type hangingStoreApp struct {
	App
	store crawler.PageStore
}

func (a hangingStoreApp) Deps(opts engine.Options) (engine.Deps, error) {
	deps, err := a.App.Deps(opts)
	deps.Store = a.store
	return deps, err
}

// Not parallel: it swaps the package-level app factory.
func TestCrawlCommandStopIsBoundedWhenStoreHangs(t *testing.T) {
	store := &hangingStore{release: make(chan struct{}), entered: make(chan struct{})}
	t.Cleanup(func() { close(store.release) })
	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...app.Option) (App, error) {
		a, err := orig(ctx, cfg, logger, opts...)
		if err != nil {
			return nil, err
		}
		return hangingStoreApp{App: a, store: store}, nil
	}
	t.Cleanup(func() { newApp = orig })

	site := newSite(t)
	cfg := writeConfig(t, quietLogging+"crawler:\n  stop_timeout: 100ms\n  poll_interval: 20ms\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"crawl", site.URL + "/", "--config", cfg, "--log-level", "error", "--quiet"}, &stdout, &stderr)
	}()

	select {
	case <-store.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("page store was never written")
	}
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, 0, code, stderr.String())
		assert.Contains(t, stdout.String(), "stopped")
	case <-time.After(5 * time.Second):
		t.Fatal("crawl command did not return after interrupt")
	}
}

// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawl/internal/app"
	"github.com/JakeFAU/sitecrawl/internal/config"
	"github.com/JakeFAU/sitecrawl/internal/crawler"
	"github.com/JakeFAU/sitecrawl/internal/engine"
	"github.com/JakeFAU/sitecrawl/internal/progress"
	"github.com/JakeFAU/sitecrawl/internal/progress/sinks"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.HTTP.Timeout = 2 * time.Second
	cfg.Crawler.PollInterval = 20 * time.Millisecond
	return cfg
}

func TestNewRunsCrawlEndToEnd(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><title>Home</title><a href="/about">about</a></html>`)
		case "/about":
			fmt.Fprint(w, `<html><title>About</title></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := testConfig(t)
	dir := t.TempDir()
	cfg.Store.Driver = config.StoreSQLite
	cfg.Store.DSN = filepath.Join(dir, "pages.db")
	cfg.Export.Driver = config.ExportLocal
	cfg.Export.Dir = filepath.Join(dir, "exports")

	var (
		mu     sync.Mutex
		stages []progress.Stage
	)
	a, err := app.New(context.Background(), cfg, nil, app.WithSinks(sinks.FuncSink(func(e progress.Event) {
		mu.Lock()
		stages = append(stages, e.Stage)
		mu.Unlock()
	})))
	require.NoError(t, err)

	opts := a.CrawlOptions(srv.URL)
	deps, err := a.Deps(opts)
	require.NoError(t, err)
	ctrl, err := engine.New(opts, deps)
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Wait(ctx))

	snap := ctrl.Result()
	require.Len(t, snap.Pages, 2)
	assert.Equal(t, 2, snap.Store.Inserted)

	uri, err := a.Export(ctx, snap)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))
	data, err := os.ReadFile(strings.TrimPrefix(uri, "file://"))
	require.NoError(t, err)
	assert.Contains(t, string(data), srv.URL+"/about")

	loaded, err := a.Pages().Load(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	// Close flushes the hub, so every sink has seen the crawl afterwards.
	require.NoError(t, a.Close(context.Background()))
	count, err := testutil.GatherAndCount(a.Registry(), "sitecrawl_pages_total")
	require.NoError(t, err)
	assert.Positive(t, count)
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageCrawlDone, stages[len(stages)-1])
}

func TestNewWithoutExport(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.Nil(t, a.BlobStore())
	uri, err := a.Export(context.Background(), crawler.NewSnapshot("x", "https://example.com"))
	require.NoError(t, err)
	assert.Empty(t, uri)
}

func TestNewRejectsUnknownDrivers(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Driver = "mongo"
	_, err := app.New(context.Background(), cfg, nil)
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.Export.Driver = "s3"
	_, err = app.New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestCrawlOptionsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Crawler.MaxPages = 7
	cfg.Crawler.Workers = 3
	cfg.Crawler.Jitter = true
	cfg.Robots.Respect = false
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	opts := a.CrawlOptions("https://example.com")
	assert.Equal(t, "https://example.com", opts.SeedURL)
	assert.Equal(t, 7, opts.MaxPages)
	assert.Equal(t, 3, opts.Workers)
	assert.True(t, opts.Jitter)
	assert.False(t, opts.RespectRobots)
	assert.Equal(t, 25, opts.BatchSize)
	require.NoError(t, opts.Validate())
}

func TestDepsRetryFollowsOptions(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	for _, tc := range []struct{ maxRetries, want int }{{0, 0}, {1, 1}, {4, 4}} {
		opts := a.CrawlOptions("https://example.com")
		opts.MaxRetries = tc.maxRetries
		deps, err := a.Deps(opts)
		require.NoError(t, err)
		assert.Equal(t, tc.want, deps.Retry.MaxRetries(), "max_retries=%d", tc.maxRetries)
	}
}

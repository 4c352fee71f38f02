package engine

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
	"github.com/JakeFAU/sitecrawl/internal/index"
)

func TestManagerLifecycle(t *testing.T) {
	t.Parallel()

	site := newTestSite(t, map[string]http.HandlerFunc{
		"/":        htmlPage("Home", "/contact"),
		"/contact": htmlPage("Contact us"),
	})
	m := NewManager(context.Background(), func(Options) (Deps, error) { return testDeps(), nil }, nil)

	ctrl, err := m.Create(testOptions(site.url("/")))
	require.NoError(t, err)

	got, err := m.Get(ctrl.ID())
	require.NoError(t, err)
	assert.Same(t, ctrl, got)
	assert.Len(t, m.List(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Wait(ctx))

	ix, err := m.Index(ctrl.ID())
	require.NoError(t, err)
	results, err := ix.Search(index.Query{Text: "contact", Fields: []index.Field{index.FieldTitle}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, site.url("/contact"), results[0].URL)

	again, err := m.Index(ctrl.ID())
	require.NoError(t, err)
	assert.Same(t, ix, again, "indexes of ended crawls are cached")

	require.NoError(t, m.StopAll(context.Background()))
}

func TestManagerRejectsInvalidSeed(t *testing.T) {
	t.Parallel()

	m := NewManager(context.Background(), nil, nil)
	_, err := m.Create(Options{SeedURL: "not a url"})
	require.ErrorIs(t, err, crawler.ErrInvalidSeed)
	assert.Empty(t, m.List())
}

func TestManagerUnknownCrawl(t *testing.T) {
	t.Parallel()

	m := NewManager(context.Background(), nil, nil)
	_, err := m.Get(uuid.New())
	require.ErrorIs(t, err, ErrCrawlNotFound)
	_, err = m.Index(uuid.New())
	require.ErrorIs(t, err, ErrCrawlNotFound)
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	require.NoError(t, opts.Validate())

	opts.Workers = 0
	opts.MaxPages = -3
	err := opts.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
	assert.Contains(t, err.Error(), "max_pages")

	filled := Options{SeedURL: "https://example.com"}.withDefaults()
	assert.Equal(t, defaultWorkers, filled.Workers)
	assert.Equal(t, DefaultUserAgent, filled.UserAgent)
	assert.Equal(t, defaultBatchSize, filled.BatchSize)
}

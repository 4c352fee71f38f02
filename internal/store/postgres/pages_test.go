package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
)

func anyArgsFor(url string) []any {
	args := make([]any, 19)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	args[0] = url
	return args
}

func TestPageStoreUpsertCountsInsertAndUpdate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPageStoreWithPool(mock, "pages")
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO pages").
		WithArgs(anyArgsFor("https://example.com")...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO pages").
		WithArgs(anyArgsFor("https://example.com/about")...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO pages").
		WithArgs(anyArgsFor("https://example.com/broken")...).
		WillReturnError(errors.New("constraint violation"))

	now := time.Unix(1700000000, 0).UTC()
	res, err := s.Upsert(context.Background(), []crawler.PageRecord{
		{URL: "https://example.com", FetchedAt: now, Title: "Home"},
		{URL: "https://example.com/about", FetchedAt: now},
		{URL: "https://example.com/broken", FetchedAt: now},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "constraint violation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPageStoreUpsertStopsOnCancel(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewPageStoreWithPool(mock, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Upsert(ctx, []crawler.PageRecord{{URL: "https://example.com"}})
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPageStoreLoad(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewPageStoreWithPool(mock, "pages")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	cols := []string{
		"url", "final_url", "status_code", "content_type", "fetched_at", "latency_ns", "title",
		"meta_description", "canonical", "headings", "images", "outbound_links", "body_text",
		"word_count", "indexable", "content_hash", "attempts", "error", "error_kind",
	}
	mock.ExpectQuery("SELECT url, final_url").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"https://example.com", "https://example.com", 200, "text/html", now, int64(5*time.Millisecond), "Home",
			"desc", "", []byte(`[1,0,0,0,0,0]`), []byte(`[{"src":"https://example.com/a.png","alt":"logo"}]`),
			[]string{"https://example.com/about"}, "body", 1, true, "hash", 1, "", "",
		))

	pages, err := s.Load(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	p := pages[0]
	assert.Equal(t, "Home", p.Title)
	assert.Equal(t, 5*time.Millisecond, p.Latency)
	assert.Equal(t, 1, p.Headings.Level(1))
	assert.Equal(t, "logo", p.AltText())
	assert.Equal(t, []string{"https://example.com/about"}, p.OutboundLinks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPageStoreMigrateAndValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPageStoreWithPool(mock, "pages; DROP TABLE pages")
	require.Error(t, err)
	_, err = NewPageStoreWithPool(nil, "pages")
	require.Error(t, err)

	s, err := NewPageStoreWithPool(mock, "crawl_pages")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_pages").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

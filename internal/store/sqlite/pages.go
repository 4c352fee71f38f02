// Package sqlite persists page records in a local SQLite database using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
)

// Schema creates the pages table.
const Schema = `
CREATE TABLE IF NOT EXISTS pages (
	url TEXT PRIMARY KEY,
	final_url TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	fetched_at INTEGER NOT NULL,
	latency_ns INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	meta_description TEXT NOT NULL DEFAULT '',
	canonical TEXT NOT NULL DEFAULT '',
	headings TEXT NOT NULL DEFAULT '[]',
	images TEXT NOT NULL DEFAULT '[]',
	outbound_links TEXT NOT NULL DEFAULT '[]',
	body_text TEXT NOT NULL DEFAULT '',
	word_count INTEGER NOT NULL DEFAULT 0,
	indexable INTEGER NOT NULL DEFAULT 1,
	content_hash TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_fetched_at ON pages(fetched_at);
`

const upsertSQL = `
INSERT INTO pages (
	url, final_url, status_code, content_type, fetched_at, latency_ns, title,
	meta_description, canonical, headings, images, outbound_links, body_text,
	word_count, indexable, content_hash, attempts, error, error_kind, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
	final_url = excluded.final_url,
	status_code = excluded.status_code,
	content_type = excluded.content_type,
	fetched_at = excluded.fetched_at,
	latency_ns = excluded.latency_ns,
	title = excluded.title,
	meta_description = excluded.meta_description,
	canonical = excluded.canonical,
	headings = excluded.headings,
	images = excluded.images,
	outbound_links = excluded.outbound_links,
	body_text = excluded.body_text,
	word_count = excluded.word_count,
	indexable = excluded.indexable,
	content_hash = excluded.content_hash,
	attempts = excluded.attempts,
	error = excluded.error,
	error_kind = excluded.error_kind,
	updated_at = excluded.updated_at`

const selectSQL = `
SELECT url, final_url, status_code, content_type, fetched_at, latency_ns, title,
	meta_description, canonical, headings, images, outbound_links, body_text,
	word_count, indexable, content_hash, attempts, error, error_kind
FROM pages ORDER BY url`

// PageStore upserts page records into SQLite.
type PageStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at dsn and applies Schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, dsn string) (*PageStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	s, err := NewPageStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPageStore wraps an existing database handle and applies Schema.
func NewPageStore(ctx context.Context, db *sql.DB) (*PageStore, error) {
	if db == nil {
		return nil, errors.New("sqlite db is required")
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &PageStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *PageStore) Close() error {
	return s.db.Close()
}

// Upsert writes pages in one transaction. A page that fails to encode is
// reported in the result and skipped; a database failure aborts the batch.
func (s *PageStore) Upsert(ctx context.Context, pages []crawler.PageRecord) (crawler.UpsertResult, error) {
	var res crawler.UpsertResult
	if len(pages) == 0 {
		return res, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := tx.PrepareContext(ctx, `SELECT 1 FROM pages WHERE url = ?`)
	if err != nil {
		return res, fmt.Errorf("prepare exists: %w", err)
	}
	defer exists.Close()
	upsert, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return res, fmt.Errorf("prepare upsert: %w", err)
	}
	defer upsert.Close()

	updatedAt := s.now().UTC().UnixNano()
	var batch crawler.UpsertResult
	for _, p := range pages {
		args, err := pageArgs(p, updatedAt)
		if err != nil {
			batch.Errors = append(batch.Errors, fmt.Sprintf("%s: %v", p.URL, err))
			continue
		}
		var one int
		found := true
		if err := exists.QueryRowContext(ctx, p.URL).Scan(&one); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return res, fmt.Errorf("check page %s: %w", p.URL, err)
			}
			found = false
		}
		if _, err := upsert.ExecContext(ctx, args...); err != nil {
			return res, fmt.Errorf("upsert page %s: %w", p.URL, err)
		}
		if found {
			batch.Updated++
		} else {
			batch.Inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit sqlite tx: %w", err)
	}
	return batch, nil
}

// Load returns up to limit pages ordered by URL; limit <= 0 returns all.
func (s *PageStore) Load(ctx context.Context, limit int) ([]crawler.PageRecord, error) {
	query := selectSQL
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	var out []crawler.PageRecord
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

func pageArgs(p crawler.PageRecord, updatedAt int64) ([]any, error) {
	headings, err := json.Marshal(p.Headings)
	if err != nil {
		return nil, fmt.Errorf("encode headings: %w", err)
	}
	images, err := json.Marshal(nonNil(p.Images))
	if err != nil {
		return nil, fmt.Errorf("encode images: %w", err)
	}
	links, err := json.Marshal(nonNil(p.OutboundLinks))
	if err != nil {
		return nil, fmt.Errorf("encode links: %w", err)
	}
	return []any{
		p.URL, p.FinalURL, p.StatusCode, p.ContentType, p.FetchedAt.UTC().UnixNano(),
		int64(p.Latency), p.Title, p.MetaDescription, p.Canonical, string(headings),
		string(images), string(links), p.BodyText, p.WordCount, p.Indexable,
		p.ContentHash, p.Attempts, p.Error, p.ErrorKind, updatedAt,
	}, nil
}

func scanPage(rows *sql.Rows) (crawler.PageRecord, error) {
	var (
		p                       crawler.PageRecord
		fetchedAt, latency      int64
		headings, images, links string
	)
	if err := rows.Scan(
		&p.URL, &p.FinalURL, &p.StatusCode, &p.ContentType, &fetchedAt, &latency,
		&p.Title, &p.MetaDescription, &p.Canonical, &headings, &images, &links,
		&p.BodyText, &p.WordCount, &p.Indexable, &p.ContentHash, &p.Attempts,
		&p.Error, &p.ErrorKind,
	); err != nil {
		return p, fmt.Errorf("scan page: %w", err)
	}
	p.FetchedAt = time.Unix(0, fetchedAt).UTC()
	p.Latency = time.Duration(latency)
	if err := json.Unmarshal([]byte(headings), &p.Headings); err != nil {
		return p, fmt.Errorf("decode headings for %s: %w", p.URL, err)
	}
	if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
		return p, fmt.Errorf("decode images for %s: %w", p.URL, err)
	}
	if err := json.Unmarshal([]byte(links), &p.OutboundLinks); err != nil {
		return p, fmt.Errorf("decode links for %s: %w", p.URL, err)
	}
	if len(p.Images) == 0 {
		p.Images = nil
	}
	if len(p.OutboundLinks) == 0 {
		p.OutboundLinks = nil
	}
	return p, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

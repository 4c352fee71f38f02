package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
)

const pagesSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	url TEXT PRIMARY KEY,
	final_url TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	fetched_at TIMESTAMPTZ NOT NULL,
	latency_ns BIGINT NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	meta_description TEXT NOT NULL DEFAULT '',
	canonical TEXT NOT NULL DEFAULT '',
	headings JSONB NOT NULL DEFAULT '[]',
	images JSONB NOT NULL DEFAULT '[]',
	outbound_links TEXT[] NOT NULL DEFAULT '{}',
	body_text TEXT NOT NULL DEFAULT '',
	word_count INTEGER NOT NULL DEFAULT 0,
	indexable BOOLEAN NOT NULL DEFAULT TRUE,
	content_hash TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const upsertPageSQL = `
INSERT INTO %[1]s (
	url, final_url, status_code, content_type, fetched_at, latency_ns, title,
	meta_description, canonical, headings, images, outbound_links, body_text,
	word_count, indexable, content_hash, attempts, error, error_kind, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19, now())
ON CONFLICT (url) DO UPDATE SET
	final_url = EXCLUDED.final_url,
	status_code = EXCLUDED.status_code,
	content_type = EXCLUDED.content_type,
	fetched_at = EXCLUDED.fetched_at,
	latency_ns = EXCLUDED.latency_ns,
	title = EXCLUDED.title,
	meta_description = EXCLUDED.meta_description,
	canonical = EXCLUDED.canonical,
	headings = EXCLUDED.headings,
	images = EXCLUDED.images,
	outbound_links = EXCLUDED.outbound_links,
	body_text = EXCLUDED.body_text,
	word_count = EXCLUDED.word_count,
	indexable = EXCLUDED.indexable,
	content_hash = EXCLUDED.content_hash,
	attempts = EXCLUDED.attempts,
	error = EXCLUDED.error,
	error_kind = EXCLUDED.error_kind,
	updated_at = now()
RETURNING (xmax = 0) AS inserted`

const selectPagesSQL = `
SELECT url, final_url, status_code, content_type, fetched_at, latency_ns, title,
	meta_description, canonical, headings, images, outbound_links, body_text,
	word_count, indexable, content_hash, attempts, error, error_kind
FROM %[1]s ORDER BY url LIMIT $1`

// PageStore upserts page records keyed by URL.
type PageStore struct {
	pool  pool
	table string
}

// NewPageStore connects using cfg.
func NewPageStore(ctx context.Context, cfg Config) (*PageStore, error) {
	p, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewPageStoreWithPool(p, cfg.PagesTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewPageStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPageStoreWithPool(p pool, table string) (*PageStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table, "pages")
	if err != nil {
		return nil, err
	}
	return &PageStore{pool: p, table: name}, nil
}

// Migrate creates the pages table when missing.
func (s *PageStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(pagesSchema, s.table)); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert writes each page. Row failures are collected in the result;
// a cancelled context stops the batch and is returned.
func (s *PageStore) Upsert(ctx context.Context, pages []crawler.PageRecord) (crawler.UpsertResult, error) {
	var res crawler.UpsertResult
	query := fmt.Sprintf(upsertPageSQL, s.table)
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("upsert pages: %w", err)
		}
		args, err := pageArgs(p)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", p.URL, err))
			continue
		}
		var inserted bool
		if err := s.pool.QueryRow(ctx, query, args...).Scan(&inserted); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", p.URL, err))
			continue
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

// Load returns up to limit pages ordered by URL; limit <= 0 returns all.
func (s *PageStore) Load(ctx context.Context, limit int) ([]crawler.PageRecord, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(selectPagesSQL, s.table), lim)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	var out []crawler.PageRecord
	for rows.Next() {
		var (
			p                crawler.PageRecord
			latency          int64
			headings, images []byte
		)
		if err := rows.Scan(
			&p.URL, &p.FinalURL, &p.StatusCode, &p.ContentType, &p.FetchedAt, &latency,
			&p.Title, &p.MetaDescription, &p.Canonical, &headings, &images, &p.OutboundLinks,
			&p.BodyText, &p.WordCount, &p.Indexable, &p.ContentHash, &p.Attempts,
			&p.Error, &p.ErrorKind,
		); err != nil {
			return nil, fmt.Errorf("scan page row: %w", err)
		}
		p.Latency = time.Duration(latency)
		if err := json.Unmarshal(headings, &p.Headings); err != nil {
			return nil, fmt.Errorf("decode headings for %s: %w", p.URL, err)
		}
		if err := json.Unmarshal(images, &p.Images); err != nil {
			return nil, fmt.Errorf("decode images for %s: %w", p.URL, err)
		}
		if len(p.Images) == 0 {
			p.Images = nil
		}
		if len(p.OutboundLinks) == 0 {
			p.OutboundLinks = nil
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

func pageArgs(p crawler.PageRecord) ([]any, error) {
	headings, err := json.Marshal(p.Headings)
	if err != nil {
		return nil, fmt.Errorf("marshal headings: %w", err)
	}
	images := p.Images
	if images == nil {
		images = []crawler.Image{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("marshal images: %w", err)
	}
	links := p.OutboundLinks
	if links == nil {
		links = []string{}
	}
	return []any{
		p.URL,
		p.FinalURL,
		p.StatusCode,
		p.ContentType,
		p.FetchedAt.UTC(),
		int64(p.Latency),
		p.Title,
		p.MetaDescription,
		p.Canonical,
		headings,
		imagesJSON,
		links,
		p.BodyText,
		p.WordCount,
		p.Indexable,
		p.ContentHash,
		p.Attempts,
		p.Error,
		p.ErrorKind,
	}, nil
}

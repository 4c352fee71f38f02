// Package memory provides an in-process page store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
)

// PageStore keeps one record per URL.
type PageStore struct {
	mu    sync.RWMutex
	pages map[string]crawler.PageRecord
	calls int
}

// NewPageStore constructs an empty PageStore.
func NewPageStore() *PageStore {
	return &PageStore{pages: make(map[string]crawler.PageRecord)}
}

// Upsert inserts or replaces pages keyed by URL.
func (s *PageStore) Upsert(ctx context.Context, pages []crawler.PageRecord) (crawler.UpsertResult, error) {
	var res crawler.UpsertResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	for _, p := range pages {
		if p.URL == "" {
			res.Errors = append(res.Errors, "page url is empty")
			continue
		}
		if _, ok := s.pages[p.URL]; ok {
			res.Updated++
		} else {
			res.Inserted++
		}
		s.pages[p.URL] = p.Clone()
	}
	return res, nil
}

// Load returns up to limit pages ordered by URL; limit <= 0 returns all.
func (s *PageStore) Load(_ context.Context, limit int) ([]crawler.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.pages))
	for k := range s.pages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]crawler.PageRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.pages[k].Clone())
	}
	return out, nil
}

// Get returns the stored record for url.
func (s *PageStore) Get(url string) (crawler.PageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[url]
	return p.Clone(), ok
}

// Calls reports how many Upsert batches were received.
func (s *PageStore) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/index"
)

// ErrCrawlNotFound is returned for unknown crawl ids.
var ErrCrawlNotFound = errors.New("crawl not found")

// DepsFactory builds fresh collaborators for each crawl. Robots caches are
// per crawl, so factories should not share a robots gate.
type DepsFactory func(opts Options) (Deps, error)

// Manager is the registry of crawls served by the HTTP API.
type Manager struct {
	base    context.Context
	factory DepsFactory
	logger  *zap.Logger

	mu      sync.RWMutex
	crawls  map[uuid.UUID]*Controller
	indexes map[uuid.UUID]*index.Index
}

// NewManager builds a Manager. Crawls run under base, so cancelling it stops
// every crawl.
func NewManager(base context.Context, factory DepsFactory, logger *zap.Logger) *Manager {
	if base == nil {
		base = context.Background()
	}
	if factory == nil {
		factory = func(Options) (Deps, error) { return Deps{}, nil }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		base:    base,
		factory: factory,
		logger:  logger,
		crawls:  make(map[uuid.UUID]*Controller),
		indexes: make(map[uuid.UUID]*index.Index),
	}
}

// Create builds and starts a crawl. Start errors (an invalid seed) are
// returned and the crawl is not registered.
func (m *Manager) Create(opts Options) (*Controller, error) {
	deps, err := m.factory(opts)
	if err != nil {
		return nil, fmt.Errorf("crawl deps: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = m.logger
	}
	ctrl, err := New(opts, deps)
	if err != nil {
		return nil, err
	}
	if err := ctrl.Start(m.base); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.crawls[ctrl.ID()] = ctrl
	m.mu.Unlock()
	return ctrl, nil
}

// Get returns the crawl with id.
func (m *Manager) Get(id uuid.UUID) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctrl, ok := m.crawls[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCrawlNotFound, id)
	}
	return ctrl, nil
}

// List returns every crawl, oldest first.
func (m *Manager) List() []*Controller {
	m.mu.RLock()
	out := make([]*Controller, 0, len(m.crawls))
	for _, ctrl := range m.crawls {
		out = append(out, ctrl)
	}
	m.mu.RUnlock()
	// v7 ids sort by creation time.
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID().String() < out[j].ID().String()
	})
	return out
}

// Index returns a search index over the crawl's committed pages. Indexes of
// ended crawls are built once and cached; running crawls get a fresh build
// from the current snapshot.
func (m *Manager) Index(id uuid.UUID) (*index.Index, error) {
	ctrl, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	ix, ok := m.indexes[id]
	m.mu.RUnlock()
	if ok {
		return ix, nil
	}
	ended := false
	select {
	case <-ctrl.Done():
		ended = true
	default:
	}
	ix = index.New()
	ix.Build(ctrl.Result().SortedPages())
	if ended {
		m.mu.Lock()
		m.indexes[id] = ix
		m.mu.Unlock()
	}
	return ix, nil
}

// StopAll stops every running crawl and returns the joined errors.
func (m *Manager) StopAll(ctx context.Context) error {
	var errs []error
	for _, ctrl := range m.List() {
		if err := ctrl.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop crawl %s: %w", ctrl.ID(), err))
		}
	}
	return errors.Join(errs...)
}

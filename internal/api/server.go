// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/engine"
	"github.com/JakeFAU/sitecrawl/internal/index"
	"github.com/JakeFAU/sitecrawl/internal/metrics"
	"github.com/JakeFAU/sitecrawl/internal/store"
)

// OptionsFunc returns the default crawl options for seed. Request bodies
// override individual fields.
type OptionsFunc func(seed string) engine.Options

// Config controls server behavior.
type Config struct {
	// RequestTimeout bounds every handler; zero disables the timeout.
	RequestTimeout time.Duration
	// APIKey enables X-API-Key authentication when non-empty.
	APIKey string
	// SearchMode is used when a search request omits mode.
	SearchMode index.Mode
	// MaxResults caps search responses.
	MaxResults int
}

// Server wires HTTP handlers to the crawl manager and stores.
type Server struct {
	router   chi.Router
	manager  *engine.Manager
	options  OptionsFunc
	gatherer prometheus.Gatherer
	runs     store.RunRepository
	metrics  *metrics.HTTP
	cfg      Config
	logger   *zap.Logger
}

// Option customizes NewServer.
type Option func(*Server)

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithRuns exposes persisted run history under /v1/runs.
func WithRuns(runs store.RunRepository) Option {
	return func(s *Server) { s.runs = runs }
}

// WithMetrics records request counts and latencies through m.
func WithMetrics(m *metrics.HTTP) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the request and error logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(manager *engine.Manager, options OptionsFunc, cfg Config, opts ...Option) *Server {
	if options == nil {
		options = func(seed string) engine.Options {
			o := engine.DefaultOptions()
			o.SeedURL = seed
			return o
		}
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = index.DefaultMaxResults
	}
	if cfg.SearchMode == "" {
		cfg.SearchMode = index.ModeAuto
	}
	s := &Server{
		manager:  manager,
		options:  options,
		gatherer: prometheus.DefaultGatherer,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.createCrawl)
			r.Get("/", s.listCrawls)
			r.Route("/{crawl_id}", func(r chi.Router) {
				r.Get("/progress", s.getProgress)
				r.Get("/result", s.getResult)
				r.Get("/search", s.search)
				r.Post("/pause", s.pauseCrawl)
				r.Post("/resume", s.resumeCrawl)
				r.Post("/stop", s.stopCrawl)
			})
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Get("/{crawl_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.manager == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl manager not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
	"github.com/JakeFAU/sitecrawl/internal/engine"
	"github.com/JakeFAU/sitecrawl/internal/index"
)

const stopTimeout = 10 * time.Second

type createCrawlRequest struct {
	SeedURL           string `json:"seed_url"`
	MaxPages          *int   `json:"max_pages"`
	Workers           *int   `json:"workers"`
	SameDomainOnly    *bool  `json:"same_domain_only"`
	RespectRobots     *bool  `json:"respect_robots"`
	PolitenessDelayMS *int   `json:"politeness_delay_ms"`
	Jitter            *bool  `json:"jitter"`
	MaxRetries        *int   `json:"max_retries"`
}

type crawlResponse struct {
	ID       string           `json:"id"`
	Progress crawler.Progress `json:"progress"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Mode    index.Mode     `json:"mode"`
	Count   int            `json:"count"`
	Results []index.Result `json:"results"`
}

func (s *Server) createCrawl(w http.ResponseWriter, r *http.Request) {
	var req createCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.SeedURL) == "" {
		writeError(w, http.StatusBadRequest, "seed_url required")
		return
	}
	opts := s.applyRequest(s.options(strings.TrimSpace(req.SeedURL)), req)
	if err := opts.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctrl, err := s.manager.Create(opts)
	if err != nil {
		if errors.Is(err, crawler.ErrInvalidSeed) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("create crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start crawl")
		return
	}
	writeJSON(w, http.StatusAccepted, crawlResponse{ID: ctrl.ID().String(), Progress: ctrl.Progress()})
}

func (s *Server) applyRequest(opts engine.Options, req createCrawlRequest) engine.Options {
	opts.MaxPages = valueOrDefault(req.MaxPages, opts.MaxPages)
	opts.Workers = valueOrDefault(req.Workers, opts.Workers)
	opts.SameDomainOnly = valueOrDefault(req.SameDomainOnly, opts.SameDomainOnly)
	opts.RespectRobots = valueOrDefault(req.RespectRobots, opts.RespectRobots)
	opts.Jitter = valueOrDefault(req.Jitter, opts.Jitter)
	opts.MaxRetries = valueOrDefault(req.MaxRetries, opts.MaxRetries)
	if req.PolitenessDelayMS != nil {
		opts.PolitenessDelay = time.Duration(*req.PolitenessDelayMS) * time.Millisecond
	}
	return opts
}

func (s *Server) listCrawls(w http.ResponseWriter, _ *http.Request) {
	crawls := s.manager.List()
	out := make([]crawler.Progress, 0, len(crawls))
	for _, ctrl := range crawls {
		out = append(out, ctrl.Progress())
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawls": out})
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Progress())
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Result())
}

func (s *Server) pauseCrawl(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ctrl.Pause()
	writeJSON(w, http.StatusOK, ctrl.Progress())
}

func (s *Server) resumeCrawl(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ctrl.Resume()
	writeJSON(w, http.StatusOK, ctrl.Progress())
}

func (s *Server) stopCrawl(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	if err := ctrl.Stop(ctx); err != nil {
		s.logger.Warn("stop crawl", zap.String("crawl_id", ctrl.ID().String()), zap.Error(err))
		if !errors.Is(err, engine.ErrStopTimeout) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, ctrl.Progress())
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	mode := s.cfg.SearchMode
	if raw := q.Get("mode"); raw != "" {
		m, err := index.ParseMode(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = m
	}
	var names []string
	if raw := q.Get("fields"); raw != "" {
		names = strings.Split(raw, ",")
	}
	fields, err := index.ParseFields(names)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := s.cfg.MaxResults
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, s.cfg.MaxResults)
	}

	ix, err := s.manager.Index(ctrl.ID())
	if err != nil {
		writeError(w, http.StatusNotFound, "crawl not found")
		return
	}
	results, err := ix.Search(index.Query{Text: text, Fields: fields, Mode: mode, MaxResults: limit})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if results == nil {
		results = []index.Result{}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Query:   text,
		Mode:    mode.Resolve(text),
		Count:   len(results),
		Results: results,
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*engine.Controller, bool) {
	id, err := parseCrawlID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid crawl_id")
		return nil, false
	}
	ctrl, err := s.manager.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "crawl not found")
		return nil, false
	}
	return ctrl, true
}

func parseCrawlID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "crawl_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

// Package robots enforces robots.txt allow/disallow rules per host.
//
// The gate fails open: when robots.txt cannot be fetched, returns a status
// other than 200, or cannot be parsed, every path on that host is allowed and
// the reason is logged at warn level and kept for Status.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
)

const (
	defaultTimeout = 8 * time.Second
	maxRobotsBytes = 1 << 20
)

// Config controls the gate.
type Config struct {
	Respect   bool
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
	Logger    *zap.Logger
}

// Gate answers crawler.RobotsPolicy queries from a per-host cache.
type Gate struct {
	respect   bool
	userAgent string
	timeout   time.Duration
	client    *http.Client
	logger    *zap.Logger

	mu    sync.Mutex
	hosts map[string]*hostEntry
}

type hostEntry struct {
	once   sync.Once
	data   *robotstxt.RobotsData
	status crawler.RobotsStatus
	reason string
}

// New builds a Gate. When cfg.Respect is false every URL is allowed.
func New(cfg Config) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Gate{
		respect:   cfg.Respect,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		client:    cfg.Client,
		logger:    cfg.Logger,
		hosts:     make(map[string]*hostEntry),
	}
}

// Load resolves robots.txt for rawURL's host and reports how it went. Calling
// it for the seed lets the crawl record the outcome before the first fetch.
func (g *Gate) Load(ctx context.Context, rawURL string) (crawler.RobotsStatus, string) {
	if !g.respect {
		return crawler.RobotsStatusDisabled, ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return crawler.RobotsStatusFailOpen, "invalid url"
	}
	entry := g.entry(ctx, u)
	return entry.status, entry.reason
}

// Allowed implements crawler.RobotsPolicy.
func (g *Gate) Allowed(ctx context.Context, rawURL string) bool {
	if g == nil || !g.respect {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	entry := g.entry(ctx, u)
	if entry.data == nil {
		return true
	}
	return entry.data.TestAgent(requestPath(u), g.userAgent)
}

// Status returns the cached resolution for host, if any.
func (g *Gate) Status(host string) (crawler.RobotsStatus, string) {
	g.mu.Lock()
	entry, ok := g.hosts[strings.ToLower(host)]
	g.mu.Unlock()
	if !ok {
		return crawler.RobotsStatusUnknown, ""
	}
	return entry.status, entry.reason
}

func (g *Gate) entry(ctx context.Context, u *url.URL) *hostEntry {
	key := strings.ToLower(u.Host)
	g.mu.Lock()
	entry, ok := g.hosts[key]
	if !ok {
		entry = &hostEntry{}
		g.hosts[key] = entry
	}
	g.mu.Unlock()

	entry.once.Do(func() {
		data, err := g.fetch(ctx, u)
		if err != nil {
			entry.status = crawler.RobotsStatusFailOpen
			entry.reason = err.Error()
			g.logger.Warn("robots unavailable; allowing all paths",
				zap.String("host", key),
				zap.Error(err),
			)
			return
		}
		entry.data = data
		entry.status = crawler.RobotsStatusLoaded
	})
	return entry
}

func (g *Gate) fetch(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	robotsURL := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %w", crawler.ErrRobotsFetch, err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrRobotsFetch, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", crawler.ErrRobotsFetch, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", crawler.ErrRobotsFetch, err)
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrParse, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: empty robots data", crawler.ErrParse)
	}
	return data, nil
}

func requestPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

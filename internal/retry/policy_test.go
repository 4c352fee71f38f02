package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
)

func TestPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	netErr := crawler.NewPageError(crawler.ErrNetwork, "https://example.com", errors.New("connection reset by peer"))

	assert.Equal(t, DefaultMaxRetries, p.MaxRetries())
	assert.True(t, p.ShouldRetry(netErr, 0))
	assert.True(t, p.ShouldRetry(netErr, 1))
	assert.False(t, p.ShouldRetry(netErr, 2), "retries exhausted")
	assert.False(t, p.ShouldRetry(nil, 0))
	assert.False(t, p.ShouldRetry(fmt.Errorf("fetch: %w", context.Canceled), 0))
	assert.False(t, p.ShouldRetry(crawler.NewPageError(crawler.ErrHTTPStatus, "u", nil), 0))
}

func TestPolicyDisabled(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxRetries: -1})
	assert.Zero(t, p.MaxRetries())
	assert.False(t, p.ShouldRetry(crawler.NewPageError(crawler.ErrNetwork, "u", nil), 0))
}

func TestPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := New(Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond})
	for attempt := 0; attempt < 6; attempt++ {
		full := 100 * time.Millisecond << attempt
		if full > 400*time.Millisecond {
			full = 400 * time.Millisecond
		}
		got := p.Backoff(attempt)
		assert.GreaterOrEqual(t, got, full/2, "attempt %d", attempt)
		assert.LessOrEqual(t, got, full, "attempt %d", attempt)
	}
}

func TestJitterRange(t *testing.T) {
	t.Parallel()

	assert.Zero(t, Jitter(0))
	for i := 0; i < 20; i++ {
		got := Jitter(50 * time.Millisecond)
		assert.GreaterOrEqual(t, got, time.Duration(0))
		assert.Less(t, got, 50*time.Millisecond)
	}
}

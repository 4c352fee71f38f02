package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	l, err := New(Config{RPS: 10, Burst: 1, Registerer: reg})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(l.delay))
}

func TestLimiterDifferentHosts(t *testing.T) {
	t.Parallel()

	l, err := New(Config{RPS: 1, Burst: 1})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "host b must not wait on host a")
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l, err := New(Config{})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://a.com"))
	}
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l, err := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, err)
	require.NoError(t, l.Wait(context.Background(), "https://slow.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "https://slow.com"))
}

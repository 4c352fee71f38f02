package export

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
	"github.com/JakeFAU/sitecrawl/internal/storage/memory"
)

func TestSnapshotWritesJSON(t *testing.T) {
	t.Parallel()

	snap := crawler.NewSnapshot("0190-abc", "https://example.com")
	snap.Pages["https://example.com"] = crawler.PageRecord{URL: "https://example.com", Title: "Home"}
	snap.Links["https://example.com"] = []string{"https://example.com/about"}
	snap.Finished = true
	snap.State = crawler.StateFinished
	snap.Timestamp = time.Unix(1700000000, 0).UTC()

	store := memory.NewBlobStore()
	uri, err := Snapshot(context.Background(), store, snap)
	require.NoError(t, err)
	assert.Equal(t, "memory://crawls/0190-abc.json", uri)

	data, ct, ok := store.Get("crawls/0190-abc.json")
	require.True(t, ok)
	assert.Equal(t, ContentType, ct)

	var decoded crawler.Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "Home", decoded.Pages["https://example.com"].Title)
	assert.Equal(t, crawler.StateFinished, decoded.State)
	assert.Equal(t, snap.Links, decoded.Links)
}

func TestSnapshotValidation(t *testing.T) {
	t.Parallel()

	_, err := Snapshot(context.Background(), nil, crawler.NewSnapshot("x", ""))
	require.Error(t, err)
	_, err = Snapshot(context.Background(), memory.NewBlobStore(), crawler.Snapshot{})
	require.Error(t, err)
}

// Package export writes crawl snapshots to a blob store as JSON.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
)

// ContentType is the media type of exported snapshots.
const ContentType = "application/json"

// ObjectPath returns the object path used for a snapshot id.
func ObjectPath(id string) string {
	return path.Join("crawls", id+".json")
}

// Snapshot serializes snap and stores it, returning the object URI.
func Snapshot(ctx context.Context, store crawler.BlobStore, snap crawler.Snapshot) (string, error) {
	if store == nil {
		return "", errors.New("blob store is required")
	}
	if snap.ID == "" {
		return "", errors.New("snapshot id is required")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	uri, err := store.PutObject(ctx, ObjectPath(snap.ID), ContentType, &buf)
	if err != nil {
		return "", fmt.Errorf("put snapshot %s: %w", snap.ID, err)
	}
	return uri, nil
}

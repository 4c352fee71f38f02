package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/sitecrawl/internal/progress"
)

func TestFuncSinkPreservesOrder(t *testing.T) {
	t.Parallel()

	var stages []progress.Stage
	sink := FuncSink(func(evt progress.Event) { stages = append(stages, evt.Stage) })
	id := uuid.New()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CrawlID: id, Stage: progress.StageCrawlStart},
		{CrawlID: id, Stage: progress.StageCrawlDone},
	}))
	require.NoError(t, sink.Close(context.Background()))
	assert.Equal(t, []progress.Stage{progress.StageCrawlStart, progress.StageCrawlDone}, stages)

	var nilSink FuncSink
	require.NoError(t, nilSink.Consume(context.Background(), []progress.Event{{}}))
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	id := uuid.New()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CrawlID: id, TS: time.Now(), Stage: progress.StagePageDone, URL: "https://example.com/", StatusCode: 200},
		{CrawlID: id, TS: time.Now(), Stage: progress.StageCrawlError, Note: "seed url unreachable"},
		{CrawlID: id, TS: time.Now(), Stage: progress.StageCrawlDone, Dur: time.Second},
	}))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "crawl progress", entries[2].Message)
	assert.Equal(t, id.String(), entries[2].ContextMap()["crawl_id"])
}

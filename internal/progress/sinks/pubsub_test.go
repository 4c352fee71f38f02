package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawl/internal/progress"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	args := m.Called(ctx, data, attrs)
	return args.String(0), args.Error(1)
}

func (m *mockPublisher) Stop() {
	m.Called()
}

func TestPubSubSinkPublishesTerminalEventsOnly(t *testing.T) {
	t.Parallel()

	crawlID := uuid.New()
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, map[string]string{
		"crawl_id": crawlID.String(),
		"stage":    string(progress.StageCrawlDone),
	}).Return("msg-1", nil).Once()

	sink := NewPubSubSink(pub)
	err := sink.Consume(context.Background(), []progress.Event{
		{CrawlID: crawlID, TS: time.Now(), Stage: progress.StagePageDone, URL: "https://example.com/", StatusClass: progress.Status2xx},
		{CrawlID: crawlID, TS: time.Now(), Stage: progress.StageCrawlDone, PagesCrawled: 3},
	})
	require.NoError(t, err)
	pub.AssertExpectations(t)

	data := pub.Calls[0].Arguments.Get(1).([]byte)
	var evt progress.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, progress.StageCrawlDone, evt.Stage)
	assert.Equal(t, 3, evt.PagesCrawled)
}

func TestPubSubSinkAllEventsAndErrors(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("unavailable")).Twice()
	pub.On("Stop").Return().Once()

	sink := NewPubSubSink(pub, WithAllEvents(), WithPubSubLogger(nil))
	id := uuid.New()
	err := sink.Consume(context.Background(), []progress.Event{
		{CrawlID: id, TS: time.Now(), Stage: progress.StagePageDone, URL: "https://example.com/", StatusClass: progress.Status2xx},
		{CrawlID: id, TS: time.Now(), Stage: progress.StageCrawlStopped},
	})
	require.EqualError(t, err, "unavailable")
	require.NoError(t, sink.Close(context.Background()))
	pub.AssertExpectations(t)
}

func TestTopicPublisherRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := NewTopicPublisher(nil).Publish(context.Background(), []byte("{}"), nil)
	require.Error(t, err)
}

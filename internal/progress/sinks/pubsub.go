package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/progress"
)

// Publisher sends one message and returns the server-assigned id.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// TopicPublisher adapts a Pub/Sub topic to Publisher.
type TopicPublisher struct {
	topic *pubsub.Topic
}

// NewTopicPublisher wraps topic. The caller owns the client; Stop flushes
// pending messages for the topic.
func NewTopicPublisher(topic *pubsub.Topic) *TopicPublisher {
	return &TopicPublisher{topic: topic}
}

// Publish blocks until Pub/Sub acknowledges the message.
func (p *TopicPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub topic is not configured")
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes and stops the topic's background publisher.
func (p *TopicPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

// PubSubSink publishes progress events as JSON messages. By default only
// lifecycle events are sent; AllEvents also forwards PAGE_DONE.
type PubSubSink struct {
	publisher Publisher
	allEvents bool
	logger    *zap.Logger
}

// PubSubOption customizes a PubSubSink.
type PubSubOption func(*PubSubSink)

// WithAllEvents forwards page events as well as lifecycle events.
func WithAllEvents() PubSubOption {
	return func(s *PubSubSink) { s.allEvents = true }
}

// WithPubSubLogger sets the logger used for publish failures.
func WithPubSubLogger(logger *zap.Logger) PubSubOption {
	return func(s *PubSubSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewPubSubSink constructs a sink over publisher.
func NewPubSubSink(publisher Publisher, opts ...PubSubOption) *PubSubSink {
	s := &PubSubSink{publisher: publisher, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Consume publishes the selected events; it returns the first error after
// trying the whole batch.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var firstErr error
	for _, evt := range batch {
		if evt.Stage == progress.StagePageDone && !s.allEvents {
			continue
		}
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal progress event: %w", err)
		}
		attrs := map[string]string{
			"crawl_id": evt.CrawlID.String(),
			"stage":    string(evt.Stage),
		}
		id, err := s.publisher.Publish(ctx, data, attrs)
		if err != nil {
			s.logger.Warn("progress publish failed",
				zap.String("crawl_id", evt.CrawlID.String()),
				zap.String("stage", string(evt.Stage)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.logger.Debug("progress published", zap.String("message_id", id), zap.String("stage", string(evt.Stage)))
	}
	return firstErr
}

// Close stops the underlying topic when it supports it.
func (s *PubSubSink) Close(context.Context) error {
	if stopper, ok := s.publisher.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	return nil
}

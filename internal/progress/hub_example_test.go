package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting events and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	hub.Emit(Event{CrawlID: id, TS: time.Unix(0, 0), Stage: StageCrawlStart})
	if err := hub.EmitWait(context.Background(), Event{CrawlID: id, TS: time.Unix(1, 0), Stage: StageCrawlDone}); err != nil {
		panic(err)
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 2
}

// ExampleSink implements a custom Sink that tracks the latest page count.
func ExampleSink() {
	var crawled int
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StagePageDone {
				crawled = evt.PagesCrawled
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     2,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, capture)

	hub.Emit(Event{
		CrawlID:      uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		TS:           time.Unix(0, 0),
		Stage:        StagePageDone,
		URL:          "https://example.com/",
		StatusClass:  Status2xx,
		PagesCrawled: 7,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("pages crawled: %d\n", crawled)
	// Output:
	// pages crawled: 7
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/progress"
	"github.com/JakeFAU/sitecrawl/internal/store"
)

// RunSink records crawl lifecycle rows through a store.RunRepository.
// Page events are ignored; pause and resume do not change the row.
type RunSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewRunSink constructs a RunSink for the provided repository.
func NewRunSink(repo store.RunRepository, logger *zap.Logger) *RunSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunSink{repo: repo, logger: logger}
}

// Consume forwards start and terminal events to the repository and returns
// the first repository error.
func (s *RunSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		switch {
		case evt.Stage == progress.StageCrawlStart:
			if err := s.repo.StartRun(ctx, evt.CrawlID, evt.URL, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case evt.Stage.Terminal():
			var note *string
			if evt.Note != "" {
				note = &evt.Note
			}
			status := runStatus(evt.Stage)
			if err := s.repo.FinishRun(ctx, evt.CrawlID, evt.TS, status, evt.PagesCrawled, note); err != nil {
				return fmt.Errorf("finish run: %w", err)
			}
			s.logger.Debug("crawl run recorded", zap.String("crawl_id", evt.CrawlID.String()), zap.String("status", string(status)))
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *RunSink) Close(context.Context) error {
	return nil
}

func runStatus(stage progress.Stage) store.RunStatus {
	switch stage {
	case progress.StageCrawlDone:
		return store.RunFinished
	case progress.StageCrawlStopped:
		return store.RunStopped
	default:
		return store.RunError
	}
}

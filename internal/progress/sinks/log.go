package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/progress"
)

// LogSink emits each event as a structured log line. Page events log at
// debug so long crawls stay quiet at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("crawl_id", evt.CrawlID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("pages_crawled", evt.PagesCrawled),
			zap.Int("discovered", evt.Discovered),
		}
		switch {
		case evt.Stage == progress.StagePageDone:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.Int("status", evt.StatusCode),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Debug("page done", fields...)
		case evt.Stage == progress.StageCrawlError:
			s.logger.Warn("crawl failed", append(fields, zap.String("error", evt.Note))...)
		default:
			if evt.Stage.Terminal() {
				fields = append(fields, zap.Duration("runtime", evt.Dur))
			}
			s.logger.Info("crawl progress", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it flushes the logger.
func (s *LogSink) Close(context.Context) error {
	_ = s.logger.Sync()
	return nil
}

package sink

import (
	"context"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
)

// LogSink writes one structured log line per capture.
type LogSink struct {
	log logger.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log.With(logger.String("sink", "log"))}
}

// Name implements dispatcher.Consumer.
func (s *LogSink) Name() string { return "log" }

// Consume implements dispatcher.Consumer.
func (s *LogSink) Consume(_ context.Context, item domain.QueueItem) error {
	s.log.Info("Capture",
		logger.Uint64("sequence", item.Sequence),
		logger.String("id", item.Event.ID),
		logger.String("url", item.Event.URL),
		logger.String("origin_url", item.Event.OriginURL),
		logger.String("fingerprint", item.Event.Fingerprint),
		logger.String("media_kind", string(item.Event.MediaKind)),
		logger.Time("observed_at", item.Event.ObservedAt),
	)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

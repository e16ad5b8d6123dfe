package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/server/config"
	"github.com/systemshift/bizops/internal/server/logging"
)

// Sink delivers batches of events to the audit log
type Sink interface {
	Name() string
	Write(ctx context.Context, events []ChangeEvent) error
	Close() error
}

// FailedRecordsError reports a batch the sink only partly accepted
type FailedRecordsError struct {
	Failed int
	Total  int
	Reason string
}

func (e *FailedRecordsError) Error() string {
	return fmt.Sprintf("%d of %d events rejected: %s", e.Failed, e.Total, e.Reason)
}

// NewSink picks Kinesis when a stream is configured, then a local SQLite
// log, and falls back to logging events
func NewSink(cfg *config.Config, log *zap.Logger) (Sink, error) {
	ev := cfg.Events
	switch {
	case ev.KinesisStream != "":
		sink, err := NewKinesisSink(context.Background(), ev)
		if err != nil {
			return nil, err
		}
		log.Info("publishing events to kinesis", zap.String("stream", ev.KinesisStream))
		return sink, nil
	case ev.LogPath != "":
		sink, err := NewSQLiteSink(context.Background(), ev.LogPath)
		if err != nil {
			return nil, err
		}
		log.Info("writing events to sqlite", zap.String("path", ev.LogPath))
		return sink, nil
	default:
		log.Warn("no event sink configured, events are only logged")
		return NewLogSink(log), nil
	}
}

// LogSink writes events to the service log
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a sink that logs each event
func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.With(logging.Component("events"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, events []ChangeEvent) error {
	for _, e := range events {
		fields := []zap.Field{
			zap.String("eventId", e.EventID),
			zap.String("event", string(e.Event)),
			zap.String("type", e.Type),
			zap.String("code", e.Code),
			zap.String("requestId", e.RequestID),
			zap.String("clientId", e.ClientID),
		}
		if e.Relationship != nil {
			fields = append(fields,
				zap.String("relationship", e.Relationship.Type),
				zap.String("direction", string(e.Relationship.Direction)),
				zap.String("relatedType", e.Relationship.NodeType),
				zap.String("relatedCode", e.Relationship.NodeCode))
		}
		s.log.Info("change event", fields...)
	}
	return nil
}

func (s *LogSink) Close() error { return nil }

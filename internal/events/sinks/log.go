package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/events"
)

// LogSink writes one structured log line per event.
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
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("type", string(evt.Type)),
			zap.String("job_id", evt.JobID),
			zap.String("status", evt.Status),
		}
		if evt.Kind != "" {
			fields = append(fields, zap.String("kind", string(evt.Kind)))
		}
		if evt.Lead != nil {
			fields = append(fields,
				zap.Int64("lead_id", evt.Lead.ID),
				zap.String("place_id", evt.Lead.PlaceID),
				zap.String("website", evt.Lead.Website),
			)
		}
		if len(evt.Emails) > 0 {
			fields = append(fields, zap.Int("emails", len(evt.Emails)))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

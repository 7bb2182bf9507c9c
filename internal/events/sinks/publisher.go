package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/events"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// PublisherSink forwards every event to a broker topic.
type PublisherSink struct {
	publisher harvest.Publisher
	topic     string
	closer    func() error
	logger    *zap.Logger
}

// NewPublisherSink forwards to topic through publisher. closer, when set, is
// called once on Close to release the broker client.
func NewPublisherSink(publisher harvest.Publisher, topic string, closer func() error, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, closer: closer, logger: logger}
}

// Consume publishes events in order. Failures are joined so one bad message
// does not hide the rest of the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		id, err := s.publisher.Publish(ctx, s.topic, evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s for job %s: %w", evt.Type, evt.JobID, err))
			continue
		}
		s.logger.Debug("event published", zap.String("type", string(evt.Type)), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

// Close releases the broker client.
func (s *PublisherSink) Close(context.Context) error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}

package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/contact-harvester/internal/events"
)

// PrometheusSink derives job outcome and enrichment metrics from events.
type PrometheusSink struct {
	eventsTotal   *prometheus.CounterVec
	jobRuntime    *prometheus.HistogramVec
	leadsEnriched *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against reg, defaulting to the
// global registerer.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_events_total",
			Help: "Events delivered to sinks, partitioned by type.",
		}, []string{"type"}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"kind", "status"}),
		leadsEnriched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_leads_enriched_total",
			Help: "Leads processed by backfill, partitioned by resulting status.",
		}, []string{"status"}),
	}
	for _, collector := range []prometheus.Collector{s.eventsTotal, s.jobRuntime, s.leadsEnriched} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.eventsTotal.WithLabelValues(string(evt.Type)).Inc()
		switch evt.Type {
		case events.TypeJobFinished:
			if evt.Dur > 0 {
				s.jobRuntime.WithLabelValues(string(evt.Kind), evt.Status).Observe(evt.Dur.Seconds())
			}
		case events.TypeLeadEnriched:
			s.leadsEnriched.WithLabelValues(evt.Status).Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

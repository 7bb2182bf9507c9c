// Package events carries job and lead notifications from workers to sinks.
// Emit never blocks: events are batched on a background goroutine and fanned
// out to structured logs, Prometheus, and an optional message broker.
package events

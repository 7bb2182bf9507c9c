// Package sinks implements event consumers: structured logging, Prometheus
// collectors, and broker forwarding. Each satisfies events.Sink.
package sinks

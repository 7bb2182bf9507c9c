package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/contact-harvester/internal/metrics"
)

// Config sizes the Hub. Zero values take the defaults below.
type Config struct {
	// Buffer is the number of events held before Emit starts dropping.
	Buffer int
	// BatchSize triggers a flush once this many events are pending.
	BatchSize int
	// FlushInterval flushes whatever is pending on a fixed cadence.
	FlushInterval time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	// FinishedWait is how long a job.finished event may wait for buffer room.
	// Lead events never wait.
	FinishedWait time.Duration
	Logger       *zap.Logger
}

const (
	defaultBuffer        = 1024
	defaultBatchSize     = 100
	defaultFlushInterval = 250 * time.Millisecond
	defaultSinkTimeout   = 10 * time.Second
	defaultFinishedWait  = 100 * time.Millisecond
)

// Hub buffers events and delivers them to sinks in batches from a single
// goroutine, so sinks see events in emit order.
type Hub struct {
	cfg     Config
	sinks   []Sink
	queue   chan Event
	stop    chan struct{}
	done    chan struct{}
	logger  *zap.Logger
	dropLog rate.Sometimes
	dropped atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts delivery to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.FinishedWait <= 0 {
		cfg.FinishedWait = defaultFinishedWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		queue:   make(chan Event, cfg.Buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
		dropLog: rate.Sometimes{Interval: 5 * time.Second},
	}
	go h.loop()
	return h
}

// Emit queues evt for delivery. Invalid events and events emitted after Close
// are discarded. A full buffer drops lead events at once; job.finished events
// get FinishedWait to find room first.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid event", zap.String("type", string(evt.Type)), zap.Error(err))
		return
	}
	select {
	case h.queue <- evt:
		return
	default:
	}
	if evt.Type == TypeJobFinished && h.cfg.FinishedWait > 0 {
		timer := time.NewTimer(h.cfg.FinishedWait)
		defer timer.Stop()
		select {
		case h.queue <- evt:
			return
		case <-timer.C:
		}
	}
	h.drop(evt)
}

func (h *Hub) drop(evt Event) {
	metrics.ObserveEventDropped()
	h.dropped.Add(1)
	h.dropLog.Do(func() {
		h.logger.Warn("event buffer full; dropping events",
			zap.String("type", string(evt.Type)),
			zap.Int64("dropped_total", h.dropped.Load()),
		)
	})
}

// Dropped returns how many events were discarded for lack of buffer room.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close stops intake, delivers what is buffered, closes the sinks and waits
// for delivery to finish or ctx to end. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close event hub: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make([]Event, 0, h.cfg.BatchSize)
	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.BatchSize {
				pending = h.deliver(pending)
			}
		case <-ticker.C:
			pending = h.deliver(pending)
		case <-h.stop:
			h.deliver(h.drainQueued(pending))
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drainQueued(pending []Event) []Event {
	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.BatchSize {
				pending = h.deliver(pending)
			}
		default:
			return pending
		}
	}
}

// deliver hands a copy of batch to every sink and returns batch emptied for
// reuse.
func (h *Hub) deliver(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	snapshot := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			h.logger.Warn("event sink failed", zap.Int("batch", len(snapshot)), zap.Error(err))
		}
		cancel()
	}
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("closing event sink failed", zap.Error(err))
		}
	}
}

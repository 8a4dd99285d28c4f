package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config sizes the Hub's buffer and batching. Zero values fall back to
// defaults tuned for a crawl that emits a handful of events per second:
// a 1024-event buffer, 256-event batches flushed at least once a second,
// and a 10s per-sink delivery timeout. BaseContext is the parent of every
// sink call and defaults to context.Background().
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = time.Second
	defaultSinkTimeout    = 10 * time.Second
	dropWarnInterval      = 5 * time.Second
)

func (c *Config) withDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Hub batches crawl events and fans each batch out to its sinks from a
// single background goroutine. Emitters never block: the crawl loop must
// not stall because a sink is slow, so overflow is dropped and counted
// instead of applying backpressure.
type Hub struct {
	cfg      Config
	sinks    []Sink
	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger
	dropWarn throttle
	dropped  atomic.Int64
	closed   atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the delivery goroutine. The Hub accepts events immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg.withDefaults()
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		events:   make(chan Event, cfg.BufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   cfg.Logger,
		dropWarn: throttle{interval: dropWarnInterval},
	}
	go h.loop()
	return h
}

// Emit queues one event. A full buffer drops the event; drops are counted
// and reported in a rate-limited warning rather than per event. Events that
// fail validation are discarded silently at debug level.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		if h.dropWarn.allow(time.Now()) {
			count := h.dropped.Swap(0)
			h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Close flushes everything still buffered, closes the sinks and waits for
// the delivery goroutine. Later calls are no-ops once shutdown has begun.
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
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// loop accumulates events and delivers a batch when it fills up or when the
// wait timer fires, whichever comes first.
func (h *Hub) loop() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	timer := newBatchTimer()
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.deliver(batch)
				batch = batch[:0]
				timer.disarm()
			} else {
				timer.arm(h.cfg.MaxBatchWait)
			}
		case <-timer.c():
			timer.fired()
			if len(batch) > 0 {
				h.deliver(batch)
				batch = batch[:0]
			}
		case <-h.stopCh:
			timer.disarm()
			h.drain(batch)
			return
		}
	}
}

// drain empties the buffer after stop, delivers the remainder and closes
// the sinks.
func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.deliver(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				h.deliver(batch)
			}
			h.closeSinks()
			return
		}
	}
}

// deliver hands a copy of the batch to every sink, each under its own
// timeout so one stuck sink cannot starve the rest.
func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
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
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// batchTimer wraps time.Timer with the stop-and-drain dance needed to reuse
// one timer across batches.
type batchTimer struct {
	t     *time.Timer
	armed bool
}

func newBatchTimer() *batchTimer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &batchTimer{t: t}
}

func (b *batchTimer) c() <-chan time.Time { return b.t.C }

func (b *batchTimer) arm(d time.Duration) {
	b.disarm()
	b.t.Reset(d)
	b.armed = true
}

func (b *batchTimer) disarm() {
	if !b.armed {
		return
	}
	if !b.t.Stop() {
		select {
		case <-b.t.C:
		default:
		}
	}
	b.armed = false
}

// fired marks the timer consumed after a read from its channel.
func (b *batchTimer) fired() { b.armed = false }

// throttle allows at most one hit per interval, lock-free.
type throttle struct {
	interval time.Duration
	last     atomic.Int64
}

func (t *throttle) allow(now time.Time) bool {
	if t == nil || t.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := t.last.Load()
	if nano-last < t.interval.Nanoseconds() {
		return false
	}
	return t.last.CompareAndSwap(last, nano)
}

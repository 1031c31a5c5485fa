package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Async.Publish after Close.
var ErrClosed = errors.New("event dispatcher closed")

// AsyncOptions configures an Async dispatcher.
type AsyncOptions struct {
	Buffer  int           // queued events before new ones are dropped; default 1024
	Timeout time.Duration // per-publish deadline on the wrapped sink; default 5s
	Logger  *slog.Logger
}

// Async hands events to a single background worker so publishers never
// wait on the wrapped sink. Events keep their order. When the buffer is
// full new events are dropped and logged.
type Async struct {
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger
	queue   chan Event
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the worker for sink.
func NewAsync(sink Sink, opts AsyncOptions) *Async {
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	a := &Async{
		sink:    sink,
		timeout: opts.Timeout,
		logger:  opts.Logger.With("component", "events.async"),
		queue:   make(chan Event, opts.Buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues ev without blocking. The context is not used; the
// worker applies its own deadline.
func (a *Async) Publish(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- ev:
	default:
		n := a.dropped.Add(1)
		a.logger.Warn("event buffer full, dropping event",
			"type", ev.Type, "event_id", ev.ID, "dropped_total", n)
	}
	return nil
}

// Dropped reports how many events were discarded because the buffer was full.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sink.Publish(ctx, ev); err != nil {
			a.logger.Warn("failed to publish event", "type", ev.Type, "event_id", ev.ID, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits until the queued ones have been
// handed to the sink or ctx is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

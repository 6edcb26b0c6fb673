package goSession

import (
	"context"
	"sync"
	"sync/atomic"
)

// eventDispatcher hands events to the sink on one worker goroutine so a slow
// sink never holds up session changes. Senders hold mu for reading while they
// enqueue; Close takes it for writing before closing the queue, so no send can
// race the close.
type eventDispatcher struct {
	sink       EventSink
	dropIfFull bool
	queue      chan Event
	stopped    chan struct{}
	dropped    atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func newEventDispatcher(cfg EventsConfig, sink EventSink) *eventDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &eventDispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		stopped:    make(chan struct{}),
	}
	go d.run()
	return d
}

// run delivers until the queue is closed and empty.
func (d *eventDispatcher) run() {
	defer close(d.stopped)
	for event := range d.queue {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit enqueues event. With DropIfFull it never blocks and counts drops;
// otherwise it waits for room or for ctx to end. Events emitted after Close
// are discarded.
func (d *eventDispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
	}
}

// Close stops accepting events and returns once everything already queued
// has reached the sink. Repeated calls wait for the same drain.
func (d *eventDispatcher) Close() {
	if d == nil {
		return
	}

	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	<-d.stopped
}

func (d *eventDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

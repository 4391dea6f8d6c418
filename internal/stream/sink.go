// Package stream implements the event protocol the scheduler streams to a
// client over a long-lived connection (spec §4.5, §6): a bounded,
// backpressured EventSink the scheduler enqueues into synchronously, SSE
// encoding for the primary HTTP transport, and an optional Kafka mirror for
// downstream analytics consumers.
package stream

import (
	"sync"

	"github.com/psychohistory/psychohistory/internal/domain"
	"github.com/psychohistory/psychohistory/pkg/logger"
)

// EventSink receives TreeStreamEvents synchronously with the scheduler's
// progression (spec §4.1 "eventSink receives events synchronously... it
// must be cheap (non-blocking enqueue) or the scheduler may stall"). Emit
// never panics and a closed sink drops the event; a full ChannelSink
// blocks the caller until its reader frees a slot.
type EventSink interface {
	Emit(event domain.TreeStreamEvent)
}

// ChannelSink is a bounded-queue EventSink: the scheduler enqueues, and a
// separate reader (the HTTP handler's SSE writer, or a test) drains Events.
// If the channel fills (the reader is slower than the scheduler, e.g. a
// blocked HTTP response writer), backpressure is realized as scheduler
// stall rather than data loss — Emit blocks until a slot frees or the sink
// is closed.
type ChannelSink struct {
	events chan domain.TreeStreamEvent

	mu     sync.Mutex
	closed bool
}

// NewChannelSink builds a ChannelSink with the given buffer depth.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{events: make(chan domain.TreeStreamEvent, buffer)}
}

// Emit enqueues event. After Close, Emit silently drops events instead of
// blocking or panicking on a closed channel — this realizes spec §4.5's
// "the scheduler may continue running upstream calls that are already in
// flight, but its subsequent emissions are discarded" when a client
// disconnects. The closed check and the send itself happen under the same
// lock Close uses, so a concurrent Close can never close the channel
// between the check and the send (which would panic).
func (s *ChannelSink) Emit(event domain.TreeStreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	// A full buffer blocks here, holding the lock, so a slow consumer
	// backpressures the scheduler (spec §9 "Backpressured event sink")
	// instead of silently losing events. Close blocks on the same lock
	// until this send completes, rather than closing out from under it.
	s.events <- event
}

// Events returns the channel a drainer reads from.
func (s *ChannelSink) Events() <-chan domain.TreeStreamEvent {
	return s.events
}

// Close marks the sink closed and drains no further writers will block.
// Safe to call more than once.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// MultiSink fans out every Emit to several sinks, e.g. the primary SSE
// channel plus an optional Kafka mirror (SPEC_FULL.md §11). A slow or
// failing secondary sink never blocks or fails the primary one.
type MultiSink struct {
	sinks []EventSink
	log   *logger.Logger
}

// NewMultiSink builds a MultiSink over the given sinks, in order.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	return &MultiSink{sinks: sinks, log: logger.Get().With("component", "multi_sink")}
}

func (m *MultiSink) Emit(event domain.TreeStreamEvent) {
	for _, sink := range m.sinks {
		sink.Emit(event)
	}
}

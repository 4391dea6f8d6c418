package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/psychohistory/psychohistory/internal/domain"
	"github.com/psychohistory/psychohistory/pkg/logger"
)

// Headers sets the response headers the stream endpoint contract requires
// (spec §4.5, §6): text/event-stream, no caching, keep-alive.
func Headers(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx response buffering for SSE
}

// WriteEvent serializes one TreeStreamEvent as an SSE record
// (`data: <json>\n\n`) and flushes it immediately so the client observes
// it without delay (spec §4.5 "writes happen in the order the scheduler
// emits them").
func WriteEvent(w http.ResponseWriter, flusher http.Flusher, event domain.TreeStreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}

// Drain reads events off sink's channel and writes each as an SSE record
// until the channel closes or the request context is cancelled (client
// disconnect). It is the HTTP handler's half of the producer/consumer
// relationship described in spec §4.5: the scheduler (producer) emits
// into sink; Drain (consumer) writes to the response.
//
// On a write failure (broken pipe, etc.) Drain closes sink so any further
// scheduler emissions are dropped per spec §4.5's disconnect semantics,
// then returns.
func Drain(w http.ResponseWriter, sink *ChannelSink, done <-chan struct{}) {
	flusher, _ := w.(http.Flusher)
	log := logger.Get().With("component", "sse_drain")

	for {
		select {
		case event, ok := <-sink.Events():
			if !ok {
				return
			}
			if err := WriteEvent(w, flusher, event); err != nil {
				log.Warnw("sse write failed, closing sink", "error", err)
				// Discard queued events so an Emit blocked on a full
				// buffer returns and Close can take the sink's lock.
				go func() {
					for range sink.Events() {
					}
				}()
				sink.Close()
				return
			}
		case <-done:
			go func() {
				for range sink.Events() {
				}
			}()
			sink.Close()
			return
		}
	}
}

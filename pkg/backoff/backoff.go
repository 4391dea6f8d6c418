// Package backoff implements the exponential backoff ladder shared by the
// search client's retry loop and the pipeline's synthesis retry loop. It is
// extracted from the reconnection-manager's backoff math, stripped of the
// heartbeat tracking that manager also did, which belongs to a
// persistent-connection domain this system doesn't have. The manager's
// circuit breaker is kept, in circuit.go.
package backoff

import "time"

// Ladder computes successive backoff durations for retry attempt N
// (0-indexed): Min * Multiplier^N, capped at Max.
type Ladder struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultLadder matches the search client's retry contract: 1s, 2s, 4s,
// 8s, 16s.
func DefaultLadder() Ladder {
	return Ladder{
		Min:        1 * time.Second,
		Max:        16 * time.Second,
		Multiplier: 2.0,
	}
}

// Duration returns the backoff duration for the given attempt (0-indexed:
// attempt 0 is the delay before the first retry).
func (l Ladder) Duration(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := l.Min
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * l.Multiplier)
		if d > l.Max {
			return l.Max
		}
	}
	return d
}

// Backoff is the stateful counterpart to Ladder: it tracks consecutive
// failures and exposes the next wait via Next, resetting on Success.
type Backoff struct {
	ladder  Ladder
	current time.Duration
	attempt int
}

// New creates a Backoff starting at ladder.Min.
func New(ladder Ladder) *Backoff {
	return &Backoff{ladder: ladder, current: ladder.Min}
}

// Next returns the current backoff duration, then advances it for the next
// call (exponential growth capped at Max).
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.attempt++

	next := time.Duration(float64(b.current) * b.ladder.Multiplier)
	if next > b.ladder.Max {
		next = b.ladder.Max
	}
	b.current = next

	return d
}

// Attempt returns the number of times Next has been called since the last
// Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset returns the backoff to its initial state, e.g. after a success.
func (b *Backoff) Reset() {
	b.current = b.ladder.Min
	b.attempt = 0
}

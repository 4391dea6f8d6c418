package backoff

import (
	"sync"
	"time"
)

// CircuitBreaker stops retrying a failing dependency after too many
// consecutive failures, giving it a cooldown period before allowing
// another attempt. Adapted from the reconnection manager's circuit-breaker
// state machine, with its heartbeat/liveness tracking dropped — there is no
// persistent connection here, only discrete request/response calls (search,
// LLM completions) that can fail and need a cooldown.
type CircuitBreaker struct {
	maxConsecutiveFailures int
	resetAfter             time.Duration

	mu                  sync.Mutex
	consecutiveFailures int
	open                bool
	openedAt            time.Time
}

// NewCircuitBreaker creates a circuit breaker that opens after
// maxConsecutiveFailures and stays open for resetAfter before allowing a
// retry.
func NewCircuitBreaker(maxConsecutiveFailures int, resetAfter time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxConsecutiveFailures: maxConsecutiveFailures,
		resetAfter:             resetAfter,
	}
}

// Allow reports whether a call should be attempted. Once the cooldown
// elapses, Allow returns true again (half-open: the next call's outcome
// decides whether the circuit re-closes or stays open).
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return true
	}
	return time.Since(c.openedAt) >= c.resetAfter
}

// RecordSuccess closes the circuit and resets the failure count.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures = 0
	c.open = false
	c.openedAt = time.Time{}
}

// RecordFailure increments the failure count, opening the circuit once the
// threshold is reached.
func (c *CircuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures++
	if c.maxConsecutiveFailures > 0 && c.consecutiveFailures >= c.maxConsecutiveFailures {
		c.open = true
		c.openedAt = time.Now()
	}
}

// Open reports whether the circuit is currently open.
func (c *CircuitBreaker) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

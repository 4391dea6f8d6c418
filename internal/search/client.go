// Package search implements the SearchClient that the agentic researcher's
// `search` tool calls into: a rate-limited, retrying HTTP client in front
// of a web search provider, with a mock mode for offline testing.
package search

import (
	"context"
	"net/http"
	"time"

	"github.com/psychohistory/psychohistory/internal/domain"
	"github.com/psychohistory/psychohistory/internal/metrics"
	"github.com/psychohistory/psychohistory/pkg/backoff"
	"github.com/psychohistory/psychohistory/pkg/errors"
	"github.com/psychohistory/psychohistory/pkg/logger"
)

// Provider performs one search query against a concrete backend (a real
// web search API, or the deterministic mock).
type Provider interface {
	Search(ctx context.Context, query string) ([]domain.Source, error)
}

// Client wraps a Provider with the sliding-window rate limiter and retry
// ladder spec'd for the search surface (§4.4). The core depends on Client,
// never on a concrete Provider.
type Client struct {
	provider Provider
	limiter  *slidingWindowLimiter
	breaker  *backoff.CircuitBreaker
	ladder   backoff.Ladder
	maxRetry int
	log      *logger.Logger
}

// Config configures a Client.
type Config struct {
	Limit      int           // permits per Window
	Window     time.Duration // rolling window length
	MaxRetries int           // max retries on transient failure
}

// DefaultConfig matches the primary provider's contract: 5 requests/second.
func DefaultConfig() Config {
	return Config{
		Limit:      5,
		Window:     1 * time.Second,
		MaxRetries: 5,
	}
}

// NewClient builds a Client around provider with the given rate/retry config.
func NewClient(provider Provider, cfg Config) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	return &Client{
		provider: provider,
		limiter:  newSlidingWindowLimiter(cfg.Limit, cfg.Window),
		breaker:  backoff.NewCircuitBreaker(maxRetries*2, 30*time.Second),
		ladder:   backoff.DefaultLadder(),
		maxRetry: maxRetries,
		log:      logger.Get().With("component", "search_client"),
	}
}

// Search executes one query, awaiting a rate-limit permit and retrying
// transient failures per the §4.4 retry ladder. Non-transient provider
// errors (4xx other than 429) are returned immediately without retry.
func (c *Client) Search(ctx context.Context, query string) ([]domain.Source, error) {
	start := time.Now()
	var limiterWait time.Duration

	if !c.breaker.Allow() {
		metrics.RecordSearchCall("failed", time.Since(start), limiterWait)
		return nil, errors.Wrap(errors.ErrTransport, "search provider circuit open, too many recent failures")
	}

	var lastErr error

	for attempt := 0; attempt <= c.maxRetry; attempt++ {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			limiterWait += time.Since(waitStart)
			metrics.RecordSearchCall("failed", time.Since(start), limiterWait)
			return nil, errors.Wrapf(err, "search rate limiter wait cancelled")
		}
		limiterWait += time.Since(waitStart)

		sources, err := c.provider.Search(ctx, query)
		if err == nil {
			c.breaker.RecordSuccess()
			status := "success"
			if attempt > 0 {
				status = "retried"
			}
			metrics.RecordSearchCall(status, time.Since(start), limiterWait)
			return sources, nil
		}

		lastErr = err

		if !isTransient(err) {
			c.breaker.RecordFailure()
			metrics.RecordSearchCall("failed", time.Since(start), limiterWait)
			return nil, errors.Wrapf(errors.ErrTransport, "search query %q failed (non-retryable): %v", query, err)
		}

		if attempt == c.maxRetry {
			break
		}

		delay := c.ladder.Duration(attempt)
		c.log.Warnw("search attempt failed, retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetry,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			metrics.RecordSearchCall("failed", time.Since(start), limiterWait)
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	c.breaker.RecordFailure()
	metrics.RecordSearchCall("failed", time.Since(start), limiterWait)
	return nil, errors.Wrapf(errors.ErrTransport, "search query %q failed after %d retries: %v", query, c.maxRetry, lastErr)
}

// TransientError marks an error as retryable per §4.4 (HTTP 429 or a
// network-level failure).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func isTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return te.StatusCode == http.StatusTooManyRequests || te.StatusCode == 0
	}
	return false
}

package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/psychohistory/psychohistory/pkg/errors"
)

// RateLimiter throttles calls to an LLMProvider. This guards the provider
// itself (§9's suspension points include "awaiting an LLM completion");
// it is a distinct concern from internal/search's bespoke sliding-window
// limiter, which guards the search provider per spec §4.4.
type RateLimiter interface {
	// Wait blocks until a request can proceed or context is cancelled.
	Wait(ctx context.Context) error

	// Allow checks if a request can proceed without blocking.
	Allow() bool

	// Limit returns the current rate limit in requests per minute.
	Limit() float64
}

// TokenBucketLimiter implements classic token-bucket rate limiting.
// Thread-safe and efficient for high-concurrency scenarios.
type TokenBucketLimiter struct {
	rate       float64 // requests per second
	burst      int     // maximum burst size
	tokens     float64 // current available tokens
	lastUpdate time.Time
	mu         sync.Mutex
	provider   ProviderName
}

// NewTokenBucketLimiter creates a token bucket limiter.
// reqPerMinute: maximum requests per minute.
// burst: maximum burst size (defaults to 10% of rate if <= 0).
func NewTokenBucketLimiter(provider ProviderName, reqPerMinute float64, burst int) *TokenBucketLimiter {
	if burst <= 0 {
		burst = int(reqPerMinute / 10)
		if burst < 1 {
			burst = 1
		}
	}

	return &TokenBucketLimiter{
		rate:       reqPerMinute / 60.0,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
		provider:   provider,
	}
}

// Wait blocks until a token is available or context is cancelled.
func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}

		l.mu.Lock()
		waitTime := time.Duration(float64(time.Second) / l.rate)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "rate limiter wait cancelled for provider %s", l.provider)
		case <-time.After(waitTime):
		}
	}
}

// Allow checks if a request can proceed and consumes a token if available.
func (l *TokenBucketLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	l.lastUpdate = now

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return true
	}
	return false
}

// Limit returns the current rate limit in requests per minute.
func (l *TokenBucketLimiter) Limit() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate * 60.0
}

// NoOpLimiter never blocks. Useful for tests or a disabled rate limit.
type NoOpLimiter struct{}

func NewNoOpLimiter() *NoOpLimiter { return &NoOpLimiter{} }

func (l *NoOpLimiter) Wait(ctx context.Context) error { return nil }
func (l *NoOpLimiter) Allow() bool                    { return true }
func (l *NoOpLimiter) Limit() float64                 { return -1 }

// RateLimitConfig configures a provider's rate limit.
type RateLimitConfig struct {
	Enabled      bool
	ReqPerMinute float64
	Burst        int
}

// DefaultRateLimits returns the conservative default for the one concrete
// provider this system ships against.
func DefaultRateLimits() map[ProviderName]RateLimitConfig {
	return map[ProviderName]RateLimitConfig{
		ProviderNameOpenAI: {
			Enabled:      true,
			ReqPerMinute: 500, // OpenAI Tier 1
			Burst:        50,
		},
	}
}

// GetRateLimiter creates a rate limiter based on config without Redis support.
// Deprecated: use RateLimiterFactory for Redis-backed distributed limiting.
func GetRateLimiter(provider ProviderName, config RateLimitConfig) RateLimiter {
	if !config.Enabled || config.ReqPerMinute <= 0 {
		return NewNoOpLimiter()
	}
	return NewTokenBucketLimiter(provider, config.ReqPerMinute, config.Burst)
}

// RateLimiterFactory creates rate limiters with optional Redis support for
// multi-process deployments sharing one provider quota.
type RateLimiterFactory struct {
	redisClient interface{} // *redis.Client; any other type makes Create fall back to a no-op limiter
	useRedis    bool
}

// NewRateLimiterFactory creates a factory. If redisClient is nil, local
// in-memory limiters are used (suitable for a single process).
func NewRateLimiterFactory(redisClient interface{}) *RateLimiterFactory {
	return &RateLimiterFactory{
		redisClient: redisClient,
		useRedis:    redisClient != nil,
	}
}

// Create builds a rate limiter for the given provider and config.
func (f *RateLimiterFactory) Create(provider ProviderName, config RateLimitConfig) RateLimiter {
	if !config.Enabled || config.ReqPerMinute <= 0 {
		return NewNoOpLimiter()
	}

	if f.useRedis {
		return NewRedisRateLimiterFromClient(f.redisClient, provider, config.ReqPerMinute, config.Burst)
	}

	return NewTokenBucketLimiter(provider, config.ReqPerMinute, config.Burst)
}

// RateLimitError wraps a rate-limit related failure with provider context.
// It unwraps to the underlying limiter error (typically a context
// cancellation), not to pkg/errors.ErrRateLimit.
type RateLimitError struct {
	Provider ProviderName
	Limit    float64
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit error for provider %s (limit: %.0f req/min): %v", e.Provider, e.Limit, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

package llm

import (
	"context"
	"testing"
	"time"

	"github.com/psychohistory/psychohistory/pkg/errors"
)

func TestTokenBucketLimiter_Basic(t *testing.T) {
	limiter := NewTokenBucketLimiter(ProviderNameOpenAI, 60, 2)
	ctx := context.Background()

	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first request should succeed: %v", err)
	}
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("second request should succeed: %v", err)
	}

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("third request should eventually succeed: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 500*time.Millisecond {
		t.Errorf("expected to wait ~1s, waited only %v", elapsed)
	}
}

func TestTokenBucketLimiter_Allow(t *testing.T) {
	limiter := NewTokenBucketLimiter(ProviderNameOpenAI, 60, 2)

	if !limiter.Allow() {
		t.Error("first request should be allowed")
	}
	if !limiter.Allow() {
		t.Error("second request should be allowed")
	}
	if limiter.Allow() {
		t.Error("third request should be denied")
	}
}

func TestTokenBucketLimiter_ContextCancellation(t *testing.T) {
	limiter := NewTokenBucketLimiter(ProviderNameOpenAI, 6, 1) // 0.1 req/sec
	_ = limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	if err == nil {
		t.Error("expected error due to context cancellation")
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		t.Errorf("expected context error, got: %v", err)
	}
}

func TestNoOpLimiter(t *testing.T) {
	limiter := NewNoOpLimiter()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("NoOpLimiter should never fail: %v", err)
		}
		if !limiter.Allow() {
			t.Fatal("NoOpLimiter should always allow")
		}
	}

	if limiter.Limit() != -1 {
		t.Errorf("expected limit -1, got %f", limiter.Limit())
	}
}

func TestGetRateLimiter_Disabled(t *testing.T) {
	config := RateLimitConfig{Enabled: false, ReqPerMinute: 100, Burst: 10}
	limiter := GetRateLimiter(ProviderNameOpenAI, config)

	if _, ok := limiter.(*NoOpLimiter); !ok {
		t.Errorf("expected NoOpLimiter when disabled, got %T", limiter)
	}
}

func TestGetRateLimiter_ZeroRate(t *testing.T) {
	config := RateLimitConfig{Enabled: true, ReqPerMinute: 0, Burst: 10}
	limiter := GetRateLimiter(ProviderNameOpenAI, config)

	if _, ok := limiter.(*NoOpLimiter); !ok {
		t.Errorf("expected NoOpLimiter when rate is 0, got %T", limiter)
	}
}

func TestGetRateLimiter_Enabled(t *testing.T) {
	config := RateLimitConfig{Enabled: true, ReqPerMinute: 100, Burst: 10}
	limiter := GetRateLimiter(ProviderNameOpenAI, config)

	if _, ok := limiter.(*TokenBucketLimiter); !ok {
		t.Errorf("expected TokenBucketLimiter when enabled, got %T", limiter)
	}
	if limit := limiter.Limit(); limit != 100 {
		t.Errorf("expected limit 100, got %f", limit)
	}
}

func TestRateLimiterFactory_NoRedis(t *testing.T) {
	factory := NewRateLimiterFactory(nil)
	config := RateLimitConfig{Enabled: true, ReqPerMinute: 100, Burst: 10}
	limiter := factory.Create(ProviderNameOpenAI, config)

	if _, ok := limiter.(*TokenBucketLimiter); !ok {
		t.Errorf("expected TokenBucketLimiter without Redis, got %T", limiter)
	}
}

func TestDefaultRateLimits(t *testing.T) {
	limits := DefaultRateLimits()

	openaiLimit, ok := limits[ProviderNameOpenAI]
	if !ok {
		t.Fatal("OpenAI limit not found")
	}
	if !openaiLimit.Enabled {
		t.Error("OpenAI should be enabled by default")
	}
	if openaiLimit.ReqPerMinute != 500 {
		t.Errorf("expected OpenAI 500 req/min, got %f", openaiLimit.ReqPerMinute)
	}
}

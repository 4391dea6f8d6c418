package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1, // separate DB from production use
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisRateLimiter_Basic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	redisClient := newTestRedisClient(t)
	ctx := context.Background()

	limiter := NewRedisRateLimiter(redisClient, ProviderNameOpenAI, 60, 2)
	defer limiter.Reset(ctx)

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
	if elapsed > 2*time.Second {
		t.Errorf("waited too long: %v", elapsed)
	}
}

func TestRedisRateLimiter_Allow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	redisClient := newTestRedisClient(t)
	ctx := context.Background()

	limiter := NewRedisRateLimiter(redisClient, ProviderNameOpenAI, 60, 2)
	defer limiter.Reset(ctx)

	if !limiter.Allow() {
		t.Error("first request should be allowed")
	}
	if !limiter.Allow() {
		t.Error("second request should be allowed")
	}
	if limiter.Allow() {
		t.Error("third request should be denied")
	}

	time.Sleep(1100 * time.Millisecond)

	if !limiter.Allow() {
		t.Error("request after refill should be allowed")
	}
}

func TestRedisRateLimiter_ContextCancellation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	redisClient := newTestRedisClient(t)
	ctx := context.Background()

	limiter := NewRedisRateLimiter(redisClient, ProviderNameOpenAI, 6, 1)
	defer limiter.Reset(ctx)
	_ = limiter.Allow()

	waitCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := limiter.Wait(waitCtx)
	if err == nil {
		t.Error("expected error due to context cancellation")
	}

	rateLimitErr, ok := err.(*RateLimitError)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T: %v", err, err)
	}
	if rateLimitErr.Provider != ProviderNameOpenAI {
		t.Errorf("expected provider openai, got %s", rateLimitErr.Provider)
	}
}

func TestRedisRateLimiter_Distributed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	redisClient := newTestRedisClient(t)
	ctx := context.Background()

	limiter1 := NewRedisRateLimiter(redisClient, ProviderNameOpenAI, 60, 2)
	limiter2 := NewRedisRateLimiter(redisClient, ProviderNameOpenAI, 60, 2)
	defer limiter1.Reset(ctx)

	if err := limiter1.Wait(ctx); err != nil {
		t.Fatalf("first request from limiter1 should succeed: %v", err)
	}
	if err := limiter1.Wait(ctx); err != nil {
		t.Fatalf("second request from limiter1 should succeed: %v", err)
	}

	start := time.Now()
	if err := limiter2.Wait(ctx); err != nil {
		t.Fatalf("request from limiter2 should eventually succeed: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 500*time.Millisecond {
		t.Errorf("expected limiter2 to wait due to shared state, got: %v", elapsed)
	}
}

func TestRedisRateLimiter_Concurrent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	redisClient := newTestRedisClient(t)
	ctx := context.Background()

	limiter := NewRedisRateLimiter(redisClient, ProviderNameOpenAI, 600, 20)
	defer limiter.Reset(ctx)

	concurrency := 30
	var wg sync.WaitGroup
	errCh := make(chan error, concurrency)
	start := time.Now()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Wait(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)
	elapsed := time.Since(start)

	for err := range errCh {
		t.Errorf("concurrent request failed: %v", err)
	}

	if elapsed > 3*time.Second {
		t.Errorf("took too long for concurrent requests: %v", elapsed)
	}
}

func TestRedisRateLimiter_GetStats(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	redisClient := newTestRedisClient(t)
	ctx := context.Background()

	limiter := NewRedisRateLimiter(redisClient, ProviderNameOpenAI, 60, 5)
	defer limiter.Reset(ctx)

	_ = limiter.Allow()
	_ = limiter.Allow()

	tokens, lastUpdate, err := limiter.GetStats(ctx)
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if tokens < 2.5 || tokens > 3.5 {
		t.Errorf("expected ~3 tokens, got %f", tokens)
	}
	if time.Since(lastUpdate) > 5*time.Second {
		t.Errorf("last update too old: %v", lastUpdate)
	}
}

func TestRedisRateLimiter_Reset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	redisClient := newTestRedisClient(t)
	ctx := context.Background()

	limiter := NewRedisRateLimiter(redisClient, ProviderNameOpenAI, 60, 2)

	_ = limiter.Allow()
	_ = limiter.Allow()

	if limiter.Allow() {
		t.Error("third request should be denied")
	}

	if err := limiter.Reset(ctx); err != nil {
		t.Fatalf("failed to reset limiter: %v", err)
	}

	if !limiter.Allow() {
		t.Error("request after reset should be allowed")
	}
}

func TestRedisRateLimiter_LuaScriptAtomic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	redisClient := newTestRedisClient(t)
	ctx := context.Background()

	limiter := NewRedisRateLimiter(redisClient, ProviderNameOpenAI, 60, 1)
	defer limiter.Reset(ctx)

	concurrency := 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow() {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if successCount != 1 {
		t.Errorf("expected exactly 1 success (atomicity test), got %d", successCount)
	}
}

func TestRateLimiterFactory_WithRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	redisClient := newTestRedisClient(t)
	factory := NewRateLimiterFactory(redisClient)
	config := RateLimitConfig{Enabled: true, ReqPerMinute: 100, Burst: 10}

	limiter := factory.Create(ProviderNameOpenAI, config)
	if rl, ok := limiter.(*RedisRateLimiter); !ok {
		t.Errorf("expected RedisRateLimiter with Redis client, got %T", limiter)
	} else {
		defer rl.Reset(context.Background())
	}

	if !limiter.Allow() {
		t.Error("first request should be allowed")
	}
}

func TestRateLimiterFactory_DisabledWithRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	redisClient := newTestRedisClient(t)
	factory := NewRateLimiterFactory(redisClient)
	config := RateLimitConfig{Enabled: false, ReqPerMinute: 100, Burst: 10}

	limiter := factory.Create(ProviderNameOpenAI, config)
	if _, ok := limiter.(*NoOpLimiter); !ok {
		t.Errorf("expected NoOpLimiter when disabled, got %T", limiter)
	}
}

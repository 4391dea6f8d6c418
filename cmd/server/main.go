// Command server is the process entrypoint: it wires configuration, the LLM
// and search providers, the agentic researcher and node pipeline, the
// scheduler factory, and the HTTP surface, then blocks until a shutdown
// signal, following the teacher's cmd/main.go bootstrap shape.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/psychohistory/psychohistory/internal/api"
	"github.com/psychohistory/psychohistory/internal/api/health"
	"github.com/psychohistory/psychohistory/internal/config"
	"github.com/psychohistory/psychohistory/internal/llm"
	"github.com/psychohistory/psychohistory/internal/metrics"
	"github.com/psychohistory/psychohistory/internal/pipeline"
	"github.com/psychohistory/psychohistory/internal/research"
	"github.com/psychohistory/psychohistory/internal/scheduler"
	"github.com/psychohistory/psychohistory/internal/search"
	"github.com/psychohistory/psychohistory/internal/stream"
	"github.com/psychohistory/psychohistory/pkg/errors"
	"github.com/psychohistory/psychohistory/pkg/errortracking/noop"
	"github.com/psychohistory/psychohistory/pkg/errortracking/sentry"
	"github.com/psychohistory/psychohistory/pkg/logger"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	metrics.Init()

	llmProvider, err := buildLLMProvider(cfg)
	if err != nil {
		log.Fatalf("failed to build LLM provider: %v", err)
	}

	searchProvider := buildSearchProvider(cfg)
	searchClient := search.NewClient(searchProvider, search.Config{
		Limit:      cfg.Search.WindowSize,
		Window:     cfg.Search.WindowPeriod,
		MaxRetries: cfg.Search.MaxRetries,
	})

	researcher := research.New(llmProvider, searchClient)
	nodeProcessor := pipeline.New(researcher, llmProvider)

	newBuilder := func() api.Builder {
		return scheduler.New(nodeProcessor, scheduler.Config{
			MaxConcurrent: scheduler.DefaultMaxConcurrent,
		})
	}

	var kafkaSink *stream.KafkaSink
	if cfg.Kafka.Enabled {
		kafkaSink = stream.NewKafkaSink(stream.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				log.Warnw("failed to close kafka sink", "error", err)
			}
		}()
	}

	healthHandler := health.New(log, llmProvider, searchProvider, cfg.App.Name, version)

	server := api.NewServer(api.ServerConfig{
		Port:            cfg.Server.Port,
		ServiceName:     cfg.App.Name,
		Version:         version,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AdmissionPerMin: cfg.Server.AdmissionPerMin,
		AdmissionBurst:  cfg.Server.AdmissionBurst,
		KafkaSink:       kafkaSink,
	}, newBuilder, healthHandler, log)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	log.Info("System initialized successfully")

	waitForShutdown(server, errCh, errorTracker, log)
}

// buildLLMProvider constructs the synthesis/research model provider per
// cfg.LLM.Provider, wiring the optional Redis-backed distributed rate
// limiter when cfg.RateLimit.UseRedis is set.
func buildLLMProvider(cfg *config.Config) (llm.Provider, error) {
	if cfg.LLM.Provider == "mock" {
		return llm.NewMockProvider(), nil
	}

	var redisClient interface{}
	if cfg.RateLimit.UseRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	rateLimiter := llm.NewRateLimiterFactory(redisClient).Create(llm.ProviderNameOpenAI, llm.RateLimitConfig{
		Enabled:      cfg.RateLimit.Enabled,
		ReqPerMinute: cfg.RateLimit.ReqPerMinute,
		Burst:        cfg.RateLimit.Burst,
	})

	return llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:      cfg.LLM.OpenAIKey,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		RateLimiter: rateLimiter,
	})
}

// buildSearchProvider constructs the web search backend per
// cfg.Search.Provider. A misconfigured real provider (e.g. a missing API
// key) falls back to the mock rather than failing startup, since search is
// best-effort evidence gathering, not a required dependency (spec §4.3
// tolerates zero sources).
func buildSearchProvider(cfg *config.Config) search.Provider {
	if cfg.Search.Provider != "tavily" && cfg.Search.Provider != "serpapi" {
		return search.NewMockProvider()
	}

	name := search.ProviderTavily
	if cfg.Search.Provider == "serpapi" {
		name = search.ProviderSerpAPI
	}

	provider, err := search.NewHTTPProvider(search.HTTPConfig{
		Name:    name,
		BaseURL: cfg.Search.BaseURL,
		APIKey:  cfg.Search.APIKey,
		Timeout: cfg.Search.Timeout,
	})
	if err != nil {
		logger.Get().Warnf("search provider %q misconfigured, falling back to mock: %v", cfg.Search.Provider, err)
		return search.NewMockProvider()
	}
	return provider
}

func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// waitForShutdown blocks until a shutdown signal or a fatal server error,
// then drains in-flight requests within the server's shutdown timeout and
// flushes the error tracker.
func waitForShutdown(server *api.Server, errCh <-chan error, errorTracker errors.Tracker, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errCh:
		log.Errorf("HTTP server failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warnf("Graceful shutdown failed: %v", err)
	}

	if errorTracker != nil {
		if err := errorTracker.Flush(ctx); err != nil {
			log.Warnf("Failed to flush error tracker: %v", err)
		}
	}

	log.Info("Shutdown complete")
}

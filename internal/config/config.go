package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/psychohistory/psychohistory/pkg/errors"
)

// Config aggregates every process-wide configuration section. It is loaded
// once at startup via Load and passed down to component constructors.
type Config struct {
	App           AppConfig
	Server        ServerConfig
	LLM           LLMConfig
	Search        SearchConfig
	RateLimit     RateLimitConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	ErrorTracking ErrorTrackingConfig
}

// AppConfig holds process-identity settings used in logging and error
// tracking tags.
type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"psychohistory"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

// ServerConfig configures the HTTP stream endpoint.
type ServerConfig struct {
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"0"` // 0: unbounded, required for SSE streams
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
	AdmissionPerMin float64       `envconfig:"SERVER_ADMISSION_PER_MIN" default:"30"`
	AdmissionBurst  int           `envconfig:"SERVER_ADMISSION_BURST" default:"5"`
}

// LLMConfig configures the synthesis/research model provider.
type LLMConfig struct {
	Provider   string        `envconfig:"LLM_PROVIDER" default:"openai"` // "openai" or "mock"
	OpenAIKey  string        `envconfig:"OPENAI_API_KEY"`
	Model      string        `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	Timeout    time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	MaxRetries int           `envconfig:"LLM_MAX_RETRIES" default:"3"`
}

// SearchConfig configures the agentic researcher's web search tool.
type SearchConfig struct {
	Provider     string        `envconfig:"SEARCH_PROVIDER" default:"mock"` // "tavily", "serpapi", "mock"
	APIKey       string        `envconfig:"SEARCH_API_KEY"`
	BaseURL      string        `envconfig:"SEARCH_BASE_URL"`
	Timeout      time.Duration `envconfig:"SEARCH_TIMEOUT" default:"15s"`
	WindowSize   int           `envconfig:"SEARCH_RATE_WINDOW_SIZE" default:"5"` // max calls per window
	WindowPeriod time.Duration `envconfig:"SEARCH_RATE_WINDOW_PERIOD" default:"1s"`
	MaxRetries   int           `envconfig:"SEARCH_MAX_RETRIES" default:"5"`
}

// RateLimitConfig configures provider-side LLM throttling (internal/llm),
// distinct from SearchConfig's sliding-window limiter.
type RateLimitConfig struct {
	Enabled      bool    `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	ReqPerMinute float64 `envconfig:"RATE_LIMIT_REQ_PER_MIN" default:"500"`
	Burst        int     `envconfig:"RATE_LIMIT_BURST" default:"50"`
	UseRedis     bool    `envconfig:"RATE_LIMIT_USE_REDIS" default:"false"`
}

// RedisConfig is optional: only required when RateLimit.UseRedis is
// enabled.
type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig is optional: only required when the stream's Kafka mirror
// sink is enabled (SPEC_FULL.md §11/§12).
type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `envconfig:"KAFKA_BROKERS"`
	Topic   string   `envconfig:"KAFKA_TOPIC" default:"psychohistory.tree-events"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables, trying to load a
// .env file first (useful for local development; ignored if absent).
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config centralizes service configuration
type Config struct {
	HTTPPort    string   `env:"HTTP_PORT" envDefault:"8080"`
	DataDir     string   `env:"DATA_DIR" envDefault:"./data"`
	ProfileDir  string   `env:"PROFILE_DIR" envDefault:"./data/profiles"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	QueueCapacity           int           `env:"QUEUE_CAPACITY" envDefault:"1000"`
	MaxConcurrentProcessing int           `env:"MAX_CONCURRENT_PROCESSING" envDefault:"10"`
	MaxRetries              int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryInitialDelay       time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"1s"`
	RetryBackoffMultiplier  float64       `env:"RETRY_BACKOFF_MULTIPLIER" envDefault:"2"`
	EnablePrioritization    bool          `env:"ENABLE_PRIORITIZATION" envDefault:"true"`
	DedupWindow             time.Duration `env:"DEDUP_WINDOW" envDefault:"5m"`

	TriggerPolicy   string        `env:"TRIGGER_POLICY" envDefault:"randomized"`
	TriggerSeed     int64         `env:"TRIGGER_SEED" envDefault:"0"`
	EntityStateTTL  time.Duration `env:"ENTITY_STATE_TTL" envDefault:"24h"`
	BreakerFailures int           `env:"FETCH_BREAKER_FAILURES" envDefault:"5"`
	BreakerTimeout  time.Duration `env:"FETCH_BREAKER_TIMEOUT" envDefault:"30s"`

	ScoreCacheTTL       time.Duration `env:"SCORE_CACHE_TTL" envDefault:"5m"`
	EventRatePerMinute  int           `env:"EVENT_RATE_PER_MINUTE" envDefault:"600"`
	NotifyChannelPrefix string        `env:"NOTIFY_CHANNEL_PREFIX" envDefault:"trust:changes"`
}

// Load reads an optional .env file, then parses the environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads configuration from the environment only
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges env tags cannot express
func (c *Config) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive, got %d", c.QueueCapacity)
	}
	if c.MaxConcurrentProcessing <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_PROCESSING must be positive, got %d", c.MaxConcurrentProcessing)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.RetryBackoffMultiplier < 1 {
		return fmt.Errorf("RETRY_BACKOFF_MULTIPLIER must be at least 1, got %g", c.RetryBackoffMultiplier)
	}
	if c.TriggerPolicy != "randomized" && c.TriggerPolicy != "weighted" {
		return fmt.Errorf("TRIGGER_POLICY must be randomized or weighted, got %q", c.TriggerPolicy)
	}
	if c.EventRatePerMinute <= 0 {
		return fmt.Errorf("EVENT_RATE_PER_MINUTE must be positive, got %d", c.EventRatePerMinute)
	}
	return nil
}

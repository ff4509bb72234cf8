// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	StoreDriver       string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	LowStockThreshold int           `mapstructure:"LOW_STOCK_THRESHOLD"`
	KafkaBrokers      []string      `mapstructure:"KAFKA_BROKERS"`
	CORSOrigin        string        `mapstructure:"CORS_ORIGIN"`
	TracingEnabled    bool          `mapstructure:"TRACING_ENABLED"`
	OTLPEndpoint      string        `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate   float64       `mapstructure:"TRACE_SAMPLE_RATE"`
	OutboxInterval    time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize   int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxMaxRetries  int           `mapstructure:"OUTBOX_MAX_RETRIES"`
	NotifierWorkers   int           `mapstructure:"NOTIFIER_WORKERS"`
	NotifierGroup     string        `mapstructure:"NOTIFIER_GROUP"`
	AlertWebhookURL   string        `mapstructure:"ALERT_WEBHOOK_URL"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_DRIVER",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"LOW_STOCK_THRESHOLD", "KAFKA_BROKERS", "CORS_ORIGIN",
	"TRACING_ENABLED", "OTLP_ENDPOINT", "TRACE_SAMPLE_RATE",
	"OUTBOX_POLL_INTERVAL", "OUTBOX_BATCH_SIZE", "OUTBOX_MAX_RETRIES",
	"NOTIFIER_WORKERS", "NOTIFIER_GROUP", "ALERT_WEBHOOK_URL",
}

// Load reads configuration from the environment, falling back to .env.
func Load() (*Config, error) {
	return load(".env")
}

func load(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(file)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("LOW_STOCK_THRESHOLD", 10)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("CORS_ORIGIN", "*")
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)
	v.SetDefault("OUTBOX_POLL_INTERVAL", "500ms")
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("OUTBOX_MAX_RETRIES", 5)
	v.SetDefault("NOTIFIER_WORKERS", 8)
	v.SetDefault("NOTIFIER_GROUP", "stock-notifier")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList flattens comma separated entries, which is how a single env var
// arrives.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration can run.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.LowStockThreshold < 0 {
		return fmt.Errorf("LOW_STOCK_THRESHOLD must not be negative")
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be within [0, 1], got %v", c.TraceSampleRate)
	}
	if c.OutboxInterval <= 0 || c.OutboxBatchSize <= 0 || c.OutboxMaxRetries <= 0 {
		return fmt.Errorf("outbox interval, batch size and max retries must be positive")
	}
	if c.NotifierWorkers <= 0 {
		return fmt.Errorf("NOTIFIER_WORKERS must be positive")
	}
	return nil
}

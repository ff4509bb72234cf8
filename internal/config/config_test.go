package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.LowStockThreshold != 10 || cfg.NotifierGroup != "stock-notifier" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.OutboxInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms poll interval, got %v", cfg.OutboxInterval)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestEnvOverridesAndBrokerList(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://clinic@localhost/medstock")
	t.Setenv("KAFKA_BROKERS", "rp-0:9092, rp-1:9092")
	t.Setenv("OUTBOX_POLL_INTERVAL", "2s")

	cfg, err := load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != DriverPostgres {
		t.Errorf("expected postgres driver, got %q", cfg.StoreDriver)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "rp-1:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.OutboxInterval != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.OutboxInterval)
	}
}

func TestDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("STORE_DRIVER=memory\nLOW_STOCK_THRESHOLD=4\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LowStockThreshold != 4 {
		t.Errorf("expected threshold from file, got %d", cfg.LowStockThreshold)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			StoreDriver:      DriverMemory,
			DBMaxConns:       20,
			DBMinConns:       2,
			TraceSampleRate:  1,
			OutboxInterval:   time.Second,
			OutboxBatchSize:  10,
			OutboxMaxRetries: 3,
			NotifierWorkers:  2,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"memory ok", func(*Config) {}, false},
		{"postgres needs url", func(c *Config) { c.StoreDriver = DriverPostgres }, true},
		{"postgres with url", func(c *Config) { c.StoreDriver = DriverPostgres; c.DatabaseURL = "postgres://x" }, false},
		{"unknown driver", func(c *Config) { c.StoreDriver = "sqlite" }, true},
		{"min over max", func(c *Config) { c.DBMinConns = 30 }, true},
		{"sample rate", func(c *Config) { c.TraceSampleRate = 1.5 }, true},
		{"no workers", func(c *Config) { c.NotifierWorkers = 0 }, true},
		{"zero batch", func(c *Config) { c.OutboxBatchSize = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

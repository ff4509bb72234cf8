// Package main provides the outbox relay service entry point.
// Committed outbox rows are published to the broker in insertion order.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campusclinic/medstock/internal/config"
	"github.com/campusclinic/medstock/internal/infrastructure/postgres"
	"github.com/campusclinic/medstock/internal/infrastructure/redpanda"
	"github.com/campusclinic/medstock/internal/observability/logging"
	"github.com/campusclinic/medstock/internal/observability/metrics"
	"github.com/campusclinic/medstock/internal/observability/tracing"
)

const serviceName = "outbox-relay"

func main() {
	var (
		metricsAddr    string
		retainFor      time.Duration
		maintainEvery  time.Duration
		skipTopicSetup bool
	)
	cmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Publish committed inventory events to the broker",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return run(cfg, metricsAddr, retainFor, maintainEvery, skipTopicSetup)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9101", "address for /metrics")
	cmd.Flags().DurationVar(&retainFor, "retain", 7*24*time.Hour, "how long processed rows are kept")
	cmd.Flags().DurationVar(&maintainEvery, "maintenance-interval", time.Minute, "dead-letter and cleanup interval")
	cmd.Flags().BoolVar(&skipTopicSetup, "skip-topic-setup", false, "do not create topics on start")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, metricsAddr string, retainFor, maintainEvery time.Duration, skipTopicSetup bool) error {
	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, tracing.FromConfig(serviceName, cfg))
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.Background())

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	if !skipTopicSetup {
		admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
		if err != nil {
			return err
		}
		err = admin.EnsureTopics(ctx)
		admin.Close()
		if err != nil {
			return err
		}
	}

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		return err
	}
	defer producer.Close()
	if err := producer.Ping(ctx); err != nil {
		return err
	}
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	m := metrics.New(prometheus.DefaultRegisterer)
	go serveMetrics(ctx, metricsAddr, m, logger)

	relayCfg := postgres.RelayConfig{
		BatchSize:    cfg.OutboxBatchSize,
		PollInterval: cfg.OutboxInterval,
		MaxRetries:   cfg.OutboxMaxRetries,
	}
	relay := postgres.NewRelay(pool, producer, relayCfg, m, logger)
	relay.Start()
	logger.Info("outbox relay started",
		zap.Int("batch_size", relayCfg.BatchSize),
		zap.Duration("poll_interval", relayCfg.PollInterval))

	ticker := time.NewTicker(maintainEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			relay.Stop()
			s := producer.Stats()
			logger.Info("outbox relay stopped",
				zap.Int64("messages_sent", s.MessagesSent),
				zap.Int64("errors", s.ErrorCount))
			return nil
		case <-ticker.C:
			maintain(ctx, relay, retainFor, logger)
		}
	}
}

func maintain(ctx context.Context, relay *postgres.Relay, retainFor time.Duration, logger *zap.Logger) {
	if n, err := relay.MoveToDeadLetter(ctx); err != nil {
		logger.Error("dead-letter sweep failed", zap.Error(err))
	} else if n > 0 {
		logger.Warn("moved outbox entries to dead letter", zap.Int64("count", n))
	}
	if n, err := relay.CleanupProcessed(ctx, retainFor); err != nil {
		logger.Error("outbox cleanup failed", zap.Error(err))
	} else if n > 0 {
		logger.Debug("cleaned processed outbox entries", zap.Int64("count", n))
	}
	stats, err := relay.Stats(ctx)
	if err != nil {
		logger.Error("outbox stats failed", zap.Error(err))
		return
	}
	logger.Info("outbox backlog",
		zap.Int64("pending", stats.Pending),
		zap.Int64("failed", stats.Failed),
		zap.Int64("processed_24h", stats.Processed))
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", zap.Error(err))
	}
}

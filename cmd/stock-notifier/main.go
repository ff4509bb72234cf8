// Package main provides the stock notifier entry point.
// Consumes stock alerts, stores one alert per medicine and day and forwards
// it to the configured webhook.
package main

import (
	"context"
	"encoding/json"
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
	"github.com/campusclinic/medstock/internal/notify"
	"github.com/campusclinic/medstock/internal/observability/logging"
	"github.com/campusclinic/medstock/internal/observability/metrics"
	"github.com/campusclinic/medstock/internal/observability/tracing"
	"github.com/campusclinic/medstock/pkg/circuitbreaker"
	"github.com/campusclinic/medstock/pkg/idempotency"
	"github.com/campusclinic/medstock/pkg/workerpool"
)

const serviceName = "stock-notifier"

func main() {
	var (
		metricsAddr string
		lagEvery    time.Duration
	)
	cmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Store and forward low stock alerts",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return run(cfg, metricsAddr, lagEvery)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9102", "address for /metrics and /health")
	cmd.Flags().DurationVar(&lagEvery, "lag-interval", 30*time.Second, "consumer lag report interval")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, metricsAddr string, lagEvery time.Duration) error {
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

	if err := redpanda.HealthCheck(ctx, cfg.KafkaBrokers); err != nil {
		return err
	}
	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		return err
	}
	defer admin.Close()
	if err := admin.EnsureTopics(ctx); err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	if n, err := inbox.RecoverStaleEntries(ctx); err != nil {
		logger.Warn("inbox recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered stale inbox entries", zap.Int64("count", n))
	}
	inbox.StartCleanup()
	defer inbox.Stop()

	var (
		forwarder notify.Forwarder
		breakers  *circuitbreaker.Manager
	)
	if cfg.AlertWebhookURL != "" {
		tmpl := circuitbreaker.DefaultConfig("")
		tmpl.OnStateChange = func(name string, to circuitbreaker.State) {
			m.SetBreakerState(name, to.Gauge())
		}
		breakers = circuitbreaker.NewManager(tmpl, logger)
		wh, err := notify.NewWebhook(cfg.AlertWebhookURL, breakers, nil, logger)
		if err != nil {
			return err
		}
		forwarder = wh
	}

	dispatcher := notify.NewDispatcher(inbox, postgres.NewAlertStore(pool), forwarder, m, logger)

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.NotifierWorkers
	poolCfg.Retryable = notify.Retryable
	workers, err := workerpool.New(poolCfg, dispatcher.WorkerFunc(), logger)
	if err != nil {
		return err
	}
	workers.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = cfg.NotifierGroup
	consumer, err := redpanda.NewConsumer(consumerCfg, notify.ConsumerHandler(workers), logger)
	if err != nil {
		return err
	}
	consumer.Start()
	logger.Info("stock notifier started",
		zap.String("group", consumerCfg.GroupID),
		zap.Int("workers", poolCfg.Workers))

	go serveOps(ctx, metricsAddr, m, workers, breakers, logger)

	ticker := time.NewTicker(lagEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			if err := consumer.Stop(); err != nil {
				logger.Error("consumer stop failed", zap.Error(err))
			}
			if err := workers.Stop(); err != nil {
				logger.Error("worker pool stop failed", zap.Error(err))
			}
			logger.Info("stock notifier stopped")
			return nil
		case <-ticker.C:
			lag, err := admin.GroupLag(ctx, consumerCfg.GroupID)
			if err != nil {
				logger.Warn("lag lookup failed", zap.Error(err))
				continue
			}
			s := consumer.Stats()
			logger.Info("consumer progress",
				zap.Any("lag", lag),
				zap.Int64("messages_read", s.MessagesRead),
				zap.Int64("errors", s.ErrorCount),
				zap.Int("queue_depth", workers.Stats().QueueDepth))
		}
	}
}

func serveOps(ctx context.Context, addr string, m *metrics.Metrics, workers *workerpool.Pool, breakers *circuitbreaker.Manager, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !workers.IsHealthy() {
			http.Error(w, "worker queue backed up", http.StatusServiceUnavailable)
			return
		}
		status := map[string]interface{}{"status": "healthy", "service": serviceName}
		if breakers != nil {
			status["breakers"] = breakers.Health()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("ops server failed", zap.Error(err))
	}
}

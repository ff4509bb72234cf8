// Package main provides the clinic inventory API entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campusclinic/medstock/internal/api/handlers"
	"github.com/campusclinic/medstock/internal/api/middleware"
	"github.com/campusclinic/medstock/internal/config"
	"github.com/campusclinic/medstock/internal/engine"
	"github.com/campusclinic/medstock/internal/infrastructure/memory"
	"github.com/campusclinic/medstock/internal/infrastructure/postgres"
	"github.com/campusclinic/medstock/internal/notify"
	"github.com/campusclinic/medstock/internal/observability/logging"
	"github.com/campusclinic/medstock/internal/observability/metrics"
	"github.com/campusclinic/medstock/internal/observability/tracing"
	"github.com/campusclinic/medstock/internal/reporting"
	"github.com/campusclinic/medstock/internal/store"
	"github.com/campusclinic/medstock/pkg/circuitbreaker"
	"github.com/campusclinic/medstock/pkg/idempotency"
)

const serviceName = "medstock-api"

func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Clinic medicine inventory API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the inventory API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *postgres.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *postgres.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, s := range statuses {
					state := "pending"
					if s.Applied {
						state = "applied " + s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Printf("%03d  %-32s %s\n", s.Version, s.Name, state)
				}
				return nil
			})
		},
	})
	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *postgres.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, postgres.NewMigrator(pool))
}

func runServer(cfg *config.Config) error {
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

	m := metrics.New(prometheus.DefaultRegisterer)

	var (
		uow    store.UnitOfWork
		alerts reporting.AlertReader
		pool   *pgxpool.Pool
		relay  *notify.LocalRelay
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err = postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info("connected to database")
		uow = postgres.NewUnitOfWork(pool, logger)
		alerts = postgres.NewAlertStore(pool)
	default:
		mem := memory.New()
		alertStore := memory.NewAlertStore()
		uow, alerts = mem, alertStore

		forwarder, err := webhookFor(cfg, m, logger)
		if err != nil {
			return err
		}
		d := notify.NewDispatcher(idempotency.NewMemoryInbox(), alertStore, forwarder, m, logger)
		relay = notify.NewLocalRelay(mem, d, cfg.OutboxInterval, cfg.OutboxBatchSize, logger)
		relay.Start()
		defer relay.Stop()
		logger.Warn("using in-memory store; data is lost on restart")
	}

	e := engine.New(uow, logger,
		engine.WithMetrics(m),
		engine.WithCorrelation(middleware.GetRequestID),
		engine.WithDefaultReorderLevel(cfg.LowStockThreshold),
	)
	reports := reporting.New(uow, alerts)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORSOrigin))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/checkups", handlers.NewCheckupHandler(e, reports, logger).Routes())
		r.Mount("/observations", handlers.NewObservationHandler(e, reports, logger).Routes())
		r.Mount("/medicines", handlers.NewMedicineHandler(e, reports, logger).Routes())
		r.Mount("/stock", handlers.NewStockHandler(e, reports, logger).Routes())
		r.Mount("/alerts", handlers.NewAlertHandler(reports, logger).Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting inventory API",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreDriver))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// webhookFor returns nil when no webhook is configured.
func webhookFor(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (notify.Forwarder, error) {
	if cfg.AlertWebhookURL == "" {
		return nil, nil
	}
	tmpl := circuitbreaker.DefaultConfig("")
	tmpl.OnStateChange = func(name string, to circuitbreaker.State) {
		m.SetBreakerState(name, to.Gauge())
	}
	return notify.NewWebhook(cfg.AlertWebhookURL, circuitbreaker.NewManager(tmpl, logger), nil, logger)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":%q,"version":"1.0.0"}`, serviceName)
}

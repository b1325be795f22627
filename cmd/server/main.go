package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"aidtrace/internal/platform/config"
	"aidtrace/internal/platform/httpserver"
	"aidtrace/internal/platform/logger"
	platformmetrics "aidtrace/internal/platform/metrics"
	platformmw "aidtrace/internal/platform/middleware"
	"aidtrace/internal/platform/postgres"
	"aidtrace/internal/platform/redis"
	"aidtrace/internal/verification/anchor"
	"aidtrace/internal/verification/anchor/neo"
	"aidtrace/internal/verification/cache"
	"aidtrace/internal/verification/events"
	"aidtrace/internal/verification/handler"
	"aidtrace/internal/verification/metrics"
	"aidtrace/internal/verification/refresher"
	"aidtrace/internal/verification/service"
	"aidtrace/internal/verification/store"
	"aidtrace/pkg/platform/circuit"
	"aidtrace/pkg/platform/httputil"
)

// infra holds the optional backing services so main can close them in order.
type infra struct {
	db      *sql.DB
	redis   *redis.Client
	kafka   *events.KafkaPublisher
	backend *neo.Backend
}

func (i *infra) Close() {
	if i.kafka != nil {
		i.kafka.Close()
	}
	if i.backend != nil {
		i.backend.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

// main wires dependencies, serves the HTTP API and runs the pending refresher
// until SIGINT or SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("aidtrace stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := platformmetrics.NewRegistry()
	verificationMetrics := metrics.New(reg)

	deps := &infra{}
	defer deps.Close()

	ledger, err := buildLedger(ctx, cfg, log, deps)
	if err != nil {
		return err
	}
	confirmations, err := buildCache(ctx, cfg, log, deps)
	if err != nil {
		return err
	}
	publisher, err := buildPublisher(ctx, cfg, log, deps)
	if err != nil {
		return err
	}
	anchorClient, err := buildAnchor(cfg, log, verificationMetrics, deps)
	if err != nil {
		return err
	}

	svc, err := service.New(ledger, anchorClient,
		service.WithLogger(log),
		service.WithMetrics(verificationMetrics),
		service.WithCache(confirmations),
		service.WithEventPublisher(publisher),
		service.WithEventTimeout(cfg.Kafka.DeliveryTimeout),
	)
	if err != nil {
		return err
	}

	router := newRouter(log, reg, handler.New(svc, log), deps)
	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting aidtrace",
			"addr", cfg.Server.Addr,
			"anchor_live", anchorClient.Live(),
			"ledger", ledgerKind(deps.db),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Verification.RefreshEnabled {
		r, err := refresher.New(svc, cfg.Verification.RefreshSchedule, cfg.Verification.RefreshBatchSize,
			refresher.WithLogger(log),
		)
		if err != nil {
			return err
		}
		g.Go(func() error { return r.Run(gctx) })
	}
	return g.Wait()
}

func buildLedger(ctx context.Context, cfg *config.Config, log *slog.Logger, deps *infra) (service.Ledger, error) {
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if db == nil {
		log.Warn("DATABASE_URL not set, verification ledger is in memory")
		return store.NewInMemory(), nil
	}
	deps.db = db
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx, db); err != nil {
			return nil, err
		}
	}
	return store.NewPostgres(db), nil
}

func buildCache(ctx context.Context, cfg *config.Config, log *slog.Logger, deps *infra) (service.ConfirmationCache, error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Info("REDIS_URL not set, confirmation cache disabled")
		return cache.Noop{}, nil
	}
	deps.redis = client
	return cache.NewRedisCache(client.Client, cfg.Redis.ConfirmedTTL), nil
}

func buildPublisher(ctx context.Context, cfg *config.Config, log *slog.Logger, deps *infra) (service.EventPublisher, error) {
	brokers := cfg.Kafka.BrokerList()
	if len(brokers) == 0 {
		log.Info("KAFKA_BROKERS not set, verification events disabled")
		return events.Noop{}, nil
	}
	p, err := events.NewKafkaPublisher(brokers, cfg.Kafka.Topic,
		events.WithLogger(log),
		events.WithDeliveryTimeout(cfg.Kafka.DeliveryTimeout),
	)
	if err != nil {
		return nil, err
	}
	deps.kafka = p
	if err := p.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
		log.Warn("could not ensure verification topic", "topic", cfg.Kafka.Topic, "error", err)
	}
	return p, nil
}

func buildAnchor(cfg *config.Config, log *slog.Logger, m *metrics.Metrics, deps *infra) (*anchor.Client, error) {
	opts := []anchor.Option{
		anchor.WithLogger(log),
		anchor.WithMetrics(m),
		anchor.WithCallTimeout(cfg.Anchor.CallTimeout),
		anchor.WithBatchConcurrency(cfg.Verification.BatchConcurrency),
		anchor.WithBreaker(circuit.New("anchor",
			circuit.WithFailureThreshold(cfg.Anchor.FailureThreshold),
			circuit.WithSuccessThreshold(cfg.Anchor.SuccessThreshold),
			circuit.WithCooldown(cfg.Anchor.BreakerCooldown),
		)),
	}
	if !cfg.Anchor.Enabled() {
		log.Warn("ANCHOR_RPC_URL not set, fingerprints are anchored in simulated mode")
		return anchor.New(nil, opts...), nil
	}
	backend, err := neo.New(neo.Config{
		RPCURL:         cfg.Anchor.RPCURL,
		ContractHash:   cfg.Anchor.ContractHash,
		PrivateKeyHex:  cfg.Anchor.PrivateKeyHex,
		DialTimeout:    cfg.Anchor.DialTimeout,
		RequestTimeout: cfg.Anchor.CallTimeout,
	}, neo.WithLogger(log))
	if err != nil {
		return nil, err
	}
	deps.backend = backend
	log.Info("anchor configured", "rpc_url", cfg.Anchor.RPCURL, "account", backend.Address())
	return anchor.New(backend, opts...), nil
}

func newRouter(log *slog.Logger, reg *prometheus.Registry, h *handler.Handler, deps *infra) http.Handler {
	httpMetrics := platformmetrics.NewHTTP(reg)

	r := chi.NewRouter()
	r.Use(platformmw.RequestID)
	r.Use(platformmw.RequestTime)
	r.Use(middleware.RealIP)
	r.Use(platformmw.Recover(log))
	r.Use(platformmw.AccessLog(log))
	r.Use(httpMetrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		if deps.db != nil {
			if err := deps.db.PingContext(ctx); err != nil {
				status["database"] = "unavailable"
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		if deps.redis != nil {
			if err := deps.redis.Health(ctx); err != nil {
				status["redis"] = "unavailable"
				status["status"] = "degraded"
			}
		}
		httputil.WriteJSON(w, code, status)
	})
	r.Handle("/metrics", platformmetrics.Handler(reg))
	h.Register(r)
	return r
}

func ledgerKind(db *sql.DB) string {
	if db == nil {
		return "memory"
	}
	return "postgres"
}

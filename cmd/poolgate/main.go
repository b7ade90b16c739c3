package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	pghttp "github.com/Strob0t/PoolGate/internal/adapter/http"
	pgnats "github.com/Strob0t/PoolGate/internal/adapter/nats"
	"github.com/Strob0t/PoolGate/internal/adapter/natskv"
	"github.com/Strob0t/PoolGate/internal/adapter/otel"
	"github.com/Strob0t/PoolGate/internal/adapter/postgres"
	"github.com/Strob0t/PoolGate/internal/adapter/prom"
	"github.com/Strob0t/PoolGate/internal/adapter/ristretto"
	"github.com/Strob0t/PoolGate/internal/adapter/tiered"
	"github.com/Strob0t/PoolGate/internal/adapter/ws"
	"github.com/Strob0t/PoolGate/internal/config"
	"github.com/Strob0t/PoolGate/internal/domain/pool"
	"github.com/Strob0t/PoolGate/internal/logger"
	"github.com/Strob0t/PoolGate/internal/middleware"
	"github.com/Strob0t/PoolGate/internal/port/cache"
	"github.com/Strob0t/PoolGate/internal/registry"
	"github.com/Strob0t/PoolGate/internal/resilience"
	"github.com/Strob0t/PoolGate/internal/secrets"
	"github.com/Strob0t/PoolGate/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pool_max_size", cfg.Pool.MaxSize,
		"sweeper_interval", cfg.Sweeper.Interval,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	vault, err := secrets.NewVault(secrets.PrefixLoader(cfg.Secrets.EnvPrefix))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	log.Info("credential vault loaded", "keys", len(vault.Keys()))

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	connector := postgres.NewConnector(vault, breaker, log)

	reg := registry.New(connector, pool.PingProber(cfg.Pool.HealthCheckTimeout), poolDefaults(cfg.Pool))
	svc := service.NewPoolManager(reg, log)

	// --- Events ---

	hub := ws.NewHub()
	svc.SetBroadcaster(hub)

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}
	svc.SetMetrics(metrics)

	statsL1, err := ristretto.New(cfg.Cache.StatsSizeMB << 20)
	if err != nil {
		return fmt.Errorf("stats cache: %w", err)
	}
	defer statsL1.Close()
	var statsCache cache.Cache = statsL1

	var queue *pgnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = pgnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		svc.SetQueue(queue)
		log.Info("nats connected", "url", cfg.NATS.URL)

		// Shared stats tier so replicas agree on snapshots within the TTL.
		if kv, kvErr := queue.KeyValue(ctx, "poolgate-stats", cfg.Cache.StatsTTL); kvErr == nil {
			statsCache = tiered.New(statsL1, natskv.New(kv), cfg.Cache.StatsTTL)
		} else {
			log.Warn("stats KV bucket unavailable, using local cache only", "error", kvErr)
		}
	}
	svc.SetStatsCache(statsCache, cfg.Cache.StatsTTL)

	// --- Background loops ---

	sweeper := registry.NewSweeper(reg, cfg.Sweeper.Interval, svc.EvictPool)
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go sweeper.Run(sweepCtx)

	shutdownTracer, err := otel.InitTracer(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(limiter.Handler)
	r.Use(pghttp.SecurityHeaders)
	r.Use(pghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(pghttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	handlers := pghttp.NewHandlers(svc)
	pghttp.MountRoutes(r, handlers, prom.Handler(reg), http.HandlerFunc(hub.HandleWS))

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	cancelSweep()
	if err := reg.Close(shutdownCtx); err != nil {
		log.Warn("registry close", "error", err)
	}
	hub.CloseAll()
	if queue != nil {
		if err := queue.Drain(); err != nil {
			log.Warn("nats drain", "error", err)
		}
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn("tracer shutdown", "error", err)
	}

	log.Info("shutdown complete")
	return nil
}

// poolDefaults maps the server-level pool defaults onto a pool.Config.
// Provisioning requests override any of these per tenant.
func poolDefaults(p config.Pool) pool.Config {
	return pool.Config{
		MaxSize:             p.MaxSize,
		AcquireTimeout:      p.AcquireTimeout,
		IdleTTL:             p.IdleTTL,
		ShrinkIdleAfter:     p.ShrinkIdleAfter,
		LeaseTTL:            p.LeaseTTL,
		HealthCheckTimeout:  p.HealthCheckTimeout,
		HealthCheckInterval: p.HealthCheckInterval,
		ProvisionTimeout:    p.ProvisionTimeout,
		DrainGrace:          p.DrainGrace,
	}
}

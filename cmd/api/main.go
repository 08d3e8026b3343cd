package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/clinicdesk/booking-engine/internal/api/handlers"
	"github.com/clinicdesk/booking-engine/internal/api/router"
	"github.com/clinicdesk/booking-engine/internal/audit"
	"github.com/clinicdesk/booking-engine/internal/catalog"
	"github.com/clinicdesk/booking-engine/internal/config"
	"github.com/clinicdesk/booking-engine/internal/observability/metrics"
	"github.com/clinicdesk/booking-engine/internal/workflow"
	"github.com/clinicdesk/booking-engine/pkg/logging"
)

func main() {
	// Local development convenience; in deployed environments the
	// file is absent and the real environment wins.
	_ = godotenv.Load()

	cfg := config.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking-engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bookingMetrics := metrics.NewBookingMetrics(registry)

	catalogClient := catalog.NewClient(cfg.CatalogBaseURL, cfg.CatalogAPIKey, cfg.CatalogTimeout, logger)

	// Sessions live in Redis when it is reachable so a dashboard can
	// survive an API restart mid-wizard; otherwise they stay in-process.
	var store workflow.SessionStore = workflow.NewMemoryStore()
	if cfg.RedisAddr != "" {
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable, falling back to in-memory sessions", "error", err)
		} else {
			store = workflow.NewRedisStore(redisClient, cfg.SessionTTL, otel.Tracer("clinicdesk.internal.workflow"))
			logger.Info("session store connected", "addr", cfg.RedisAddr, "ttl", cfg.SessionTTL)
		}
	}

	// The audit trail is optional: without a database the wizard still
	// works, transitions just are not persisted.
	var auditTrail workflow.AuditTrail
	if cfg.DatabaseURL != "" {
		poolCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := pgxpool.New(poolCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		auditTrail = audit.NewStore(pool)
		logger.Info("audit trail enabled")
	}

	service := workflow.NewService(catalogClient, store, auditTrail, bookingMetrics, logger)
	bookingHandler := handlers.NewBookingHandler(service, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		BookingHandler:     bookingHandler,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		DashboardJWTSecret: cfg.DashboardJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

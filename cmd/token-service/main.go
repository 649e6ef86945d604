package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"qms/token-service/internal/config"
	"qms/token-service/internal/httpapi"
	"qms/token-service/internal/hub"
	"qms/token-service/internal/logging"
	"qms/token-service/internal/notify"
	"qms/token-service/internal/queue"
	"qms/token-service/internal/store/postgres"
	"qms/token-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const serviceName = "token-service"

func main() {
	cfg := config.Load()
	logger, err := logging.New(serviceName, logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTelemetry := telemetry.Setup(serviceName, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	st := postgres.NewStore(pool, postgres.Options{BcryptCost: cfg.BcryptCost})
	h := hub.New(logger.Named("hub"))

	publishers := []notify.Publisher{h}
	if cfg.RedisURL != "" {
		redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		publisher, err := notify.NewRedisPublisher(redisCtx, cfg.RedisURL, cfg.NotifyChannel)
		cancel()
		if err != nil {
			logger.Warn("redis publisher disabled", zap.Error(err))
		} else {
			defer func() { _ = publisher.Close() }()
			publishers = append(publishers, publisher)
		}
	}
	if cfg.WebhookURL != "" {
		publishers = append(publishers, notify.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookToken))
	}
	dispatcher := notify.NewDispatcher(logger.Named("notify"), notify.Config{Buffer: cfg.NotifyBuffer}, publishers...)
	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Run(context.Background())
		close(dispatcherDone)
	}()

	manager := queue.NewManager(st, dispatcher, logger.Named("queue"))
	handler := httpapi.NewHandler(manager, logger.Named("http"), httpapi.Options{
		Realtime: hub.SockJSHandler(h, "/realtime"),
		Ready: func(r *http.Request) error {
			return pool.Ping(r.Context())
		},
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		BranchPerMinute: cfg.BranchRateLimitPerMinute,
		BranchBurst:     cfg.BranchRateLimitBurst,
	})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Sweep(10 * time.Minute)
			}
		}
	}()

	api := httpapi.AuthMiddleware(manager, logger, httpapi.TimeoutMiddleware(cfg.RequestTimeout, handler.Routes()))
	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(api)), serviceName)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	dispatcher.Close()
	<-dispatcherDone
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"lead-agent-orchestrator/internal/agent"
	"lead-agent-orchestrator/internal/api"
	"lead-agent-orchestrator/internal/archive"
	"lead-agent-orchestrator/internal/broadcast"
	"lead-agent-orchestrator/internal/config"
	"lead-agent-orchestrator/internal/entitlement"
	"lead-agent-orchestrator/internal/leads"
	"lead-agent-orchestrator/internal/planner"
	"lead-agent-orchestrator/internal/queue"
	"lead-agent-orchestrator/internal/ratelimit"
	"lead-agent-orchestrator/internal/scheduler"
	"lead-agent-orchestrator/internal/store"
	"lead-agent-orchestrator/internal/telemetry"
	"lead-agent-orchestrator/internal/vault"
)

func main() {
	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.Env == "dev" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.NewPostgres(pool)
	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("run migrations", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}

	v, err := vault.NewRedis(redisClient, cfg.VaultKeyHex)
	if err != nil {
		logger.Error("open credential vault", "error", err)
		os.Exit(1)
	}

	leadStore := leads.NewPostgres(pool)
	registry := agent.NewRegistry(entitlement.NewPostgres(pool), logger)
	registry.Register("falcon", agent.NewFalcon)
	registry.Register("sage", agent.NewSage)
	cache := agent.NewTenantCache(registry, v, agent.Deps{
		Leads:      leadStore,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logger,
	}, logger)

	var archiver scheduler.Archiver
	if cfg.ArchiveBucket != "" {
		a, err := archive.NewS3Archiver(ctx, cfg, logger)
		if err != nil {
			logger.Error("init archiver", "error", err)
			os.Exit(1)
		}
		archiver = a
	}

	broadcaster := broadcast.New(logger)
	q := queue.NewRedisQueue(redisClient)
	sched := scheduler.New(cfg, st, q, cache, registry, broadcaster, archiver, logger)

	if err := sched.Recover(ctx); err != nil {
		logger.Error("recover active jobs", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler stopped", "error", err)
		}
	}()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	limiter := ratelimit.NewTenantLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	server := api.New(cfg, sched, planner.New(leadStore), st, broadcaster, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("engine listening", "port", cfg.HTTPPort, "workers", cfg.Workers, "agents", registry.Types())
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/api"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/cache"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/config"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/database"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/errors"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/monitoring"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/ratelimit"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/trust"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Structured logging setup
	appLogger := monitoring.NewLogger(cfg.LogLevel)
	slog.SetDefault(appLogger.Logger)
	appMetrics := monitoring.NewMetrics()

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer errors.SafeClose(db, "database")

	redisClient, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Warn("Redis unavailable, continuing without it", "error", err)
	}
	defer errors.SafeClose(redisClient, "redis")

	service, err := trust.NewService(trust.Options{
		Config:  cfg,
		DB:      db,
		Redis:   redisClient,
		Logger:  appLogger,
		Metrics: appMetrics,
	})
	if err != nil {
		slog.Error("Failed to build scoring pipeline", "error", err)
		os.Exit(1)
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	service.Start(rootCtx)

	collector := monitoring.NewRuntimeCollector(appMetrics, appLogger, 30*time.Second, 512*1024*1024)
	go collector.Run(rootCtx)

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.EventLimitPerMin = cfg.EventRatePerMinute
	limiter := ratelimit.NewRateLimiter(redisClient, limiterCfg, appMetrics)
	defer limiter.Close()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := api.NewRouter(api.Dependencies{
		Service:     service,
		Limiter:     limiter,
		Metrics:     appMetrics,
		Logger:      appLogger,
		CORSOrigins: cfg.CORSOrigins,
	})

	// Performance profiling endpoints (development only)
	if os.Getenv("ENABLE_PROFILING") == "true" {
		slog.Info("Enabling performance profiling endpoints")
		r.GET("/debug/pprof/*filepath", gin.WrapF(pprof.Index))
		r.GET("/debug/pprof/cmdline", gin.WrapF(pprof.Cmdline))
		r.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
		r.GET("/debug/pprof/symbol", gin.WrapF(pprof.Symbol))
		r.GET("/debug/pprof/trace", gin.WrapF(pprof.Trace))
	}

	// Start server with graceful shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.HTTPPort, "trigger_policy", cfg.TriggerPolicy)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Stop accepting work before the stores close
	service.Stop()
	cancelRoot()

	slog.Info("Server exited", "processing", service.GetProcessingStats())
}

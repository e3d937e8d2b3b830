package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/limitgate/limitgate/pkg/config"
	handlers "github.com/limitgate/limitgate/pkg/handlers/http"
	"github.com/limitgate/limitgate/pkg/infra/breaker"
	infraCache "github.com/limitgate/limitgate/pkg/infra/cache"
	infraLogger "github.com/limitgate/limitgate/pkg/infra/logger"
	"github.com/limitgate/limitgate/pkg/infra/prometheus"
	"github.com/limitgate/limitgate/pkg/middleware"
	"github.com/limitgate/limitgate/pkg/ratelimit"
	"github.com/limitgate/limitgate/pkg/server"
	"github.com/limitgate/limitgate/pkg/version"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	if err := config.Load("./config"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.GetConfig()

	logger := infraLogger.NewLogger(cfg.Server.LogLevel)
	logger.WithField("version", version.Version).Info("starting limitgate")
	prometheus.Initialize()

	cacheClient, err := infraCache.NewClient(infraCache.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TLS:      cfg.Redis.TLS,
	}, logger)
	if err != nil {
		logger.Fatalf("failed to initialize redis client: %v", err)
	}
	defer cacheClient.Close()

	registry := ratelimit.NewLimiterRegistry(logger, &ratelimit.RegistryOpts{
		Capacity: cfg.RateLimit.RegistryCapacity,
		IdleTTL:  cfg.RateLimit.IdleTTL,
	})
	defer registry.Close()

	var cb breaker.CircuitBreaker = breaker.NoopCircuitBreaker{}
	if cfg.RateLimit.Breaker.Enabled {
		cb = breaker.NewCircuitBreaker(
			"redis-rate-limit",
			cfg.RateLimit.Breaker.Timeout,
			cfg.RateLimit.Breaker.MaxFailures,
		)
	}

	orchestrator := ratelimit.NewOrchestrator(
		registry,
		ratelimit.NewWindowCounter(cacheClient.RedisClient()),
		ratelimit.NewFallbackController(registry, cfg.RateLimit.FallbackRatio, logger),
		ratelimit.NewKeyResolver(logger),
		ratelimit.NewRateResolver(config.Lookup(), logger),
		cb,
		logger,
	)

	transport := middleware.Transport{
		PanicRecoverMiddleware: middleware.NewPanicRecoverMiddleware(logger),
		MetricsMiddleware:      middleware.NewMetricsMiddleware(logger),
		GlobalIngressMiddleware: middleware.NewGlobalIngressMiddleware(
			orchestrator,
			cfg.RateLimit.Ingress.Rate,
			cfg.RateLimit.Ingress.Limit,
			cfg.RateLimit.Ingress.Window,
			logger,
		),
	}

	handlerTransport := handlers.HandlerTransport{
		CheckHandler:      handlers.NewCheckHandler(logger, orchestrator),
		GetVersionHandler: handlers.NewGetVersionHandler(logger),
	}

	srv := server.New(cfg, logger, transport, handlerTransport)

	go func() {
		if err := srv.Run(); err != nil {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	fmt.Println("shutting down server...")
	if err := srv.Shutdown(); err != nil {
		fmt.Println("error shutting down server:", err)
		os.Exit(1)
	}
	fmt.Println("server gracefully stopped")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	echoapi "github.com/sandboxhq/devicelink/api/echo"
	"github.com/sandboxhq/devicelink/bboltdb"
	"github.com/sandboxhq/devicelink/config"
	"github.com/sandboxhq/devicelink/domain"
	"github.com/sandboxhq/devicelink/internal/metrics"
	applog "github.com/sandboxhq/devicelink/log"
	"github.com/sandboxhq/devicelink/memory"
	"github.com/sandboxhq/devicelink/middleware"
	"github.com/sandboxhq/devicelink/mongodb"
	"github.com/sandboxhq/devicelink/notify"
	"github.com/sandboxhq/devicelink/redisdb"
	"github.com/sandboxhq/devicelink/services"
	"github.com/sandboxhq/devicelink/tracing"
	"github.com/sandboxhq/devicelink/upstream"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	logger := applog.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx := context.Background()
	logger.Info(ctx, "Starting devicelink server", map[string]any{
		"http_port":     cfg.HTTPPort,
		"store_backend": cfg.StoreBackend,
		"log_level":     logLevel.String(),
		"providers":     len(cfg.Providers),
	})

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize tracer provider", err)
	}

	metrics.Init(prometheus.DefaultRegisterer)

	// Flow store selection.
	var store domain.FlowRepository
	var vault domain.CredentialVault

	switch cfg.StoreBackend {
	case "mongo":
		db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			logger.Fatal(ctx, "Failed to connect to MongoDB", err)
		}
		mongoStore, err := mongodb.NewFlowRepository(ctx, db)
		if err != nil {
			logger.Fatal(ctx, "Failed to initialize Mongo flow repository", err)
		}
		mongoVault, err := mongodb.NewCredentialRepository(ctx, db)
		if err != nil {
			logger.Fatal(ctx, "Failed to initialize Mongo credential repository", err)
		}
		store, vault = mongoStore, mongoVault
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal(ctx, "Failed to connect to Redis", err)
		}
		store = redisdb.NewFlowRepository(client, cfg.RedisPrefix)
	case "bbolt":
		boltStore, err := bboltdb.NewFlowRepository(cfg.BBoltPath)
		if err != nil {
			logger.Fatal(ctx, "Failed to open bbolt flow repository", err)
		}
		defer boltStore.Close()
		store = boltStore
	case "memory":
		store = memory.NewFlowRepository()
	default:
		logger.Fatal(ctx, "Unknown store backend", nil, map[string]any{"store_backend": cfg.StoreBackend})
	}

	// Redis/bbolt/memory deployments still need a vault; without Mongo the
	// only built-in option is Mongo-backed, so require it explicitly.
	if vault == nil {
		db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			logger.Fatal(ctx, "Credential vault requires MongoDB", err)
		}
		vault, err = mongodb.NewCredentialRepository(ctx, db)
		if err != nil {
			logger.Fatal(ctx, "Failed to initialize Mongo credential repository", err)
		}
	}

	var notifier domain.Notifier = notify.NoopNotifier{}
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, 0)
	}

	registry := services.NewProviderRegistry(cfg.Providers)
	authorizer := upstream.NewClient(time.Duration(cfg.UpstreamTimeoutSec) * time.Second)
	throttle := services.NewPollThrottle()
	defer throttle.Close()

	flowService := services.NewFlowService(
		store, authorizer, vault, notifier, registry, logger,
		services.WithPollThrottle(throttle),
	)

	reaper := services.NewReaper(
		store,
		time.Duration(cfg.ReaperIntervalSec)*time.Second,
		time.Duration(cfg.RetentionMin)*time.Minute,
		logger,
	)
	reaperCtx, stopReaper := context.WithCancel(ctx)
	go reaper.Run(reaperCtx)

	// HTTP surface.
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	authed := e.Group("/v1", middleware.RequireUser([]byte(cfg.JWTSecretKey)))
	echoapi.NewDeviceLinkAPI(flowService, logger).RegisterRoutes(authed)

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "HTTP server failed", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "Shutting down")
	stopReaper()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "HTTP server shutdown failed", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "Tracer provider shutdown failed", err)
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geobank/branches-backend/internal/auth"
	"github.com/geobank/branches-backend/internal/cache"
	"github.com/geobank/branches-backend/internal/config"
	"github.com/geobank/branches-backend/internal/events"
	"github.com/geobank/branches-backend/internal/geo"
	"github.com/geobank/branches-backend/internal/handler"
	"github.com/geobank/branches-backend/internal/metrics"
	"github.com/geobank/branches-backend/internal/models"
	"github.com/geobank/branches-backend/internal/repository"
	"github.com/geobank/branches-backend/internal/service"
	"github.com/geobank/branches-backend/pkg/utils"
)

// Переменные сборки, устанавливаются через ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.NewLogger(config.LogLevel(), config.LogFormat())
	logger.WithFields(map[string]interface{}{
		"version":     Version,
		"environment": cfg.Environment,
	}).Info("Starting branch registry backend")
	metrics.SetAppInfo(Version, Commit, BuildTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Распределенный уровень кеша. Недоступный Redis не мешает старту:
	// кеш работает на локальном уровне и сам восстанавливает
	// распределенный, когда Redis возвращается.
	var (
		remote    *cache.RedisCache
		lock      *cache.DistributedLock
		redisDown bool
	)
	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.WithField("error", err).Warn("Redis unavailable, continuing on local cache tier only")
		redisDown = true
	} else {
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithField("error", err).Warn("Redis is not responding, distributed tier will recover when it returns")
		} else {
			logger.Info("Connected to Redis")
		}
		cacheLogger := logger.WithField("component", "cache")
		remote = cache.NewRedisCache(redisClient, cacheLogger)
		lock = cache.NewDistributedLock(redisClient, cacheLogger)
	}
	tiered := cache.NewTieredCache(&cfg.Cache, remote, lock, logger.WithField("component", "cache"))

	// Основное хранилище отделений
	var store repository.BranchStore
	if cfg.MySQL.DSN != "" {
		mysqlStore, err := repository.NewMySQLStore(&cfg.MySQL, logger.WithField("component", "mysql"))
		if err != nil {
			logger.WithField("error", err).Fatal("Failed to initialize MySQL store")
		}
		if err := mysqlStore.Ping(ctx); err != nil {
			logger.WithField("error", err).Fatal("Failed to connect to MySQL")
		}
		if err := mysqlStore.InitSchema(ctx); err != nil {
			logger.WithField("error", err).Fatal("Failed to initialize MySQL schema")
		}
		logger.Info("Connected to MySQL")
		store = mysqlStore
	} else {
		logger.Warn("MYSQL_DSN is empty, branches are stored in memory and will not survive restart")
		store = repository.NewMemoryStore()
	}
	defer store.Close()

	// Шина доменных событий. Недоступный брокер не мешает старту,
	// клиент переподключается сам.
	publisher, err := events.NewPublisher(&cfg.MQTT, cfg.Events.PublishTimeout, logger.WithField("component", "mqtt"))
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to initialize MQTT publisher")
	}
	defer publisher.Disconnect()
	if err := publisher.Connect(); err != nil {
		logger.WithField("error", err).Warn("MQTT broker unavailable, events will flow after reconnect")
	} else {
		logger.Info("Connected to MQTT broker")
	}

	var hub *handler.Hub
	if cfg.Features.EnableWebSocket {
		hub = handler.NewHub(&cfg.Performance, logger.WithField("component", "websocket"))
	}

	sinks := []events.Sink{publisher}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	sink := events.NewFanout(sinks...)

	// Движки реестра поверх общего индекса и версии
	index := geo.NewQuadTree()
	version := &service.RegistryVersion{}
	rules := &models.RuleConfig{
		MinInterBranchKm:   cfg.Rules.MinInterBranchKm,
		SaturationRadiusKm: cfg.Rules.SaturationRadiusKm,
		SaturationCount:    cfg.Rules.SaturationCount,
		StrictCompliance:   cfg.Rules.StrictCompliance,
	}
	validator := service.NewRuleValidator(rules, logger.WithField("component", "validator"))
	queries := service.NewQueryEngine(index, store, tiered, sink, &cfg.Query, version,
		logger.WithField("component", "query"))
	registry := service.NewRegistrationEngine(index, store, tiered, sink, validator, rules, version,
		&cfg.Query, logger.WithField("component", "registration"))

	// Индекс восстанавливается из хранилища до приема трафика
	if err := registry.RebuildIndex(ctx); err != nil {
		logger.WithField("error", err).Fatal("Failed to rebuild spatial index from store")
	}

	// Аутентификация (опционально)
	var authMW *auth.Middleware
	if cfg.Auth.Enabled {
		if redisDown {
			logger.Fatal("AUTH_ENABLED requires a reachable Redis for the token cache")
		}
		authCache := auth.NewCache(redisClient, cfg.Auth.CacheTTL)
		authValidator := auth.NewValidator(cfg.Auth.Endpoint, authCache, logger)
		authMW = auth.NewMiddleware(authValidator, logger)
		logger.WithField("endpoint", cfg.Auth.Endpoint).Info("Authentication enabled")
	}

	// Фоновые задачи: продление кеша и сверка индекса с хранилищем
	reconciler := service.NewReconciler(index, store, logger.WithField("component", "reconciler"))
	scheduler := service.NewScheduler(logger.WithField("component", "scheduler"))
	scheduler.Add("cache-renewal", cfg.Cache.AutoRenewalInterval, func(ctx context.Context) {
		if _, err := tiered.Renew(ctx); err != nil {
			logger.WithField("error", err).Warn("Cache renewal failed")
		}
	})
	scheduler.Add("index-reconcile", cfg.Reconciler.Interval, func(ctx context.Context) {
		if _, _, err := reconciler.Reconcile(ctx); err != nil {
			logger.WithField("error", err).Warn("Index reconciliation failed")
		}
	})
	scheduler.Start()

	server := handler.NewServer(cfg, store, tiered, registry, queries, hub, authMW, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("error", err).Fatal("Failed to start HTTP server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.WithField("signal", sig.String()).Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()
	scheduler.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Error("HTTP server shutdown error")
	}

	logger.Info("Server stopped gracefully")
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/geobank/branches-backend/internal/auth"
	"github.com/geobank/branches-backend/internal/cache"
	"github.com/geobank/branches-backend/internal/config"
	"github.com/geobank/branches-backend/internal/metrics"
	"github.com/geobank/branches-backend/internal/repository"
	"github.com/geobank/branches-backend/internal/service"
	"github.com/geobank/branches-backend/pkg/utils"
)

// Server HTTP сервер API реестра отделений
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *logrus.Logger
	config     *config.Config

	rest   *RESTHandler
	hub    *Hub
	authMW *auth.Middleware
	store  repository.BranchStore
	cache  cache.Port
}

// NewServer создает HTTP сервер с полной цепочкой middleware. hub и
// authMW могут быть nil, соответствующие маршруты и проверки тогда
// не подключаются.
func NewServer(cfg *config.Config, store repository.BranchStore, cachePort cache.Port,
	registry *service.RegistrationEngine, queries *service.QueryEngine,
	hub *Hub, authMW *auth.Middleware, logger *logrus.Logger) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware. Корреляция стоит первой, чтобы идентификатор запроса
	// был доступен логированию и конвертам ошибок всех остальных слоев.
	router.Use(CorrelationMiddleware())
	router.Use(LoggerMiddleware(logger))
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())
	router.Use(RateLimitMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(metrics.HTTPMetricsMiddleware())

	restHandler := NewRESTHandler(registry, queries, cachePort, cfg, logger.WithField("component", "rest"))

	server := &Server{
		router: router,
		logger: logger,
		config: cfg,
		rest:   restHandler,
		hub:    hub,
		authMW: authMW,
		store:  store,
		cache:  cachePort,
	}

	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	server.setupRoutes()

	return server
}

// setupRoutes настраивает маршруты API
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	if s.config.Monitoring.MetricsEnabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/branches/nearest", s.rest.GetNearest)
		v1.GET("/branches/search", s.rest.SearchBranches)
		v1.GET("/branches/stats", s.rest.GetOverview)
		v1.GET("/branches/density", s.rest.GetAreaStats)
		v1.GET("/branches", s.rest.ListBranches)
		v1.GET("/branches/:id", s.rest.GetBranch)
		v1.GET("/cache/stats", s.rest.GetCacheStats)

		if s.hub != nil && s.config.Features.EnableWebSocket {
			v1.GET("/ws", s.hub.HandleWebSocket)
		}

		// Мутирующие маршруты требуют Bearer токен при включенной
		// аутентификации, удаление дополнительно требует роль
		// администратора реестра
		protected := v1.Group("")
		if s.authMW != nil && s.config.Auth.Enabled {
			protected.Use(s.authMW.Authenticate())
		}
		protected.POST("/branches", s.rest.RegisterBranch)
		protected.PUT("/branches/:id", s.rest.UpdateBranch)
		protected.PATCH("/branches/:id/status", s.rest.ChangeBranchStatus)

		admin := protected.Group("")
		if s.authMW != nil && s.config.Auth.Enabled {
			admin.Use(s.authMW.RequireRole(auth.RoleBranchAdmin))
		}
		admin.DELETE("/branches/:id", s.rest.DeleteBranch)
	}
}

// Start запускает HTTP сервер
func (s *Server) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address": s.config.Server.Address,
		"mode":    gin.Mode(),
	}).Info("Starting HTTP server")

	return s.httpServer.ListenAndServe()
}

// Shutdown корректно завершает сервер
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// healthCheck сообщает готовность сервиса. Недоступное хранилище делает
// сервис неготовым, деградация кеша нет: поиск продолжает работать на
// локальном уровне.
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	storeState := "up"
	if err := s.store.Ping(ctx); err != nil {
		storeState = "down"
		status = http.StatusServiceUnavailable
	}

	cacheState := "up"
	if s.cache != nil && s.cache.Stats().Degraded {
		cacheState = "degraded"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":    overall,
		"store":     storeState,
		"cache":     cacheState,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   "1.0.0",
	})
}

// ==================== Middleware ====================

// CorrelationMiddleware принимает или генерирует X-Correlation-ID,
// кладет его в контекст запроса и дублирует в заголовок ответа
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(utils.CorrelationHeader)
		if id == "" {
			id = utils.NewCorrelationID()
		}

		c.Set("correlation_id", id)
		c.Request = c.Request.WithContext(utils.WithCorrelationID(c.Request.Context(), id))
		c.Header(utils.CorrelationHeader, id)

		c.Next()
	}
}

// LoggerMiddleware логирование запросов
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)

		logger.WithFields(logrus.Fields{
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"status":         c.Writer.Status(),
			"latency_ms":     latency.Milliseconds(),
			"client_ip":      c.ClientIP(),
			"correlation_id": c.GetString("correlation_id"),
		}).Info("HTTP request completed")
	}
}

// CORSMiddleware настройка CORS
func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // В production указать конкретные домены
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length", utils.CorrelationHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// RateLimitMiddleware ограничение частоты запросов
func RateLimitMiddleware() gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(100), 200) // 100 req/sec, burst 200

	return func(c *gin.Context) {
		if !limiter.Allow() {
			writeError(c, http.StatusTooManyRequests, codeRateLimited, "too many requests")
			return
		}
		c.Next()
	}
}

// SecurityHeadersMiddleware заголовки безопасности
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Next()
	}
}

package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/geobank/branches-backend/internal/cache"
	"github.com/geobank/branches-backend/internal/config"
	"github.com/geobank/branches-backend/internal/models"
	"github.com/geobank/branches-backend/internal/service"
)

// Коды ошибок, возникающих на самой HTTP границе. Коды сервисного слоя
// проходят в конверт без изменений.
const (
	codeInvalidInput = "INVALID_INPUT"
	codeInternal     = "INTERNAL"
	codeRateLimited  = "RATE_LIMITED"
)

// RESTHandler обработчики REST API реестра отделений
type RESTHandler struct {
	registry *service.RegistrationEngine
	queries  *service.QueryEngine
	cache    cache.Port
	config   *config.Config
	logger   *logrus.Entry
	timeout  time.Duration
}

// NewRESTHandler создает REST handler
func NewRESTHandler(registry *service.RegistrationEngine, queries *service.QueryEngine,
	cachePort cache.Port, cfg *config.Config, logger *logrus.Entry) *RESTHandler {
	return &RESTHandler{
		registry: registry,
		queries:  queries,
		cache:    cachePort,
		config:   cfg,
		logger:   logger,
		timeout:  30 * time.Second,
	}
}

// RegisterBranch регистрирует новое отделение
// POST /api/v1/branches
func (h *RESTHandler) RegisterBranch(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	var body registerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, "request body must be valid JSON")
		return
	}

	input, err := body.toInput()
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	// Территориальная политика действует только на этой границе,
	// ядро реестра принимает любые валидные координаты
	if h.config.Rules.TerritoryCheck && !insideServedTerritory(input.Location) {
		writeError(c, http.StatusBadRequest, codeInvalidInput,
			"location is outside the served territory")
		return
	}

	branch, err := h.registry.Register(ctx, input)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, convertBranchToRegistered(branch))
}

// GetNearest ищет ближайшие отделения в формате исходного API:
// posX это долгота, posY широта, limite ограничивает число результатов
// GET /api/v1/branches/nearest?posX=-46.63&posY=-23.55&limite=10
func (h *RESTHandler) GetNearest(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	lon, err := parseCoordinate(c.Query("posX"), -180, 180)
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("posX %s", err))
		return
	}

	lat, err := parseCoordinate(c.Query("posY"), -90, 90)
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("posY %s", err))
		return
	}

	query := service.NearestQuery{
		Location: models.GeoPoint{Latitude: lat, Longitude: lon},
	}

	if raw := c.Query("limite"); raw != "" {
		limit, err := parseLimit(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("limite %s", err))
			return
		}
		query.MaxResults = &limit
	}

	if raw := c.Query("radius"); raw != "" {
		radius, err := parseRadius(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("radius %s", err))
			return
		}
		query.RadiusKm = &radius
	}

	result, err := h.queries.Nearest(ctx, query)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, convertNearestToLegacy(result))
}

// SearchBranches расширенный поиск ближайших отделений с фильтрами,
// статистикой и признаком попадания в кеш
// GET /api/v1/branches/search?lat=-23.55&lon=-46.63&radiusKm=10&maxResults=5&types=TRADITIONAL,PREMIUM&service=loan_application
func (h *RESTHandler) SearchBranches(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	lat, err := parseCoordinate(c.Query("lat"), -90, 90)
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("lat %s", err))
		return
	}

	lon, err := parseCoordinate(c.Query("lon"), -180, 180)
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("lon %s", err))
		return
	}

	query := service.NearestQuery{
		Location:    models.GeoPoint{Latitude: lat, Longitude: lon},
		ServiceType: c.Query("service"),
		SessionID:   c.Query("sessionId"),
	}

	if raw := c.Query("radiusKm"); raw != "" {
		radius, err := parseRadius(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("radiusKm %s", err))
			return
		}
		query.RadiusKm = &radius
	}

	if raw := c.Query("maxResults"); raw != "" {
		max, err := parsePositiveInt(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("maxResults %s", err))
			return
		}
		query.MaxResults = &max
	}

	if raw := c.Query("types"); raw != "" {
		types, err := parseBranchTypes(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, codeInvalidInput, err.Error())
			return
		}
		query.BranchTypes = types
	}

	result, err := h.queries.Nearest(ctx, query)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, convertNearestToSearch(result))
}

// ListBranches административная выборка отделений с фильтрами
// GET /api/v1/branches?type=TRADITIONAL&status=ACTIVE&q=centro
func (h *RESTHandler) ListBranches(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	filter := service.BranchFilter{
		NameSearch: strings.TrimSpace(c.Query("q")),
	}

	if raw := c.Query("type"); raw != "" {
		types, err := parseBranchTypes(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, codeInvalidInput, err.Error())
			return
		}
		filter.Types = types
	}

	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseBranchStatus(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, codeInvalidInput, err.Error())
			return
		}
		filter.Status = &status
	}

	branches, err := h.queries.List(ctx, filter)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"branches": convertBranchesToJSON(branches),
		"count":    len(branches),
	})
}

// GetBranch возвращает отделение по идентификатору
// GET /api/v1/branches/:id
func (h *RESTHandler) GetBranch(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	id, err := models.ParseBranchID(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	branch, err := h.queries.Get(ctx, id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, convertBranchToJSON(branch))
}

// UpdateBranch обновляет реквизиты отделения
// PUT /api/v1/branches/:id
func (h *RESTHandler) UpdateBranch(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	id, err := models.ParseBranchID(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	var body updateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, "request body must be valid JSON")
		return
	}

	branch, err := h.registry.UpdateInfo(ctx, id, body.Name, body.Address, body.ContactPhone)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, convertBranchToJSON(branch))
}

// ChangeBranchStatus переводит отделение в новый статус жизненного цикла
// PATCH /api/v1/branches/:id/status
func (h *RESTHandler) ChangeBranchStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	id, err := models.ParseBranchID(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	var body statusRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, "request body must be valid JSON")
		return
	}

	target, err := models.ParseBranchStatus(body.Status)
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	branch, err := h.registry.ChangeStatus(ctx, id, target)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, convertBranchToJSON(branch))
}

// DeleteBranch удаляет отделение из реестра
// DELETE /api/v1/branches/:id
func (h *RESTHandler) DeleteBranch(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	id, err := models.ParseBranchID(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	if err := h.registry.Deregister(ctx, id); err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetOverview возвращает сводку реестра
// GET /api/v1/branches/stats
func (h *RESTHandler) GetOverview(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	overview, err := h.queries.Overview(ctx)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, overview)
}

// GetAreaStats возвращает агрегат плотности отделений вокруг точки
// GET /api/v1/branches/density?lat=-23.55&lon=-46.63
func (h *RESTHandler) GetAreaStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	lat, err := parseCoordinate(c.Query("lat"), -90, 90)
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("lat %s", err))
		return
	}

	lon, err := parseCoordinate(c.Query("lon"), -180, 180)
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("lon %s", err))
		return
	}

	stats, err := h.queries.AreaStatsAt(ctx, models.GeoPoint{Latitude: lat, Longitude: lon})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetCacheStats возвращает снимок счетчиков кеша
// GET /api/v1/cache/stats
func (h *RESTHandler) GetCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

// writeServiceError отображает ошибку сервисного слоя в HTTP статус и
// стандартный конверт. Детали причины серверных ошибок остаются в
// логах и не попадают клиенту.
func (h *RESTHandler) writeServiceError(c *gin.Context, err error) {
	svcErr, ok := service.AsError(err)
	if !ok {
		h.logger.WithFields(logrus.Fields{
			"error":          err,
			"correlation_id": c.GetString("correlation_id"),
		}).Error("Unclassified error reached the HTTP boundary")
		writeError(c, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}

	var status int
	switch svcErr.Code {
	case service.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case service.ErrCodeRuleViolated:
		status = http.StatusConflict
	case service.ErrCodeNotFound:
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		h.logger.WithFields(logrus.Fields{
			"code":           svcErr.Code,
			"error":          svcErr,
			"correlation_id": c.GetString("correlation_id"),
		}).Error("Request failed")
	}

	writeErrorDetails(c, status, string(svcErr.Code), svcErr.Message, svcErr.Details)
}

// writeError отправляет конверт ошибки без деталей
func writeError(c *gin.Context, status int, code, message string) {
	writeErrorDetails(c, status, code, message, nil)
}

// writeErrorDetails отправляет стандартный конверт ошибки и прерывает
// обработку запроса
func writeErrorDetails(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	body := gin.H{
		"code":      code,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"requestId": c.GetString("correlation_id"),
	}
	if len(details) > 0 {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

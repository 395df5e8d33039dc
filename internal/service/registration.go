package service

import (
	"context"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/geobank/branches-backend/internal/cache"
	"github.com/geobank/branches-backend/internal/config"
	"github.com/geobank/branches-backend/internal/geo"
	"github.com/geobank/branches-backend/internal/metrics"
	"github.com/geobank/branches-backend/internal/models"
	"github.com/geobank/branches-backend/internal/repository"
	"github.com/geobank/branches-backend/pkg/utils"
)

// RegisterInput входные данные регистрации отделения. ID заполняется
// только для отделений с заранее присвоенным кодом.
type RegisterInput struct {
	ID           string
	Name         string
	Address      string
	Location     models.GeoPoint
	Type         models.BranchType
	ContactPhone string
}

// RegistrationEngine движок изменений реестра отделений: регистрация,
// смена статуса, обновление реквизитов и удаление. Порядок фиксации
// всегда один: сначала хранилище, затем пространственный индекс, затем
// инвалидация кеша. Индекс восстанавливается из хранилища на старте,
// поэтому рассинхронизация после сбоя между шагами самоустраняется.
type RegistrationEngine struct {
	index     SpatialIndex
	store     repository.BranchStore
	cache     cache.Port
	events    EventSink
	validator *RuleValidator
	rules     *models.RuleConfig
	version   *RegistryVersion
	config    *config.QueryConfig
	logger    *logrus.Entry
}

// NewRegistrationEngine создает движок изменений реестра
func NewRegistrationEngine(index SpatialIndex, store repository.BranchStore, cachePort cache.Port,
	events EventSink, validator *RuleValidator, rules *models.RuleConfig,
	version *RegistryVersion, cfg *config.QueryConfig, logger *logrus.Entry) *RegistrationEngine {
	if rules == nil {
		rules = models.DefaultRuleConfig()
	}
	return &RegistrationEngine{
		index:     index,
		store:     store,
		cache:     cachePort,
		events:    events,
		validator: validator,
		rules:     rules,
		version:   version,
		config:    cfg,
		logger:    logger,
	}
}

// Register регистрирует новое отделение. Либо отделение попадает в
// хранилище и индекс, а производные ключи кеша инвалидируются, либо
// наблюдаемое состояние не меняется и вызывающий получает ошибку с
// конкретным кодом.
func (e *RegistrationEngine) Register(ctx context.Context, input RegisterInput) (*models.Branch, error) {
	branch, svcErr := e.buildCandidate(input)
	if svcErr != nil {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return nil, svcErr
	}

	// У отделения с заранее присвоенным кодом идентификатор должен
	// быть свободен, иначе save молча перезаписал бы чужую запись
	if input.ID != "" {
		if _, err := e.store.FindByID(ctx, branch.ID); err == nil {
			metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
			return nil, NewInvalidInput("branch %s is already registered", branch.ID)
		} else if err != repository.ErrBranchNotFound {
			metrics.RegistrationsTotal.WithLabelValues("error").Inc()
			return nil, NewStoreUnavailable(err)
		}
	}

	neighbors, svcErr := e.operationalNeighbors(ctx, branch.Location)
	if svcErr != nil {
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, svcErr
	}

	if violation := e.validator.ValidateRegistration(branch, neighbors); violation != nil {
		metrics.RegistrationsTotal.WithLabelValues("rule_violated").Inc()
		metrics.RuleRejections.WithLabelValues(strings.ToLower(violation.Code.Tag())).Inc()
		return nil, NewRuleViolated(violation)
	}

	if e.rules.StrictCompliance {
		if violation := e.validator.ValidateCompliance(branch); violation != nil {
			metrics.RegistrationsTotal.WithLabelValues("rule_violated").Inc()
			metrics.RuleRejections.WithLabelValues(strings.ToLower(violation.Code.Tag())).Inc()
			return nil, NewRuleViolated(violation)
		}
	}

	if err := e.store.Save(ctx, branch); err != nil {
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, NewStoreUnavailable(err)
	}

	// После фиксации в хранилище отмена запроса не должна оставить
	// реестр без записи в индексе и без инвалидации кеша
	postCtx := context.WithoutCancel(ctx)

	e.index.Insert(geo.Member{
		ID:  branch.ID.String(),
		Lat: branch.Location.Latitude,
		Lon: branch.Location.Longitude,
	})
	if !e.index.Contains(branch.ID.String()) {
		metrics.SpatialIndexDesyncs.Inc()
		e.logger.WithField("branch_id", branch.ID).Error("INDEX_DESYNC: branch missing from spatial index after insert")
	}
	metrics.SpatialIndexSize.Set(float64(e.index.Size()))
	metrics.ActiveBranches.Inc()

	e.version.Bump()
	e.invalidateDerived(postCtx, branch.ID, branch.Location)
	e.publishRegistered(postCtx, branch)

	metrics.RegistrationsTotal.WithLabelValues("success").Inc()
	e.logger.WithFields(logrus.Fields{
		"branch_id": branch.ID,
		"name":      branch.Name,
		"type":      branch.Type,
		"lat":       branch.Location.Latitude,
		"lon":       branch.Location.Longitude,
	}).Info("Branch registered")

	return branch, nil
}

// buildCandidate собирает и проверяет кандидата из входных данных
func (e *RegistrationEngine) buildCandidate(input RegisterInput) (*models.Branch, *Error) {
	branch, err := models.NewBranch(input.Name, input.Address, input.Location, input.Type)
	if err != nil {
		return nil, NewInvalidInput("invalid branch: %v", err)
	}

	if input.ID != "" {
		id, err := models.ParseBranchID(input.ID)
		if err != nil {
			return nil, NewInvalidInput("invalid branch id: %v", err)
		}
		branch.ID = id
	}

	if input.ContactPhone != "" {
		branch.ContactPhone = strings.TrimSpace(input.ContactPhone)
		if err := branch.Validate(); err != nil {
			return nil, NewInvalidInput("invalid branch: %v", err)
		}
	}

	return branch, nil
}

// operationalNeighbors готовит выборку операционных отделений вокруг
// точки для бизнес-валидатора. Радиус покрывает оба правила размещения.
func (e *RegistrationEngine) operationalNeighbors(ctx context.Context, location models.GeoPoint) ([]NeighborView, *Error) {
	radius := math.Max(e.rules.MinInterBranchKm, e.rules.SaturationRadiusKm)
	found := e.index.WithinRadius(location.Latitude, location.Longitude, radius)

	views := make([]NeighborView, 0, len(found))
	for _, n := range found {
		branch, err := e.store.FindByID(ctx, models.BranchID(n.ID))
		if err == repository.ErrBranchNotFound {
			continue
		}
		if err != nil {
			return nil, NewStoreUnavailable(err)
		}
		if !branch.IsOperational() {
			continue
		}
		views = append(views, NeighborView{Branch: branch, DistanceKm: n.DistanceKm})
	}
	return views, nil
}

// ChangeStatus переводит отделение в новый статус. Переход проверяется
// бизнес-валидатором, возврат в ACTIVE дополнительно требует
// регуляторного соответствия.
func (e *RegistrationEngine) ChangeStatus(ctx context.Context, id models.BranchID, target models.BranchStatus) (*models.Branch, error) {
	if err := target.Validate(); err != nil {
		return nil, NewInvalidInput("invalid status: %v", err)
	}

	branch, err := e.store.FindByID(ctx, id)
	if err == repository.ErrBranchNotFound {
		return nil, NewNotFound(id)
	}
	if err != nil {
		return nil, NewStoreUnavailable(err)
	}

	if violation := e.validator.ValidateTransition(branch, target); violation != nil {
		metrics.RuleRejections.WithLabelValues(strings.ToLower(violation.Code.Tag())).Inc()
		return nil, NewRuleViolated(violation)
	}
	if target == models.BranchStatusActive {
		if violation := e.validator.ValidateCompliance(branch); violation != nil {
			metrics.RuleRejections.WithLabelValues(strings.ToLower(violation.Code.Tag())).Inc()
			return nil, NewRuleViolated(violation)
		}
	}

	wasOperational := branch.IsOperational()
	if err := branch.TransitionTo(target); err != nil {
		return nil, NewRuleViolated(&models.RuleViolation{
			Code:    models.RuleIllegalTransition,
			Message: err.Error(),
			Details: map[string]interface{}{"from": branch.Status.String(), "to": target.String()},
		})
	}

	if err := e.store.Save(ctx, branch); err != nil {
		return nil, NewStoreUnavailable(err)
	}

	postCtx := context.WithoutCancel(ctx)
	e.version.Bump()
	e.invalidateDerived(postCtx, branch.ID, branch.Location)

	if wasOperational && !branch.IsOperational() {
		metrics.ActiveBranches.Dec()
	} else if !wasOperational && branch.IsOperational() {
		metrics.ActiveBranches.Inc()
	}

	e.logger.WithFields(logrus.Fields{
		"branch_id": branch.ID,
		"status":    branch.Status,
	}).Info("Branch status changed")

	return branch, nil
}

// UpdateInfo обновляет реквизиты отделения. Административная операция,
// регуляторные требования проверяются всегда.
func (e *RegistrationEngine) UpdateInfo(ctx context.Context, id models.BranchID, name, address, contactPhone string) (*models.Branch, error) {
	branch, err := e.store.FindByID(ctx, id)
	if err == repository.ErrBranchNotFound {
		return nil, NewNotFound(id)
	}
	if err != nil {
		return nil, NewStoreUnavailable(err)
	}

	if err := branch.UpdateInfo(name, address, contactPhone); err != nil {
		return nil, NewInvalidInput("invalid branch details: %v", err)
	}
	if violation := e.validator.ValidateCompliance(branch); violation != nil {
		metrics.RuleRejections.WithLabelValues(strings.ToLower(violation.Code.Tag())).Inc()
		return nil, NewRuleViolated(violation)
	}

	if err := e.store.Save(ctx, branch); err != nil {
		return nil, NewStoreUnavailable(err)
	}

	// Имена отделений входят в кешированные результаты поиска
	postCtx := context.WithoutCancel(ctx)
	e.version.Bump()
	e.invalidateDerived(postCtx, branch.ID, branch.Location)

	e.logger.WithField("branch_id", branch.ID).Info("Branch details updated")
	return branch, nil
}

// Deregister удаляет отделение из реестра
func (e *RegistrationEngine) Deregister(ctx context.Context, id models.BranchID) error {
	branch, err := e.store.FindByID(ctx, id)
	if err == repository.ErrBranchNotFound {
		return NewNotFound(id)
	}
	if err != nil {
		return NewStoreUnavailable(err)
	}

	if err := e.store.DeleteByID(ctx, id); err != nil {
		if err == repository.ErrBranchNotFound {
			return NewNotFound(id)
		}
		return NewStoreUnavailable(err)
	}

	postCtx := context.WithoutCancel(ctx)
	e.index.Remove(id.String())
	metrics.SpatialIndexSize.Set(float64(e.index.Size()))
	if branch.IsOperational() {
		metrics.ActiveBranches.Dec()
	}

	e.version.Bump()
	e.invalidateDerived(postCtx, id, branch.Location)

	e.logger.WithField("branch_id", id).Info("Branch deregistered")
	return nil
}

// RebuildIndex восстанавливает пространственный индекс из хранилища.
// Вызывается на старте и реконсилятором при крупных расхождениях.
func (e *RegistrationEngine) RebuildIndex(ctx context.Context) error {
	branches, err := e.store.FindAll(ctx)
	if err != nil {
		return NewStoreUnavailable(err)
	}

	members := make([]geo.Member, 0, len(branches))
	operational := 0
	for _, b := range branches {
		members = append(members, geo.Member{
			ID:  b.ID.String(),
			Lat: b.Location.Latitude,
			Lon: b.Location.Longitude,
		})
		if b.IsOperational() {
			operational++
		}
	}

	e.index.Rebuild(members)
	metrics.SpatialIndexSize.Set(float64(e.index.Size()))
	metrics.ActiveBranches.Set(float64(operational))

	e.logger.WithFields(logrus.Fields{
		"total":       len(members),
		"operational": operational,
	}).Info("Spatial index rebuilt from store")
	return nil
}

// invalidateDerived убирает из кеша все ключи, производные от
// состояния реестра: результаты поиска, списки отделений и тайловые
// агрегаты вокруг затронутой точки. Ошибки инвалидации не валят
// операцию, автообновление кеша ограничивает возможную несвежесть.
func (e *RegistrationEngine) invalidateDerived(ctx context.Context, id models.BranchID, location models.GeoPoint) {
	for _, pattern := range []string{cache.NearestPattern, cache.BranchesPattern} {
		if _, err := e.cache.EvictByPattern(ctx, pattern); err != nil {
			e.logger.WithFields(logrus.Fields{
				"branch_id": id,
				"pattern":   pattern,
				"error":     err,
			}).Warn("CACHE_INVALIDATION_FAILED: derived keys may be stale until auto renewal")
		}
	}

	tile := geo.TileAt(location.Latitude, location.Longitude, e.config.GeohashPrecision)
	for _, t := range append([]string{tile}, geo.TileNeighbors(tile)...) {
		if err := e.cache.Evict(ctx, cache.TileStatsKey(t)); err != nil {
			e.logger.WithFields(logrus.Fields{
				"branch_id": id,
				"tile":      t,
				"error":     err,
			}).Warn("CACHE_INVALIDATION_FAILED: tile aggregate may be stale until TTL expiry")
		}
	}
}

// publishRegistered публикует событие регистрации отделения
func (e *RegistrationEngine) publishRegistered(ctx context.Context, branch *models.Branch) {
	if e.events == nil {
		return
	}

	event := models.NewBranchRegisteredEvent(branch, utils.CorrelationIDFromContext(ctx))
	if err := e.events.Publish(ctx, event); err != nil {
		e.logger.WithFields(logrus.Fields{
			"branch_id": branch.ID,
			"error":     err,
		}).Debug("Failed to publish registration event")
	}
}

package service

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geobank/branches-backend/internal/cache"
	"github.com/geobank/branches-backend/internal/config"
	"github.com/geobank/branches-backend/internal/geo"
	"github.com/geobank/branches-backend/internal/metrics"
	"github.com/geobank/branches-backend/internal/models"
	"github.com/geobank/branches-backend/internal/repository"
	"github.com/geobank/branches-backend/pkg/utils"
)

// TTL кешированных результатов
const (
	nearestResultTTL = 5 * time.Minute
	branchesListTTL  = 5 * time.Minute
	tileStatsTTL     = 10 * time.Minute
)

// SpatialIndex порт пространственного индекса отделений. Реализация
// должна выдерживать конкурентных читателей во время записей.
type SpatialIndex interface {
	Insert(m geo.Member)
	Remove(id string)
	WithinRadius(lat, lon, radiusKm float64) []geo.Neighbor
	QueryBounds(box geo.BoundingBox) []geo.Member
	Rebuild(members []geo.Member)
	Contains(id string) bool
	IDs() []string
	Size() int
}

var _ SpatialIndex = (*geo.QuadTree)(nil)

// EventSink порт публикации доменных событий. Публикация идет в режиме
// fire-and-forget: ошибки поглощаются вызывающей стороной.
type EventSink interface {
	Publish(ctx context.Context, event models.DomainEvent) error
}

// RegistryVersion монотонный счетчик успешных изменений реестра
// отделений. Движок запросов снимает значение перед вычислением и
// пропускает запись в кеш, если за время вычисления реестр изменился:
// иначе результат, построенный по старому состоянию, мог бы попасть в
// кеш уже после инвалидации, выполненной конкурентной регистрацией.
type RegistryVersion struct {
	value atomic.Uint64
}

// Bump отмечает изменение реестра
func (r *RegistryVersion) Bump() {
	r.value.Add(1)
}

// Current возвращает текущую версию реестра
func (r *RegistryVersion) Current() uint64 {
	return r.value.Load()
}

// NearestQuery параметры поиска ближайших отделений. Нулевые указатели
// означают, что параметр не передан и берется значение по умолчанию.
type NearestQuery struct {
	Location    models.GeoPoint
	RadiusKm    *float64
	MaxResults  *int
	BranchTypes []models.BranchType
	ServiceType string
	SessionID   string
}

// BranchResult найденное отделение с дистанцией от точки поиска.
// Дистанция хранится без округления, округляет только HTTP адаптер.
type BranchResult struct {
	Branch     *models.Branch `json:"branch"`
	DistanceKm float64        `json:"distance_km"`
}

// QueryStats сводная статистика поиска до усечения списка результатов
type QueryStats struct {
	TotalCandidates   int     `json:"total_candidates"`
	AverageDistanceKm float64 `json:"average_distance_km"`
	DensityPerKm2     float64 `json:"density_per_km2"`
}

// NearestResult результат поиска ближайших отделений
type NearestResult struct {
	UserLocation models.GeoPoint `json:"user_location"`
	RadiusKm     float64         `json:"radius_km"`
	MaxResults   int             `json:"max_results"`
	Results      []BranchResult  `json:"results"`
	Stats        QueryStats      `json:"stats"`
	CacheHit     bool            `json:"-"`
}

// AreaStats агрегат плотности отделений внутри геохеш-тайла
type AreaStats struct {
	Tile             string  `json:"tile"`
	BranchCount      int     `json:"branch_count"`
	OperationalCount int     `json:"operational_count"`
	AreaKm2          float64 `json:"area_km2"`
	DensityPerKm2    float64 `json:"density_per_km2"`
}

// BranchFilter параметры административной выборки отделений
type BranchFilter struct {
	Types      []models.BranchType
	Status     *models.BranchStatus
	NameSearch string
}

// Overview сводка реестра отделений
type Overview struct {
	Total   int64                       `json:"total"`
	ByType  map[models.BranchType]int64 `json:"by_type"`
	Indexed int                         `json:"indexed"`
}

// QueryEngine движок поиска ближайших отделений. Все операции чтения
// идут через него: поиск по радиусу, административные выборки и
// тайловые агрегаты плотности.
type QueryEngine struct {
	index   SpatialIndex
	store   repository.BranchStore
	cache   cache.Port
	events  EventSink
	config  *config.QueryConfig
	version *RegistryVersion
	logger  *logrus.Entry
}

// NewQueryEngine создает движок поиска
func NewQueryEngine(index SpatialIndex, store repository.BranchStore, cachePort cache.Port,
	events EventSink, cfg *config.QueryConfig, version *RegistryVersion, logger *logrus.Entry) *QueryEngine {
	return &QueryEngine{
		index:   index,
		store:   store,
		cache:   cachePort,
		events:  events,
		config:  cfg,
		version: version,
		logger:  logger,
	}
}

// nearestParams нормализованные параметры поиска
type nearestParams struct {
	lat     float64
	lon     float64
	radius  float64
	max     int
	types   []models.BranchType
	service string
	session string
}

// normalize проверяет параметры запроса и подставляет значения по
// умолчанию. Радиус и лимит ограничиваются сверху, нулевые и
// отрицательные значения отклоняются.
func (e *QueryEngine) normalize(query NearestQuery) (nearestParams, *Error) {
	if err := query.Location.Validate(); err != nil {
		return nearestParams{}, NewInvalidInput("invalid location: %v", err)
	}

	radius := e.config.DefaultRadiusKm
	if query.RadiusKm != nil {
		radius = *query.RadiusKm
		if radius <= 0 || math.IsNaN(radius) {
			return nearestParams{}, NewInvalidInput("search radius must be positive, got %v", radius)
		}
		if radius > e.config.MaxRadiusKm {
			radius = e.config.MaxRadiusKm
		}
	}

	max := e.config.DefaultMaxResults
	if query.MaxResults != nil {
		max = *query.MaxResults
		if max <= 0 {
			return nearestParams{}, NewInvalidInput("max results must be positive, got %d", max)
		}
		if max > e.config.MaxResults {
			max = e.config.MaxResults
		}
	}

	for _, t := range query.BranchTypes {
		if err := t.Validate(); err != nil {
			return nearestParams{}, NewInvalidInput("invalid branch type: %v", err)
		}
	}

	return nearestParams{
		lat:     query.Location.Latitude,
		lon:     query.Location.Longitude,
		radius:  radius,
		max:     max,
		types:   query.BranchTypes,
		service: strings.ToLower(strings.TrimSpace(query.ServiceType)),
		session: query.SessionID,
	}, nil
}

// Nearest ищет ближайшие операционные отделения вокруг точки. Результат
// кешируется, повторный запрос с теми же параметрами идет из кеша.
func (e *QueryEngine) Nearest(ctx context.Context, query NearestQuery) (*NearestResult, error) {
	params, svcErr := e.normalize(query)
	if svcErr != nil {
		return nil, svcErr
	}

	start := time.Now()
	startVersion := e.version.Current()

	typeNames := make([]string, 0, len(params.types))
	for _, t := range params.types {
		typeNames = append(typeNames, t.String())
	}
	key := cache.NearestKey(params.lat, params.lon, params.radius, params.max, typeNames, params.service)

	if data, ok := e.cache.Get(ctx, key); ok {
		var result NearestResult
		if err := json.Unmarshal(data, &result); err == nil {
			result.CacheHit = true
			elapsed := time.Since(start)
			metrics.QueryDuration.WithLabelValues("cache").Observe(elapsed.Seconds())
			metrics.QueryResults.Observe(float64(len(result.Results)))
			e.publishProximity(ctx, params, &result, elapsed, true)
			return &result, nil
		}
		e.logger.WithField("key", key).Warn("Failed to decode cached search result, recomputing")
	}

	result, svcErr := e.compute(ctx, params)
	if svcErr != nil {
		return nil, svcErr
	}

	elapsed := time.Since(start)
	metrics.QueryDuration.WithLabelValues("computed").Observe(elapsed.Seconds())
	metrics.QueryResults.Observe(float64(len(result.Results)))

	// Запись пропускается, если реестр изменился во время вычисления:
	// конкурентная регистрация уже инвалидировала кеш, и результат,
	// построенный по состоянию до нее, кешировать нельзя
	if e.version.Current() == startVersion {
		if data, err := json.Marshal(result); err == nil {
			if err := e.cache.Put(ctx, key, data, nearestResultTTL); err != nil {
				e.logger.WithFields(logrus.Fields{
					"key":   key,
					"error": err,
				}).Debug("Failed to cache search result")
			}
		}
	}

	e.publishProximity(ctx, params, result, elapsed, false)
	return result, nil
}

// compute выполняет поиск по пространственному индексу с материализацией
// кандидатов из хранилища и фильтрацией
func (e *QueryEngine) compute(ctx context.Context, params nearestParams) (*NearestResult, *Error) {
	neighbors := e.index.WithinRadius(params.lat, params.lon, params.radius)

	typeSet := make(map[models.BranchType]bool, len(params.types))
	for _, t := range params.types {
		typeSet[t] = true
	}

	candidates := make([]BranchResult, 0, len(neighbors))
	for _, n := range neighbors {
		if err := ctx.Err(); err != nil {
			return nil, NewSearchUnavailable(err)
		}

		branch, err := e.store.FindByID(ctx, models.BranchID(n.ID))
		if err == repository.ErrBranchNotFound {
			// Индекс опережает хранилище, реконсилятор выровняет
			e.logger.WithField("branch_id", n.ID).Debug("Branch present in index but missing from store")
			continue
		}
		if err != nil {
			return nil, NewSearchUnavailable(err)
		}

		if !branch.IsOperational() {
			continue
		}
		if len(typeSet) > 0 && !typeSet[branch.Type] {
			continue
		}
		if params.service != "" && !branch.SupportsService(params.service) {
			continue
		}

		candidates = append(candidates, BranchResult{Branch: branch, DistanceKm: n.DistanceKm})
	}

	sortByProximity(candidates)

	stats := QueryStats{TotalCandidates: len(candidates)}
	if len(candidates) > 0 {
		sum := 0.0
		for _, c := range candidates {
			sum += c.DistanceKm
		}
		stats.AverageDistanceKm = sum / float64(len(candidates))
		stats.DensityPerKm2 = float64(len(candidates)) / (math.Pi * params.radius * params.radius)
	}

	results := candidates
	if len(results) > params.max {
		results = results[:params.max]
	}

	return &NearestResult{
		UserLocation: models.GeoPoint{Latitude: params.lat, Longitude: params.lon},
		RadiusKm:     params.radius,
		MaxResults:   params.max,
		Results:      results,
		Stats:        stats,
	}, nil
}

// sortByProximity сортирует результаты по возрастанию дистанции.
// Дистанции, совпадающие с точностью до метра, разрешаются приоритетом
// типа отделения, затем идентификатором.
func sortByProximity(results []BranchResult) {
	sort.Slice(results, func(i, j int) bool {
		mi := int64(math.Round(results[i].DistanceKm * 1000))
		mj := int64(math.Round(results[j].DistanceKm * 1000))
		if mi != mj {
			return mi < mj
		}
		pi := results[i].Branch.Type.Priority()
		pj := results[j].Branch.Type.Priority()
		if pi != pj {
			return pi > pj
		}
		return results[i].Branch.ID < results[j].Branch.ID
	})
}

// publishProximity публикует событие выполненного поиска
func (e *QueryEngine) publishProximity(ctx context.Context, params nearestParams, result *NearestResult, elapsed time.Duration, cacheHit bool) {
	if e.events == nil {
		return
	}

	ids := make([]string, 0, len(result.Results))
	for _, r := range result.Results {
		ids = append(ids, r.Branch.ID.String())
	}

	event := models.ProximityQueriedEvent{
		EventType:       models.EventTypeProximityQueried,
		Version:         models.EventSchemaVersion,
		UserLatitude:    params.lat,
		UserLongitude:   params.lon,
		RadiusKm:        params.radius,
		MaxResults:      params.max,
		FoundBranchIDs:  ids,
		ExecutionTimeMs: float64(elapsed.Microseconds()) / 1000.0,
		CacheHit:        cacheHit,
		OccurredAt:      time.Now().UTC(),
		CorrelationID:   utils.CorrelationIDFromContext(ctx),
		SessionID:       params.session,
	}

	if err := e.events.Publish(ctx, event); err != nil {
		e.logger.WithField("error", err).Debug("Failed to publish proximity event")
	}
}

// Get возвращает отделение по идентификатору
func (e *QueryEngine) Get(ctx context.Context, id models.BranchID) (*models.Branch, error) {
	branch, err := e.store.FindByID(ctx, id)
	if err == repository.ErrBranchNotFound {
		return nil, NewNotFound(id)
	}
	if err != nil {
		return nil, NewStoreUnavailable(err)
	}
	return branch, nil
}

// List возвращает отделения по административному фильтру. Выборка без
// фильтров кешируется под ключом branches:all и инвалидируется при
// каждом изменении реестра.
func (e *QueryEngine) List(ctx context.Context, filter BranchFilter) ([]*models.Branch, error) {
	var (
		branches []*models.Branch
		err      error
	)

	switch {
	case len(filter.Types) > 0:
		branches, err = e.store.FindByTypes(ctx, filter.Types...)
	case filter.Status != nil:
		branches, err = e.store.FindByStatus(ctx, *filter.Status)
	case filter.NameSearch != "":
		branches, err = e.store.SearchByName(ctx, filter.NameSearch)
	default:
		branches, err = e.listAll(ctx)
	}
	if err != nil {
		if svcErr, ok := AsError(err); ok {
			return nil, svcErr
		}
		return nil, NewStoreUnavailable(err)
	}

	filtered := branches[:0]
	for _, b := range branches {
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		if filter.NameSearch != "" && !matchesSearch(b, filter.NameSearch) {
			continue
		}
		filtered = append(filtered, b)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Name != filtered[j].Name {
			return filtered[i].Name < filtered[j].Name
		}
		return filtered[i].ID < filtered[j].ID
	})
	return filtered, nil
}

// matchesSearch повторяет контракт поиска хранилища: подстрока ищется
// в имени и адресе без учета регистра
func matchesSearch(b *models.Branch, fragment string) bool {
	needle := strings.ToLower(fragment)
	return strings.Contains(strings.ToLower(b.Name), needle) ||
		strings.Contains(strings.ToLower(b.Address), needle)
}

// listAll возвращает полный список отделений через кеш
func (e *QueryEngine) listAll(ctx context.Context) ([]*models.Branch, error) {
	data, _, err := e.cache.GetOrCompute(ctx, cache.BranchesAllKey(), branchesListTTL, func(ctx context.Context) ([]byte, error) {
		branches, err := e.store.FindAll(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(branches)
	})
	if err != nil {
		return nil, err
	}

	var branches []*models.Branch
	if err := json.Unmarshal(data, &branches); err != nil {
		return nil, err
	}
	return branches, nil
}

// Overview возвращает сводку реестра по типам отделений
func (e *QueryEngine) Overview(ctx context.Context) (*Overview, error) {
	total, err := e.store.Count(ctx)
	if err != nil {
		return nil, NewStoreUnavailable(err)
	}
	byType, err := e.store.CountByType(ctx)
	if err != nil {
		return nil, NewStoreUnavailable(err)
	}
	return &Overview{
		Total:   total,
		ByType:  byType,
		Indexed: e.index.Size(),
	}, nil
}

// AreaStatsAt возвращает агрегат плотности для тайла, покрывающего
// точку. Агрегат считается по пространственному индексу и кешируется.
func (e *QueryEngine) AreaStatsAt(ctx context.Context, location models.GeoPoint) (*AreaStats, error) {
	if err := location.Validate(); err != nil {
		return nil, NewInvalidInput("invalid location: %v", err)
	}

	tile := geo.TileAt(location.Latitude, location.Longitude, e.config.GeohashPrecision)
	key := cache.TileStatsKey(tile)

	data, _, err := e.cache.GetOrCompute(ctx, key, tileStatsTTL, func(ctx context.Context) ([]byte, error) {
		stats, err := e.computeAreaStats(ctx, tile)
		if err != nil {
			return nil, err
		}
		return json.Marshal(stats)
	})
	if err != nil {
		if svcErr, ok := AsError(err); ok {
			return nil, svcErr
		}
		return nil, NewSearchUnavailable(err)
	}

	var stats AreaStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, NewSearchUnavailable(err)
	}
	return &stats, nil
}

// computeAreaStats считает агрегат по отделениям внутри границ тайла
func (e *QueryEngine) computeAreaStats(ctx context.Context, tile string) (*AreaStats, error) {
	box := geo.TileBounds(tile)
	members := e.index.QueryBounds(box)

	stats := &AreaStats{
		Tile:    tile,
		AreaKm2: box.ApproxAreaKm2(),
	}
	for _, m := range members {
		branch, err := e.store.FindByID(ctx, models.BranchID(m.ID))
		if err == repository.ErrBranchNotFound {
			continue
		}
		if err != nil {
			return nil, NewSearchUnavailable(err)
		}
		stats.BranchCount++
		if branch.IsOperational() {
			stats.OperationalCount++
		}
	}
	if stats.AreaKm2 > 0 {
		stats.DensityPerKm2 = float64(stats.OperationalCount) / stats.AreaKm2
	}
	return stats, nil
}

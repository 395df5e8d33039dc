package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/geobank/branches-backend/internal/cache"
	"github.com/geobank/branches-backend/internal/config"
	"github.com/geobank/branches-backend/internal/events"
	"github.com/geobank/branches-backend/internal/geo"
	"github.com/geobank/branches-backend/internal/handler"
	"github.com/geobank/branches-backend/internal/models"
	"github.com/geobank/branches-backend/internal/repository"
	"github.com/geobank/branches-backend/internal/service"
	"github.com/geobank/branches-backend/pkg/utils"
)

// Центр Сан-Паулу, вокруг него строятся все сценарии
var testCenter = models.GeoPoint{Latitude: -23.5505, Longitude: -46.6333}

// RegistryScenariosTestSuite гоняет сквозные сценарии реестра через
// полный HTTP стек с живым Redis в роли распределенного уровня кеша.
// Набор пропускается целиком, если Redis недоступен.
type RegistryScenariosTestSuite struct {
	suite.Suite
	redisClient *redis.Client
	cfg         *config.Config

	store    *repository.MemoryStore
	index    *geo.QuadTree
	tiered   *cache.TieredCache
	registry *service.RegistrationEngine
	queries  *service.QueryEngine
	router   *gin.Engine

	ctx context.Context
}

func (suite *RegistryScenariosTestSuite) SetupSuite() {
	suite.ctx = context.Background()
	gin.SetMode(gin.TestMode)

	// Настройка Redis
	redisConfig := &config.RedisConfig{
		URL:          "redis://localhost:6379",
		Password:     "",
		DB:           13, // Отдельная DB для интеграционных тестов
		PoolSize:     10,
		MinIdleConns: 5,
	}

	var err error
	suite.redisClient, err = cache.NewRedisClient(redisConfig)
	require.NoError(suite.T(), err)

	// Проверяем подключение к Redis
	err = suite.redisClient.Ping(suite.ctx).Err()
	if err != nil {
		suite.T().Skip("Redis not available for integration testing: " + err.Error())
	}

	suite.cfg = &config.Config{
		Environment: "test",
		Query: config.QueryConfig{
			DefaultRadiusKm:   10,
			MaxRadiusKm:       100,
			DefaultMaxResults: 10,
			MaxResults:        50,
			GeohashPrecision:  5,
		},
		Rules: config.RulesConfig{
			MinInterBranchKm:   0.5,
			SaturationRadiusKm: 5.0,
			SaturationCount:    10,
		},
		Cache: config.CacheConfig{
			L1Size:              512,
			L1TTL:               time.Minute,
			L2TTL:               time.Hour,
			AutoRenewalInterval: time.Minute,
			LockTimeout:         2 * time.Second,
			LockRetryDelay:      20 * time.Millisecond,
			ProbeTimeout:        500 * time.Millisecond,
		},
	}
}

// SetupTest собирает свежий стек на каждый сценарий: чистое хранилище,
// пустой индекс и кеш без накопленных счетчиков
func (suite *RegistryScenariosTestSuite) SetupTest() {
	err := suite.redisClient.FlushDB(suite.ctx).Err()
	require.NoError(suite.T(), err)

	logger := utils.NewLogger("error", "text").WithField("component", "integration")

	suite.store = repository.NewMemoryStore()
	suite.index = geo.NewQuadTree()

	remote := cache.NewRedisCache(suite.redisClient, logger)
	lock := cache.NewDistributedLock(suite.redisClient, logger)
	suite.tiered = cache.NewTieredCache(&suite.cfg.Cache, remote, lock, logger)

	version := &service.RegistryVersion{}
	rules := &models.RuleConfig{
		MinInterBranchKm:   suite.cfg.Rules.MinInterBranchKm,
		SaturationRadiusKm: suite.cfg.Rules.SaturationRadiusKm,
		SaturationCount:    suite.cfg.Rules.SaturationCount,
		StrictCompliance:   suite.cfg.Rules.StrictCompliance,
	}
	validator := service.NewRuleValidator(rules, logger)
	suite.queries = service.NewQueryEngine(suite.index, suite.store, suite.tiered, events.Noop{}, &suite.cfg.Query, version, logger)
	suite.registry = service.NewRegistrationEngine(suite.index, suite.store, suite.tiered, events.Noop{}, validator, rules, version, &suite.cfg.Query, logger)

	rest := handler.NewRESTHandler(suite.registry, suite.queries, suite.tiered, suite.cfg, logger)

	suite.router = gin.New()
	suite.router.Use(handler.CorrelationMiddleware())
	suite.router.Use(gin.Recovery())

	api := suite.router.Group("/api/v1")
	{
		api.GET("/branches/nearest", rest.GetNearest)
		api.GET("/branches/search", rest.SearchBranches)
		api.GET("/branches/stats", rest.GetOverview)
		api.GET("/branches/density", rest.GetAreaStats)
		api.GET("/branches", rest.ListBranches)
		api.GET("/branches/:id", rest.GetBranch)
		api.POST("/branches", rest.RegisterBranch)
		api.PUT("/branches/:id", rest.UpdateBranch)
		api.PATCH("/branches/:id/status", rest.ChangeBranchStatus)
		api.DELETE("/branches/:id", rest.DeleteBranch)
		api.GET("/cache/stats", rest.GetCacheStats)
	}
}

func (suite *RegistryScenariosTestSuite) TearDownSuite() {
	if suite.redisClient != nil {
		suite.redisClient.FlushDB(suite.ctx)
		suite.redisClient.Close()
	}
}

func (suite *RegistryScenariosTestSuite) do(method, target string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(suite.T(), err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	return w
}

func (suite *RegistryScenariosTestSuite) decode(w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// register регистрирует отделение полной формой и требует успеха
func (suite *RegistryScenariosTestSuite) register(name string, lat, lon float64, branchType string) map[string]interface{} {
	w := suite.do("POST", "/api/v1/branches", map[string]interface{}{
		"name":      name,
		"address":   "Av. Paulista 1000, Sao Paulo",
		"latitude":  lat,
		"longitude": lon,
		"type":      branchType,
	})
	require.Equal(suite.T(), http.StatusCreated, w.Code, "register %s: %s", name, w.Body.String())
	return suite.decode(w)
}

// onCircle возвращает точку на окружности заданного радиуса вокруг
// центра, k из n равномерных позиций
func onCircle(center models.GeoPoint, radiusKm float64, k, n int) (float64, float64) {
	angle := 2 * math.Pi * float64(k) / float64(n)
	lat := center.Latitude + radiusKm*math.Cos(angle)/111.195
	lon := center.Longitude + radiusKm*math.Sin(angle)/(111.195*math.Cos(center.Latitude*math.Pi/180))
	return lat, lon
}

// Одно отделение, запрос из его собственной точки: дистанция ровно 0.00
func (suite *RegistryScenariosTestSuite) TestSingleBranchSelfQuery() {
	suite.do("POST", "/api/v1/branches", map[string]interface{}{
		"name":      "A",
		"address":   "X",
		"latitude":  testCenter.Latitude,
		"longitude": testCenter.Longitude,
		"type":      "TRADITIONAL",
	})

	w := suite.do("GET", "/api/v1/branches/nearest?posX=-46.6333&posY=-23.5505&radius=1&limite=5", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)

	body := suite.decode(w)
	assert.Equal(suite.T(), "posX=-46.6333, posY=-23.5505", body["posicaoUsuario"])

	agencias := body["agencias"].(map[string]interface{})
	require.Len(suite.T(), agencias, 1)
	assert.Equal(suite.T(), "distancia = 0.00", agencias["A"])
}

// Два отделения в пешей доступности: оба в ответе, ближайшее первым
func (suite *RegistryScenariosTestSuite) TestNearestReturnsBothOrderedByDistance() {
	suite.register("A", -23.5505, -46.6333, "TRADITIONAL")
	suite.register("B", -23.5489, -46.6388, "TRADITIONAL")

	w := suite.do("GET", "/api/v1/branches/search?lat=-23.5500&lon=-46.6360&radiusKm=1&maxResults=5", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)

	body := suite.decode(w)
	branches := body["branches"].([]interface{})
	require.Len(suite.T(), branches, 2)

	first := branches[0].(map[string]interface{})
	second := branches[1].(map[string]interface{})
	assert.Equal(suite.T(), "A", first["name"])
	assert.InDelta(suite.T(), 0.28, first["distanceKm"].(float64), 0.001)
	assert.Equal(suite.T(), "B", second["name"])
	assert.InDelta(suite.T(), 0.31, second["distanceKm"].(float64), 0.001)
}

// Отделение в другом городе не попадает в радиус поиска
func (suite *RegistryScenariosTestSuite) TestRadiusExcludesDistantBranch() {
	suite.register("A", -23.5505, -46.6333, "TRADITIONAL")
	suite.register("B", -22.9068, -43.1729, "TRADITIONAL") // Рио, ~360 км

	w := suite.do("GET", "/api/v1/branches/search?lat=-23.5505&lon=-46.6333&radiusKm=10&maxResults=5", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)

	body := suite.decode(w)
	branches := body["branches"].([]interface{})
	require.Len(suite.T(), branches, 1)
	assert.Equal(suite.T(), "A", branches[0].(map[string]interface{})["name"])

	stats := body["stats"].(map[string]interface{})
	assert.Equal(suite.T(), float64(1), stats["totalCandidates"])
}

// Правило минимальной дистанции: вторая регистрация в 15 метрах от
// первой отклоняется, реестр не меняется
func (suite *RegistryScenariosTestSuite) TestMinimumDistanceRuleRejectsSecondRegistration() {
	suite.register("A", -23.5505, -46.6333, "TRADITIONAL")

	w := suite.do("POST", "/api/v1/branches", map[string]interface{}{
		"name":      "A Bis",
		"address":   "Av. Paulista 1002, Sao Paulo",
		"latitude":  -23.5506,
		"longitude": -46.6334,
		"type":      "TRADITIONAL",
	})
	require.Equal(suite.T(), http.StatusConflict, w.Code)

	envelope := suite.decode(w)["error"].(map[string]interface{})
	assert.Equal(suite.T(), "RULE_VIOLATED", envelope["code"])
	details := envelope["details"].(map[string]interface{})
	assert.Equal(suite.T(), "TOO_CLOSE", details["rule"])

	list := suite.decode(suite.do("GET", "/api/v1/branches", nil))
	assert.Equal(suite.T(), float64(1), list["count"])
}

// Правило насыщенности: десять банкоматных точек вокруг центра
// блокируют новое традиционное отделение, но не банкоматное
func (suite *RegistryScenariosTestSuite) TestSaturationRuleBlocksTraditionalOnly() {
	center := models.GeoPoint{Latitude: -23.55, Longitude: -46.63}
	for k := 0; k < 10; k++ {
		lat, lon := onCircle(center, 2.0, k, 10)
		suite.register(fmt.Sprintf("Caixa %02d", k), lat, lon, "ATM_ONLY")
	}

	w := suite.do("POST", "/api/v1/branches", map[string]interface{}{
		"name":      "Agencia Central",
		"address":   "Praca da Se 100",
		"latitude":  center.Latitude,
		"longitude": center.Longitude,
		"type":      "TRADITIONAL",
	})
	require.Equal(suite.T(), http.StatusConflict, w.Code)

	envelope := suite.decode(w)["error"].(map[string]interface{})
	assert.Equal(suite.T(), "RULE_VIOLATED", envelope["code"])
	details := envelope["details"].(map[string]interface{})
	assert.Equal(suite.T(), "AREA_SATURATED", details["rule"])

	// Банкоматная точка в той же насыщенной зоне проходит
	suite.register("Caixa Central", center.Latitude, center.Longitude, "ATM_ONLY")

	list := suite.decode(suite.do("GET", "/api/v1/branches", nil))
	assert.Equal(suite.T(), float64(11), list["count"])
}

// Когерентность кеша при записи: регистрация инвалидирует закешированный
// результат поиска, повторный запрос видит новое отделение сразу
func (suite *RegistryScenariosTestSuite) TestCacheCoherenceAfterRegistration() {
	const query = "/api/v1/branches/search?lat=-23.5505&lon=-46.6333&radiusKm=5"
	key := cache.NearestKey(-23.5505, -46.6333, 5, 10, nil, "")

	// Холодный запрос по пустому реестру
	body := suite.decode(suite.do("GET", query, nil))
	assert.Empty(suite.T(), body["branches"])
	assert.Equal(suite.T(), false, body["cacheHit"])

	stats := body["stats"].(map[string]interface{})
	assert.Equal(suite.T(), float64(0), stats["averageDistanceKm"])
	assert.Equal(suite.T(), float64(0), stats["densityPerKm2"])

	// Результат дошел до распределенного уровня
	exists, err := suite.redisClient.Exists(suite.ctx, "geobank:"+key).Result()
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), exists)

	body = suite.decode(suite.do("GET", query, nil))
	assert.Equal(suite.T(), true, body["cacheHit"])

	// Запись инвалидирует оба уровня
	suite.register("Agencia Nova", -23.5510, -46.6340, "TRADITIONAL")

	exists, err = suite.redisClient.Exists(suite.ctx, "geobank:"+key).Result()
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(0), exists)

	body = suite.decode(suite.do("GET", query, nil))
	assert.Equal(suite.T(), false, body["cacheHit"])
	branches := body["branches"].([]interface{})
	require.Len(suite.T(), branches, 1)
	assert.Equal(suite.T(), "Agencia Nova", branches[0].(map[string]interface{})["name"])

	// Новый результат снова кешируется
	body = suite.decode(suite.do("GET", query, nil))
	assert.Equal(suite.T(), true, body["cacheHit"])
	assert.Len(suite.T(), body["branches"], 1)
}

// Защита от давки: пятьдесят конкурентных промахов по одному холодному
// ключу выполняют загрузчик один раз, все получают одно значение
func (suite *RegistryScenariosTestSuite) TestStampedeSingleFlight() {
	key := cache.NearestKey(testCenter.Latitude, testCenter.Longitude, 5, 10, nil, "")

	var loaderCalls atomic.Int64
	loader := func(ctx context.Context) ([]byte, error) {
		time.Sleep(200 * time.Millisecond)
		loaderCalls.Add(1)
		return []byte(`{"results":[],"source":"cold"}`), nil
	}

	const callers = 50
	results := make([][]byte, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			value, _, err := suite.tiered.GetOrCompute(suite.ctx, key, time.Minute, loader)
			results[i], errs[i] = value, err
		}(i)
	}
	wg.Wait()

	assert.Equal(suite.T(), int64(1), loaderCalls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(suite.T(), errs[i])
		assert.Equal(suite.T(), results[0], results[i])
	}

	// Вычисленное значение дошло до распределенного уровня
	exists, err := suite.redisClient.Exists(suite.ctx, "geobank:"+key).Result()
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), exists)
}

// Ошибки валидации доходят до клиента в стандартном конверте и на
// полном стеке
func (suite *RegistryScenariosTestSuite) TestValidationOverFullStack() {
	tests := []struct {
		name            string
		endpoint        string
		expectedStatus  int
		expectedMessage string
	}{
		{
			name:            "Missing posX",
			endpoint:        "/api/v1/branches/nearest?posY=-23.55",
			expectedStatus:  http.StatusBadRequest,
			expectedMessage: "posX is required",
		},
		{
			name:            "Latitude out of range",
			endpoint:        "/api/v1/branches/search?lat=91&lon=-46.63",
			expectedStatus:  http.StatusBadRequest,
			expectedMessage: "lat must be between -90 and 90",
		},
		{
			name:            "Zero radius",
			endpoint:        "/api/v1/branches/search?lat=-23.55&lon=-46.63&radiusKm=0",
			expectedStatus:  http.StatusBadRequest,
			expectedMessage: "search radius must be positive, got 0",
		},
		{
			name:            "Zero max results",
			endpoint:        "/api/v1/branches/search?lat=-23.55&lon=-46.63&maxResults=0",
			expectedStatus:  http.StatusBadRequest,
			expectedMessage: "maxResults must be positive",
		},
		{
			name:            "Latitude at the pole",
			endpoint:        "/api/v1/branches/search?lat=-90&lon=-46.63",
			expectedStatus:  http.StatusOK,
			expectedMessage: "",
		},
	}

	for _, tt := range tests {
		suite.T().Run(tt.name, func(t *testing.T) {
			w := suite.do("GET", tt.endpoint, nil)
			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedMessage != "" {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				envelope := body["error"].(map[string]interface{})
				assert.Equal(t, "INVALID_INPUT", envelope["code"])
				assert.Equal(t, tt.expectedMessage, envelope["message"])
			}
		})
	}
}

// Радиус и лимит выше потолка не отклоняются, а приводятся к потолку
func (suite *RegistryScenariosTestSuite) TestRadiusAndMaxResultsClampedToCaps() {
	w := suite.do("GET", "/api/v1/branches/search?lat=-23.5505&lon=-46.6333&radiusKm=400&maxResults=75", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)

	body := suite.decode(w)
	assert.Equal(suite.T(), float64(100), body["radiusKm"])
	assert.Equal(suite.T(), float64(50), body["maxResults"])
}

// Поиск по заполненному реестру укладывается в секунду
func (suite *RegistryScenariosTestSuite) TestSearchPerformanceUnderLoad() {
	// Сетка отделений кладется в хранилище и индекс напрямую, в обход
	// правил размещения
	const count = 600
	for i := 0; i < count; i++ {
		row, col := i/25, i%25
		lat := testCenter.Latitude + float64(row-12)*0.01
		lon := testCenter.Longitude + float64(col-12)*0.01

		branch, err := models.NewBranch(
			fmt.Sprintf("Agencia %03d", i),
			fmt.Sprintf("Rua Teste %d", i),
			models.GeoPoint{Latitude: lat, Longitude: lon},
			models.BranchTypeTraditional,
		)
		require.NoError(suite.T(), err)
		branch.ContactPhone = "+55 11 4004-1000"

		require.NoError(suite.T(), suite.store.Save(suite.ctx, branch))
		suite.index.Insert(geo.Member{ID: branch.ID.String(), Lat: lat, Lon: lon})
	}

	start := time.Now()
	w := suite.do("GET", "/api/v1/branches/search?lat=-23.5505&lon=-46.6333&radiusKm=50&maxResults=50", nil)
	duration := time.Since(start)

	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Less(suite.T(), duration, time.Second, "search should answer within a second on a populated registry")

	body := suite.decode(w)
	branches := body["branches"].([]interface{})
	assert.Len(suite.T(), branches, 50)

	stats := body["stats"].(map[string]interface{})
	assert.Equal(suite.T(), float64(count), stats["totalCandidates"])

	suite.T().Logf("search answered in %v over %v candidates", duration, stats["totalCandidates"])
}

// Запуск интеграционных сценариев реестра
func TestRegistryScenariosSuite(t *testing.T) {
	suite.Run(t, new(RegistryScenariosTestSuite))
}

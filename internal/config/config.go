package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит конфигурацию приложения
type Config struct {
	Environment string
	Server      ServerConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	MySQL       MySQLConfig
	Auth        AuthConfig
	Cache       CacheConfig
	Query       QueryConfig
	Rules       RulesConfig
	Reconciler  ReconcilerConfig
	Events      EventsConfig
	Performance PerformanceConfig
	Monitoring  MonitoringConfig
	Features    FeaturesConfig
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Address      string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RedisConfig конфигурация Redis (распределенный уровень кеша)
type RedisConfig struct {
	URL          string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// MQTTConfig конфигурация MQTT (шина доменных событий)
type MQTTConfig struct {
	URL          string
	ClientID     string
	Username     string
	Password     string
	CleanSession bool
	OrderMatters bool
	TopicPrefix  string
}

// MySQLConfig конфигурация MySQL (основное хранилище отделений).
// При пустом DSN сервис работает на хранилище в памяти.
type MySQLConfig struct {
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuthConfig конфигурация аутентификации
type AuthConfig struct {
	Enabled  bool
	Endpoint string
	CacheTTL time.Duration
}

// CacheConfig конфигурация двухуровневого кеша
type CacheConfig struct {
	L1Size                int           // Максимальное число записей локального LRU
	L1TTL                 time.Duration // Время жизни записи в L1
	L2TTL                 time.Duration // Время жизни записи в Redis
	EarlyExpirationFactor float64       // Доля TTL, в пределах которой запись может истечь досрочно
	AutoRenewalInterval   time.Duration // Период фонового сброса горячих ключей
	LockTimeout           time.Duration // Максимальное ожидание распределенной блокировки
	LockRetryDelay        time.Duration // Пауза между попытками захвата блокировки
	ProbeTimeout          time.Duration // Бюджет одного обращения к Redis на горячем пути
}

// QueryConfig конфигурация поисковых запросов
type QueryConfig struct {
	DefaultRadiusKm   float64
	MaxRadiusKm       float64
	DefaultMaxResults int
	MaxResults        int
	GeohashPrecision  int
}

// RulesConfig конфигурация бизнес-правил размещения
type RulesConfig struct {
	MinInterBranchKm   float64
	SaturationRadiusKm float64
	SaturationCount    int
	StrictCompliance   bool
	TerritoryCheck     bool // Проверять попадание координат в границы обслуживаемой территории
}

// ReconcilerConfig конфигурация сверки индекса с хранилищем
type ReconcilerConfig struct {
	Interval time.Duration
}

// EventsConfig конфигурация публикации доменных событий
type EventsConfig struct {
	PublishTimeout time.Duration
}

// PerformanceConfig конфигурация производительности
type PerformanceConfig struct {
	WebSocketPingInterval time.Duration
	WebSocketPongTimeout  time.Duration
}

// MonitoringConfig конфигурация мониторинга
type MonitoringConfig struct {
	MetricsEnabled bool
	MetricsPort    string
}

// FeaturesConfig флаги функций
type FeaturesConfig struct {
	EnableWebSocket bool
	EnableProfiling bool
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Address:      getEnv("SERVER_ADDRESS", ":8080"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getInt("REDIS_DB", 0),
			PoolSize:     getInt("REDIS_POOL_SIZE", 100),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 10),
		},
		MQTT: MQTTConfig{
			URL:          getEnv("MQTT_URL", "tcp://localhost:1883"),
			ClientID:     getEnv("MQTT_CLIENT_ID", "geobank-api"),
			Username:     getEnv("MQTT_USERNAME", ""),
			Password:     getEnv("MQTT_PASSWORD", ""),
			CleanSession: getBool("MQTT_CLEAN_SESSION", false),
			OrderMatters: getBool("MQTT_ORDER_MATTERS", false),
			TopicPrefix:  getEnv("MQTT_TOPIC_PREFIX", "geobank/events"),
		},
		MySQL: MySQLConfig{
			DSN:          getEnv("MYSQL_DSN", ""),
			MaxIdleConns: getInt("MYSQL_MAX_IDLE_CONNS", 10),
			MaxOpenConns: getInt("MYSQL_MAX_OPEN_CONNS", 100),
			ReadTimeout:  getDuration("MYSQL_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: getDuration("MYSQL_WRITE_TIMEOUT", time.Second),
		},
		Auth: AuthConfig{
			Enabled:  getBool("AUTH_ENABLED", false),
			Endpoint: getEnv("AUTH_ENDPOINT", ""),
			CacheTTL: getDuration("AUTH_CACHE_TTL", 5*time.Minute),
		},
		Cache: CacheConfig{
			L1Size:                getInt("CACHE_L1_SIZE", 10000),
			L1TTL:                 getDuration("CACHE_L1_TTL", 5*time.Minute),
			L2TTL:                 getDuration("CACHE_L2_TTL", time.Hour),
			EarlyExpirationFactor: getFloat("CACHE_EARLY_EXPIRATION_FACTOR", 0.10),
			AutoRenewalInterval:   getDuration("CACHE_AUTO_RENEWAL_INTERVAL", 15*time.Minute),
			LockTimeout:           getDuration("CACHE_LOCK_TIMEOUT", 10*time.Second),
			LockRetryDelay:        getDuration("CACHE_LOCK_RETRY_DELAY", 100*time.Millisecond),
			ProbeTimeout:          getDuration("CACHE_PROBE_TIMEOUT", 100*time.Millisecond),
		},
		Query: QueryConfig{
			DefaultRadiusKm:   getFloat("QUERY_DEFAULT_RADIUS_KM", 10),
			MaxRadiusKm:       getFloat("QUERY_MAX_RADIUS_KM", 100),
			DefaultMaxResults: getInt("QUERY_DEFAULT_MAX_RESULTS", 10),
			MaxResults:        getInt("QUERY_MAX_RESULTS", 50),
			GeohashPrecision:  getInt("GEOHASH_PRECISION", 5),
		},
		Rules: RulesConfig{
			MinInterBranchKm:   getFloat("RULES_MIN_INTER_BRANCH_KM", 0.5),
			SaturationRadiusKm: getFloat("RULES_SATURATION_RADIUS_KM", 5.0),
			SaturationCount:    getInt("RULES_SATURATION_COUNT", 10),
			StrictCompliance:   getBool("RULES_STRICT_COMPLIANCE", false),
			TerritoryCheck:     getBool("RULES_TERRITORY_CHECK", false),
		},
		Reconciler: ReconcilerConfig{
			Interval: getDuration("RECONCILER_INTERVAL", 5*time.Minute),
		},
		Events: EventsConfig{
			PublishTimeout: getDuration("EVENTS_PUBLISH_TIMEOUT", 200*time.Millisecond),
		},
		Performance: PerformanceConfig{
			WebSocketPingInterval: getDuration("WEBSOCKET_PING_INTERVAL", 30*time.Second),
			WebSocketPongTimeout:  getDuration("WEBSOCKET_PONG_TIMEOUT", 60*time.Second),
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: getBool("METRICS_ENABLED", true),
			MetricsPort:    getEnv("METRICS_PORT", "9090"),
		},
		Features: FeaturesConfig{
			EnableWebSocket: getBool("ENABLE_WEBSOCKET", true),
			EnableProfiling: getBool("ENABLE_PROFILING", false),
		},
	}

	// Валидация
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	// Проверка портов
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	// Проверка Redis URL
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	// Проверка MQTT URL
	if c.MQTT.URL == "" {
		return fmt.Errorf("MQTT_URL is required")
	}

	// Проверка кеша
	if c.Cache.L1Size <= 0 {
		return fmt.Errorf("CACHE_L1_SIZE must be positive")
	}

	if c.Cache.EarlyExpirationFactor < 0 || c.Cache.EarlyExpirationFactor >= 1 {
		return fmt.Errorf("CACHE_EARLY_EXPIRATION_FACTOR must be in [0, 1)")
	}

	if c.Cache.LockTimeout <= 0 {
		return fmt.Errorf("CACHE_LOCK_TIMEOUT must be positive")
	}

	// Проверка параметров поиска
	if c.Query.MaxRadiusKm <= 0 {
		return fmt.Errorf("QUERY_MAX_RADIUS_KM must be positive")
	}

	if c.Query.DefaultRadiusKm <= 0 || c.Query.DefaultRadiusKm > c.Query.MaxRadiusKm {
		return fmt.Errorf("QUERY_DEFAULT_RADIUS_KM must be in (0, QUERY_MAX_RADIUS_KM]")
	}

	if c.Query.MaxResults <= 0 {
		return fmt.Errorf("QUERY_MAX_RESULTS must be positive")
	}

	if c.Query.DefaultMaxResults <= 0 || c.Query.DefaultMaxResults > c.Query.MaxResults {
		return fmt.Errorf("QUERY_DEFAULT_MAX_RESULTS must be in (0, QUERY_MAX_RESULTS]")
	}

	if c.Query.GeohashPrecision < 1 || c.Query.GeohashPrecision > 12 {
		return fmt.Errorf("GEOHASH_PRECISION must be between 1 and 12")
	}

	// Проверка аутентификации
	if c.Auth.Enabled && c.Auth.Endpoint == "" {
		return fmt.Errorf("AUTH_ENDPOINT is required when AUTH_ENABLED is set")
	}

	// Проверка бизнес-правил
	if c.Rules.MinInterBranchKm < 0 {
		return fmt.Errorf("RULES_MIN_INTER_BRANCH_KM must be non-negative")
	}

	if c.Rules.SaturationRadiusKm <= 0 {
		return fmt.Errorf("RULES_SATURATION_RADIUS_KM must be positive")
	}

	if c.Rules.SaturationCount <= 0 {
		return fmt.Errorf("RULES_SATURATION_COUNT must be positive")
	}

	return nil
}

// Helper функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// LogLevel возвращает уровень логирования
func LogLevel() string {
	return getEnv("LOG_LEVEL", "info")
}

// LogFormat возвращает формат логирования
func LogFormat() string {
	return getEnv("LOG_FORMAT", "json")
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func IsDevelopment() bool {
	return getEnv("APP_ENV", "production") == "development"
}

// IsProduction проверяет, запущено ли приложение в production
func IsProduction() bool {
	return getEnv("APP_ENV", "production") == "production"
}

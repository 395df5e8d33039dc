package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geobank_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobank_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geobank_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// Метрики поиска ближайших отделений
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geobank_query_duration_seconds",
			Help:    "Duration of proximity queries in seconds",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"source"}, // cache, computed
	)

	QueryResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geobank_query_results",
			Help:    "Number of branches returned per proximity query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	// Метрики регистрации отделений
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobank_registrations_total",
			Help: "Total number of branch registration attempts",
		},
		[]string{"status"}, // success, invalid, rule_violated, error
	)

	RuleRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobank_rule_rejections_total",
			Help: "Total number of business rule rejections",
		},
		[]string{"rule"},
	)

	// Метрики двухуровневого кеша
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobank_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"tier"}, // l1, l2
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geobank_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobank_cache_evictions_total",
			Help: "Total number of cache evictions",
		},
		[]string{"reason"}, // capacity, ttl, explicit, pattern, renewal
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobank_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"},
	)

	CacheL1Size = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geobank_cache_l1_entries",
			Help: "Current number of entries in the local cache tier",
		},
	)

	CacheDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geobank_cache_degraded",
			Help: "Cache degraded mode (1 = distributed tier unavailable, 0 = healthy)",
		},
	)

	CacheLastRenewal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geobank_cache_last_renewal_timestamp_seconds",
			Help: "Unix timestamp of the last automatic cache renewal",
		},
	)

	CacheLockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobank_cache_lock_contention_total",
			Help: "Total number of distributed lock acquisition outcomes",
		},
		[]string{"outcome"}, // acquired, waited, exhausted
	)

	// Метрики пространственного индекса
	SpatialIndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geobank_spatial_index_entries",
			Help: "Current number of branches in the spatial index",
		},
	)

	SpatialIndexDesyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geobank_spatial_index_desyncs_total",
			Help: "Total number of detected store/index desynchronizations",
		},
	)

	ReconcilerRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobank_reconciler_repairs_total",
			Help: "Total number of index repairs performed by the reconciler",
		},
		[]string{"kind"}, // inserted, removed
	)

	// Метрики публикации событий
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobank_events_published_total",
			Help: "Total number of published domain events",
		},
		[]string{"type", "status"}, // status: ok, error
	)

	// WebSocket метрики
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geobank_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobank_websocket_messages_out_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)

	WebSocketErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geobank_websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
	)

	// MQTT метрики
	MQTTConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geobank_mqtt_connection_status",
			Help: "MQTT connection status (1 = connected, 0 = disconnected)",
		},
	)

	// Redis метрики
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geobank_redis_operation_duration_seconds",
			Help:    "Duration of Redis operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	RedisOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobank_redis_operation_errors_total",
			Help: "Total number of Redis operation errors",
		},
		[]string{"operation"},
	)

	// MySQL метрики
	MySQLQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geobank_mysql_query_duration_seconds",
			Help:    "Duration of MySQL queries in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	MySQLWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geobank_mysql_write_errors_total",
			Help: "Total number of MySQL write errors",
		},
	)

	// Общие метрики приложения
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geobank_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "build_time"},
	)

	ActiveBranches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geobank_active_branches_total",
			Help: "Total number of operational branches in the system",
		},
	)

	// Database connection status
	MySQLConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geobank_mysql_connection_status",
			Help: "MySQL connection status (1 = connected, 0 = disconnected)",
		},
	)

	RedisConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geobank_redis_connection_status",
			Help: "Redis connection status (1 = connected, 0 = disconnected)",
		},
	)
)

// SetAppInfo устанавливает информацию о версии приложения
func SetAppInfo(version, commit, buildTime string) {
	AppInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

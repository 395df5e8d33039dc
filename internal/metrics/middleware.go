package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPMetricsMiddleware наблюдает длительность, статус и число HTTP
// запросов. Меткой endpoint служит шаблон маршрута, а не фактический
// URL, иначе каждый уникальный путь порождал бы отдельную серию.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		method := c.Request.Method

		HTTPRequestsInFlight.Inc()
		start := time.Now()

		c.Next()

		HTTPRequestsInFlight.Dec()
		elapsed := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestDuration.WithLabelValues(method, endpoint, status).Observe(elapsed)
		HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	}
}

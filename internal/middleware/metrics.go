package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Darkvarin/Learnyzer-sub003/pkg/metrics"
)

// Metrics records latency and in-flight counts for each HTTP request. The
// route template is preferred over the raw path so battle ids do not explode
// label cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.APIInFlight.Inc()

		c.Next()

		metrics.APIInFlight.Dec()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		status := strconv.Itoa(c.Writer.Status())
		metrics.APILatency.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

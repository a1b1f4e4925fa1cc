package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/pkg/metrics"
)

// Metrics records request latency metrics for each HTTP request. Unmatched
// routes are grouped under one label so probing cannot blow up cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		status := strconv.Itoa(c.Writer.Status())
		metrics.APILatency.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

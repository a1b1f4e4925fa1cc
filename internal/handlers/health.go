package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/monitoring"
	"github.com/carebridge/carebridge/pkg/response"
)

// Health evaluates the registered probes. Any probe that is down turns the
// response into a 503; degraded probes are reported but still answer 200.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := manager.Evaluate(requestContext(c))

		status := http.StatusOK
		if !report.Healthy() {
			status = http.StatusServiceUnavailable
		}
		response.Success(c, status, report)
	}
}

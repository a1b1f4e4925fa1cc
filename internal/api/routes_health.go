package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/carebridge/carebridge/internal/app"
	"github.com/carebridge/carebridge/internal/handlers"
	"github.com/carebridge/carebridge/internal/monitoring"
	"github.com/carebridge/carebridge/internal/monitoring/checks"
)

func registerHealthRoutes(r *gin.Engine, db *gorm.DB, cfg *app.Config, jobs *monitoring.JobTracker) {
	if !cfg.Monitoring.Health.Enabled {
		r.GET("/health", disabledHealthHandler)
		r.GET("/api/health", disabledHealthHandler)
		return
	}

	manager := monitoring.NewHealthManager(
		checks.Database(db, 0),
		checks.Maintenance(jobs, 0),
	)
	health := handlers.Health(manager)
	r.GET("/health", health)
	r.GET("/api/health", health)
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}

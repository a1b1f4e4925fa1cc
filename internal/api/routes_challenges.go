package api

import (
	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/handlers"
)

func registerChallengeRoutes(api *gin.RouterGroup, h *handlers.ChallengeHandler) {
	challenges := api.Group("/challenges")
	{
		challenges.POST("", h.Create)
		challenges.GET("", h.List)
		challenges.GET("/active", h.Active)
		challenges.GET("/search", h.Search)
		challenges.GET("/stats", h.Stats)
		challenges.GET("/:id", h.Get)
		challenges.DELETE("/:id", h.Delete)
		challenges.POST("/:id/join", h.Join)
		challenges.POST("/:id/leave", h.Leave)
		challenges.PUT("/:id/progress", h.UpdateProgress)
		challenges.GET("/:id/participants", h.Participants)
	}
}

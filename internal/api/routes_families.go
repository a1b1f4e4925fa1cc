package api

import (
	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/handlers"
)

func registerFamilyRoutes(api *gin.RouterGroup, h *handlers.FamilyHandler) {
	families := api.Group("/families")
	{
		families.POST("", h.Create)
		families.GET("", h.List)
		families.GET("/stats", h.Stats)
		families.GET("/:id", h.Get)
		families.DELETE("/:id", h.Delete)
		families.GET("/:id/members", h.Members)
		families.POST("/:id/members", h.AddMember)
		families.PATCH("/:id/members/:userID", h.UpdateMember)
		families.DELETE("/:id/members/:userID", h.RemoveMember)
	}
}

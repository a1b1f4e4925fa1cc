package api

import (
	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/handlers"
)

func registerProviderRoutes(api *gin.RouterGroup, h *handlers.ProviderHandler) {
	providers := api.Group("/providers")
	{
		providers.GET("", h.Search)
		providers.POST("", h.Create)
		providers.GET("/lookup", h.Lookup)
		providers.GET("/mine", h.Mine)
		providers.GET("/mine/primary", h.Primary)
		providers.GET("/:id", h.Get)
		providers.POST("/:id/verify", h.Verify)
		providers.POST("/:id/link", h.Link)
		providers.DELETE("/:id/link", h.Unlink)
	}
}

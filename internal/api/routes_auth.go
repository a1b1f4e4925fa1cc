package api

import (
	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/handlers"
)

// registerAuthRoutes mounts register and login outside the authenticated
// group; limiter guards both against credential stuffing.
func registerAuthRoutes(engine *gin.Engine, api *gin.RouterGroup, h *handlers.AuthHandler, limiter gin.HandlerFunc) {
	auth := engine.Group("/api/auth")
	auth.Use(limiter)
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
	}

	api.GET("/auth/me", h.Me)
	api.POST("/auth/emails", h.AddEmail)
	api.POST("/auth/emails/:id/verify", h.VerifyEmail)
	api.PUT("/auth/phone", h.UpdatePhone)
	api.POST("/auth/phone/verify", h.VerifyPhone)
}

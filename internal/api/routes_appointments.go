package api

import (
	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/handlers"
)

func registerAppointmentRoutes(api *gin.RouterGroup, h *handlers.AppointmentHandler) {
	appointments := api.Group("/appointments")
	{
		appointments.POST("", h.Create)
		appointments.GET("", h.List)
		appointments.GET("/stats", h.Stats)
		appointments.GET("/provider/:provider_id", h.ProviderSchedule)
		appointments.GET("/:id", h.Get)
		appointments.POST("/:id/cancel", h.Cancel)
		appointments.POST("/:id/complete", h.Complete)
	}
}

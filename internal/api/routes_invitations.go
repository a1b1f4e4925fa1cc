package api

import (
	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/handlers"
)

func registerInvitationRoutes(api *gin.RouterGroup, h *handlers.InvitationHandler) {
	invitations := api.Group("/invitations")
	{
		invitations.POST("", h.Create)
		invitations.GET("/mine", h.Mine)
		invitations.GET("/sent", h.Sent)
		invitations.GET("/stats", h.Stats)
		invitations.GET("/:uid", h.Get)
		invitations.POST("/:uid/accept", h.Accept)
		// accepts the row ID or the public UID
		invitations.DELETE("/:uid", h.Cancel)
	}
}

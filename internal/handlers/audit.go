package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/services"
	"github.com/carebridge/carebridge/pkg/response"
)

// AuditHandler lets users page through their own audit trail.
type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// GET /api/audit?page=&per_page=&action=
func (h *AuditHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 50)
	logs, total, err := h.svc.List(requestContext(c), services.AuditListOptions{
		Page:     page,
		PageSize: perPage,
		Filters: services.AuditFilters{
			UserID: userID,
			Action: c.Query("action"),
		},
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}
	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      int(total),
		TotalPages: totalPages,
	})
}

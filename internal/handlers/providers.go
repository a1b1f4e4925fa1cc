package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/services"
	"github.com/carebridge/carebridge/pkg/response"
)

// ProviderHandler manages the provider directory and the caller's provider links.
type ProviderHandler struct {
	providers *services.ProviderService
}

func NewProviderHandler(providers *services.ProviderService) *ProviderHandler {
	return &ProviderHandler{providers: providers}
}

type createProviderRequest struct {
	LicenseNumber string `json:"license_number" validate:"required,license"`
	Name          string `json:"name" validate:"required,max=255"`
	Email         string `json:"email" validate:"omitempty,email"`
	Phone         string `json:"phone" validate:"omitempty,phone"`
	Specialty     string `json:"specialty" validate:"omitempty,max=128"`
}

type linkProviderRequest struct {
	Primary bool `json:"primary"`
}

// GET /api/providers?q=
func (h *ProviderHandler) Search(c *gin.Context) {
	providers, err := h.providers.Search(requestContext(c), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, providers)
}

// POST /api/providers
func (h *ProviderHandler) Create(c *gin.Context) {
	var body createProviderRequest
	if !bindAndValidate(c, &body) {
		return
	}

	provider, err := h.providers.Create(requestContext(c), services.CreateProviderInput{
		LicenseNumber: body.LicenseNumber,
		Name:          body.Name,
		Email:         body.Email,
		Phone:         body.Phone,
		Specialty:     body.Specialty,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, provider)
}

// GET /api/providers/lookup?license=|email=
func (h *ProviderHandler) Lookup(c *gin.Context) {
	provider, err := h.providers.FindByLicenseOrVerifiedEmail(requestContext(c), c.Query("license"), c.Query("email"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, provider)
}

// GET /api/providers/:id
func (h *ProviderHandler) Get(c *gin.Context) {
	provider, err := h.providers.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, provider)
}

// POST /api/providers/:id/verify
func (h *ProviderHandler) Verify(c *gin.Context) {
	provider, err := h.providers.Verify(requestContext(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, provider)
}

// GET /api/providers/mine
func (h *ProviderHandler) Mine(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	links, err := h.providers.ListUserProviders(requestContext(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, links)
}

// GET /api/providers/mine/primary
func (h *ProviderHandler) Primary(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	provider, err := h.providers.GetPrimaryProvider(requestContext(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, provider)
}

// POST /api/providers/:id/link
func (h *ProviderHandler) Link(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var body linkProviderRequest
	// an empty body links as non-primary
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &body) {
		return
	}

	link, err := h.providers.LinkToUser(requestContext(c), userID, c.Param("id"), body.Primary)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, link)
}

// DELETE /api/providers/:id/link
func (h *ProviderHandler) Unlink(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.providers.UnlinkFromUser(requestContext(c), userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"unlinked": true})
}

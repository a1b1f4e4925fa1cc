package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/models"
	"github.com/carebridge/carebridge/internal/services"
	appErrors "github.com/carebridge/carebridge/pkg/errors"
	"github.com/carebridge/carebridge/pkg/response"
)

// InvitationHandler exposes invitation creation, discovery and acceptance.
type InvitationHandler struct {
	svc *services.InvitationService
}

func NewInvitationHandler(svc *services.InvitationService) *InvitationHandler {
	return &InvitationHandler{svc: svc}
}

// createInvitationRequest carries exactly one of email, phone or health_id.
// Challenge and family invitations name their target by ID or by name.
type createInvitationRequest struct {
	Kind          string `json:"kind" validate:"required,oneof=challenge family data_share platform"`
	Email         string `json:"email" validate:"omitempty,email"`
	Phone         string `json:"phone" validate:"omitempty,phone"`
	HealthID      string `json:"health_id" validate:"omitempty,healthid"`
	ChallengeID   string `json:"challenge_id"`
	ChallengeName string `json:"challenge_name"`
	FamilyID      string `json:"family_id"`
	FamilyName    string `json:"family_name"`
	Resource      string `json:"resource" validate:"omitempty,max=64"`
}

type createInvitationResponse struct {
	Invitation *models.Invitation `json:"invitation"`
	Created    bool               `json:"created"`
}

func (r createInvitationRequest) contact() (services.ContactSelector, error) {
	var (
		selected services.ContactSelector
		count    int
	)
	if v := strings.TrimSpace(r.Email); v != "" {
		selected, count = services.EmailContact(v), count+1
	}
	if v := strings.TrimSpace(r.Phone); v != "" {
		selected, count = services.PhoneContact(v), count+1
	}
	if v := strings.TrimSpace(r.HealthID); v != "" {
		selected, count = services.HealthIDContact(v), count+1
	}
	if count > 1 {
		return nil, appErrors.NewValidation("contact", "Provide only one of email, phone or health ID")
	}
	return selected, nil
}

func (r createInvitationRequest) toRequest() (services.InvitationRequest, error) {
	contact, err := r.contact()
	if err != nil {
		return nil, err
	}

	switch models.InvitationKind(r.Kind) {
	case models.InvitationKindChallenge:
		return services.ChallengeInvitation{
			Contact:   contact,
			Challenge: services.ChallengeRef{ID: r.ChallengeID, Name: r.ChallengeName},
		}, nil
	case models.InvitationKindFamily:
		return services.FamilyInvitation{
			Contact: contact,
			Family:  services.FamilyRef{ID: r.FamilyID, Name: r.FamilyName},
		}, nil
	case models.InvitationKindDataShare:
		return services.DataShareInvitation{Contact: contact, Resource: r.Resource}, nil
	case models.InvitationKindPlatform:
		return services.PlatformInvitation{Contact: contact}, nil
	}
	return nil, appErrors.NewValidation("kind", "Unsupported invitation kind")
}

// POST /api/invitations
func (h *InvitationHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var body createInvitationRequest
	if !bindAndValidate(c, &body) {
		return
	}

	req, err := body.toRequest()
	if err != nil {
		respondError(c, err)
		return
	}

	inv, created, err := h.svc.Create(requestContext(c), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, createInvitationResponse{Invitation: inv, Created: created})
}

// GET /api/invitations/mine
func (h *InvitationHandler) Mine(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	invitations, err := h.svc.FindMine(requestContext(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, invitations)
}

// GET /api/invitations/sent
func (h *InvitationHandler) Sent(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	invitations, err := h.svc.ListSent(requestContext(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, invitations)
}

// GET /api/invitations/stats
func (h *InvitationHandler) Stats(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	stats, err := h.svc.Stats(requestContext(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// GET /api/invitations/:uid
func (h *InvitationHandler) Get(c *gin.Context) {
	inv, err := h.svc.GetByUID(requestContext(c), c.Param("uid"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, inv)
}

// POST /api/invitations/:uid/accept
func (h *InvitationHandler) Accept(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	inv, err := h.svc.Accept(requestContext(c), c.Param("uid"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, inv)
}

// DELETE /api/invitations/:uid
func (h *InvitationHandler) Cancel(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.svc.Cancel(requestContext(c), c.Param("uid"), userID); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"cancelled": true})
}

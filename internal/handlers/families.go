package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/services"
	appErrors "github.com/carebridge/carebridge/pkg/errors"
	"github.com/carebridge/carebridge/pkg/response"
)

// FamilyHandler manages family groups and their membership.
type FamilyHandler struct {
	svc *services.FamilyService
}

func NewFamilyHandler(svc *services.FamilyService) *FamilyHandler {
	return &FamilyHandler{svc: svc}
}

type createFamilyRequest struct {
	Name string `json:"name" validate:"required,min=2,max=128"`
}

type addFamilyMemberRequest struct {
	UserID       string `json:"user_id"`
	HealthID     string `json:"health_id" validate:"omitempty,healthid"`
	Relationship string `json:"relationship" validate:"omitempty,max=64"`
	CanManage    bool   `json:"can_manage"`
}

type updateFamilyMemberRequest struct {
	Relationship *string `json:"relationship" validate:"omitempty,max=64"`
	CanManage    *bool   `json:"can_manage"`
}

// POST /api/families
func (h *FamilyHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var body createFamilyRequest
	if !bindAndValidate(c, &body) {
		return
	}

	group, err := h.svc.Create(requestContext(c), userID, body.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, group)
}

// GET /api/families
func (h *FamilyHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	groups, err := h.svc.ListForUser(requestContext(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, groups)
}

// GET /api/families/stats
func (h *FamilyHandler) Stats(c *gin.Context) {
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

// GET /api/families/:id
func (h *FamilyHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	group, err := h.svc.GetGroup(requestContext(c), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, group)
}

// DELETE /api/families/:id
func (h *FamilyHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(requestContext(c), c.Param("id"), userID); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// GET /api/families/:id/members
func (h *FamilyHandler) Members(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	members, err := h.svc.ListMembers(requestContext(c), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, members)
}

// POST /api/families/:id/members
func (h *FamilyHandler) AddMember(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var body addFamilyMemberRequest
	if !bindAndValidate(c, &body) {
		return
	}

	member, err := h.svc.AddMember(requestContext(c), c.Param("id"), userID, services.AddFamilyMemberInput{
		Target:       services.FamilyMemberTarget{UserID: body.UserID, HealthID: body.HealthID},
		Relationship: body.Relationship,
		CanManage:    body.CanManage,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, member)
}

// PATCH /api/families/:id/members/:userID
func (h *FamilyHandler) UpdateMember(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var body updateFamilyMemberRequest
	if !bindAndValidate(c, &body) {
		return
	}
	if body.Relationship == nil && body.CanManage == nil {
		response.Error(c, appErrors.NewBadRequest("no fields provided for update"))
		return
	}

	member, err := h.svc.UpdateMember(requestContext(c), c.Param("id"), userID, c.Param("userID"), services.UpdateFamilyMemberInput{
		Relationship: body.Relationship,
		CanManage:    body.CanManage,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, member)
}

// DELETE /api/families/:id/members/:userID
func (h *FamilyHandler) RemoveMember(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.svc.RemoveMember(requestContext(c), c.Param("id"), userID, c.Param("userID")); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

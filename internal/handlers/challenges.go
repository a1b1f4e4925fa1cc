package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/services"
	"github.com/carebridge/carebridge/pkg/response"
)

// ChallengeHandler exposes wellness challenges and participation.
type ChallengeHandler struct {
	svc *services.ChallengeService
}

func NewChallengeHandler(svc *services.ChallengeService) *ChallengeHandler {
	return &ChallengeHandler{svc: svc}
}

type createChallengeRequest struct {
	Title       string    `json:"title" validate:"required,max=255"`
	Description string    `json:"description" validate:"omitempty,max=2000"`
	Goal        string    `json:"goal" validate:"omitempty,max=255"`
	StartDate   time.Time `json:"start_date" validate:"required"`
	EndDate     time.Time `json:"end_date" validate:"required"`
}

type updateProgressRequest struct {
	Progress int     `json:"progress" validate:"min=0"`
	Notes    *string `json:"notes" validate:"omitempty,max=1000"`
}

// POST /api/challenges
func (h *ChallengeHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var body createChallengeRequest
	if !bindAndValidate(c, &body) {
		return
	}

	challenge, err := h.svc.Create(requestContext(c), userID, services.CreateChallengeInput{
		Title:       body.Title,
		Description: body.Description,
		Goal:        body.Goal,
		StartDate:   body.StartDate,
		EndDate:     body.EndDate,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, challenge)
}

// GET /api/challenges lists the caller's challenges; ?name= finds one of
// them by title instead.
func (h *ChallengeHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if name := strings.TrimSpace(c.Query("name")); name != "" {
		challenge, err := h.svc.FindByName(requestContext(c), name, userID)
		if err != nil {
			respondError(c, err)
			return
		}
		response.Success(c, http.StatusOK, challenge)
		return
	}

	challenges, err := h.svc.ListForUser(requestContext(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, challenges)
}

// GET /api/challenges/active
func (h *ChallengeHandler) Active(c *gin.Context) {
	challenges, err := h.svc.Active(requestContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, challenges)
}

// GET /api/challenges/search?q=
func (h *ChallengeHandler) Search(c *gin.Context) {
	challenges, err := h.svc.Search(requestContext(c), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, challenges)
}

// GET /api/challenges/stats
func (h *ChallengeHandler) Stats(c *gin.Context) {
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

// GET /api/challenges/:id
func (h *ChallengeHandler) Get(c *gin.Context) {
	challenge, err := h.svc.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, challenge)
}

// DELETE /api/challenges/:id
func (h *ChallengeHandler) Delete(c *gin.Context) {
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

// POST /api/challenges/:id/join
func (h *ChallengeHandler) Join(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	joined, err := h.svc.Join(requestContext(c), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if joined {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{"joined": joined})
}

// POST /api/challenges/:id/leave
func (h *ChallengeHandler) Leave(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.svc.Leave(requestContext(c), c.Param("id"), userID); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"left": true})
}

// PUT /api/challenges/:id/progress
func (h *ChallengeHandler) UpdateProgress(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var body updateProgressRequest
	if !bindAndValidate(c, &body) {
		return
	}

	participant, err := h.svc.UpdateProgress(requestContext(c), c.Param("id"), userID, body.Progress, body.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, participant)
}

// GET /api/challenges/:id/participants
func (h *ChallengeHandler) Participants(c *gin.Context) {
	participants, err := h.svc.Participants(requestContext(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, participants)
}

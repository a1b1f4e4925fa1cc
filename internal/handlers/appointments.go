package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/internal/models"
	"github.com/carebridge/carebridge/internal/services"
	appErrors "github.com/carebridge/carebridge/pkg/errors"
	"github.com/carebridge/carebridge/pkg/response"
)

// AppointmentHandler books and manages the caller's consultations.
type AppointmentHandler struct {
	svc *services.AppointmentService
}

func NewAppointmentHandler(svc *services.AppointmentService) *AppointmentHandler {
	return &AppointmentHandler{svc: svc}
}

// createAppointmentRequest names the provider by exactly one of provider_id,
// license_number or email.
type createAppointmentRequest struct {
	ProviderID       string    `json:"provider_id"`
	LicenseNumber    string    `json:"license_number"`
	Email            string    `json:"email" validate:"omitempty,email"`
	ScheduledAt      time.Time `json:"scheduled_at" validate:"required"`
	ConsultationType string    `json:"consultation_type" validate:"required,oneof=In-Person Virtual"`
	Memo             string    `json:"memo" validate:"omitempty,max=1000"`
}

type cancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// POST /api/appointments
func (h *AppointmentHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var body createAppointmentRequest
	if !bindAndValidate(c, &body) {
		return
	}

	appointment, err := h.svc.Create(requestContext(c), userID, services.CreateAppointmentInput{
		Provider: services.ProviderRef{
			ID:            body.ProviderID,
			LicenseNumber: body.LicenseNumber,
			Email:         body.Email,
		},
		ScheduledAt:      body.ScheduledAt,
		ConsultationType: models.ConsultationType(body.ConsultationType),
		Memo:             body.Memo,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, appointment)
}

// GET /api/appointments?status=|from=&to=
func (h *AppointmentHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	from, err := parseDateQuery(c, "from")
	if err != nil {
		respondError(c, err)
		return
	}
	to, err := parseDateQuery(c, "to")
	if err != nil {
		respondError(c, err)
		return
	}

	var appointments []models.Appointment
	switch {
	case from != nil && to != nil:
		appointments, err = h.svc.SearchByDate(requestContext(c), userID, *from, *to)
	case from != nil || to != nil:
		err = appErrors.NewValidation("from", "Both from and to are required for a date search")
	default:
		appointments, err = h.svc.ListForUser(requestContext(c), userID, models.AppointmentStatus(c.Query("status")))
	}
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, appointments)
}

// GET /api/appointments/stats
func (h *AppointmentHandler) Stats(c *gin.Context) {
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

// GET /api/appointments/provider/:provider_id?date=
func (h *AppointmentHandler) ProviderSchedule(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	day, err := parseDateQuery(c, "date")
	if err != nil {
		respondError(c, err)
		return
	}

	providerID := c.Param("provider_id")
	appointments, err := h.svc.ProviderSchedule(requestContext(c), providerID, userID, day)
	if err != nil {
		respondError(c, err)
		return
	}

	date := "all"
	if day != nil {
		date = day.Format(time.DateOnly)
	}
	response.Success(c, http.StatusOK, gin.H{
		"provider_id":  providerID,
		"date":         date,
		"count":        len(appointments),
		"appointments": appointments,
	})
}

// GET /api/appointments/:id
func (h *AppointmentHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	appointment, err := h.svc.Get(requestContext(c), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, appointment)
}

// POST /api/appointments/:id/cancel
func (h *AppointmentHandler) Cancel(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var body cancelAppointmentRequest
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &body) {
		return
	}

	appointment, err := h.svc.Cancel(requestContext(c), c.Param("id"), userID, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, appointment)
}

// POST /api/appointments/:id/complete
func (h *AppointmentHandler) Complete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := requestContext(c)
	appointment, err := h.svc.Get(ctx, c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	completed, err := h.svc.Complete(ctx, appointment.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, completed)
}

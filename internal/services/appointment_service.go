package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carebridge/carebridge/internal/models"
	apperrors "github.com/carebridge/carebridge/pkg/errors"
)

var (
	// ErrAppointmentNotFound indicates the appointment does not exist or belongs to someone else.
	ErrAppointmentNotFound = apperrors.ErrNotFound.WithCode("APPOINTMENT_NOT_FOUND").WithMessage("Appointment not found")
	// ErrAppointmentNotScheduled is returned when the appointment has already been cancelled or completed.
	ErrAppointmentNotScheduled = apperrors.ErrInvalidState.WithCode("APPOINTMENT_NOT_SCHEDULED").WithMessage("Only scheduled appointments can be changed")
	// ErrCancellationWindowClosed is returned when cancelling less than 24 hours before the start.
	ErrCancellationWindowClosed = apperrors.ErrInvalidState.WithCode("CANCELLATION_WINDOW_CLOSED").WithMessage("Appointments can only be cancelled at least 24 hours in advance")
	// ErrProviderNotLinked is returned when viewing the schedule of a provider the caller is not linked to.
	ErrProviderNotLinked = apperrors.ErrForbidden.WithCode("PROVIDER_NOT_LINKED").WithMessage("Provider is not linked to your account")
)

// ProviderRef selects a provider by exactly one of ID, license number or verified email.
type ProviderRef struct {
	ID            string
	LicenseNumber string
	Email         string
}

// CreateAppointmentInput describes a booking request.
type CreateAppointmentInput struct {
	Provider         ProviderRef
	ScheduledAt      time.Time
	ConsultationType models.ConsultationType
	Memo             string
}

// AppointmentStats summarises a user's appointments.
type AppointmentStats struct {
	Total     int64 `json:"total"`
	Scheduled int64 `json:"scheduled"`
	Completed int64 `json:"completed"`
	Cancelled int64 `json:"cancelled"`
	Upcoming  int64 `json:"upcoming"`
}

// AppointmentService books and manages consultations.
type AppointmentService struct {
	db        *gorm.DB
	audit     *AuditService
	providers *ProviderService
	now       func() time.Time
}

// NewAppointmentService constructs an AppointmentService instance.
func NewAppointmentService(db *gorm.DB, providers *ProviderService, opts ...Option) (*AppointmentService, error) {
	if db == nil {
		return nil, errors.New("appointment service: db is required")
	}
	if providers == nil {
		return nil, errors.New("appointment service: provider service is required")
	}
	o := resolveOptions(opts)
	return &AppointmentService{db: db, audit: o.audit, providers: providers, now: o.now}, nil
}

// WithTx returns a copy of the service bound to tx. The copy never writes
// audit entries; the caller owning the transaction does that after commit.
func (s *AppointmentService) WithTx(tx *gorm.DB) *AppointmentService {
	cpy := *s
	cpy.db = tx
	cpy.audit = nil
	cpy.providers = s.providers.WithTx(tx)
	return &cpy
}

// Create books an appointment and links the provider to the user as a
// non-primary provider in the same transaction.
func (s *AppointmentService) Create(ctx context.Context, userID string, input CreateAppointmentInput) (*models.Appointment, error) {
	ctx = ensureContext(ctx)

	if !input.ConsultationType.Valid() {
		return nil, apperrors.NewValidation("consultation_type", "Consultation type must be In-Person or Virtual")
	}
	if !input.ScheduledAt.After(s.now()) {
		return nil, apperrors.NewValidation("scheduled_at", "Appointment must be scheduled in the future")
	}

	appointment := &models.Appointment{
		UserID:           userID,
		ScheduledAt:      input.ScheduledAt.UTC(),
		ConsultationType: input.ConsultationType,
		Memo:             strings.TrimSpace(input.Memo),
		Status:           models.AppointmentStatusScheduled,
	}

	var err error
	for attempt := 0; attempt < maxUIDAttempts; attempt++ {
		appointment.ID = ""
		appointment.UID = models.NewPublicUID(models.AppointmentUIDPrefix)
		err = s.insert(ctx, userID, input.Provider, appointment)
		if !violatesUniqueOn(err, "uid") {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(userID),
		Action:   "appointment.create",
		Resource: "appointment:" + appointment.ID,
		Result:   "success",
		Metadata: map[string]any{
			"uid":          appointment.UID,
			"provider_id":  appointment.ProviderID,
			"scheduled_at": appointment.ScheduledAt,
		},
	})
	return appointment, nil
}

func (s *AppointmentService) insert(ctx context.Context, userID string, ref ProviderRef, appointment *models.Appointment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		providers := s.providers.WithTx(tx)
		provider, err := resolveProviderRef(ctx, providers, ref)
		if err != nil {
			return err
		}
		if _, err := providers.LinkToUser(ctx, userID, provider.ID, false); err != nil {
			return err
		}

		appointment.ProviderID = provider.ID
		appointment.Provider = provider
		if err := tx.Omit(clause.Associations).Create(appointment).Error; err != nil {
			return fmt.Errorf("appointment service: create appointment: %w", err)
		}
		return nil
	})
}

// Get loads one of the user's appointments by ID or public UID.
func (s *AppointmentService) Get(ctx context.Context, id, userID string) (*models.Appointment, error) {
	ctx = ensureContext(ctx)

	var appointment models.Appointment
	err := s.db.WithContext(ctx).
		Preload("Provider").
		Where("(id = ? OR uid = ?) AND user_id = ?", id, id, userID).
		First(&appointment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointment service: get appointment: %w", err)
	}
	return &appointment, nil
}

// Cancel cancels a scheduled appointment at least CancellationNotice before
// it starts.
func (s *AppointmentService) Cancel(ctx context.Context, id, userID, reason string) (*models.Appointment, error) {
	ctx = ensureContext(ctx)

	now := s.now()
	var appointment models.Appointment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("(id = ? OR uid = ?) AND user_id = ?", id, id, userID).
			First(&appointment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAppointmentNotFound
		}
		if err != nil {
			return fmt.Errorf("appointment service: load appointment: %w", err)
		}
		if appointment.Status != models.AppointmentStatusScheduled {
			return ErrAppointmentNotScheduled.WithDetails(map[string]any{"status": appointment.Status})
		}
		if !appointment.CancellableAt(now) {
			return ErrCancellationWindowClosed.WithDetails(map[string]any{
				"scheduled_at": appointment.ScheduledAt,
			})
		}

		reasonPtr := optionalString(reason)
		result := tx.Model(&models.Appointment{}).
			Where("id = ? AND status = ?", appointment.ID, models.AppointmentStatusScheduled).
			Updates(map[string]any{
				"status":              models.AppointmentStatusCancelled,
				"cancellation_reason": reasonPtr,
				"cancelled_at":        now,
			})
		if result.Error != nil {
			return fmt.Errorf("appointment service: cancel appointment: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrAppointmentNotScheduled
		}
		appointment.Status = models.AppointmentStatusCancelled
		appointment.CancellationReason = reasonPtr
		appointment.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(userID),
		Action:   "appointment.cancel",
		Resource: "appointment:" + appointment.ID,
		Result:   "success",
	})
	return &appointment, nil
}

// Complete marks a scheduled appointment as completed and returns it with
// its completion time.
func (s *AppointmentService) Complete(ctx context.Context, id string) (*models.Appointment, error) {
	ctx = ensureContext(ctx)

	now := s.now()
	var appointment models.Appointment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? OR uid = ?", id, id).
			First(&appointment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAppointmentNotFound
		}
		if err != nil {
			return fmt.Errorf("appointment service: load appointment: %w", err)
		}
		if appointment.Status != models.AppointmentStatusScheduled {
			return ErrAppointmentNotScheduled
		}

		appointment.Status = models.AppointmentStatusCompleted
		appointment.CompletedAt = &now
		if err := tx.Model(&appointment).Updates(map[string]any{
			"status":       appointment.Status,
			"completed_at": now,
		}).Error; err != nil {
			return fmt.Errorf("appointment service: complete appointment: %w", err)
		}
		var provider models.Provider
		if err := tx.Where("id = ?", appointment.ProviderID).First(&provider).Error; err != nil {
			return fmt.Errorf("appointment service: load provider: %w", err)
		}
		appointment.Provider = &provider
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   auditUser(appointment.UserID),
		Action:   "appointment.complete",
		Resource: "appointment:" + appointment.ID,
		Result:   "success",
	})
	return &appointment, nil
}

// ListForUser returns the user's appointments, soonest first, optionally
// filtered by status.
func (s *AppointmentService) ListForUser(ctx context.Context, userID string, status models.AppointmentStatus) ([]models.Appointment, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Preload("Provider").Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var appointments []models.Appointment
	if err := query.Order("scheduled_at ASC").Find(&appointments).Error; err != nil {
		return nil, fmt.Errorf("appointment service: list appointments: %w", err)
	}
	return appointments, nil
}

// ListForProvider returns a provider's scheduled appointments, optionally
// restricted to the UTC day containing day.
func (s *AppointmentService) ListForProvider(ctx context.Context, providerID string, day *time.Time) ([]models.Appointment, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).
		Preload("User").
		Where("provider_id = ? AND status = ?", providerID, models.AppointmentStatusScheduled)
	if day != nil {
		start := day.UTC().Truncate(24 * time.Hour)
		query = query.Where("scheduled_at >= ? AND scheduled_at < ?", start, start.Add(24*time.Hour))
	}

	var appointments []models.Appointment
	if err := query.Order("scheduled_at ASC").Find(&appointments).Error; err != nil {
		return nil, fmt.Errorf("appointment service: list provider appointments: %w", err)
	}
	return appointments, nil
}

// ProviderSchedule lists a provider's scheduled appointments for a user
// with an active link to that provider. Appointments booked by other users
// are returned without the patient or the memo.
func (s *AppointmentService) ProviderSchedule(ctx context.Context, providerID, requesterID string, day *time.Time) ([]models.Appointment, error) {
	ctx = ensureContext(ctx)

	if _, err := s.providers.GetByID(ctx, providerID); err != nil {
		return nil, err
	}
	linked, err := s.providers.IsLinked(ctx, requesterID, providerID)
	if err != nil {
		return nil, err
	}
	if !linked {
		return nil, ErrProviderNotLinked
	}

	appointments, err := s.ListForProvider(ctx, providerID, day)
	if err != nil {
		return nil, err
	}
	for i := range appointments {
		if appointments[i].UserID != requesterID {
			appointments[i].UserID = ""
			appointments[i].User = nil
			appointments[i].Memo = ""
		}
	}
	return appointments, nil
}

// SearchByDate returns the user's appointments scheduled in [from, to).
func (s *AppointmentService) SearchByDate(ctx context.Context, userID string, from, to time.Time) ([]models.Appointment, error) {
	ctx = ensureContext(ctx)

	if !to.After(from) {
		return nil, apperrors.NewValidation("to", "End of range must be after the start")
	}

	var appointments []models.Appointment
	if err := s.db.WithContext(ctx).
		Preload("Provider").
		Where("user_id = ? AND scheduled_at >= ? AND scheduled_at < ?", userID, from.UTC(), to.UTC()).
		Order("scheduled_at ASC").
		Find(&appointments).Error; err != nil {
		return nil, fmt.Errorf("appointment service: search appointments: %w", err)
	}
	return appointments, nil
}

// Stats counts the user's appointments by status.
func (s *AppointmentService) Stats(ctx context.Context, userID string) (AppointmentStats, error) {
	ctx = ensureContext(ctx)

	var rows []struct {
		Status models.AppointmentStatus
		Count  int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Select("status, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return AppointmentStats{}, fmt.Errorf("appointment service: count appointments: %w", err)
	}

	var stats AppointmentStats
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case models.AppointmentStatusScheduled:
			stats.Scheduled = row.Count
		case models.AppointmentStatusCompleted:
			stats.Completed = row.Count
		case models.AppointmentStatusCancelled:
			stats.Cancelled = row.Count
		}
	}

	if err := s.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("user_id = ? AND status = ? AND scheduled_at > ?", userID, models.AppointmentStatusScheduled, s.now()).
		Count(&stats.Upcoming).Error; err != nil {
		return AppointmentStats{}, fmt.Errorf("appointment service: count upcoming: %w", err)
	}
	return stats, nil
}

func resolveProviderRef(ctx context.Context, providers *ProviderService, ref ProviderRef) (*models.Provider, error) {
	if id := strings.TrimSpace(ref.ID); id != "" {
		if ref.LicenseNumber != "" || ref.Email != "" {
			return nil, apperrors.NewValidation("provider", "Provide exactly one of provider ID, license number or email")
		}
		return providers.GetByID(ctx, id)
	}
	return providers.FindByLicenseOrVerifiedEmail(ctx, ref.LicenseNumber, ref.Email)
}

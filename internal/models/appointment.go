package models

import "time"

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
)

// ConsultationType is how the appointment takes place.
type ConsultationType string

const (
	ConsultationInPerson ConsultationType = "In-Person"
	ConsultationVirtual  ConsultationType = "Virtual"
)

// Valid reports whether the consultation type is supported.
func (c ConsultationType) Valid() bool {
	return c == ConsultationInPerson || c == ConsultationVirtual
}

// CancellationNotice is the minimum time between cancelling and the appointment start.
const CancellationNotice = 24 * time.Hour

// Appointment is a booked consultation between a user and a provider.
type Appointment struct {
	BaseModel

	UID                string            `gorm:"size:16;not null;uniqueIndex" json:"uid"`
	UserID             string            `gorm:"size:36;not null;index" json:"user_id"`
	ProviderID         string            `gorm:"size:36;not null;index" json:"provider_id"`
	ScheduledAt        time.Time         `gorm:"not null;index" json:"scheduled_at"`
	ConsultationType   ConsultationType  `gorm:"size:16;not null" json:"consultation_type"`
	Memo               string            `json:"memo"`
	Status             AppointmentStatus `gorm:"size:16;not null;index" json:"status"`
	CancellationReason *string           `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`

	Provider *Provider `json:"provider,omitempty"`
	User     *User     `json:"user,omitempty"`
}

// CancellableAt reports whether the appointment may be cancelled at now.
// Exactly CancellationNotice before the start is still allowed.
func (a *Appointment) CancellableAt(now time.Time) bool {
	return a.Status == AppointmentStatusScheduled && a.ScheduledAt.Sub(now) >= CancellationNotice
}

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel provides shared fields for all persistent models.
type BaseModel struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures UUID identifiers are generated automatically.
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Public identifier prefixes.
const (
	InvitationUIDPrefix  = "INV"
	ChallengeUIDPrefix   = "CHL"
	AppointmentUIDPrefix = "APT"
)

// NewPublicUID returns prefix followed by the first eight characters of a
// random UUID, upper-cased (e.g. INV1A2B3C4D).
func NewPublicUID(prefix string) string {
	return prefix + strings.ToUpper(uuid.NewString()[:8])
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog records a state change made by a user, e.g. an accepted invitation.
type AuditLog struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	UserID    *string           `gorm:"size:36;index" json:"user_id"`
	Action    string            `gorm:"size:64;not null;index" json:"action"`
	Resource  string            `gorm:"size:128;index" json:"resource"`
	Result    string            `gorm:"size:16;not null" json:"result"`
	IPAddress string            `gorm:"size:64" json:"ip_address"`
	UserAgent string            `json:"user_agent"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

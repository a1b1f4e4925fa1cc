package models

import (
	"fmt"
	"time"
)

// InvitationKind selects which relation an accepted invitation creates.
type InvitationKind string

const (
	InvitationKindChallenge InvitationKind = "challenge"
	InvitationKindFamily    InvitationKind = "family"
	InvitationKindDataShare InvitationKind = "data_share"
	InvitationKindPlatform  InvitationKind = "platform"
)

// Valid reports whether the kind is one of the supported kinds.
func (k InvitationKind) Valid() bool {
	switch k {
	case InvitationKindChallenge, InvitationKindFamily, InvitationKindDataShare, InvitationKindPlatform:
		return true
	}
	return false
}

// InvitationStatus is the state of an invitation. Everything but pending is terminal.
type InvitationStatus string

const (
	InvitationStatusPending   InvitationStatus = "pending"
	InvitationStatusAccepted  InvitationStatus = "accepted"
	InvitationStatusExpired   InvitationStatus = "expired"
	InvitationStatusCancelled InvitationStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s InvitationStatus) Terminal() bool {
	return s != InvitationStatusPending
}

// InvitationTTL is how long an invitation stays acceptable after creation.
const InvitationTTL = 15 * 24 * time.Hour

// Invitation binds a contact method to a relation (challenge, family, data
// share or the platform itself). Exactly one of Email and Phone is set.
type Invitation struct {
	BaseModel

	UID         string           `gorm:"size:16;not null;uniqueIndex" json:"uid"`
	SenderID    string           `gorm:"size:36;not null;index" json:"sender_id"`
	Email       *string          `gorm:"size:320;index" json:"email,omitempty"`
	Phone       *string          `gorm:"size:32;index" json:"phone,omitempty"`
	Kind        InvitationKind   `gorm:"size:16;not null;index" json:"kind"`
	TargetID    string           `gorm:"size:64;not null" json:"target_id,omitempty"`
	Status      InvitationStatus `gorm:"size:16;not null;index" json:"status"`
	ExpiresAt   time.Time        `gorm:"not null;index" json:"expires_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	AcceptedBy  *string          `gorm:"size:36" json:"accepted_by,omitempty"`

	// PendingKey is set while the invitation is pending and cleared on any
	// terminal transition; its unique index rejects a second pending
	// invitation for the same contact, kind and target.
	PendingKey *string `gorm:"size:512;uniqueIndex" json:"-"`

	Sender *User `gorm:"foreignKey:SenderID;constraint:OnDelete:CASCADE" json:"sender,omitempty"`

	RelatedName string `gorm:"-" json:"related_name,omitempty"`
}

// Contact returns whichever contact method the invitation is addressed to.
func (i *Invitation) Contact() string {
	switch {
	case i.Email != nil:
		return *i.Email
	case i.Phone != nil:
		return *i.Phone
	}
	return ""
}

// ExpiredAt reports whether the invitation can no longer be accepted at now.
func (i *Invitation) ExpiredAt(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

// InvitationPendingKey builds the dedup key for a (contact, kind, target) triple.
// Contacts must already be normalised.
func InvitationPendingKey(kind InvitationKind, contact, target string) string {
	return fmt.Sprintf("%s|%s|%s", kind, contact, target)
}

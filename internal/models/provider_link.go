package models

import "time"

// LinkState is the lifecycle state of a user/provider link.
type LinkState string

const (
	LinkStateActive   LinkState = "active"
	LinkStateInactive LinkState = "inactive"
)

// ProviderLink associates a user with a provider. Rows are never deleted:
// unlinking moves the row to inactive and a later link reactivates it.
type ProviderLink struct {
	BaseModel

	UserID     string     `gorm:"size:36;not null;uniqueIndex:idx_provider_links_user_provider,priority:1" json:"user_id"`
	ProviderID string     `gorm:"size:36;not null;uniqueIndex:idx_provider_links_user_provider,priority:2;index" json:"provider_id"`
	State      LinkState  `gorm:"size:16;not null;index" json:"state"`
	IsPrimary  bool       `gorm:"not null;default:false" json:"is_primary"`
	LinkedAt   time.Time  `json:"linked_at"`
	UnlinkedAt *time.Time `json:"unlinked_at,omitempty"`

	// PrimarySlot holds UserID while the link is active and primary, NULL
	// otherwise. Its unique index allows one active primary per user.
	PrimarySlot *string `gorm:"size:36;uniqueIndex" json:"-"`

	Provider *Provider `gorm:"constraint:OnDelete:CASCADE" json:"provider,omitempty"`
}

// IsActive reports whether the link is currently in effect.
func (l *ProviderLink) IsActive() bool {
	return l.State == LinkStateActive
}

// Activate moves the link to active, refreshing the link time.
func (l *ProviderLink) Activate(now time.Time, primary bool) {
	l.State = LinkStateActive
	l.LinkedAt = now
	l.UnlinkedAt = nil
	l.SetPrimary(primary)
}

// Deactivate unlinks the provider. An inactive link is never primary.
func (l *ProviderLink) Deactivate(now time.Time) {
	l.State = LinkStateInactive
	l.UnlinkedAt = &now
	l.SetPrimary(false)
}

// SetPrimary toggles the primary flag, keeping PrimarySlot consistent.
func (l *ProviderLink) SetPrimary(primary bool) {
	l.IsPrimary = primary && l.IsActive()
	if l.IsPrimary {
		slot := l.UserID
		l.PrimarySlot = &slot
		return
	}
	l.PrimarySlot = nil
}

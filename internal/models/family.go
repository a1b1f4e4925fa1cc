package models

import "time"

// FamilyGroup groups users that share health information. At least one
// member must always be able to manage the group.
type FamilyGroup struct {
	BaseModel

	Name      string `gorm:"size:128;not null;index" json:"name"`
	CreatedBy string `gorm:"size:36;not null;index" json:"created_by"`

	Members []FamilyMember `gorm:"foreignKey:FamilyID;constraint:OnDelete:CASCADE" json:"members,omitempty"`
}

// FamilyMember is a user's membership in a family group.
type FamilyMember struct {
	BaseModel

	FamilyID     string    `gorm:"size:36;not null;uniqueIndex:idx_family_members_family_user,priority:1" json:"family_id"`
	UserID       string    `gorm:"size:36;not null;uniqueIndex:idx_family_members_family_user,priority:2;index" json:"user_id"`
	Relationship *string   `gorm:"size:64" json:"relationship,omitempty"`
	CanManage    bool      `gorm:"not null;default:false" json:"can_manage"`
	JoinedAt     time.Time `json:"joined_at"`

	User *User `gorm:"constraint:OnDelete:CASCADE" json:"user,omitempty"`
}

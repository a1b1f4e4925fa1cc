package models

import "time"

// ChallengeStatus tracks whether a wellness challenge still accepts progress.
type ChallengeStatus string

const (
	ChallengeStatusActive    ChallengeStatus = "active"
	ChallengeStatusCompleted ChallengeStatus = "completed"
)

// WellnessChallenge is a time-boxed goal users can join.
type WellnessChallenge struct {
	BaseModel

	UID         string          `gorm:"size:16;not null;uniqueIndex" json:"uid"`
	CreatedBy   string          `gorm:"size:36;not null;index" json:"created_by"`
	Title       string          `gorm:"size:255;not null;index" json:"title"`
	Description string          `json:"description"`
	Goal        string          `json:"goal"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `gorm:"index" json:"end_date"`
	Status      ChallengeStatus `gorm:"size:16;not null;index" json:"status"`

	Creator      *User                  `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	Participants []ChallengeParticipant `gorm:"foreignKey:ChallengeID;constraint:OnDelete:CASCADE" json:"participants,omitempty"`
}

// ChallengeParticipant stores a user's progress in a challenge.
type ChallengeParticipant struct {
	BaseModel

	ChallengeID string    `gorm:"size:36;not null;uniqueIndex:idx_challenge_participants_challenge_user,priority:1" json:"challenge_id"`
	UserID      string    `gorm:"size:36;not null;uniqueIndex:idx_challenge_participants_challenge_user,priority:2;index" json:"user_id"`
	Progress    int       `gorm:"not null;default:0;check:chk_challenge_participants_progress,progress >= 0" json:"progress"`
	Notes       *string   `json:"notes,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`

	User *User `gorm:"constraint:OnDelete:CASCADE" json:"user,omitempty"`
}

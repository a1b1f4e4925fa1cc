package models

import "strings"

// User is a patient registered with a national health identifier.
type User struct {
	BaseModel

	HealthID      string  `gorm:"size:50;not null;uniqueIndex" json:"health_id"`
	Name          string  `gorm:"size:255;not null" json:"name"`
	Phone         *string `gorm:"size:32;uniqueIndex" json:"phone,omitempty"`
	PhoneVerified bool    `gorm:"not null;default:false" json:"phone_verified"`
	PasswordHash  string  `gorm:"not null" json:"-"`

	Emails []UserEmail `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"emails,omitempty"`
}

// UserEmail is one of a user's email addresses. Only verified addresses are
// used to match invitations.
type UserEmail struct {
	BaseModel

	UserID    string `gorm:"size:36;not null;index" json:"user_id"`
	Email     string `gorm:"size:320;not null;uniqueIndex" json:"email"`
	IsPrimary bool   `gorm:"not null;default:false" json:"is_primary"`
	Verified  bool   `gorm:"not null;default:false" json:"verified"`
}

// VerifiedEmails returns every verified address loaded on the user.
func (u *User) VerifiedEmails() []string {
	var out []string
	for _, email := range u.Emails {
		if email.Verified {
			out = append(out, email.Email)
		}
	}
	return out
}

// PrimaryVerifiedEmail returns the primary address when it has been verified.
func (u *User) PrimaryVerifiedEmail() string {
	for _, email := range u.Emails {
		if email.IsPrimary && email.Verified {
			return email.Email
		}
	}
	return ""
}

// VerifiedPhone returns the phone number when verified, otherwise "".
func (u *User) VerifiedPhone() string {
	if u.Phone == nil || !u.PhoneVerified {
		return ""
	}
	return strings.TrimSpace(*u.Phone)
}

package models

// Provider is a healthcare professional listed in the directory. Verified
// marks providers whose contact email has been confirmed.
type Provider struct {
	BaseModel

	LicenseNumber string `gorm:"size:20;not null;uniqueIndex" json:"license_number"`
	Name          string `gorm:"size:255;not null;index" json:"name"`
	Email         string `gorm:"size:320;index" json:"email"`
	Phone         string `gorm:"size:32" json:"phone"`
	Specialty     string `gorm:"size:128" json:"specialty"`
	Verified      bool   `gorm:"not null;default:false;index" json:"verified"`
}

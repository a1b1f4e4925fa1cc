package database

import (
	"gorm.io/gorm"

	"github.com/carebridge/carebridge/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.UserEmail{},
		&models.Provider{},
		&models.ProviderLink{},
		&models.FamilyGroup{},
		&models.FamilyMember{},
		&models.WellnessChallenge{},
		&models.ChallengeParticipant{},
		&models.Appointment{},
		&models.Invitation{},
		&models.AuditLog{},
	)
}

package database

import (
	"gorm.io/gorm"

	"github.com/prontivus/telecare/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Session{},
		&models.SessionParticipant{},
		&models.ConsentRecord{},
		&models.Message{},
		&models.SharedFile{},
		&models.SessionAnalytics{},
	)
}

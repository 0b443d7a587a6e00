package database

import (
	"gorm.io/gorm"

	"github.com/hearthschool/gradebook/internal/models"
)

// AutoMigrate creates or updates the database schema for all models. The
// schema is fixed at deployment time; there is no runtime shape detection.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Profile{},
		&models.Student{},
		&models.StudentGuardian{},
		&models.Invitation{},
		&models.AuditLog{},
	)
}

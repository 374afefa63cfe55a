package db

import (
	"fmt"

	"github.com/banterlabs/troupe/internal/models"
	"gorm.io/gorm"
)

// AllModels lists every persisted model, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&models.TurnRecord{},
		&models.FollowUpRecord{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

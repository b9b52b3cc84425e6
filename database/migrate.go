package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"billing_backend/internal/config"
	"billing_backend/internal/models"
)

// Connect opens the GORM connection. TranslateError is on so unique-index
// violations surface as gorm.ErrDuplicatedKey; the trial gate and the webhook
// dedup ledger rely on that.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates the billing schema.
func AutoMigrate(db *gorm.DB) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		return fmt.Errorf("enable uuid-ossp: %w", err)
	}
	return db.AutoMigrate(
		&models.Subscription{},
		&models.SubscriptionModule{},
		&models.SubscriptionResource{},
		&models.SubscriptionLog{},
		&models.Usage{},
		&models.Invoice{},
		&models.ProcessedWebhookEvent{},
		&models.UserTrialStatus{},
	)
}

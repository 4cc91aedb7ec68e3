package database

import (
	"fmt"

	"practice-billing/internal/domain/billing"
	"practice-billing/internal/domain/referrals"
	"practice-billing/internal/domain/subscriptions"
	"practice-billing/internal/domain/tenants"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables the billing core reads and writes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		// collaborators
		&tenants.Tenant{},
		&tenants.Member{},
		&referrals.Referral{},

		// billing
		&subscriptions.Subscription{},
		&subscriptions.UsageLimit{},
		&billing.ProcessedEvent{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

package subscriptions

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The functions below take the *gorm.DB they run on so callers can compose
// them inside one transaction. Lock* variants take a row lock and are meant
// to be called inside a transaction.

func FindByTenant(db *gorm.DB, tenantID uint) (*Subscription, error) {
	return first(db, "tenant_id = ?", tenantID)
}

func LockByTenant(tx *gorm.DB, tenantID uint) (*Subscription, error) {
	return first(tx.Clauses(clause.Locking{Strength: "UPDATE"}), "tenant_id = ?", tenantID)
}

func LockByExternalID(tx *gorm.DB, externalSubscriptionID string) (*Subscription, error) {
	if externalSubscriptionID == "" {
		return nil, ErrNotFound
	}
	return first(tx.Clauses(clause.Locking{Strength: "UPDATE"}), "external_subscription_id = ?", externalSubscriptionID)
}

func first(db *gorm.DB, query string, arg any) (*Subscription, error) {
	var sub Subscription
	if err := db.Where(query, arg).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	return &sub, nil
}

// Provision returns the tenant's Subscription, creating it with the given
// plan (status active) and its UsageLimit when absent. The bool reports
// whether a row was created. Losing a creation race to another transaction
// is not an error: the winner's row is returned.
func Provision(tx *gorm.DB, tenantID uint, plan PlanType) (*Subscription, bool, error) {
	sub, err := LockByTenant(tx, tenantID)
	if err == nil {
		return sub, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	sub = &Subscription{
		TenantID: tenantID,
		PlanType: plan,
		Status:   StatusActive,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoNothing: true,
	}).Create(sub)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create subscription for tenant %d: %w", tenantID, res.Error)
	}
	if res.RowsAffected == 0 {
		sub, err = LockByTenant(tx, tenantID)
		return sub, false, err
	}

	if err := EnsureUsageLimit(tx, tenantID, LimitsFor(plan, 0)); err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

func Save(tx *gorm.DB, sub *Subscription) error {
	if err := tx.Save(sub).Error; err != nil {
		return fmt.Errorf("save subscription %d: %w", sub.ID, err)
	}
	return nil
}

// EnsureUsageLimit creates the tenant's UsageLimit unless one exists.
func EnsureUsageLimit(tx *gorm.DB, tenantID uint, limits UsageLimit) error {
	limits.ID = 0
	limits.TenantID = tenantID
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoNothing: true,
	}).Create(&limits).Error
	if err != nil {
		return fmt.Errorf("create usage limit for tenant %d: %w", tenantID, err)
	}
	return nil
}

// ApplyUsageLimit writes the ceilings onto the tenant's UsageLimit,
// creating the row if needed.
func ApplyUsageLimit(tx *gorm.DB, tenantID uint, limits UsageLimit) error {
	limits.ID = 0
	limits.TenantID = tenantID
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"max_users", "max_active_cases", "storage_gb", "updated_at"}),
	}).Create(&limits).Error
	if err != nil {
		return fmt.Errorf("apply usage limit for tenant %d: %w", tenantID, err)
	}
	return nil
}

func FindUsageLimit(db *gorm.DB, tenantID uint) (*UsageLimit, error) {
	var ul UsageLimit
	if err := db.Where("tenant_id = ?", tenantID).First(&ul).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load usage limit: %w", err)
	}
	return &ul, nil
}

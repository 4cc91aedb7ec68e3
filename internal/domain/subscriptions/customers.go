package subscriptions

import (
	"context"
	"errors"

	"practice-billing/internal/domain/tenants"

	"gorm.io/gorm"
)

// Customers exposes the provider customer reference held on a tenant's
// Subscription.
type Customers struct {
	db *gorm.DB
}

func NewCustomers(db *gorm.DB) *Customers {
	return &Customers{db: db}
}

// CustomerID returns "" when the tenant has no Subscription or no customer yet.
func (c *Customers) CustomerID(ctx context.Context, tenantID uint) (string, error) {
	sub, err := FindByTenant(c.db.WithContext(ctx), tenantID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if sub.ExternalCustomerID == nil {
		return "", nil
	}
	return *sub.ExternalCustomerID, nil
}

func (c *Customers) BillingEmail(ctx context.Context, tenantID uint) (string, error) {
	return tenants.BillingEmail(c.db.WithContext(ctx), tenantID)
}

// SaveCustomerID stores customerID under the row lock, provisioning a basic
// Subscription for tenants that have none. The write only happens while the
// stored reference is still previousID (or empty); otherwise the reference
// already stored wins. It returns the reference held after the commit.
func (c *Customers) SaveCustomerID(ctx context.Context, tenantID uint, previousID, customerID string) (string, error) {
	stored := customerID
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, _, err := Provision(tx, tenantID, PlanBasic)
		if err != nil {
			return err
		}
		if current := deref(sub.ExternalCustomerID); current != "" && current != previousID {
			stored = current
			return nil
		}
		sub.ExternalCustomerID = &customerID
		return Save(tx, sub)
	})
	if err != nil {
		return "", err
	}
	return stored, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package tenants

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("tenant not found")

// Tenant is an isolated customer organisation. Records are owned by the
// practice-management side of the platform; billing only reads them.
type Tenant struct {
	ID           uint `gorm:"primaryKey"`
	Name         string
	BillingEmail *string `gorm:"column:billing_email"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Member struct {
	ID       uint   `gorm:"primaryKey"`
	TenantID uint   `gorm:"not null;index:idx_members_tenant_id"`
	Email    string `gorm:"not null;uniqueIndex:idx_members_email"`
	Name     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func Find(db *gorm.DB, tenantID uint) (*Tenant, error) {
	var t Tenant
	if err := db.Where("id = ?", tenantID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load tenant %d: %w", tenantID, err)
	}
	return &t, nil
}

func FindMember(db *gorm.DB, memberID uint) (*Member, error) {
	var m Member
	if err := db.Where("id = ?", memberID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load member %d: %w", memberID, err)
	}
	return &m, nil
}

// OriginatingMember returns the tenant's earliest-created member.
func OriginatingMember(db *gorm.DB, tenantID uint) (*Member, error) {
	var m Member
	err := db.Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Order("id ASC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load originating member of tenant %d: %w", tenantID, err)
	}
	return &m, nil
}

// BillingEmail prefers the tenant's explicit billing address and falls back
// to the originating member's email.
func BillingEmail(db *gorm.DB, tenantID uint) (string, error) {
	t, err := Find(db, tenantID)
	if err != nil {
		return "", err
	}
	if t.BillingEmail != nil && *t.BillingEmail != "" {
		return *t.BillingEmail, nil
	}

	m, err := OriginatingMember(db, tenantID)
	if err != nil {
		return "", err
	}
	return m.Email, nil
}

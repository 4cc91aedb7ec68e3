// Package testutil provides database and fixture helpers shared by package
// tests.
package testutil

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"practice-billing/database"
	"practice-billing/internal/domain/referrals"
	"practice-billing/internal/domain/subscriptions"
	"practice-billing/internal/domain/tenants"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated sqlite database private to the test. A single
// connection is used so transactions behave like one serialised writer.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "billing.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func Logger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func Pricing() subscriptions.Pricing {
	return subscriptions.Pricing{BaseCents: 4900, ExtraSeatCents: 1500}
}

// SeedTenant creates a tenant with one member who owns the given email.
func SeedTenant(t *testing.T, db *gorm.DB, name, email string) (tenants.Tenant, tenants.Member) {
	t.Helper()

	tenant := tenants.Tenant{Name: name}
	require.NoError(t, db.Create(&tenant).Error)
	member := SeedMember(t, db, tenant.ID, email, time.Now().Add(-time.Hour))
	return tenant, member
}

func SeedMember(t *testing.T, db *gorm.DB, tenantID uint, email string, createdAt time.Time) tenants.Member {
	t.Helper()

	member := tenants.Member{TenantID: tenantID, Email: email, CreatedAt: createdAt}
	require.NoError(t, db.Create(&member).Error)
	return member
}

func SeedReferral(t *testing.T, db *gorm.DB, referrer, referee tenants.Member, status referrals.Status) referrals.Referral {
	t.Helper()

	ref := referrals.Referral{
		ReferrerMemberID: referrer.ID,
		RefereeMemberID:  referee.ID,
		Status:           status,
	}
	require.NoError(t, db.Create(&ref).Error)
	return ref
}

// LoadSubscription reads the tenant's row, failing the test when absent.
func LoadSubscription(t *testing.T, db *gorm.DB, tenantID uint) *subscriptions.Subscription {
	t.Helper()

	sub, err := subscriptions.FindByTenant(db, tenantID)
	require.NoError(t, err)
	return sub
}

func CountRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

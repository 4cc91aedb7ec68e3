package referrals_test

import (
	"testing"

	"practice-billing/internal/domain/referrals"
	"practice-billing/internal/domain/subscriptions"
	"practice-billing/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// upgradeLocally puts the tenant on Pro the way the upgrade transaction does
// before the coordinator runs.
func upgradeLocally(t *testing.T, db *gorm.DB, tenantID uint, extraUsers int) {
	t.Helper()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		sub, _, err := subscriptions.Provision(tx, tenantID, subscriptions.PlanBasic)
		if err != nil {
			return err
		}
		ext := "sub_ref"
		sub.PlanType = subscriptions.PlanPro
		sub.ExternalSubscriptionID = &ext
		sub.ExtraUsersCount = extraUsers
		return subscriptions.Save(tx, sub)
	}))
}

func runCoordinator(t *testing.T, db *gorm.DB, tenantID uint) {
	t.Helper()
	c := referrals.NewCoordinator(testutil.Logger())
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return c.OnProUpgrade(tx, tenantID)
	}))
}

func TestOnProUpgrade_ConvertsReferralOnce(t *testing.T) {
	db := testutil.NewDB(t)
	referrerTenant, referrer := testutil.SeedTenant(t, db, "Referrer LLP", "partner@referrer.test")
	refereeTenant, referee := testutil.SeedTenant(t, db, "Referee Law", "owner@referee.test")
	ref := testutil.SeedReferral(t, db, referrer, referee, referrals.StatusAccepted)

	upgradeLocally(t, db, refereeTenant.ID, 0)

	runCoordinator(t, db, refereeTenant.ID)
	runCoordinator(t, db, refereeTenant.ID)

	var got referrals.Referral
	require.NoError(t, db.First(&got, ref.ID).Error)
	assert.Equal(t, referrals.StatusConverted, got.Status)
	assert.NotNil(t, got.ConvertedAt)

	referrerSub := testutil.LoadSubscription(t, db, referrerTenant.ID)
	assert.Equal(t, 1, referrerSub.FreeMonthsRemaining)
	assert.Equal(t, subscriptions.PlanBasic, referrerSub.PlanType)

	refereeSub := testutil.LoadSubscription(t, db, refereeTenant.ID)
	assert.Equal(t, 0, refereeSub.FreeMonthsRemaining)
}

func TestOnProUpgrade_PendingReferralUntouched(t *testing.T) {
	db := testutil.NewDB(t)
	referrerTenant, referrer := testutil.SeedTenant(t, db, "Referrer LLP", "partner@referrer.test")
	refereeTenant, referee := testutil.SeedTenant(t, db, "Referee Law", "owner@referee.test")
	ref := testutil.SeedReferral(t, db, referrer, referee, referrals.StatusPending)

	upgradeLocally(t, db, refereeTenant.ID, 0)
	runCoordinator(t, db, refereeTenant.ID)

	var got referrals.Referral
	require.NoError(t, db.First(&got, ref.ID).Error)
	assert.Equal(t, referrals.StatusPending, got.Status)

	_, err := subscriptions.FindByTenant(db, referrerTenant.ID)
	assert.ErrorIs(t, err, subscriptions.ErrNotFound)
}

func TestOnProUpgrade_ProvisionsUsageLimit(t *testing.T) {
	db := testutil.NewDB(t)
	tenant, _ := testutil.SeedTenant(t, db, "Acme Law", "owner@acme.test")

	upgradeLocally(t, db, tenant.ID, 2)
	runCoordinator(t, db, tenant.ID)

	ul, err := subscriptions.FindUsageLimit(db, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, ul.MaxUsers)
	assert.Equal(t, subscriptions.Unlimited, ul.MaxActiveCases)
}

func TestOnProUpgrade_MissingSubscriptionFails(t *testing.T) {
	db := testutil.NewDB(t)
	tenant, _ := testutil.SeedTenant(t, db, "Acme Law", "owner@acme.test")

	c := referrals.NewCoordinator(testutil.Logger())
	err := db.Transaction(func(tx *gorm.DB) error {
		return c.OnProUpgrade(tx, tenant.ID)
	})
	assert.ErrorIs(t, err, subscriptions.ErrNotFound)
}

package referrals

import (
	"errors"
	"fmt"
	"time"

	"practice-billing/internal/domain/subscriptions"
	"practice-billing/internal/domain/tenants"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Coordinator applies the side effects of a tenant's first Pro upgrade:
// usage-limit provisioning and the referral reward. Both are safe to repeat.
type Coordinator struct {
	log logrus.FieldLogger
	now func() time.Time
}

func NewCoordinator(log logrus.FieldLogger) *Coordinator {
	return &Coordinator{log: log, now: time.Now}
}

// OnProUpgrade must run inside the upgrade's transaction.
func (c *Coordinator) OnProUpgrade(tx *gorm.DB, tenantID uint) error {
	log := c.log.WithField("tenant_id", tenantID)

	sub, err := subscriptions.LockByTenant(tx, tenantID)
	if err != nil {
		return fmt.Errorf("load upgraded subscription: %w", err)
	}
	limits := subscriptions.LimitsFor(sub.PlanType, sub.ExtraUsersCount)
	if err := subscriptions.ApplyUsageLimit(tx, tenantID, limits); err != nil {
		return err
	}

	member, err := tenants.OriginatingMember(tx, tenantID)
	if errors.Is(err, tenants.ErrNotFound) {
		log.Debug("tenant has no members, skipping referral conversion")
		return nil
	}
	if err != nil {
		return err
	}

	var ref Referral
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("referee_member_id = ?", member.ID).
		First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load referral of member %d: %w", member.ID, err)
	}

	log = log.WithField("referral_id", ref.ID)
	switch ref.Status {
	case StatusConverted:
		log.Debug("referral already converted")
		return nil
	case StatusAccepted:
	default:
		log.WithField("referral_status", ref.Status).Debug("referral not accepted, nothing to convert")
		return nil
	}

	referrer, err := tenants.FindMember(tx, ref.ReferrerMemberID)
	if err != nil {
		return fmt.Errorf("load referrer %d: %w", ref.ReferrerMemberID, err)
	}

	refSub, _, err := subscriptions.Provision(tx, referrer.TenantID, subscriptions.PlanBasic)
	if err != nil {
		return fmt.Errorf("provision referrer subscription: %w", err)
	}
	refSub.GrantFreeMonth()
	if err := subscriptions.Save(tx, refSub); err != nil {
		return err
	}

	now := c.now()
	ref.Status = StatusConverted
	ref.ConvertedAt = &now
	if err := tx.Save(&ref).Error; err != nil {
		return fmt.Errorf("mark referral %d converted: %w", ref.ID, err)
	}

	log.WithFields(logrus.Fields{
		"referrer_tenant_id":    referrer.TenantID,
		"free_months_remaining": refSub.FreeMonthsRemaining,
	}).Info("referral converted, free month granted to referrer")
	return nil
}

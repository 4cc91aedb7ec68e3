package plans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"practice-billing/internal/domain/subscriptions"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	ViolationAlreadyPro       = "subscription is already Pro"
	ViolationNegativeSeats    = "extra users count must not be negative"
	ViolationMissingRemoteRef = "external subscription id is required"
)

// SideEffects runs inside the upgrade transaction; an error rolls the
// upgrade back.
type SideEffects interface {
	OnProUpgrade(tx *gorm.DB, tenantID uint) error
}

// Service applies plan transitions. It keeps no state between calls; build
// one per unit of work with the *gorm.DB (or transaction) it should use.
type Service struct {
	db          *gorm.DB
	sideEffects SideEffects
	pricing     subscriptions.Pricing
	log         logrus.FieldLogger
	now         func() time.Time
}

func NewService(db *gorm.DB, sideEffects SideEffects, pricing subscriptions.Pricing, log logrus.FieldLogger) *Service {
	return &Service{
		db:          db,
		sideEffects: sideEffects,
		pricing:     pricing,
		log:         log,
		now:         time.Now,
	}
}

// CreateForTenant provisions the tenant's Subscription and UsageLimit in one
// transaction. An existing Subscription is returned untouched.
func (s *Service) CreateForTenant(ctx context.Context, tenantID uint, plan subscriptions.PlanType) (*subscriptions.Subscription, error) {
	if plan == "" {
		plan = subscriptions.PlanBasic
	}
	log := s.log.WithFields(logrus.Fields{"tenant_id": tenantID, "plan_type": plan})

	var sub *subscriptions.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var created bool
		var err error
		sub, created, err = subscriptions.Provision(tx, tenantID, plan)
		if err != nil {
			return err
		}
		if created {
			log.Info("subscription created")
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("failed to create subscription")
		return nil, fmt.Errorf("create subscription for tenant %d: %w", tenantID, err)
	}
	return sub, nil
}

// Upgrade moves the tenant to Pro. A canceled Pro subscription may be
// upgraded again; it takes the new external id and becomes active. The local billing window is provisional
// (now to now+1 month) until the provider's next subscription update
// overwrites it. Failures never escape as errors; they come back as a
// failed Result.
func (s *Service) Upgrade(ctx context.Context, tenantID uint, externalSubscriptionID string, extraUsers int) Result {
	log := s.log.WithFields(logrus.Fields{
		"tenant_id":       tenantID,
		"subscription_id": externalSubscriptionID,
		"extra_users":     extraUsers,
	})

	var snapshot PlanSnapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := subscriptions.LockByTenant(tx, tenantID)
		if err != nil && !errors.Is(err, subscriptions.ErrNotFound) {
			return err
		}

		if violations := upgradeViolations(sub, externalSubscriptionID, extraUsers); len(violations) > 0 {
			return &ValidationError{Violations: violations}
		}

		if sub == nil {
			if sub, _, err = subscriptions.Provision(tx, tenantID, subscriptions.PlanBasic); err != nil {
				return err
			}
		}

		now := s.now()
		sub.PlanType = subscriptions.PlanPro
		sub.Status = subscriptions.StatusActive
		sub.ExternalSubscriptionID = &externalSubscriptionID
		sub.ExtraUsersCount = extraUsers
		sub.SetPeriod(now, now.AddDate(0, 1, 0))
		if err := subscriptions.Save(tx, sub); err != nil {
			return err
		}

		if err := s.sideEffects.OnProUpgrade(tx, tenantID); err != nil {
			return fmt.Errorf("pro upgrade side effects: %w", err)
		}

		snapshot = SnapshotOf(sub, s.pricing)
		return nil
	})
	if err != nil {
		return s.upgradeFailed(log, err)
	}

	log.WithField("monthly_cost", snapshot.MonthlyCost).Info("subscription upgraded to pro")
	return succeeded(snapshot)
}

func (s *Service) upgradeFailed(log logrus.FieldLogger, err error) Result {
	var verr *ValidationError
	if errors.As(err, &verr) {
		log.WithField("violations", verr.Violations).Warn("upgrade rejected")
		return Result{Errors: verr.Violations, Kind: KindValidation, Cause: err}
	}

	log.WithError(err).Error("upgrade failed")
	return Result{
		Errors: []string{"failed to upgrade subscription"},
		Kind:   KindInternal,
		Cause:  err,
	}
}

func upgradeViolations(sub *subscriptions.Subscription, externalSubscriptionID string, extraUsers int) []string {
	var violations []string
	if sub != nil && sub.HasLivePro() {
		violations = append(violations, ViolationAlreadyPro)
	}
	if extraUsers < 0 {
		violations = append(violations, ViolationNegativeSeats)
	}
	if externalSubscriptionID == "" {
		violations = append(violations, ViolationMissingRemoteRef)
	}
	return violations
}

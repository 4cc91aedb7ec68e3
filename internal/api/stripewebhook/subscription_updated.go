package stripewebhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"practice-billing/internal/domain/billing"
	"practice-billing/internal/domain/subscriptions"
	"practice-billing/internal/infra/stripe"

	"github.com/sirupsen/logrus"
	stripeapi "github.com/stripe/stripe-go/v75"
	"gorm.io/gorm"
)

// handleSubscriptionUpdated copies status and billing window from the
// provider and redeems at most one free month per event.
func (p *Processor) handleSubscriptionUpdated(ctx context.Context, log logrus.FieldLogger, event *stripeapi.Event) (string, error) {
	var sub stripeapi.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return outcomeFailed, fmt.Errorf("parse subscription: %w", err)
	}
	if sub.ID == "" {
		return outcomeFailed, errors.New("subscription event missing id")
	}
	remote := stripe.SnapshotOf(&sub)
	log = log.WithField("subscription_id", remote.ID)

	outcome := outcomeApplied
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		local, err := subscriptions.LockByExternalID(tx, remote.ID)
		if errors.Is(err, subscriptions.ErrNotFound) {
			log.Info("no local subscription for stripe subscription, ignoring")
			outcome = outcomeIgnored
			return nil
		}
		if err != nil {
			return err
		}
		log := log.WithField("tenant_id", local.TenantID)

		claimed, err := billing.Claim(tx, event.ID, string(event.Type), p.now())
		if err != nil {
			return err
		}
		if !claimed {
			log.Info("subscription update already processed")
			outcome = outcomeDuplicate
			return nil
		}

		if status, ok := stripe.NormalizeStatus(remote.RawStatus); ok {
			local.Status = status
		} else {
			log.WithField("stripe_status", remote.RawStatus).Warn("unmapped stripe status, keeping local status")
		}

		if !local.SetPeriod(remote.CurrentPeriodStart, remote.CurrentPeriodEnd) {
			log.WithFields(logrus.Fields{
				"period_start": remote.CurrentPeriodStart,
				"period_end":   remote.CurrentPeriodEnd,
			}).Warn("invalid billing period in event, keeping local period")
		}

		if local.ConsumeFreeMonth() {
			log.WithField("free_months_remaining", local.FreeMonthsRemaining).Info("free month consumed")
		}

		return subscriptions.Save(tx, local)
	})
	if err != nil {
		return outcomeFailed, err
	}
	return outcome, nil
}

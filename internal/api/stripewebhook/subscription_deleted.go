package stripewebhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"practice-billing/internal/domain/billing"
	"practice-billing/internal/domain/subscriptions"

	"github.com/sirupsen/logrus"
	stripeapi "github.com/stripe/stripe-go/v75"
	"gorm.io/gorm"
)

func (p *Processor) handleSubscriptionDeleted(ctx context.Context, log logrus.FieldLogger, event *stripeapi.Event) (string, error) {
	var sub stripeapi.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return outcomeFailed, fmt.Errorf("parse subscription: %w", err)
	}
	if sub.ID == "" {
		return outcomeFailed, errors.New("subscription event missing id")
	}
	log = log.WithField("subscription_id", sub.ID)

	outcome := outcomeApplied
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		local, err := subscriptions.LockByExternalID(tx, sub.ID)
		if errors.Is(err, subscriptions.ErrNotFound) {
			log.Info("no local subscription for deleted stripe subscription, ignoring")
			outcome = outcomeIgnored
			return nil
		}
		if err != nil {
			return err
		}

		claimed, err := billing.Claim(tx, event.ID, string(event.Type), p.now())
		if err != nil {
			return err
		}
		if !claimed {
			outcome = outcomeDuplicate
			return nil
		}

		local.Status = subscriptions.StatusCanceled
		if err := subscriptions.Save(tx, local); err != nil {
			return err
		}
		log.WithField("tenant_id", local.TenantID).Info("subscription canceled")
		return nil
	})
	if err != nil {
		return outcomeFailed, err
	}
	return outcome, nil
}

package stripewebhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"practice-billing/internal/domain/billing"
	"practice-billing/internal/domain/plans"
	"practice-billing/internal/domain/tenants"
	"practice-billing/internal/infra/stripe"

	"github.com/sirupsen/logrus"
	stripeapi "github.com/stripe/stripe-go/v75"
	"gorm.io/gorm"
)

func (p *Processor) handleCheckoutCompleted(ctx context.Context, log logrus.FieldLogger, event *stripeapi.Event) (string, error) {
	var session stripeapi.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return outcomeFailed, fmt.Errorf("parse checkout session: %w", err)
	}

	tenantID, extraUsers, err := stripe.ParseCheckoutMetadata(session.Metadata, session.ClientReferenceID)
	if err != nil {
		log.WithError(err).WithField("session_id", session.ID).Warn("checkout session has no usable tenant, dropping event")
		return outcomeIgnored, nil
	}
	log = log.WithField("tenant_id", tenantID)

	if _, err := tenants.Find(p.db.WithContext(ctx), tenantID); err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			log.Warn("tenant for checkout session not found, dropping event")
			return outcomeIgnored, nil
		}
		return outcomeFailed, err
	}

	if session.Subscription == nil || session.Subscription.ID == "" {
		log.WithField("session_id", session.ID).Warn("checkout session has no subscription, dropping event")
		return outcomeIgnored, nil
	}

	// Fetched before the transaction so no row lock is held across the
	// network call.
	remote, err := p.remote.RetrieveRemoteSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return outcomeFailed, err
	}

	duplicate := false
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := billing.Claim(tx, event.ID, string(event.Type), p.now())
		if err != nil {
			return err
		}
		if !claimed {
			duplicate = true
			return nil
		}

		result := p.planService(tx).Upgrade(ctx, tenantID, remote.ID, extraUsers)
		return result.Err()
	})
	if duplicate {
		log.Info("checkout event already processed")
		return outcomeDuplicate, nil
	}
	if err != nil {
		var verr *plans.ValidationError
		if errors.As(err, &verr) {
			return outcomeRejected, nil
		}
		return outcomeFailed, fmt.Errorf("upgrade tenant %d: %w", tenantID, err)
	}
	return outcomeApplied, nil
}

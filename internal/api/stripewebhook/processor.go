package stripewebhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"practice-billing/internal/domain/plans"
	"practice-billing/internal/domain/referrals"
	"practice-billing/internal/domain/subscriptions"
	"practice-billing/internal/infra/stripe"

	"github.com/sirupsen/logrus"
	stripeapi "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
	"gorm.io/gorm"
)

// ErrInvalidEvent is returned by Handle when the payload cannot be parsed or
// its signature does not verify.
var ErrInvalidEvent = errors.New("invalid stripe webhook event")

const (
	eventCheckoutCompleted   = "checkout.session.completed"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
	eventPaymentSucceeded    = "invoice.payment_succeeded"
	eventPaymentFailed       = "invoice.payment_failed"
)

const (
	outcomeApplied   = "applied"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

// SubscriptionSource fetches the provider's copy of a subscription.
type SubscriptionSource interface {
	RetrieveRemoteSubscription(ctx context.Context, remoteID string) (stripe.RemoteSubscription, error)
}

type Options struct {
	WebhookSecret string
	Pricing       subscriptions.Pricing
	Metrics       *Metrics
}

// Processor verifies Stripe webhook events and reconciles local subscription
// state with them. It is safe for concurrent use.
type Processor struct {
	db      *gorm.DB
	remote  SubscriptionSource
	secret  string
	pricing subscriptions.Pricing
	metrics *Metrics
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewProcessor(db *gorm.DB, remote SubscriptionSource, opts Options, log logrus.FieldLogger) *Processor {
	return &Processor{
		db:      db,
		remote:  remote,
		secret:  opts.WebhookSecret,
		pricing: opts.Pricing,
		metrics: opts.Metrics,
		log:     log,
		now:     time.Now,
	}
}

// Handle authenticates the payload and dispatches it. Only authentication
// failures are returned; anything that goes wrong while handling a verified
// event is logged and swallowed so the provider does not retry-storm.
func (p *Processor) Handle(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signature,
		p.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		p.log.WithError(err).Warn("stripe webhook verification failed")
		p.metrics.observe("unverified", outcomeRejected)
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	eventType := string(event.Type)
	log := p.log.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": eventType,
	})

	outcome, err := p.dispatch(ctx, log, &event)
	if err != nil {
		log.WithError(err).Error("stripe webhook handling failed")
		outcome = outcomeFailed
	}
	p.metrics.observe(eventType, outcome)
	return nil
}

func (p *Processor) dispatch(ctx context.Context, log logrus.FieldLogger, event *stripeapi.Event) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = outcomeFailed, fmt.Errorf("panic: %v", r)
		}
	}()

	switch string(event.Type) {
	case eventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, log, event)
	case eventSubscriptionUpdated:
		return p.handleSubscriptionUpdated(ctx, log, event)
	case eventSubscriptionDeleted:
		return p.handleSubscriptionDeleted(ctx, log, event)
	case eventPaymentSucceeded:
		log.Info("invoice payment succeeded")
		return outcomeIgnored, nil
	case eventPaymentFailed:
		log.Warn("invoice payment failed")
		return outcomeIgnored, nil
	default:
		log.Debug("unhandled stripe event type")
		return outcomeIgnored, nil
	}
}

// planService builds a transition service bound to tx.
func (p *Processor) planService(tx *gorm.DB) *plans.Service {
	return plans.NewService(tx, referrals.NewCoordinator(p.log), p.pricing, p.log)
}

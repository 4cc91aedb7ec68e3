package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"practice-billing/internal/domain/subscriptions"

	"github.com/sirupsen/logrus"
	stripeapi "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
	"golang.org/x/sync/singleflight"
)

var ErrNegativeSeats = errors.New("extra users count must not be negative")

type Config struct {
	SecretKey        string
	BasePriceID      string
	ExtraSeatPriceID string
	AppEnv           string

	// RequestTimeout bounds every provider call; zero means no extra bound.
	RequestTimeout time.Duration

	// Backends overrides the Stripe API endpoints (tests). nil uses Stripe.
	Backends *stripeapi.Backends
}

// CustomerStore is where the gateway reads and persists a tenant's
// provider customer reference.
type CustomerStore interface {
	CustomerID(ctx context.Context, tenantID uint) (string, error)
	BillingEmail(ctx context.Context, tenantID uint) (string, error)
	// SaveCustomerID replaces previousID with customerID and returns the
	// reference stored afterwards, which differs from customerID when
	// another writer got there first.
	SaveCustomerID(ctx context.Context, tenantID uint, previousID, customerID string) (string, error)
}

type CustomerRef struct {
	ID      string
	Email   string
	Created bool
}

type SessionRef struct {
	ID       string
	URL      string
	Metadata map[string]string
}

// RemoteSubscription is the provider's view of a subscription at the time
// it was fetched.
type RemoteSubscription struct {
	ID                 string
	CustomerID         string
	RawStatus          string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	Metadata           map[string]string
}

// Gateway talks to Stripe. It holds its own API client; nothing here touches
// the package-level stripe.Key.
type Gateway struct {
	api   *client.API
	cfg   Config
	store CustomerStore
	log   logrus.FieldLogger

	customers singleflight.Group
}

func NewGateway(cfg Config, store CustomerStore, log logrus.FieldLogger) *Gateway {
	return &Gateway{
		api:   client.New(cfg.SecretKey, cfg.Backends),
		cfg:   cfg,
		store: store,
		log:   log,
	}
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.cfg.RequestTimeout)
}

// FindOrCreateBillingCustomer returns the tenant's Stripe customer, creating
// (and persisting) one when the tenant has none or the stored reference no
// longer exists on Stripe. Concurrent calls for one tenant share a single
// lookup; across processes the first stored reference wins.
func (g *Gateway) FindOrCreateBillingCustomer(ctx context.Context, tenantID uint) (CustomerRef, error) {
	key := strconv.FormatUint(uint64(tenantID), 10)
	v, err, _ := g.customers.Do(key, func() (interface{}, error) {
		// The call is shared by every joined caller: it keeps the first
		// caller's values but not its cancellation.
		ctx, cancel := g.withTimeout(context.WithoutCancel(ctx))
		defer cancel()
		return g.findOrCreateCustomer(ctx, tenantID)
	})
	if err != nil {
		return CustomerRef{}, err
	}
	return v.(CustomerRef), nil
}

func (g *Gateway) findOrCreateCustomer(ctx context.Context, tenantID uint) (CustomerRef, error) {
	log := g.log.WithField("tenant_id", tenantID)

	existingID, err := g.store.CustomerID(ctx, tenantID)
	if err != nil {
		return CustomerRef{}, fmt.Errorf("billing: read customer reference: %w", err)
	}

	if existingID != "" {
		cus, err := g.getCustomer(ctx, existingID)
		switch {
		case err == nil && !cus.Deleted:
			return CustomerRef{ID: cus.ID, Email: cus.Email}, nil
		case err == nil:
			log.WithField("customer_id", existingID).Warn("stored stripe customer was deleted, creating a new one")
		case isNotFound(err):
			log.WithField("customer_id", existingID).Warn("stored stripe customer not found, creating a new one")
		default:
			log.WithError(err).WithField("customer_id", existingID).Error("failed to fetch stripe customer")
			return CustomerRef{}, fmt.Errorf("billing: fetch stripe customer %s: %w", existingID, err)
		}
	}

	email, err := g.store.BillingEmail(ctx, tenantID)
	if err != nil {
		return CustomerRef{}, fmt.Errorf("billing: resolve billing email: %w", err)
	}

	cus, err := g.createCustomer(ctx, tenantID, email)
	if err != nil {
		log.WithError(err).Error("failed to create stripe customer")
		return CustomerRef{}, fmt.Errorf("billing: create stripe customer: %w", err)
	}

	stored, err := g.store.SaveCustomerID(ctx, tenantID, existingID, cus.ID)
	if err != nil {
		log.WithError(err).WithField("customer_id", cus.ID).Error("failed to store stripe customer")
		return CustomerRef{}, fmt.Errorf("billing: store stripe customer: %w", err)
	}
	if stored != cus.ID {
		log.WithFields(logrus.Fields{
			"customer_id":        stored,
			"discarded_customer": cus.ID,
		}).Warn("stripe customer already stored by another process, discarding ours")
		g.discardCustomer(ctx, log, cus.ID)
		return CustomerRef{ID: stored, Email: cus.Email}, nil
	}

	log.WithField("customer_id", cus.ID).Info("stripe customer created")
	return CustomerRef{ID: cus.ID, Email: cus.Email, Created: true}, nil
}

func (g *Gateway) getCustomer(ctx context.Context, id string) (*stripeapi.Customer, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripeapi.CustomerParams{}
	params.Context = ctx
	return g.api.Customers.Get(id, params)
}

// discardCustomer deletes a customer that lost the race to be stored.
// Failure only leaves an unused customer on Stripe.
func (g *Gateway) discardCustomer(ctx context.Context, log logrus.FieldLogger, id string) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripeapi.CustomerParams{}
	params.Context = ctx
	if _, err := g.api.Customers.Del(id, params); err != nil {
		log.WithError(err).WithField("discarded_customer", id).Warn("failed to delete discarded stripe customer")
	}
}

func (g *Gateway) createCustomer(ctx context.Context, tenantID uint, email string) (*stripeapi.Customer, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripeapi.CustomerParams{
		Email: stripeapi.String(email),
	}
	params.Context = ctx
	params.AddMetadata(MetadataTenantID, strconv.FormatUint(uint64(tenantID), 10))
	if g.cfg.AppEnv != "" {
		params.AddMetadata("app_env", g.cfg.AppEnv)
	}
	return g.api.Customers.New(params)
}

// CreateCheckoutSession opens a subscription checkout for the Pro plan plus
// extraUsers seats. The customer reference is resolved and stored before the
// session is created.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, tenantID uint, extraUsers int, successURL, cancelURL string) (SessionRef, error) {
	if extraUsers < 0 {
		return SessionRef{}, ErrNegativeSeats
	}

	cus, err := g.FindOrCreateBillingCustomer(ctx, tenantID)
	if err != nil {
		return SessionRef{}, err
	}

	metadata := CheckoutMetadata(tenantID, extraUsers)
	lineItems := []*stripeapi.CheckoutSessionLineItemParams{
		{Price: stripeapi.String(g.cfg.BasePriceID), Quantity: stripeapi.Int64(1)},
	}
	if extraUsers > 0 {
		lineItems = append(lineItems, &stripeapi.CheckoutSessionLineItemParams{
			Price:    stripeapi.String(g.cfg.ExtraSeatPriceID),
			Quantity: stripeapi.Int64(int64(extraUsers)),
		})
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripeapi.CheckoutSessionParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription)),
		Customer:          stripeapi.String(cus.ID),
		LineItems:         lineItems,
		SuccessURL:        stripeapi.String(successURL),
		CancelURL:         stripeapi.String(cancelURL),
		ClientReferenceID: stripeapi.String(metadata[MetadataTenantID]),
		SubscriptionData: &stripeapi.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		g.log.WithError(err).WithField("tenant_id", tenantID).Error("failed to create checkout session")
		return SessionRef{}, fmt.Errorf("billing: create checkout session: %w", err)
	}

	return SessionRef{ID: s.ID, URL: s.URL, Metadata: metadata}, nil
}

func (g *Gateway) RetrieveRemoteSubscription(ctx context.Context, remoteID string) (RemoteSubscription, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripeapi.SubscriptionParams{}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Get(remoteID, params)
	if err != nil {
		return RemoteSubscription{}, fmt.Errorf("billing: fetch stripe subscription %s: %w", remoteID, err)
	}
	return SnapshotOf(sub), nil
}

// SnapshotOf converts a provider subscription object, as fetched or as
// carried by a webhook, into a RemoteSubscription.
func SnapshotOf(sub *stripeapi.Subscription) RemoteSubscription {
	snap := RemoteSubscription{
		ID:        sub.ID,
		RawStatus: string(sub.Status),
		Metadata:  sub.Metadata,
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 {
		snap.CurrentPeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		snap.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	return snap
}

// FetchPricing reads the unit amounts of the configured base and seat prices.
// Both must be active recurring prices in the same currency.
func (g *Gateway) FetchPricing(ctx context.Context) (subscriptions.Pricing, error) {
	base, err := g.getPrice(ctx, g.cfg.BasePriceID)
	if err != nil {
		return subscriptions.Pricing{}, err
	}
	seat, err := g.getPrice(ctx, g.cfg.ExtraSeatPriceID)
	if err != nil {
		return subscriptions.Pricing{}, err
	}
	if base.Currency != seat.Currency {
		return subscriptions.Pricing{}, fmt.Errorf("billing: base price is in %s but seat price is in %s", base.Currency, seat.Currency)
	}
	return subscriptions.Pricing{BaseCents: base.UnitAmount, ExtraSeatCents: seat.UnitAmount}, nil
}

func (g *Gateway) getPrice(ctx context.Context, id string) (*stripeapi.Price, error) {
	if id == "" {
		return nil, errors.New("billing: price id not configured")
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripeapi.PriceParams{}
	params.Context = ctx
	p, err := g.api.Prices.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("billing: fetch stripe price %s: %w", id, err)
	}
	if !p.Active || p.Recurring == nil {
		return nil, fmt.Errorf("billing: stripe price %s is not an active recurring price", id)
	}
	return p, nil
}

func isNotFound(err error) bool {
	var serr *stripeapi.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == stripeapi.ErrorCodeResourceMissing || serr.HTTPStatusCode == http.StatusNotFound
}

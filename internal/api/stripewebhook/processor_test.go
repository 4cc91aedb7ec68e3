package stripewebhooks_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripewebhooks "practice-billing/internal/api/stripewebhook"
	"practice-billing/internal/domain/billing"
	"practice-billing/internal/domain/referrals"
	"practice-billing/internal/domain/subscriptions"
	"practice-billing/internal/infra/stripe"
	"practice-billing/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v75/webhook"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_test_secret"

const (
	periodStart = int64(1767225600) // 2026-01-01
	periodEnd   = int64(1769904000) // 2026-02-01
)

type fakeRemote struct {
	subs  map[string]stripe.RemoteSubscription
	calls int
}

func (f *fakeRemote) RetrieveRemoteSubscription(_ context.Context, id string) (stripe.RemoteSubscription, error) {
	f.calls++
	sub, ok := f.subs[id]
	if !ok {
		return stripe.RemoteSubscription{}, errors.New("no such subscription: " + id)
	}
	return sub, nil
}

type fixture struct {
	db        *gorm.DB
	remote    *fakeRemote
	processor *stripewebhooks.Processor
	metrics   *stripewebhooks.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	remote := &fakeRemote{subs: map[string]stripe.RemoteSubscription{
		"sub_123": {ID: "sub_123", RawStatus: "active"},
		"sub_456": {ID: "sub_456", RawStatus: "active"},
	}}
	metrics := stripewebhooks.NewMetrics(prometheus.NewRegistry())
	p := stripewebhooks.NewProcessor(db, remote, stripewebhooks.Options{
		WebhookSecret: webhookSecret,
		Pricing:       testutil.Pricing(),
		Metrics:       metrics,
	}, testutil.Logger())

	return &fixture{db: db, remote: remote, processor: p, metrics: metrics}
}

func eventPayload(t *testing.T, id, eventType string, object map[string]any) []byte {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": "2023-10-16",
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

// sign builds a Stripe-Signature header for payload.
func sign(payload []byte, secret string) string {
	ts := time.Now()
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(webhook.ComputeSignature(ts, payload, secret)))
}

func (f *fixture) deliver(t *testing.T, payload []byte) {
	t.Helper()
	require.NoError(t, f.processor.Handle(context.Background(), payload, sign(payload, webhookSecret)))
}

func (f *fixture) outcomes(eventType, outcome string) float64 {
	return promtestutil.ToFloat64(f.metrics.EventsTotal.WithLabelValues(eventType, outcome))
}

func checkoutCompleted(t *testing.T, eventID string, tenantID uint, extraUsers int) []byte {
	return checkoutCompletedFor(t, eventID, "sub_123", tenantID, extraUsers)
}

func checkoutCompletedFor(t *testing.T, eventID, subID string, tenantID uint, extraUsers int) []byte {
	return eventPayload(t, eventID, "checkout.session.completed", map[string]any{
		"id":                  "cs_test_1",
		"object":              "checkout.session",
		"client_reference_id": fmt.Sprint(tenantID),
		"subscription":        subID,
		"metadata": map[string]string{
			"tenant_id":   fmt.Sprint(tenantID),
			"extra_users": fmt.Sprint(extraUsers),
		},
	})
}

func subscriptionUpdated(t *testing.T, eventID, subID, status string) []byte {
	return eventPayload(t, eventID, "customer.subscription.updated", map[string]any{
		"id":                   subID,
		"object":               "subscription",
		"status":               status,
		"current_period_start": periodStart,
		"current_period_end":   periodEnd,
	})
}

func seedPro(t *testing.T, db *gorm.DB, tenantID uint, subID string, freeMonths int) {
	t.Helper()
	sub := subscriptions.Subscription{
		TenantID:               tenantID,
		PlanType:               subscriptions.PlanPro,
		Status:                 subscriptions.StatusActive,
		ExternalSubscriptionID: &subID,
		FreeMonthsRemaining:    freeMonths,
	}
	require.NoError(t, db.Create(&sub).Error)
}

func TestHandle_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	tenant, _ := testutil.SeedTenant(t, f.db, "Acme Law", "owner@acme.test")
	payload := checkoutCompleted(t, "evt_1", tenant.ID, 0)

	err := f.processor.Handle(context.Background(), payload, sign(payload, "whsec_wrong"))
	assert.ErrorIs(t, err, stripewebhooks.ErrInvalidEvent)

	err = f.processor.Handle(context.Background(), payload, "")
	assert.ErrorIs(t, err, stripewebhooks.ErrInvalidEvent)

	assert.Equal(t, int64(0), testutil.CountRows(t, f.db, &subscriptions.Subscription{}, "tenant_id = ?", tenant.ID))
	assert.Equal(t, float64(2), f.outcomes("unverified", "rejected"))
}

func TestHandle_UnknownEventTypeIsTolerated(t *testing.T) {
	f := newFixture(t)

	f.deliver(t, eventPayload(t, "evt_x", "customer.created", map[string]any{"id": "cus_1", "object": "customer"}))

	assert.Equal(t, float64(1), f.outcomes("customer.created", "ignored"))
	assert.False(t, isProcessed(t, f.db, "evt_x"))
}

func TestHandle_PaymentEventsOnlyLogged(t *testing.T) {
	f := newFixture(t)

	f.deliver(t, eventPayload(t, "evt_p1", "invoice.payment_failed", map[string]any{"id": "in_1", "object": "invoice"}))
	f.deliver(t, eventPayload(t, "evt_p2", "invoice.payment_succeeded", map[string]any{"id": "in_2", "object": "invoice"}))

	assert.Equal(t, float64(1), f.outcomes("invoice.payment_failed", "ignored"))
	assert.Equal(t, float64(1), f.outcomes("invoice.payment_succeeded", "ignored"))
}

func TestCheckoutCompleted_UpgradesTenant(t *testing.T) {
	f := newFixture(t)
	tenant, _ := testutil.SeedTenant(t, f.db, "Acme Law", "owner@acme.test")

	f.deliver(t, checkoutCompleted(t, "evt_1", tenant.ID, 2))

	sub := testutil.LoadSubscription(t, f.db, tenant.ID)
	assert.Equal(t, subscriptions.PlanPro, sub.PlanType)
	assert.Equal(t, subscriptions.StatusActive, sub.Status)
	assert.Equal(t, 2, sub.ExtraUsersCount)
	require.NotNil(t, sub.ExternalSubscriptionID)
	assert.Equal(t, "sub_123", *sub.ExternalSubscriptionID)

	limits, err := subscriptions.FindUsageLimit(f.db, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, limits.MaxUsers)
	assert.Equal(t, subscriptions.Unlimited, limits.MaxActiveCases)

	assert.True(t, isProcessed(t, f.db, "evt_1"))
	assert.Equal(t, float64(1), f.outcomes("checkout.session.completed", "applied"))
}

func TestCheckoutCompleted_RedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	tenant, _ := testutil.SeedTenant(t, f.db, "Acme Law", "owner@acme.test")
	payload := checkoutCompleted(t, "evt_1", tenant.ID, 1)

	f.deliver(t, payload)
	before := testutil.LoadSubscription(t, f.db, tenant.ID)
	f.deliver(t, payload)
	after := testutil.LoadSubscription(t, f.db, tenant.ID)

	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, float64(1), f.outcomes("checkout.session.completed", "duplicate"))
}

func TestCheckoutCompleted_AlreadyProIsRejected(t *testing.T) {
	f := newFixture(t)
	tenant, _ := testutil.SeedTenant(t, f.db, "Acme Law", "owner@acme.test")
	seedPro(t, f.db, tenant.ID, "sub_old", 0)

	f.deliver(t, checkoutCompleted(t, "evt_1", tenant.ID, 4))

	sub := testutil.LoadSubscription(t, f.db, tenant.ID)
	assert.Equal(t, "sub_old", *sub.ExternalSubscriptionID)
	assert.Equal(t, 0, sub.ExtraUsersCount)
	assert.False(t, isProcessed(t, f.db, "evt_1"))
	assert.Equal(t, float64(1), f.outcomes("checkout.session.completed", "rejected"))
}

func TestCheckoutCompleted_UnknownTenantIgnored(t *testing.T) {
	f := newFixture(t)

	f.deliver(t, checkoutCompleted(t, "evt_1", 999, 0))

	assert.Equal(t, int64(0), testutil.CountRows(t, f.db, &subscriptions.Subscription{}, "1 = 1"))
	assert.Equal(t, 0, f.remote.calls)
	assert.Equal(t, float64(1), f.outcomes("checkout.session.completed", "ignored"))
}

func TestCheckoutCompleted_RemoteFailureLeavesStateAlone(t *testing.T) {
	f := newFixture(t)
	tenant, _ := testutil.SeedTenant(t, f.db, "Acme Law", "owner@acme.test")
	delete(f.remote.subs, "sub_123")

	f.deliver(t, checkoutCompleted(t, "evt_1", tenant.ID, 0))

	assert.Equal(t, int64(0), testutil.CountRows(t, f.db, &subscriptions.Subscription{}, "tenant_id = ?", tenant.ID))
	assert.False(t, isProcessed(t, f.db, "evt_1"))
	assert.Equal(t, float64(1), f.outcomes("checkout.session.completed", "failed"))
}

func TestCheckoutCompleted_ConvertsReferral(t *testing.T) {
	f := newFixture(t)
	referrerTenant, referrer := testutil.SeedTenant(t, f.db, "Referrer LLP", "ref@referrer.test")
	tenant, owner := testutil.SeedTenant(t, f.db, "Acme Law", "owner@acme.test")
	testutil.SeedReferral(t, f.db, referrer, owner, referrals.StatusAccepted)

	f.deliver(t, checkoutCompleted(t, "evt_1", tenant.ID, 0))

	referrerSub := testutil.LoadSubscription(t, f.db, referrerTenant.ID)
	assert.Equal(t, 1, referrerSub.FreeMonthsRemaining)

	var ref referrals.Referral
	require.NoError(t, f.db.Where("referee_member_id = ?", owner.ID).First(&ref).Error)
	assert.Equal(t, referrals.StatusConverted, ref.Status)
	assert.NotNil(t, ref.ConvertedAt)
}

func TestSubscriptionUpdated_ConsumesOneFreeMonth(t *testing.T) {
	f := newFixture(t)
	tenant, _ := testutil.SeedTenant(t, f.db, "Acme Law", "owner@acme.test")
	seedPro(t, f.db, tenant.ID, "sub_free", 1)

	payload := subscriptionUpdated(t, "evt_u1", "sub_free", "active")
	f.deliver(t, payload)

	sub := testutil.LoadSubscription(t, f.db, tenant.ID)
	assert.Equal(t, 0, sub.FreeMonthsRemaining)
	require.NotNil(t, sub.CurrentPeriodStart)
	assert.True(t, sub.CurrentPeriodStart.Equal(time.Unix(periodStart, 0)))
	assert.True(t, sub.CurrentPeriodEnd.Equal(time.Unix(periodEnd, 0)))

	// Redelivery and a fresh event both leave the counter at zero.
	f.deliver(t, payload)
	f.deliver(t, subscriptionUpdated(t, "evt_u2", "sub_free", "active"))

	sub = testutil.LoadSubscription(t, f.db, tenant.ID)
	assert.Equal(t, 0, sub.FreeMonthsRemaining)
	assert.Equal(t, float64(1), f.outcomes("customer.subscription.updated", "duplicate"))
	assert.Equal(t, float64(2), f.outcomes("customer.subscription.updated", "applied"))
}

func TestSubscriptionUpdated_UnknownStatusKeepsLocal(t *testing.T) {
	f := newFixture(t)
	tenant, _ := testutil.SeedTenant(t, f.db, "Acme Law", "owner@acme.test")
	seedPro(t, f.db, tenant.ID, "sub_x", 0)

	f.deliver(t, subscriptionUpdated(t, "evt_u1", "sub_x", "incomplete"))

	sub := testutil.LoadSubscription(t, f.db, tenant.ID)
	assert.Equal(t, subscriptions.StatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
}

func TestSubscriptionUpdated_UnknownSubscriptionIgnored(t *testing.T) {
	f := newFixture(t)

	f.deliver(t, subscriptionUpdated(t, "evt_u1", "sub_nobody", "active"))

	assert.False(t, isProcessed(t, f.db, "evt_u1"))
	assert.Equal(t, float64(1), f.outcomes("customer.subscription.updated", "ignored"))
}

func TestSubscriptionDeleted_Cancels(t *testing.T) {
	f := newFixture(t)
	tenant, _ := testutil.SeedTenant(t, f.db, "Acme Law", "owner@acme.test")
	seedPro(t, f.db, tenant.ID, "sub_gone", 0)

	f.deliver(t, eventPayload(t, "evt_d1", "customer.subscription.deleted", map[string]any{
		"id":     "sub_gone",
		"object": "subscription",
		"status": "canceled",
	}))

	sub := testutil.LoadSubscription(t, f.db, tenant.ID)
	assert.Equal(t, subscriptions.StatusCanceled, sub.Status)
	assert.Equal(t, subscriptions.PlanPro, sub.PlanType)
}

func TestLifecycle_BasicToProToPastDue(t *testing.T) {
	f := newFixture(t)
	tenant, _ := testutil.SeedTenant(t, f.db, "Acme Law", "owner@acme.test")

	f.deliver(t, checkoutCompleted(t, "evt_1", tenant.ID, 2))
	f.deliver(t, subscriptionUpdated(t, "evt_2", "sub_123", "past_due"))

	sub := testutil.LoadSubscription(t, f.db, tenant.ID)
	assert.Equal(t, subscriptions.PlanPro, sub.PlanType)
	assert.Equal(t, subscriptions.StatusPastDue, sub.Status)
	assert.Equal(t, 2, sub.ExtraUsersCount)
	assert.Equal(t, "sub_123", *sub.ExternalSubscriptionID)
}

func TestLifecycle_CanceledTenantResubscribes(t *testing.T) {
	f := newFixture(t)
	tenant, _ := testutil.SeedTenant(t, f.db, "Acme Law", "owner@acme.test")

	f.deliver(t, checkoutCompleted(t, "evt_1", tenant.ID, 0))
	f.deliver(t, eventPayload(t, "evt_2", "customer.subscription.deleted", map[string]any{
		"id":     "sub_123",
		"object": "subscription",
		"status": "canceled",
	}))
	require.Equal(t, subscriptions.StatusCanceled, testutil.LoadSubscription(t, f.db, tenant.ID).Status)

	f.deliver(t, checkoutCompletedFor(t, "evt_3", "sub_456", tenant.ID, 1))

	sub := testutil.LoadSubscription(t, f.db, tenant.ID)
	assert.Equal(t, subscriptions.PlanPro, sub.PlanType)
	assert.Equal(t, subscriptions.StatusActive, sub.Status)
	assert.Equal(t, "sub_456", *sub.ExternalSubscriptionID)
	assert.Equal(t, 1, sub.ExtraUsersCount)
	assert.Equal(t, float64(0), f.outcomes("checkout.session.completed", "rejected"))
	assert.Equal(t, float64(2), f.outcomes("checkout.session.completed", "applied"))

	// Events for the old subscription no longer match the tenant.
	f.deliver(t, subscriptionUpdated(t, "evt_4", "sub_123", "past_due"))
	assert.Equal(t, subscriptions.StatusActive, testutil.LoadSubscription(t, f.db, tenant.ID).Status)
}

func TestStripeWebhookRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	tenant, _ := testutil.SeedTenant(t, f.db, "Acme Law", "owner@acme.test")

	r := gin.New()
	r.POST("/webhook", f.processor.StripeWebhook)

	payload := checkoutCompleted(t, "evt_1", tenant.ID, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Signature verification failed"}`, w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sign(payload, webhookSecret))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"received"}`, w.Body.String())

	// A verified event whose handling fails is still acknowledged.
	delete(f.remote.subs, "sub_123")
	other := checkoutCompleted(t, "evt_2", tenant.ID, 0)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(other))
	req.Header.Set("Stripe-Signature", sign(other, webhookSecret))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStripeWebhookRoute_PayloadTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)

	r := gin.New()
	r.POST("/webhook", f.processor.StripeWebhook)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(make([]byte, 70000)))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func isProcessed(t *testing.T, db *gorm.DB, eventID string) bool {
	t.Helper()
	ok, err := billing.IsProcessed(db, eventID)
	require.NoError(t, err)
	return ok
}

package subscriptions

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

type PlanType string

const (
	PlanBasic PlanType = "basic"
	PlanPro   PlanType = "pro"
)

func (p PlanType) Valid() bool {
	return p == PlanBasic || p == PlanPro
}

type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

var ErrNotFound = errors.New("subscription not found")

// InvariantError lists every rule a Subscription breaks.
type InvariantError struct {
	Violations []string
}

func (e *InvariantError) Error() string {
	return "subscription invariants violated: " + strings.Join(e.Violations, "; ")
}

// Subscription is a tenant's locally held plan state. A tenant without a row
// is implicitly on the basic plan.
type Subscription struct {
	ID       uint     `gorm:"primaryKey"`
	TenantID uint     `gorm:"<-:create;not null;uniqueIndex:idx_subscriptions_tenant_id"`
	PlanType PlanType `gorm:"type:varchar(16);not null"`
	Status   Status   `gorm:"type:varchar(16);not null"`

	ExternalSubscriptionID *string `gorm:"column:external_subscription_id;uniqueIndex:idx_subscriptions_external_subscription_id"`
	ExternalCustomerID     *string `gorm:"column:external_customer_id;uniqueIndex:idx_subscriptions_external_customer_id"`

	ExtraUsersCount     int `gorm:"not null;default:0"`
	FreeMonthsRemaining int `gorm:"not null;default:0"`

	CurrentPeriodStart *time.Time `gorm:"column:current_period_start"`
	CurrentPeriodEnd   *time.Time `gorm:"column:current_period_end"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Subscription) IsPro() bool {
	return s.PlanType == PlanPro
}

// HasLivePro reports a Pro subscription that has not been canceled. A
// past_due Pro subscription is still live.
func (s *Subscription) HasLivePro() bool {
	return s.IsPro() && s.Status != StatusCanceled
}

func (s *Subscription) Validate() error {
	var violations []string

	if s.TenantID == 0 {
		violations = append(violations, "tenant id is required")
	}
	if !s.PlanType.Valid() {
		violations = append(violations, "unknown plan type "+string(s.PlanType))
	}
	if !s.Status.Valid() {
		violations = append(violations, "unknown status "+string(s.Status))
	}
	if s.PlanType == PlanPro && (s.ExternalSubscriptionID == nil || *s.ExternalSubscriptionID == "") {
		violations = append(violations, "pro plan requires an external subscription id")
	}
	if s.ExtraUsersCount < 0 {
		violations = append(violations, "extra users count must not be negative")
	}
	if s.FreeMonthsRemaining < 0 {
		violations = append(violations, "free months remaining must not be negative")
	}
	if s.CurrentPeriodStart != nil && s.CurrentPeriodEnd != nil && !s.CurrentPeriodEnd.After(*s.CurrentPeriodStart) {
		violations = append(violations, "current period end must be after its start")
	}

	if len(violations) > 0 {
		return &InvariantError{Violations: violations}
	}
	return nil
}

// BeforeSave keeps invalid rows out of the table regardless of the caller.
func (s *Subscription) BeforeSave(*gorm.DB) error {
	return s.Validate()
}

// SetPeriod replaces the billing window. The window is left untouched and
// false returned when end is not after start.
func (s *Subscription) SetPeriod(start, end time.Time) bool {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return false
	}
	s.CurrentPeriodStart = &start
	s.CurrentPeriodEnd = &end
	return true
}

// ConsumeFreeMonth redeems one promotional credit, if any is left.
func (s *Subscription) ConsumeFreeMonth() bool {
	if s.FreeMonthsRemaining <= 0 {
		return false
	}
	s.FreeMonthsRemaining--
	return true
}

func (s *Subscription) GrantFreeMonth() {
	s.FreeMonthsRemaining++
}

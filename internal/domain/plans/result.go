package plans

import (
	"errors"
	"strings"

	"practice-billing/internal/domain/subscriptions"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindInternal   Kind = "internal"
)

// PlanSnapshot is the plan state relayed to the API layer after a transition.
type PlanSnapshot struct {
	PlanType        subscriptions.PlanType `json:"plan_type"`
	Status          subscriptions.Status   `json:"status"`
	MonthlyCost     float64                `json:"monthly_cost"`
	ExtraUsersCount int                    `json:"extra_users_count"`
}

func SnapshotOf(sub *subscriptions.Subscription, pricing subscriptions.Pricing) PlanSnapshot {
	return PlanSnapshot{
		PlanType:        sub.PlanType,
		Status:          sub.Status,
		MonthlyCost:     pricing.MonthlyCost(sub.PlanType, sub.ExtraUsersCount),
		ExtraUsersCount: sub.ExtraUsersCount,
	}
}

// Result is what a plan transition hands back. Exactly one of Data and
// Errors is set.
type Result struct {
	Success bool          `json:"success"`
	Data    *PlanSnapshot `json:"data"`
	Errors  []string      `json:"errors"`

	Kind  Kind  `json:"-"`
	Cause error `json:"-"`
}

func succeeded(s PlanSnapshot) Result {
	return Result{Success: true, Data: &s}
}

// Err converts a failed Result into an error; nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if r.Cause != nil {
		return r.Cause
	}
	return errors.New(strings.Join(r.Errors, "; "))
}

// ValidationError carries the rules a requested transition breaks.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid plan transition: " + strings.Join(e.Violations, "; ")
}

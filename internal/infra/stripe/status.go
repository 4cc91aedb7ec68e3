package stripe

import (
	"strings"

	"practice-billing/internal/domain/subscriptions"
)

// NormalizeStatus maps a provider subscription status onto the local set.
// The bool is false for statuses with no local meaning (incomplete, paused,
// empty), which callers should leave unapplied.
func NormalizeStatus(raw string) (subscriptions.Status, bool) {
	switch strings.TrimSpace(raw) {
	case "active", "trialing":
		return subscriptions.StatusActive, true
	case "past_due", "unpaid":
		return subscriptions.StatusPastDue, true
	case "canceled", "incomplete_expired":
		return subscriptions.StatusCanceled, true
	default:
		return "", false
	}
}

package stripe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Checkout metadata keys. They are written on the checkout session and read
// back verbatim from the completed-session webhook.
const (
	MetadataTenantID   = "tenant_id"
	MetadataExtraUsers = "extra_users"
)

var ErrMissingTenant = errors.New("checkout metadata carries no tenant_id")

func CheckoutMetadata(tenantID uint, extraUsers int) map[string]string {
	return map[string]string{
		MetadataTenantID:   strconv.FormatUint(uint64(tenantID), 10),
		MetadataExtraUsers: strconv.Itoa(extraUsers),
	}
}

// ParseCheckoutMetadata reads the tenant (falling back to the session's
// client reference id) and the extra-user count (0 when absent).
func ParseCheckoutMetadata(md map[string]string, clientReferenceID string) (uint, int, error) {
	raw := strings.TrimSpace(md[MetadataTenantID])
	if raw == "" {
		raw = strings.TrimSpace(clientReferenceID)
	}
	if raw == "" {
		return 0, 0, ErrMissingTenant
	}
	tenantID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || tenantID == 0 {
		return 0, 0, fmt.Errorf("invalid tenant_id %q", raw)
	}

	extraUsers := 0
	if s := strings.TrimSpace(md[MetadataExtraUsers]); s != "" {
		if extraUsers, err = strconv.Atoi(s); err != nil {
			return 0, 0, fmt.Errorf("invalid extra_users %q: %w", s, err)
		}
	}
	return uint(tenantID), extraUsers, nil
}

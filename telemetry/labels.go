package telemetry

import "strings"

// OtherLabel is the bucket for any tenant not on the allowlist
const OtherLabel = "_other"

// TenantSanitizer maps tenant identifiers onto a bounded label set
type TenantSanitizer struct {
	allowed map[string]struct{}
}

// NewTenantSanitizer creates a sanitizer from an allowlist.
// Blank entries are ignored.
func NewTenantSanitizer(allowlist []string) *TenantSanitizer {
	allowed := make(map[string]struct{}, len(allowlist))
	for _, tenant := range allowlist {
		tenant = strings.TrimSpace(tenant)
		if tenant == "" {
			continue
		}
		allowed[tenant] = struct{}{}
	}
	return &TenantSanitizer{allowed: allowed}
}

// Label returns tenantID when allowlisted, OtherLabel otherwise
func (s *TenantSanitizer) Label(tenantID string) string {
	if s == nil {
		return OtherLabel
	}
	if _, ok := s.allowed[tenantID]; ok {
		return tenantID
	}
	return OtherLabel
}

// Size returns the number of allowlisted tenants
func (s *TenantSanitizer) Size() int {
	if s == nil {
		return 0
	}
	return len(s.allowed)
}

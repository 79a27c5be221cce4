package types

import "strings"

// TenantMode is the policy stance applied to a tenant or a request
type TenantMode string

const (
	ModeOff     TenantMode = "off"     // layer is inert
	ModeShadow  TenantMode = "shadow"  // evaluate and record, never block
	ModeEnforce TenantMode = "enforce" // evaluate and block
)

// AllModes lists every TenantMode in a stable order
var AllModes = []TenantMode{ModeOff, ModeShadow, ModeEnforce}

// ParseTenantMode maps a raw mode name to a TenantMode.
// Matching is case-insensitive and ignores surrounding whitespace.
// The second return value is false for anything unrecognized; callers decide the fallback.
func ParseTenantMode(raw string) (TenantMode, bool) {
	switch TenantMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeOff:
		return ModeOff, true
	case ModeShadow:
		return ModeShadow, true
	case ModeEnforce:
		return ModeEnforce, true
	default:
		return ModeOff, false
	}
}

// RiskClass is the static sensitivity rating of an endpoint
type RiskClass string

const (
	RiskHigh   RiskClass = "high"
	RiskMedium RiskClass = "medium"
	RiskLow    RiskClass = "low"
)

// AllRiskClasses lists every RiskClass in a stable order
var AllRiskClasses = []RiskClass{RiskHigh, RiskMedium, RiskLow}

// ParseRiskClass maps a raw class name to a RiskClass.
// Unrecognized input returns RiskLow and false.
func ParseRiskClass(raw string) (RiskClass, bool) {
	switch RiskClass(strings.ToLower(strings.TrimSpace(raw))) {
	case RiskHigh:
		return RiskHigh, true
	case RiskMedium:
		return RiskMedium, true
	case RiskLow:
		return RiskLow, true
	default:
		return RiskLow, false
	}
}

// DefaultTenantID is used whenever a request carries no tenant identifier
const DefaultTenantID = "default"

// NormalizeTenantID trims the identifier and maps empty input to DefaultTenantID
func NormalizeTenantID(tenantID string) string {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return DefaultTenantID
	}
	return tenantID
}

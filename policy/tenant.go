package policy

import (
	"context"
	"strings"

	"github.com/yairfalse/runguard/telemetry"
	"github.com/yairfalse/runguard/types"
)

// TenantModeMap holds per-tenant mode overrides keyed by normalized tenant id
type TenantModeMap map[string]types.TenantMode

// ResolveTenantMode returns the override for the tenant, or defaultMode.
// It never fails: an empty tenant id resolves as "default".
func ResolveTenantMode(tenantID string, defaultMode types.TenantMode, modes TenantModeMap) types.TenantMode {
	if mode, ok := modes[types.NormalizeTenantID(tenantID)]; ok {
		return mode
	}
	return defaultMode
}

// ParseTenantModeMap parses a JSON object of tenant id to mode name.
// Malformed input yields an empty map; unrecognized modes are dropped per entry.
// Keys are stored normalized, so " acme " overrides tenant "acme"; when two
// keys normalize to the same id the one sorting last wins.
func ParseTenantModeMap(ctx context.Context, logger *telemetry.Logger, raw string) TenantModeMap {
	entries := parseStringMap(ctx, logger, "tenant_modes", raw, func(key, value string) (types.TenantMode, bool) {
		if strings.TrimSpace(key) == "" {
			return "", false
		}
		return types.ParseTenantMode(value)
	})

	modes := make(TenantModeMap, len(entries))
	for _, key := range sortedKeys(entries) {
		modes[types.NormalizeTenantID(key)] = entries[key]
	}
	return modes
}

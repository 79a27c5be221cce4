package policy

import "github.com/yairfalse/runguard/types"

// Resolution is the policy stance resolved for one (tenant, endpoint) pair
type Resolution struct {
	TenantID      string
	TenantMode    types.TenantMode
	RiskClass     types.RiskClass
	EffectiveMode types.TenantMode
}

// Resolve runs tenant, risk and effective mode resolution in order
func Resolve(tenantID, endpoint string, defaultMode types.TenantMode, modes TenantModeMap, risk *RiskMap) Resolution {
	tenantID = types.NormalizeTenantID(tenantID)
	tenantMode := ResolveTenantMode(tenantID, defaultMode, modes)
	riskClass := ResolveEndpointRiskClass(endpoint, risk)

	return Resolution{
		TenantID:      tenantID,
		TenantMode:    tenantMode,
		RiskClass:     riskClass,
		EffectiveMode: ResolveEffectiveMode(tenantMode, riskClass),
	}
}

package policy

import "github.com/yairfalse/runguard/types"

// effectiveModes is the fixed tenant mode x risk class table.
// OFF always wins, SHADOW never escalates, and LOW risk endpoints stay
// observational even for enforcing tenants.
var effectiveModes = map[types.TenantMode]map[types.RiskClass]types.TenantMode{
	types.ModeOff: {
		types.RiskHigh:   types.ModeOff,
		types.RiskMedium: types.ModeOff,
		types.RiskLow:    types.ModeOff,
	},
	types.ModeShadow: {
		types.RiskHigh:   types.ModeShadow,
		types.RiskMedium: types.ModeShadow,
		types.RiskLow:    types.ModeShadow,
	},
	types.ModeEnforce: {
		types.RiskHigh:   types.ModeEnforce,
		types.RiskMedium: types.ModeEnforce,
		types.RiskLow:    types.ModeShadow,
	},
}

// ResolveEffectiveMode combines a tenant mode and a risk class.
// Values outside the closed enums resolve to OFF.
func ResolveEffectiveMode(tenantMode types.TenantMode, riskClass types.RiskClass) types.TenantMode {
	row, ok := effectiveModes[tenantMode]
	if !ok {
		return types.ModeOff
	}
	mode, ok := row[riskClass]
	if !ok {
		return types.ModeOff
	}
	return mode
}

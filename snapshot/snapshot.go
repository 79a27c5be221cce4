// Package snapshot builds the immutable per-request decision record.
// The Factory is the only place decision state is assembled; a Snapshot
// exposes getters only.
package snapshot

import (
	"time"

	"github.com/yairfalse/runguard/types"
)

// Snapshot is one request's full decision inputs and resolved state
type Snapshot struct {
	now                time.Time
	tenantID           string
	endpoint           string
	method             string
	window             types.WindowParams
	configHash         string
	riskContextHash    string
	upstreamDenyReason types.DenyReason
	signals            []types.GuardSignal
	hasStale           bool
	hasInsufficient    bool
	tenantMode         types.TenantMode
	riskClass          types.RiskClass
	effectiveMode      types.TenantMode
}

// Now returns the evaluation time
func (s *Snapshot) Now() time.Time { return s.now }

// TenantID returns the normalized tenant id
func (s *Snapshot) TenantID() string { return s.tenantID }

// Endpoint returns the normalized route template
func (s *Snapshot) Endpoint() string { return s.endpoint }

// Method returns the upper-cased HTTP method
func (s *Snapshot) Method() string { return s.method }

// WindowParams returns the freshness window in effect
func (s *Snapshot) WindowParams() types.WindowParams { return s.window }

// ConfigHash returns the resolved config hash at evaluation time
func (s *Snapshot) ConfigHash() string { return s.configHash }

// RiskContextHash returns the deterministic content hash
func (s *Snapshot) RiskContextHash() string { return s.riskContextHash }

// UpstreamDenyReason returns the upstream decision, DenyNone if absent
func (s *Snapshot) UpstreamDenyReason() types.DenyReason { return s.upstreamDenyReason }

// Signals returns a copy of the signals in producer order
func (s *Snapshot) Signals() []types.GuardSignal {
	out := make([]types.GuardSignal, len(s.signals))
	copy(out, s.signals)
	return out
}

// HasStale reports whether any signal is STALE
func (s *Snapshot) HasStale() bool { return s.hasStale }

// HasInsufficient reports whether any signal is INSUFFICIENT
func (s *Snapshot) HasInsufficient() bool { return s.hasInsufficient }

// TenantMode returns the tenant's resolved mode
func (s *Snapshot) TenantMode() types.TenantMode { return s.tenantMode }

// RiskClass returns the endpoint's risk class
func (s *Snapshot) RiskClass() types.RiskClass { return s.riskClass }

// EffectiveMode returns the mode applied to this request
func (s *Snapshot) EffectiveMode() types.TenantMode { return s.effectiveMode }

// IsDegradeMode reports whether the upstream admission chain already decided,
// i.e. this layer only observes
func (s *Snapshot) IsDegradeMode() bool { return s.upstreamDenyReason.Present() }

// DriftSignal returns the drift signal, if one was produced
func (s *Snapshot) DriftSignal() (types.GuardSignal, bool) {
	for _, sig := range s.signals {
		if sig.Name == types.SignalDrift {
			return sig, true
		}
	}
	return types.GuardSignal{}, false
}

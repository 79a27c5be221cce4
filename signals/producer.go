// Package signals holds the independent checks that feed a guard decision.
// Every producer is a pure function of its inputs and the evaluation time;
// producers read only pre-loaded configuration and never block.
package signals

import (
	"time"

	"github.com/yairfalse/runguard/policy"
	"github.com/yairfalse/runguard/types"
)

// Input is the request-scoped view a producer may read
type Input struct {
	Endpoint        string
	Method          string
	RiskClass       types.RiskClass
	ConfigUpdatedAt string // raw timestamp exactly as configured; "" when missing
	ConfigHash      string
	Window          types.WindowParams
	Dependencies    policy.DependencyMap
	DriftDisabled   bool
}

// Producer emits at most one signal per evaluation.
// ok is false when the producer has nothing to report.
type Producer interface {
	Name() types.SignalName
	Produce(in Input, now time.Time) (signal types.GuardSignal, ok bool)
}

// ProducerFunc adapts a function to the Producer interface
type ProducerFunc struct {
	SignalName types.SignalName
	Fn         func(in Input, now time.Time) (types.GuardSignal, bool)
}

// Name returns the signal name
func (p ProducerFunc) Name() types.SignalName {
	return p.SignalName
}

// Produce calls Fn
func (p ProducerFunc) Produce(in Input, now time.Time) (types.GuardSignal, bool) {
	return p.Fn(in, now)
}

// ConfigFreshness returns the config freshness producer
func ConfigFreshness() Producer {
	return ProducerFunc{
		SignalName: types.SignalConfigFreshness,
		Fn: func(in Input, now time.Time) (types.GuardSignal, bool) {
			return CheckConfigFreshness(in.ConfigUpdatedAt, in.Window, now), true
		},
	}
}

// DependencyMapping returns the dependency-mapping completeness producer
func DependencyMapping() Producer {
	return ProducerFunc{
		SignalName: types.SignalCBMapping,
		Fn: func(in Input, now time.Time) (types.GuardSignal, bool) {
			return CheckDependencyMapping(in.Endpoint, in.Dependencies.Lookup(in.Endpoint), now), true
		},
	}
}

// DeriveFlags computes the stale and insufficient flags from signals alone
func DeriveFlags(signals []types.GuardSignal) (hasStale, hasInsufficient bool) {
	for _, s := range signals {
		switch s.Status {
		case types.StatusStale:
			hasStale = true
		case types.StatusInsufficient:
			hasInsufficient = true
		}
	}
	return hasStale, hasInsufficient
}

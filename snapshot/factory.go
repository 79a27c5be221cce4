package snapshot

import (
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/runguard/drift"
	"github.com/yairfalse/runguard/policy"
	"github.com/yairfalse/runguard/signals"
	"github.com/yairfalse/runguard/types"
)

// Stages reported by BuildError. Bounded, safe as a metric label.
const (
	StageProducer = "producer"
	StageHash     = "hash"
)

// Policy is the resolved configuration view read for one evaluation.
// Callers hand the factory an immutable value; nothing here mutates it.
type Policy struct {
	DefaultMode     types.TenantMode
	TenantModes     policy.TenantModeMap
	RiskMap         *policy.RiskMap
	Dependencies    policy.DependencyMap
	ConfigHash      string
	ConfigUpdatedAt string
	Window          types.WindowParams
	DriftDisabled   bool // drift producer reports nothing
}

// Request is one evaluation's input
type Request struct {
	Now        time.Time
	TenantID   string
	Endpoint   string
	Method     string
	Policy     Policy
	DenyReason types.DenyReason
}

// BuildError reports why no snapshot could be produced
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("snapshot %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Factory assembles snapshots from the configured producers
type Factory struct {
	producers []signals.Producer
}

// NewFactory returns a factory running producers in the given order
func NewFactory(producers ...signals.Producer) *Factory {
	return &Factory{producers: append([]signals.Producer(nil), producers...)}
}

// DefaultProducers returns config freshness, dependency mapping and, when
// enabled, drift against the boot baseline. An included drift producer still
// honours Policy.DriftDisabled on every evaluation.
func DefaultProducers(baseline *drift.Baseline, driftEnabled bool) []signals.Producer {
	producers := []signals.Producer{
		signals.ConfigFreshness(),
		signals.DependencyMapping(),
	}
	if driftEnabled {
		producers = append(producers, drift.NewProducer(baseline))
	}
	return producers
}

// Build resolves modes, runs every producer, derives flags and hashes the
// result. It never panics: a failure anywhere returns (nil, *BuildError) and
// the caller must treat the request as having no decision.
func (f *Factory) Build(req Request) (snap *Snapshot, err error) {
	stage := StageProducer
	defer func() {
		if r := recover(); r != nil {
			snap = nil
			err = &BuildError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	p := req.Policy
	endpoint := drift.NormalizeTemplate(req.Endpoint)
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	resolution := policy.Resolve(req.TenantID, endpoint, p.DefaultMode, p.TenantModes, p.RiskMap)

	in := signals.Input{
		Endpoint:        endpoint,
		Method:          method,
		RiskClass:       resolution.RiskClass,
		ConfigUpdatedAt: p.ConfigUpdatedAt,
		ConfigHash:      p.ConfigHash,
		Window:          p.Window,
		Dependencies:    p.Dependencies,
		DriftDisabled:   p.DriftDisabled,
	}

	collected := make([]types.GuardSignal, 0, len(f.producers))
	for _, producer := range f.producers {
		if sig, ok := producer.Produce(in, req.Now); ok {
			collected = append(collected, sig)
		}
	}
	hasStale, hasInsufficient := signals.DeriveFlags(collected)

	stage = StageHash
	fields := hashFields{
		TenantID:        resolution.TenantID,
		Endpoint:        endpoint,
		Method:          method,
		ConfigHash:      p.ConfigHash,
		WindowParams:    p.Window,
		HasStale:        hasStale,
		HasInsufficient: hasInsufficient,
	}
	if req.DenyReason.Present() {
		name := string(req.DenyReason)
		fields.UpstreamDenyReasonName = &name
	}
	hash, err := computeRiskContextHash(fields)
	if err != nil {
		return nil, &BuildError{Stage: stage, Err: err}
	}

	return &Snapshot{
		now:                req.Now,
		tenantID:           resolution.TenantID,
		endpoint:           endpoint,
		method:             method,
		window:             p.Window,
		configHash:         p.ConfigHash,
		riskContextHash:    hash,
		upstreamDenyReason: req.DenyReason,
		signals:            collected,
		hasStale:           hasStale,
		hasInsufficient:    hasInsufficient,
		tenantMode:         resolution.TenantMode,
		riskClass:          resolution.RiskClass,
		effectiveMode:      resolution.EffectiveMode,
	}, nil
}

package drift

import (
	"fmt"
	"time"

	"github.com/yairfalse/runguard/signals"
	"github.com/yairfalse/runguard/types"
)

// Detect compares a request signature against the boot baseline.
// ok is false when there is no drift. A nil baseline reports PROVIDER_ERROR.
// Drift signals carry StatusOK so they never count as stale or insufficient.
func Detect(b *Baseline, endpoint, method string, risk types.RiskClass, runtimeConfigHash string, now time.Time) (types.GuardSignal, bool) {
	if b == nil {
		return types.NewSignal(types.SignalDrift, types.StatusOK, types.ReasonDriftProviderError,
			now, "no drift baseline available"), true
	}

	if runtimeConfigHash != b.configHash {
		return types.NewSignal(types.SignalDrift, types.StatusOK, types.ReasonDriftThresholdExceeded,
			now, fmt.Sprintf("config hash %s differs from boot %s", short(runtimeConfigHash), short(b.configHash))), true
	}

	if !b.Knows(EndpointSignature(endpoint, method, risk)) {
		return types.NewSignal(types.SignalDrift, types.StatusOK, types.ReasonDriftInputAnomaly,
			now, fmt.Sprintf("%s %s (%s) unknown at boot", method, endpoint, risk)), true
	}

	return types.GuardSignal{}, false
}

// Producer is the drift signal producer bound to one baseline
type Producer struct {
	baseline *Baseline
}

// NewProducer returns a drift producer for the baseline. A nil baseline is
// allowed and yields PROVIDER_ERROR on every evaluation.
func NewProducer(b *Baseline) *Producer {
	return &Producer{baseline: b}
}

// Name returns the signal name
func (p *Producer) Name() types.SignalName {
	return types.SignalDrift
}

// Produce runs Detect against the request inputs. It reports nothing while
// drift is disabled in the evaluated configuration.
func (p *Producer) Produce(in signals.Input, now time.Time) (types.GuardSignal, bool) {
	if in.DriftDisabled {
		return types.GuardSignal{}, false
	}
	return Detect(p.baseline, in.Endpoint, in.Method, in.RiskClass, in.ConfigHash, now)
}

var _ signals.Producer = (*Producer)(nil)

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

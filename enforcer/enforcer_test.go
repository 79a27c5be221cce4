package enforcer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/runguard/signals"
	"github.com/yairfalse/runguard/snapshot"
	"github.com/yairfalse/runguard/types"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sig(name types.SignalName, status types.SignalStatus, reason types.ReasonCode) types.GuardSignal {
	return types.NewSignal(name, status, reason, now, "")
}

func build(t *testing.T, deny types.DenyReason, sigs ...types.GuardSignal) *snapshot.Snapshot {
	t.Helper()
	producers := make([]signals.Producer, 0, len(sigs))
	for _, s := range sigs {
		s := s
		producers = append(producers, signals.ProducerFunc{
			SignalName: s.Name,
			Fn:         func(signals.Input, time.Time) (types.GuardSignal, bool) { return s, true },
		})
	}
	snap, err := snapshot.NewFactory(producers...).Build(snapshot.Request{
		Now:        now,
		TenantID:   "acme",
		Endpoint:   "/orders",
		Method:     "GET",
		DenyReason: deny,
	})
	require.NoError(t, err)
	return snap
}

var (
	okFresh      = sig(types.SignalConfigFreshness, types.StatusOK, types.ReasonOK)
	stale        = sig(types.SignalConfigFreshness, types.StatusStale, types.ReasonConfigStale)
	mappingMiss  = sig(types.SignalCBMapping, types.StatusInsufficient, types.ReasonCBMappingMiss)
	driftHash    = sig(types.SignalDrift, types.StatusOK, types.ReasonDriftThresholdExceeded)
	driftAnomaly = sig(types.SignalDrift, types.StatusOK, types.ReasonDriftInputAnomaly)
	driftError   = sig(types.SignalDrift, types.StatusOK, types.ReasonDriftProviderError)
)

func TestEvaluate_NilSnapshotAllows(t *testing.T) {
	assert.Equal(t, types.VerdictAllow, Evaluate(nil))
}

func TestEvaluate_Ordering(t *testing.T) {
	tests := []struct {
		name    string
		deny    types.DenyReason
		signals []types.GuardSignal
		want    types.Verdict
	}{
		{"all ok", types.DenyNone, []types.GuardSignal{okFresh}, types.VerdictAllow},
		{"no signals", types.DenyNone, nil, types.VerdictAllow},
		{"upstream decided", types.DenyRateLimited, []types.GuardSignal{stale, mappingMiss, driftHash}, types.VerdictPassthrough},
		{"opaque upstream reason", types.DenyReason("SOMETHING_ELSE"), nil, types.VerdictPassthrough},
		{"insufficient beats stale", types.DenyNone, []types.GuardSignal{stale, mappingMiss}, types.VerdictBlockInsufficient},
		{"insufficient beats drift", types.DenyNone, []types.GuardSignal{driftHash, mappingMiss}, types.VerdictBlockInsufficient},
		{"stale beats drift", types.DenyNone, []types.GuardSignal{driftAnomaly, stale}, types.VerdictBlockStale},
		{"drift threshold", types.DenyNone, []types.GuardSignal{okFresh, driftHash}, types.VerdictBlockDrift},
		{"drift anomaly", types.DenyNone, []types.GuardSignal{driftAnomaly}, types.VerdictBlockDrift},
		{"drift provider error allows", types.DenyNone, []types.GuardSignal{okFresh, driftError}, types.VerdictAllow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(build(t, tt.deny, tt.signals...)))
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	snap := build(t, types.DenyNone, stale, driftHash)
	first := Evaluate(snap)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Evaluate(snap))
	}
}

func TestReasonCodes_CanonicalOrder(t *testing.T) {
	in := []types.GuardSignal{
		driftHash,
		okFresh,
		mappingMiss,
		sig(types.SignalConfigFreshness, types.StatusInsufficient, types.ReasonConfigTimestampMissing),
		stale,
	}
	want := []string{
		"CB_MAPPING:CB_MAPPING_MISS",
		"CONFIG_FRESHNESS:CONFIG_STALE",
		"CONFIG_FRESHNESS:CONFIG_TIMESTAMP_MISSING",
		"DRIFT:THRESHOLD_EXCEEDED",
	}
	assert.Equal(t, want, ReasonCodes(in))

	reversed := make([]types.GuardSignal, len(in))
	for i := range in {
		reversed[len(in)-1-i] = in[i]
	}
	assert.Equal(t, want, ReasonCodes(reversed))
}

func TestReasonCodes_Empty(t *testing.T) {
	assert.Empty(t, ReasonCodes(nil))
	assert.Empty(t, ReasonCodes([]types.GuardSignal{okFresh}))
	assert.NotNil(t, ReasonCodes(nil))
}

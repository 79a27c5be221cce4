package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/runguard/types"
)

func newTestMetrics(t *testing.T, allowlist ...string) (*GuardMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := InitGuardMetrics(provider.Meter("test"), NewTenantSanitizer(allowlist))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestGuardMetrics_RecordRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRequest(ctx, types.ModeShadow, types.RiskHigh)
	m.RecordRequest(ctx, types.ModeShadow, types.RiskHigh)
	m.RecordRequest(ctx, types.ModeEnforce, types.RiskLow)

	metrics := collect(t, reader)
	sum := metrics[MetricRequests].Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 2)

	byMode := map[string]int64{}
	for _, dp := range sum.DataPoints {
		mode, _ := dp.Attributes.Value("mode")
		byMode[mode.AsString()] = dp.Value
	}
	assert.Equal(t, int64(2), byMode["shadow"])
	assert.Equal(t, int64(1), byMode["enforce"])
}

func TestGuardMetrics_RecordBlock_SanitizesTenant(t *testing.T) {
	m, reader := newTestMetrics(t, "acme")
	ctx := context.Background()

	m.RecordBlock(ctx, types.VerdictBlockStale, types.ModeEnforce, types.RiskHigh, "acme")
	m.RecordBlock(ctx, types.VerdictBlockStale, types.ModeEnforce, types.RiskHigh, "user-supplied-123")
	m.RecordBlock(ctx, types.VerdictBlockStale, types.ModeEnforce, types.RiskHigh, "another-one")

	metrics := collect(t, reader)
	sum := metrics[MetricBlocks].Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 2)

	byTenant := map[string]int64{}
	for _, dp := range sum.DataPoints {
		tenant, _ := dp.Attributes.Value("tenant")
		byTenant[tenant.AsString()] = dp.Value
		assert.Contains(t, dp.Attributes.ToSlice(), attribute.String("kind", "stale"))
		assert.Contains(t, dp.Attributes.ToSlice(), attribute.String("risk_class", "high"))
	}
	assert.Equal(t, int64(1), byTenant["acme"])
	assert.Equal(t, int64(2), byTenant[OtherLabel])
}

func TestGuardMetrics_FailuresAndGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEvaluationFailure(ctx, "snapshot")
	m.RecordPassthrough(ctx, types.ModeShadow, types.RiskMedium)
	m.RecordBaselineEndpoints(ctx, 12)
	m.RecordTelemetryFailure()
	m.RecordTelemetryFailure()

	assert.Equal(t, int64(2), m.TelemetryFailures())

	metrics := collect(t, reader)

	failures := metrics[MetricEvaluationFailures].Data.(metricdata.Sum[int64])
	require.Len(t, failures.DataPoints, 1)
	assert.Contains(t, failures.DataPoints[0].Attributes.ToSlice(), attribute.String("stage", "snapshot"))

	passthrough := metrics[MetricPassthroughs].Data.(metricdata.Sum[int64])
	require.Len(t, passthrough.DataPoints, 1)

	gauge := metrics[MetricBaselineEndpoints].Data.(metricdata.Gauge[int64])
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(12), gauge.DataPoints[0].Value)

	telemetryFailures := metrics[MetricTelemetryFailures].Data.(metricdata.Sum[int64])
	require.Len(t, telemetryFailures.DataPoints, 1)
	assert.Equal(t, int64(2), telemetryFailures.DataPoints[0].Value)
}

func TestTenantSanitizer(t *testing.T) {
	s := NewTenantSanitizer([]string{"acme", " globex ", ""})

	assert.Equal(t, 2, s.Size())
	assert.Equal(t, "acme", s.Label("acme"))
	assert.Equal(t, "globex", s.Label("globex"))
	assert.Equal(t, OtherLabel, s.Label("initech"))
	assert.Equal(t, OtherLabel, s.Label(""))

	var nilSanitizer *TenantSanitizer
	assert.Equal(t, OtherLabel, nilSanitizer.Label("acme"))
	assert.Equal(t, 0, nilSanitizer.Size())
}

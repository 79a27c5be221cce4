package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/runguard/types"
)

// Metric names exported by the decision layer
const (
	MetricRequests           = "guard_decision_requests_total"
	MetricBlocks             = "guard_decision_block_total"
	MetricPassthroughs       = "guard_decision_passthrough_total"
	MetricEvaluationFailures = "guard_decision_evaluation_failures_total"
	MetricTelemetryFailures  = "guard_decision_telemetry_failures_total"
	MetricBaselineEndpoints  = "guard_decision_baseline_endpoints"
)

// GuardMetrics holds the decision layer instruments.
// Every label value is drawn from a closed set: modes, risk classes,
// block kinds, evaluation stages and sanitized tenant labels.
type GuardMetrics struct {
	// Counters
	Requests           metric.Int64Counter
	Blocks             metric.Int64Counter
	Passthroughs       metric.Int64Counter
	EvaluationFailures metric.Int64Counter

	// Gauges
	BaselineEndpoints metric.Int64Gauge

	tenants           *TenantSanitizer
	telemetryFailures atomic.Int64
}

// InitGuardMetrics initializes all decision layer metrics
func InitGuardMetrics(meter metric.Meter, tenants *TenantSanitizer) (*GuardMetrics, error) {
	if tenants == nil {
		tenants = NewTenantSanitizer(nil)
	}
	m := &GuardMetrics{tenants: tenants}

	if err := m.initCounters(meter); err != nil {
		return nil, err
	}

	if err := m.initGauges(meter); err != nil {
		return nil, err
	}

	return m, nil
}

// initCounters initializes counter metrics
func (m *GuardMetrics) initCounters(meter metric.Meter) error {
	var err error

	m.Requests, err = meter.Int64Counter(
		MetricRequests,
		metric.WithDescription("Guard decisions evaluated, by effective mode and risk class"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", MetricRequests, err)
	}

	m.Blocks, err = meter.Int64Counter(
		MetricBlocks,
		metric.WithDescription("BLOCK_* verdicts, whether enforced or shadowed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", MetricBlocks, err)
	}

	m.Passthroughs, err = meter.Int64Counter(
		MetricPassthroughs,
		metric.WithDescription("Requests deferred to an upstream guard decision"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", MetricPassthroughs, err)
	}

	m.EvaluationFailures, err = meter.Int64Counter(
		MetricEvaluationFailures,
		metric.WithDescription("Internal evaluation failures that degraded to ALLOW"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", MetricEvaluationFailures, err)
	}

	_, err = meter.Int64ObservableCounter(
		MetricTelemetryFailures,
		metric.WithDescription("Metric or log writes that failed and were discarded"),
		metric.WithUnit("{failure}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.telemetryFailures.Load())
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", MetricTelemetryFailures, err)
	}

	return nil
}

// initGauges initializes gauge metrics
func (m *GuardMetrics) initGauges(meter metric.Meter) error {
	var err error

	m.BaselineEndpoints, err = meter.Int64Gauge(
		MetricBaselineEndpoints,
		metric.WithDescription("Endpoint signatures recorded in the boot drift baseline"),
		metric.WithUnit("{endpoint}"),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", MetricBaselineEndpoints, err)
	}

	return nil
}

// RecordRequest records one evaluated (non-OFF) decision
func (m *GuardMetrics) RecordRequest(ctx context.Context, mode types.TenantMode, risk types.RiskClass) {
	m.Requests.Add(ctx, 1,
		metric.WithAttributeSet(attribute.NewSet(
			attribute.String("mode", string(mode)),
			attribute.String("risk_class", string(risk)),
		)),
	)
}

// RecordBlock records a BLOCK_* verdict. The tenant is passed through the
// allowlist sanitizer before it becomes a label.
func (m *GuardMetrics) RecordBlock(ctx context.Context, verdict types.Verdict, mode types.TenantMode, risk types.RiskClass, tenantID string) {
	m.Blocks.Add(ctx, 1,
		metric.WithAttributeSet(attribute.NewSet(
			attribute.String("kind", verdict.BlockKind()),
			attribute.String("mode", string(mode)),
			attribute.String("risk_class", string(risk)),
			attribute.String("tenant", m.tenants.Label(tenantID)),
		)),
	)
}

// RecordPassthrough records a PASSTHROUGH verdict
func (m *GuardMetrics) RecordPassthrough(ctx context.Context, mode types.TenantMode, risk types.RiskClass) {
	m.Passthroughs.Add(ctx, 1,
		metric.WithAttributeSet(attribute.NewSet(
			attribute.String("mode", string(mode)),
			attribute.String("risk_class", string(risk)),
		)),
	)
}

// RecordEvaluationFailure records an evaluation that failed internally
func (m *GuardMetrics) RecordEvaluationFailure(ctx context.Context, stage string) {
	m.EvaluationFailures.Add(ctx, 1,
		metric.WithAttributeSet(attribute.NewSet(
			attribute.String("stage", stage),
		)),
	)
}

// RecordBaselineEndpoints records the size of the boot baseline
func (m *GuardMetrics) RecordBaselineEndpoints(ctx context.Context, count int) {
	m.BaselineEndpoints.Record(ctx, int64(count))
}

// RecordTelemetryFailure counts a discarded telemetry write
func (m *GuardMetrics) RecordTelemetryFailure() {
	m.telemetryFailures.Add(1)
}

// TelemetryFailures returns the number of discarded telemetry writes
func (m *GuardMetrics) TelemetryFailures() int64 {
	return m.telemetryFailures.Load()
}

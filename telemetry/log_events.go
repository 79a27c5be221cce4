package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordGuardDecisionEvent emits a span event for a completed guard decision
func RecordGuardDecisionEvent(
	span trace.Span,
	decisionID string,
	verdict string,
	effectiveMode string,
	riskClass string,
	blocked bool,
	reasonCodes []string,
	riskContextHash string,
) {
	if span == nil {
		return
	}

	span.AddEvent("guard.decision.made", trace.WithAttributes(
		attribute.String("event.type", "guard.decision.made"),
		attribute.String("decision.id", decisionID),
		attribute.String("decision.verdict", verdict),
		attribute.String("decision.mode", effectiveMode),
		attribute.String("endpoint.risk_class", riskClass),
		attribute.Bool("decision.blocked", blocked),
		attribute.StringSlice("decision.reason_codes", reasonCodes),
		attribute.String("decision.risk_context_hash", riskContextHash),
	))
}

// RecordEvaluationFailureEvent emits a span event for an evaluation that failed open
func RecordEvaluationFailureEvent(span trace.Span, stage string, errorMsg string) {
	if span == nil {
		return
	}

	span.AddEvent("guard.evaluation.failed", trace.WithAttributes(
		attribute.String("event.type", "guard.evaluation.failed"),
		attribute.String("stage", stage),
		attribute.String("error", errorMsg),
	))
}

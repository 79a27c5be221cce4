// Package rollout applies shadow and enforce semantics to guard verdicts.
// It is the only entry point the HTTP layer calls; nothing it does can
// escape as a panic or an error.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/yairfalse/runguard/config"
	"github.com/yairfalse/runguard/drift"
	"github.com/yairfalse/runguard/enforcer"
	"github.com/yairfalse/runguard/policy"
	"github.com/yairfalse/runguard/snapshot"
	"github.com/yairfalse/runguard/telemetry"
	"github.com/yairfalse/runguard/types"
)

// StageController labels failures caught by the controller itself
const StageController = "controller"

const spanEvaluate = "guard.evaluate"

// KillSwitch reports whether the guard layer must be invisible
type KillSwitch interface {
	On() bool
}

// ConfigSource returns the configuration for one evaluation
type ConfigSource interface {
	Load() *config.Resolved
}

// Builder produces decision snapshots; *snapshot.Factory is the real one
type Builder interface {
	Build(req snapshot.Request) (*snapshot.Snapshot, error)
}

// Metrics is the subset of telemetry.GuardMetrics the controller records
type Metrics interface {
	RecordRequest(ctx context.Context, mode types.TenantMode, risk types.RiskClass)
	RecordBlock(ctx context.Context, verdict types.Verdict, mode types.TenantMode, risk types.RiskClass, tenantID string)
	RecordPassthrough(ctx context.Context, mode types.TenantMode, risk types.RiskClass)
	RecordEvaluationFailure(ctx context.Context, stage string)
	RecordTelemetryFailure()
}

// Request is what the HTTP layer knows about one inbound request
type Request struct {
	TenantID   string
	Endpoint   string // route template, never the raw path
	Method     string
	DenyReason types.DenyReason
}

// Decision is the controller's answer for one request
type Decision struct {
	ID              string           `json:"decision_id,omitempty"`
	TenantID        string           `json:"tenant_id"`
	Endpoint        string           `json:"endpoint"`
	Method          string           `json:"method"`
	Verdict         types.Verdict    `json:"verdict"`
	TenantMode      types.TenantMode `json:"tenant_mode,omitempty"`
	EffectiveMode   types.TenantMode `json:"effective_mode,omitempty"`
	RiskClass       types.RiskClass  `json:"risk_class,omitempty"`
	Blocked         bool             `json:"blocked"`
	ReasonCodes     []string         `json:"reason_codes"`
	RiskContextHash string           `json:"risk_context_hash,omitempty"`

	// Evaluated is false when the layer was bypassed: kill switch,
	// disabled, or effective mode off
	Evaluated bool `json:"evaluated"`

	// Failed is true when evaluation failed internally and degraded to ALLOW
	Failed bool `json:"failed,omitempty"`
}

// Controller runs one guard evaluation per request
type Controller struct {
	configs    ConfigSource
	builder    Builder
	killSwitch KillSwitch
	metrics    Metrics
	logger     *telemetry.Logger
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string

	evaluationFailures atomic.Int64
	telemetryFailures  atomic.Int64
}

// Option configures a Controller
type Option func(*Controller)

// WithKillSwitch sets the layer kill switch
func WithKillSwitch(k KillSwitch) Option {
	return func(c *Controller) { c.killSwitch = k }
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *telemetry.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithTracer sets the tracer
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithClock sets the evaluation clock
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator sets the decision id source
func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) { c.newID = newID }
}

// New returns a controller reading configuration from configs and building
// snapshots with builder
func New(configs ConfigSource, builder Builder, opts ...Option) *Controller {
	c := &Controller{
		configs: configs,
		builder: builder,
		metrics: nopMetrics{},
		logger:  telemetry.NopLogger(),
		tracer:  noop.NewTracerProvider().Tracer(""),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decide evaluates one request. The kill switch is checked before anything
// else; when it is on, or the layer is disabled, nothing is called, emitted
// or logged.
func (c *Controller) Decide(ctx context.Context, req Request) Decision {
	if c.killSwitch != nil && c.killSwitch.On() {
		return bypassed(req)
	}
	cfg := c.configs.Load()
	if cfg == nil || cfg.KillSwitch || !cfg.Enabled {
		return bypassed(req)
	}

	p := cfg.Policy
	endpoint := drift.NormalizeTemplate(req.Endpoint)
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	resolution := policy.Resolve(req.TenantID, endpoint, p.DefaultMode, p.TenantModes, p.RiskMap)
	if resolution.EffectiveMode == types.ModeOff {
		d := bypassed(req)
		d.TenantID = resolution.TenantID
		d.Endpoint = endpoint
		d.TenantMode = resolution.TenantMode
		d.EffectiveMode = types.ModeOff
		d.RiskClass = resolution.RiskClass
		return d
	}

	spanAttrs := []attribute.KeyValue{
		attribute.String("tenant.mode", string(resolution.TenantMode)),
		attribute.String("endpoint.risk_class", string(resolution.RiskClass)),
	}
	ctx, span := c.tracer.Start(ctx, spanEvaluate, trace.WithAttributes(spanAttrs...))
	defer span.End()
	c.safely(func() { c.logger.LogSpanStart(ctx, spanEvaluate, spanAttrs...) })

	decision := Decision{
		ID:            c.newID(),
		TenantID:      resolution.TenantID,
		Endpoint:      endpoint,
		Method:        req.Method,
		TenantMode:    resolution.TenantMode,
		EffectiveMode: resolution.EffectiveMode,
		RiskClass:     resolution.RiskClass,
		Evaluated:     true,
		ReasonCodes:   []string{},
	}

	snap, stage, err := c.build(snapshot.Request{
		Now:        c.now(),
		TenantID:   req.TenantID,
		Endpoint:   endpoint,
		Method:     req.Method,
		Policy:     p,
		DenyReason: req.DenyReason,
	})
	if err != nil {
		c.evaluationFailures.Add(1)
		decision.Verdict = enforcer.Evaluate(nil)
		decision.Failed = true
		c.safely(func() {
			c.metrics.RecordRequest(ctx, decision.EffectiveMode, decision.RiskClass)
			c.metrics.RecordEvaluationFailure(ctx, stage)
		})
		c.safely(func() {
			c.logger.LogEvaluationFailure(ctx, stage, err)
			telemetry.RecordEvaluationFailureEvent(span, stage, err.Error())
			span.SetStatus(codes.Error, err.Error())
			c.logger.LogSpanEnd(ctx, spanEvaluate, err, attribute.String("stage", stage))
		})
		return decision
	}

	decision.Verdict = enforcer.Evaluate(snap)
	decision.EffectiveMode = snap.EffectiveMode()
	decision.RiskContextHash = snap.RiskContextHash()
	decision.ReasonCodes = enforcer.ReasonCodes(snap.Signals())
	decision.Blocked = decision.Verdict.IsBlock() && snap.EffectiveMode() == types.ModeEnforce

	c.record(ctx, decision)
	c.safely(func() {
		telemetry.RecordGuardDecisionEvent(span, decision.ID, string(decision.Verdict),
			string(decision.EffectiveMode), string(decision.RiskClass), decision.Blocked,
			decision.ReasonCodes, decision.RiskContextHash)
		c.logger.LogSpanEnd(ctx, spanEvaluate, nil,
			attribute.String("guard.verdict", string(decision.Verdict)),
			attribute.Bool("guard.blocked", decision.Blocked),
			attribute.StringSlice("guard.reason_codes", decision.ReasonCodes),
		)
	})
	return decision
}

func (c *Controller) build(req snapshot.Request) (snap *snapshot.Snapshot, stage string, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap, stage, err = nil, StageController, fmt.Errorf("panic: %v", r)
		}
	}()

	snap, err = c.builder.Build(req)
	if err != nil {
		stage = StageController
		var be *snapshot.BuildError
		if errors.As(err, &be) {
			stage = be.Stage
		}
		return nil, stage, err
	}
	if snap == nil {
		return nil, StageController, fmt.Errorf("builder returned no snapshot")
	}
	return snap, "", nil
}

func (c *Controller) record(ctx context.Context, d Decision) {
	c.safely(func() {
		c.metrics.RecordRequest(ctx, d.EffectiveMode, d.RiskClass)
		switch {
		case d.Verdict == types.VerdictPassthrough:
			c.metrics.RecordPassthrough(ctx, d.EffectiveMode, d.RiskClass)
		case d.Verdict.IsBlock():
			c.metrics.RecordBlock(ctx, d.Verdict, d.EffectiveMode, d.RiskClass, d.TenantID)
		}
	})

	if !d.Verdict.IsBlock() {
		return
	}
	c.safely(func() {
		l := c.logger.WithContext(ctx)
		var event *zerolog.Event
		var msg string
		if d.Blocked {
			event, msg = l.Info(), "guard decision blocked request"
		} else {
			event, msg = l.Warn(), "shadow block, request allowed"
		}
		event.
			Str("decision_id", d.ID).
			Str("tenant_id", d.TenantID).
			Str("endpoint", d.Endpoint).
			Str("method", d.Method).
			Str("verdict", string(d.Verdict)).
			Str("effective_mode", string(d.EffectiveMode)).
			Str("risk_class", string(d.RiskClass)).
			Strs("reason_codes", d.ReasonCodes).
			Str("risk_context_hash", d.RiskContextHash).
			Msg(msg)
	})
}

// safely runs a telemetry write, discarding and counting any panic
func (c *Controller) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.telemetryFailures.Add(1)
			func() {
				defer func() { _ = recover() }()
				c.metrics.RecordTelemetryFailure()
			}()
		}
	}()
	fn()
}

// EvaluationFailures returns how many evaluations degraded to ALLOW after an internal failure
func (c *Controller) EvaluationFailures() int64 {
	return c.evaluationFailures.Load()
}

// TelemetryFailures returns how many telemetry writes were discarded
func (c *Controller) TelemetryFailures() int64 {
	return c.telemetryFailures.Load()
}

func bypassed(req Request) Decision {
	return Decision{
		TenantID:    types.NormalizeTenantID(req.TenantID),
		Endpoint:    req.Endpoint,
		Method:      req.Method,
		Verdict:     types.VerdictAllow,
		ReasonCodes: []string{},
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordRequest(context.Context, types.TenantMode, types.RiskClass) {}

func (nopMetrics) RecordBlock(context.Context, types.Verdict, types.TenantMode, types.RiskClass, string) {}

func (nopMetrics) RecordPassthrough(context.Context, types.TenantMode, types.RiskClass) {}

func (nopMetrics) RecordEvaluationFailure(context.Context, string) {}

func (nopMetrics) RecordTelemetryFailure() {}

var _ Metrics = (*telemetry.GuardMetrics)(nil)

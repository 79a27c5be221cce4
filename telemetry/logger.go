package telemetry

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks writing to stdout
func NewLogger(component string) *Logger {
	return NewLoggerWithWriter(component, os.Stdout)
}

// NewLoggerWithWriter creates a logger writing to w
func NewLoggerWithWriter(component string, w io.Writer) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("component", component).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// NopLogger discards everything
func NopLogger() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// SetLevel sets the global log level from a name like "debug" or "warn".
// Unknown names fall back to info.
func SetLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return level
}

// LogSpanStart logs a span opening at debug level with its attributes
func (l *Logger) LogSpanStart(ctx context.Context, spanName string, attrs ...attribute.KeyValue) {
	event := l.WithContext(ctx).Debug().Str("span_name", spanName)
	for _, attr := range attrs {
		event = addAttributeToEvent(event, attr)
	}
	event.Msg("span started")
}

// LogSpanEnd logs a span closing at debug level. A failed span carries the
// error; callers report the failure itself at warn.
func (l *Logger) LogSpanEnd(ctx context.Context, spanName string, err error, attrs ...attribute.KeyValue) {
	event := l.WithContext(ctx).Debug().Str("span_name", spanName)
	for _, attr := range attrs {
		event = addAttributeToEvent(event, attr)
	}
	if err != nil {
		event.Err(err).Msg("span failed")
		return
	}
	event.Msg("span completed")
}

// Helper to convert OTEL attributes to zerolog fields
func addAttributeToEvent(event *zerolog.Event, attr attribute.KeyValue) *zerolog.Event {
	key := string(attr.Key)

	switch attr.Value.Type() {
	case attribute.STRING:
		return event.Str(key, attr.Value.AsString())
	case attribute.INT64:
		return event.Int64(key, attr.Value.AsInt64())
	case attribute.FLOAT64:
		return event.Float64(key, attr.Value.AsFloat64())
	case attribute.BOOL:
		return event.Bool(key, attr.Value.AsBool())
	case attribute.STRINGSLICE:
		return event.Strs(key, attr.Value.AsStringSlice())
	default:
		return event.Str(key, attr.Value.Emit())
	}
}

// Convenience methods for decision layer events

// LogConfigParseFailure records a configuration input that degraded to its default
func (l *Logger) LogConfigParseFailure(ctx context.Context, input string, err error, fallback string) {
	l.WithContext(ctx).Warn().
		Err(err).
		Str("config_input", input).
		Str("fallback", fallback).
		Msg("config input unparsable, using safe default")
}

// LogConfigEntryDropped records a single map entry rejected during parsing
func (l *Logger) LogConfigEntryDropped(ctx context.Context, input, key, value string) {
	l.WithContext(ctx).Warn().
		Str("config_input", input).
		Str("key", key).
		Str("value", value).
		Msg("config entry dropped")
}

// LogEvaluationFailure records an internal evaluation failure that degraded to allow
func (l *Logger) LogEvaluationFailure(ctx context.Context, stage string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("stage", stage).
		Msg("guard evaluation failed, allowing request")
}

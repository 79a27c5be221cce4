package telemetry

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTELHook_Run(t *testing.T) {
	tests := getOTELHookTestCases()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runOTELHookTest(t, tt)
		})
	}
}

// getOTELHookTestCases returns test cases for OTEL hook
func getOTELHookTestCases() []struct {
	name        string
	setupCtx    func() context.Context
	expectTrace bool
	expectSpan  bool
} {
	return []struct {
		name        string
		setupCtx    func() context.Context
		expectTrace bool
		expectSpan  bool
	}{
		{
			name: "no context",
			setupCtx: func() context.Context {
				return nil
			},
			expectTrace: false,
			expectSpan:  false,
		},
		{
			name: "context without span",
			setupCtx: func() context.Context {
				return context.Background()
			},
			expectTrace: false,
			expectSpan:  false,
		},
		{
			name: "context with valid span",
			setupCtx: func() context.Context {
				return createContextWithSpan()
			},
			expectTrace: true,
			expectSpan:  true,
		},
	}
}

// createContextWithSpan creates a context with tracing span
func createContextWithSpan() context.Context {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	tracer := provider.Tracer("test")
	ctx, _ := tracer.Start(context.Background(), "test-span")
	return ctx
}

// runOTELHookTest executes a single OTEL hook test
func runOTELHookTest(t *testing.T, tt struct {
	name        string
	setupCtx    func() context.Context
	expectTrace bool
	expectSpan  bool
}) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	hook := OTELHook{}
	event := logger.Info().Ctx(tt.setupCtx())

	hook.Run(event, zerolog.InfoLevel, "test message")
	event.Msg("test")

	verifyOTELOutput(t, buf.String(), tt.expectTrace, tt.expectSpan)
}

// verifyOTELOutput checks if output contains expected trace/span IDs
func verifyOTELOutput(t *testing.T, output string, expectTrace, expectSpan bool) {
	if expectTrace {
		assert.Contains(t, output, "trace_id")
	} else {
		assert.NotContains(t, output, "trace_id")
	}

	if expectSpan {
		assert.Contains(t, output, "span_id")
	} else {
		assert.NotContains(t, output, "span_id")
	}
}

func TestOTELHook_ErrorLevel(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	tracer := provider.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	hook := OTELHook{}
	event := logger.Error().Ctx(ctx)

	hook.Run(event, zerolog.ErrorLevel, "error message")
	event.Msg("test error")

	// Verify span status was set to error
	span.End()
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "error message", spans[0].Status.Description)
}

func TestNewLogger(t *testing.T) {
	// Redirect stdout to capture output
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	logger := NewLogger("test-service")

	// Write a test message
	logger.Info().Msg("test message")

	// Close writer and restore stdout
	_ = w.Close()
	os.Stdout = oldStdout

	// Read captured output
	buf := make([]byte, 1024)
	n, _ := r.Read(buf)
	output := string(buf[:n])

	assert.NotNil(t, logger)
	assert.Contains(t, output, "test-service")
	assert.Contains(t, output, "test message")
}

func TestLogger_WithContext(t *testing.T) {
	logger := NewLogger("test-service")
	ctx := context.Background()

	contextLogger := logger.WithContext(ctx)
	assert.NotNil(t, contextLogger)
}

func TestLogger_LogSpanStart(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: zerolog.New(&buf)}

	logger.LogSpanStart(context.Background(), "guard.evaluate",
		attribute.String("tenant.mode", "enforce"),
		attribute.Int("signals", 2),
	)

	output := buf.String()
	assert.Contains(t, output, "span started")
	assert.Contains(t, output, `"span_name":"guard.evaluate"`)
	assert.Contains(t, output, `"tenant.mode":"enforce"`)
	assert.Contains(t, output, `"signals":2`)
	assert.Contains(t, output, `"level":"debug"`)
}

func TestLogger_LogSpanEnd(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{name: "completed", message: "span completed"},
		{name: "failed", err: assert.AnError, message: "span failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := &Logger{Logger: zerolog.New(&buf)}

			logger.LogSpanEnd(context.Background(), "guard.evaluate", tt.err, attribute.String("verdict", "ALLOW"))

			output := buf.String()
			assert.Contains(t, output, tt.message)
			assert.Contains(t, output, `"span_name":"guard.evaluate"`)
			assert.Contains(t, output, `"verdict":"ALLOW"`)
			assert.Contains(t, output, `"level":"debug"`)
			if tt.err != nil {
				assert.Contains(t, output, tt.err.Error())
			}
		})
	}
}

func TestLogger_SpanLinesHiddenAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: zerolog.New(&buf).Level(zerolog.InfoLevel)}

	logger.LogSpanStart(context.Background(), "guard.evaluate")
	logger.LogSpanEnd(context.Background(), "guard.evaluate", assert.AnError)
	assert.Empty(t, buf.String())
}

func TestAddAttributeToEvent(t *testing.T) {
	tests := []struct {
		name     string
		attr     attribute.KeyValue
		expected string
	}{
		{
			name:     "string attribute",
			attr:     attribute.String("key", "value"),
			expected: "\"key\":\"value\"",
		},
		{
			name:     "int64 attribute",
			attr:     attribute.Int64("count", 42),
			expected: "\"count\":42",
		},
		{
			name:     "float64 attribute",
			attr:     attribute.Float64("rate", 3.14),
			expected: "\"rate\":3.14",
		},
		{
			name:     "bool attribute",
			attr:     attribute.Bool("enabled", true),
			expected: "\"enabled\":true",
		},
		{
			name:     "string slice attribute",
			attr:     attribute.StringSlice("reason_codes", []string{"DRIFT:INPUT_ANOMALY"}),
			expected: "\"reason_codes\":[\"DRIFT:INPUT_ANOMALY\"]",
		},
		{
			name:     "int attribute (converted to int64)",
			attr:     attribute.Int("size", 100),
			expected: "\"size\":100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)
			event := logger.Info()

			event = addAttributeToEvent(event, tt.attr)
			event.Msg("test")

			output := buf.String()
			assert.Contains(t, output, tt.expected)
		})
	}
}

func TestLogger_ConvenienceMethods(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: zerolog.New(&buf)}
	ctx := context.Background()

	logger.LogConfigParseFailure(ctx, "tenant_modes", assert.AnError, "empty map")
	assert.Contains(t, buf.String(), "config input unparsable")
	assert.Contains(t, buf.String(), "tenant_modes")
	assert.Contains(t, buf.String(), "empty map")
	assert.Contains(t, buf.String(), "level\":\"warn")

	buf.Reset()

	logger.LogConfigEntryDropped(ctx, "endpoint_risk", "/orders", "critical")
	assert.Contains(t, buf.String(), "config entry dropped")
	assert.Contains(t, buf.String(), "/orders")
	assert.Contains(t, buf.String(), "critical")

	buf.Reset()

	logger.LogEvaluationFailure(ctx, "snapshot", assert.AnError)
	assert.Contains(t, buf.String(), "guard evaluation failed")
	assert.Contains(t, buf.String(), "snapshot")
	assert.Contains(t, buf.String(), "level\":\"error")
}

func TestNewLoggerWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("rollout", &buf)

	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), "\"component\":\"rollout\"")
	assert.Contains(t, buf.String(), "hello")
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	assert.NotPanics(t, func() {
		logger.Info().Msg("discarded")
		logger.LogEvaluationFailure(context.Background(), "x", assert.AnError)
	})
}

func TestSetLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)

	assert.Equal(t, zerolog.DebugLevel, SetLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, SetLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, SetLevel("loud"))
	assert.Equal(t, zerolog.InfoLevel, SetLevel(""))
}

func TestConfig_Defaults(t *testing.T) {
	// Clear environment variables
	oldEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	defer func() {
		if oldEndpoint != "" {
			_ = os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", oldEndpoint)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	cfg := Config{}

	// InitOTEL should succeed even without OTLP endpoint (Prometheus exporter works)
	shutdown, err := InitOTEL(ctx, cfg)
	assert.NoError(t, err)
	assert.NotNil(t, shutdown)

	// Cleanup
	if shutdown != nil {
		_ = shutdown(ctx)
	}
}

func TestConfig_EnvironmentVariable(t *testing.T) {
	// Set environment variable
	testEndpoint := "test.example.com:4317"
	_ = os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", testEndpoint)
	defer func() { _ = os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT") }()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	cfg := Config{}

	// InitOTEL should succeed with env var endpoint
	shutdown, err := InitOTEL(ctx, cfg)
	assert.NoError(t, err)
	assert.NotNil(t, shutdown)

	// Cleanup
	if shutdown != nil {
		_ = shutdown(ctx)
	}
}

func TestInitOTEL_SetsGlobals(t *testing.T) {
	_ = os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	shutdown, err := InitOTEL(ctx, Config{ServiceName: "runguard-test"})
	require.NoError(t, err)
	defer func() { _ = shutdown(ctx) }()

	assert.NotNil(t, PrometheusRegistry)
	assert.NotNil(t, Meter)
	assert.NotNil(t, Tracer)
}

func TestApplyConfigDefaults(t *testing.T) {
	_ = os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	cfg := applyConfigDefaults(Config{SampleRate: 7})
	assert.Equal(t, "runguard", cfg.ServiceName)
	assert.Equal(t, "", cfg.OTELEndpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)

	cfg = applyConfigDefaults(Config{ServiceName: "x", SampleRate: 0.25})
	assert.Equal(t, "x", cfg.ServiceName)
	assert.Equal(t, 0.25, cfg.SampleRate)
}

func TestRecordGuardDecisionEvent(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	_, span := provider.Tracer("test").Start(context.Background(), "decide")

	RecordGuardDecisionEvent(span, "id-1", "BLOCK_STALE", "enforce", "high", true,
		[]string{"CONFIG_FRESHNESS:CONFIG_STALE"}, "abc")
	RecordEvaluationFailureEvent(span, "snapshot", "boom")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 2)
	assert.Equal(t, "guard.decision.made", spans[0].Events[0].Name)
	assert.Contains(t, spans[0].Events[0].Attributes, attribute.String("decision.verdict", "BLOCK_STALE"))
	assert.Contains(t, spans[0].Events[0].Attributes, attribute.Bool("decision.blocked", true))
	assert.Equal(t, "guard.evaluation.failed", spans[0].Events[1].Name)

	assert.NotPanics(t, func() {
		RecordGuardDecisionEvent(nil, "", "", "", "", false, nil, "")
		RecordEvaluationFailureEvent(nil, "", "")
	})
}

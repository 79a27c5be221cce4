package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/runguard/config"
	"github.com/yairfalse/runguard/drift"
	"github.com/yairfalse/runguard/internal/middleware"
	"github.com/yairfalse/runguard/internal/upstream"
	"github.com/yairfalse/runguard/policy"
	"github.com/yairfalse/runguard/storage"
	"github.com/yairfalse/runguard/telemetry"
	"github.com/yairfalse/runguard/types"
)

func TestHandleHealthz(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handleHealthz(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestHandleKillSwitch(t *testing.T) {
	guardKill := upstream.NewKillSwitch(false)
	upstreamKill := upstream.NewKillSwitch(false)
	h := handleKillSwitch(guardKill, upstreamKill)

	tests := []struct {
		name         string
		query        string
		wantCode     int
		wantGuard    bool
		wantUpstream bool
	}{
		{"guard on", "on=true", http.StatusOK, true, false},
		{"upstream on", "layer=upstream&on=true", http.StatusOK, true, true},
		{"guard off", "layer=guard&on=false", http.StatusOK, false, true},
		{"bad value", "on=maybe", http.StatusBadRequest, false, true},
		{"bad layer", "layer=db&on=true", http.StatusBadRequest, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h(w, httptest.NewRequest(http.MethodPost, "/admin/kill-switch?"+tt.query, nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantGuard, guardKill.On())
			assert.Equal(t, tt.wantUpstream, upstreamKill.On())
		})
	}
}

func TestAPIRouter_Templates(t *testing.T) {
	api := newAPIRouter()

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodPost, "/orders", "/orders"},
		{http.MethodPost, "/orders/", "/orders"},
		{http.MethodPost, "/orders/bulk", "/orders/bulk"},
		{http.MethodGet, "/orders/42", "/orders/{id}"},
		{http.MethodGet, "/orders/{id}", "/orders/{id}"},
		{http.MethodGet, "/catalog", "/catalog"},
		{http.MethodGet, "/payments", middleware.UnmatchedRoute},
		{http.MethodGet, "/admin", middleware.UnmatchedRoute},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, middleware.RouteTemplate(api, httptest.NewRequest(tt.method, tt.path, nil)))
		})
	}
}

func TestAPIRouter_BaselineCoversRoutes(t *testing.T) {
	risk := policy.NewRiskMap(map[string]types.RiskClass{"/orders": types.RiskHigh})
	b, err := drift.FromRoutes(newAPIRouter(), risk, "cfg", time.Unix(0, 0))
	require.NoError(t, err)

	assert.Equal(t, 6, b.Len())
	assert.True(t, b.Knows(drift.EndpointSignature("/orders/{id}", http.MethodDelete, types.RiskHigh)))
	assert.True(t, b.Knows(drift.EndpointSignature("/catalog", http.MethodGet, types.RiskLow)))
}

func setGuardEnv(t *testing.T) {
	t.Setenv("RUNGUARD_DEFAULT_MODE", "enforce")
	t.Setenv("RUNGUARD_ENDPOINT_RISK", `{"/orders/bulk":"high"}`)
	t.Setenv("RUNGUARD_DEPENDENCY_MAP", `{"/orders/bulk":["inventory"],"/orders/{id}":["orders-db"]}`)
	t.Setenv("RUNGUARD_CONFIG_UPDATED_AT", "2026-03-01T11:59:00Z")
}

func evaluateJSON(t *testing.T, opts evaluateOptions) evaluation {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runEvaluate(context.Background(), &out, cfg, opts))

	var ev evaluation
	require.NoError(t, json.Unmarshal(out.Bytes(), &ev))
	return ev
}

func TestRunEvaluate_Allow(t *testing.T) {
	setGuardEnv(t)

	ev := evaluateJSON(t, evaluateOptions{
		tenant:   "acme",
		endpoint: "/orders/bulk",
		method:   "post",
		now:      "2026-03-01T12:00:00Z",
	})

	assert.Equal(t, types.VerdictAllow, ev.Verdict)
	assert.Equal(t, types.ModeEnforce, ev.EffectiveMode)
	assert.Equal(t, types.RiskHigh, ev.RiskClass)
	assert.Equal(t, http.MethodPost, ev.Method)
	assert.False(t, ev.Blocked)
	assert.Equal(t, offlineDecisionID, ev.ID)
	assert.Len(t, ev.RiskContextHash, 64)
	assert.NotEmpty(t, ev.ConfigHash)
}

func TestRunEvaluate_StaleBlocks(t *testing.T) {
	setGuardEnv(t)

	ev := evaluateJSON(t, evaluateOptions{
		tenant:   "acme",
		endpoint: "/orders/bulk",
		method:   http.MethodPost,
		now:      "2026-03-01T13:00:00Z",
	})

	assert.Equal(t, types.VerdictBlockStale, ev.Verdict)
	assert.True(t, ev.Blocked)
	assert.Equal(t, []string{"CONFIG_FRESHNESS:CONFIG_STALE"}, ev.ReasonCodes)
}

func TestRunEvaluate_Deterministic(t *testing.T) {
	setGuardEnv(t)
	opts := evaluateOptions{
		tenant:     "acme",
		endpoint:   "/orders/42",
		method:     http.MethodGet,
		denyReason: string(types.DenyRateLimited),
		now:        "2026-03-01T12:00:00Z",
	}

	first := evaluateJSON(t, opts)
	second := evaluateJSON(t, opts)

	assert.Equal(t, first, second)
	assert.Equal(t, "/orders/{id}", first.Endpoint)
	assert.Equal(t, types.VerdictPassthrough, first.Verdict)
}

func TestRunEvaluate_InvalidNow(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	err = runEvaluate(context.Background(), &bytes.Buffer{}, cfg, evaluateOptions{endpoint: "/", now: "yesterday"})
	assert.Error(t, err)
}

func TestRunEvaluate_StoredBaselineRevision(t *testing.T) {
	setGuardEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Path = filepath.Join(t.TempDir(), "runguard.db")

	store, err := storage.Open(cfg.Storage.Path)
	require.NoError(t, err)
	risk := policy.NewRiskMap(map[string]types.RiskClass{"/orders/bulk": types.RiskHigh})
	old, err := drift.FromRoutes(newAPIRouter(), risk, "old-hash", time.Unix(100, 0))
	require.NoError(t, err)
	rev, err := store.Save(context.Background(), storage.RecordFromBaseline(old))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	opts := evaluateOptions{
		tenant:           "acme",
		endpoint:         "/orders/bulk",
		method:           http.MethodPost,
		now:              "2026-03-01T12:00:00Z",
		baselineRevision: rev,
	}

	var out bytes.Buffer
	require.NoError(t, runEvaluate(context.Background(), &out, cfg, opts))
	var ev evaluation
	require.NoError(t, json.Unmarshal(out.Bytes(), &ev))
	assert.Equal(t, types.VerdictBlockDrift, ev.Verdict)
	assert.True(t, ev.Blocked)
	assert.Contains(t, ev.ReasonCodes, "DRIFT:THRESHOLD_EXCEEDED")
	assert.NotEqual(t, "old-hash", ev.ConfigHash)

	opts.baselineRevision = rev + 1
	err = runEvaluate(context.Background(), &bytes.Buffer{}, cfg, opts)
	assert.ErrorContains(t, err, "not found")

	opts.baselineRevision = -1
	assert.Error(t, runEvaluate(context.Background(), &bytes.Buffer{}, cfg, opts))
}

func TestRecordAndShowBaselines(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "runguard.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	logger := telemetry.NopLogger()
	risk := policy.NewRiskMap(nil)

	first, err := drift.FromRoutes(newAPIRouter(), risk, "cfg-1", time.Unix(100, 0))
	require.NoError(t, err)
	require.NoError(t, recordBaseline(ctx, logger, store, first, 2))

	second, err := drift.FromRoutes(newAPIRouter(), risk, "cfg-2", time.Unix(200, 0))
	require.NoError(t, err)
	require.NoError(t, recordBaseline(ctx, logger, store, second, 2))

	baselineLimit, baselineFormat = 10, "json"
	defer func() { baselineLimit, baselineFormat = 10, "table" }()

	var out bytes.Buffer
	require.NoError(t, showBaselines(ctx, &out, store))

	var entries []baselineEntry
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "cfg-2", entries[0].ConfigHash)
	assert.True(t, entries[0].Diff.ConfigHashChanged)
	assert.Empty(t, entries[0].Diff.Added)
	assert.Equal(t, "cfg-1", entries[1].ConfigHash)
	assert.Len(t, entries[1].Diff.Added, 6)
}

func TestShowBaselines_Table(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "runguard.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	var out bytes.Buffer
	require.NoError(t, showBaselines(context.Background(), &out, store))
	assert.Equal(t, "No baselines recorded\n", out.String())
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/yairfalse/runguard/config"
	"github.com/yairfalse/runguard/drift"
	"github.com/yairfalse/runguard/internal/middleware"
	"github.com/yairfalse/runguard/rollout"
	"github.com/yairfalse/runguard/snapshot"
	"github.com/yairfalse/runguard/storage"
	"github.com/yairfalse/runguard/telemetry"
	"github.com/yairfalse/runguard/types"
)

// offlineDecisionID replaces the random decision id so repeated runs print
// identical output
const offlineDecisionID = "offline"

type evaluateOptions struct {
	tenant     string
	endpoint   string
	method     string
	denyReason string
	now        string

	// replays against a stored boot baseline instead of the current routes
	baselineRevision int64
}

// evaluation is the printed result of one offline evaluation
type evaluation struct {
	rollout.Decision
	ConfigHash  string    `json:"config_hash"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

var evalOpts evaluateOptions

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one request offline",
	Long: `Evaluate one request against the configuration, exactly as serve would,
and print the decision as JSON.

The endpoint may be a raw path or a route template; it is resolved against
the same route table serve uses. With --now the run is fully deterministic,
so a logged decision can be reproduced from its inputs.

By default the drift baseline is built from the current configuration, so
configuration drift never shows. --baseline-revision replays against a boot
baseline recorded by serve instead, which reproduces THRESHOLD_EXCEEDED.`,
	Example: `  runguard evaluate --tenant acme --endpoint /orders/bulk --method POST
  runguard evaluate -c runguard.yaml --tenant acme --endpoint /orders/42 --now 2026-03-01T12:00:00Z
  runguard evaluate --tenant acme --endpoint /payments --method POST --deny-reason RATE_LIMITED
  runguard evaluate --tenant acme --endpoint /orders/bulk --method POST --baseline-revision 3`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runEvaluate(cmd.Context(), cmd.OutOrStdout(), cfg, evalOpts)
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVar(&evalOpts.tenant, "tenant", "", "Tenant id (empty is the default tenant)")
	evaluateCmd.Flags().StringVar(&evalOpts.endpoint, "endpoint", "/", "Request path or route template")
	evaluateCmd.Flags().StringVar(&evalOpts.method, "method", http.MethodGet, "HTTP method")
	evaluateCmd.Flags().StringVar(&evalOpts.denyReason, "deny-reason", "", "Upstream deny reason, e.g. RATE_LIMITED")
	evaluateCmd.Flags().StringVar(&evalOpts.now, "now", "", "Evaluation time, RFC3339 (default: current time)")
	evaluateCmd.Flags().Int64Var(&evalOpts.baselineRevision, "baseline-revision", 0, "Stored baseline revision to detect drift against (default: current routes)")
}

func runEvaluate(ctx context.Context, w io.Writer, cfg *config.Config, opts evaluateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC()
	if opts.now != "" {
		parsed, err := time.Parse(time.RFC3339Nano, opts.now)
		if err != nil {
			return fmt.Errorf("invalid --now: %w", err)
		}
		now = parsed.UTC()
	}

	resolved := cfg.Resolve(ctx, telemetry.NewLoggerWithWriter("config", os.Stderr))

	api := newAPIRouter()
	baseline, err := evaluationBaseline(ctx, cfg, api, resolved, now, opts.baselineRevision)
	if err != nil {
		return err
	}

	controller := rollout.New(config.NewStore(resolved),
		snapshot.NewFactory(snapshot.DefaultProducers(baseline, true)...),
		rollout.WithLogger(telemetry.NewLoggerWithWriter("rollout", os.Stderr)),
		rollout.WithClock(func() time.Time { return now }),
		rollout.WithIDGenerator(func() string { return offlineDecisionID }),
	)

	method := strings.ToUpper(strings.TrimSpace(opts.method))
	req := &http.Request{Method: method, URL: &url.URL{Path: opts.endpoint}}
	decision := controller.Decide(ctx, rollout.Request{
		TenantID:   opts.tenant,
		Endpoint:   middleware.RouteTemplate(api, req),
		Method:     method,
		DenyReason: types.DenyReason(opts.denyReason),
	})

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(evaluation{
		Decision:    decision,
		ConfigHash:  resolved.Policy.ConfigHash,
		EvaluatedAt: now,
	})
}

// evaluationBaseline loads the stored baseline at revision, or builds one
// from the routes when revision is zero.
func evaluationBaseline(ctx context.Context, cfg *config.Config, api chi.Routes, resolved *config.Resolved, now time.Time, revision int64) (*drift.Baseline, error) {
	if revision < 0 {
		return nil, fmt.Errorf("invalid --baseline-revision %d", revision)
	}
	if revision == 0 {
		baseline, err := drift.FromRoutes(api, resolved.Policy.RiskMap, resolved.Policy.ConfigHash, now)
		if err != nil {
			return nil, fmt.Errorf("failed to build drift baseline: %w", err)
		}
		return baseline, nil
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	rec, err := store.Get(ctx, revision)
	if err != nil {
		return nil, err
	}
	return rec.Baseline(), nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/yairfalse/runguard/config"
	"github.com/yairfalse/runguard/drift"
	"github.com/yairfalse/runguard/internal/middleware"
	"github.com/yairfalse/runguard/internal/upstream"
	"github.com/yairfalse/runguard/rollout"
	"github.com/yairfalse/runguard/snapshot"
	"github.com/yairfalse/runguard/storage"
	"github.com/yairfalse/runguard/telemetry"
)

var keepBaselines int64

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the guarded API",
	Long: `Serve the guarded API with the upstream chain and the guard decision layer.

On boot the route table is fingerprinted into the drift baseline, which is
persisted and diffed against the previous boot. SIGHUP reloads the
configuration; the baseline stays as it was at boot.

Endpoints:
- API on server.listen
- /metrics, /healthz, /readyz and /admin/kill-switch on server.metrics_listen`,
	Example: `  runguard serve                          # Environment only
  runguard serve -c runguard.yaml         # With a config file
  RUNGUARD_DEFAULT_MODE=enforce runguard serve -c runguard.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int64Var(&keepBaselines, "keep-baselines", 50, "Baseline revisions kept in storage")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := telemetry.NewLogger("serve")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdown := initTelemetry(ctx, logger, cfg)
	defer shutdown()

	resolved := cfg.Resolve(ctx, telemetry.NewLogger("config"))
	metrics, err := telemetry.InitGuardMetrics(telemetry.Meter, telemetry.NewTenantSanitizer(resolved.TenantLabelAllowlist))
	if err != nil {
		return fmt.Errorf("failed to init guard metrics: %w", err)
	}

	api := newAPIRouter()
	baseline, err := drift.FromRoutes(api, resolved.Policy.RiskMap, resolved.Policy.ConfigHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to build drift baseline: %w", err)
	}
	metrics.RecordBaselineEndpoints(ctx, baseline.Len())

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := recordBaseline(ctx, logger, store, baseline, keepBaselines); err != nil {
		// history is an audit trail, the guard runs without it
		logger.Warn().Err(err).Msg("failed to record baseline")
	}

	configs := config.NewStore(resolved)
	guardKill := upstream.NewKillSwitch(false)
	controller := rollout.New(configs,
		snapshot.NewFactory(snapshot.DefaultProducers(baseline, true)...),
		rollout.WithKillSwitch(guardKill),
		rollout.WithMetrics(metrics),
		rollout.WithLogger(telemetry.NewLogger("rollout")),
		rollout.WithTracer(telemetry.Tracer),
	)

	chain := &upstream.Chain{
		KillSwitch: upstream.NewKillSwitch(cfg.Upstream.KillSwitch),
		Limiter:    upstream.NewInMemory(cfg.Upstream.RateWindow),
		Limit:      cfg.Upstream.RateLimit,
		Breaker:    upstream.NewBreaker(cfg.Upstream.BreakerThreshold, cfg.Upstream.BreakerCooldown),
	}
	handler := middleware.Guard(api, controller, middleware.Options{
		TenantHeader: cfg.Server.TenantHeader,
		RetryAfter:   time.Duration(cfg.Server.RetryAfterSeconds) * time.Second,
		Chain:        chain,
		Dependencies: func(endpoint string) []string {
			return configs.Load().Policy.Dependencies.Lookup(endpoint)
		},
	})(api)

	logger.Info().
		Str("listen", cfg.Server.Listen).
		Str("metrics_listen", cfg.Server.MetricsListen).
		Bool("enabled", resolved.Enabled).
		Str("default_mode", string(resolved.Policy.DefaultMode)).
		Str("config_hash", resolved.Policy.ConfigHash).
		Int("baseline_endpoints", baseline.Len()).
		Msg("runguard starting")

	var g run.Group
	{
		srv := &http.Server{Addr: cfg.Server.Listen, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
		g.Add(func() error {
			return listen(srv)
		}, func(error) {
			shutdownServer(srv)
		})
	}
	{
		srv := &http.Server{
			Addr:              cfg.Server.MetricsListen,
			Handler:           newOpsRouter(guardKill, chain.KillSwitch),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			return listen(srv)
		}, func(error) {
			shutdownServer(srv)
		})
	}
	{
		reloadCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return reloadOnHangup(reloadCtx, logger, configs, chain.KillSwitch)
		}, func(error) {
			cancel()
		})
	}
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		logger.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	}
	return err
}

// initTelemetry starts the OTEL providers. A failure is logged and the
// process runs without them.
func initTelemetry(ctx context.Context, logger *telemetry.Logger, cfg *config.Config) func() {
	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: version,
		OTELEndpoint:   cfg.OTEL.Endpoint,
		Insecure:       cfg.OTEL.Insecure,
		SampleRate:     cfg.OTEL.SampleRate,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry initialization failed, running without it")
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("error shutting down telemetry")
		}
	}
}

// recordBaseline persists the boot baseline and logs how it differs from
// the previous boot
func recordBaseline(ctx context.Context, logger *telemetry.Logger, store *storage.BaselineStore, b *drift.Baseline, keep int64) error {
	prev, err := store.Latest(ctx)
	if err != nil {
		return err
	}
	rec := storage.RecordFromBaseline(b)
	rev, err := store.Save(ctx, rec)
	if err != nil {
		return err
	}

	diff := storage.DiffRecords(prev, rec)
	event := logger.Info()
	if !diff.Empty() && prev != nil {
		event = logger.Warn()
	}
	event.
		Int64("revision", rev).
		Str("config_hash", rec.ConfigHash).
		Bool("config_hash_changed", diff.ConfigHashChanged).
		Strs("added", diff.Added).
		Strs("removed", diff.Removed).
		Msg("baseline recorded")

	if keep > 0 {
		return store.Compact(ctx, keep)
	}
	return nil
}

// reloadOnHangup swaps in a freshly loaded configuration on every SIGHUP.
// A failed reload keeps the running configuration.
func reloadOnHangup(ctx context.Context, logger *telemetry.Logger, configs *config.Store, upstreamKill *upstream.KillSwitch) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			// TODO: recompute the drift baseline on reload once a reload can
			// be told apart from drift; until then a changed config hash
			// reports THRESHOLD_EXCEEDED.
			resolved, cfg, err := config.Reload(ctx, telemetry.NewLogger("config"), configPath)
			if err != nil {
				logger.Error().Err(err).Msg("config reload failed, keeping current config")
				continue
			}
			prev := configs.Swap(resolved)
			upstreamKill.Set(cfg.Upstream.KillSwitch)
			logger.Info().
				Bool("enabled", resolved.Enabled).
				Bool("kill_switch", resolved.KillSwitch).
				Str("default_mode", string(resolved.Policy.DefaultMode)).
				Str("config_hash", resolved.Policy.ConfigHash).
				Bool("config_hash_changed", prev == nil || prev.Policy.ConfigHash != resolved.Policy.ConfigHash).
				Msg("config reloaded")
		}
	}
}

// newOpsRouter serves metrics, health and the runtime kill switches
func newOpsRouter(guardKill, upstreamKill *upstream.KillSwitch) http.Handler {
	r := chi.NewRouter()
	if telemetry.PrometheusRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleHealthz)
	r.Post("/admin/kill-switch", handleKillSwitch(guardKill, upstreamKill))
	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleKillSwitch flips a kill switch: ?layer=guard|upstream&on=true|false
func handleKillSwitch(guardKill, upstreamKill *upstream.KillSwitch) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		on, err := strconv.ParseBool(r.URL.Query().Get("on"))
		if err != nil {
			http.Error(w, "on must be a boolean", http.StatusBadRequest)
			return
		}

		target := guardKill
		switch layer := r.URL.Query().Get("layer"); layer {
		case "", "guard":
		case "upstream":
			target = upstreamKill
		default:
			http.Error(w, "unknown layer "+strconv.Quote(layer), http.StatusBadRequest)
			return
		}
		target.Set(on)
		writeJSON(w, http.StatusOK, map[string]bool{"on": target.On()})
	}
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s: %w", srv.Addr, err)
	}
	return nil
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

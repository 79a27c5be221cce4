package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/yairfalse/runguard/policy"
	"github.com/yairfalse/runguard/snapshot"
	"github.com/yairfalse/runguard/telemetry"
	"github.com/yairfalse/runguard/types"
)

// Resolved is the parsed, immutable configuration one evaluation reads
type Resolved struct {
	Enabled              bool
	KillSwitch           bool
	Policy               snapshot.Policy
	TenantLabelAllowlist []string
}

// Resolve parses the decision inputs. Each input degrades on its own:
// a bad enable flag disables the layer, a bad default mode is off, bad maps
// are empty with per-entry drops. It never returns an error.
func (c *Config) Resolve(ctx context.Context, logger *telemetry.Logger) *Resolved {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	for _, e := range c.envErrors {
		logger.LogConfigParseFailure(ctx, e.name, e.err, "ignored")
	}

	g := c.Guard
	r := &Resolved{
		Enabled:              ParseEnabled(ctx, logger, string(g.Enabled)),
		KillSwitch:           g.KillSwitch,
		TenantLabelAllowlist: append([]string(nil), g.TenantLabelAllowlist...),
		Policy: snapshot.Policy{
			DefaultMode:     ParseDefaultMode(ctx, logger, string(g.DefaultMode)),
			TenantModes:     policy.ParseTenantModeMap(ctx, logger, string(g.TenantModes)),
			RiskMap:         policy.ParseRiskMap(ctx, logger, string(g.EndpointRisk)),
			Dependencies:    policy.ParseDependencyMap(ctx, logger, string(g.DependencyMap)),
			ConfigUpdatedAt: strings.TrimSpace(string(g.ConfigUpdatedAt)),
			Window:          g.Window,
			DriftDisabled:   !c.DriftEnabled(),
		},
	}

	hash, err := Fingerprint(r.Policy.RiskMap, r.Policy.Dependencies, r.Policy.Window)
	if err != nil {
		// unreachable for well-formed maps; an empty hash drifts against any baseline
		logger.LogConfigParseFailure(ctx, "config_hash", err, "empty hash")
	}
	r.Policy.ConfigHash = hash
	return r
}

// ParseEnabled parses the global enable flag. Unset means enabled;
// an unparsable value disables the layer.
func ParseEnabled(ctx context.Context, logger *telemetry.Logger, raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return true
	}
	switch strings.ToLower(raw) {
	case "on", "yes":
		return true
	case "off", "no":
		return false
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		logger.LogConfigParseFailure(ctx, "enabled", err, "disabled")
		return false
	}
	return enabled
}

// ParseDefaultMode parses the global default tenant mode.
// Empty is shadow; an unrecognized value is off.
func ParseDefaultMode(ctx context.Context, logger *telemetry.Logger, raw string) types.TenantMode {
	if strings.TrimSpace(raw) == "" {
		return types.ModeShadow
	}
	mode, ok := types.ParseTenantMode(raw)
	if !ok {
		logger.LogConfigParseFailure(ctx, "default_mode", fmt.Errorf("unknown mode %q", raw), string(types.ModeOff))
		return types.ModeOff
	}
	return mode
}

// Fingerprint hashes the classification surface of the configuration.
// Rollout controls (modes, kill switch, drift.enabled) and the update
// timestamp are excluded so flipping them does not register as drift.
func Fingerprint(risk *policy.RiskMap, deps policy.DependencyMap, window types.WindowParams) (string, error) {
	riskEntries := map[string]types.RiskClass{}
	if risk != nil {
		riskEntries = risk.Entries()
	}
	if deps == nil {
		deps = policy.DependencyMap{}
	}
	canonical, err := snapshot.Canonicalize(struct {
		EndpointRisk  map[string]types.RiskClass `json:"endpoint_risk"`
		DependencyMap policy.DependencyMap       `json:"dependency_map"`
		Window        types.WindowParams         `json:"window_params"`
	}{riskEntries, deps, window})
	if err != nil {
		return "", fmt.Errorf("canonicalize config: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Store holds the current resolved configuration. Each evaluation takes one
// Load; Swap replaces it for later evaluations only.
type Store struct {
	current atomic.Pointer[Resolved]
}

// NewStore returns a store holding r
func NewStore(r *Resolved) *Store {
	s := &Store{}
	s.current.Store(r)
	return s
}

// Load returns the current configuration
func (s *Store) Load() *Resolved {
	return s.current.Load()
}

// Swap installs r and returns the previous configuration
func (s *Store) Swap(r *Resolved) *Resolved {
	return s.current.Swap(r)
}

// Reload loads path and resolves it
func Reload(ctx context.Context, logger *telemetry.Logger, path string) (*Resolved, *Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	return cfg.Resolve(ctx, logger), cfg, nil
}

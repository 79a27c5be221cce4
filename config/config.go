// Package config loads runguard configuration from YAML and the environment
// and resolves it into the immutable view read by each evaluation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/runguard/types"
)

// Config is the root configuration structure
type Config struct {
	Guard    GuardConfig    `yaml:"guard"`
	Drift    DriftConfig    `yaml:"drift"`
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Storage  StorageConfig  `yaml:"storage"`
	OTEL     OTELConfig     `yaml:"otel"`
	Log      LogConfig      `yaml:"log"`

	// env values that could not be parsed; reported by Resolve
	envErrors []envError
}

// GuardConfig holds the decision layer inputs. The enable flag and the maps
// stay raw here; Resolve parses each one independently.
type GuardConfig struct {
	Enabled              Raw                `yaml:"enabled"`
	KillSwitch           bool               `yaml:"kill_switch"`
	DefaultMode          Raw                `yaml:"default_mode"`
	TenantModes          Raw                `yaml:"tenant_modes"`
	EndpointRisk         Raw                `yaml:"endpoint_risk"`
	DependencyMap        Raw                `yaml:"dependency_map"`
	ConfigUpdatedAt      Raw                `yaml:"config_updated_at"`
	Window               types.WindowParams `yaml:"window"`
	TenantLabelAllowlist []string           `yaml:"tenant_label_allowlist"`
}

// DriftConfig toggles the drift producer
type DriftConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// ServerConfig holds HTTP settings
type ServerConfig struct {
	Listen            string `yaml:"listen"`
	MetricsListen     string `yaml:"metrics_listen"`
	TenantHeader      string `yaml:"tenant_header"`
	RetryAfterSeconds int    `yaml:"retry_after_seconds"`
}

// UpstreamConfig holds the reference admission chain settings
type UpstreamConfig struct {
	KillSwitch         bool   `yaml:"kill_switch"`
	RateLimit          int    `yaml:"rate_limit"`
	RateWindowStr      string `yaml:"rate_window"`
	RateWindow         time.Duration
	BreakerThreshold   int    `yaml:"breaker_threshold"`
	BreakerCooldownStr string `yaml:"breaker_cooldown"`
	BreakerCooldown    time.Duration
}

// StorageConfig holds the baseline history location
type StorageConfig struct {
	Path string `yaml:"path"`
}

// OTELConfig holds OpenTelemetry settings
type OTELConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// Raw keeps a scalar exactly as written. A YAML mapping or sequence is
// re-encoded as JSON so maps may be written inline or as JSON strings.
// Raw never fails to decode: a value that cannot be re-encoded is kept as
// its YAML tag, which no input parser accepts, so only that input degrades.
type Raw string

// UnmarshalYAML implements yaml.Unmarshaler
func (r *Raw) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*r = Raw(node.Value)
		return nil
	}
	var v any
	if err := node.Decode(&v); err != nil {
		*r = Raw(node.Tag)
		return nil
	}
	b, err := json.Marshal(stringKeys(v))
	if err != nil {
		*r = Raw(node.Tag)
		return nil
	}
	*r = Raw(b)
	return nil
}

// stringKeys rewrites non-string mapping keys (numbers, null) as strings so
// the value can be encoded as JSON. A null key becomes "".
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = stringKeys(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			key := ""
			if k != nil {
				key = fmt.Sprint(k)
			}
			out[key] = stringKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stringKeys(val)
		}
		return out
	default:
		return v
	}
}

type envError struct {
	name string
	err  error
}

// Load reads a YAML config file, applies environment overrides and defaults.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg, os.LookupEnv)
	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	raw := func(name string, dst *Raw) {
		if v, ok := lookup(name); ok {
			*dst = Raw(v)
		}
	}

	raw("RUNGUARD_ENABLED", &cfg.Guard.Enabled)
	raw("RUNGUARD_DEFAULT_MODE", &cfg.Guard.DefaultMode)
	raw("RUNGUARD_TENANT_MODES", &cfg.Guard.TenantModes)
	raw("RUNGUARD_ENDPOINT_RISK", &cfg.Guard.EndpointRisk)
	raw("RUNGUARD_DEPENDENCY_MAP", &cfg.Guard.DependencyMap)
	raw("RUNGUARD_CONFIG_UPDATED_AT", &cfg.Guard.ConfigUpdatedAt)
	str("RUNGUARD_LOG_LEVEL", &cfg.Log.Level)

	if v, ok := lookup("RUNGUARD_KILL_SWITCH"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			// unparsable kill switch engages it; the layer goes inert
			cfg.envErrors = append(cfg.envErrors, envError{"RUNGUARD_KILL_SWITCH", err})
			b = true
		}
		cfg.Guard.KillSwitch = b
	}

	for name, dst := range map[string]*int64{
		"RUNGUARD_MAX_CONFIG_AGE_MS":       &cfg.Guard.Window.MaxConfigAgeMS,
		"RUNGUARD_CLOCK_SKEW_ALLOWANCE_MS": &cfg.Guard.Window.ClockSkewAllowanceMS,
	} {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			cfg.envErrors = append(cfg.envErrors, envError{name, err})
			continue
		}
		*dst = n
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Guard.Window.MaxConfigAgeMS <= 0 {
		cfg.Guard.Window.MaxConfigAgeMS = 300_000
	}
	if cfg.Guard.Window.ClockSkewAllowanceMS <= 0 {
		cfg.Guard.Window.ClockSkewAllowanceMS = 5_000
	}
	if cfg.Drift.Enabled == nil {
		enabled := true
		cfg.Drift.Enabled = &enabled
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.MetricsListen == "" {
		cfg.Server.MetricsListen = ":9090"
	}
	if cfg.Server.TenantHeader == "" {
		cfg.Server.TenantHeader = "X-Tenant-ID"
	}
	if cfg.Server.RetryAfterSeconds <= 0 {
		cfg.Server.RetryAfterSeconds = 30
	}
	if cfg.Upstream.RateLimit <= 0 {
		cfg.Upstream.RateLimit = 100
	}
	if cfg.Upstream.RateWindowStr == "" {
		cfg.Upstream.RateWindowStr = "1s"
	}
	if cfg.Upstream.BreakerThreshold <= 0 {
		cfg.Upstream.BreakerThreshold = 5
	}
	if cfg.Upstream.BreakerCooldownStr == "" {
		cfg.Upstream.BreakerCooldownStr = "30s"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "runguard.db"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "runguard"
	}
	if cfg.OTEL.SampleRate == 0 {
		cfg.OTEL.SampleRate = 1.0
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Upstream.RateWindowStr)
	if err != nil {
		return fmt.Errorf("parse rate_window %q: %w", cfg.Upstream.RateWindowStr, err)
	}
	cfg.Upstream.RateWindow = d

	d, err = time.ParseDuration(cfg.Upstream.BreakerCooldownStr)
	if err != nil {
		return fmt.Errorf("parse breaker_cooldown %q: %w", cfg.Upstream.BreakerCooldownStr, err)
	}
	cfg.Upstream.BreakerCooldown = d
	return nil
}

// Validate checks settings outside the decision inputs. The decision inputs
// never fail validation; they degrade in Resolve instead.
func (c *Config) Validate() error {
	if c.OTEL.SampleRate < 0.0 || c.OTEL.SampleRate > 1.0 {
		return fmt.Errorf("otel: sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.SampleRate)
	}
	if c.Upstream.RateWindow <= 0 {
		return fmt.Errorf("upstream: rate_window must be positive")
	}
	if c.Upstream.BreakerCooldown <= 0 {
		return fmt.Errorf("upstream: breaker_cooldown must be positive")
	}
	return nil
}

// DriftEnabled reports whether the drift producer reports drift
func (c *Config) DriftEnabled() bool {
	return c.Drift.Enabled == nil || *c.Drift.Enabled
}

package types

import "time"

// SignalName identifies the producer of a GuardSignal
type SignalName string

const (
	SignalConfigFreshness SignalName = "CONFIG_FRESHNESS"
	SignalCBMapping       SignalName = "CB_MAPPING"
	SignalDrift           SignalName = "DRIFT"
)

// SignalStatus describes the quality of the data a signal observed
type SignalStatus string

const (
	StatusOK           SignalStatus = "OK"
	StatusStale        SignalStatus = "STALE"
	StatusInsufficient SignalStatus = "INSUFFICIENT"
)

// ReasonCode is the closed set of machine-readable signal outcomes
type ReasonCode string

const (
	ReasonOK ReasonCode = "OK"

	// Config freshness
	ReasonConfigTimestampMissing    ReasonCode = "CONFIG_TIMESTAMP_MISSING"
	ReasonConfigTimestampParseError ReasonCode = "CONFIG_TIMESTAMP_PARSE_ERROR"
	ReasonConfigTimestampFuture     ReasonCode = "CONFIG_TIMESTAMP_FUTURE"
	ReasonConfigStale               ReasonCode = "CONFIG_STALE"

	// Dependency mapping
	ReasonCBMappingMiss ReasonCode = "CB_MAPPING_MISS"

	// Drift. "No drift" is expressed by omitting the signal.
	ReasonDriftProviderError     ReasonCode = "PROVIDER_ERROR"
	ReasonDriftThresholdExceeded ReasonCode = "THRESHOLD_EXCEEDED"
	ReasonDriftInputAnomaly      ReasonCode = "INPUT_ANOMALY"
)

// IsDriftBlocking reports whether a drift reason should block.
// PROVIDER_ERROR means the detector itself failed and degrades to allow.
func (r ReasonCode) IsDriftBlocking() bool {
	return r == ReasonDriftThresholdExceeded || r == ReasonDriftInputAnomaly
}

// GuardSignal is one independent observation feeding a decision.
// Detail is free text for debugging; it must never become a metric label.
type GuardSignal struct {
	Name       SignalName   `json:"name"`
	Status     SignalStatus `json:"status"`
	ReasonCode ReasonCode   `json:"reason_code"`
	ObservedAt time.Time    `json:"observed_at"`
	Detail     string       `json:"detail,omitempty"`
}

// NewSignal builds a GuardSignal
func NewSignal(name SignalName, status SignalStatus, reason ReasonCode, observedAt time.Time, detail string) GuardSignal {
	return GuardSignal{
		Name:       name,
		Status:     status,
		ReasonCode: reason,
		ObservedAt: observedAt,
		Detail:     detail,
	}
}

// WindowParams tunes the freshness check. It is part of the risk context hash.
type WindowParams struct {
	MaxConfigAgeMS       int64 `json:"max_config_age_ms" yaml:"max_config_age_ms"`
	ClockSkewAllowanceMS int64 `json:"clock_skew_allowance_ms" yaml:"clock_skew_allowance_ms"`
}

// MaxConfigAge returns MaxConfigAgeMS as a duration
func (w WindowParams) MaxConfigAge() time.Duration {
	return time.Duration(w.MaxConfigAgeMS) * time.Millisecond
}

// ClockSkewAllowance returns ClockSkewAllowanceMS as a duration
func (w WindowParams) ClockSkewAllowance() time.Duration {
	return time.Duration(w.ClockSkewAllowanceMS) * time.Millisecond
}

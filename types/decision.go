package types

import "strings"

// Verdict is the terminal enforcement outcome for one request
type Verdict string

const (
	VerdictAllow             Verdict = "ALLOW"
	VerdictPassthrough       Verdict = "PASSTHROUGH"
	VerdictBlockStale        Verdict = "BLOCK_STALE"
	VerdictBlockInsufficient Verdict = "BLOCK_INSUFFICIENT"
	VerdictBlockDrift        Verdict = "BLOCK_DRIFT"
)

// AllVerdicts lists every Verdict in a stable order
var AllVerdicts = []Verdict{
	VerdictAllow,
	VerdictPassthrough,
	VerdictBlockStale,
	VerdictBlockInsufficient,
	VerdictBlockDrift,
}

// IsBlock reports whether the verdict is one of the BLOCK_* outcomes
func (v Verdict) IsBlock() bool {
	return strings.HasPrefix(string(v), "BLOCK_")
}

// BlockKind returns the lower-case block kind used as a metric label,
// e.g. "stale" for BLOCK_STALE. Non-block verdicts return "".
func (v Verdict) BlockKind() string {
	if !v.IsBlock() {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(string(v), "BLOCK_"))
}

// DenyReason is the optional decision handed down by the upstream admission
// guards. The zero value means the upstream chain did not decide.
// This layer treats any non-empty value as opaque.
type DenyReason string

// DenyNone is the absence of an upstream decision
const DenyNone DenyReason = ""

// Reasons produced by the reference upstream chain in internal/upstream
const (
	DenyKillSwitch  DenyReason = "KILL_SWITCH"
	DenyRateLimited DenyReason = "RATE_LIMITED"
	DenyCircuitOpen DenyReason = "CIRCUIT_OPEN"
)

// Present reports whether the upstream chain produced a decision
func (d DenyReason) Present() bool {
	return d != DenyNone
}

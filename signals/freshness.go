package signals

import (
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/runguard/types"
)

// CheckConfigFreshness reports whether the configuration is recent enough to trust.
//
//   - missing timestamp                  -> INSUFFICIENT / CONFIG_TIMESTAMP_MISSING
//   - unparsable timestamp               -> INSUFFICIENT / CONFIG_TIMESTAMP_PARSE_ERROR
//   - ahead of now beyond the skew window -> INSUFFICIENT / CONFIG_TIMESTAMP_FUTURE
//   - older than MaxConfigAgeMS          -> STALE / CONFIG_STALE
//   - otherwise                          -> OK
//
// Timestamps ahead of now within the skew allowance count as age zero.
func CheckConfigFreshness(updatedAt string, window types.WindowParams, now time.Time) types.GuardSignal {
	updatedAt = strings.TrimSpace(updatedAt)
	if updatedAt == "" {
		return types.NewSignal(types.SignalConfigFreshness, types.StatusInsufficient,
			types.ReasonConfigTimestampMissing, now, "config last-update timestamp not set")
	}

	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return types.NewSignal(types.SignalConfigFreshness, types.StatusInsufficient,
			types.ReasonConfigTimestampParseError, now, fmt.Sprintf("parse %q: %v", updatedAt, err))
	}

	age := now.Sub(ts)
	if age < 0 {
		if -age > window.ClockSkewAllowance() {
			return types.NewSignal(types.SignalConfigFreshness, types.StatusInsufficient,
				types.ReasonConfigTimestampFuture, now, fmt.Sprintf("timestamp %s ahead of now", -age))
		}
		age = 0
	}

	if age > window.MaxConfigAge() {
		return types.NewSignal(types.SignalConfigFreshness, types.StatusStale,
			types.ReasonConfigStale, now, fmt.Sprintf("config age %s exceeds %s", age, window.MaxConfigAge()))
	}

	return types.NewSignal(types.SignalConfigFreshness, types.StatusOK, types.ReasonOK, now, "")
}

package upstream

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/yairfalse/runguard/types"
)

// Chain runs the admission guards in order: kill switch, rate limit, breaker.
// The first guard that denies decides.
type Chain struct {
	KillSwitch *KillSwitch
	Limiter    Limiter
	Limit      int
	Breaker    *Breaker
}

// Decide returns the deny reason for a tenant calling an endpoint backed by
// the given dependencies, or DenyNone
func (c *Chain) Decide(tenantID string, dependencies []string) types.DenyReason {
	if c.KillSwitch.On() {
		return types.DenyKillSwitch
	}
	if c.Limiter != nil && !c.Limiter.Allow(types.NormalizeTenantID(tenantID), c.Limit).Allowed {
		return types.DenyRateLimited
	}
	if c.Breaker != nil && c.Breaker.Open(dependencies...) {
		return types.DenyCircuitOpen
	}
	return types.DenyNone
}

// StatusFor maps a deny reason to the HTTP status the chain rejects with
func StatusFor(reason types.DenyReason) int {
	if reason == types.DenyRateLimited {
		return http.StatusTooManyRequests
	}
	return http.StatusServiceUnavailable
}

// SetRetryAfter sets the Retry-After header in whole seconds, rounding up.
// Non-positive durations leave the header unset.
func SetRetryAfter(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
}

// Reject writes the upstream rejection for reason
func Reject(w http.ResponseWriter, reason types.DenyReason, retryAfter time.Duration) {
	SetRetryAfter(w, retryAfter)
	http.Error(w, string(reason), StatusFor(reason))
}

// Package upstream is the admission chain that runs before the guard layer:
// a kill switch, a per-tenant rate limiter and per-dependency circuit
// breakers. Only their combined deny reason crosses into the guard layer.
package upstream

import (
	"context"

	"github.com/yairfalse/runguard/types"
)

type denyReasonKey struct{}

// WithDenyReason returns ctx carrying the upstream decision
func WithDenyReason(ctx context.Context, reason types.DenyReason) context.Context {
	return context.WithValue(ctx, denyReasonKey{}, reason)
}

// DenyReasonFromContext returns the upstream decision, DenyNone if absent
func DenyReasonFromContext(ctx context.Context) types.DenyReason {
	if reason, ok := ctx.Value(denyReasonKey{}).(types.DenyReason); ok {
		return reason
	}
	return types.DenyNone
}

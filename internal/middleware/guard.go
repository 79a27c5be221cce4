// Package middleware wires the upstream admission chain and the guard
// decision layer into a net/http handler chain.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yairfalse/runguard/drift"
	"github.com/yairfalse/runguard/internal/upstream"
	"github.com/yairfalse/runguard/rollout"
	"github.com/yairfalse/runguard/types"
)

// UnmatchedRoute is the endpoint template used when no route matches.
// The raw path is never used as a template.
const UnmatchedRoute = "_unmatched"

// BlockedError is the error field of an enforced rejection
const BlockedError = "guard_decision_blocked"

// Decider is the guard decision entry point; *rollout.Controller is the real one
type Decider interface {
	Decide(ctx context.Context, req rollout.Request) rollout.Decision
}

// Rejection is the body of an enforced block
type Rejection struct {
	Error       string        `json:"error"`
	Verdict     types.Verdict `json:"verdict"`
	ReasonCodes []string      `json:"reason_codes"`
	DecisionID  string        `json:"decision_id"`
}

// Options configures Guard
type Options struct {
	TenantHeader string
	RetryAfter   time.Duration

	// Chain is the upstream admission chain; nil skips it
	Chain *upstream.Chain

	// Dependencies returns the dependency names behind a route template
	Dependencies func(endpoint string) []string
}

// RouteTemplate resolves a request to the route template it will be served by
func RouteTemplate(routes chi.Routes, r *http.Request) string {
	rctx := chi.NewRouteContext()
	if !routes.Match(rctx, r.Method, r.URL.Path) {
		return UnmatchedRoute
	}
	return drift.NormalizeTemplate(rctx.RoutePattern())
}

// Guard returns middleware that runs, in order: route resolution, the
// upstream chain, the guard decision, and the upstream rejection.
// routes must be the router the middleware wraps.
func Guard(routes chi.Routes, decider Decider, opts Options) func(http.Handler) http.Handler {
	header := opts.TenantHeader
	if header == "" {
		header = "X-Tenant-ID"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := strings.TrimSpace(r.Header.Get(header))
			endpoint := RouteTemplate(routes, r)

			var deps []string
			if opts.Dependencies != nil {
				deps = opts.Dependencies(endpoint)
			}

			deny := types.DenyNone
			if opts.Chain != nil {
				deny = opts.Chain.Decide(tenant, deps)
			}
			ctx := upstream.WithDenyReason(r.Context(), deny)

			decision := decider.Decide(ctx, rollout.Request{
				TenantID:   tenant,
				Endpoint:   endpoint,
				Method:     r.Method,
				DenyReason: deny,
			})
			if decision.Blocked {
				writeRejection(w, decision, opts.RetryAfter)
				return
			}
			if deny.Present() {
				upstream.Reject(w, deny, opts.RetryAfter)
				return
			}

			if opts.Chain == nil || opts.Chain.Breaker == nil || len(deps) == 0 {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))
			opts.Chain.Breaker.Record(rec.status >= http.StatusInternalServerError, deps...)
		})
	}
}

func writeRejection(w http.ResponseWriter, d rollout.Decision, retryAfter time.Duration) {
	upstream.SetRetryAfter(w, retryAfter)
	writeJSON(w, http.StatusServiceUnavailable, Rejection{
		Error:       BlockedError,
		Verdict:     d.Verdict,
		ReasonCodes: d.ReasonCodes,
		DecisionID:  d.ID,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

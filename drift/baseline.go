// Package drift detects requests whose signature does not match the state
// the process booted with.
package drift

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yairfalse/runguard/policy"
	"github.com/yairfalse/runguard/types"
)

// Endpoint is one routable endpoint+method pair and its risk class
type Endpoint struct {
	Template  string          `json:"template"`
	Method    string          `json:"method"`
	RiskClass types.RiskClass `json:"risk_class"`
}

// Signature returns the endpoint signature hash
func (e Endpoint) Signature() string {
	return EndpointSignature(e.Template, e.Method, e.RiskClass)
}

// EndpointSignature hashes an endpoint template, method and risk class.
// The template is normalized first so boot-time and request-time forms agree.
func EndpointSignature(template, method string, risk types.RiskClass) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeTemplate(template)))
	h.Write([]byte{0})
	h.Write([]byte(risk))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeTemplate trims the trailing slash chi leaves on nested index routes
func NormalizeTemplate(template string) string {
	if template == "" {
		return "/"
	}
	if len(template) > 1 {
		template = strings.TrimRight(template, "/")
		if template == "" {
			return "/"
		}
	}
	return template
}

// Baseline is the immutable record of what the process knew at boot
type Baseline struct {
	configHash string
	signatures map[string]struct{}
	endpoints  []Endpoint
	createdAt  time.Time
}

// NewBaseline builds a baseline from a config hash and the boot endpoints
func NewBaseline(configHash string, endpoints []Endpoint, createdAt time.Time) *Baseline {
	b := &Baseline{
		configHash: configHash,
		signatures: make(map[string]struct{}, len(endpoints)),
		createdAt:  createdAt,
	}
	seen := make(map[string]bool, len(endpoints))
	for _, ep := range endpoints {
		ep.Template = NormalizeTemplate(ep.Template)
		ep.Method = strings.ToUpper(ep.Method)
		sig := ep.Signature()
		if seen[sig] {
			continue
		}
		seen[sig] = true
		b.signatures[sig] = struct{}{}
		b.endpoints = append(b.endpoints, ep)
	}
	sort.Slice(b.endpoints, func(i, j int) bool {
		if b.endpoints[i].Template != b.endpoints[j].Template {
			return b.endpoints[i].Template < b.endpoints[j].Template
		}
		return b.endpoints[i].Method < b.endpoints[j].Method
	})
	return b
}

// FromRoutes walks a chi route table and classifies every route against the
// boot risk map
func FromRoutes(routes chi.Routes, risk *policy.RiskMap, configHash string, createdAt time.Time) (*Baseline, error) {
	var endpoints []Endpoint
	err := chi.Walk(routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		template := NormalizeTemplate(route)
		endpoints = append(endpoints, Endpoint{
			Template:  template,
			Method:    method,
			RiskClass: policy.ResolveEndpointRiskClass(template, risk),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk routes: %w", err)
	}
	return NewBaseline(configHash, endpoints, createdAt), nil
}

// ConfigHash returns the resolved config hash recorded at boot
func (b *Baseline) ConfigHash() string {
	return b.configHash
}

// CreatedAt returns when the baseline was computed
func (b *Baseline) CreatedAt() time.Time {
	return b.createdAt
}

// Len returns the number of known endpoint signatures
func (b *Baseline) Len() int {
	return len(b.signatures)
}

// Knows reports whether a signature was seen at boot
func (b *Baseline) Knows(signature string) bool {
	_, ok := b.signatures[signature]
	return ok
}

// Endpoints returns a copy of the boot endpoints sorted by template then method
func (b *Baseline) Endpoints() []Endpoint {
	out := make([]Endpoint, len(b.endpoints))
	copy(out, b.endpoints)
	return out
}

// Signatures returns the known signatures in sorted order
func (b *Baseline) Signatures() []string {
	out := make([]string, 0, len(b.signatures))
	for sig := range b.signatures {
		out = append(out, sig)
	}
	sort.Strings(out)
	return out
}

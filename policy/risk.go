package policy

import (
	"context"
	"strings"

	"github.com/google/btree"

	"github.com/yairfalse/runguard/telemetry"
	"github.com/yairfalse/runguard/types"
)

// RiskMap classifies normalized endpoint templates.
//
// Precedence is fixed: an exact key match, then the longest key that is a
// prefix of the template, then RiskLow. Keys are matched against route
// templates such as /orders/{id}, never against raw request paths.
// A RiskMap is read-only after construction and safe for concurrent use.
type RiskMap struct {
	exact map[string]types.RiskClass
	index *btree.BTreeG[string]
}

// NewRiskMap builds a RiskMap from template to class entries. Blank keys are ignored.
func NewRiskMap(entries map[string]types.RiskClass) *RiskMap {
	m := &RiskMap{
		exact: make(map[string]types.RiskClass, len(entries)),
		index: btree.NewOrderedG[string](16),
	}
	for key, class := range entries {
		if key == "" {
			continue
		}
		m.exact[key] = class
		m.index.ReplaceOrInsert(key)
	}
	return m
}

// Classify resolves the risk class of an endpoint template
func (m *RiskMap) Classify(endpoint string) types.RiskClass {
	if m == nil || len(m.exact) == 0 {
		return types.RiskLow
	}

	if class, ok := m.exact[endpoint]; ok {
		return class
	}

	// Every prefix of endpoint sorts at or below it, and among those prefixes a
	// longer one sorts higher. Walking down from endpoint, the first prefix hit
	// is therefore the longest.
	var (
		match string
		found bool
	)
	m.index.DescendLessOrEqual(endpoint, func(key string) bool {
		if strings.HasPrefix(endpoint, key) {
			match, found = key, true
			return false
		}
		return true
	})
	if found {
		return m.exact[match]
	}

	return types.RiskLow
}

// Len returns the number of entries
func (m *RiskMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.exact)
}

// Entries returns a copy of the entries
func (m *RiskMap) Entries() map[string]types.RiskClass {
	out := make(map[string]types.RiskClass, m.Len())
	if m == nil {
		return out
	}
	for k, v := range m.exact {
		out[k] = v
	}
	return out
}

// ResolveEndpointRiskClass classifies endpointTemplate against riskMap
func ResolveEndpointRiskClass(endpointTemplate string, riskMap *RiskMap) types.RiskClass {
	return riskMap.Classify(endpointTemplate)
}

// ParseRiskMap parses a JSON object of endpoint template to risk class.
// Malformed input yields an empty map, so every endpoint classifies as LOW;
// invalid class values are dropped per entry.
func ParseRiskMap(ctx context.Context, logger *telemetry.Logger, raw string) *RiskMap {
	entries := parseStringMap(ctx, logger, "endpoint_risk", raw, func(key, value string) (types.RiskClass, bool) {
		if key == "" {
			return "", false
		}
		return types.ParseRiskClass(value)
	})
	return NewRiskMap(entries)
}

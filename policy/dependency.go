package policy

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/yairfalse/runguard/telemetry"
)

// DependencyMap lists the downstream dependencies (circuit breaker names)
// behind each endpoint template
type DependencyMap map[string][]string

// Lookup returns the dependencies mapped for an endpoint template
func (d DependencyMap) Lookup(endpoint string) []string {
	return d[endpoint]
}

// ParseDependencyMap parses a JSON object of endpoint template to a list of
// dependency names. Malformed input yields an empty map; entries that are not
// string arrays are dropped. Names are trimmed, de-duplicated and sorted.
func ParseDependencyMap(ctx context.Context, logger *telemetry.Logger, raw string) DependencyMap {
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	entries, err := parseObject(raw)
	if err != nil {
		logger.LogConfigParseFailure(ctx, "dependency_map", err, "empty map")
		return DependencyMap{}
	}

	out := make(DependencyMap, len(entries))
	for _, key := range sortedKeys(entries) {
		var names []string
		if key == "" || json.Unmarshal(entries[key], &names) != nil {
			logger.LogConfigEntryDropped(ctx, "dependency_map", key, string(entries[key]))
			continue
		}
		out[key] = normalizeNames(names)
	}
	return out
}

func normalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/yairfalse/runguard/telemetry"
)

// parseObject decodes a raw JSON object into its entries.
// Blank input is an empty object, not an error.
func parseObject(raw string) (map[string]json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]json.RawMessage{}, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if entries == nil {
		// literal "null"
		return map[string]json.RawMessage{}, nil
	}
	return entries, nil
}

// parseStringMap decodes a JSON object of strings, applying accept to each entry.
// A malformed object yields an empty map plus a log line; entries that are not
// strings, or that accept rejects, are dropped one by one.
func parseStringMap[V any](ctx context.Context, logger *telemetry.Logger, input, raw string, accept func(key, value string) (V, bool)) map[string]V {
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	entries, err := parseObject(raw)
	if err != nil {
		logger.LogConfigParseFailure(ctx, input, err, "empty map")
		return map[string]V{}
	}

	out := make(map[string]V, len(entries))
	for _, key := range sortedKeys(entries) {
		var value string
		if err := json.Unmarshal(entries[key], &value); err != nil {
			logger.LogConfigEntryDropped(ctx, input, key, string(entries[key]))
			continue
		}
		parsed, ok := accept(key, value)
		if !ok {
			logger.LogConfigEntryDropped(ctx, input, key, value)
			continue
		}
		out[key] = parsed
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

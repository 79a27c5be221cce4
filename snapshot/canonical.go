package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/yairfalse/runguard/types"
)

// hashFields is the exact input of the risk context hash.
// Adding a field changes every hash.
type hashFields struct {
	TenantID               string             `json:"tenant_id"`
	Endpoint               string             `json:"endpoint"`
	Method                 string             `json:"method"`
	ConfigHash             string             `json:"config_hash"`
	WindowParams           types.WindowParams `json:"window_params"`
	UpstreamDenyReasonName *string            `json:"upstream_deny_reason_name"`
	HasStale               bool               `json:"has_stale"`
	HasInsufficient        bool               `json:"has_insufficient"`
}

// computeRiskContextHash returns the hex SHA-256 of the canonical JSON of fields
func computeRiskContextHash(f hashFields) (string, error) {
	canonical, err := Canonicalize(f)
	if err != nil {
		return "", fmt.Errorf("canonicalize hash fields: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Canonicalize renders v as JSON with sorted object keys, no insignificant
// whitespace and integer-only numbers, so equal values give equal bytes.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	case json.Number:
		if _, err := t.Int64(); err != nil {
			return errors.New("non-integer number in canonical form")
		}
		buf.WriteString(t.String())
	case []any:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			ks, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(ks)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported json type %T", v)
	}
	return nil
}

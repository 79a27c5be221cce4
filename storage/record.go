package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/yairfalse/runguard/drift"
)

// Record is one persisted boot baseline
type Record struct {
	Revision   int64            `json:"revision"`
	ConfigHash string           `json:"config_hash"`
	CreatedAt  time.Time        `json:"created_at"`
	Endpoints  []drift.Endpoint `json:"endpoints"`
}

// RecordFromBaseline captures a baseline for storage
func RecordFromBaseline(b *drift.Baseline) Record {
	return Record{
		ConfigHash: b.ConfigHash(),
		CreatedAt:  b.CreatedAt(),
		Endpoints:  b.Endpoints(),
	}
}

// Baseline rebuilds the drift baseline the record captured
func (r Record) Baseline() *drift.Baseline {
	return drift.NewBaseline(r.ConfigHash, r.Endpoints, r.CreatedAt)
}

// Diff is the change between two baselines
type Diff struct {
	ConfigHashChanged bool     `json:"config_hash_changed"`
	Added             []string `json:"added,omitempty"`
	Removed           []string `json:"removed,omitempty"`
}

// Empty reports whether nothing changed
func (d Diff) Empty() bool {
	return !d.ConfigHashChanged && len(d.Added) == 0 && len(d.Removed) == 0
}

// DiffRecords compares the previous baseline with the current one.
// A nil previous record means every current endpoint was added.
func DiffRecords(prev *Record, cur Record) Diff {
	before := map[string]bool{}
	if prev != nil {
		for _, ep := range prev.Endpoints {
			before[describe(ep)] = true
		}
	}
	after := map[string]bool{}
	for _, ep := range cur.Endpoints {
		after[describe(ep)] = true
	}

	d := Diff{ConfigHashChanged: prev != nil && prev.ConfigHash != cur.ConfigHash}
	for key := range after {
		if !before[key] {
			d.Added = append(d.Added, key)
		}
	}
	for key := range before {
		if !after[key] {
			d.Removed = append(d.Removed, key)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	return d
}

func describe(ep drift.Endpoint) string {
	return fmt.Sprintf("%s %s (%s)", ep.Method, ep.Template, ep.RiskClass)
}

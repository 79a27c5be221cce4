// Package enforcer maps a decision snapshot to its terminal verdict.
package enforcer

import (
	"sort"

	"github.com/yairfalse/runguard/snapshot"
	"github.com/yairfalse/runguard/types"
)

// Evaluate returns the verdict for a snapshot. The order of checks is fixed:
// no snapshot, upstream decision, insufficient, stale, blocking drift.
func Evaluate(snap *snapshot.Snapshot) types.Verdict {
	switch {
	case snap == nil:
		return types.VerdictAllow
	case snap.UpstreamDenyReason().Present():
		return types.VerdictPassthrough
	case snap.HasInsufficient():
		return types.VerdictBlockInsufficient
	case snap.HasStale():
		return types.VerdictBlockStale
	case hasBlockingDrift(snap):
		return types.VerdictBlockDrift
	default:
		return types.VerdictAllow
	}
}

func hasBlockingDrift(snap *snapshot.Snapshot) bool {
	sig, ok := snap.DriftSignal()
	return ok && sig.ReasonCode.IsDriftBlocking()
}

// ReasonCodes returns "NAME:CODE" for every signal that did not report OK,
// sorted by signal name then reason code
func ReasonCodes(signals []types.GuardSignal) []string {
	picked := make([]types.GuardSignal, 0, len(signals))
	for _, sig := range signals {
		if sig.ReasonCode != types.ReasonOK {
			picked = append(picked, sig)
		}
	}
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].Name != picked[j].Name {
			return picked[i].Name < picked[j].Name
		}
		return picked[i].ReasonCode < picked[j].ReasonCode
	})

	codes := make([]string, 0, len(picked))
	for _, sig := range picked {
		codes = append(codes, string(sig.Name)+":"+string(sig.ReasonCode))
	}
	return codes
}

package signals

import (
	"time"

	"github.com/yairfalse/runguard/types"
)

// CheckDependencyMapping reports whether the endpoint has a known
// downstream-dependency mapping
func CheckDependencyMapping(endpoint string, dependencies []string, now time.Time) types.GuardSignal {
	if len(dependencies) == 0 {
		return types.NewSignal(types.SignalCBMapping, types.StatusInsufficient,
			types.ReasonCBMappingMiss, now, "no dependency mapping for "+endpoint)
	}
	return types.NewSignal(types.SignalCBMapping, types.StatusOK, types.ReasonOK, now, "")
}

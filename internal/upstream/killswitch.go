package upstream

import "sync/atomic"

// KillSwitch is a process-wide flag safe for concurrent use
type KillSwitch struct {
	on atomic.Bool
}

// NewKillSwitch returns a switch in the given state
func NewKillSwitch(on bool) *KillSwitch {
	k := &KillSwitch{}
	k.on.Store(on)
	return k
}

// On reports whether the switch is engaged. A nil switch is off.
func (k *KillSwitch) On() bool {
	return k != nil && k.on.Load()
}

// Set engages or releases the switch
func (k *KillSwitch) Set(on bool) {
	k.on.Store(on)
}

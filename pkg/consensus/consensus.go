// Package consensus decides whether a record config may mutate DNS when
// several configs track the same scaling group.
package consensus

import "github.com/flocksync/flocksync/pkg/types"

// Proceed evaluates the consensus rule for one config. self is that config's
// own operational status; siblings are the statuses of every config on the
// same group, self included.
//
// ALL_OPERATIONAL proceeds iff every sibling is ready. SELF_OPERATIONAL only
// inspects self. MAJORITY_OPERATIONAL proceeds when ready/total >= 0.5; the
// threshold is inclusive, so an even split proceeds. A group with a single
// config proceeds under any mode once that config itself is ready.
func Proceed(mode types.ConsensusMode, self types.OperationalStatus, siblings []types.OperationalStatus) bool {
	switch mode {
	case types.ConsensusSelf:
		return self == types.StatusReady
	case types.ConsensusAll:
		if len(siblings) == 0 {
			return self == types.StatusReady
		}
		for _, s := range siblings {
			if s != types.StatusReady {
				return false
			}
		}
		return true
	case types.ConsensusMajority:
		if len(siblings) == 0 {
			return self == types.StatusReady
		}
		ready := 0
		for _, s := range siblings {
			if s == types.StatusReady {
				ready++
			}
		}
		return ready*2 >= len(siblings)
	}
	return false
}

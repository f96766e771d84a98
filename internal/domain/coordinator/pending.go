package coordinator

import "github.com/autodrive/autodrive/internal/domain/decision"

// PendingDecision is a decision emitted to the UI but not yet
// acknowledged. Exactly one may be outstanding at a time;
// the coordinator enforces this by refusing to emit a second decision
// until AckDecision(Seq) clears this slot.
type PendingDecision struct {
	Seq      uint64
	Decision *decision.CoordinatorDecision
}

// nextSeq advances the monotonic decision sequence counter. It wraps
// only on arithmetic overflow; Go's
// uint64 addition already wraps that way, so this is just the
// increment with no special-casing needed.
func nextSeq(current uint64) uint64 {
	return current + 1
}

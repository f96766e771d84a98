package compaction

import "github.com/autodrive/autodrive/internal/domain/history"

// ApplyCompaction rebuilds history around the summarized slice:
//
//	new_history = initial_context ++ [prev_summary_bridge?] ++ [new_summary_bridge] ++ tail_after_slice
//
// then ensure_goal_is_present reinserts the original goal message if the
// rebuild dropped it.
func ApplyCompaction(h history.History, bounds Bounds, prevSummaryBridge *history.ResponseItem, newSummaryBridge history.ResponseItem) history.History {
	goal, hasGoal := h.GoalAnchor()
	goalIdx := h.GoalAnchorIndex()

	out := make(history.History, 0, len(h))
	out = append(out, h[:bounds.Start]...)
	if prevSummaryBridge != nil {
		out = append(out, *prevSummaryBridge)
	}
	out = append(out, newSummaryBridge)
	out = append(out, h[bounds.End:]...)

	out = out.PruneOrphanOutputs()

	if hasGoal {
		out = ensureGoalAtIndex(out, goal, goalIdx)
	}
	return out
}

// ensureGoalAtIndex reinserts goal at min(originalIdx, len(h)) if no
// equivalent user message survived the rebuild, and is a no-op (hence
// idempotent) when the goal is present.
func ensureGoalAtIndex(h history.History, goal history.ResponseItem, originalIdx int) history.History {
	for _, item := range h {
		if item.IsUserMessage() && item.TextContent() == goal.TextContent() {
			return h
		}
	}
	at := originalIdx
	if at > len(h) {
		at = len(h)
	}
	if at < 0 {
		at = 0
	}
	out := make(history.History, 0, len(h)+1)
	out = append(out, h[:at]...)
	out = append(out, goal)
	out = append(out, h[at:]...)
	return out
}

// EnsureGoalIsPresent is the standalone entry point used outside a full
// compaction rebuild (e.g. after a remote-overflow retry drops the
// oldest item). Applying it twice is equivalent to applying it once.
func EnsureGoalIsPresent(h history.History, goal history.ResponseItem, originalIdx int) history.History {
	return ensureGoalAtIndex(h, goal, originalIdx)
}

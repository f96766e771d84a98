package history

// History is an ordered conversation transcript. It is the unit the
// coordinator hands to the model client each turn and the unit the
// compaction engine rewrites.
type History []ResponseItem

// Clone returns an independent copy of the history.
func (h History) Clone() History {
	out := make(History, len(h))
	copy(out, h)
	return out
}

// GoalAnchorIndex returns the index of the first user message, which the
// compaction engine must never drop: it anchors what the whole run is for.
// Returns -1 if the history has no user message.
func (h History) GoalAnchorIndex() int {
	for i, item := range h {
		if item.IsUserMessage() {
			return i
		}
	}
	return -1
}

// GoalAnchor returns the first user message item, if any.
func (h History) GoalAnchor() (ResponseItem, bool) {
	i := h.GoalAnchorIndex()
	if i < 0 {
		return ResponseItem{}, false
	}
	return h[i], true
}

// PendingCallIDs returns the set of call_ids introduced by *Call items that
// have no matching *Output item yet, in encounter order.
func (h History) PendingCallIDs() []string {
	open := map[string]bool{}
	var order []string
	for _, item := range h {
		switch {
		case item.IsCall():
			if item.CallID == "" {
				continue
			}
			if !open[item.CallID] {
				order = append(order, item.CallID)
			}
			open[item.CallID] = true
		case item.IsOutput():
			delete(open, item.CallID)
		}
	}
	var out []string
	for _, id := range order {
		if open[id] {
			out = append(out, id)
		}
	}
	return out
}

// PruneOrphanOutputs removes any *Output item whose call_id has no
// preceding matching *Call item in the slice, the condition that arises
// when a compaction slice boundary falls between a call and its output.
func (h History) PruneOrphanOutputs() History {
	seenCalls := map[string]bool{}
	out := make(History, 0, len(h))
	for _, item := range h {
		if item.IsCall() && item.CallID != "" {
			seenCalls[item.CallID] = true
		}
		if item.IsOutput() && !seenCalls[item.CallID] {
			continue
		}
		out = append(out, item)
	}
	return out
}

// TruncateDanglingCalls removes every *Call item, wherever it sits in the
// slice, that never received a matching *Output, the mirror image of
// PruneOrphanOutputs, applied when a slice boundary falls just after a
// call and before its output arrives.
func (h History) TruncateDanglingCalls() History {
	pending := map[string]bool{}
	for _, id := range h.PendingCallIDs() {
		pending[id] = true
	}
	if len(pending) == 0 {
		return h
	}
	out := make(History, 0, len(h))
	for _, item := range h {
		if item.IsCall() && pending[item.CallID] {
			continue
		}
		out = append(out, item)
	}
	return out
}

// EnsureGoalPresent idempotently prepends the goal message to a rewritten
// history slice if compaction dropped it. Safe to call on a slice that
// already contains the goal; it will not duplicate it.
func (h History) EnsureGoalPresent(goal ResponseItem) History {
	for _, item := range h {
		if item.IsUserMessage() && item.TextContent() == goal.TextContent() {
			return h
		}
	}
	out := make(History, 0, len(h)+1)
	out = append(out, goal)
	out = append(out, h...)
	return out
}

// StripPopularCommands removes the legacy HUD artifact from user messages
// before the history is handed to the model.
func (h History) StripPopularCommands() History {
	out := make(History, 0, len(h))
	for _, item := range h {
		if item.ContainsPopularCommands() {
			continue
		}
		out = append(out, item)
	}
	return out
}

// ValidatePairing reports the first call_id whose *Output item precedes,
// or never follows, its *Call item; used by tests to assert the pairing
// invariant holds after every mutation.
func (h History) ValidatePairing() (violatingCallID string, ok bool) {
	seenCalls := map[string]bool{}
	for _, item := range h {
		if item.IsCall() && item.CallID != "" {
			seenCalls[item.CallID] = true
		}
		if item.IsOutput() && !seenCalls[item.CallID] {
			return item.CallID, false
		}
	}
	return "", true
}

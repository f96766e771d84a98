package compaction

import "github.com/autodrive/autodrive/internal/domain/history"

// Bounds is a half-open [Start, End) range of history indices selected
// for replacement by a summary.
type Bounds struct {
	Start, End int
}

// Empty reports whether the bounds select nothing.
func (b Bounds) Empty() bool { return b.Start >= b.End }

// ComputeSliceBounds picks where to slice: locate the goal anchor, find the midpoint item among items after
// the goal by cumulative token weight, then extend forward to the next
// user-message boundary so tool-call/tool-output pairs stay whole.
func ComputeSliceBounds(h history.History) (Bounds, bool) {
	goalIdx := h.GoalAnchorIndex()
	if goalIdx < 0 {
		return Bounds{}, false
	}
	start := goalIdx + 1
	if start >= len(h) {
		return Bounds{}, false
	}

	total := 0
	for _, item := range h[start:] {
		total += EstimateTokens(item)
	}
	if total == 0 {
		return Bounds{}, false
	}

	half := float64(total) / 2
	cumulative := 0
	midpointIdx := start
	for i := start; i < len(h); i++ {
		cumulative += EstimateTokens(h[i])
		midpointIdx = i
		if float64(cumulative) >= half {
			break
		}
	}

	end := len(h)
	for i := midpointIdx + 1; i < len(h); i++ {
		if h[i].IsUserMessage() {
			end = i
			break
		}
	}

	bounds := Bounds{Start: start, End: end}
	if bounds.Empty() {
		return Bounds{}, false
	}
	return bounds, true
}

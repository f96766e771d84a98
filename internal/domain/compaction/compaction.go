// Package compaction decides when a conversation history must be
// shrunk, where to slice it, and rebuilds a valid history from a
// remote or deterministic summary.
package compaction

import "github.com/autodrive/autodrive/internal/domain/history"

// AutoCompactRatio is the fraction of a model's effective token budget
// that triggers compaction. The exact value is not load-bearing; keep
// it a single constant so production and tests tune together.
const AutoCompactRatio = 0.8

// MessageLimitFallback is the message-count trigger used for unknown
// models that have never recorded real token telemetry.
const MessageLimitFallback = 120

// MaxCompactionSnippets bounds how many recent role/text snippets the
// deterministic bridge message carries forward.
const MaxCompactionSnippets = 12

// CompactUserMessageMaxTokens budgets the bridge message's snippet
// section; snippets are trimmed to roughly 4 bytes/token of this budget.
const CompactUserMessageMaxTokens = 1500

// MaxTranscriptBytes bounds one streaming-summarizer chunk.
const MaxTranscriptBytes = 32_000

// ModelBudget carries the per-model token limits ShouldCompact needs.
type ModelBudget struct {
	AutoCompactTokenLimit int
	ContextWindow         int
}

// effective returns min(AutoCompactTokenLimit, ContextWindow); zero means
// "unknown".
func (b ModelBudget) effective() int {
	if b.AutoCompactTokenLimit <= 0 {
		return b.ContextWindow
	}
	if b.ContextWindow <= 0 {
		return b.AutoCompactTokenLimit
	}
	if b.AutoCompactTokenLimit < b.ContextWindow {
		return b.AutoCompactTokenLimit
	}
	return b.ContextWindow
}

// ShouldCompact is the decide-when rule: for a known model, trigger when transcriptTokens+nextPromptTokens reaches
// AutoCompactRatio*budget. For an unknown model (budget==0) with no
// recorded turns, fall back to a message-count threshold; once any real
// token telemetry exists (hasTurns), the fallback is disabled.
func ShouldCompact(budget ModelBudget, transcriptTokens, nextPromptTokens, messageCount int, hasTurns bool) bool {
	eff := budget.effective()
	if eff > 0 {
		return float64(transcriptTokens+nextPromptTokens) >= AutoCompactRatio*float64(eff)
	}
	if hasTurns {
		return false
	}
	return messageCount >= MessageLimitFallback
}

// EstimateTokens is the shared heuristic (~3 chars/token) used to weigh
// history items for slicing.
func EstimateTokens(item history.ResponseItem) int {
	n := len(item.TextContent()) + len(item.Arguments) + len(item.Input) + len(item.Output)
	if n == 0 {
		n = len(item.Name) + 8
	}
	tokens := n / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// Package agentmgr implements the sub-agent execution manager: a
// id-keyed registry that spawns external CLIs (or the coordinator's
// own binary) in isolated git worktrees, streams progress, enforces
// read-only vs. write policies, and produces bounded output.
package agentmgr

import (
	"strings"
	"time"
)

// Status is an agent's lifecycle stage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status will never change again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ReasoningEffort is the opaque tag routed into the model request,
// clamped per model capability.
type ReasoningEffort string

const (
	EffortMinimal ReasoningEffort = "minimal"
	EffortLow     ReasoningEffort = "low"
	EffortMedium  ReasoningEffort = "medium"
	EffortHigh    ReasoningEffort = "high"
	EffortXHigh   ReasoningEffort = "xhigh"
)

// Family identifies which executable a model name maps to.
type Family string

const (
	FamilyCode   Family = "code"   // built-in
	FamilyCodex  Family = "codex"  // built-in
	FamilyCloud  Family = "cloud"  // built-in
	FamilyClaude Family = "claude" // external, requires PATH lookup
	FamilyGemini Family = "gemini" // external
	FamilyQwen   Family = "qwen"   // external
)

// FamilyForModel maps a model slug onto the executable family that can
// run it. Unrecognized slugs fall back to the built-in code family.
func FamilyForModel(model string) Family {
	slug := strings.ToLower(model)
	switch {
	case strings.Contains(slug, "claude"):
		return FamilyClaude
	case strings.Contains(slug, "gemini"):
		return FamilyGemini
	case strings.Contains(slug, "qwen"):
		return FamilyQwen
	case strings.Contains(slug, "cloud"):
		return FamilyCloud
	case strings.Contains(slug, "codex"):
		return FamilyCodex
	default:
		return FamilyCode
	}
}

func (f Family) builtin() bool {
	switch f {
	case FamilyCode, FamilyCodex, FamilyCloud:
		return true
	default:
		return false
	}
}

// Agent is one sub-agent run.
type Agent struct {
	ID             string
	BatchID        string
	Name           string
	Model          string
	Family         Family
	Prompt         string
	Context        string
	Files          []string
	ReadOnly       bool
	Status         Status
	Result         string
	Error          string
	Progress       []string
	WorktreePath   string
	BranchName     string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ReasoningEffort ReasoningEffort

	// RequestedWrite preserves the model's originally requested write
	// flag even when the write guard forced ReadOnly=true, so the UI can
	// still show intent.
	RequestedWrite bool
}

// AppendProgress records an HH:MM:SS-stamped progress line.
func (a *Agent) AppendProgress(line string) {
	a.Progress = append(a.Progress, time.Now().Format("15:04:05")+" "+line)
}

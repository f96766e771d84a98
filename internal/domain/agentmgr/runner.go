package agentmgr

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// WorktreeAllocator isolates a write-capable agent's changes into its
// own git worktree/branch (infrastructure/worktree.Manager satisfies
// this). Kept as an interface, the same way compaction.RemoteSummarizer
// stays decoupled from a concrete LLM client, so this domain package
// never imports the infrastructure layer directly.
//
// Allocation only: the worktree and branch are the durable, inspectable
// result of a write-capable agent, so nothing in the run path removes
// them. Cleanup is an explicit operator action (`autodrive clean`).
type WorktreeAllocator interface {
	Create(ctx context.Context, branch string) (path string, err error)
}

// BranchNamer builds a worktree branch name for a given model/suffix
// pair (infrastructure/worktree.BranchName satisfies this).
type BranchNamer func(model, suffix string) string

// processTimeout bounds a single sub-agent CLI invocation.
const processTimeout = 30 * time.Minute

// ProcessRunner implements Runner for the built-in "code"/"codex"
// families and the external "claude"/"gemini"/"qwen" families: it
// resolves the executable, builds family-appropriate args/env (via
// process.go's helpers), allocates a worktree for write-capable
// agents, streams stderr lines as progress, and returns the trimmed
// stdout as the result.
type ProcessRunner struct {
	SelfPath    string
	Worktrees   WorktreeAllocator
	BranchName  BranchNamer
	Logger      *zap.Logger
}

func NewProcessRunner(selfPath string, worktrees WorktreeAllocator, branchName BranchNamer, logger *zap.Logger) *ProcessRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessRunner{SelfPath: selfPath, Worktrees: worktrees, BranchName: branchName, Logger: logger}
}

func (r *ProcessRunner) Run(ctx context.Context, agent *Agent, progress func(string)) (string, error) {
	self, err := ResolveExecutable(agent.Family, r.SelfPath)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	workDir := ""
	if !agent.ReadOnly && r.Worktrees != nil && r.BranchName != nil {
		branch := r.BranchName(agent.Model, agent.ID)
		path, err := r.Worktrees.Create(ctx, branch)
		if err != nil {
			return "", fmt.Errorf("allocate worktree for agent %s: %w", agent.ID, err)
		}
		agent.WorktreePath = path
		agent.BranchName = branch
		workDir = path
	}

	args := BuildArgs(agent.Family, agent.Model, agent.ReasoningEffort, agent.Files)
	prompt := agent.Prompt
	if agent.Context != "" {
		prompt += "\n\nContext:\n" + agent.Context
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, self, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.Env = BuildEnv(os.Environ(), agent.Family, "")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("agent stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("agent stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start agent %s: %w", agent.Family, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		streamProgress(stderr, progress)
	}()

	out, readErr := readTruncated(stdout, maxCloudOutputBytes)
	<-done

	waitErr := cmd.Wait()
	if waitErr != nil {
		return "", fmt.Errorf("agent %s exited: %w", agent.Family, waitErr)
	}
	if readErr != nil && readErr != io.EOF {
		return "", fmt.Errorf("read agent output: %w", readErr)
	}

	return strings.TrimSpace(string(out)), nil
}

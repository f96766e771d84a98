// Package worktree isolates a write-capable sub-agent's changes into
// its own git worktree on a dedicated branch, so parallel agents never
// touch the shared working tree.
package worktree

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// maxSuffixLen bounds the branch name's task suffix.
const maxSuffixLen = 40

var nonBranchChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// SanitizeModel lowercases model and replaces any run of characters
// that are not valid in a git branch segment with a single hyphen.
func SanitizeModel(model string) string {
	lower := strings.ToLower(model)
	sanitized := nonBranchChars.ReplaceAllString(lower, "-")
	sanitized = strings.Trim(sanitized, "-")
	if sanitized == "" {
		sanitized = "model"
	}
	return sanitized
}

// BranchName builds the `code-{model_sanitized}-{suffix}` branch name,
// truncating suffix to maxSuffixLen.
func BranchName(model, suffix string) string {
	if len(suffix) > maxSuffixLen {
		suffix = suffix[:maxSuffixLen]
	}
	suffix = strings.Trim(nonBranchChars.ReplaceAllString(strings.ToLower(suffix), "-"), "-")
	return fmt.Sprintf("code-%s-%s", SanitizeModel(model), suffix)
}

// Manager creates and removes git worktrees rooted at a repository's
// top level.
type Manager struct {
	repoRoot string
	logger   *zap.Logger
}

func NewManager(repoRoot string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{repoRoot: repoRoot, logger: logger}
}

// IsGitRepo reports whether repoRoot is inside a git working tree,
// backing the coordinator's write-guard.
func IsGitRepo(ctx context.Context, repoRoot string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// Create adds a new worktree at `<repoRoot>/.autodrive/worktrees/<branch>`
// on a freshly created branch, returning its path.
func (m *Manager) Create(ctx context.Context, branch string) (string, error) {
	path := filepath.Join(m.repoRoot, ".autodrive", "worktrees", branch)

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, path)
	cmd.Dir = m.repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git worktree add %s: %w: %s", branch, err, strings.TrimSpace(string(out)))
	}
	m.logger.Info("worktree created", zap.String("branch", branch), zap.String("path", path))
	return path, nil
}

// Remove tears down a worktree previously created by Create, including
// its branch.
func (m *Manager) Remove(ctx context.Context, path, branch string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
	cmd.Dir = m.repoRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		m.logger.Warn("git worktree remove failed", zap.String("path", path), zap.Error(err), zap.ByteString("output", out))
	}

	cmd = exec.CommandContext(ctx, "git", "branch", "-D", branch)
	cmd.Dir = m.repoRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		m.logger.Warn("git branch -D failed", zap.String("branch", branch), zap.Error(err), zap.ByteString("output", out))
	}
	return nil
}

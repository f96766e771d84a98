package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// WorkspaceDirName is the directory name used for project-local overrides.
// Place .autodrive/ in a project root for project-specific settings.
const WorkspaceDirName = "." + AppName

// Bootstrap ensures ~/.autodrive exists with default content. Called once
// at startup; safe to call repeatedly since it never overwrites existing
// files.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()

	dirs := []string{
		root,
		filepath.Join(root, "worktrees"),
		filepath.Join(root, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	defaults := map[string]string{
		filepath.Join(root, "config.yaml"):        defaultConfig,
		filepath.Join(root, "instructions.md"):    defaultInstructions,
		filepath.Join(root, "agent_policies.yaml"): defaultAgentPolicies,
	}

	created := 0
	for path, content := range defaults {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			logger.Warn("failed to write default file", zap.String("path", path), zap.Error(err))
			continue
		}
		created++
	}

	if created > 0 {
		logger.Info("autodrive bootstrap complete", zap.String("home", root), zap.Int("files_created", created))
	} else {
		logger.Debug("autodrive home directory OK", zap.String("home", root))
	}
	return nil
}

const defaultConfig = `# Auto Drive configuration, auto-generated on first launch.
# Edit freely; project-local ./config.yaml overrides are merged on top.

server:
  host: 0.0.0.0
  port: 18790

telegram:
  bot_token: ""          # leave empty to disable the alert sink
  chat_id: 0

database:
  type: sqlite
  dsn: ~/.autodrive/autodrive.db

log:
  level: info
  format: console

model:
  default: ""            # e.g. "gpt-5-codex"
  reasoning_effort: medium
  context_window: 200000
  auto_compact_token_limit: 150000
  api_key: ""
  base_url: "https://api.openai.com/v1"

auth:
  preferred_mode: api_key

retry:
  base_wait: 500ms
  max_wait: 30s
  deadline: 168h

compaction:
  auto_compact_ratio: 0.8
  message_limit: 120
  max_snippets: 12
  user_message_tokens: 1500

agents:
  worktree_base: ~/.autodrive/worktrees
  default_family: general
  max_concurrent: 5

grpc_port: 50061
`

const defaultInstructions = `You are the Auto Drive coordinator. You do not write code or run
commands yourself; you plan each turn, decide whether to keep going,
and hand a single focused prompt to the worker CLI.

- Every decision must be valid JSON matching the documented schema.
- Never request a write-capable sub-agent unless the workspace is a
  git repository; the coordinator enforces this regardless of what
  you request, but asking for it needlessly wastes a turn.
- Keep prompt_sent_to_cli between 4 and 600 characters, specific
  enough that the worker does not need to ask a clarifying question.
- Stop (finish_status: "finish_success") as soon as the goal is verifiably met.
`

const defaultAgentPolicies = `# Per sub-agent-family overrides, hot-reloaded while the coordinator runs.
# Keys are matched against the requested agent family name.
#
# general:
#   reasoning_effort: medium
#   path_override: ""
`

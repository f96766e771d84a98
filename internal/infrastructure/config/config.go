package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the root Auto Drive configuration, loaded by Load().
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Model      ModelConfig      `mapstructure:"model"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Compaction CompactionConfig `mapstructure:"compaction"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	GRPCPort   int              `mapstructure:"grpc_port"`
}

// ServerConfig controls the gin/websocket UI surface (interfaces/ui).
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// TelegramConfig configures the optional BudgetAlert/InterventionRequired
// notification sink. Left with an empty BotToken, the sink is not wired.
type TelegramConfig struct {
	BotToken string  `mapstructure:"bot_token"`
	ChatID   int64   `mapstructure:"chat_id"`
	AllowIDs []int64 `mapstructure:"allow_ids"`
}

// DatabaseConfig backs the rollout catalog (gorm).
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig controls the zap logger factory.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// ModelConfig names the default model, reasoning effort and context
// budget the coordinator plans against.
type ModelConfig struct {
	Default               string `mapstructure:"default"`
	ReasoningEffort       string `mapstructure:"reasoning_effort"`
	PromptCacheKey        string `mapstructure:"prompt_cache_key"`
	ContextWindow         int    `mapstructure:"context_window"`
	AutoCompactTokenLimit int    `mapstructure:"auto_compact_token_limit"`
	APIKey                string `mapstructure:"api_key"`
	BaseURL               string `mapstructure:"base_url"`
	BetaHeader            string `mapstructure:"beta_header"`
}

// AuthConfig selects which credential AuthManager prefers when both an
// API key and stored OAuth tokens are present in ~/.autodrive/auth.json.
type AuthConfig struct {
	PreferredMode string `mapstructure:"preferred_mode"` // "api_key" | "chatgpt"
}

// RetryConfig mirrors retry.Config's tunables.
type RetryConfig struct {
	BaseWait time.Duration `mapstructure:"base_wait"`
	MaxWait  time.Duration `mapstructure:"max_wait"`
	Deadline time.Duration `mapstructure:"deadline"`
}

// CompactionConfig overrides compaction.Engine defaults.
type CompactionConfig struct {
	AutoCompactRatio  float64 `mapstructure:"auto_compact_ratio"`
	MessageLimit      int     `mapstructure:"message_limit"`
	MaxSnippets       int     `mapstructure:"max_snippets"`
	UserMessageTokens int     `mapstructure:"user_message_tokens"`
}

// AgentsConfig configures AgentManager's default worker invocation.
type AgentsConfig struct {
	WorktreeBase  string                       `mapstructure:"worktree_base"`
	DefaultFamily string                       `mapstructure:"default_family"`
	MaxConcurrent int                          `mapstructure:"max_concurrent"`
	Policies      map[string]AgentPolicyConfig `mapstructure:"policies"`
}

// AgentPolicyConfig is the per-family override PolicyWatcher hot-reloads
// from agent_policies.yaml.
type AgentPolicyConfig struct {
	ReasoningEffort string `mapstructure:"reasoning_effort" yaml:"reasoning_effort"`
	PathOverride    string `mapstructure:"path_override" yaml:"path_override"`
}

// AppName is the canonical application name used for the config home dir
// and the AUTODRIVE_ env prefix.
const AppName = "autodrive"

// HomeDir returns ~/.autodrive, the global config/state directory.
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Load reads the layered configuration: built-in defaults, then the global
// ~/.autodrive/config.yaml, then a project-local ./config.yaml (merged on
// top), then AUTODRIVE_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, dir := range []string{".", "./config"} {
		localPath := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(localPath); err != nil {
			continue
		}
		v2 := viper.New()
		v2.SetConfigFile(localPath)
		if err := v2.ReadInConfig(); err == nil {
			_ = v.MergeConfigMap(v2.AllSettings())
		}
		break
	}

	v.SetEnvPrefix("AUTODRIVE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 18790)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", filepath.Join(HomeDir(), "autodrive.db"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("model.context_window", 200000)
	v.SetDefault("model.auto_compact_token_limit", 150000)
	v.SetDefault("model.reasoning_effort", "medium")
	v.SetDefault("model.base_url", "https://api.openai.com/v1")
	v.SetDefault("model.beta_header", "")

	v.SetDefault("auth.preferred_mode", "api_key")

	v.SetDefault("retry.base_wait", "500ms")
	v.SetDefault("retry.max_wait", "30s")
	v.SetDefault("retry.deadline", "168h")

	v.SetDefault("compaction.auto_compact_ratio", 0.8)
	v.SetDefault("compaction.message_limit", 120)
	v.SetDefault("compaction.max_snippets", 12)
	v.SetDefault("compaction.user_message_tokens", 1500)

	v.SetDefault("agents.worktree_base", filepath.Join(HomeDir(), "worktrees"))
	v.SetDefault("agents.default_family", "general")
	v.SetDefault("agents.max_concurrent", 5)

	v.SetDefault("grpc_port", 50061)
}

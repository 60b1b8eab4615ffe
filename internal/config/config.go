// Package config handles configuration loading and management for Triad.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Triad.
type Config struct {
	Delegates map[string]DelegateConfig `mapstructure:"delegates"`
	Fallback  []string                  `mapstructure:"fallback"`
	Consensus ConsensusConfig           `mapstructure:"consensus"`
	Breaker   BreakerConfig             `mapstructure:"breaker"`
	Queue     QueueConfig               `mapstructure:"queue"`
	Mailbox   MailboxConfig             `mapstructure:"mailbox"`
	Budget    BudgetConfig              `mapstructure:"budget"`
	Invoker   InvokerConfig             `mapstructure:"invoker"`
	TUI       TUIConfig                 `mapstructure:"tui"`
	Anthropic AnthropicConfig           `mapstructure:"anthropic"`
}

// DelegateConfig describes one external delegate backend.
type DelegateConfig struct {
	// Command is the executable name of the delegate CLI.
	Command string `mapstructure:"command"`
	// Model is the model identifier passed to the CLI.
	Model string `mapstructure:"model"`
	// ReasoningEffort is the optional reasoning effort level (codex-style CLIs).
	ReasoningEffort string `mapstructure:"reasoning_effort"`
	// Sandbox is the write-permission mode passed to the CLI, if it takes one.
	Sandbox string `mapstructure:"sandbox"`
	// Timeout is the per-invocation timeout. Clamped to invoker.max_timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// Weight is the vote weight under the weighted consensus policy.
	Weight float64 `mapstructure:"weight"`
	// Budget holds the per-delegate spending policy.
	Budget DelegateBudget `mapstructure:"budget"`
	// UseAPI switches this delegate to the Anthropic API runner instead of
	// spawning the CLI. Only meaningful for Claude-family delegates.
	UseAPI bool `mapstructure:"use_api"`
}

// DelegateBudget holds the per-delegate budget allocation and reset policy.
type DelegateBudget struct {
	// DailyCost is the dollar allocation per period.
	DailyCost float64 `mapstructure:"daily_cost"`
	// DailyTokens is the token allocation per period.
	DailyTokens int64 `mapstructure:"daily_tokens"`
	// Window selects the reset discipline: "daily" (fixed midnight boundary)
	// or "rolling" (sliding window of RollingWindow length).
	Window string `mapstructure:"window"`
	// RollingWindow is the window length when Window is "rolling".
	RollingWindow time.Duration `mapstructure:"rolling_window"`
}

// ConsensusConfig holds consensus engine settings.
type ConsensusConfig struct {
	// Policy selects the voting policy: majority, weighted, or veto.
	Policy string `mapstructure:"policy"`
	// Quorum is the minimum number of non-abstaining votes.
	Quorum int `mapstructure:"quorum"`
	// Epsilon is the weighted-policy near-tie margin.
	Epsilon float64 `mapstructure:"epsilon"`
}

// BreakerConfig holds circuit breaker settings, shared by all delegates.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// Window is the failure-counting window.
	Window time.Duration `mapstructure:"window"`
	// CoolDown is how long the breaker stays open before probing.
	CoolDown time.Duration `mapstructure:"cool_down"`
}

// QueueConfig holds task queue settings.
type QueueConfig struct {
	// MaxRetries is the default requeue limit for new tasks.
	MaxRetries int `mapstructure:"max_retries"`
	// HeartbeatTimeout is the claim-staleness threshold for the requeue scan.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	// Retention is how long terminal tasks are kept before archiving.
	Retention time.Duration `mapstructure:"retention"`
}

// MailboxConfig holds worker/supervisor IPC settings.
type MailboxConfig struct {
	// HeartbeatInterval is the worker heartbeat cadence.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// DeadMultiple: a worker is considered dead when its heartbeat age
	// exceeds DeadMultiple * HeartbeatInterval.
	DeadMultiple int `mapstructure:"dead_multiple"`
	// PollInterval is the fallback polling cadence when fsnotify is unavailable.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// RequestTimeout is the default wait for a mailbox response.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// BudgetConfig holds global budget settings.
type BudgetConfig struct {
	// GlobalDailyCost is the dollar allocation across all delegates per day.
	GlobalDailyCost float64 `mapstructure:"global_daily_cost"`
	// WarnFraction is the allocation fraction at which checks return warn.
	WarnFraction float64 `mapstructure:"warn_fraction"`
	// BlockFraction is the allocation fraction at which checks return block.
	BlockFraction float64 `mapstructure:"block_fraction"`
}

// InvokerConfig holds delegate invoker limits.
type InvokerConfig struct {
	// MaxPromptBytes is the prompt size bound; larger prompts are rejected
	// before any process is spawned.
	MaxPromptBytes int `mapstructure:"max_prompt_bytes"`
	// MaxTimeout is the hard cap applied to caller-requested timeouts.
	MaxTimeout time.Duration `mapstructure:"max_timeout"`
	// TranscriptDir overrides the transcript location. Empty uses the state dir.
	TranscriptDir string `mapstructure:"transcript_dir"`
}

// TUIConfig holds status dashboard settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// AnthropicConfig holds Anthropic API settings for API-mode delegates.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	// UseAWSBedrock routes API-mode invocations through AWS Bedrock.
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
//  1. Environment variables (TRIAD_*, ANTHROPIC_API_KEY)
//  2. Project config (.triad.yaml in current directory or a parent)
//  3. User config (~/.config/triad/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("TRIAD")
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Delegate returns the configuration for the named delegate, applying
// defaults for unset fields.
func (c *Config) Delegate(name string) (DelegateConfig, bool) {
	dc, ok := c.Delegates[name]
	if !ok {
		return DelegateConfig{}, false
	}
	if dc.Command == "" {
		dc.Command = name
	}
	if dc.Timeout <= 0 {
		dc.Timeout = 2 * time.Minute
	}
	if dc.Weight <= 0 {
		dc.Weight = 1.0
	}
	if dc.Budget.Window == "" {
		dc.Budget.Window = "daily"
	}
	return dc, true
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// The tri-delegate default roster.
	v.SetDefault("delegates.claude.command", "claude")
	v.SetDefault("delegates.claude.timeout", "2m")
	v.SetDefault("delegates.claude.weight", 1.0)
	v.SetDefault("delegates.claude.budget.daily_cost", 20.0)
	v.SetDefault("delegates.codex.command", "codex")
	v.SetDefault("delegates.codex.model", "gpt-5.2-codex")
	v.SetDefault("delegates.codex.reasoning_effort", "xhigh")
	v.SetDefault("delegates.codex.sandbox", "workspace-write")
	v.SetDefault("delegates.codex.timeout", "2m")
	v.SetDefault("delegates.codex.weight", 1.0)
	v.SetDefault("delegates.codex.budget.daily_cost", 20.0)
	v.SetDefault("delegates.gemini.command", "gemini")
	v.SetDefault("delegates.gemini.model", "gemini-3-pro-preview")
	v.SetDefault("delegates.gemini.timeout", "2m")
	v.SetDefault("delegates.gemini.weight", 1.0)
	v.SetDefault("delegates.gemini.budget.daily_cost", 20.0)

	v.SetDefault("fallback", []string{"claude", "codex", "gemini"})

	v.SetDefault("consensus.policy", "majority")
	v.SetDefault("consensus.quorum", 2)
	v.SetDefault("consensus.epsilon", 0.001)

	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.window", "5m")
	v.SetDefault("breaker.cool_down", "1m")

	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.heartbeat_timeout", "2m")
	v.SetDefault("queue.retention", "168h")

	v.SetDefault("mailbox.heartbeat_interval", "15s")
	v.SetDefault("mailbox.dead_multiple", 4)
	v.SetDefault("mailbox.poll_interval", "250ms")
	v.SetDefault("mailbox.request_timeout", "30s")

	v.SetDefault("budget.global_daily_cost", 50.0)
	v.SetDefault("budget.warn_fraction", 0.70)
	v.SetDefault("budget.block_fraction", 0.95)

	v.SetDefault("invoker.max_prompt_bytes", 262144)
	v.SetDefault("invoker.max_timeout", "10m")

	v.SetDefault("tui.refresh_rate", "1s")

	v.SetDefault("anthropic.api_key", "")
}

// StateDir returns the durable state directory for queue, ledger, mailboxes,
// and transcripts. TRIAD_STATE_DIR overrides; defaults under XDG data home.
func StateDir() string {
	if dir := os.Getenv("TRIAD_STATE_DIR"); dir != "" {
		return dir
	}
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "triad")
}

// MailboxDir returns the root directory for agent mailboxes.
func MailboxDir() string {
	return filepath.Join(StateDir(), "mailboxes")
}

// getUserConfigDir returns the XDG config directory for Triad.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "triad")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "triad")
	}
	return filepath.Join(home, ".config", "triad")
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// findProjectConfig searches for .triad.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	dir := cwd
	for {
		candidate := filepath.Join(dir, ".triad.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnv expands ${VAR} references in a config value.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

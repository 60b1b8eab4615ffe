package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alderai/triad/internal/config"
)

var configYAML bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Display the configuration after defaults, the user config file,
project overrides, and environment variables are merged.

Configuration is stored at ~/.config/triad/config.yaml
Project-specific overrides can be placed in .triad.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if configYAML {
			return displayConfigYAML(cfg)
		}
		displayConfig(cfg)
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&configYAML, "yaml", false, "Emit the effective config as YAML")
}

func displayConfig(cfg *config.Config) {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	names := make([]string, 0, len(cfg.Delegates))
	for name := range cfg.Delegates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := cfg.Delegates[name]
		fmt.Printf("delegates.%s.command: %s\n", name, d.Command)
		if d.Model != "" {
			fmt.Printf("delegates.%s.model: %s\n", name, d.Model)
		}
		fmt.Printf("delegates.%s.timeout: %s\n", name, d.Timeout)
		fmt.Printf("delegates.%s.weight: %g\n", name, d.Weight)
		fmt.Printf("delegates.%s.budget.daily_cost: %g\n", name, d.Budget.DailyCost)
	}
	fmt.Printf("fallback: %v\n", cfg.Fallback)
	fmt.Printf("consensus.policy: %s\n", cfg.Consensus.Policy)
	fmt.Printf("consensus.quorum: %d\n", cfg.Consensus.Quorum)
	fmt.Printf("breaker.failure_threshold: %d\n", cfg.Breaker.FailureThreshold)
	fmt.Printf("breaker.window: %s\n", cfg.Breaker.Window)
	fmt.Printf("breaker.cool_down: %s\n", cfg.Breaker.CoolDown)
	fmt.Printf("queue.max_retries: %d\n", cfg.Queue.MaxRetries)
	fmt.Printf("queue.heartbeat_timeout: %s\n", cfg.Queue.HeartbeatTimeout)
	fmt.Printf("budget.global_daily_cost: %g\n", cfg.Budget.GlobalDailyCost)
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("state_dir: %s\n", config.StateDir())
}

func displayConfigYAML(cfg *config.Config) error {
	// Never echo the key, even masked, into something likely to be piped
	// into a file.
	redacted := *cfg
	redacted.Anthropic.APIKey = ""

	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = os.Stdout.Write(data)
	return err
}

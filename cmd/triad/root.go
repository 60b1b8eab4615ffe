package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// CheckDelegateCLI verifies that a delegate's CLI is available in PATH.
func CheckDelegateCLI(command string) error {
	_, err := exec.LookPath(command)
	if err != nil {
		return fmt.Errorf("%s CLI not found in PATH\n\n"+
			"Triad drives delegate CLIs as subprocesses. Install the missing\n"+
			"CLI or remove it from the fallback chain in your config.", command)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "triad",
	Short: "Delegate Orchestration & Consensus",
	Long: `Triad routes tasks to AI delegate CLIs (claude, codex, gemini),
verifies their work through consensus voting, and keeps everything
durable in a local SQLite queue.

With no arguments, launches the status dashboard.

Core capabilities:
- Durable task queue with atomic claims and retry accounting
- Fallback routing with per-delegate circuit breakers
- Consensus verification: majority, weighted, or veto voting
- Cost and token budgets with daily or rolling windows
- File-mailbox IPC between workers and the supervisor`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDashboard()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(voteCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

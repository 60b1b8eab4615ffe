package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alderai/triad/internal/budget"
	"github.com/alderai/triad/internal/config"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show spend against configured budgets",
	Long: `Display cost and token consumption per delegate and globally.

Spending past the warning fraction is highlighted; past the block
fraction, invocations of that delegate are refused until the window
resets. The global budget overrides per-delegate headroom.`,
	RunE: runBudget,
}

func runBudget(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	snap, err := buildEnforcer(db, cfg).Snapshot()
	if err != nil {
		return err
	}

	printUsage := func(label string, u budget.Usage) {
		line := fmt.Sprintf("  %-10s $%.4f", label, u.Cost)
		if u.CostCap > 0 {
			line += fmt.Sprintf(" / $%.2f (%.0f%%)", u.CostCap, u.Fraction()*100)
		}
		line += fmt.Sprintf("  %d tokens", u.Tokens)
		if u.TokenCap > 0 {
			line += fmt.Sprintf(" / %d", u.TokenCap)
		}
		switch u.Level {
		case budget.LevelBlocked:
			line += "  " + color.RedString("BLOCKED")
		case budget.LevelWarn:
			line += "  " + color.YellowString("warn")
		}
		fmt.Println(line)
	}

	printUsage("global", snap.Global)
	fmt.Println()

	names := make([]string, 0, len(snap.Delegates))
	for name := range snap.Delegates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		printUsage(name, snap.Delegates[name])
	}
	return nil
}

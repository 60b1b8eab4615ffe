package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alderai/triad/internal/report"
)

var (
	reportWindow time.Duration
	reportFormat string
	reportOut    string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a session report",
	Long: `Summarize recent activity: queue counts, per-delegate outcomes
and spend, and consensus verdicts over a trailing window.

Formats: text (default), markdown, json, yaml.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().DurationVar(&reportWindow, "window", 24*time.Hour, "Trailing window to report on")
	reportCmd.Flags().StringVar(&reportFormat, "format", "text", "Output format: text, markdown, json, or yaml")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "Write to a file instead of stdout")
}

func runReport(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	r, err := report.NewGenerator(db).Generate(reportWindow)
	if err != nil {
		return err
	}
	out, err := r.Render(report.Format(reportFormat))
	if err != nil {
		return err
	}

	if reportOut != "" {
		if err := os.WriteFile(reportOut, []byte(out), 0644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("Report written to %s\n", reportOut)
		return nil
	}
	fmt.Print(out)
	return nil
}

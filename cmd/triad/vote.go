package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alderai/triad/pkg/models"
)

var voteCmd = &cobra.Command{
	Use:   "vote <task-id>",
	Short: "Show the voting record for a task",
	Long: `Show every consensus session recorded for a task, with the
individual delegate votes and the verdict each round produced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		task, err := db.GetTask(args[0])
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("task %s not found", args[0])
		}

		sessions, err := db.ListConsensusSessions(task.ID)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No consensus sessions for this task yet.")
			return nil
		}

		for i, s := range sessions {
			if i > 0 {
				fmt.Println()
			}
			fmt.Printf("Session %s  policy=%s implementer=%s  %s\n",
				s.ID[:8], s.Policy, s.Implementer, s.CreatedAt.Format(time.RFC3339))

			votes, err := db.ListVotes(s.ID)
			if err != nil {
				return err
			}
			for _, v := range votes {
				line := fmt.Sprintf("  %-10s %s (%.2f)", v.Agent, decisionBadge(v.Decision), v.Confidence)
				if v.Reasoning != "" {
					line += "  " + truncatePayload(v.Reasoning, 50)
				}
				fmt.Println(line)
			}

			if s.DecidedAt == nil {
				fmt.Println("  verdict: pending")
				continue
			}
			fmt.Printf("  verdict: %s (%d-%d, confidence %.2f)",
				verdictBadge(s.Decision), s.Approvals, s.Rejections, s.Confidence)
			if s.Reason != "" {
				fmt.Printf("  %s", s.Reason)
			}
			fmt.Println()
		}
		return nil
	},
}

func decisionBadge(d models.Decision) string {
	switch d {
	case models.DecisionApprove:
		return color.GreenString(string(d))
	case models.DecisionReject:
		return color.RedString(string(d))
	default:
		return color.New(color.Faint).Sprint(string(d))
	}
}

func verdictBadge(v models.VerdictDecision) string {
	switch v {
	case models.VerdictApprove:
		return color.GreenString(string(v))
	case models.VerdictReject:
		return color.RedString(string(v))
	case models.VerdictInconclusive:
		return color.YellowString(string(v))
	default:
		return color.New(color.Faint).Sprint(string(v))
	}
}

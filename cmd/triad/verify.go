package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alderai/triad/internal/config"
	"github.com/alderai/triad/internal/queue"
	"github.com/alderai/triad/pkg/models"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <task-id>",
	Short: "Run a consensus vote on a task awaiting verification",
	Long: `Put a task's implementation to a consensus vote.

The implementing delegate is excluded from its own review. The remaining
delegates each vote APPROVE, REJECT, or ABSTAIN; the configured policy
(majority, weighted, or veto) aggregates the votes into a verdict.

Approve completes the task, reject fails it, and an inconclusive vote
leaves it awaiting a manual decision.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	qm := queue.NewManager(db, cfg.Queue)
	task, err := qm.Get(args[0])
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", args[0])
	}
	if task.Status != models.TaskStatusReadyForVerify {
		return fmt.Errorf("task is %s, only ready_for_verify tasks can be verified", task.Status)
	}

	chain, err := buildChain(cfg)
	if err != nil {
		return err
	}
	enforcer := buildEnforcer(db, cfg)
	verifier, err := buildVerifier(chain, db, enforcer, cfg)
	if err != nil {
		return err
	}

	verdict, err := verifier.Verify(context.Background(), task)
	if err != nil {
		return fmt.Errorf("consensus round: %w", err)
	}
	if err := qm.Verdict(task.ID, verdict); err != nil {
		return err
	}

	switch verdict.Decision {
	case models.VerdictApprove:
		fmt.Printf("%s APPROVED (%d-%d, confidence %.2f)\n",
			color.GreenString("✓"), verdict.Approvals, verdict.Rejections, verdict.Confidence)
	case models.VerdictReject:
		fmt.Printf("%s REJECTED (%d-%d): %s\n",
			color.RedString("✗"), verdict.Approvals, verdict.Rejections, verdict.Reason)
	default:
		fmt.Printf("%s %s: %s\n", color.YellowString("⚠"), verdict.Decision, verdict.Reason)
	}
	return nil
}

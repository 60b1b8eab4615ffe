package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alderai/triad/internal/breaker"
	"github.com/alderai/triad/internal/config"
	"github.com/alderai/triad/internal/mailbox"
	"github.com/alderai/triad/internal/queue"
	"github.com/alderai/triad/internal/state"
	"github.com/alderai/triad/internal/status"
	"github.com/alderai/triad/internal/tui"
	"github.com/alderai/triad/internal/worker"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue, delegate, and worker health",
	Long: `Display a snapshot of the system.

Shows:
  - Task counts per queue status
  - Per-delegate breaker state, outcomes, and budget position
  - Worker mailbox liveness

Use --watch for the live dashboard.`,
	RunE: runStatusCmd,
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "Open the live dashboard instead of a one-shot snapshot")
}

func buildCollector() (*status.Collector, *state.DB, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := openStore()
	if err != nil {
		return nil, nil, nil, err
	}

	// Building the chain checks binaries via LookPath only at invoke time,
	// so a missing CLI does not block the status surface.
	var router *breaker.Router
	if chain, err := buildChain(cfg); err == nil {
		router = buildRouter(chain, buildEnforcer(db, cfg), cfg)
	}
	enforcer := buildEnforcer(db, cfg)

	mail, err := mailbox.New(config.MailboxDir(), worker.SupervisorAgent)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	c := status.NewCollector(db, router, enforcer, mail)
	c.HeartbeatInterval = cfg.Mailbox.HeartbeatInterval
	c.DeadMultiple = cfg.Mailbox.DeadMultiple
	return c, db, func() { db.Close() }, nil
}

func runDashboard() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	collector, db, cleanup, err := buildCollector()
	if err != nil {
		return err
	}
	defer cleanup()
	return tui.Run(collector, queue.NewManager(db, cfg.Queue), cfg.TUI.RefreshRate)
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	if statusWatch {
		return runDashboard()
	}

	collector, _, cleanup, err := buildCollector()
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := collector.Collect()
	if err != nil {
		return err
	}

	fmt.Printf("Queue: %d tasks\n", snap.Queue.Total)
	for taskStatus, count := range snap.Queue.ByStatus {
		fmt.Printf("  %-18s %d\n", statusColor(taskStatus), count)
	}

	fmt.Println("\nDelegates:")
	if len(snap.Delegates) == 0 {
		fmt.Println("  (no activity)")
	}
	for _, d := range snap.Delegates {
		badge := string(d.Breaker)
		switch d.Breaker {
		case breaker.StateOpen:
			badge = color.RedString(badge)
		case breaker.StateHalfOpen:
			badge = color.YellowString(badge)
		case breaker.StateClosed:
			badge = color.GreenString(badge)
		default:
			badge = "unrouted"
		}
		fmt.Printf("  %-8s [%s]", d.Name, badge)
		if d.Stats != nil {
			fmt.Printf("  calls %d ok %d fail %d timeout %d",
				d.Stats.Calls, d.Stats.Successes, d.Stats.Failures, d.Stats.Timeouts)
		}
		if d.Budget.CostCap > 0 {
			fmt.Printf("  $%.2f/$%.2f", d.Budget.Cost, d.Budget.CostCap)
		}
		fmt.Println()
	}

	if len(snap.Workers) > 0 {
		fmt.Println("\nWorkers:")
		for _, w := range snap.Workers {
			badge := color.GreenString("alive")
			if !w.Alive {
				badge = color.RedString("dead")
			}
			fmt.Printf("  %-12s [%s] %d pending\n", w.Agent, badge, w.Pending)
		}
	}
	return nil
}

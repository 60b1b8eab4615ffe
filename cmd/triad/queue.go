package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alderai/triad/internal/config"
	"github.com/alderai/triad/internal/queue"
	"github.com/alderai/triad/pkg/models"
)

var (
	queueAddPriority int
	queueAddCategory string
	queueAddTags     []string
	queueListStatus  string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the task queue",
}

var queueAddCmd = &cobra.Command{
	Use:   "add <task>",
	Short: "Enqueue a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qm, db, err := openQueue()
		if err != nil {
			return err
		}
		defer db.Close()

		task, err := qm.Enqueue(strings.Join(args, " "), models.Priority(queueAddPriority), queueAddCategory, queueAddTags...)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s (%s, %s)\n", color.GreenString("✓"), task.ID, task.Priority, task.Status)
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		qm, db, err := openQueue()
		if err != nil {
			return err
		}
		defer db.Close()

		var filter *models.TaskStatus
		if queueListStatus != "" {
			status := models.TaskStatus(queueListStatus)
			if !status.Valid() {
				return fmt.Errorf("unknown status %q", queueListStatus)
			}
			filter = &status
		}

		tasks, err := qm.List(filter)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, t := range tasks {
			fmt.Printf("  %s  %s %-16s retry %d/%d  %s\n",
				t.ID[:8], t.Priority, statusColor(t.Status), t.RetryCount, t.MaxRetries,
				truncatePayload(t.Payload, 60))
		}
		return nil
	},
}

var queueShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task with its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qm, db, err := openQueue()
		if err != nil {
			return err
		}
		defer db.Close()

		task, err := qm.Get(args[0])
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("task %s not found", args[0])
		}

		fmt.Printf("ID:        %s\n", task.ID)
		fmt.Printf("Status:    %s\n", statusColor(task.Status))
		fmt.Printf("Priority:  %s (boosted %d)\n", task.Priority, task.BoostCount)
		fmt.Printf("Retries:   %d/%d\n", task.RetryCount, task.MaxRetries)
		if len(task.Tags) > 0 {
			fmt.Printf("Tags:      %s\n", strings.Join(task.Tags, ", "))
		}
		if task.Owner != "" {
			fmt.Printf("Owner:     %s\n", task.Owner)
		}
		if task.Implementer != "" {
			fmt.Printf("Implementer: %s\n", task.Implementer)
		}
		if task.Error != "" {
			fmt.Printf("Error:     %s\n", color.RedString(task.Error))
		}
		fmt.Printf("Created:   %s\n", task.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Payload:   %s\n", task.Payload)

		history, err := qm.History(task.ID)
		if err != nil {
			return err
		}
		if len(history) > 0 {
			fmt.Println("\nHistory:")
			for _, h := range history {
				detail := h.Detail
				if detail != "" {
					detail = " — " + detail
				}
				fmt.Printf("  %s  %s -> %s by %s%s\n",
					h.CreatedAt.Format("15:04:05"), h.FromStatus, h.ToStatus, h.Actor, detail)
			}
		}
		return nil
	},
}

var queueNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the task the next claim would win",
	RunE: func(cmd *cobra.Command, args []string) error {
		qm, db, err := openQueue()
		if err != nil {
			return err
		}
		defer db.Close()

		task, err := qm.Peek()
		if err != nil {
			return err
		}
		if task == nil {
			fmt.Println("No pending tasks.")
			return nil
		}
		fmt.Printf("  %s  %s  waiting %s  %s\n",
			task.ID[:8], task.Priority, formatDuration(time.Since(task.CreatedAt)),
			truncatePayload(task.Payload, 60))
		return nil
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts and backlog age",
	RunE: func(cmd *cobra.Command, args []string) error {
		qm, db, err := openQueue()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := qm.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("Total: %d\n", stats.Total)
		for _, s := range []models.TaskStatus{
			models.TaskStatusPending, models.TaskStatusClaimed, models.TaskStatusInProgress,
			models.TaskStatusReadyForVerify, models.TaskStatusVerified, models.TaskStatusCompleted,
			models.TaskStatusFailed, models.TaskStatusCancelled, models.TaskStatusBlocked,
		} {
			if n := stats.ByStatus[s]; n > 0 {
				fmt.Printf("  %-18s %d\n", statusColor(s), n)
			}
		}
		fmt.Println("By priority:")
		for p := models.PriorityCritical; p <= models.PriorityLow; p++ {
			fmt.Printf("  %s  %d\n", p, stats.ByPriority[p])
		}
		if stats.Boosted > 0 {
			fmt.Printf("Boosted:        %d\n", stats.Boosted)
		}
		if stats.OldestPending != nil {
			fmt.Printf("Oldest pending: %s ago\n", formatDuration(time.Since(*stats.OldestPending)))
			fmt.Printf("Avg wait:       %s\n", formatDuration(stats.AvgPendingWait))
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Requeue a failed task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qm, db, err := openQueue()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := qm.Retry(args[0], "cli"); err != nil {
			return err
		}
		fmt.Printf("%s task %s requeued\n", color.GreenString("✓"), args[0])
		return nil
	},
}

var queuePriorityCmd = &cobra.Command{
	Use:   "priority <task-id> <0-3>",
	Short: "Change the priority of a pending task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("priority must be a number 0-3: %w", err)
		}

		qm, db, err := openQueue()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := qm.SetPriority(args[0], models.Priority(p), "cli"); err != nil {
			return err
		}
		fmt.Printf("%s task %s set to %s\n", color.GreenString("✓"), args[0], models.Priority(p))
		return nil
	},
}

var queueCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qm, db, err := openQueue()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := qm.Cancel(args[0], "cli", "cancelled from the command line"); err != nil {
			return err
		}
		fmt.Printf("%s task %s cancelled\n", color.GreenString("✓"), args[0])
		return nil
	},
}

func init() {
	queueAddCmd.Flags().IntVar(&queueAddPriority, "priority", int(models.PriorityMedium), "Priority (0 highest, 3 lowest)")
	queueAddCmd.Flags().StringVar(&queueAddCategory, "category", "", "Category label")
	queueAddCmd.Flags().StringSliceVar(&queueAddTags, "tag", nil, "Tag to attach (repeatable)")
	queueListCmd.Flags().StringVar(&queueListStatus, "status", "", "Filter by status")

	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueShowCmd)
	queueCmd.AddCommand(queueNextCmd)
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queuePriorityCmd)
	queueCmd.AddCommand(queueCancelCmd)
}

func openQueue() (*queue.Manager, interface{ Close() error }, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	return queue.NewManager(db, cfg.Queue), db, nil
}

func statusColor(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted, models.TaskStatusVerified:
		return color.GreenString(string(s))
	case models.TaskStatusFailed, models.TaskStatusBlocked:
		return color.RedString(string(s))
	case models.TaskStatusInProgress, models.TaskStatusClaimed, models.TaskStatusReadyForVerify:
		return color.CyanString(string(s))
	case models.TaskStatusCancelled:
		return color.New(color.Faint).Sprint(string(s))
	default:
		return string(s)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func truncatePayload(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alderai/triad/internal/budget"
	"github.com/alderai/triad/internal/config"
	"github.com/alderai/triad/internal/mailbox"
	"github.com/alderai/triad/internal/queue"
	"github.com/alderai/triad/internal/supervisor"
	"github.com/alderai/triad/internal/worker"
	"github.com/alderai/triad/pkg/models"
)

var (
	runWorkers  int
	runPriority int
	runCategory string
	runAttach   bool
	runDebugLog string
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run workers against the queue",
	Long: `Start worker and supervisor loops that drain the task queue.

With a task argument, the task is enqueued first. Workers claim tasks,
have the first healthy delegate implement them, then put the result to a
consensus vote among the remaining delegates. Inconclusive verdicts are
escalated to the supervisor mailbox instead of being silently defaulted.

Runs until interrupted. In-flight tasks are released back to the queue
on shutdown.`,
	RunE: runWorkerPool,
}

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 1, "Number of concurrent workers")
	runCmd.Flags().IntVar(&runPriority, "priority", int(models.PriorityMedium), "Priority for the enqueued task (0 highest)")
	runCmd.Flags().StringVar(&runCategory, "category", "", "Category label for the enqueued task")
	runCmd.Flags().BoolVar(&runAttach, "attach", false, "Only enqueue, do not start workers")
	runCmd.Flags().StringVar(&runDebugLog, "debug-log", "", "Write a debug log to this path")
}

func runWorkerPool(cmd *cobra.Command, args []string) error {
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

	if len(args) > 0 {
		task, err := qm.Enqueue(args[0], models.Priority(runPriority), runCategory)
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		fmt.Printf("%s task %s enqueued at %s\n", color.GreenString("✓"), task.ID, task.Priority)
		if runAttach {
			return nil
		}
	}

	if runDebugLog != "" {
		logger, err := worker.NewDebugLogger(runDebugLog)
		if err != nil {
			return err
		}
		defer logger.Close()
		worker.SetPackageLogger(logger)
		supervisor.SetPackageLogger(logger)
		budget.SetPackageLogger(logger)
	}

	chain, err := buildChain(cfg)
	if err != nil {
		return err
	}
	for _, name := range cfg.Fallback {
		if dcfg, ok := cfg.Delegates[name]; ok && !dcfg.UseAPI {
			if err := CheckDelegateCLI(dcfg.Command); err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", color.YellowString("⚠"), err)
			}
		}
	}

	enforcer := buildEnforcer(db, cfg)
	router := buildRouter(chain, enforcer, cfg)
	verifier, err := buildVerifier(chain, db, enforcer, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down, releasing claims...")
		cancel()
	}()

	mailRoot := config.MailboxDir()
	superMail, err := mailbox.New(mailRoot, worker.SupervisorAgent)
	if err != nil {
		return fmt.Errorf("create supervisor mailbox: %w", err)
	}

	sup := supervisor.New(supervisor.Options{
		HeartbeatTimeout: cfg.Queue.HeartbeatTimeout,
		Retention:        cfg.Queue.Retention,
		PollInterval:     cfg.Mailbox.PollInterval,
	}, db, superMail, func(esc *worker.Escalation) {
		fmt.Printf("%s task %s needs a decision: %s (%s)\n",
			color.YellowString("⚠"), esc.TaskID, esc.Verdict, esc.Reason)
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sup.Run(ctx)
	}()

	if runWorkers < 1 {
		runWorkers = 1
	}
	for i := 0; i < runWorkers; i++ {
		id := fmt.Sprintf("worker-%d", i+1)
		mail, err := mailbox.New(mailRoot, id)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("create %s mailbox: %w", id, err)
		}
		if err := mail.StartHeartbeat(ctx, cfg.Mailbox.HeartbeatInterval); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("start %s heartbeat: %w", id, err)
		}

		w := worker.New(worker.Options{
			ID:                id,
			HeartbeatInterval: cfg.Mailbox.HeartbeatInterval,
			PollInterval:      time.Second,
		}, qm, router, verifier, db, enforcer, mail)

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	fmt.Printf("%s %d worker(s) running. Ctrl+C to stop.\n", color.GreenString("✓"), runWorkers)
	wg.Wait()
	return nil
}

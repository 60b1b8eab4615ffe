package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/alderai/triad/internal/breaker"
	"github.com/alderai/triad/internal/consensus"
	"github.com/alderai/triad/internal/delegate"
	"github.com/alderai/triad/internal/mailbox"
	"github.com/alderai/triad/internal/queue"
	"github.com/alderai/triad/internal/state"
	"github.com/alderai/triad/pkg/models"
)

// SupervisorAgent is the mailbox address escalations are sent to.
const SupervisorAgent = "supervisor"

// Escalation is the mailbox payload sent when a verdict needs a human or
// supervisor decision.
type Escalation struct {
	TaskID  string                 `json:"task_id"`
	Verdict models.VerdictDecision `json:"verdict"`
	Reason  string                 `json:"reason"`
}

// Options configures a worker.
type Options struct {
	// ID names the worker for claims and heartbeats.
	ID string
	// PollInterval is how long to idle when the queue is empty.
	PollInterval time.Duration
	// HeartbeatInterval is how often the worker refreshes its claim.
	HeartbeatInterval time.Duration
}

// Worker executes tasks one at a time: it claims a task, has a delegate
// implement it, submits the result to consensus verification, and applies
// the verdict. One worker never runs two tasks concurrently; parallelism
// comes from running more workers.
type Worker struct {
	opts     Options
	queue    *queue.Manager
	router   *breaker.Router
	verifier *consensus.Verifier
	store    state.InvocationStore
	spender  consensus.Spender
	mail     *mailbox.Mailbox
}

// New creates a worker. Spender and mail may be nil.
func New(opts Options, q *queue.Manager, router *breaker.Router, verifier *consensus.Verifier, store state.InvocationStore, spender consensus.Spender, mail *mailbox.Mailbox) *Worker {
	if opts.ID == "" {
		opts.ID = fmt.Sprintf("worker-%d", time.Now().UnixNano()%100000)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	return &Worker{
		opts:     opts,
		queue:    q,
		router:   router,
		verifier: verifier,
		store:    store,
		spender:  spender,
		mail:     mail,
	}
}

// ID returns the worker's name.
func (w *Worker) ID() string {
	return w.opts.ID
}

// Run claims and processes tasks until the context ends. A task in flight
// when cancellation arrives is released back to the queue rather than
// abandoned mid-claim.
func (w *Worker) Run(ctx context.Context) error {
	debugLog("[%s] worker loop started", w.opts.ID)
	for {
		if err := ctx.Err(); err != nil {
			debugLog("[%s] worker loop stopped: %v", w.opts.ID, err)
			return err
		}

		task, err := w.queue.Claim(w.opts.ID)
		if err != nil {
			return err
		}
		if task == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.opts.PollInterval):
			}
			continue
		}

		if err := w.Process(ctx, task); err != nil {
			debugLog("[%s] task %s: %v", w.opts.ID, task.ID, err)
		}
	}
}

// RunOnce claims and processes at most one task. Returns the processed
// task, or nil when the queue was empty.
func (w *Worker) RunOnce(ctx context.Context) (*models.Task, error) {
	task, err := w.queue.Claim(w.opts.ID)
	if err != nil || task == nil {
		return nil, err
	}
	return task, w.Process(ctx, task)
}

// Process runs one claimed task to a verdict or a release.
func (w *Worker) Process(ctx context.Context, task *models.Task) error {
	debugLog("[%s] processing task %s (%s)", w.opts.ID, task.ID, task.Priority)

	if err := w.queue.Start(task.ID, w.opts.ID); err != nil {
		return err
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx, task.ID)

	env, attempts := w.router.Invoke(ctx, buildImplementPrompt(task), delegate.Options{})
	for _, attempt := range attempts {
		if w.spender != nil {
			if err := w.spender.Record(attempt); err != nil {
				return err
			}
		}
		if attempt.Delegate == "" {
			continue
		}
		if _, err := w.store.RecordInvocation(task.ID, delegate.RequestDigest(task.Payload), attempt); err != nil {
			return err
		}
	}

	if env.Status != models.StatusSuccess {
		// Cancellation releases the claim cleanly; other failures consume
		// a retry.
		if ctx.Err() != nil {
			_, err := w.queue.Release(task.ID, w.opts.ID, "worker shutting down")
			if err != nil {
				return err
			}
			return ctx.Err()
		}
		failed, err := w.queue.Release(task.ID, w.opts.ID, env.Reasoning)
		if err != nil {
			return err
		}
		if failed {
			debugLog("[%s] task %s failed permanently: %s", w.opts.ID, task.ID, env.Reasoning)
		}
		return nil
	}

	stopHeartbeat()
	if err := w.queue.MarkReady(task.ID, w.opts.ID, env.Delegate); err != nil {
		return err
	}
	task.Implementer = env.Delegate

	verdict, err := w.verifier.Verify(ctx, task)
	if err != nil {
		return err
	}
	debugLog("[%s] task %s verdict: %s (%s)", w.opts.ID, task.ID, verdict.Decision, verdict.Reason)

	if err := w.queue.Verdict(task.ID, verdict); err != nil {
		return err
	}
	if verdict.NeedsEscalation() {
		w.escalate(task.ID, verdict)
	}
	return nil
}

func (w *Worker) heartbeatLoop(ctx context.Context, taskID string) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.Heartbeat(taskID, w.opts.ID); err != nil {
				debugLog("[%s] heartbeat on %s failed: %v", w.opts.ID, taskID, err)
				return
			}
		}
	}
}

// escalate notifies the supervisor about a verdict that needs a decision.
// Escalation is best-effort: the verdict is already durable in the store.
func (w *Worker) escalate(taskID string, verdict *models.Verdict) {
	if w.mail == nil {
		return
	}
	_, err := w.mail.Send(SupervisorAgent, mailbox.KindEvent, "", Escalation{
		TaskID:  taskID,
		Verdict: verdict.Decision,
		Reason:  verdict.Reason,
	})
	if err != nil {
		debugLog("[%s] escalation for %s failed: %v", w.opts.ID, taskID, err)
	}
}

func buildImplementPrompt(task *models.Task) string {
	return fmt.Sprintf(`Complete the following task. When done, summarize what you did and state APPROVE if you are confident the work is complete and correct, or ABSTAIN if you could not finish.

Task:
%s`, task.Payload)
}

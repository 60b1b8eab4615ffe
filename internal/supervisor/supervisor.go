// Package supervisor runs the maintenance loop that keeps the queue
// healthy: it requeues tasks abandoned by dead workers, boosts aged
// tasks, archives old terminal tasks, prunes the spend ledger, consumes
// escalations from worker mailboxes, and answers task state queries from
// other agents.
package supervisor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alderai/triad/internal/mailbox"
	"github.com/alderai/triad/internal/worker"
	"github.com/alderai/triad/pkg/models"
)

// Store is the slice of the state layer the supervisor maintains.
type Store interface {
	GetTask(id string) (*models.Task, error)
	RequeueStale(cutoff time.Time) (requeued, failed []string, err error)
	BoostAged() (int, error)
	ArchiveTerminal(cutoff time.Time) (int, error)
	PruneLedger(cutoff time.Time) (int, error)
}

// TaskQuery asks the supervisor for the current state of a task,
// typically a dependency another worker is blocked on.
type TaskQuery struct {
	TaskID string `json:"task_id"`
}

// TaskState answers a TaskQuery.
type TaskState struct {
	TaskID string            `json:"task_id"`
	Found  bool              `json:"found"`
	Status models.TaskStatus `json:"status,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// EscalationFunc is called for each escalation the supervisor receives.
// The default handler only logs; embedders (the TUI, a future approval
// flow) install their own.
type EscalationFunc func(esc *worker.Escalation)

// Options configures the supervisor.
type Options struct {
	// MaintenanceInterval is the cadence of the maintenance sweep.
	MaintenanceInterval time.Duration
	// HeartbeatTimeout is how stale a claim's heartbeat may be before the
	// task is taken away from its worker.
	HeartbeatTimeout time.Duration
	// Retention is how long terminal tasks stay in the live table.
	Retention time.Duration
	// LedgerRetention is how long spend records are kept. The ledger must
	// outlive the longest budget window or budgets undercount.
	LedgerRetention time.Duration
	// PollInterval is the mailbox polling cadence when fsnotify is unavailable.
	PollInterval time.Duration
}

// Report summarizes one maintenance sweep.
type Report struct {
	Requeued     []string
	Failed       []string
	Boosted      int
	Archived     int
	LedgerPruned int
	DeadWorkers  []string
}

// Empty reports whether the sweep changed nothing.
func (r *Report) Empty() bool {
	return len(r.Requeued) == 0 && len(r.Failed) == 0 && r.Boosted == 0 &&
		r.Archived == 0 && r.LedgerPruned == 0 && len(r.DeadWorkers) == 0
}

// Supervisor owns queue maintenance and escalation intake.
type Supervisor struct {
	opts         Options
	store        Store
	mail         *mailbox.Mailbox
	onEscalation EscalationFunc
	now          func() time.Time
}

// New creates a supervisor. Mail and onEscalation may be nil; without a
// mailbox only the maintenance sweep runs.
func New(opts Options, store Store, mail *mailbox.Mailbox, onEscalation EscalationFunc) *Supervisor {
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = 30 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = 7 * 24 * time.Hour
	}
	if opts.LedgerRetention <= 0 {
		opts.LedgerRetention = 30 * 24 * time.Hour
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Supervisor{
		opts:         opts,
		store:        store,
		mail:         mail,
		onEscalation: onEscalation,
		now:          time.Now,
	}
}

// Run performs maintenance sweeps and consumes escalations until the
// context ends.
func (s *Supervisor) Run(ctx context.Context) error {
	debugLog("supervisor started (sweep every %s)", s.opts.MaintenanceInterval)

	if s.mail != nil {
		go s.consumeInbox(ctx)
	}

	ticker := time.NewTicker(s.opts.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := s.Sweep()
			if err != nil {
				debugLog("maintenance sweep failed: %v", err)
				continue
			}
			if !report.Empty() {
				debugLog("sweep: requeued=%d failed=%d boosted=%d archived=%d pruned=%d dead=%v",
					len(report.Requeued), len(report.Failed), report.Boosted,
					report.Archived, report.LedgerPruned, report.DeadWorkers)
			}
		}
	}
}

// Sweep runs one maintenance pass and reports what changed.
func (s *Supervisor) Sweep() (*Report, error) {
	now := s.now()
	report := &Report{}

	requeued, failed, err := s.store.RequeueStale(now.Add(-s.opts.HeartbeatTimeout))
	if err != nil {
		return nil, err
	}
	report.Requeued = requeued
	report.Failed = failed

	boosted, err := s.store.BoostAged()
	if err != nil {
		return nil, err
	}
	report.Boosted = boosted

	archived, err := s.store.ArchiveTerminal(now.Add(-s.opts.Retention))
	if err != nil {
		return nil, err
	}
	report.Archived = archived

	pruned, err := s.store.PruneLedger(now.Add(-s.opts.LedgerRetention))
	if err != nil {
		return nil, err
	}
	report.LedgerPruned = pruned

	if s.mail != nil {
		dead, err := s.deadWorkers()
		if err != nil {
			return nil, err
		}
		report.DeadWorkers = dead
	}

	return report, nil
}

// deadWorkers lists agents whose heartbeat file has gone stale. The stale
// claims themselves are handled by RequeueStale; this list is for the
// status surface.
func (s *Supervisor) deadWorkers() ([]string, error) {
	agents, err := s.mail.Agents()
	if err != nil {
		return nil, err
	}
	var dead []string
	for _, agent := range agents {
		if agent == s.mail.Agent() {
			continue
		}
		alive, err := s.mail.Alive(agent, s.opts.HeartbeatTimeout, 1)
		if err != nil {
			return nil, err
		}
		if !alive {
			dead = append(dead, agent)
		}
	}
	return dead, nil
}

// consumeInbox drains the supervisor mailbox: escalations fan out to the
// installed handler, task queries get answered in place.
func (s *Supervisor) consumeInbox(ctx context.Context) {
	for {
		msg, err := s.mail.ReceiveWait(ctx, s.opts.PollInterval)
		if err != nil {
			return
		}
		if msg == nil {
			continue
		}
		if msg.Kind == mailbox.KindRequest {
			s.answerQuery(msg)
			continue
		}
		var esc worker.Escalation
		if err := json.Unmarshal(msg.Payload, &esc); err != nil {
			debugLog("malformed escalation %s: %v", msg.ID, err)
			continue
		}
		debugLog("escalation for task %s: %s (%s)", esc.TaskID, esc.Verdict, esc.Reason)
		if s.onEscalation != nil {
			s.onEscalation(&esc)
		}
	}
}

// answerQuery responds to a task state request from another agent.
func (s *Supervisor) answerQuery(msg *mailbox.Message) {
	var query TaskQuery
	if err := json.Unmarshal(msg.Payload, &query); err != nil {
		debugLog("malformed query %s from %s: %v", msg.ID, msg.From, err)
		return
	}
	answer := TaskState{TaskID: query.TaskID}
	task, err := s.store.GetTask(query.TaskID)
	switch {
	case err != nil:
		answer.Error = err.Error()
	case task != nil:
		answer.Found = true
		answer.Status = task.Status
	}
	if _, err := s.mail.Respond(msg, answer); err != nil {
		debugLog("respond to %s failed: %v", msg.From, err)
	}
}

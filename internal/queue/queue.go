// Package queue wraps the durable task store with the operational rules of
// the triad queue: validation on enqueue, the claim/heartbeat protocol,
// and retry accounting on failure.
package queue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alderai/triad/internal/config"
	"github.com/alderai/triad/internal/state"
	"github.com/alderai/triad/pkg/models"
)

// ErrEmptyPayload is returned when an enqueued task carries no work.
var ErrEmptyPayload = errors.New("task payload is empty")

// Manager exposes queue operations over the task store.
type Manager struct {
	store state.TaskStore
	cfg   config.QueueConfig
}

// NewManager creates a queue manager.
func NewManager(store state.TaskStore, cfg config.QueueConfig) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Manager{store: store, cfg: cfg}
}

// Enqueue validates and inserts a new pending task.
func (m *Manager) Enqueue(payload string, priority models.Priority, category string, tags ...string) (*models.Task, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, ErrEmptyPayload
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("invalid priority %d", priority)
	}
	for _, tag := range tags {
		if strings.TrimSpace(tag) == "" || strings.Contains(tag, ",") {
			return nil, fmt.Errorf("invalid tag %q", tag)
		}
	}

	task := &models.Task{
		Payload:    payload,
		Priority:   priority,
		Category:   category,
		Tags:       tags,
		MaxRetries: m.cfg.MaxRetries,
	}
	if err := m.store.CreateTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

// Claim hands the best pending task to the worker, or nil when the queue
// is empty.
func (m *Manager) Claim(worker string) (*models.Task, error) {
	return m.store.Claim(worker)
}

// Start marks a claimed task as actively executing.
func (m *Manager) Start(taskID, worker string) error {
	return m.store.Transition(taskID, models.TaskStatusInProgress, worker, "")
}

// MarkReady moves an executing task to verification.
func (m *Manager) MarkReady(taskID, worker, implementer string) error {
	if err := m.store.Transition(taskID, models.TaskStatusReadyForVerify, worker, "implemented by "+implementer); err != nil {
		return err
	}
	return nil
}

// Heartbeat refreshes the worker's claim.
func (m *Manager) Heartbeat(taskID, worker string) error {
	return m.store.Heartbeat(taskID, worker)
}

// Release returns a task to the queue after a failed attempt, consuming a
// retry. Returns true when the task failed permanently instead.
func (m *Manager) Release(taskID, worker, reason string) (bool, error) {
	return m.store.Release(taskID, worker, reason)
}

// Verdict applies a consensus verdict to a task awaiting verification.
// Approval verifies and completes the task; rejection consumes nothing
// and fails it outright, since the work itself was judged wrong rather
// than the attempt unlucky. Abstain and inconclusive verdicts leave the
// task in place for escalation.
func (m *Manager) Verdict(taskID string, verdict *models.Verdict) error {
	switch verdict.Decision {
	case models.VerdictApprove:
		if err := m.store.Transition(taskID, models.TaskStatusVerified, "consensus", verdict.Reason); err != nil {
			return err
		}
		return m.store.Transition(taskID, models.TaskStatusCompleted, "consensus", "")
	case models.VerdictReject:
		return m.store.Transition(taskID, models.TaskStatusFailed, "consensus", verdict.Reason)
	default:
		// Escalation is the supervisor's call; the task stays put.
		return nil
	}
}

// Peek returns the task the next claim would win, without claiming it.
func (m *Manager) Peek() (*models.Task, error) {
	return m.store.Peek()
}

// Retry requeues a failed task with a fresh retry budget.
func (m *Manager) Retry(taskID, actor string) error {
	return m.store.Retry(taskID, actor)
}

// SetPriority changes the priority of a pending task.
func (m *Manager) SetPriority(taskID string, priority models.Priority, actor string) error {
	if !priority.Valid() {
		return fmt.Errorf("invalid priority %d", priority)
	}
	return m.store.SetPriority(taskID, priority, actor)
}

// Cancel cancels a task from any non-terminal state.
func (m *Manager) Cancel(taskID, actor, reason string) error {
	return m.store.Transition(taskID, models.TaskStatusCancelled, actor, reason)
}

// Get returns a task by ID, or nil when unknown.
func (m *Manager) Get(taskID string) (*models.Task, error) {
	return m.store.GetTask(taskID)
}

// List returns tasks, optionally filtered by status.
func (m *Manager) List(status *models.TaskStatus) ([]models.Task, error) {
	return m.store.ListTasks(status)
}

// Stats returns per-status queue counts.
func (m *Manager) Stats() (*state.TaskStats, error) {
	return m.store.Stats()
}

// History returns a task's audit trail.
func (m *Manager) History(taskID string) ([]state.HistoryEntry, error) {
	return m.store.History(taskID)
}

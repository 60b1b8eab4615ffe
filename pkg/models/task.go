package models

import "time"

// TaskStatus represents the current state of a task in the queue.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be claimed.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusClaimed indicates a worker has claimed the task but not started.
	TaskStatusClaimed TaskStatus = "claimed"
	// TaskStatusInProgress indicates a worker is actively executing the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusReadyForVerify indicates execution finished and the task awaits verification.
	TaskStatusReadyForVerify TaskStatus = "ready_for_verify"
	// TaskStatusVerified indicates the consensus verdict approved the task.
	TaskStatusVerified TaskStatus = "verified"
	// TaskStatusCompleted indicates the task reached its successful terminal state.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task exhausted retries or was rejected.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled by an external actor.
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusBlocked indicates the task is waiting on a dependency.
	TaskStatusBlocked TaskStatus = "blocked"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusClaimed, TaskStatusInProgress,
		TaskStatusReadyForVerify, TaskStatusVerified, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Active returns true if a worker currently owns the task.
// A task has a non-empty owner exactly when its status is active.
func (s TaskStatus) Active() bool {
	return s == TaskStatusClaimed || s == TaskStatusInProgress
}

// Priority represents a task priority level. Lower value means higher priority.
type Priority int

const (
	// PriorityCritical is P0 - handled before everything else.
	PriorityCritical Priority = 0
	// PriorityHigh is P1.
	PriorityHigh Priority = 1
	// PriorityMedium is P2, the default for new tasks.
	PriorityMedium Priority = 2
	// PriorityLow is P3.
	PriorityLow Priority = 3
)

// String returns the canonical P-level name for the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "P0-CRITICAL"
	case PriorityHigh:
		return "P1-HIGH"
	case PriorityMedium:
		return "P2-MEDIUM"
	case PriorityLow:
		return "P3-LOW"
	default:
		return "unknown"
	}
}

// Valid returns true if the priority is a known level.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// Task represents a unit of work moving through the queue.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Payload is the opaque work description handed to delegates.
	Payload string `json:"payload"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority is the scheduling priority (P0 highest).
	Priority Priority `json:"priority"`
	// OriginalPriority records the priority at creation, before age boosts.
	OriginalPriority Priority `json:"original_priority"`
	// BoostCount is the number of age-based priority boosts applied.
	BoostCount int `json:"boost_count,omitempty"`
	// Category groups similar tasks (security, backend, testing, ...).
	Category string `json:"category,omitempty"`
	// Tags are free-form labels attached at enqueue time.
	Tags []string `json:"tags,omitempty"`
	// Owner is the ID of the worker holding the claim, empty when unclaimed.
	Owner string `json:"owner,omitempty"`
	// ClaimedAt is when the current owner claimed the task.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	// HeartbeatAt is the owner's most recent liveness stamp.
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	// Implementer is the delegate that produced the work under verification.
	// It is excluded from voting on its own output.
	Implementer string `json:"implementer,omitempty"`
	// RetryCount is the number of times this task has been requeued.
	RetryCount int `json:"retry_count"`
	// MaxRetries is the requeue limit before the task fails permanently.
	MaxRetries int `json:"max_retries"`
	// CorrelationID links the task to IPC messages and invocation records.
	CorrelationID string `json:"correlation_id"`
	// Error contains the last failure reason if the task failed.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task was last modified.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CanTransition reports whether moving from the task's current status to
// next is allowed by the transition graph. Cancellation is allowed from any
// non-terminal state.
func (t *Task) CanTransition(next TaskStatus) bool {
	if t.Status.Terminal() {
		return false
	}
	if next == TaskStatusCancelled {
		return true
	}
	switch t.Status {
	case TaskStatusPending:
		return next == TaskStatusClaimed
	case TaskStatusClaimed:
		return next == TaskStatusInProgress || next == TaskStatusPending || next == TaskStatusBlocked
	case TaskStatusInProgress:
		return next == TaskStatusReadyForVerify || next == TaskStatusPending ||
			next == TaskStatusBlocked || next == TaskStatusFailed
	case TaskStatusReadyForVerify:
		return next == TaskStatusVerified || next == TaskStatusFailed
	case TaskStatusVerified:
		return next == TaskStatusCompleted
	case TaskStatusBlocked:
		return next == TaskStatusInProgress
	default:
		return false
	}
}

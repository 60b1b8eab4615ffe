package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alderai/triad/pkg/models"
)

var (
	// ErrTaskNotFound is returned when a task ID does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a status change violates the
	// transition graph.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotOwner is returned when a worker acts on a task it does not hold.
	ErrNotOwner = errors.New("task not owned by caller")
)

// Age thresholds for priority boosts. A pending task is raised one level
// each time it crosses a threshold, up to P0.
var boostThresholds = []time.Duration{
	4 * time.Hour,
	8 * time.Hour,
	24 * time.Hour,
}

const taskColumns = `id, payload, status, priority, original_priority, boost_count,
	category, tags, owner, implementer, claimed_at, heartbeat_at, retry_count,
	max_retries, correlation_id, error, created_at, updated_at, completed_at`

// CreateTask inserts a new pending task. Missing fields get defaults: a
// generated ID, P2 priority, and a max retry count of 3.
func (db *DB) CreateTask(t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	if !t.Priority.Valid() {
		t.Priority = models.PriorityMedium
	}
	t.OriginalPriority = t.Priority
	if t.MaxRetries <= 0 {
		t.MaxRetries = 3
	}
	if t.CorrelationID == "" {
		t.CorrelationID = uuid.New().String()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := db.Exec(`
		INSERT INTO tasks (id, payload, status, priority, original_priority, boost_count,
			category, tags, owner, implementer, claimed_at, heartbeat_at, retry_count,
			max_retries, correlation_id, error, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Payload, string(t.Status), int(t.Priority), int(t.OriginalPriority), t.BoostCount,
		t.Category, joinTags(t.Tags), t.Owner, t.Implementer, nullableTimeArg(t.ClaimedAt),
		nullableTimeArg(t.HeartbeatAt), t.RetryCount, t.MaxRetries, t.CorrelationID, t.Error,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), nullableTimeArg(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	return db.recordHistory(t.ID, "", t.Status, "queue", "created")
}

// GetTask retrieves a task by ID. Returns nil, nil when the ID is unknown.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Tags are stored as one comma-separated column; tag values therefore
// must not contain commas, which Enqueue enforces.
func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var status, tags string
	var priority, originalPriority int
	var claimedAt, heartbeatAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.Payload, &status, &priority, &originalPriority, &t.BoostCount,
		&t.Category, &tags, &t.Owner, &t.Implementer, &claimedAt, &heartbeatAt, &t.RetryCount,
		&t.MaxRetries, &t.CorrelationID, &t.Error, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.Status = models.TaskStatus(status)
	t.Tags = splitTags(tags)
	t.Priority = models.Priority(priority)
	t.OriginalPriority = models.Priority(originalPriority)
	t.ClaimedAt = parseNullableTime(claimedAt)
	t.HeartbeatAt = parseNullableTime(heartbeatAt)
	t.CompletedAt = parseNullableTime(completedAt)
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	return &t, nil
}

// Claim atomically assigns the best pending task to owner. The claim is a
// conditional update keyed on the pending status, so two workers racing for
// the same task can never both win; the loser moves on to the next
// candidate. Returns nil, nil when the queue has no pending work.
func (db *DB) Claim(owner string) (*models.Task, error) {
	now := time.Now()
	for attempt := 0; attempt < 5; attempt++ {
		row := db.QueryRow(`
			SELECT ` + taskColumns + ` FROM tasks
			WHERE status = 'pending'
			ORDER BY priority ASC, created_at ASC
			LIMIT 1
		`)
		t, err := scanTask(row)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select claim candidate: %w", err)
		}

		res, err := db.Exec(`
			UPDATE tasks
			SET status = 'claimed', owner = ?, claimed_at = ?, heartbeat_at = ?, updated_at = ?
			WHERE id = ? AND status = 'pending'
		`, owner, formatTime(now), formatTime(now), formatTime(now), t.ID)
		if err != nil {
			return nil, fmt.Errorf("claim task: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim task: %w", err)
		}
		if n == 0 {
			// Lost the race for this candidate; try the next one.
			continue
		}

		t.Status = models.TaskStatusClaimed
		t.Owner = owner
		t.ClaimedAt = &now
		t.HeartbeatAt = &now
		t.UpdatedAt = now
		if err := db.recordHistory(t.ID, models.TaskStatusPending, models.TaskStatusClaimed, owner, "claimed"); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, nil
}

// Transition moves a task to the next status, enforcing the transition
// graph. Ownership is cleared when the task leaves an active status, and
// the completion timestamp is set when it reaches a terminal one.
func (db *DB) Transition(id string, next models.TaskStatus, actor, detail string) error {
	t, err := db.GetTask(id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !t.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}

	now := time.Now()
	owner := t.Owner
	if !next.Active() {
		owner = ""
	}
	var completedAt any
	if next.Terminal() {
		completedAt = formatTime(now)
	} else {
		completedAt = nullableTimeArg(t.CompletedAt)
	}
	errText := t.Error
	if detail != "" && (next == models.TaskStatusFailed || next == models.TaskStatusBlocked) {
		errText = detail
	}

	res, err := db.Exec(`
		UPDATE tasks
		SET status = ?, owner = ?, error = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(next), owner, errText, formatTime(now), completedAt, id, string(t.Status))
	if err != nil {
		return fmt.Errorf("transition task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition task: %w", err)
	}
	if n == 0 {
		// Status moved underneath us; the caller's view was stale.
		return fmt.Errorf("%w: concurrent update on %s", ErrInvalidTransition, id)
	}

	return db.recordHistory(id, t.Status, next, actor, detail)
}

// Heartbeat refreshes the owner's liveness stamp on an active task.
func (db *DB) Heartbeat(id, owner string) error {
	now := time.Now()
	res, err := db.Exec(`
		UPDATE tasks SET heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND owner = ? AND status IN ('claimed', 'in_progress')
	`, formatTime(now), formatTime(now), id, owner)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s", ErrNotOwner, id)
	}
	return nil
}

// RequeueStale returns active tasks whose heartbeat is older than cutoff to
// the pending state, incrementing their retry count. Tasks that exhaust
// their retry budget fail instead. Each stale claim is released through a
// conditional update, so concurrent scans requeue a task at most once.
// Returns the IDs of requeued tasks and of tasks that failed permanently.
func (db *DB) RequeueStale(cutoff time.Time) (requeued, failed []string, err error) {
	rows, err := db.Query(`
		SELECT id, owner, status, retry_count, max_retries, heartbeat_at FROM tasks
		WHERE status IN ('claimed', 'in_progress') AND heartbeat_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return nil, nil, fmt.Errorf("scan stale tasks: %w", err)
	}

	type stale struct {
		id, owner, status string
		retries, max      int
		heartbeat         string
	}
	var candidates []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.id, &s.owner, &s.status, &s.retries, &s.max, &s.heartbeat); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan stale task: %w", err)
		}
		candidates = append(candidates, s)
	}
	rows.Close()

	now := time.Now()
	for _, s := range candidates {
		exhausted := s.retries+1 > s.max
		next := models.TaskStatusPending
		if exhausted {
			next = models.TaskStatusFailed
		}

		var completedAt any
		if exhausted {
			completedAt = formatTime(now)
		}
		res, err := db.Exec(`
			UPDATE tasks
			SET status = ?, owner = '', retry_count = retry_count + 1,
				claimed_at = NULL, heartbeat_at = NULL, updated_at = ?, completed_at = ?
			WHERE id = ? AND status = ? AND owner = ? AND heartbeat_at = ?
		`, string(next), formatTime(now), completedAt, s.id, s.status, s.owner, s.heartbeat)
		if err != nil {
			return requeued, failed, fmt.Errorf("requeue stale task: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return requeued, failed, fmt.Errorf("requeue stale task: %w", err)
		}
		if n == 0 {
			// The owner came back or another scan got here first.
			continue
		}

		detail := fmt.Sprintf("heartbeat stale, owner %s evicted", s.owner)
		if exhausted {
			detail = fmt.Sprintf("retries exhausted after eviction of %s", s.owner)
			failed = append(failed, s.id)
		} else {
			requeued = append(requeued, s.id)
		}
		if err := db.recordHistory(s.id, models.TaskStatus(s.status), next, "supervisor", detail); err != nil {
			return requeued, failed, err
		}
	}
	return requeued, failed, nil
}

// Release returns an active task to the queue after a failed execution
// attempt, consuming one retry. When the retry budget is exhausted the
// task fails permanently instead. Returns true if the task failed.
func (db *DB) Release(id, actor, reason string) (bool, error) {
	t, err := db.GetTask(id)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !t.Status.Active() {
		return false, fmt.Errorf("%w: release from %s", ErrInvalidTransition, t.Status)
	}

	exhausted := t.RetryCount+1 > t.MaxRetries
	next := models.TaskStatusPending
	if exhausted {
		next = models.TaskStatusFailed
	}
	var completedAt any
	if exhausted {
		completedAt = formatTime(time.Now())
	}

	now := time.Now()
	res, err := db.Exec(`
		UPDATE tasks
		SET status = ?, owner = '', retry_count = retry_count + 1, error = ?,
			claimed_at = NULL, heartbeat_at = NULL, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(next), reason, formatTime(now), completedAt, id, string(t.Status))
	if err != nil {
		return false, fmt.Errorf("release task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release task: %w", err)
	}
	if n == 0 {
		return false, fmt.Errorf("%w: concurrent update on %s", ErrInvalidTransition, id)
	}

	if err := db.recordHistory(id, t.Status, next, actor, reason); err != nil {
		return exhausted, err
	}
	return exhausted, nil
}

// BoostAged raises the priority of pending tasks that have waited past the
// age thresholds, one level per threshold crossed, never past P0. Returns
// the number of tasks boosted.
func (db *DB) BoostAged() (int, error) {
	rows, err := db.Query(`
		SELECT id, priority, boost_count, created_at FROM tasks
		WHERE status = 'pending' AND priority > 0
	`)
	if err != nil {
		return 0, fmt.Errorf("scan boost candidates: %w", err)
	}

	type candidate struct {
		id        string
		priority  int
		boosts    int
		createdAt string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.priority, &c.boosts, &c.createdAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan boost candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()

	now := time.Now()
	boosted := 0
	for _, c := range candidates {
		created, err := parseTime(c.createdAt)
		if err != nil {
			continue
		}
		deserved := 0
		age := now.Sub(created)
		for _, threshold := range boostThresholds {
			if age >= threshold {
				deserved++
			}
		}
		if deserved <= c.boosts {
			continue
		}

		levels := deserved - c.boosts
		newPriority := c.priority - levels
		if newPriority < int(models.PriorityCritical) {
			newPriority = int(models.PriorityCritical)
		}
		res, err := db.Exec(`
			UPDATE tasks SET priority = ?, boost_count = ?, updated_at = ?
			WHERE id = ? AND status = 'pending' AND boost_count = ?
		`, newPriority, deserved, formatTime(now), c.id, c.boosts)
		if err != nil {
			return boosted, fmt.Errorf("boost task: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			boosted++
		}
	}
	return boosted, nil
}

// ListTasks lists tasks, optionally filtered by status, highest priority
// first.
func (db *DB) ListTasks(status *models.TaskStatus) ([]models.Task, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`
			SELECT `+taskColumns+` FROM tasks
			WHERE status = ? ORDER BY priority ASC, created_at ASC
		`, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT ` + taskColumns + ` FROM tasks
			ORDER BY priority ASC, created_at ASC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

// TaskStats holds queue counts plus a few liveness indicators for the
// pending backlog.
type TaskStats struct {
	ByStatus       map[models.TaskStatus]int
	ByPriority     map[models.Priority]int
	Total          int
	Boosted        int
	OldestPending  *time.Time
	AvgPendingWait time.Duration
}

// Stats returns per-status and per-priority task counts along with the
// boosted count and the wait profile of the pending backlog.
func (db *DB) Stats() (*TaskStats, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := &TaskStats{
		ByStatus:   make(map[models.TaskStatus]int),
		ByPriority: make(map[models.Priority]int),
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan task stats: %w", err)
		}
		stats.ByStatus[models.TaskStatus(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}

	prows, err := db.Query(`SELECT priority, COUNT(*) FROM tasks GROUP BY priority`)
	if err != nil {
		return nil, fmt.Errorf("task stats by priority: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var priority, count int
		if err := prows.Scan(&priority, &count); err != nil {
			return nil, fmt.Errorf("scan priority stats: %w", err)
		}
		stats.ByPriority[models.Priority(priority)] = count
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("task stats by priority: %w", err)
	}

	boostedRow := db.QueryRow(`
		SELECT COUNT(*) FROM tasks WHERE status = 'pending' AND boost_count > 0
	`)
	if err := boostedRow.Scan(&stats.Boosted); err != nil {
		return nil, fmt.Errorf("boosted stats: %w", err)
	}

	crows, err := db.Query(`SELECT created_at FROM tasks WHERE status = 'pending'`)
	if err != nil {
		return nil, fmt.Errorf("pending stats: %w", err)
	}
	defer crows.Close()
	now := time.Now()
	var totalWait time.Duration
	var pending int
	for crows.Next() {
		var createdAt string
		if err := crows.Scan(&createdAt); err != nil {
			return nil, fmt.Errorf("scan pending stats: %w", err)
		}
		created, err := parseTime(createdAt)
		if err != nil {
			continue
		}
		pending++
		totalWait += now.Sub(created)
		if stats.OldestPending == nil || created.Before(*stats.OldestPending) {
			c := created
			stats.OldestPending = &c
		}
	}
	if err := crows.Err(); err != nil {
		return nil, fmt.Errorf("pending stats: %w", err)
	}
	if pending > 0 {
		stats.AvgPendingWait = totalWait / time.Duration(pending)
	}
	return stats, nil
}

// Peek returns the task Claim would hand out next, without claiming it.
// Returns nil, nil when the queue has no pending work.
func (db *DB) Peek() (*models.Task, error) {
	row := db.QueryRow(`
		SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'pending'
		ORDER BY priority ASC, created_at ASC
		LIMIT 1
	`)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek pending: %w", err)
	}
	return t, nil
}

// Retry puts a failed task back on the queue with a fresh retry budget.
// Only failed tasks can be retried; everything else is either still in
// flight or deliberately terminal.
func (db *DB) Retry(id, actor string) error {
	now := formatTime(time.Now())
	res, err := db.Exec(`
		UPDATE tasks
		SET status = 'pending', owner = '', implementer = '', claimed_at = NULL,
		    heartbeat_at = NULL, retry_count = 0, error = '', completed_at = NULL,
		    updated_at = ?
		WHERE id = ? AND status = 'failed'
	`, now, id)
	if err != nil {
		return fmt.Errorf("retry task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("retry task: %w", err)
	}
	if n == 0 {
		t, err := db.GetTask(id)
		if err != nil {
			return err
		}
		if t == nil {
			return ErrTaskNotFound
		}
		return fmt.Errorf("%w: cannot retry task in status %s", ErrInvalidTransition, t.Status)
	}
	return db.recordHistory(id, models.TaskStatusFailed, models.TaskStatusPending, actor, "manual retry")
}

// SetPriority overrides the priority of a pending task. The original
// priority is updated too so later aging boosts start from the new level.
func (db *DB) SetPriority(id string, priority models.Priority, actor string) error {
	if priority < models.PriorityCritical || priority > models.PriorityLow {
		return fmt.Errorf("invalid priority %d", int(priority))
	}
	res, err := db.Exec(`
		UPDATE tasks
		SET priority = ?, original_priority = ?, boost_count = 0, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, int(priority), int(priority), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set priority: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set priority: %w", err)
	}
	if n == 0 {
		t, err := db.GetTask(id)
		if err != nil {
			return err
		}
		if t == nil {
			return ErrTaskNotFound
		}
		return fmt.Errorf("%w: cannot reprioritize task in status %s", ErrInvalidTransition, t.Status)
	}
	return db.recordHistory(id, models.TaskStatusPending, models.TaskStatusPending, actor,
		fmt.Sprintf("priority set to P%d", int(priority)))
}

// HistoryEntry is one audit record of a task status change.
type HistoryEntry struct {
	TaskID     string
	FromStatus models.TaskStatus
	ToStatus   models.TaskStatus
	Actor      string
	Detail     string
	CreatedAt  time.Time
}

// History returns the audit trail for a task, oldest first.
func (db *DB) History(taskID string) ([]HistoryEntry, error) {
	rows, err := db.Query(`
		SELECT task_id, from_status, to_status, actor, detail, created_at
		FROM task_history WHERE task_id = ? ORDER BY id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("task history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var from, to, createdAt string
		if err := rows.Scan(&e.TaskID, &from, &to, &e.Actor, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.FromStatus = models.TaskStatus(from)
		e.ToStatus = models.TaskStatus(to)
		e.CreatedAt, _ = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, nil
}

// ArchiveTerminal moves terminal tasks completed before cutoff into the
// archive table. Returns the number of tasks archived.
func (db *DB) ArchiveTerminal(cutoff time.Time) (int, error) {
	archived := 0
	err := db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO archived_tasks (id, payload, status, priority,
				original_priority, boost_count, category, implementer, retry_count,
				correlation_id, error, created_at, completed_at, archived_at)
			SELECT id, payload, status, priority, original_priority, boost_count,
				category, implementer, retry_count, correlation_id, error,
				created_at, completed_at, ?
			FROM tasks
			WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?
		`, formatTime(time.Now()), formatTime(cutoff))
		if err != nil {
			return fmt.Errorf("archive tasks: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("archive tasks: %w", err)
		}
		archived = int(n)

		_, err = tx.Exec(`
			DELETE FROM tasks
			WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?
		`, formatTime(cutoff))
		if err != nil {
			return fmt.Errorf("prune archived tasks: %w", err)
		}
		return nil
	})
	return archived, err
}

func (db *DB) recordHistory(taskID string, from, to models.TaskStatus, actor, detail string) error {
	_, err := db.Exec(`
		INSERT INTO task_history (task_id, from_status, to_status, actor, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, taskID, string(from), string(to), actor, detail, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

package state

import (
	"fmt"
	"time"

	"github.com/alderai/triad/pkg/models"
)

// InterruptedTask describes a task found mid-flight on startup: claimed or
// in progress, but with a heartbeat old enough that its owner is presumed
// dead.
type InterruptedTask struct {
	TaskID        string
	Owner         string
	Status        models.TaskStatus
	LastHeartbeat time.Time
	RetryCount    int
}

// RecoveryManager detects and recovers tasks orphaned by a crashed run.
type RecoveryManager struct {
	db *DB
}

// NewRecoveryManager creates a RecoveryManager over the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db}
}

// CheckForInterrupted lists active tasks whose heartbeat predates cutoff.
// It only observes; Recover performs the requeue.
func (rm *RecoveryManager) CheckForInterrupted(cutoff time.Time) ([]InterruptedTask, error) {
	rows, err := rm.db.Query(`
		SELECT id, owner, status, heartbeat_at, retry_count FROM tasks
		WHERE status IN ('claimed', 'in_progress') AND heartbeat_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("scan interrupted tasks: %w", err)
	}
	defer rows.Close()

	var interrupted []InterruptedTask
	for rows.Next() {
		var it InterruptedTask
		var status, heartbeat string
		if err := rows.Scan(&it.TaskID, &it.Owner, &status, &heartbeat, &it.RetryCount); err != nil {
			return nil, fmt.Errorf("scan interrupted task: %w", err)
		}
		it.Status = models.TaskStatus(status)
		it.LastHeartbeat, _ = parseTime(heartbeat)
		interrupted = append(interrupted, it)
	}
	return interrupted, nil
}

// Recover requeues tasks whose heartbeat is older than staleAfter. It is
// safe to call while other triad processes share the database: a live
// owner refreshing its heartbeat is never evicted, and the underlying
// conditional updates keep a stale task from being requeued twice.
func (rm *RecoveryManager) Recover(staleAfter time.Duration) (requeued, failed []string, err error) {
	return rm.db.RequeueStale(time.Now().Add(-staleAfter))
}

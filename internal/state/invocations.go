package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alderai/triad/pkg/models"
)

// Invocation is one persisted delegate invocation record. The table is
// append-only; records are never updated after the fact.
type Invocation struct {
	ID           string
	TaskID       string
	Delegate     string
	Status       models.InvokeStatus
	Decision     models.Decision
	Confidence   float64
	Reasoning    string
	TraceID      string
	Duration     time.Duration
	Tokens       int64
	Cost         float64
	PromptDigest string
	CreatedAt    time.Time
}

// RecordInvocation persists a delegate envelope against a task.
func (db *DB) RecordInvocation(taskID, promptDigest string, env *models.Envelope) (*Invocation, error) {
	inv := &Invocation{
		ID:           uuid.New().String(),
		TaskID:       taskID,
		Delegate:     env.Delegate,
		Status:       env.Status,
		Decision:     env.Decision,
		Confidence:   env.Confidence,
		Reasoning:    env.Reasoning,
		TraceID:      env.TraceID,
		Duration:     env.Duration,
		Tokens:       env.Tokens,
		Cost:         env.Cost,
		PromptDigest: promptDigest,
		CreatedAt:    time.Now(),
	}

	_, err := db.Exec(`
		INSERT INTO invocations (id, task_id, delegate, status, decision, confidence,
			reasoning, trace_id, duration_ms, tokens, cost, prompt_digest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inv.ID, inv.TaskID, inv.Delegate, string(inv.Status), string(inv.Decision),
		inv.Confidence, inv.Reasoning, inv.TraceID, inv.Duration.Milliseconds(),
		inv.Tokens, inv.Cost, inv.PromptDigest, formatTime(inv.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("record invocation: %w", err)
	}
	return inv, nil
}

// ListInvocations returns the invocations for a task, oldest first.
func (db *DB) ListInvocations(taskID string) ([]Invocation, error) {
	rows, err := db.Query(`
		SELECT id, task_id, delegate, status, decision, confidence, reasoning,
			trace_id, duration_ms, tokens, cost, prompt_digest, created_at
		FROM invocations WHERE task_id = ? ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var invs []Invocation
	for rows.Next() {
		var inv Invocation
		var status, decision, createdAt string
		var durationMS int64
		if err := rows.Scan(&inv.ID, &inv.TaskID, &inv.Delegate, &status, &decision,
			&inv.Confidence, &inv.Reasoning, &inv.TraceID, &durationMS,
			&inv.Tokens, &inv.Cost, &inv.PromptDigest, &createdAt); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		inv.Status = models.InvokeStatus(status)
		inv.Decision = models.Decision(decision)
		inv.Duration = time.Duration(durationMS) * time.Millisecond
		inv.CreatedAt, _ = parseTime(createdAt)
		invs = append(invs, inv)
	}
	return invs, nil
}

// DelegateStats aggregates outcomes for one delegate.
type DelegateStats struct {
	Delegate  string
	Calls     int
	Successes int
	Failures  int
	Timeouts  int
	Tokens    int64
	Cost      float64
}

// InvocationStats returns per-delegate aggregate outcomes since the given time.
func (db *DB) InvocationStats(since time.Time) (map[string]*DelegateStats, error) {
	rows, err := db.Query(`
		SELECT delegate, status, COUNT(*), COALESCE(SUM(tokens), 0), COALESCE(SUM(cost), 0)
		FROM invocations WHERE created_at >= ?
		GROUP BY delegate, status
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("invocation stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]*DelegateStats)
	for rows.Next() {
		var delegate, status string
		var count int
		var tokens int64
		var cost float64
		if err := rows.Scan(&delegate, &status, &count, &tokens, &cost); err != nil {
			return nil, fmt.Errorf("scan invocation stats: %w", err)
		}
		s, ok := stats[delegate]
		if !ok {
			s = &DelegateStats{Delegate: delegate}
			stats[delegate] = s
		}
		s.Calls += count
		s.Tokens += tokens
		s.Cost += cost
		switch models.InvokeStatus(status) {
		case models.StatusSuccess:
			s.Successes += count
		case models.StatusTimeout:
			s.Timeouts += count
		default:
			s.Failures += count
		}
	}
	return stats, nil
}

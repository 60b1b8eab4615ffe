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

// ErrDuplicateVote is returned when an agent votes twice in one session.
var ErrDuplicateVote = errors.New("agent already voted in session")

// ConsensusSession is one persisted voting round over a task.
type ConsensusSession struct {
	ID            string
	TaskID        string
	Policy        string
	Implementer   string
	Decision      models.VerdictDecision
	Confidence    float64
	QuorumReached bool
	Approvals     int
	Rejections    int
	Reason        string
	CreatedAt     time.Time
	DecidedAt     *time.Time
}

// Vote is one agent's recorded vote in a session.
type Vote struct {
	SessionID  string
	Agent      string
	Decision   models.Decision
	Confidence float64
	Reasoning  string
	CreatedAt  time.Time
}

// CreateConsensusSession opens a voting round for a task.
func (db *DB) CreateConsensusSession(taskID, policy, implementer string) (*ConsensusSession, error) {
	s := &ConsensusSession{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		Policy:      policy,
		Implementer: implementer,
		CreatedAt:   time.Now(),
	}
	_, err := db.Exec(`
		INSERT INTO consensus_sessions (id, task_id, policy, implementer, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.TaskID, s.Policy, s.Implementer, formatTime(s.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("create consensus session: %w", err)
	}
	return s, nil
}

// RecordVote stores one agent's vote. The session/agent pair is unique, so
// a duplicate vote is rejected rather than silently overwritten.
func (db *DB) RecordVote(v *Vote) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO consensus_votes (session_id, agent, decision, confidence, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, v.SessionID, v.Agent, string(v.Decision), v.Confidence, v.Reasoning, formatTime(v.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: %s in %s", ErrDuplicateVote, v.Agent, v.SessionID)
		}
		return fmt.Errorf("record vote: %w", err)
	}
	return nil
}

// ListVotes returns the votes cast in a session, oldest first.
func (db *DB) ListVotes(sessionID string) ([]Vote, error) {
	rows, err := db.Query(`
		SELECT session_id, agent, decision, confidence, reasoning, created_at
		FROM consensus_votes WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var votes []Vote
	for rows.Next() {
		var v Vote
		var decision, createdAt string
		if err := rows.Scan(&v.SessionID, &v.Agent, &decision, &v.Confidence, &v.Reasoning, &createdAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.Decision = models.Decision(decision)
		v.CreatedAt, _ = parseTime(createdAt)
		votes = append(votes, v)
	}
	return votes, nil
}

// CloseConsensusSession records the verdict on an open session.
func (db *DB) CloseConsensusSession(sessionID string, verdict *models.Verdict) error {
	now := time.Now()
	quorum := 0
	if verdict.QuorumReached {
		quorum = 1
	}
	res, err := db.Exec(`
		UPDATE consensus_sessions
		SET decision = ?, confidence = ?, quorum_reached = ?, approvals = ?,
			rejections = ?, reason = ?, decided_at = ?
		WHERE id = ? AND decided_at IS NULL
	`, string(verdict.Decision), verdict.Confidence, quorum, verdict.Approvals,
		verdict.Rejections, verdict.Reason, formatTime(now), sessionID)
	if err != nil {
		return fmt.Errorf("close consensus session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close consensus session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("consensus session %s not open", sessionID)
	}
	return nil
}

// GetConsensusSession retrieves a session by ID. Returns nil, nil when the
// ID is unknown.
func (db *DB) GetConsensusSession(id string) (*ConsensusSession, error) {
	row := db.QueryRow(`
		SELECT id, task_id, policy, implementer, decision, confidence,
			quorum_reached, approvals, rejections, reason, created_at, decided_at
		FROM consensus_sessions WHERE id = ?
	`, id)
	s, err := scanConsensusSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get consensus session: %w", err)
	}
	return s, nil
}

// ListConsensusSessions returns the sessions for a task, oldest first.
func (db *DB) ListConsensusSessions(taskID string) ([]ConsensusSession, error) {
	rows, err := db.Query(`
		SELECT id, task_id, policy, implementer, decision, confidence,
			quorum_reached, approvals, rejections, reason, created_at, decided_at
		FROM consensus_sessions WHERE task_id = ? ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list consensus sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ConsensusSession
	for rows.Next() {
		s, err := scanConsensusSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consensus session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

// RecentConsensusSessions returns sessions created at or after the given
// time, oldest first.
func (db *DB) RecentConsensusSessions(since time.Time) ([]ConsensusSession, error) {
	rows, err := db.Query(`
		SELECT id, task_id, policy, implementer, decision, confidence,
			quorum_reached, approvals, rejections, reason, created_at, decided_at
		FROM consensus_sessions WHERE created_at >= ? ORDER BY created_at ASC
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("recent consensus sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ConsensusSession
	for rows.Next() {
		s, err := scanConsensusSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consensus session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

func scanConsensusSession(row rowScanner) (*ConsensusSession, error) {
	var s ConsensusSession
	var decision, createdAt string
	var quorum int
	var decidedAt sql.NullString
	err := row.Scan(&s.ID, &s.TaskID, &s.Policy, &s.Implementer, &decision,
		&s.Confidence, &quorum, &s.Approvals, &s.Rejections, &s.Reason,
		&createdAt, &decidedAt)
	if err != nil {
		return nil, err
	}
	s.Decision = models.VerdictDecision(decision)
	s.QuorumReached = quorum != 0
	s.CreatedAt, _ = parseTime(createdAt)
	s.DecidedAt = parseNullableTime(decidedAt)
	return &s, nil
}

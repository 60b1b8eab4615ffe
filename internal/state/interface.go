// Package state provides SQLite-based state management for triad.
package state

import (
	"io"
	"time"

	"github.com/alderai/triad/pkg/models"
)

// TaskStore handles queue persistence: task CRUD, the atomic claim, and
// the lifecycle transitions around it.
type TaskStore interface {
	CreateTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	Claim(owner string) (*models.Task, error)
	Peek() (*models.Task, error)
	Transition(id string, next models.TaskStatus, actor, detail string) error
	Retry(id, actor string) error
	SetPriority(id string, priority models.Priority, actor string) error
	Heartbeat(id, owner string) error
	Release(id, actor, reason string) (failed bool, err error)
	RequeueStale(cutoff time.Time) (requeued, failed []string, err error)
	BoostAged() (int, error)
	ListTasks(status *models.TaskStatus) ([]models.Task, error)
	Stats() (*TaskStats, error)
	History(taskID string) ([]HistoryEntry, error)
	ArchiveTerminal(cutoff time.Time) (int, error)
}

// InvocationStore handles the append-only delegate invocation log.
type InvocationStore interface {
	RecordInvocation(taskID, promptDigest string, env *models.Envelope) (*Invocation, error)
	ListInvocations(taskID string) ([]Invocation, error)
	InvocationStats(since time.Time) (map[string]*DelegateStats, error)
}

// LedgerStore handles the append-only budget ledger.
type LedgerStore interface {
	RecordSpend(delegate string, tokens int64, cost float64) error
	SpendSince(delegate string, since time.Time) (*LedgerTotals, error)
	GlobalSpendSince(since time.Time) (*LedgerTotals, error)
	SpendByDelegate(since time.Time) (map[string]LedgerTotals, error)
}

// ConsensusStore handles voting sessions and their votes.
type ConsensusStore interface {
	CreateConsensusSession(taskID, policy, implementer string) (*ConsensusSession, error)
	RecordVote(v *Vote) error
	ListVotes(sessionID string) ([]Vote, error)
	CloseConsensusSession(sessionID string, verdict *models.Verdict) error
	GetConsensusSession(id string) (*ConsensusSession, error)
	ListConsensusSessions(taskID string) ([]ConsensusSession, error)
	RecentConsensusSessions(since time.Time) ([]ConsensusSession, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the full persistence surface. Components should depend on
// the focused sub-interfaces instead of this composition wherever they can.
type Store interface {
	io.Closer
	Migrator
	TaskStore
	InvocationStore
	LedgerStore
	ConsensusStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store           = (*DB)(nil)
	_ Migrator        = (*DB)(nil)
	_ TaskStore       = (*DB)(nil)
	_ InvocationStore = (*DB)(nil)
	_ LedgerStore     = (*DB)(nil)
	_ ConsensusStore  = (*DB)(nil)
)

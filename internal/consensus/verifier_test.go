package consensus

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alderai/triad/internal/delegate"
	"github.com/alderai/triad/internal/state"
	"github.com/alderai/triad/pkg/models"
)

func setupStore(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// cannedBackend returns a fixed envelope and counts invocations.
type cannedBackend struct {
	name     string
	decision models.Decision
	conf     float64
	status   models.InvokeStatus
	calls    int
}

func (c *cannedBackend) Name() string { return c.name }

func (c *cannedBackend) Invoke(ctx context.Context, prompt string, opts delegate.Options) *models.Envelope {
	c.calls++
	status := c.status
	if status == "" {
		status = models.StatusSuccess
	}
	return &models.Envelope{
		Delegate:   c.name,
		Status:     status,
		Decision:   c.decision,
		Confidence: c.conf,
		TraceID:    c.name + "-trace",
	}
}

type refusingGate struct {
	refuse map[string]error
}

func (g *refusingGate) Check(name string) error { return g.refuse[name] }

func mustEngine(t *testing.T, policy string) *Engine {
	t.Helper()
	engine, err := NewEngine(policy, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	return engine
}

func TestVerify_ApproveRound(t *testing.T) {
	db := setupStore(t)

	task := &models.Task{Payload: "add retry to uploader", Implementer: "claude"}
	if err := db.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	claude := &cannedBackend{name: "claude", decision: models.DecisionReject, conf: 0.9}
	gemini := &cannedBackend{name: "gemini", decision: models.DecisionApprove, conf: 0.9}
	codex := &cannedBackend{name: "codex", decision: models.DecisionApprove, conf: 0.7}

	v := NewVerifier(mustEngine(t, PolicyMajority), []delegate.Backend{claude, gemini, codex}, nil, db, nil, nil)

	verdict, err := v.Verify(context.Background(), task)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict.Decision != models.VerdictApprove {
		t.Errorf("decision = %v, want approve (reason: %s)", verdict.Decision, verdict.Reason)
	}
	if verdict.Approvals != 2 {
		t.Errorf("approvals = %d, want 2", verdict.Approvals)
	}

	// The implementer never votes on its own work.
	if claude.calls != 0 {
		t.Error("implementer was invoked as a voter")
	}

	sessions, err := db.ListConsensusSessions(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].Decision != models.VerdictApprove {
		t.Errorf("persisted decision = %v, want approve", sessions[0].Decision)
	}
	if sessions[0].DecidedAt == nil {
		t.Error("session not closed")
	}

	votes, err := db.ListVotes(sessions[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(votes) != 2 {
		t.Errorf("votes = %d, want 2", len(votes))
	}

	invs, err := db.ListInvocations(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(invs) != 2 {
		t.Errorf("invocations = %d, want 2", len(invs))
	}
}

func TestVerify_FailedVoterAbstains(t *testing.T) {
	db := setupStore(t)

	task := &models.Task{Payload: "migrate schema", Implementer: "claude"}
	if err := db.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	gemini := &cannedBackend{name: "gemini", decision: models.DecisionApprove, conf: 0.9}
	codex := &cannedBackend{name: "codex", decision: models.DecisionApprove, status: models.StatusTimeout}

	v := NewVerifier(mustEngine(t, PolicyMajority), []delegate.Backend{gemini, codex}, nil, db, nil, nil)

	verdict, err := v.Verify(context.Background(), task)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	// One countable vote misses the quorum of two.
	if verdict.Decision != models.VerdictInconclusive {
		t.Errorf("decision = %v, want inconclusive (reason: %s)", verdict.Decision, verdict.Reason)
	}
}

func TestVerify_BudgetBlockedVoterNotInvoked(t *testing.T) {
	db := setupStore(t)

	task := &models.Task{Payload: "tighten csp", Implementer: ""}
	if err := db.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	gemini := &cannedBackend{name: "gemini", decision: models.DecisionApprove, conf: 0.9}
	codex := &cannedBackend{name: "codex", decision: models.DecisionApprove, conf: 0.9}
	gate := &refusingGate{refuse: map[string]error{"codex": errors.New("budget exhausted")}}

	v := NewVerifier(mustEngine(t, PolicyMajority), []delegate.Backend{gemini, codex}, nil, db, gate, nil)

	verdict, err := v.Verify(context.Background(), task)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if codex.calls != 0 {
		t.Error("budget-blocked voter was invoked")
	}
	// The blocked voter's abstain leaves a single countable vote.
	if verdict.Decision != models.VerdictInconclusive {
		t.Errorf("decision = %v, want inconclusive", verdict.Decision)
	}
}

func TestVerify_SpendRecorded(t *testing.T) {
	db := setupStore(t)

	task := &models.Task{Payload: "audit deps"}
	if err := db.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	gemini := &cannedBackend{name: "gemini", decision: models.DecisionApprove, conf: 0.9}
	codex := &cannedBackend{name: "codex", decision: models.DecisionReject, conf: 0.9}

	spender := &countingSpender{}
	v := NewVerifier(mustEngine(t, PolicyMajority), []delegate.Backend{gemini, codex}, nil, db, nil, spender)

	if _, err := v.Verify(context.Background(), task); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if spender.records != 2 {
		t.Errorf("spend records = %d, want 2", spender.records)
	}
}

type countingSpender struct {
	records int
}

func (s *countingSpender) Record(env *models.Envelope) error {
	s.records++
	return nil
}

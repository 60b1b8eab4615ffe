package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/alderai/triad/internal/breaker"
	"github.com/alderai/triad/internal/config"
	"github.com/alderai/triad/internal/consensus"
	"github.com/alderai/triad/internal/delegate"
	"github.com/alderai/triad/internal/mailbox"
	"github.com/alderai/triad/internal/queue"
	"github.com/alderai/triad/internal/state"
	"github.com/alderai/triad/pkg/models"
)

// stubBackend answers every prompt with one canned envelope.
type stubBackend struct {
	name     string
	status   models.InvokeStatus
	decision models.Decision
	conf     float64
	calls    int
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Invoke(ctx context.Context, prompt string, opts delegate.Options) *models.Envelope {
	s.calls++
	return &models.Envelope{
		Delegate:   s.name,
		Status:     s.status,
		Decision:   s.decision,
		Confidence: s.conf,
		TraceID:    s.name + "-trace",
	}
}

type fixture struct {
	worker *Worker
	db     *state.DB
	mail   *mailbox.Mailbox
	super  *mailbox.Mailbox
}

// newFixture wires a worker whose implementer succeeds and whose voters
// return the given decisions.
func newFixture(t *testing.T, implementer *stubBackend, voters []delegate.Backend) *fixture {
	t.Helper()

	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	mailRoot := t.TempDir()
	mail, err := mailbox.New(mailRoot, "worker-1")
	if err != nil {
		t.Fatal(err)
	}
	super, err := mailbox.New(mailRoot, SupervisorAgent)
	if err != nil {
		t.Fatal(err)
	}

	q := queue.NewManager(db, config.QueueConfig{MaxRetries: 2})
	router := breaker.NewRouter([]delegate.Backend{implementer}, nil, func() *breaker.Breaker {
		return breaker.New(3, time.Minute, time.Minute)
	})
	engine, err := consensus.NewEngine(consensus.PolicyMajority, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	verifier := consensus.NewVerifier(engine, voters, nil, db, nil, nil)

	w := New(Options{ID: "worker-1", PollInterval: 10 * time.Millisecond, HeartbeatInterval: 10 * time.Millisecond},
		q, router, verifier, db, nil, mail)
	return &fixture{worker: w, db: db, mail: mail, super: super}
}

func TestRunOnce_ApprovedTaskCompletes(t *testing.T) {
	implementer := &stubBackend{name: "claude", status: models.StatusSuccess, decision: models.DecisionApprove, conf: 0.9}
	voters := []delegate.Backend{
		&stubBackend{name: "claude", status: models.StatusSuccess, decision: models.DecisionReject, conf: 0.9},
		&stubBackend{name: "gemini", status: models.StatusSuccess, decision: models.DecisionApprove, conf: 0.9},
		&stubBackend{name: "codex", status: models.StatusSuccess, decision: models.DecisionApprove, conf: 0.7},
	}
	f := newFixture(t, implementer, voters)

	task := &models.Task{Payload: "add input validation"}
	if err := f.db.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	processed, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed == nil || processed.ID != task.ID {
		t.Fatalf("processed = %+v", processed)
	}

	got, err := f.db.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("status = %v, want completed", got.Status)
	}

	// The implementer voted on nothing: the claude voter stub was skipped.
	if voters[0].(*stubBackend).calls != 0 {
		t.Error("implementer voted on its own work")
	}

	// Implementation plus two votes were persisted.
	invs, err := f.db.ListInvocations(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(invs) != 3 {
		t.Errorf("invocations = %d, want 3", len(invs))
	}
}

func TestRunOnce_RejectedTaskFails(t *testing.T) {
	implementer := &stubBackend{name: "claude", status: models.StatusSuccess, decision: models.DecisionApprove, conf: 0.9}
	voters := []delegate.Backend{
		&stubBackend{name: "gemini", status: models.StatusSuccess, decision: models.DecisionReject, conf: 0.9},
		&stubBackend{name: "codex", status: models.StatusSuccess, decision: models.DecisionReject, conf: 0.9},
	}
	f := newFixture(t, implementer, voters)

	task := &models.Task{Payload: "remove the safety check"}
	if err := f.db.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, err := f.db.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusFailed {
		t.Errorf("status = %v, want failed", got.Status)
	}
}

func TestRunOnce_ImplementerFailureReleases(t *testing.T) {
	implementer := &stubBackend{name: "claude", status: models.StatusTimeout, decision: models.DecisionAbstain}
	f := newFixture(t, implementer, nil)

	task := &models.Task{Payload: "work that times out"}
	if err := f.db.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, err := f.db.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusPending {
		t.Errorf("status = %v, want pending after release", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retries = %d, want 1", got.RetryCount)
	}
}

func TestRunOnce_InconclusiveEscalates(t *testing.T) {
	implementer := &stubBackend{name: "claude", status: models.StatusSuccess, decision: models.DecisionApprove, conf: 0.9}
	voters := []delegate.Backend{
		&stubBackend{name: "gemini", status: models.StatusSuccess, decision: models.DecisionApprove, conf: 0.9},
		&stubBackend{name: "codex", status: models.StatusSuccess, decision: models.DecisionReject, conf: 0.9},
	}
	f := newFixture(t, implementer, voters)

	task := &models.Task{Payload: "contested change"}
	if err := f.db.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// The task stays in verification for the supervisor.
	got, err := f.db.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusReadyForVerify {
		t.Errorf("status = %v, want ready_for_verify", got.Status)
	}

	msg, err := f.super.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("no escalation message sent")
	}
	var esc Escalation
	if err := json.Unmarshal(msg.Payload, &esc); err != nil {
		t.Fatal(err)
	}
	if esc.TaskID != task.ID || esc.Verdict != models.VerdictInconclusive {
		t.Errorf("escalation = %+v", esc)
	}
}

func TestRunOnce_AllAbstainEscalates(t *testing.T) {
	implementer := &stubBackend{name: "claude", status: models.StatusSuccess, decision: models.DecisionApprove, conf: 0.9}
	voters := []delegate.Backend{
		&stubBackend{name: "gemini", status: models.StatusSuccess, decision: models.DecisionAbstain},
		&stubBackend{name: "codex", status: models.StatusSuccess, decision: models.DecisionAbstain},
	}
	f := newFixture(t, implementer, voters)

	task := &models.Task{Payload: "change nobody would judge"}
	if err := f.db.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// No signal either way: the task must wait for the supervisor, not
	// strand silently.
	got, err := f.db.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusReadyForVerify {
		t.Errorf("status = %v, want ready_for_verify", got.Status)
	}

	msg, err := f.super.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("no escalation message sent for an all-abstain round")
	}
	var esc Escalation
	if err := json.Unmarshal(msg.Payload, &esc); err != nil {
		t.Fatal(err)
	}
	if esc.TaskID != task.ID || esc.Verdict != models.VerdictAbstain {
		t.Errorf("escalation = %+v", esc)
	}
}

func TestRunOnce_EmptyQueue(t *testing.T) {
	implementer := &stubBackend{name: "claude", status: models.StatusSuccess, decision: models.DecisionApprove}
	f := newFixture(t, implementer, nil)

	processed, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed != nil {
		t.Errorf("processed = %+v from empty queue", processed)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	implementer := &stubBackend{name: "claude", status: models.StatusSuccess, decision: models.DecisionApprove}
	f := newFixture(t, implementer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

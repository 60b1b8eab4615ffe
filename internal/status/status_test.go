package status

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alderai/triad/internal/breaker"
	"github.com/alderai/triad/internal/budget"
	"github.com/alderai/triad/internal/config"
	"github.com/alderai/triad/internal/delegate"
	"github.com/alderai/triad/internal/mailbox"
	"github.com/alderai/triad/internal/state"
	"github.com/alderai/triad/pkg/models"
)

type namedBackend struct{ name string }

func (b *namedBackend) Name() string { return b.name }
func (b *namedBackend) Invoke(ctx context.Context, prompt string, opts delegate.Options) *models.Envelope {
	return &models.Envelope{Delegate: b.name, Status: models.StatusSuccess}
}

func setupTestDB(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCollect(t *testing.T) {
	db := setupTestDB(t)

	task := &models.Task{Payload: "snapshot fixture"}
	if err := db.CreateTask(task); err != nil {
		t.Fatal(err)
	}
	env := &models.Envelope{Delegate: "claude", Status: models.StatusSuccess, Tokens: 100, Cost: 0.25}
	if _, err := db.RecordInvocation(task.ID, "abcd1234", env); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordSpend("claude", 100, 0.25); err != nil {
		t.Fatal(err)
	}

	router := breaker.NewRouter(
		[]delegate.Backend{&namedBackend{"claude"}, &namedBackend{"gemini"}},
		nil,
		func() *breaker.Breaker { return breaker.New(3, time.Minute, time.Minute) },
	)
	enforcer := budget.New(db, config.BudgetConfig{GlobalDailyCost: 10}, map[string]config.DelegateConfig{
		"claude": {Budget: config.DelegateBudget{DailyCost: 5}},
	})

	root := t.TempDir()
	mail, err := mailbox.New(root, "supervisor")
	if err != nil {
		t.Fatal(err)
	}
	workerMail, err := mailbox.New(root, "worker-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := workerMail.Beat(); err != nil {
		t.Fatal(err)
	}

	c := NewCollector(db, router, enforcer, mail)
	snap, err := c.Collect()
	if err != nil {
		t.Fatal(err)
	}

	if snap.Queue.Total != 1 || snap.Queue.ByStatus[models.TaskStatusPending] != 1 {
		t.Errorf("queue stats = %+v", snap.Queue)
	}

	// Both routed delegates appear, sorted, with claude carrying stats.
	if len(snap.Delegates) != 2 {
		t.Fatalf("delegates = %d, want 2", len(snap.Delegates))
	}
	if snap.Delegates[0].Name != "claude" || snap.Delegates[1].Name != "gemini" {
		t.Errorf("order = %s, %s", snap.Delegates[0].Name, snap.Delegates[1].Name)
	}
	claude := snap.Delegates[0]
	if claude.Breaker != breaker.StateClosed {
		t.Errorf("breaker = %v", claude.Breaker)
	}
	if claude.Stats == nil || claude.Stats.Successes != 1 {
		t.Errorf("stats = %+v", claude.Stats)
	}
	if claude.Budget.Cost != 0.25 {
		t.Errorf("budget cost = %v", claude.Budget.Cost)
	}
	if snap.GlobalBudget.Cost != 0.25 {
		t.Errorf("global cost = %v", snap.GlobalBudget.Cost)
	}

	var worker1 *WorkerStatus
	for i := range snap.Workers {
		if snap.Workers[i].Agent == "worker-1" {
			worker1 = &snap.Workers[i]
		}
	}
	if worker1 == nil {
		t.Fatalf("worker-1 missing from %+v", snap.Workers)
	}
	if !worker1.Alive {
		t.Error("worker-1 reported dead with a fresh heartbeat")
	}
}

func TestCollect_MinimalWiring(t *testing.T) {
	db := setupTestDB(t)
	c := NewCollector(db, nil, nil, nil)

	snap, err := c.Collect()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Queue.Total != 0 {
		t.Errorf("queue total = %d", snap.Queue.Total)
	}
	if len(snap.Delegates) != 0 || len(snap.Workers) != 0 {
		t.Errorf("snapshot not empty: %+v", snap)
	}
}

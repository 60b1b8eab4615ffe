package budget

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alderai/triad/internal/config"
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

func testDelegates() map[string]config.DelegateConfig {
	return map[string]config.DelegateConfig{
		"claude": {Command: "claude", Budget: config.DelegateBudget{DailyCost: 10}},
		"gemini": {Command: "gemini"},
	}
}

func TestCheck_UnderBudget(t *testing.T) {
	db := setupStore(t)
	e := New(db, config.BudgetConfig{GlobalDailyCost: 100}, testDelegates())

	if err := db.RecordSpend("claude", 1000, 1.0); err != nil {
		t.Fatal(err)
	}
	if err := e.Check("claude"); err != nil {
		t.Errorf("Check under budget: %v", err)
	}
}

func TestCheck_DelegateBlocked(t *testing.T) {
	db := setupStore(t)
	e := New(db, config.BudgetConfig{GlobalDailyCost: 100}, testDelegates())

	// 9.60 of 10.00 is past the 95% block fraction.
	if err := db.RecordSpend("claude", 1000, 9.60); err != nil {
		t.Fatal(err)
	}

	err := e.Check("claude")
	if !errors.Is(err, ErrDelegateBudgetExceeded) {
		t.Errorf("err = %v, want ErrDelegateBudgetExceeded", err)
	}

	// Other delegates keep working.
	if err := e.Check("gemini"); err != nil {
		t.Errorf("gemini blocked by claude's budget: %v", err)
	}
}

func TestCheck_GlobalBlockOverridesDelegateHeadroom(t *testing.T) {
	db := setupStore(t)
	e := New(db, config.BudgetConfig{GlobalDailyCost: 10}, testDelegates())

	// Global at 96%, claude itself nearly unspent.
	if err := db.RecordSpend("gemini", 1000, 9.6); err != nil {
		t.Fatal(err)
	}

	err := e.Check("claude")
	if !errors.Is(err, ErrGlobalBudgetExceeded) {
		t.Errorf("err = %v, want ErrGlobalBudgetExceeded", err)
	}
}

func TestCheckLevel(t *testing.T) {
	db := setupStore(t)
	e := New(db, config.BudgetConfig{GlobalDailyCost: 100}, testDelegates())

	level, err := e.CheckLevel("claude")
	if err != nil || level != LevelOK {
		t.Errorf("CheckLevel = %v, %v; want ok, nil", level, err)
	}

	// 7.50 of 10.00 crosses the 70% warning line but must still proceed.
	if err := db.RecordSpend("claude", 1000, 7.5); err != nil {
		t.Fatal(err)
	}
	level, err = e.CheckLevel("claude")
	if err != nil {
		t.Errorf("warn-level check refused: %v", err)
	}
	if level != LevelWarn {
		t.Errorf("level = %v, want warn past the warning fraction", level)
	}
	if err := e.Check("claude"); err != nil {
		t.Errorf("Check at warn level must allow the invocation: %v", err)
	}

	// Past the 95% block fraction the level and the sentinel line up.
	if err := db.RecordSpend("claude", 1000, 2.2); err != nil {
		t.Fatal(err)
	}
	level, err = e.CheckLevel("claude")
	if level != LevelBlocked {
		t.Errorf("level = %v, want blocked", level)
	}
	if !errors.Is(err, ErrDelegateBudgetExceeded) {
		t.Errorf("err = %v, want ErrDelegateBudgetExceeded", err)
	}
}

func TestCheckLevel_GlobalWarn(t *testing.T) {
	db := setupStore(t)
	e := New(db, config.BudgetConfig{GlobalDailyCost: 10}, testDelegates())

	// Global at 80%, gemini itself has no caps at all.
	if err := db.RecordSpend("gemini", 1000, 8.0); err != nil {
		t.Fatal(err)
	}
	level, err := e.CheckLevel("gemini")
	if err != nil {
		t.Errorf("global warn refused the invocation: %v", err)
	}
	if level != LevelWarn {
		t.Errorf("level = %v, want warn from the global limit", level)
	}
}

func TestSnapshot_Levels(t *testing.T) {
	db := setupStore(t)
	e := New(db, config.BudgetConfig{GlobalDailyCost: 100}, testDelegates())

	// 7.50 of 10.00 crosses the 70% warning line.
	if err := db.RecordSpend("claude", 1000, 7.5); err != nil {
		t.Fatal(err)
	}

	snap, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Global.Level != LevelOK {
		t.Errorf("global level = %v, want ok", snap.Global.Level)
	}
	if snap.Delegates["claude"].Level != LevelWarn {
		t.Errorf("claude level = %v, want warn", snap.Delegates["claude"].Level)
	}
	if snap.Delegates["gemini"].Level != LevelOK {
		t.Errorf("gemini level = %v, want ok", snap.Delegates["gemini"].Level)
	}
}

func TestCheck_TokenCap(t *testing.T) {
	db := setupStore(t)
	delegates := map[string]config.DelegateConfig{
		"claude": {Command: "claude", Budget: config.DelegateBudget{DailyTokens: 1000}},
	}
	e := New(db, config.BudgetConfig{}, delegates)

	if err := db.RecordSpend("claude", 960, 0); err != nil {
		t.Fatal(err)
	}

	err := e.Check("claude")
	if !errors.Is(err, ErrDelegateBudgetExceeded) {
		t.Errorf("err = %v, want ErrDelegateBudgetExceeded on token cap", err)
	}
}

func TestCheck_RollingWindow(t *testing.T) {
	db := setupStore(t)
	delegates := map[string]config.DelegateConfig{
		"claude": {Command: "claude", Budget: config.DelegateBudget{
			DailyCost:     10,
			Window:        "rolling",
			RollingWindow: time.Hour,
		}},
	}
	e := New(db, config.BudgetConfig{}, delegates)

	if err := db.RecordSpend("claude", 1000, 9.6); err != nil {
		t.Fatal(err)
	}

	// Inside the window the spend blocks.
	if err := e.Check("claude"); !errors.Is(err, ErrDelegateBudgetExceeded) {
		t.Errorf("err = %v, want blocked inside rolling window", err)
	}

	// Move the clock past the window; the old spend no longer counts.
	e.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if err := e.Check("claude"); err != nil {
		t.Errorf("err = %v, want allowed after window rolled past", err)
	}
}

func TestCheck_NoLimitsConfigured(t *testing.T) {
	db := setupStore(t)
	e := New(db, config.BudgetConfig{}, map[string]config.DelegateConfig{})

	if err := db.RecordSpend("claude", 1_000_000, 1000); err != nil {
		t.Fatal(err)
	}
	if err := e.Check("claude"); err != nil {
		t.Errorf("unlimited budget refused: %v", err)
	}
}

func TestRecord(t *testing.T) {
	db := setupStore(t)
	e := New(db, config.BudgetConfig{}, testDelegates())

	env := &models.Envelope{Delegate: "claude", Tokens: 500, Cost: 0.25}
	if err := e.Record(env); err != nil {
		t.Fatalf("Record: %v", err)
	}

	totals, err := db.SpendSince("claude", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if totals.Tokens != 500 || totals.Cost != 0.25 {
		t.Errorf("totals = %+v, want 500 tokens / 0.25 cost", totals)
	}

	// Zero-spend envelopes add no ledger rows.
	if err := e.Record(&models.Envelope{Delegate: "claude"}); err != nil {
		t.Fatal(err)
	}
	after, err := db.SpendSince("claude", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if after.Tokens != 500 {
		t.Errorf("tokens = %d after zero-spend record, want 500", after.Tokens)
	}
}

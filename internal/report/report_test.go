package report

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alderai/triad/internal/state"
	"github.com/alderai/triad/pkg/models"
)

func setupStore(t *testing.T) *state.DB {
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

func seedActivity(t *testing.T, db *state.DB) *models.Task {
	t.Helper()
	task := &models.Task{Payload: "report fixture"}
	if err := db.CreateTask(task); err != nil {
		t.Fatal(err)
	}
	ok := &models.Envelope{Delegate: "claude", Status: models.StatusSuccess, Tokens: 200, Cost: 0.5}
	timeout := &models.Envelope{Delegate: "gemini", Status: models.StatusTimeout}
	for _, env := range []*models.Envelope{ok, timeout} {
		if _, err := db.RecordInvocation(task.ID, "abcd1234", env); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.RecordSpend("claude", 200, 0.5); err != nil {
		t.Fatal(err)
	}

	session, err := db.CreateConsensusSession(task.ID, "majority", "claude")
	if err != nil {
		t.Fatal(err)
	}
	verdict := &models.Verdict{Decision: models.VerdictApprove, Confidence: 0.9, QuorumReached: true, Approvals: 2}
	if err := db.CloseConsensusSession(session.ID, verdict); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestGenerate(t *testing.T) {
	db := setupStore(t)
	seedActivity(t, db)

	r, err := NewGenerator(db).Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if r.QueueTotal != 1 || r.Queue[models.TaskStatusPending] != 1 {
		t.Errorf("queue = %+v", r.Queue)
	}
	if len(r.Delegates) != 2 {
		t.Fatalf("delegates = %d, want 2", len(r.Delegates))
	}
	claude, gemini := r.Delegates[0], r.Delegates[1]
	if claude.Name != "claude" || gemini.Name != "gemini" {
		t.Fatalf("order = %s, %s", claude.Name, gemini.Name)
	}
	if claude.Successes != 1 || claude.Cost != 0.5 || claude.Tokens != 200 {
		t.Errorf("claude = %+v", claude)
	}
	if gemini.Timeouts != 1 || gemini.Cost != 0 {
		t.Errorf("gemini = %+v", gemini)
	}
	if r.TotalCost != 0.5 || r.TotalTokens != 200 {
		t.Errorf("totals = %d tokens $%v", r.TotalTokens, r.TotalCost)
	}
	if r.Consensus.Sessions != 1 || r.Consensus.Approved != 1 {
		t.Errorf("consensus = %+v", r.Consensus)
	}
}

func TestGenerate_EmptyWindow(t *testing.T) {
	db := setupStore(t)

	r, err := NewGenerator(db).Generate(0)
	if err != nil {
		t.Fatal(err)
	}
	if r.Window != 24*time.Hour {
		t.Errorf("default window = %v", r.Window)
	}
	if r.QueueTotal != 0 || len(r.Delegates) != 0 || r.Consensus.Sessions != 0 {
		t.Errorf("empty store produced %+v", r)
	}
}

func TestRender(t *testing.T) {
	db := setupStore(t)
	seedActivity(t, db)

	r, err := NewGenerator(db).Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	text, err := r.Render(FormatText)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"claude", "gemini", "cost=$0.5000", "1 sessions"} {
		if !strings.Contains(text, want) {
			t.Errorf("text output missing %q:\n%s", want, text)
		}
	}

	md, err := r.Render(FormatMarkdown)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "| claude | 1 |") {
		t.Errorf("markdown table missing claude row:\n%s", md)
	}

	out, err := r.Render(FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Report
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("json output does not parse: %v", err)
	}
	if decoded.TotalCost != r.TotalCost {
		t.Errorf("json round trip cost = %v", decoded.TotalCost)
	}

	yml, err := r.Render(FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(yml, "total_cost: 0.5") {
		t.Errorf("yaml output missing total cost:\n%s", yml)
	}

	if _, err := r.Render("csv"); err == nil {
		t.Error("unknown format accepted")
	}
}

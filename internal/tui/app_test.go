package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/alderai/triad/internal/breaker"
	"github.com/alderai/triad/internal/budget"
	"github.com/alderai/triad/internal/state"
	"github.com/alderai/triad/internal/status"
	"github.com/alderai/triad/pkg/models"
)

func testSnapshot() *status.Snapshot {
	return &status.Snapshot{
		Time: time.Now(),
		Queue: &state.TaskStats{
			ByStatus: map[models.TaskStatus]int{
				models.TaskStatusPending:   2,
				models.TaskStatusCompleted: 5,
			},
			Total: 7,
		},
		Delegates: []status.DelegateHealth{
			{
				Name:    "claude",
				Breaker: breaker.StateClosed,
				Budget:  budget.Usage{Delegate: "claude", Cost: 2.5, CostCap: 10, Level: budget.LevelOK},
				Stats:   &state.DelegateStats{Delegate: "claude", Calls: 4, Successes: 3, Failures: 1},
			},
			{
				Name:    "gemini",
				Breaker: breaker.StateOpen,
			},
		},
		Workers: []status.WorkerStatus{
			{Agent: "worker-1", Alive: true, LastBeat: time.Now(), Pending: 1},
			{Agent: "worker-2", Alive: false},
		},
	}
}

func TestView_QueueTab(t *testing.T) {
	a := New(nil, nil, time.Second)
	a.Update(snapshotMsg{snap: testSnapshot()})

	view := a.View()
	if !strings.Contains(view, "7") {
		t.Errorf("queue view missing total:\n%s", view)
	}
	if !strings.Contains(view, "pending") {
		t.Errorf("queue view missing status rows:\n%s", view)
	}
}

func TestView_TabSwitching(t *testing.T) {
	a := New(nil, nil, time.Second)
	a.Update(snapshotMsg{snap: testSnapshot()})

	a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'2'}})
	view := a.View()
	if !strings.Contains(view, "claude") || !strings.Contains(view, "open") {
		t.Errorf("delegates view missing delegate rows:\n%s", view)
	}

	a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'3'}})
	view = a.View()
	if !strings.Contains(view, "worker-1") || !strings.Contains(view, "dead") {
		t.Errorf("workers view missing rows:\n%s", view)
	}
}

func TestView_CollectError(t *testing.T) {
	a := New(nil, nil, time.Second)
	a.Update(snapshotMsg{err: errors.New("database locked")})

	view := a.View()
	if !strings.Contains(view, "database locked") {
		t.Errorf("footer missing collect error:\n%s", view)
	}
}

func TestUpdate_Quit(t *testing.T) {
	a := New(nil, nil, time.Second)
	model, cmd := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	if cmd == nil {
		t.Fatal("quit key produced no command")
	}
	if view := model.View(); !strings.Contains(view, "Goodbye") {
		t.Errorf("quitting view = %q", view)
	}
}

type stubEnqueuer struct {
	payload  string
	priority models.Priority
	calls    int
}

func (s *stubEnqueuer) Enqueue(payload string, priority models.Priority, category string, tags ...string) (*models.Task, error) {
	s.calls++
	s.payload = payload
	s.priority = priority
	return &models.Task{ID: "task-1", Payload: payload, Priority: priority}, nil
}

func TestUpdate_TaskEntry(t *testing.T) {
	enq := &stubEnqueuer{}
	a := New(nil, enq, time.Second)
	a.Update(snapshotMsg{snap: testSnapshot()})

	a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	if !a.entering {
		t.Fatal("'a' did not open the task entry field")
	}
	if view := a.View(); !strings.Contains(view, "Type a task") {
		t.Errorf("entry view missing input field:\n%s", view)
	}

	a.Update(TaskSubmittedMsg{Payload: "review the parser", Priority: models.PriorityHigh})
	if a.entering {
		t.Error("entry field still open after submit")
	}
	if enq.calls != 1 || enq.payload != "review the parser" || enq.priority != models.PriorityHigh {
		t.Errorf("enqueuer got %+v", enq)
	}
}

func TestUpdate_TaskEntryEscape(t *testing.T) {
	a := New(nil, &stubEnqueuer{}, time.Second)

	a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	a.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if a.entering {
		t.Error("esc did not close the task entry field")
	}
}

func TestUpdate_TaskEntryDisabledWithoutEnqueuer(t *testing.T) {
	a := New(nil, nil, time.Second)

	a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	if a.entering {
		t.Error("entry field opened with no enqueuer wired")
	}
}

func TestView_NoSnapshot(t *testing.T) {
	a := New(nil, nil, time.Second)
	if view := a.View(); !strings.Contains(view, "Collecting") {
		t.Errorf("initial view = %q", view)
	}
}

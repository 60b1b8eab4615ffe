// Package tui provides the terminal status dashboard for Triad.
package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/alderai/triad/internal/status"
	"github.com/alderai/triad/pkg/models"
)

// Enqueuer submits new tasks entered from the dashboard. The queue
// manager implements it; nil disables task entry.
type Enqueuer interface {
	Enqueue(payload string, priority models.Priority, category string, tags ...string) (*models.Task, error)
}

// Tab constants for navigation.
const (
	TabQueue = iota
	TabDelegates
	TabWorkers
)

// tickMsg drives the periodic refresh.
type tickMsg time.Time

// snapshotMsg delivers a freshly collected snapshot.
type snapshotMsg struct {
	snap *status.Snapshot
	err  error
}

// App is the main bubbletea model for the Triad dashboard.
type App struct {
	collector *status.Collector
	enqueuer  Enqueuer
	refresh   time.Duration

	// currentTab is the currently selected tab.
	currentTab int
	// snapshot is the last collected system snapshot.
	snapshot *status.Snapshot
	// collectErr is the last collection failure, shown in the footer.
	collectErr error
	// width and height track the terminal size.
	width  int
	height int
	// quitting indicates the app is shutting down.
	quitting bool
	// entering is true while the task entry field has focus.
	entering bool

	header *Header
	footer *Footer
	panels *Panels
	input  *InputField
}

// New creates a new App instance. Enqueuer may be nil; task entry is
// then disabled.
func New(collector *status.Collector, enqueuer Enqueuer, refresh time.Duration) *App {
	if refresh <= 0 {
		refresh = 2 * time.Second
	}
	return &App{
		collector: collector,
		enqueuer:  enqueuer,
		refresh:   refresh,
		header:    NewHeader(),
		footer:    NewFooter(),
		panels:    NewPanels(),
		input:     NewInputField(),
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.collect, a.tick())
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.entering {
			switch msg.String() {
			case "esc":
				a.entering = false
				a.input.Reset()
				return a, nil
			case "ctrl+c":
				a.quitting = true
				return a, tea.Quit
			}
			var cmd tea.Cmd
			a.input, cmd = a.input.Update(msg)
			return a, cmd
		}
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "tab":
			a.currentTab = (a.currentTab + 1) % 3
		case "1":
			a.currentTab = TabQueue
		case "2":
			a.currentTab = TabDelegates
		case "3":
			a.currentTab = TabWorkers
		case "a":
			if a.enqueuer != nil {
				a.currentTab = TabQueue
				a.entering = true
			}
		case "r":
			return a, a.collect
		}

	case TaskSubmittedMsg:
		a.entering = false
		if a.enqueuer != nil {
			if _, err := a.enqueuer.Enqueue(msg.Payload, msg.Priority, ""); err != nil {
				a.collectErr = err
				return a, nil
			}
		}
		return a, a.collect

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.header.SetWidth(msg.Width)
		a.footer.SetWidth(msg.Width)
		a.panels.SetWidth(msg.Width)
		a.input.SetWidth(msg.Width)

	case snapshotMsg:
		if msg.err != nil {
			a.collectErr = msg.err
		} else {
			a.snapshot = msg.snap
			a.collectErr = nil
		}

	case tickMsg:
		return a, tea.Batch(a.collect, a.tick())
	}

	return a, nil
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	var content string
	switch a.currentTab {
	case TabQueue:
		content = a.panels.ViewQueue(a.snapshot)
	case TabDelegates:
		content = a.panels.ViewDelegates(a.snapshot)
	case TabWorkers:
		content = a.panels.ViewWorkers(a.snapshot)
	}

	a.footer.SetError(a.collectErr)
	if a.snapshot != nil {
		a.footer.SetRefreshed(a.snapshot.Time)
	}

	if a.entering {
		return fmt.Sprintf("%s\n%s\n\n%s\n\n%s\n%s",
			a.header.View(), a.viewTabs(), content, a.input.View(), a.footer.View())
	}
	return fmt.Sprintf("%s\n%s\n\n%s\n\n%s",
		a.header.View(), a.viewTabs(), content, a.footer.View())
}

// viewTabs renders the tab bar.
func (a *App) viewTabs() string {
	tabs := []string{"Queue", "Delegates", "Workers"}
	var bar string
	for i, tab := range tabs {
		if i == a.currentTab {
			bar += fmt.Sprintf("[%s] ", tab)
		} else {
			bar += fmt.Sprintf(" %s  ", tab)
		}
	}
	return bar
}

// collect gathers a snapshot off the update loop.
func (a *App) collect() tea.Msg {
	snap, err := a.collector.Collect()
	return snapshotMsg{snap: snap, err: err}
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(a.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Run starts the dashboard and blocks until it exits.
func Run(collector *status.Collector, enqueuer Enqueuer, refresh time.Duration) error {
	p := tea.NewProgram(New(collector, enqueuer, refresh), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

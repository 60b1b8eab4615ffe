package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/alderai/triad/pkg/models"
)

// TaskSubmittedMsg is sent when the user submits a new task from the
// dashboard.
type TaskSubmittedMsg struct {
	Payload  string
	Priority models.Priority
}

// InputField is the task entry line at the bottom of the queue tab.
type InputField struct {
	input textinput.Model
	width int
}

// NewInputField creates the task entry field.
func NewInputField() *InputField {
	ti := textinput.New()
	ti.Placeholder = "Type a task and press Enter (prefix p0:-p3: to set priority)..."
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 60

	return &InputField{
		input: ti,
		width: 80,
	}
}

// SetWidth sets the width of the input field.
func (f *InputField) SetWidth(width int) {
	f.width = width
	f.input.Width = width - 4
}

// Reset clears the field and refocuses it.
func (f *InputField) Reset() {
	f.input.Reset()
	f.input.Focus()
}

// Update handles messages for the input field.
func (f *InputField) Update(msg tea.Msg) (*InputField, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			text := f.input.Value()
			if text != "" {
				priority, payload := ClassifyPriority(text)
				f.input.Reset()
				return f, func() tea.Msg {
					return TaskSubmittedMsg{
						Payload:  payload,
						Priority: priority,
					}
				}
			}
		}
	}

	var cmd tea.Cmd
	f.input, cmd = f.input.Update(msg)
	return f, cmd
}

// View renders the input field.
func (f *InputField) View() string {
	promptStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(f.width - 2)

	prompt := promptStyle.Render("> ")
	return boxStyle.Render(prompt + f.input.View())
}

// ClassifyPriority extracts an optional p0:-p3: prefix from the entered
// text. Without a prefix the task gets the default P2.
func ClassifyPriority(text string) (models.Priority, string) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for p := models.PriorityCritical; p <= models.PriorityLow; p++ {
		prefix := "p" + string(rune('0'+int(p))) + ":"
		if strings.HasPrefix(lower, prefix) {
			return p, strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	return models.PriorityMedium, trimmed
}

package tui

import (
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Header renders the Triad logo and title bar.
type Header struct {
	width int
}

// NewHeader creates a new Header.
func NewHeader() *Header {
	return &Header{
		width: 80,
	}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// View renders the header.
func (h *Header) View() string {
	colors := []string{"#4ECDC4", "#45B7D1", "#5E81F4", "#8A6FE8", "#B06AB3"}

	logo := []string{
		" ████████╗██████╗ ██╗ █████╗ ██████╗ ",
		" ╚══██╔══╝██╔══██╗██║██╔══██╗██╔══██╗",
		"    ██║   ██████╔╝██║███████║██║  ██║",
		"    ██║   ██╔══██╗██║██╔══██║██║  ██║",
		"    ██║   ██║  ██║██║██║  ██║██████╔╝",
		"    ╚═╝   ╚═╝  ╚═╝╚═╝╚═╝  ╚═╝╚═════╝ ",
	}

	var styledLines []string
	for i, line := range logo {
		color := colors[i%len(colors)]
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
		styledLines = append(styledLines, style.Render(line))
	}

	logoBlock := lipgloss.JoinVertical(lipgloss.Left, styledLines...)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("243")).
		Italic(true).
		Render("Delegate Orchestration & Consensus")

	logoStyle := lipgloss.NewStyle().
		Width(h.width).
		Align(lipgloss.Center).
		PaddingBottom(1)

	return logoStyle.Render(lipgloss.JoinVertical(lipgloss.Center, logoBlock, subtitle))
}

// Footer renders the status bar and keyboard hints.
type Footer struct {
	width     int
	err       error
	refreshed time.Time

	hintStyle  lipgloss.Style
	errorStyle lipgloss.Style
	timeStyle  lipgloss.Style
}

// NewFooter creates a new Footer instance.
func NewFooter() *Footer {
	return &Footer{
		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		timeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),
	}
}

// SetWidth sets the footer width.
func (f *Footer) SetWidth(width int) {
	f.width = width
}

// SetError sets the collection error shown in the footer.
func (f *Footer) SetError(err error) {
	f.err = err
}

// SetRefreshed records when the displayed snapshot was taken.
func (f *Footer) SetRefreshed(t time.Time) {
	f.refreshed = t
}

// View renders the footer.
func (f *Footer) View() string {
	hints := f.hintStyle.Render("tab: switch  1-3: jump  a: add task  r: refresh  q: quit")
	if f.err != nil {
		return hints + "  " + f.errorStyle.Render("collect failed: "+f.err.Error())
	}
	if !f.refreshed.IsZero() {
		return hints + "  " + f.timeStyle.Render("updated "+f.refreshed.Format("15:04:05"))
	}
	return hints
}

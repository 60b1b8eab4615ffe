package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/alderai/triad/internal/breaker"
	"github.com/alderai/triad/internal/budget"
	"github.com/alderai/triad/internal/status"
	"github.com/alderai/triad/pkg/models"
)

// Panels renders the per-tab content from a snapshot.
type Panels struct {
	width int

	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	okStyle       lipgloss.Style
	warnStyle     lipgloss.Style
	errorStyle    lipgloss.Style
	dimStyle      lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
}

// NewPanels creates a new Panels instance.
func NewPanels() *Panels {
	return &Panels{
		width: 80,

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(18),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		okStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		warnStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		progressFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		progressEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

// SetWidth sets the panel width.
func (p *Panels) SetWidth(width int) {
	p.width = width
}

// ViewQueue renders the queue tab.
func (p *Panels) ViewQueue(snap *status.Snapshot) string {
	if snap == nil {
		return p.dimStyle.Render("  Collecting...")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  %s %s\n\n",
		p.labelStyle.Render("Total tasks"),
		p.valueStyle.Render(fmt.Sprintf("%d", snap.Queue.Total)))

	order := []models.TaskStatus{
		models.TaskStatusPending,
		models.TaskStatusClaimed,
		models.TaskStatusInProgress,
		models.TaskStatusReadyForVerify,
		models.TaskStatusVerified,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
		models.TaskStatusCancelled,
	}
	for _, s := range order {
		count := snap.Queue.ByStatus[s]
		line := fmt.Sprintf("  %s %d\n", p.labelStyle.Render(string(s)), count)
		if count == 0 {
			line = p.dimStyle.Render(line)
		}
		b.WriteString(line)
	}
	return b.String()
}

// ViewDelegates renders the delegates tab.
func (p *Panels) ViewDelegates(snap *status.Snapshot) string {
	if snap == nil {
		return p.dimStyle.Render("  Collecting...")
	}
	if len(snap.Delegates) == 0 {
		return p.dimStyle.Render("  No delegate activity")
	}

	var b strings.Builder
	for _, d := range snap.Delegates {
		fmt.Fprintf(&b, "  %s %s\n",
			p.valueStyle.Render(d.Name),
			p.breakerBadge(d.Breaker))
		if d.Stats != nil {
			fmt.Fprintf(&b, "    calls %d  ok %d  fail %d  timeout %d\n",
				d.Stats.Calls, d.Stats.Successes, d.Stats.Failures, d.Stats.Timeouts)
		}
		if d.Budget.CostCap > 0 {
			fmt.Fprintf(&b, "    budget $%.2f / $%.2f %s %s\n",
				d.Budget.Cost, d.Budget.CostCap,
				p.renderProgressBar(d.Budget.Fraction()*100, 20),
				p.budgetBadge(d.Budget.Level))
		}
		b.WriteString("\n")
	}

	if snap.GlobalBudget.CostCap > 0 {
		fmt.Fprintf(&b, "  %s $%.2f / $%.2f %s %s\n",
			p.labelStyle.Render("Global budget"),
			snap.GlobalBudget.Cost, snap.GlobalBudget.CostCap,
			p.renderProgressBar(snap.GlobalBudget.Fraction()*100, 20),
			p.budgetBadge(snap.GlobalBudget.Level))
	}
	return b.String()
}

// ViewWorkers renders the workers tab.
func (p *Panels) ViewWorkers(snap *status.Snapshot) string {
	if snap == nil {
		return p.dimStyle.Render("  Collecting...")
	}
	if len(snap.Workers) == 0 {
		return p.dimStyle.Render("  No worker mailboxes")
	}

	var b strings.Builder
	for _, w := range snap.Workers {
		badge := p.okStyle.Render("alive")
		if !w.Alive {
			badge = p.errorStyle.Render("dead")
		}
		beat := "never"
		if !w.LastBeat.IsZero() {
			beat = formatAge(time.Since(w.LastBeat)) + " ago"
		}
		fmt.Fprintf(&b, "  %s [%s] last beat %s, %d pending\n",
			p.valueStyle.Render(w.Agent), badge, beat, w.Pending)
	}
	return b.String()
}

func (p *Panels) breakerBadge(s breaker.State) string {
	switch s {
	case breaker.StateOpen:
		return p.errorStyle.Render("[open]")
	case breaker.StateHalfOpen:
		return p.warnStyle.Render("[half-open]")
	case breaker.StateClosed:
		return p.okStyle.Render("[closed]")
	default:
		return p.dimStyle.Render("[unrouted]")
	}
}

func (p *Panels) budgetBadge(level budget.Level) string {
	switch level {
	case budget.LevelBlocked:
		return p.errorStyle.Render("BLOCKED")
	case budget.LevelWarn:
		return p.warnStyle.Render("warn")
	default:
		return ""
	}
}

// renderProgressBar renders a progress bar.
func (p *Panels) renderProgressBar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	filled := int(pct / 100 * float64(width))
	empty := width - filled

	fullStyle := p.progressFull
	if pct > 90 {
		fullStyle = p.warnStyle
	}

	bar := fullStyle.Render(strings.Repeat("█", filled)) +
		p.progressEmpty.Render(strings.Repeat("░", empty))
	return fmt.Sprintf("[%s]", bar)
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

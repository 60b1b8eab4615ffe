package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alderai/triad/pkg/models"
)

// Format selects a report rendering.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// Render produces the report in the requested format.
func (r *Report) Render(format Format) (string, error) {
	switch format {
	case FormatText, "":
		return r.renderText(), nil
	case FormatMarkdown:
		return r.renderMarkdown(), nil
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal report: %w", err)
		}
		return string(data) + "\n", nil
	case FormatYAML:
		data, err := yaml.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("marshal report: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown report format %q", format)
	}
}

func (r *Report) renderText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session report (last %s, generated %s)\n\n",
		r.Window, r.GeneratedAt.Format("2006-01-02 15:04:05"))

	fmt.Fprintf(&b, "Queue: %d tasks\n", r.QueueTotal)
	for _, status := range sortedStatuses(r) {
		fmt.Fprintf(&b, "  %-18s %d\n", status, r.Queue[status])
	}

	b.WriteString("\nDelegates:\n")
	if len(r.Delegates) == 0 {
		b.WriteString("  (no activity)\n")
	}
	for _, d := range r.Delegates {
		fmt.Fprintf(&b, "  %-8s calls=%d ok=%d fail=%d timeout=%d tokens=%d cost=$%.4f\n",
			d.Name, d.Calls, d.Successes, d.Failures, d.Timeouts, d.Tokens, d.Cost)
	}
	fmt.Fprintf(&b, "\nTotal spend: %d tokens, $%.4f\n", r.TotalTokens, r.TotalCost)

	fmt.Fprintf(&b, "\nConsensus: %d sessions (approved %d, rejected %d, inconclusive %d, abstained %d)\n",
		r.Consensus.Sessions, r.Consensus.Approved, r.Consensus.Rejected,
		r.Consensus.Inconclusive, r.Consensus.Abstained)
	return b.String()
}

func (r *Report) renderMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session Report\n\nGenerated %s, covering the last %s.\n\n",
		r.GeneratedAt.Format("2006-01-02 15:04:05"), r.Window)

	fmt.Fprintf(&b, "## Queue\n\n%d tasks total.\n\n", r.QueueTotal)
	if r.QueueTotal > 0 {
		b.WriteString("| Status | Count |\n|---|---|\n")
		for _, status := range sortedStatuses(r) {
			fmt.Fprintf(&b, "| %s | %d |\n", status, r.Queue[status])
		}
		b.WriteString("\n")
	}

	b.WriteString("## Delegates\n\n")
	if len(r.Delegates) == 0 {
		b.WriteString("No activity in this window.\n\n")
	} else {
		b.WriteString("| Delegate | Calls | OK | Fail | Timeout | Tokens | Cost |\n|---|---|---|---|---|---|---|\n")
		for _, d := range r.Delegates {
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %d | $%.4f |\n",
				d.Name, d.Calls, d.Successes, d.Failures, d.Timeouts, d.Tokens, d.Cost)
		}
		fmt.Fprintf(&b, "\nTotal spend: %d tokens, $%.4f.\n\n", r.TotalTokens, r.TotalCost)
	}

	fmt.Fprintf(&b, "## Consensus\n\n%d sessions: %d approved, %d rejected, %d inconclusive, %d abstained.\n",
		r.Consensus.Sessions, r.Consensus.Approved, r.Consensus.Rejected,
		r.Consensus.Inconclusive, r.Consensus.Abstained)
	return b.String()
}

func sortedStatuses(r *Report) []models.TaskStatus {
	statuses := make([]models.TaskStatus, 0, len(r.Queue))
	for s := range r.Queue {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	return statuses
}

// Package report builds session reports: what the queue did, what each
// delegate cost, and how consensus shook out over a window of time.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/alderai/triad/internal/state"
	"github.com/alderai/triad/pkg/models"
)

// Store is the slice of the state layer a report reads.
type Store interface {
	Stats() (*state.TaskStats, error)
	InvocationStats(since time.Time) (map[string]*state.DelegateStats, error)
	SpendByDelegate(since time.Time) (map[string]state.LedgerTotals, error)
	GlobalSpendSince(since time.Time) (*state.LedgerTotals, error)
	RecentConsensusSessions(since time.Time) ([]state.ConsensusSession, error)
}

// DelegateLine is one delegate's row in a report.
type DelegateLine struct {
	Name      string  `json:"name" yaml:"name"`
	Calls     int     `json:"calls" yaml:"calls"`
	Successes int     `json:"successes" yaml:"successes"`
	Failures  int     `json:"failures" yaml:"failures"`
	Timeouts  int     `json:"timeouts" yaml:"timeouts"`
	Tokens    int64   `json:"tokens" yaml:"tokens"`
	Cost      float64 `json:"cost" yaml:"cost"`
}

// ConsensusSummary aggregates verdict outcomes over the window.
type ConsensusSummary struct {
	Sessions     int `json:"sessions" yaml:"sessions"`
	Approved     int `json:"approved" yaml:"approved"`
	Rejected     int `json:"rejected" yaml:"rejected"`
	Inconclusive int `json:"inconclusive" yaml:"inconclusive"`
	Abstained    int `json:"abstained" yaml:"abstained"`
}

// Report is a snapshot of activity over a window.
type Report struct {
	GeneratedAt time.Time                 `json:"generated_at" yaml:"generated_at"`
	Window      time.Duration             `json:"window" yaml:"window"`
	Queue       map[models.TaskStatus]int `json:"queue" yaml:"queue"`
	QueueTotal  int                       `json:"queue_total" yaml:"queue_total"`
	Delegates   []DelegateLine            `json:"delegates" yaml:"delegates"`
	TotalTokens int64                     `json:"total_tokens" yaml:"total_tokens"`
	TotalCost   float64                   `json:"total_cost" yaml:"total_cost"`
	Consensus   ConsensusSummary          `json:"consensus" yaml:"consensus"`
}

// Generator assembles reports from the store.
type Generator struct {
	store Store
}

// NewGenerator creates a generator.
func NewGenerator(store Store) *Generator {
	return &Generator{store: store}
}

// Generate builds a report covering the given trailing window.
func (g *Generator) Generate(window time.Duration) (*Report, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	now := time.Now()
	since := now.Add(-window)

	r := &Report{GeneratedAt: now, Window: window}

	stats, err := g.store.Stats()
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	r.Queue = stats.ByStatus
	r.QueueTotal = stats.Total

	invStats, err := g.store.InvocationStats(since)
	if err != nil {
		return nil, fmt.Errorf("invocation stats: %w", err)
	}
	spend, err := g.store.SpendByDelegate(since)
	if err != nil {
		return nil, fmt.Errorf("spend by delegate: %w", err)
	}

	names := make(map[string]bool)
	for name := range invStats {
		names[name] = true
	}
	for name := range spend {
		names[name] = true
	}
	for name := range names {
		line := DelegateLine{Name: name}
		if s := invStats[name]; s != nil {
			line.Calls = s.Calls
			line.Successes = s.Successes
			line.Failures = s.Failures
			line.Timeouts = s.Timeouts
		}
		// The ledger, not the invocation log, is authoritative for spend.
		totals := spend[name]
		line.Tokens = totals.Tokens
		line.Cost = totals.Cost
		r.Delegates = append(r.Delegates, line)
	}
	sort.Slice(r.Delegates, func(i, j int) bool {
		return r.Delegates[i].Name < r.Delegates[j].Name
	})

	global, err := g.store.GlobalSpendSince(since)
	if err != nil {
		return nil, fmt.Errorf("global spend: %w", err)
	}
	r.TotalTokens = global.Tokens
	r.TotalCost = global.Cost

	sessions, err := g.store.RecentConsensusSessions(since)
	if err != nil {
		return nil, fmt.Errorf("consensus sessions: %w", err)
	}
	r.Consensus.Sessions = len(sessions)
	for _, s := range sessions {
		switch s.Decision {
		case models.VerdictApprove:
			r.Consensus.Approved++
		case models.VerdictReject:
			r.Consensus.Rejected++
		case models.VerdictInconclusive:
			r.Consensus.Inconclusive++
		case models.VerdictAbstain:
			r.Consensus.Abstained++
		}
	}

	return r, nil
}

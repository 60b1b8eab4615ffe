// Package status assembles a read-only snapshot of the system for the
// CLI and the dashboard: queue depth, per-delegate health, budget
// consumption, and worker liveness.
package status

import (
	"sort"
	"time"

	"github.com/alderai/triad/internal/breaker"
	"github.com/alderai/triad/internal/budget"
	"github.com/alderai/triad/internal/mailbox"
	"github.com/alderai/triad/internal/state"
)

// Store is the slice of the state layer the collector reads.
type Store interface {
	Stats() (*state.TaskStats, error)
	InvocationStats(since time.Time) (map[string]*state.DelegateStats, error)
}

// DelegateHealth combines a delegate's breaker state, budget position,
// and recent invocation outcomes.
type DelegateHealth struct {
	Name    string
	Breaker breaker.State
	Budget  budget.Usage
	Stats   *state.DelegateStats
}

// WorkerStatus describes one worker's mailbox.
type WorkerStatus struct {
	Agent    string
	Alive    bool
	LastBeat time.Time
	Pending  int
}

// Snapshot is one observation of the whole system.
type Snapshot struct {
	Time         time.Time
	Queue        *state.TaskStats
	Delegates    []DelegateHealth
	GlobalBudget budget.Usage
	Workers      []WorkerStatus
}

// Collector gathers snapshots. Router, enforcer, and mail may each be
// nil; the corresponding snapshot sections are left empty.
type Collector struct {
	store    Store
	router   *breaker.Router
	enforcer *budget.Enforcer
	mail     *mailbox.Mailbox

	// StatsWindow bounds the invocation aggregates. Defaults to 24h.
	StatsWindow time.Duration
	// HeartbeatInterval and DeadMultiple parameterize worker liveness.
	HeartbeatInterval time.Duration
	DeadMultiple      int
}

// NewCollector creates a collector over the given surfaces.
func NewCollector(store Store, router *breaker.Router, enforcer *budget.Enforcer, mail *mailbox.Mailbox) *Collector {
	return &Collector{
		store:             store,
		router:            router,
		enforcer:          enforcer,
		mail:              mail,
		StatsWindow:       24 * time.Hour,
		HeartbeatInterval: 10 * time.Second,
		DeadMultiple:      3,
	}
}

// Collect assembles a snapshot.
func (c *Collector) Collect() (*Snapshot, error) {
	snap := &Snapshot{Time: time.Now()}

	queueStats, err := c.store.Stats()
	if err != nil {
		return nil, err
	}
	snap.Queue = queueStats

	invStats, err := c.store.InvocationStats(snap.Time.Add(-c.StatsWindow))
	if err != nil {
		return nil, err
	}

	var budgets *budget.Snapshot
	if c.enforcer != nil {
		budgets, err = c.enforcer.Snapshot()
		if err != nil {
			return nil, err
		}
		snap.GlobalBudget = budgets.Global
	}

	names := make(map[string]bool)
	var breakerStates map[string]breaker.State
	if c.router != nil {
		breakerStates = c.router.States()
		for name := range breakerStates {
			names[name] = true
		}
	}
	for name := range invStats {
		names[name] = true
	}
	if budgets != nil {
		for name := range budgets.Delegates {
			names[name] = true
		}
	}

	for name := range names {
		health := DelegateHealth{Name: name, Stats: invStats[name]}
		if breakerStates != nil {
			health.Breaker = breakerStates[name]
		}
		if budgets != nil {
			health.Budget = budgets.Delegates[name]
		}
		snap.Delegates = append(snap.Delegates, health)
	}
	sort.Slice(snap.Delegates, func(i, j int) bool {
		return snap.Delegates[i].Name < snap.Delegates[j].Name
	})

	if c.mail != nil {
		workers, err := c.collectWorkers()
		if err != nil {
			return nil, err
		}
		snap.Workers = workers
	}

	return snap, nil
}

func (c *Collector) collectWorkers() ([]WorkerStatus, error) {
	agents, err := c.mail.Agents()
	if err != nil {
		return nil, err
	}
	var workers []WorkerStatus
	for _, agent := range agents {
		alive, err := c.mail.Alive(agent, c.HeartbeatInterval, c.DeadMultiple)
		if err != nil {
			return nil, err
		}
		last, err := c.mail.LastBeat(agent)
		if err != nil {
			return nil, err
		}
		pending, err := c.mail.PendingFor(agent)
		if err != nil {
			return nil, err
		}
		workers = append(workers, WorkerStatus{
			Agent:    agent,
			Alive:    alive,
			LastBeat: last,
			Pending:  pending,
		})
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].Agent < workers[j].Agent })
	return workers, nil
}

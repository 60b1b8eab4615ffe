// Package budget enforces spend limits over the persistent ledger. Limits
// are checked before a delegate is invoked, so a blocked delegate costs
// nothing. Totals are always derived from the ledger, never cached.
package budget

import (
	"errors"
	"fmt"
	"time"

	"github.com/alderai/triad/internal/config"
	"github.com/alderai/triad/internal/state"
	"github.com/alderai/triad/pkg/models"
)

var (
	// ErrGlobalBudgetExceeded is returned when the global daily cost limit
	// is hit. It blocks every delegate, regardless of per-delegate headroom.
	ErrGlobalBudgetExceeded = errors.New("global budget exceeded")
	// ErrDelegateBudgetExceeded is returned when one delegate's own limit
	// is hit.
	ErrDelegateBudgetExceeded = errors.New("delegate budget exceeded")
)

// Level is the severity of budget consumption.
type Level string

const (
	// LevelOK means spend is below the warning fraction.
	LevelOK Level = "ok"
	// LevelWarn means spend crossed the warning fraction but invocations
	// still proceed.
	LevelWarn Level = "warn"
	// LevelBlocked means spend crossed the blocking fraction and
	// invocations are refused.
	LevelBlocked Level = "blocked"
)

// Usage describes consumption against one limit.
type Usage struct {
	Delegate string
	Tokens   int64
	Cost     float64
	CostCap  float64
	TokenCap int64
	Level    Level
}

// Fraction returns the consumed fraction of the cost cap, or 0 when the
// cap is unset.
func (u Usage) Fraction() float64 {
	if u.CostCap <= 0 {
		return 0
	}
	return u.Cost / u.CostCap
}

// Snapshot is the full budget picture at one moment.
type Snapshot struct {
	Global    Usage
	Delegates map[string]Usage
}

// Enforcer checks spend against configured limits and records consumption.
// It implements the router's gate.
type Enforcer struct {
	store     state.LedgerStore
	cfg       config.BudgetConfig
	delegates map[string]config.DelegateConfig

	// now is replaceable for tests.
	now func() time.Time
}

// New creates an enforcer over the given ledger.
func New(store state.LedgerStore, cfg config.BudgetConfig, delegates map[string]config.DelegateConfig) *Enforcer {
	if cfg.WarnFraction <= 0 {
		cfg.WarnFraction = 0.70
	}
	if cfg.BlockFraction <= 0 {
		cfg.BlockFraction = 0.95
	}
	return &Enforcer{
		store:     store,
		cfg:       cfg,
		delegates: delegates,
		now:       time.Now,
	}
}

// Record persists the spend from one envelope into the ledger. Failed
// invocations are recorded too: tokens burned by a timed-out delegate are
// still burned.
func (e *Enforcer) Record(env *models.Envelope) error {
	if env.Tokens == 0 && env.Cost == 0 {
		return nil
	}
	return e.store.RecordSpend(env.Delegate, env.Tokens, env.Cost)
}

// Check reports whether the named delegate may be invoked. The global
// limit is evaluated first: when it blocks, a delegate with per-delegate
// headroom is still refused. A warn-level crossing does not refuse the
// invocation but is logged on the way through.
func (e *Enforcer) Check(delegateName string) error {
	level, err := e.CheckLevel(delegateName)
	if err != nil {
		return err
	}
	if level == LevelWarn {
		debugLog("budget warning for %s: spend past %.0f%% of cap", delegateName, e.cfg.WarnFraction*100)
	}
	return nil
}

// CheckLevel evaluates the global and per-delegate limits for one delegate
// and returns the worse of the two levels. A blocked level carries the
// matching sentinel error; ok and warn return a nil error so callers can
// proceed while still seeing the warning.
func (e *Enforcer) CheckLevel(delegateName string) (Level, error) {
	global, err := e.globalUsage()
	if err != nil {
		return LevelOK, err
	}
	if global.Level == LevelBlocked {
		return LevelBlocked, fmt.Errorf("%w: spent %.2f of %.2f", ErrGlobalBudgetExceeded, global.Cost, global.CostCap)
	}

	usage, err := e.delegateUsage(delegateName)
	if err != nil {
		return LevelOK, err
	}
	if usage.Level == LevelBlocked {
		return LevelBlocked, fmt.Errorf("%w: %s spent %.2f of %.2f", ErrDelegateBudgetExceeded, delegateName, usage.Cost, usage.CostCap)
	}
	if global.Level == LevelWarn || usage.Level == LevelWarn {
		return LevelWarn, nil
	}
	return LevelOK, nil
}

// Snapshot returns current consumption for the global limit and every
// configured delegate.
func (e *Enforcer) Snapshot() (*Snapshot, error) {
	global, err := e.globalUsage()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Global: global, Delegates: make(map[string]Usage, len(e.delegates))}
	for name := range e.delegates {
		usage, err := e.delegateUsage(name)
		if err != nil {
			return nil, err
		}
		snap.Delegates[name] = usage
	}
	return snap, nil
}

func (e *Enforcer) globalUsage() (Usage, error) {
	usage := Usage{CostCap: e.cfg.GlobalDailyCost, Level: LevelOK}
	if usage.CostCap <= 0 {
		return usage, nil
	}

	totals, err := e.store.GlobalSpendSince(e.dayStart())
	if err != nil {
		return usage, fmt.Errorf("global budget check: %w", err)
	}
	usage.Tokens = totals.Tokens
	usage.Cost = totals.Cost
	usage.Level = e.levelFor(usage.Cost, usage.CostCap, 0, 0)
	return usage, nil
}

func (e *Enforcer) delegateUsage(name string) (Usage, error) {
	usage := Usage{Delegate: name, Level: LevelOK}

	dcfg, ok := e.delegates[name]
	if !ok {
		return usage, nil
	}
	b := dcfg.Budget
	usage.CostCap = b.DailyCost
	usage.TokenCap = b.DailyTokens
	if b.DailyCost <= 0 && b.DailyTokens <= 0 {
		return usage, nil
	}

	since := e.dayStart()
	if b.Window == "rolling" && b.RollingWindow > 0 {
		since = e.now().Add(-b.RollingWindow)
	}

	totals, err := e.store.SpendSince(name, since)
	if err != nil {
		return usage, fmt.Errorf("budget check for %s: %w", name, err)
	}
	usage.Tokens = totals.Tokens
	usage.Cost = totals.Cost
	usage.Level = e.levelFor(usage.Cost, b.DailyCost, usage.Tokens, b.DailyTokens)
	return usage, nil
}

// levelFor grades consumption against cost and token caps, taking the
// worse of the two.
func (e *Enforcer) levelFor(cost, costCap float64, tokens, tokenCap int64) Level {
	level := LevelOK
	grade := func(fraction float64) {
		switch {
		case fraction >= e.cfg.BlockFraction:
			level = LevelBlocked
		case fraction >= e.cfg.WarnFraction && level != LevelBlocked:
			level = LevelWarn
		}
	}
	if costCap > 0 {
		grade(cost / costCap)
	}
	if tokenCap > 0 {
		grade(float64(tokens) / float64(tokenCap))
	}
	return level
}

// dayStart returns midnight UTC of the current day, the reset point for
// daily windows.
func (e *Enforcer) dayStart() time.Time {
	now := e.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

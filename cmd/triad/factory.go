package main

import (
	"fmt"

	"github.com/alderai/triad/internal/breaker"
	"github.com/alderai/triad/internal/budget"
	"github.com/alderai/triad/internal/config"
	"github.com/alderai/triad/internal/consensus"
	"github.com/alderai/triad/internal/delegate"
	"github.com/alderai/triad/internal/exec"
	"github.com/alderai/triad/internal/state"
)

// openStore opens and migrates the task database.
func openStore() (*state.DB, error) {
	db, err := state.Open(state.DefaultPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// buildBackend constructs one delegate backend from config: the API runner
// when use_api is set, a CLI invoker otherwise.
func buildBackend(name string, cfg *config.Config) (delegate.Backend, error) {
	dcfg, ok := cfg.Delegates[name]
	if !ok {
		return nil, fmt.Errorf("delegate %q is not configured", name)
	}
	if dcfg.UseAPI {
		return delegate.NewAPIRunner(name, dcfg, cfg.Anthropic, cfg.Invoker)
	}
	return delegate.NewInvoker(name, dcfg, cfg.Invoker, exec.NewRunner())
}

// buildChain constructs the fallback chain in configured order.
func buildChain(cfg *config.Config) ([]delegate.Backend, error) {
	order := cfg.Fallback
	if len(order) == 0 {
		for name := range cfg.Delegates {
			order = append(order, name)
		}
	}
	var chain []delegate.Backend
	for _, name := range order {
		b, err := buildBackend(name, cfg)
		if err != nil {
			return nil, err
		}
		chain = append(chain, b)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no delegates configured")
	}
	return chain, nil
}

// buildEnforcer constructs the budget enforcer over the ledger.
func buildEnforcer(db *state.DB, cfg *config.Config) *budget.Enforcer {
	return budget.New(db, cfg.Budget, cfg.Delegates)
}

// buildRouter constructs the breaker-guarded fallback router.
func buildRouter(chain []delegate.Backend, enforcer *budget.Enforcer, cfg *config.Config) *breaker.Router {
	return breaker.NewRouter(chain, enforcer, func() *breaker.Breaker {
		return breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.Window, cfg.Breaker.CoolDown)
	})
}

// buildVerifier constructs the consensus verifier over the same backends.
func buildVerifier(chain []delegate.Backend, db *state.DB, enforcer *budget.Enforcer, cfg *config.Config) (*consensus.Verifier, error) {
	engine, err := consensus.NewEngine(cfg.Consensus.Policy, cfg.Consensus.Quorum, cfg.Consensus.Epsilon)
	if err != nil {
		return nil, err
	}
	weights := make(map[string]float64, len(cfg.Delegates))
	for name, dcfg := range cfg.Delegates {
		weights[name] = dcfg.Weight
	}
	return consensus.NewVerifier(engine, chain, weights, db, enforcer, enforcer), nil
}

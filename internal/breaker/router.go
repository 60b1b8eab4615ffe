package breaker

import (
	"context"
	"fmt"
	"sync"

	"github.com/alderai/triad/internal/delegate"
	"github.com/alderai/triad/pkg/models"
)

// Gate decides whether a delegate may be invoked at all. The budget
// enforcer implements this; a nil error means go ahead.
type Gate interface {
	Check(delegateName string) error
}

// nopGate admits everything.
type nopGate struct{}

func (nopGate) Check(string) error { return nil }

// Router walks an ordered delegate chain, skipping delegates whose circuit
// is open or whose budget gate refuses, until one produces a usable
// envelope. A skipped delegate costs nothing: no subprocess is spawned and
// no API call is made.
type Router struct {
	mu       sync.Mutex
	chain    []delegate.Backend
	breakers map[string]*Breaker
	gate     Gate
}

// NewRouter creates a router over the given fallback chain. Each delegate
// gets its own breaker with the given parameters.
func NewRouter(chain []delegate.Backend, gate Gate, newBreaker func() *Breaker) *Router {
	if gate == nil {
		gate = nopGate{}
	}
	breakers := make(map[string]*Breaker, len(chain))
	for _, b := range chain {
		breakers[b.Name()] = newBreaker()
	}
	return &Router{
		chain:    chain,
		breakers: breakers,
		gate:     gate,
	}
}

// BreakerFor returns the breaker guarding the named delegate, or nil if
// the delegate is not in the chain.
func (r *Router) BreakerFor(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakers[name]
}

// States returns the current circuit state per delegate.
func (r *Router) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}

// Invoke tries the chain in order and returns the first successful
// envelope. Every attempt, including skips, is returned so callers can
// persist the full trail. When the whole chain is unavailable or failing,
// the final envelope abstains.
func (r *Router) Invoke(ctx context.Context, prompt string, opts delegate.Options) (*models.Envelope, []*models.Envelope) {
	var attempts []*models.Envelope

	for _, backend := range r.chain {
		if err := ctx.Err(); err != nil {
			env := skipEnvelope(backend.Name(), models.StatusError, fmt.Sprintf("cancelled: %v", err))
			attempts = append(attempts, env)
			return env, attempts
		}

		name := backend.Name()
		br := r.BreakerFor(name)

		if err := r.gate.Check(name); err != nil {
			attempts = append(attempts, skipEnvelope(name, models.StatusError, err.Error()))
			continue
		}

		if br != nil && !br.Allow() {
			attempts = append(attempts, skipEnvelope(name, models.StatusCircuitOpen, "circuit open, delegate skipped"))
			continue
		}

		env := backend.Invoke(ctx, prompt, opts)
		attempts = append(attempts, env)
		if br != nil {
			br.Record(env.Status == models.StatusSuccess)
		}

		if env.Status == models.StatusSuccess {
			return env, attempts
		}
	}

	env := skipEnvelope("", models.StatusError, "all delegates in the fallback chain are unavailable")
	attempts = append(attempts, env)
	return env, attempts
}

// skipEnvelope builds an abstaining envelope for a delegate that was never
// actually run.
func skipEnvelope(name string, status models.InvokeStatus, reason string) *models.Envelope {
	return &models.Envelope{
		Delegate:  name,
		Status:    status,
		Decision:  models.DecisionAbstain,
		Reasoning: reason,
	}
}

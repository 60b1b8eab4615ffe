package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alderai/triad/internal/delegate"
	"github.com/alderai/triad/pkg/models"
)

// fixedClock lets tests advance time manually.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time { return c.t }

func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, window, coolDown time.Duration) (*Breaker, *fixedClock) {
	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	b := New(threshold, window, coolDown)
	b.now = clock.now
	return b, clock
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute, 30*time.Second)

	b.Record(false)
	b.Record(false)
	if b.State() != StateClosed {
		t.Fatalf("state = %v after 2 failures, want closed", b.State())
	}
	if !b.Allow() {
		t.Error("closed breaker should allow calls")
	}

	b.Record(false)
	if b.State() != StateOpen {
		t.Fatalf("state = %v after 3 failures, want open", b.State())
	}
	if b.Allow() {
		t.Error("open breaker should reject calls")
	}
}

func TestBreaker_WindowExpiry(t *testing.T) {
	b, clock := newTestBreaker(3, time.Minute, 30*time.Second)

	b.Record(false)
	b.Record(false)
	// The first two failures age out of the window.
	clock.advance(2 * time.Minute)
	b.Record(false)

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed when failures are spread past the window", b.State())
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute, 30*time.Second)

	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(false)

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after a success broke the streak", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute, 30*time.Second)

	b.Record(false)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	clock.advance(30 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v after cool-down, want half-open", b.State())
	}

	if !b.Allow() {
		t.Fatal("half-open breaker should allow one probe")
	}
	if b.Allow() {
		t.Error("second caller got through while the probe was in flight")
	}

	b.Record(true)
	if b.State() != StateClosed {
		t.Errorf("state = %v after probe success, want closed", b.State())
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute, 30*time.Second)

	b.Record(false)
	clock.advance(30 * time.Second)
	if !b.Allow() {
		t.Fatal("expected probe slot")
	}

	b.Record(false)
	if b.Allow() {
		t.Error("breaker should be open again after a failed probe")
	}

	// A fresh cool-down applies.
	clock.advance(30 * time.Second)
	if !b.Allow() {
		t.Error("expected a new probe after the second cool-down")
	}
}

// scriptedBackend returns canned envelopes in order.
type scriptedBackend struct {
	name     string
	statuses []models.InvokeStatus
	calls    int
}

func (s *scriptedBackend) Name() string { return s.name }

func (s *scriptedBackend) Invoke(ctx context.Context, prompt string, opts delegate.Options) *models.Envelope {
	status := models.StatusSuccess
	if s.calls < len(s.statuses) {
		status = s.statuses[s.calls]
	}
	s.calls++
	env := &models.Envelope{Delegate: s.name, Status: status, Decision: models.DecisionAbstain}
	if status == models.StatusSuccess {
		env.Decision = models.DecisionApprove
		env.Confidence = 0.7
	}
	return env
}

type blockingGate struct {
	blocked map[string]error
}

func (g *blockingGate) Check(name string) error {
	return g.blocked[name]
}

func newRouterBreaker() *Breaker {
	return New(1, time.Minute, time.Hour)
}

func TestRouter_FirstHealthyWins(t *testing.T) {
	primary := &scriptedBackend{name: "claude"}
	secondary := &scriptedBackend{name: "gemini"}
	r := NewRouter([]delegate.Backend{primary, secondary}, nil, newRouterBreaker)

	env, attempts := r.Invoke(context.Background(), "review", delegate.Options{})
	if env.Delegate != "claude" || env.Status != models.StatusSuccess {
		t.Errorf("envelope = %+v, want success from claude", env)
	}
	if len(attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(attempts))
	}
	if secondary.calls != 0 {
		t.Error("secondary invoked although primary succeeded")
	}
}

func TestRouter_FallsBackOnFailure(t *testing.T) {
	primary := &scriptedBackend{name: "claude", statuses: []models.InvokeStatus{models.StatusTimeout}}
	secondary := &scriptedBackend{name: "gemini"}
	r := NewRouter([]delegate.Backend{primary, secondary}, nil, newRouterBreaker)

	env, attempts := r.Invoke(context.Background(), "review", delegate.Options{})
	if env.Delegate != "gemini" {
		t.Errorf("envelope from %q, want gemini", env.Delegate)
	}
	if len(attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(attempts))
	}
}

func TestRouter_OpenCircuitSkipsWithoutInvoking(t *testing.T) {
	primary := &scriptedBackend{name: "claude", statuses: []models.InvokeStatus{models.StatusError}}
	secondary := &scriptedBackend{name: "gemini"}
	r := NewRouter([]delegate.Backend{primary, secondary}, nil, newRouterBreaker)

	// Trip claude's breaker (threshold 1).
	r.Invoke(context.Background(), "review", delegate.Options{})
	primaryCallsAfterTrip := primary.calls

	env, attempts := r.Invoke(context.Background(), "review", delegate.Options{})
	if primary.calls != primaryCallsAfterTrip {
		t.Error("open circuit still invoked the delegate")
	}
	if env.Delegate != "gemini" || env.Status != models.StatusSuccess {
		t.Errorf("envelope = %+v, want fallback success", env)
	}
	if attempts[0].Status != models.StatusCircuitOpen {
		t.Errorf("skip status = %v, want circuit_open", attempts[0].Status)
	}
}

func TestRouter_GateBlocksDelegate(t *testing.T) {
	primary := &scriptedBackend{name: "claude"}
	secondary := &scriptedBackend{name: "gemini"}
	gate := &blockingGate{blocked: map[string]error{"claude": errors.New("daily budget exhausted")}}
	r := NewRouter([]delegate.Backend{primary, secondary}, gate, newRouterBreaker)

	env, _ := r.Invoke(context.Background(), "review", delegate.Options{})
	if primary.calls != 0 {
		t.Error("budget-blocked delegate was invoked")
	}
	if env.Delegate != "gemini" {
		t.Errorf("envelope from %q, want gemini", env.Delegate)
	}
}

func TestRouter_ChainExhausted(t *testing.T) {
	primary := &scriptedBackend{name: "claude", statuses: []models.InvokeStatus{models.StatusError}}
	secondary := &scriptedBackend{name: "gemini", statuses: []models.InvokeStatus{models.StatusTimeout}}
	r := NewRouter([]delegate.Backend{primary, secondary}, nil, newRouterBreaker)

	env, attempts := r.Invoke(context.Background(), "review", delegate.Options{})
	if env.Decision != models.DecisionAbstain {
		t.Errorf("decision = %v, want abstain on exhaustion", env.Decision)
	}
	if env.Status == models.StatusSuccess {
		t.Error("exhausted chain reported success")
	}
	// Two real attempts plus the terminal abstain.
	if len(attempts) != 3 {
		t.Errorf("attempts = %d, want 3", len(attempts))
	}
}

func TestRouter_CancelledContext(t *testing.T) {
	primary := &scriptedBackend{name: "claude"}
	r := NewRouter([]delegate.Backend{primary}, nil, newRouterBreaker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env, _ := r.Invoke(ctx, "review", delegate.Options{})
	if primary.calls != 0 {
		t.Error("cancelled context still invoked the delegate")
	}
	if env.Decision != models.DecisionAbstain {
		t.Errorf("decision = %v, want abstain", env.Decision)
	}
}

package consensus

import (
	"context"
	"fmt"
	"sync"

	"github.com/alderai/triad/internal/delegate"
	"github.com/alderai/triad/internal/state"
	"github.com/alderai/triad/pkg/models"
)

// Gate is checked before each voter is invoked. The budget enforcer
// implements this.
type Gate interface {
	Check(delegateName string) error
}

// Spender records consumption after each invocation.
type Spender interface {
	Record(env *models.Envelope) error
}

// Verifier runs a consensus round over a task: it invokes every eligible
// voter, persists the session, votes, and invocations, and aggregates the
// ballots into a verdict.
type Verifier struct {
	engine  *Engine
	voters  []delegate.Backend
	weights map[string]float64
	store   state.Store
	gate    Gate
	spender Spender
}

// NewVerifier creates a verifier. Weights are only consulted by the
// weighted policy; missing entries default to 1. Gate and spender may be
// nil.
func NewVerifier(engine *Engine, voters []delegate.Backend, weights map[string]float64, store state.Store, gate Gate, spender Spender) *Verifier {
	return &Verifier{
		engine:  engine,
		voters:  voters,
		weights: weights,
		store:   store,
		gate:    gate,
		spender: spender,
	}
}

// Verify runs one voting round for the task. The task's implementer never
// votes on its own output. The verdict is persisted before it is returned;
// an inconclusive verdict is stored like any other and left to the caller
// to escalate.
func (v *Verifier) Verify(ctx context.Context, task *models.Task) (*models.Verdict, error) {
	session, err := v.store.CreateConsensusSession(task.ID, v.engine.Policy(), task.Implementer)
	if err != nil {
		return nil, err
	}

	eligible := make([]delegate.Backend, 0, len(v.voters))
	for _, voter := range v.voters {
		if voter.Name() == task.Implementer {
			continue
		}
		eligible = append(eligible, voter)
	}

	prompt := buildReviewPrompt(task)

	// Budget-blocked voters abstain without being invoked.
	var blocked []*models.Envelope
	invocable := make([]delegate.Backend, 0, len(eligible))
	for _, voter := range eligible {
		if v.gate != nil {
			if err := v.gate.Check(voter.Name()); err != nil {
				blocked = append(blocked, &models.Envelope{
					Delegate:  voter.Name(),
					Status:    models.StatusError,
					Decision:  models.DecisionAbstain,
					Reasoning: err.Error(),
				})
				continue
			}
		}
		invocable = append(invocable, voter)
	}

	envelopes := append(v.collect(ctx, invocable, prompt), blocked...)

	var ballots []Ballot
	for _, env := range envelopes {
		if v.spender != nil {
			if err := v.spender.Record(env); err != nil {
				return nil, err
			}
		}
		if _, err := v.store.RecordInvocation(task.ID, delegate.RequestDigest(prompt), env); err != nil {
			return nil, err
		}
		if err := v.store.RecordVote(&state.Vote{
			SessionID:  session.ID,
			Agent:      env.Delegate,
			Decision:   env.Decision,
			Confidence: env.Confidence,
			Reasoning:  env.Reasoning,
		}); err != nil {
			return nil, err
		}

		ballot := Ballot{
			Agent:      env.Delegate,
			Confidence: env.Confidence,
			Weight:     v.weights[env.Delegate],
			TraceID:    env.TraceID,
		}
		// A delegate that failed or abstained contributes an abstain
		// ballot: it is present but carries no countable signal.
		if env.Voted() {
			ballot.Decision = env.Decision
		} else {
			ballot.Decision = models.DecisionAbstain
		}
		ballots = append(ballots, ballot)
	}

	verdict := v.engine.Decide(task.ID, ballots)
	if err := v.store.CloseConsensusSession(session.ID, verdict); err != nil {
		return nil, err
	}
	return verdict, nil
}

// collect invokes the voters concurrently. Envelope order follows voter
// order, not completion order.
func (v *Verifier) collect(ctx context.Context, voters []delegate.Backend, prompt string) []*models.Envelope {
	envelopes := make([]*models.Envelope, len(voters))
	var wg sync.WaitGroup
	for i, voter := range voters {
		wg.Add(1)
		go func(i int, voter delegate.Backend) {
			defer wg.Done()
			envelopes[i] = voter.Invoke(ctx, prompt, delegate.Options{})
		}(i, voter)
	}
	wg.Wait()
	return envelopes
}

func buildReviewPrompt(task *models.Task) string {
	return fmt.Sprintf(`You are reviewing completed work for correctness.

Reply with exactly one of: APPROVE, REJECT, or ABSTAIN, followed by a short justification.

Task:
%s`, task.Payload)
}

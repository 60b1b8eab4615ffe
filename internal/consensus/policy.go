// Package consensus aggregates delegate votes into a verdict. Policies
// never guess: any outcome the policy cannot justify becomes an
// inconclusive verdict, which is escalated rather than defaulted.
package consensus

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/alderai/triad/pkg/models"
)

// Policy names accepted in configuration.
const (
	PolicyMajority = "majority"
	PolicyWeighted = "weighted"
	PolicyVeto     = "veto"
)

// Ballot is one delegate's vote as seen by the policy.
type Ballot struct {
	Agent      string
	Decision   models.Decision
	Confidence float64
	Weight     float64
	TraceID    string
}

// Engine applies a voting policy to a set of ballots.
type Engine struct {
	policy  string
	quorum  int
	epsilon float64
}

// NewEngine creates an engine for the named policy. Quorum is the minimum
// number of non-abstaining ballots required before any policy may decide.
// Epsilon is the weighted policy's dead zone: weight margins inside it are
// inconclusive.
func NewEngine(policy string, quorum int, epsilon float64) (*Engine, error) {
	switch policy {
	case PolicyMajority, PolicyWeighted, PolicyVeto:
	default:
		return nil, fmt.Errorf("unknown consensus policy %q", policy)
	}
	if quorum < 1 {
		quorum = 2
	}
	if epsilon < 0 {
		epsilon = 0
	}
	return &Engine{policy: policy, quorum: quorum, epsilon: epsilon}, nil
}

// Policy returns the engine's policy name.
func (e *Engine) Policy() string {
	return e.policy
}

// Decide aggregates the ballots into a verdict. The quorum check runs
// before any policy logic: too few countable votes means inconclusive no
// matter what the votes say. A round where every delegate abstained is
// labeled abstain rather than inconclusive, marking absence of signal
// instead of disagreement; both escalate.
func (e *Engine) Decide(taskID string, ballots []Ballot) *models.Verdict {
	v := &models.Verdict{
		TaskID: taskID,
		Policy: e.policy,
	}
	for _, b := range ballots {
		if b.TraceID != "" {
			v.InvocationIDs = append(v.InvocationIDs, b.TraceID)
		}
	}

	var countable []Ballot
	for _, b := range ballots {
		switch b.Decision {
		case models.DecisionApprove:
			v.Approvals++
			countable = append(countable, b)
		case models.DecisionReject:
			v.Rejections++
			countable = append(countable, b)
		}
	}

	if len(ballots) > 0 && len(countable) == 0 {
		v.Decision = models.VerdictAbstain
		v.Reason = fmt.Sprintf("all %d delegates abstained", len(ballots))
		return v
	}

	if len(countable) < e.quorum {
		v.Decision = models.VerdictInconclusive
		v.Reason = fmt.Sprintf("quorum not reached: %d countable votes, need %d", len(countable), e.quorum)
		return v
	}
	v.QuorumReached = true

	switch e.policy {
	case PolicyVeto:
		e.decideVeto(v, countable)
	case PolicyWeighted:
		e.decideWeighted(v, countable)
	default:
		e.decideMajority(v, countable)
	}
	return v
}

// decideMajority takes the strictly larger side. A tie is inconclusive.
func (e *Engine) decideMajority(v *models.Verdict, countable []Ballot) {
	switch {
	case v.Approvals > v.Rejections:
		v.Decision = models.VerdictApprove
		v.Confidence = meanConfidence(countable, models.DecisionApprove)
		v.Reason = fmt.Sprintf("%d approvals over %d rejections", v.Approvals, v.Rejections)
	case v.Rejections > v.Approvals:
		v.Decision = models.VerdictReject
		v.Confidence = meanConfidence(countable, models.DecisionReject)
		v.Reason = fmt.Sprintf("%d rejections over %d approvals", v.Rejections, v.Approvals)
	default:
		v.Decision = models.VerdictInconclusive
		v.Reason = fmt.Sprintf("tied at %d votes each", v.Approvals)
	}
}

// decideVeto rejects on any rejection, regardless of how many approvals
// surround it.
func (e *Engine) decideVeto(v *models.Verdict, countable []Ballot) {
	if v.Rejections > 0 {
		vetoers := agentsVoting(countable, models.DecisionReject)
		v.Decision = models.VerdictReject
		v.Confidence = meanConfidence(countable, models.DecisionReject)
		v.Reason = fmt.Sprintf("vetoed by %s", strings.Join(vetoers, ", "))
		return
	}
	v.Decision = models.VerdictApprove
	v.Confidence = meanConfidence(countable, models.DecisionApprove)
	v.Reason = fmt.Sprintf("%d approvals, no veto", v.Approvals)
}

// decideWeighted takes the side with the larger summed configured weight.
// Confidence never moves the outcome; it only feeds the verdict's
// aggregate confidence. Weight margins within epsilon are inconclusive.
func (e *Engine) decideWeighted(v *models.Verdict, countable []Ballot) {
	var approveWeight, rejectWeight float64
	for _, b := range countable {
		weight := b.Weight
		if weight <= 0 {
			weight = 1
		}
		if b.Decision == models.DecisionApprove {
			approveWeight += weight
		} else {
			rejectWeight += weight
		}
	}

	margin := approveWeight - rejectWeight
	if math.Abs(margin) <= e.epsilon {
		v.Decision = models.VerdictInconclusive
		v.Reason = fmt.Sprintf("weight margin %.3f within epsilon %.3f", margin, e.epsilon)
		return
	}
	if margin > 0 {
		v.Decision = models.VerdictApprove
		v.Confidence = meanConfidence(countable, models.DecisionApprove)
		v.Reason = fmt.Sprintf("approve weight %.3f over reject weight %.3f", approveWeight, rejectWeight)
	} else {
		v.Decision = models.VerdictReject
		v.Confidence = meanConfidence(countable, models.DecisionReject)
		v.Reason = fmt.Sprintf("reject weight %.3f over approve weight %.3f", rejectWeight, approveWeight)
	}
}

func meanConfidence(ballots []Ballot, side models.Decision) float64 {
	var sum float64
	var n int
	for _, b := range ballots {
		if b.Decision == side {
			sum += b.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func agentsVoting(ballots []Ballot, side models.Decision) []string {
	var agents []string
	for _, b := range ballots {
		if b.Decision == side {
			agents = append(agents, b.Agent)
		}
	}
	sort.Strings(agents)
	return agents
}

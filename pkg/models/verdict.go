package models

// VerdictDecision is the aggregated outcome of a consensus round.
type VerdictDecision string

const (
	// VerdictApprove indicates the policy approved the task.
	VerdictApprove VerdictDecision = "APPROVE"
	// VerdictReject indicates the policy rejected the task.
	VerdictReject VerdictDecision = "REJECT"
	// VerdictAbstain indicates every contributing delegate abstained.
	VerdictAbstain VerdictDecision = "ABSTAIN"
	// VerdictInconclusive indicates the policy could not decide: quorum was
	// not reached, votes tied, or weights landed within epsilon of each
	// other. Inconclusive verdicts are always escalated, never defaulted.
	VerdictInconclusive VerdictDecision = "INCONCLUSIVE"
)

// Verdict is the consensus engine's aggregated decision for one task.
type Verdict struct {
	// TaskID is the task this verdict applies to.
	TaskID string `json:"task_id"`
	// InvocationIDs are the trace IDs of the contributing envelopes.
	InvocationIDs []string `json:"invocation_ids"`
	// Policy is the name of the voting policy that was applied.
	Policy string `json:"policy"`
	// Decision is the aggregated outcome.
	Decision VerdictDecision `json:"decision"`
	// Confidence is the aggregate confidence of the winning side.
	Confidence float64 `json:"confidence"`
	// QuorumReached is true if enough non-abstaining votes were present.
	QuorumReached bool `json:"quorum_reached"`
	// Approvals and Rejections are the raw vote counts.
	Approvals  int `json:"approvals"`
	Rejections int `json:"rejections"`
	// Reason explains why the decision was reached, for audit and escalation.
	Reason string `json:"reason,omitempty"`
}

// NeedsEscalation reports whether this verdict must be escalated rather
// than acted on directly. Inconclusive and abstain rounds both qualify:
// neither carries a decision, and a task waiting on one would otherwise
// sit in verification with nothing coming back for it.
func (v *Verdict) NeedsEscalation() bool {
	return v.Decision == VerdictInconclusive || v.Decision == VerdictAbstain
}

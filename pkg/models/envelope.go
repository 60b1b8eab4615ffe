// Package models defines the shared data types exchanged between the
// queue, delegates, consensus engine, and status surfaces.
package models

import "time"

// Decision is the structured judgment extracted from a delegate's output.
type Decision string

const (
	// DecisionApprove indicates the delegate approved the work.
	DecisionApprove Decision = "APPROVE"
	// DecisionReject indicates the delegate rejected the work.
	DecisionReject Decision = "REJECT"
	// DecisionAbstain indicates the delegate could not or would not judge.
	// Every non-success invocation carries an Abstain decision.
	DecisionAbstain Decision = "ABSTAIN"
)

// Valid returns true if the decision is a known value.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionAbstain:
		return true
	default:
		return false
	}
}

// InvokeStatus classifies the process-level outcome of a delegate invocation.
type InvokeStatus string

const (
	// StatusSuccess indicates the delegate produced parseable output.
	StatusSuccess InvokeStatus = "success"
	// StatusTimeout indicates the process was killed after exceeding its timeout.
	StatusTimeout InvokeStatus = "timeout"
	// StatusRateLimited indicates the backend reported rate limiting.
	StatusRateLimited InvokeStatus = "rate_limited"
	// StatusAuthError indicates invalid or missing credentials.
	StatusAuthError InvokeStatus = "auth_error"
	// StatusNotFound indicates the delegate executable is missing.
	StatusNotFound InvokeStatus = "not_found"
	// StatusCircuitOpen indicates the router refused the call without spawning.
	StatusCircuitOpen InvokeStatus = "circuit_open"
	// StatusError covers remaining failures (spawn error, malformed output).
	StatusError InvokeStatus = "error"
)

// Retryable reports whether the failure class is worth retrying against the
// same delegate. Configuration errors and resource exhaustion are not;
// those reroute or surface immediately.
func (s InvokeStatus) Retryable() bool {
	switch s {
	case StatusTimeout, StatusRateLimited, StatusError:
		return true
	default:
		return false
	}
}

// Envelope is the normalized result of one delegate invocation.
// Invokers always return an envelope; raw errors never cross the boundary.
type Envelope struct {
	// Delegate is the ID of the backend that produced this envelope.
	Delegate string `json:"delegate"`
	// Status is the process-level outcome.
	Status InvokeStatus `json:"status"`
	// Decision is the extracted judgment. Abstain unless Status is success.
	Decision Decision `json:"decision"`
	// Confidence is the certainty estimate in [0,1]. Only meaningful when
	// Status is success.
	Confidence float64 `json:"confidence"`
	// Reasoning is the (truncated, masked) explanation text.
	Reasoning string `json:"reasoning"`
	// TraceID uniquely identifies this invocation for auditing.
	TraceID string `json:"trace_id"`
	// Duration is the wall-clock time of the invocation.
	Duration time.Duration `json:"duration_ms"`
	// Tokens is the estimated token consumption.
	Tokens int64 `json:"tokens,omitempty"`
	// Cost is the estimated dollar cost.
	Cost float64 `json:"cost,omitempty"`
}

// Voted reports whether the envelope carries a real vote, i.e. a successful
// invocation that did not abstain. Only voted envelopes count toward quorum
// arithmetic.
func (e *Envelope) Voted() bool {
	return e.Status == StatusSuccess && e.Decision != DecisionAbstain
}

package models

import "time"

// Decision is one append-only record of an MDAP vote outcome.
type Decision struct {
	Timestamp     time.Time `json:"timestamp"`
	Phase         string    `json:"phase"`
	StepID        string    `json:"step_id"`
	Rationale     string    `json:"rationale"` // why this vote terminated
	WinningMargin int       `json:"winning_margin"`
	SamplesUsed   int       `json:"samples_used"`
	Rejections    int       `json:"rejections"`
	Tokens        int       `json:"tokens"`
	CostEstimate  float64   `json:"cost_estimate"`
}

// Transition is one state-machine step, accepted or rejected, recorded
// by the decision tracker in causal order.
type Transition struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Accepted  bool      `json:"accepted"`
}

// FailureKind classifies a structured failure surfaced to the caller.
type FailureKind string

// Failure kinds, one per error-taxonomy branch.
const (
	FailureTransport  FailureKind = "transport"
	FailureExhausted  FailureKind = "vote_exhausted"
	FailureBudget     FailureKind = "budget_exhausted"
	FailureTransition FailureKind = "illegal_transition"
	FailureCancelled  FailureKind = "cancelled"
	FailureInternal   FailureKind = "internal"
)

// Failure is the single user-visible failure object. The core never lets
// an out-of-band panic or error escape; callers receive this instead.
type Failure struct {
	Kind        FailureKind `json:"kind"`
	Message     string      `json:"message"`
	Recoverable bool        `json:"recoverable"`
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

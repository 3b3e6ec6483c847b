// Package vote implements MDAP voting: candidate sampling, the red-flag
// filter, pairwise LLM discrimination, and the first-to-ahead-by-k rule.
package vote

import (
	"context"
	"errors"

	"github.com/dirgogoo/mdap/pkg/models"
)

// Termination states why a vote ended.
type Termination string

// Vote termination reasons.
const (
	TerminatedAheadByK   Termination = "AHEAD_BY_K"
	TerminatedMaxSamples Termination = "MAX_SAMPLES"
	TerminatedCancelled  Termination = "CANCELLED"
	TerminatedBudget     Termination = "BUDGET_EXHAUSTED"
)

// Sentinel errors delivered through the cooperative gate.
var (
	// ErrCancelled aborts the current vote without mutating context.
	ErrCancelled = errors.New("vote cancelled")
	// ErrBudgetExhausted aborts the current vote because a hard budget
	// was breached.
	ErrBudgetExhausted = errors.New("budget exhausted")
)

// TokenUsage accumulates token counts for one candidate or one vote.
type TokenUsage struct {
	Input  int
	Output int
}

// Add accumulates usage in place.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
}

// Total returns input + output tokens.
func (u TokenUsage) Total() int { return u.Input + u.Output }

// Candidate is one LLM sample for a step. Group membership is assigned
// exactly once; candidates are never mutated afterward.
type Candidate struct {
	ID             string
	RawText        string
	NormalizedText string
	GroupID        int // -1 until grouped; stays -1 for red-flagged candidates
	RedFlagReason  string
	Usage          TokenUsage
}

// Group is a set of candidates judged semantically equivalent. The
// representative is the first candidate placed in it; members keep
// insertion order.
type Group struct {
	ID             int
	Representative *Candidate
	Members        []*Candidate
}

// Result is the outcome of one vote.
type Result struct {
	Winner        *Candidate // representative of the winning group; nil on cancellation before any sample
	TotalSamples  int          // accepted candidates
	Rejections    int          // red-flagged candidates (not counted in TotalSamples)
	Rejected      []*Candidate // red-flagged candidates with their reasons
	Groups        []*Group     // ascending group id
	VotesPerGroup map[int]int
	WinningMargin int // >= k on a normal win, < k on exhaustion
	TerminatedBy  Termination
	Usage         TokenUsage // sampling + discrimination tokens for this vote
}

// Generator produces one raw candidate for a step against a fixed
// snapshot. Implementations own transport retries; a returned error means
// the sample is lost (red-flag accounting), not that the vote failed.
type Generator func(ctx context.Context, step models.Step, snap models.ContextSnapshot) (string, TokenUsage, error)

// Discriminator answers pairwise semantic equivalence. Uncertainty and
// transport failure both resolve to "not equivalent" — groups stay
// separate when in doubt.
type Discriminator interface {
	Equivalent(ctx context.Context, snap models.ContextSnapshot, a, b string) (bool, TokenUsage, error)
}

// Gate is the cooperative checkpoint observed before every outbound LLM
// request. Checkpoint blocks while the pipeline is paused and returns
// ErrCancelled or ErrBudgetExhausted when the vote must stop.
type Gate interface {
	Checkpoint(ctx context.Context) error
}

// NopGate is a Gate that never pauses and only stops a vote when its
// context is done. Useful in tests and for one-shot phase runs outside a
// managed pipeline.
type NopGate struct{}

// Checkpoint passes unless ctx is done, in which case it returns ctx.Err().
func (NopGate) Checkpoint(ctx context.Context) error { return ctx.Err() }

// Package track is the append-only decision log: every MDAP vote outcome
// and every state-machine transition, in causal order, with read-only
// queries over the in-memory log and an optional SQLite sink for
// post-run inspection.
package track

import (
	"log/slog"
	"sync"

	"github.com/dirgogoo/mdap/pkg/models"
)

// Sink receives a durable copy of every appended record. Sinks must not
// block; failures are logged and do not affect the in-memory log.
type Sink interface {
	InsertDecision(d models.Decision) error
	InsertTransition(tr models.Transition) error
}

// Tracker is the in-memory append-only log. A single mutex guards both
// slices; entries are appended in causal order.
type Tracker struct {
	mu          sync.Mutex
	decisions   []models.Decision
	transitions []models.Transition
	sink        Sink
}

// New creates a Tracker. sink may be nil (in-memory only).
func New(sink Sink) *Tracker {
	return &Tracker{sink: sink}
}

// Append records a vote decision.
func (t *Tracker) Append(d models.Decision) {
	t.mu.Lock()
	t.decisions = append(t.decisions, d)
	t.mu.Unlock()

	if t.sink != nil {
		if err := t.sink.InsertDecision(d); err != nil {
			slog.Warn("Decision sink insert failed", "error", err)
		}
	}
}

// RecordTransition implements the pipeline's transition sink.
func (t *Tracker) RecordTransition(tr models.Transition) {
	t.mu.Lock()
	t.transitions = append(t.transitions, tr)
	t.mu.Unlock()

	if t.sink != nil {
		if err := t.sink.InsertTransition(tr); err != nil {
			slog.Warn("Transition sink insert failed", "error", err)
		}
	}
}

// LastN returns the most recent n decisions, oldest first. n <= 0 returns
// everything.
func (t *Tracker) LastN(n int) []models.Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > len(t.decisions) {
		n = len(t.decisions)
	}
	out := make([]models.Decision, n)
	copy(out, t.decisions[len(t.decisions)-n:])
	return out
}

// ByPhase returns all decisions recorded for a phase, oldest first.
func (t *Tracker) ByPhase(phase string) []models.Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.Decision
	for _, d := range t.decisions {
		if d.Phase == phase {
			out = append(out, d)
		}
	}
	return out
}

// ByStep returns the decision for a step id, if recorded.
func (t *Tracker) ByStep(stepID string) (models.Decision, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range t.decisions {
		if d.StepID == stepID {
			return d, true
		}
	}
	return models.Decision{}, false
}

// Aggregates are run-wide decision totals.
type Aggregates struct {
	Decisions    int `json:"decisions"`
	SamplesUsed  int `json:"samples_used"`
	Rejections   int `json:"rejections"`
	Tokens       int `json:"tokens"`
	Transitions  int `json:"transitions"`
	RejectedFire int `json:"rejected_transitions"`
}

// Totals returns aggregate counters over the whole log.
func (t *Tracker) Totals() Aggregates {
	t.mu.Lock()
	defer t.mu.Unlock()
	agg := Aggregates{Decisions: len(t.decisions), Transitions: len(t.transitions)}
	for _, d := range t.decisions {
		agg.SamplesUsed += d.SamplesUsed
		agg.Rejections += d.Rejections
		agg.Tokens += d.Tokens
	}
	for _, tr := range t.transitions {
		if !tr.Accepted {
			agg.RejectedFire++
		}
	}
	return agg
}

// Transitions returns a copy of the transition log, oldest first.
func (t *Tracker) Transitions() []models.Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Transition, len(t.transitions))
	copy(out, t.transitions)
	return out
}

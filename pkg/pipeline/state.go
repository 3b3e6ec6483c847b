package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dirgogoo/mdap/pkg/models"
)

// State is one of the nine pipeline states. Exactly one is active per
// pipeline; COMPLETED and ERROR are terminal.
type State string

// Pipeline states.
const (
	StateIdle             State = "IDLE"
	StateExpanding        State = "EXPANDING"
	StateDecomposing      State = "DECOMPOSING"
	StateGenerating       State = "GENERATING"
	StateValidating       State = "VALIDATING"
	StatePaused           State = "PAUSED"
	StateAwaitingDecision State = "AWAITING_DECISION"
	StateCompleted        State = "COMPLETED"
	StateError            State = "ERROR"
)

// Event triggers a state transition.
type Event string

// Transition events.
const (
	EventStart           Event = "start"
	EventExpandDone      Event = "expand_done"
	EventDecomposeDone   Event = "decompose_done"
	EventGenerateDoneAll Event = "generate_done_all"
	EventValidateDone    Event = "validate_done"
	EventPause           Event = "pause"
	EventResume          Event = "resume"
	EventCancel          Event = "cancel"
	EventAwaitDecision   Event = "await_decision"
	EventDecisionMade    Event = "decision_made"
	EventError           Event = "error"
)

// ErrIllegalTransition is returned (never panicked) for transitions the
// table rejects. The machine state is unchanged in that case.
var ErrIllegalTransition = errors.New("illegal state transition")

// TransitionSink receives every attempted transition in causal order.
type TransitionSink interface {
	RecordTransition(tr models.Transition)
}

// Machine is the pipeline state machine. PAUSED and AWAITING_DECISION
// remember their predecessor so resume/decision_made can restore it.
type Machine struct {
	mu          sync.Mutex
	state       State
	predecessor State
	sink        TransitionSink
	notifier    *Notifier
}

// NewMachine creates a machine in IDLE. sink and notifier may be nil.
func NewMachine(sink TransitionSink, notifier *Notifier) *Machine {
	return &Machine{state: StateIdle, sink: sink, notifier: notifier}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// activePhase reports whether s is one of the four working phases.
func activePhase(s State) bool {
	switch s {
	case StateExpanding, StateDecomposing, StateGenerating, StateValidating:
		return true
	}
	return false
}

// terminal reports whether s accepts no further events.
func terminal(s State) bool {
	return s == StateCompleted || s == StateError
}

// Fire applies an event. Illegal transitions are rejected, logged, and
// recorded; the caller is notified via ErrIllegalTransition and the
// machine stays in its current state.
func (m *Machine) Fire(event Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	to, ok := m.next(event)
	tr := models.Transition{
		Timestamp: time.Now(),
		Event:     string(event),
		From:      string(from),
		To:        string(to),
		Accepted:  ok,
	}
	if m.sink != nil {
		m.sink.RecordTransition(tr)
	}
	if !ok {
		slog.Warn("Illegal pipeline transition rejected", "event", event, "state", from)
		return from, fmt.Errorf("%w: %s in %s", ErrIllegalTransition, event, from)
	}

	switch event {
	case EventPause, EventAwaitDecision:
		m.predecessor = from
	case EventResume, EventDecisionMade:
		m.predecessor = ""
	}
	m.state = to
	slog.Info("Pipeline state changed", "event", event, "from", from, "to", to)
	if m.notifier != nil {
		m.notifier.publish(StateChange{Event: event, From: from, To: to, At: tr.Timestamp})
	}
	return to, nil
}

// next resolves the transition table. The bool result is false for
// rejected transitions; the returned state is only meaningful when true.
func (m *Machine) next(event Event) (State, bool) {
	s := m.state
	switch event {
	case EventStart:
		if s == StateIdle {
			return StateExpanding, true
		}
	case EventExpandDone:
		if s == StateExpanding {
			return StateDecomposing, true
		}
	case EventDecomposeDone:
		if s == StateDecomposing {
			return StateGenerating, true
		}
	case EventGenerateDoneAll:
		if s == StateGenerating {
			return StateValidating, true
		}
	case EventValidateDone:
		if s == StateValidating {
			return StateCompleted, true
		}
	case EventPause:
		if activePhase(s) {
			return StatePaused, true
		}
	case EventResume:
		if s == StatePaused {
			return m.predecessor, true
		}
	case EventAwaitDecision:
		if activePhase(s) {
			return StateAwaitingDecision, true
		}
	case EventDecisionMade:
		if s == StateAwaitingDecision {
			return m.predecessor, true
		}
	case EventCancel:
		if !terminal(s) {
			return StateIdle, true
		}
	case EventError:
		if !terminal(s) {
			return StateError, true
		}
	}
	return s, false
}

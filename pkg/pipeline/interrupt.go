// Package pipeline contains the run orchestration: the nine-state
// machine, the cooperative interrupt handler, the in-process event
// notifier, and the orchestrator that drives phase executors over the
// shared context.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/dirgogoo/mdap/pkg/vote"
)

// Interrupts implements cooperative pause/resume/cancel. Flags set here
// are observed at vote checkpoints: before each LLM request and after
// each candidate arrives. Pause parks the caller without dropping
// in-flight work; cancel propagates a single termination signal that
// unwinds all nested votes.
type Interrupts struct {
	mu       sync.Mutex
	cond     *sync.Cond
	paused   bool
	stopped  error // vote.ErrCancelled or vote.ErrBudgetExhausted once set
	stopNote string
}

// NewInterrupts creates an idle interrupt handler.
func NewInterrupts() *Interrupts {
	i := &Interrupts{}
	i.cond = sync.NewCond(&i.mu)
	return i
}

// Pause latches the pause flag. Safe to call at any time; a pipeline that
// is not running simply starts paused at its next checkpoint.
func (i *Interrupts) Pause() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.paused = true
}

// Resume clears the pause flag and wakes parked checkpoints.
func (i *Interrupts) Resume() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.paused = false
	i.cond.Broadcast()
}

// Cancel latches user-initiated cancellation. Idempotent; a budget stop
// already in place is not overwritten.
func (i *Interrupts) Cancel() {
	i.stop(vote.ErrCancelled, "cancelled by user")
}

// BudgetBreach latches budget-initiated cancellation with a descriptive
// reason.
func (i *Interrupts) BudgetBreach(reason string) {
	i.stop(vote.ErrBudgetExhausted, reason)
}

func (i *Interrupts) stop(err error, note string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped == nil {
		i.stopped = err
		i.stopNote = note
	}
	i.cond.Broadcast()
}

// Paused reports whether the pause flag is latched.
func (i *Interrupts) Paused() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.paused
}

// StopReason returns the latched stop error (nil if running) and its note.
func (i *Interrupts) StopReason() (error, string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stopped, i.stopNote
}

// Checkpoint implements vote.Gate. It blocks while paused and returns the
// latched stop error once one is set. Context cancellation unblocks a
// paused checkpoint and reads as cancellation.
func (i *Interrupts) Checkpoint(ctx context.Context) error {
	// Wake the cond loop if the context dies while we are parked.
	stopWatch := context.AfterFunc(ctx, func() { i.cond.Broadcast() })
	defer stopWatch()

	i.mu.Lock()
	defer i.mu.Unlock()
	for {
		if i.stopped != nil {
			return i.stopped
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", vote.ErrCancelled, err)
		}
		if !i.paused {
			return nil
		}
		i.cond.Wait()
	}
}

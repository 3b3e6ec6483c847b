package vote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dirgogoo/mdap/pkg/config"
	"github.com/dirgogoo/mdap/pkg/models"
)

// rejectionFactor bounds the red-flag rejections of one vote (all of
// them, not only consecutive ones) at rejectionFactor × max_samples.
const rejectionFactor = 3

// Voter drives one first-to-ahead-by-k vote: it samples candidates,
// filters them, groups them by pairwise discrimination, and declares a
// winner when one group leads all others by k.
type Voter struct {
	filter      *RedFlagFilter
	disc        Discriminator
	gate        Gate
	k           int
	maxSamples  int
	parallelism int
}

// New creates a Voter. gate may be NopGate{} outside a managed pipeline.
func New(cfg config.VotingConfig, filter *RedFlagFilter, disc Discriminator, gate Gate) *Voter {
	if gate == nil {
		gate = NopGate{}
	}
	return &Voter{
		filter:      filter,
		disc:        disc,
		gate:        gate,
		k:           cfg.K,
		maxSamples:  cfg.MaxSamples,
		parallelism: cfg.Parallelism,
	}
}

// tally holds the mutable grouping state of one vote in flight.
// Classification is strictly sequential in arrival order, so tally needs
// no locking even when sampling runs concurrently.
type tally struct {
	groups     []*Group
	samples    int
	rejections int
	rejected   []*Candidate
	usage      TokenUsage
}

// Vote runs the first-to-ahead-by-k algorithm for one step against one
// immutable snapshot. It never returns an out-of-band error: every
// outcome, including cancellation and budget exhaustion, is a Result.
func (v *Voter) Vote(ctx context.Context, step models.Step, snap models.ContextSnapshot, gen Generator) *Result {
	log := slog.With("step_id", step.ID, "step_type", step.Type)
	log.Info("Vote started", "k", v.k, "max_samples", v.maxSamples)

	var res *Result
	if v.parallelism > 1 {
		res = v.voteParallel(ctx, step, snap, gen)
	} else {
		res = v.voteSequential(ctx, step, snap, gen)
	}

	log.Info("Vote finished",
		"terminated_by", res.TerminatedBy,
		"samples", res.TotalSamples,
		"rejections", res.Rejections,
		"groups", len(res.Groups),
		"margin", res.WinningMargin)
	return res
}

func (v *Voter) voteSequential(ctx context.Context, step models.Step, snap models.ContextSnapshot, gen Generator) *Result {
	t := &tally{}
	for {
		// Suspension point: pause parks here, cancel and budget breach
		// abort here, always before the outbound request.
		if err := v.gate.Checkpoint(ctx); err != nil {
			return v.finish(t, terminationFor(err), 0)
		}

		raw, usage, err := gen(ctx, step, snap)
		t.usage.Add(usage)
		if err != nil {
			// Transport retries are exhausted inside the generator; the
			// sample is lost, not the vote.
			slog.Warn("Sample lost after retries", "step_id", step.ID, "error", err)
			if done := v.recordRejection(t, nil); done {
				return v.finish(t, TerminatedBudget, 0)
			}
			continue
		}

		cand := v.admit(step, snap, raw, usage)
		if cand.RedFlagReason != "" {
			if done := v.recordRejection(t, cand); done {
				return v.finish(t, TerminatedBudget, 0)
			}
			continue
		}

		if res := v.classifyAndCheck(ctx, snap, t, cand); res != nil {
			return res
		}
	}
}

// voteParallel keeps up to parallelism samples in flight. Classification
// stays sequential in arrival order (channel delivery order), which
// preserves the grouping semantics of the sequential path under a fixed
// launch plan.
func (v *Voter) voteParallel(ctx context.Context, step models.Step, snap models.ContextSnapshot, gen Generator) *Result {
	type sample struct {
		raw   string
		usage TokenUsage
		err   error
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Launch cap: accepted samples are bounded by max_samples and
	// rejections by rejectionFactor × max_samples, so no vote can consume
	// more than this many candidates.
	launchCap := v.maxSamples * (1 + rejectionFactor)
	results := make(chan sample, v.parallelism)
	gateErr := make(chan error, 1)
	sem := semaphore.NewWeighted(int64(v.parallelism))

	go func() {
		for i := 0; i < launchCap; i++ {
			if err := v.gate.Checkpoint(sctx); err != nil {
				gateErr <- err
				return
			}
			if err := sem.Acquire(sctx, 1); err != nil {
				return
			}
			go func() {
				defer sem.Release(1)
				raw, usage, err := gen(sctx, step, snap)
				select {
				case results <- sample{raw: raw, usage: usage, err: err}:
				case <-sctx.Done():
					// In-flight work is discarded on termination.
				}
			}()
		}
	}()

	t := &tally{}
	for {
		var s sample
		select {
		case s = <-results:
		case err := <-gateErr:
			// The launcher observed cancellation or a budget breach;
			// nothing further will arrive.
			return v.finish(t, terminationFor(err), 0)
		case <-sctx.Done():
			return v.finish(t, terminationFor(sctx.Err()), 0)
		}

		// No checkpoint runs between arrival and classification. A pause
		// that lands now parks at the next discrimination checkpoint
		// inside classification, and the candidate is classified once
		// resumed, so a pause never drops the arrived sample.
		t.usage.Add(s.usage)
		if s.err != nil {
			slog.Warn("Sample lost after retries", "step_id", step.ID, "error", s.err)
			if done := v.recordRejection(t, nil); done {
				return v.finish(t, TerminatedBudget, 0)
			}
			continue
		}

		cand := v.admit(step, snap, s.raw, s.usage)
		if cand.RedFlagReason != "" {
			if done := v.recordRejection(t, cand); done {
				return v.finish(t, TerminatedBudget, 0)
			}
			continue
		}

		if res := v.classifyAndCheck(ctx, snap, t, cand); res != nil {
			return res
		}
	}
}

// admit wraps a raw sample in a Candidate, running the red-flag filter.
func (v *Voter) admit(step models.Step, snap models.ContextSnapshot, raw string, usage TokenUsage) *Candidate {
	cand := &Candidate{
		ID:      uuid.NewString(),
		RawText: raw,
		GroupID: -1,
		Usage:   usage,
	}
	normalized, reason := v.filter.Check(step, snap, raw)
	if reason != "" {
		cand.RedFlagReason = reason
		return cand
	}
	cand.NormalizedText = normalized
	return cand
}

// recordRejection tracks a red-flagged (or lost) sample and reports
// whether the rejection budget is exhausted.
func (v *Voter) recordRejection(t *tally, cand *Candidate) bool {
	t.rejections++
	if cand != nil {
		t.rejected = append(t.rejected, cand)
		slog.Debug("Candidate red-flagged", "reason", cand.RedFlagReason, "rejections", t.rejections)
	}
	return t.rejections >= rejectionFactor*v.maxSamples
}

// classifyAndCheck groups the accepted candidate and applies the two
// termination rules. It returns nil while the vote must continue.
func (v *Voter) classifyAndCheck(ctx context.Context, snap models.ContextSnapshot, t *tally, cand *Candidate) *Result {
	// Compare against representatives in ascending group id order and
	// accept the first YES. Equivalence is not assumed transitive or
	// symmetric; the margin k dominates small grouping errors.
	placed := false
	for _, g := range t.groups {
		if err := v.gate.Checkpoint(ctx); err != nil {
			return v.finish(t, terminationFor(err), 0)
		}
		equiv, usage, err := v.disc.Equivalent(ctx, snap, cand.NormalizedText, g.Representative.NormalizedText)
		t.usage.Add(usage)
		if err != nil && errors.Is(err, context.Canceled) {
			return v.finish(t, TerminatedCancelled, 0)
		}
		if equiv {
			cand.GroupID = g.ID
			g.Members = append(g.Members, cand)
			placed = true
			break
		}
	}
	if !placed {
		g := &Group{
			ID:             len(t.groups),
			Representative: cand,
			Members:        []*Candidate{cand},
		}
		cand.GroupID = g.ID
		t.groups = append(t.groups, g)
	}
	// Counted only once placement succeeded, so an abort during
	// classification never leaves an accepted sample outside a group.
	t.samples++

	top, runnerup := leaders(t.groups)
	margin := len(top.Members) - runnerup
	if margin >= v.k {
		return v.finish(t, TerminatedAheadByK, margin)
	}
	if t.samples >= v.maxSamples {
		return v.finish(t, TerminatedMaxSamples, margin)
	}
	return nil
}

// leaders returns the largest group and the runner-up size. Ties break
// toward the earliest-created group id; runner-up size is 0 when only one
// group exists.
func leaders(groups []*Group) (*Group, int) {
	var top *Group
	runnerup := 0
	for _, g := range groups {
		switch {
		case top == nil:
			top = g
		case len(g.Members) > len(top.Members):
			runnerup = len(top.Members)
			top = g
		case len(g.Members) > runnerup:
			runnerup = len(g.Members)
		}
	}
	return top, runnerup
}

// finish assembles the Result. The winner is the leading group's
// representative; a vote aborted before any candidate was accepted has no
// winner.
func (v *Voter) finish(t *tally, term Termination, margin int) *Result {
	res := &Result{
		TotalSamples:  t.samples,
		Rejections:    t.rejections,
		Rejected:      t.rejected,
		Groups:        t.groups,
		VotesPerGroup: make(map[int]int, len(t.groups)),
		WinningMargin: margin,
		TerminatedBy:  term,
		Usage:         t.usage,
	}
	for _, g := range t.groups {
		res.VotesPerGroup[g.ID] = len(g.Members)
	}
	if top, runnerup := leaders(t.groups); top != nil {
		res.Winner = top.Representative
		if term != TerminatedAheadByK {
			res.WinningMargin = len(top.Members) - runnerup
		}
	}
	return res
}

// terminationFor maps a gate or context error onto a termination reason.
func terminationFor(err error) Termination {
	switch {
	case errors.Is(err, ErrBudgetExhausted):
		return TerminatedBudget
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return TerminatedCancelled
	default:
		// Unknown gate errors abort conservatively as cancellation.
		slog.Warn("Vote aborted by gate", "error", fmt.Sprintf("%v", err))
		return TerminatedCancelled
	}
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dirgogoo/mdap/pkg/config"
	"github.com/dirgogoo/mdap/pkg/models"
	"github.com/dirgogoo/mdap/pkg/phase"
	"github.com/dirgogoo/mdap/pkg/resource"
	"github.com/dirgogoo/mdap/pkg/result"
	"github.com/dirgogoo/mdap/pkg/track"
	"github.com/dirgogoo/mdap/pkg/vote"
)

// Orchestrator drives one pipeline run: EXPAND → DECOMPOSE → GENERATE →
// VALIDATE, every phase resolved by MDAP voting. It is the only writer
// of the run context, and all mutation happens between votes.
type Orchestrator struct {
	cfg        *config.Config
	machine    *Machine
	interrupts *Interrupts
	exec       *phase.Executor
	tracker    *track.Tracker
	resources  *resource.Manager

	mu     sync.Mutex
	runCtx *models.Context
}

// NewOrchestrator wires an orchestrator. The interrupt handler must be
// the same instance the voter uses as its gate, and the resource
// manager's breacher.
func NewOrchestrator(
	cfg *config.Config,
	machine *Machine,
	interrupts *Interrupts,
	exec *phase.Executor,
	tracker *track.Tracker,
	resources *resource.Manager,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		machine:    machine,
		interrupts: interrupts,
		exec:       exec,
		tracker:    tracker,
		resources:  resources,
	}
}

// RunReport is the outcome of one pipeline run.
type RunReport struct {
	State      State             `json:"state"`
	Failure    *models.Failure   `json:"failure,omitempty"`
	Validation *phase.Validation `json:"validation,omitempty"`
	ResultPath string            `json:"result_path,omitempty"`
}

// ExitCode maps the report onto the CLI exit code contract.
func (r *RunReport) ExitCode() int {
	switch {
	case r.State == StateCompleted:
		return 0
	case r.Failure != nil && r.Failure.Kind == models.FailureCancelled:
		return 2
	case r.Failure != nil && r.Failure.Kind == models.FailureBudget:
		return 3
	default:
		return 1
	}
}

// Run executes the full pipeline for a task. It never returns an
// out-of-band error; every outcome is a RunReport.
func (o *Orchestrator) Run(ctx context.Context, task string) *RunReport {
	o.mu.Lock()
	o.runCtx = models.NewContext(task, o.cfg.Language)
	o.mu.Unlock()

	if _, err := o.machine.Fire(EventStart); err != nil {
		return o.fail(models.FailureTransition, err.Error(), false)
	}

	if report := o.expand(ctx, task); report != nil {
		return report
	}
	if _, err := o.machine.Fire(EventExpandDone); err != nil {
		return o.fail(models.FailureInternal, err.Error(), false)
	}

	if report := o.decompose(ctx); report != nil {
		return report
	}
	if _, err := o.machine.Fire(EventDecomposeDone); err != nil {
		return o.fail(models.FailureInternal, err.Error(), false)
	}

	if report := o.generateAll(ctx); report != nil {
		return report
	}
	if _, err := o.machine.Fire(EventGenerateDoneAll); err != nil {
		return o.fail(models.FailureInternal, err.Error(), false)
	}

	validation, report := o.validate(ctx, task)
	if report != nil {
		return report
	}
	if _, err := o.machine.Fire(EventValidateDone); err != nil {
		return o.fail(models.FailureInternal, err.Error(), false)
	}

	path, err := o.writeResult(task)
	if err != nil {
		slog.Error("Failed to persist result document", "error", err)
	}
	return &RunReport{State: o.machine.State(), Validation: validation, ResultPath: path}
}

// RunExpand executes only the EXPAND phase, then returns the pipeline to
// IDLE. Used by the `expand` CLI command.
func (o *Orchestrator) RunExpand(ctx context.Context, task string) *RunReport {
	o.mu.Lock()
	o.runCtx = models.NewContext(task, o.cfg.Language)
	o.mu.Unlock()

	if _, err := o.machine.Fire(EventStart); err != nil {
		return o.fail(models.FailureTransition, err.Error(), false)
	}
	if report := o.expand(ctx, task); report != nil {
		return report
	}
	if _, err := o.machine.Fire(EventCancel); err != nil {
		slog.Warn("Cancel transition rejected after expand", "error", err)
	}
	return &RunReport{State: o.machine.State()}
}

// Requirements returns a copy of the expanded requirement list.
func (o *Orchestrator) Requirements() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runCtx == nil {
		return nil
	}
	return append([]string(nil), o.runCtx.Requirements...)
}

// ────────────────────────────────────────────────────────────
// Phases
// ────────────────────────────────────────────────────────────

func (o *Orchestrator) expand(ctx context.Context, task string) *RunReport {
	step := phase.ExpandStep(task)
	snap := o.snapshot(step)
	res, reqs, err := o.exec.Expand(ctx, step, snap, task)
	o.recordDecision(step, res)
	if report := o.checkVote(res); report != nil {
		return report
	}
	if err != nil {
		return o.fail(models.FailureInternal, err.Error(), true)
	}

	o.mu.Lock()
	for _, req := range reqs {
		o.runCtx.AppendRequirement(req)
	}
	o.mu.Unlock()
	slog.Info("Requirements expanded", "count", len(reqs))
	return nil
}

func (o *Orchestrator) decompose(ctx context.Context) *RunReport {
	step := phase.DecomposeStep()
	snap := o.snapshot(step)
	res, fns, err := o.exec.Decompose(ctx, step, snap)
	o.recordDecision(step, res)
	if report := o.checkVote(res); report != nil {
		return report
	}
	if err != nil {
		return o.fail(models.FailureInternal, err.Error(), true)
	}

	o.mu.Lock()
	for _, fn := range fns {
		o.runCtx.AppendFunction(fn)
	}
	o.mu.Unlock()
	slog.Info("Task decomposed", "functions", len(fns))
	return nil
}

func (o *Orchestrator) generateAll(ctx context.Context) *RunReport {
	// The nested sub-function pass appends to Functions; iterate over a
	// copy of the decomposition as planned at this point.
	o.mu.Lock()
	planned := append([]models.Function(nil), o.runCtx.Functions...)
	o.mu.Unlock()

	for _, fn := range planned {
		frontier := map[string]bool{}
		if report := o.generateOne(ctx, fn, frontier); report != nil {
			return report
		}
	}
	return nil
}

// generateOne runs one GENERATE vote and the nested sub-function pass:
// identifiers called but not defined anywhere the context knows about are
// synthesized recursively, bounded by max_depth and a per-generation
// frontier set that prevents re-entry on the same name.
func (o *Orchestrator) generateOne(ctx context.Context, fn models.Function, frontier map[string]bool) *RunReport {
	name := phase.SignatureName(fn.Signature)
	frontier[name] = true
	defer delete(frontier, name)

	step := phase.GenerateStep(fn)
	snap := o.snapshot(step)
	res, code := o.exec.Generate(ctx, step, snap, fn)
	o.recordDecision(step, res)
	if report := o.checkVote(res); report != nil {
		return report
	}

	o.mu.Lock()
	o.runCtx.SetCode(fn.Signature, code)
	depth := o.runCtx.Depth
	o.mu.Unlock()
	slog.Info("Function generated", "signature", fn.Signature, "depth", depth)

	for _, missing := range o.missingCalls(code, frontier) {
		o.mu.Lock()
		o.runCtx.Depth++
		withinDepth := o.runCtx.Depth < o.cfg.Voting.MaxDepth
		o.mu.Unlock()

		if !withinDepth {
			slog.Warn("Sub-function generation skipped at max depth",
				"name", missing, "caller", fn.Signature)
			o.mu.Lock()
			o.runCtx.Depth--
			o.mu.Unlock()
			continue
		}

		sub := models.Function{
			Signature:   missing,
			Description: fmt.Sprintf("support function %s called by %s", missing, fn.Signature),
		}
		o.mu.Lock()
		o.runCtx.AppendFunction(sub)
		o.mu.Unlock()

		report := o.generateOne(ctx, sub, frontier)

		o.mu.Lock()
		o.runCtx.Depth--
		o.mu.Unlock()

		if report != nil {
			return report
		}
	}
	return nil
}

// missingCalls scans winning code for undefined callees, excluding
// everything the context already covers and the current frontier.
func (o *Orchestrator) missingCalls(code string, frontier map[string]bool) []string {
	o.mu.Lock()
	defined := make(map[string]bool, len(o.runCtx.Functions))
	for _, fn := range o.runCtx.Functions {
		defined[phase.SignatureName(fn.Signature)] = true
	}
	language := o.runCtx.Language
	o.mu.Unlock()

	return phase.MissingCalls(code, language, func(name string) bool {
		return defined[name] || frontier[name]
	})
}

func (o *Orchestrator) validate(ctx context.Context, task string) (*phase.Validation, *RunReport) {
	o.mu.Lock()
	var sb strings.Builder
	for _, fn := range o.runCtx.Functions {
		if code, ok := o.runCtx.Code[fn.Signature]; ok {
			sb.WriteString(code)
			sb.WriteString("\n\n")
		}
	}
	body := sb.String()
	o.mu.Unlock()

	step := phase.ValidateStep(task)
	snap := o.snapshot(step)
	res, validation := o.exec.Validate(ctx, step, snap, body)
	o.recordDecision(step, res)
	if report := o.checkVote(res); report != nil {
		return nil, report
	}

	// Validation is advisory: findings are reported, not fatal.
	if !validation.Valid {
		slog.Warn("Validation reported findings",
			"errors", len(validation.Errors), "warnings", len(validation.Warnings))
	}
	return &validation, nil
}

// ────────────────────────────────────────────────────────────
// Vote bookkeeping
// ────────────────────────────────────────────────────────────

// snapshot records the step in history and captures the immutable copy
// every sample in the upcoming vote will see.
func (o *Orchestrator) snapshot(step models.Step) models.ContextSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runCtx.AppendHistory(step)
	return o.runCtx.Snapshot()
}

// checkVote handles the two abnormal vote terminations. A cancelled vote
// leaves the context untouched and sends the pipeline to IDLE; a budget
// exhaustion sends it to ERROR with the breach reason.
func (o *Orchestrator) checkVote(res *vote.Result) *RunReport {
	switch res.TerminatedBy {
	case vote.TerminatedAheadByK, vote.TerminatedMaxSamples:
		return nil
	case vote.TerminatedCancelled:
		if _, err := o.machine.Fire(EventCancel); err != nil {
			slog.Warn("Cancel transition rejected", "error", err)
		}
		return &RunReport{
			State:   o.machine.State(),
			Failure: &models.Failure{Kind: models.FailureCancelled, Message: "cancelled by user", Recoverable: true},
		}
	case vote.TerminatedBudget:
		_, note := o.interrupts.StopReason()
		if note == "" {
			note = "red-flag rejection budget exhausted"
		}
		return o.fail(models.FailureBudget, note, false)
	default:
		return o.fail(models.FailureInternal, fmt.Sprintf("unknown vote termination %q", res.TerminatedBy), false)
	}
}

func (o *Orchestrator) fail(kind models.FailureKind, message string, recoverable bool) *RunReport {
	if _, err := o.machine.Fire(EventError); err != nil {
		slog.Warn("Error transition rejected", "error", err)
	}
	return &RunReport{
		State:   o.machine.State(),
		Failure: &models.Failure{Kind: kind, Message: message, Recoverable: recoverable},
	}
}

func (o *Orchestrator) recordDecision(step models.Step, res *vote.Result) {
	o.tracker.Append(models.Decision{
		Timestamp:     time.Now(),
		Phase:         string(o.machine.State()),
		StepID:        step.ID,
		Rationale:     rationaleFor(res),
		WinningMargin: res.WinningMargin,
		SamplesUsed:   res.TotalSamples,
		Rejections:    res.Rejections,
		Tokens:        res.Usage.Total(),
		CostEstimate:  o.resources.EstimateCost(res.Usage.Input, res.Usage.Output),
	})
}

func rationaleFor(res *vote.Result) string {
	switch res.TerminatedBy {
	case vote.TerminatedAheadByK:
		return fmt.Sprintf("group %d led all others by the required margin", winnerGroup(res))
	case vote.TerminatedMaxSamples:
		return fmt.Sprintf("max samples exhausted; group %d wins by plurality", winnerGroup(res))
	case vote.TerminatedCancelled:
		return "vote cancelled before consensus"
	case vote.TerminatedBudget:
		return "budget exhausted mid-vote"
	default:
		return string(res.TerminatedBy)
	}
}

func winnerGroup(res *vote.Result) int {
	if res.Winner == nil {
		return -1
	}
	return res.Winner.GroupID
}

// ────────────────────────────────────────────────────────────
// Control surface
// ────────────────────────────────────────────────────────────

// Pause suspends the run at its next checkpoint. Illegal outside an
// active phase.
func (o *Orchestrator) Pause() error {
	if _, err := o.machine.Fire(EventPause); err != nil {
		return err
	}
	o.interrupts.Pause()
	return nil
}

// Resume releases a paused run.
func (o *Orchestrator) Resume() error {
	if _, err := o.machine.Fire(EventResume); err != nil {
		return err
	}
	o.interrupts.Resume()
	return nil
}

// Cancel latches cooperative cancellation. The state machine transitions
// to IDLE when the in-flight vote observes the signal and unwinds.
func (o *Orchestrator) Cancel() {
	o.interrupts.Cancel()
	// A paused run must wake to observe the cancel.
	o.interrupts.Resume()
}

// AwaitDecision parks the pipeline for an external decision.
func (o *Orchestrator) AwaitDecision() error {
	if _, err := o.machine.Fire(EventAwaitDecision); err != nil {
		return err
	}
	o.interrupts.Pause()
	return nil
}

// DecisionMade releases a pipeline parked in AWAITING_DECISION.
func (o *Orchestrator) DecisionMade() error {
	if _, err := o.machine.Fire(EventDecisionMade); err != nil {
		return err
	}
	o.interrupts.Resume()
	return nil
}

// Status is a point-in-time progress view for the control API.
type Status struct {
	State        State  `json:"state"`
	Task         string `json:"task,omitempty"`
	Requirements int    `json:"requirements"`
	Functions    int    `json:"functions"`
	Generated    int    `json:"generated"`
	Paused       bool   `json:"paused"`
}

// Status reports pipeline progress.
func (o *Orchestrator) Status() Status {
	st := Status{State: o.machine.State(), Paused: o.interrupts.Paused()}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runCtx != nil {
		st.Task = o.runCtx.Task
		st.Requirements = len(o.runCtx.Requirements)
		st.Functions = len(o.runCtx.Functions)
		st.Generated = len(o.runCtx.Code)
	}
	return st
}

// writeResult persists the run document at COMPLETED.
func (o *Orchestrator) writeResult(task string) (string, error) {
	usage := o.resources.Snapshot()
	totals := o.tracker.Totals()

	o.mu.Lock()
	doc := result.Document{
		Task:         task,
		Config:       o.cfg,
		Requirements: append([]string(nil), o.runCtx.Requirements...),
		Functions:    append([]models.Function(nil), o.runCtx.Functions...),
		Code:         make(map[string]string, len(o.runCtx.Code)),
		Metrics: result.Metrics{
			Iterations: totals.Decisions,
			APICalls:   usage.APICalls,
			TotalTime:  usage.ElapsedSeconds,
			Tokens:     usage.InputTokens + usage.OutputTokens,
			CostUSD:    usage.CostUSD,
		},
	}
	for sig, code := range o.runCtx.Code {
		doc.Code[sig] = code
	}
	o.mu.Unlock()

	if err := result.Write(o.cfg.ResultPath, doc); err != nil {
		return "", err
	}
	slog.Info("Result document written", "path", o.cfg.ResultPath)
	return o.cfg.ResultPath, nil
}

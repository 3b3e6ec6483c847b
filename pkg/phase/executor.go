package phase

import (
	"context"
	"fmt"

	"github.com/dirgogoo/mdap/pkg/config"
	"github.com/dirgogoo/mdap/pkg/llm"
	"github.com/dirgogoo/mdap/pkg/models"
	"github.com/dirgogoo/mdap/pkg/prompt"
	"github.com/dirgogoo/mdap/pkg/vote"
)

// Step constructors. Steps are created by the orchestrator and immutable
// afterward; these keep the step type and output shape paired correctly.

// ExpandStep describes one EXPAND vote for a task.
func ExpandStep(task string) models.Step {
	return models.NewStep(models.StepExpand, "expand task into requirements", "", task, models.ShapeJSONArray)
}

// DecomposeStep describes one DECOMPOSE vote over the requirement list.
func DecomposeStep() models.Step {
	return models.NewStep(models.StepDecompose, "decompose requirements into functions", "", "", models.ShapeJSONArray)
}

// GenerateStep describes one GENERATE vote for a function record.
func GenerateStep(fn models.Function) models.Step {
	return models.NewStep(models.StepGenerate, "generate function body", fn.Signature, fn.Description, models.ShapeFunction)
}

// ValidateStep describes one VALIDATE vote over the assembled code.
func ValidateStep(specification string) models.Step {
	return models.NewStep(models.StepValidate, "validate code against specification", "", specification, models.ShapeFreeText)
}

// DecideStep describes one DECIDE vote for the next step type.
func DecideStep() models.Step {
	return models.NewStep(models.StepDecide, "choose next step", "", "", models.ShapeFreeText)
}

// Executor runs the MDAP phases. Each phase is one vote: the prompt and
// output shape differ, the machinery does not. The orchestrator owns all
// context mutation; executors only read snapshots and return parsed
// winners.
type Executor struct {
	cfg     *config.Config
	client  llm.Client
	builder *prompt.Builder
	voter   *vote.Voter
}

// NewExecutor wires a phase executor. client should already be retrying
// and instrumented.
func NewExecutor(cfg *config.Config, client llm.Client, builder *prompt.Builder, voter *vote.Voter) *Executor {
	return &Executor{cfg: cfg, client: client, builder: builder, voter: voter}
}

// generator adapts a prompt into a vote.Generator. The snapshot flowing
// through the vote is the one captured at vote start, so every sample
// sees identical inputs.
func (e *Executor) generator(build func(models.ContextSnapshot) prompt.Messages) vote.Generator {
	return func(ctx context.Context, step models.Step, snap models.ContextSnapshot) (string, vote.TokenUsage, error) {
		msgs := build(snap)
		resp, err := e.client.Complete(ctx, llm.Request{
			System:      msgs.System,
			Prompt:      msgs.User,
			Model:       e.cfg.LLM.Model,
			Temperature: e.cfg.Voting.Temperature,
		})
		return resp.Text, vote.TokenUsage{Input: resp.InputTokens, Output: resp.OutputTokens}, err
	}
}

// won reports whether a vote produced a usable winner.
func won(res *vote.Result) bool {
	return res.Winner != nil &&
		(res.TerminatedBy == vote.TerminatedAheadByK || res.TerminatedBy == vote.TerminatedMaxSamples)
}

// Expand votes on the atomic requirement list for a task.
func (e *Executor) Expand(ctx context.Context, step models.Step, snap models.ContextSnapshot, task string) (*vote.Result, []string, error) {
	res := e.voter.Vote(ctx, step, snap, e.generator(func(s models.ContextSnapshot) prompt.Messages {
		return e.builder.BuildExpand(task, s)
	}))
	if !won(res) {
		return res, nil, nil
	}
	reqs, err := ParseRequirements(res.Winner.NormalizedText)
	if err != nil {
		return res, nil, fmt.Errorf("expand winner unusable: %w", err)
	}
	return res, reqs, nil
}

// Decompose votes on the ordered function decomposition.
func (e *Executor) Decompose(ctx context.Context, step models.Step, snap models.ContextSnapshot) (*vote.Result, []models.Function, error) {
	res := e.voter.Vote(ctx, step, snap, e.generator(e.builder.BuildDecompose))
	if !won(res) {
		return res, nil, nil
	}
	fns, err := ParseFunctions(res.Winner.NormalizedText)
	if err != nil {
		return res, nil, fmt.Errorf("decompose winner unusable: %w", err)
	}
	return res, fns, nil
}

// Generate votes on the implementation of one function record.
func (e *Executor) Generate(ctx context.Context, step models.Step, snap models.ContextSnapshot, fn models.Function) (*vote.Result, string) {
	res := e.voter.Vote(ctx, step, snap, e.generator(func(s models.ContextSnapshot) prompt.Messages {
		return e.builder.BuildGenerate(fn, s)
	}))
	if !won(res) {
		return res, ""
	}
	return res, res.Winner.NormalizedText
}

// Validate votes on the advisory verdict for the assembled code body.
func (e *Executor) Validate(ctx context.Context, step models.Step, snap models.ContextSnapshot, code string) (*vote.Result, Validation) {
	res := e.voter.Vote(ctx, step, snap, e.generator(func(s models.ContextSnapshot) prompt.Messages {
		return e.builder.BuildValidate(code, step.Specification, s)
	}))
	if !won(res) {
		return res, Validation{}
	}
	return res, ParseValidation(res.Winner.NormalizedText)
}

// DecideNext votes on the next step type given progress counters. The
// orchestrator does not call it: the standard run follows the fixed phase
// order, and AWAITING_DECISION only parks and releases the pipeline.
func (e *Executor) DecideNext(ctx context.Context, step models.Step, snap models.ContextSnapshot, generated int) (*vote.Result, models.StepType, error) {
	res := e.voter.Vote(ctx, step, snap, e.generator(func(s models.ContextSnapshot) prompt.Messages {
		return e.builder.BuildDecideNext(s, generated)
	}))
	if !won(res) {
		return res, "", nil
	}
	next, err := ParseNextStep(res.Winner.NormalizedText)
	if err != nil {
		return res, "", fmt.Errorf("decide winner unusable: %w", err)
	}
	return res, next, nil
}

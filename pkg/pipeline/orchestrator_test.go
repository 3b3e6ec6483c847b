package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirgogoo/mdap/pkg/config"
	"github.com/dirgogoo/mdap/pkg/llm"
	"github.com/dirgogoo/mdap/pkg/models"
	"github.com/dirgogoo/mdap/pkg/phase"
	"github.com/dirgogoo/mdap/pkg/prompt"
	"github.com/dirgogoo/mdap/pkg/resource"
	"github.com/dirgogoo/mdap/pkg/result"
	"github.com/dirgogoo/mdap/pkg/track"
	"github.com/dirgogoo/mdap/pkg/vote"
)

const sumBody = `func Sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += helper(x)
	}
	return total
}`

const helperBody = `func helper(x int) int {
	return x * 2
}`

// routedLLM answers by phase, recognized from the system prompt. Every
// call returns the same answer, so two samples per vote reach consensus.
type routedLLM struct {
	mu       sync.Mutex
	calls    int
	inTokens int
	out      int
}

func (f *routedLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	var text string
	switch {
	case strings.Contains(req.System, "requirements analyst"):
		text = `["accept a list of integers", "return the doubled sum"]`
	case strings.Contains(req.System, "software architect"):
		text = `[{"signature": "func Sum(xs []int) int", "description": "sum the doubled values", "dependencies": []}]`
	case strings.Contains(req.System, "expert programmer"):
		if strings.Contains(req.Prompt, "SIGNATURE:\nhelper") {
			text = helperBody
		} else {
			text = sumBody
		}
	case strings.Contains(req.System, "code reviewer"):
		text = `{"valid": true, "errors": [], "warnings": []}`
	case strings.Contains(req.System, "semantically equivalent"):
		text = "YES"
	default:
		text = "NO"
	}
	return llm.Response{Text: text, InputTokens: f.inTokens, OutputTokens: f.out}, nil
}

func (f *routedLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Voting.K = 2
	cfg.ResultPath = filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, cfg.Validate())
	return cfg
}

// wire assembles the full stack around a fake LLM, mirroring the CLI
// wiring.
func wire(cfg *config.Config, client llm.Client) (*Orchestrator, *track.Tracker, *resource.Manager, *Interrupts) {
	interrupts := NewInterrupts()
	tracker := track.New(nil)
	machine := NewMachine(tracker, nil)
	resources := resource.NewManager(cfg.LLM.Model, cfg.Budgets, interrupts)
	instrumented := resource.Instrument(client, resources)

	builder := prompt.NewBuilder()
	filter := vote.NewRedFlagFilter(cfg.Voting.MaxTokensResponse)
	disc := vote.NewLLMDiscriminator(instrumented, builder, cfg.LLM.Model, cfg.Voting.Temperature)
	voter := vote.New(cfg.Voting, filter, disc, interrupts)
	exec := phase.NewExecutor(cfg, instrumented, builder, voter)
	orch := NewOrchestrator(cfg, machine, interrupts, exec, tracker, resources)
	return orch, tracker, resources, interrupts
}

func TestRunFullPipeline(t *testing.T) {
	cfg := testConfig(t)
	fake := &routedLLM{inTokens: 10, out: 5}
	orch, tracker, _, _ := wire(cfg, fake)

	report := orch.Run(context.Background(), "sum a list of integers, doubling each value")

	require.Nil(t, report.Failure)
	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, 0, report.ExitCode())
	require.NotNil(t, report.Validation)
	assert.True(t, report.Validation.Valid)

	// Nested sub-function pass (S6): helper was synthesized and stored
	// alongside the outer winner.
	doc, err := result.Read(report.ResultPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"accept a list of integers", "return the doubled sum"}, doc.Requirements)
	require.Len(t, doc.Functions, 2)
	assert.Equal(t, "func Sum(xs []int) int", doc.Functions[0].Signature)
	assert.Equal(t, "helper", doc.Functions[1].Signature)
	assert.Equal(t, sumBody, doc.Code["func Sum(xs []int) int"])
	assert.Equal(t, helperBody, doc.Code["helper"])
	assert.Positive(t, doc.Metrics.APICalls)
	assert.Positive(t, doc.Metrics.Tokens)

	// One decision per vote: expand, decompose, Sum, helper, validate.
	totals := tracker.Totals()
	assert.Equal(t, 5, totals.Decisions)
	for _, d := range tracker.LastN(0) {
		assert.GreaterOrEqual(t, d.WinningMargin, cfg.Voting.K)
	}
}

func TestRunCancelledBeforeFirstVote(t *testing.T) {
	cfg := testConfig(t)
	fake := &routedLLM{inTokens: 10, out: 5}
	orch, tracker, _, _ := wire(cfg, fake)

	orch.Cancel()
	report := orch.Run(context.Background(), "anything")

	require.NotNil(t, report.Failure)
	assert.Equal(t, models.FailureCancelled, report.Failure.Kind)
	assert.Equal(t, StateIdle, report.State)
	assert.Equal(t, 2, report.ExitCode())
	// The cancelled vote mutated nothing.
	assert.Empty(t, orch.Requirements())
	// The decision tracker shows the cancellation.
	decisions := tracker.LastN(0)
	require.Len(t, decisions, 1)
	assert.Equal(t, "vote cancelled before consensus", decisions[0].Rationale)
	assert.Zero(t, fake.callCount())
}

func TestRunBudgetBreach(t *testing.T) {
	// S5: a 100-token budget. Each call costs 50 tokens, so the third
	// call (the discrimination closing the EXPAND vote) breaches; the
	// next vote terminates BUDGET_EXHAUSTED and the pipeline errors with
	// the requirements list preserved.
	cfg := testConfig(t)
	cfg.Budgets.MaxTokens = 100
	fake := &routedLLM{inTokens: 40, out: 10}
	orch, _, resources, _ := wire(cfg, fake)

	report := orch.Run(context.Background(), "sum a list of integers")

	require.NotNil(t, report.Failure)
	assert.Equal(t, models.FailureBudget, report.Failure.Kind)
	assert.Contains(t, report.Failure.Message, "token budget exceeded")
	assert.Equal(t, StateError, report.State)
	assert.Equal(t, 3, report.ExitCode())
	assert.NotEmpty(t, orch.Requirements(), "completed EXPAND phase must be preserved")
	assert.True(t, resources.Snapshot().Budgets.Breached)
}

func TestRunExpandOnly(t *testing.T) {
	cfg := testConfig(t)
	fake := &routedLLM{inTokens: 10, out: 5}
	orch, _, _, _ := wire(cfg, fake)

	report := orch.RunExpand(context.Background(), "sum a list of integers")

	require.Nil(t, report.Failure)
	assert.Equal(t, StateIdle, report.State)
	assert.Equal(t, []string{"accept a list of integers", "return the doubled sum"}, orch.Requirements())
}

func TestPauseResumeIsTransparent(t *testing.T) {
	// Property 6: a pause→resume with no cancellation leaves the outcome
	// indistinguishable from the uninterrupted run.
	cfg := testConfig(t)

	run := func(pause bool) *RunReport {
		fake := &routedLLM{inTokens: 10, out: 5}
		orch, _, _, interrupts := wire(cfg, fake)
		if pause {
			interrupts.Pause()
			done := make(chan *RunReport, 1)
			go func() { done <- orch.Run(context.Background(), "sum a list") }()
			interrupts.Resume()
			return <-done
		}
		return orch.Run(context.Background(), "sum a list")
	}

	plain := run(false)
	paused := run(true)

	require.Nil(t, plain.Failure)
	require.Nil(t, paused.Failure)
	assert.Equal(t, plain.State, paused.State)
	assert.Equal(t, plain.Validation, paused.Validation)
}

func TestControlSurfaceTransitions(t *testing.T) {
	cfg := testConfig(t)
	fake := &routedLLM{inTokens: 10, out: 5}
	orch, _, _, _ := wire(cfg, fake)

	// Pause is illegal while IDLE; the caller is notified, nothing blows up.
	err := orch.Pause()
	assert.ErrorIs(t, err, ErrIllegalTransition)

	st := orch.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.False(t, st.Paused)
}

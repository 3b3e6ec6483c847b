package vote

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dirgogoo/mdap/pkg/llm"
	"github.com/dirgogoo/mdap/pkg/models"
	"github.com/dirgogoo/mdap/pkg/prompt"
)

// LLMDiscriminator asks the language model whether two candidates are
// behaviorally equivalent. The response is parsed case-insensitively by
// prefix; anything that is not YES or NO is treated as NO so that groups
// stay separate under uncertainty.
type LLMDiscriminator struct {
	client      llm.Client
	builder     *prompt.Builder
	model       string
	temperature float64
}

// NewLLMDiscriminator creates a discriminator bound to a model id. The
// sampling temperature is reused so discrimination and generation run
// against the same provider settings.
func NewLLMDiscriminator(client llm.Client, builder *prompt.Builder, model string, temperature float64) *LLMDiscriminator {
	return &LLMDiscriminator{
		client:      client,
		builder:     builder,
		model:       model,
		temperature: temperature,
	}
}

// Equivalent issues one pairwise query. Transport failure resolves to
// "not equivalent": the safe outcome is a new group, and the margin k
// absorbs occasional misgrouping.
func (d *LLMDiscriminator) Equivalent(ctx context.Context, snap models.ContextSnapshot, a, b string) (bool, TokenUsage, error) {
	msgs := d.builder.BuildDiscriminate(a, b, snap)
	resp, err := d.client.Complete(ctx, llm.Request{
		System:      msgs.System,
		Prompt:      msgs.User,
		Model:       d.model,
		Temperature: d.temperature,
	})
	usage := TokenUsage{Input: resp.InputTokens, Output: resp.OutputTokens}
	if err != nil {
		slog.Warn("Discriminator call failed, treating as not equivalent", "error", err)
		return false, usage, err
	}
	return ParseVerdict(resp.Text), usage, nil
}

// ParseVerdict interprets a discriminator response. A case-insensitive
// prefix match of YES wins; everything else is NO.
func ParseVerdict(text string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(Normalize(text))), "YES")
}

package prompt

import (
	"fmt"
	"strings"

	"github.com/dirgogoo/mdap/pkg/models"
)

// Builder builds all prompt text for phase executors and the
// discriminator. Thread-safe — no mutable state.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Messages is a composed system + user prompt pair.
type Messages struct {
	System string
	User   string
}

// BuildExpand builds the EXPAND prompt from the task text and snapshot.
func (b *Builder) BuildExpand(task string, snap models.ContextSnapshot) Messages {
	var sb strings.Builder
	sb.WriteString("TASK:\n")
	sb.WriteString(task)
	if ctx := formatContext(snap); ctx != "" {
		sb.WriteString("\n\n")
		sb.WriteString(ctx)
	}
	return Messages{System: expandSystem, User: sb.String()}
}

// BuildDecompose builds the DECOMPOSE prompt from the requirement list.
func (b *Builder) BuildDecompose(snap models.ContextSnapshot) Messages {
	var sb strings.Builder
	fmt.Fprintf(&sb, "TARGET LANGUAGE: %s\n\nREQUIREMENTS:\n", snap.Language)
	for i, req := range snap.Requirements {
		fmt.Fprintf(&sb, "%d. %s\n", i, req)
	}
	return Messages{System: decomposeSystem, User: sb.String()}
}

// BuildGenerate builds the GENERATE prompt for one function record.
func (b *Builder) BuildGenerate(fn models.Function, snap models.ContextSnapshot) Messages {
	var sb strings.Builder
	fmt.Fprintf(&sb, "TARGET LANGUAGE: %s\n\nSIGNATURE:\n%s\n\nDESCRIPTION:\n%s\n",
		snap.Language, fn.Signature, fn.Description)
	if ctx := formatContext(snap); ctx != "" {
		sb.WriteString("\n")
		sb.WriteString(ctx)
	}
	return Messages{System: generateSystem, User: sb.String()}
}

// BuildValidate builds the VALIDATE prompt for the assembled code body.
func (b *Builder) BuildValidate(code, specification string, snap models.ContextSnapshot) Messages {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SPECIFICATION:\n%s\n\n%s\nCODE:\n%s\n", specification, separator, code)
	if ctx := formatContext(snap); ctx != "" {
		sb.WriteString("\n")
		sb.WriteString(ctx)
	}
	return Messages{System: validateSystem, User: sb.String()}
}

// BuildDiscriminate builds the pairwise equivalence query. Both
// candidates are included verbatim.
func (b *Builder) BuildDiscriminate(codeA, codeB string, snap models.ContextSnapshot) Messages {
	var sb strings.Builder
	if ctx := formatContext(snap); ctx != "" {
		sb.WriteString(ctx)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "%s\nCANDIDATE A:\n%s\n\n%s\nCANDIDATE B:\n%s\n\n%s\nAre A and B semantically equivalent? Answer YES or NO.",
		separator, codeA, separator, codeB, separator)
	return Messages{System: discriminateSystem, User: sb.String()}
}

// BuildDecideNext builds the scheduler prompt from progress counters.
func (b *Builder) BuildDecideNext(snap models.ContextSnapshot, generated int) Messages {
	var sb strings.Builder
	if ctx := formatContext(snap); ctx != "" {
		sb.WriteString(ctx)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "PROGRESS: %d requirements, %d functions decomposed, %d generated.\nWhat is the next step?",
		len(snap.Requirements), len(snap.Functions), generated)
	return Messages{System: decideNextSystem, User: sb.String()}
}

// formatContext renders the snapshot into a prompt section. Empty when
// the snapshot carries nothing yet (fresh EXPAND).
func formatContext(snap models.ContextSnapshot) string {
	if len(snap.Requirements) == 0 && len(snap.Functions) == 0 && len(snap.Code) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(separator)
	sb.WriteString("\nCONTEXT:\n")
	if len(snap.Requirements) > 0 {
		sb.WriteString("Requirements:\n")
		for i, req := range snap.Requirements {
			fmt.Fprintf(&sb, "%d. %s\n", i, req)
		}
	}
	if len(snap.Functions) > 0 {
		sb.WriteString("Functions:\n")
		for _, fn := range snap.Functions {
			fmt.Fprintf(&sb, "- %s", fn.Signature)
			if _, done := snap.Code[fn.Signature]; done {
				sb.WriteString(" [implemented]")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

package vote

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dirgogoo/mdap/pkg/models"
)

func TestRedFlagLength(t *testing.T) {
	filter := NewRedFlagFilter(10) // 40-char proxy budget
	step := models.NewStep(models.StepGenerate, "", "", "", models.ShapeFreeText)

	_, reason := filter.Check(step, models.ContextSnapshot{}, strings.Repeat("x", 41))
	assert.Contains(t, reason, "length")

	normalized, reason := filter.Check(step, models.ContextSnapshot{}, strings.Repeat("x", 40))
	assert.Empty(t, reason)
	assert.Equal(t, strings.Repeat("x", 40), normalized)
}

func TestRedFlagEmpty(t *testing.T) {
	filter := NewRedFlagFilter(500)
	step := models.NewStep(models.StepGenerate, "", "", "", models.ShapeFreeText)

	for _, raw := range []string{"", "   ", "\n\t\n", "<think>only thoughts</think>"} {
		_, reason := filter.Check(step, models.ContextSnapshot{}, raw)
		assert.Contains(t, reason, "empty", "raw=%q", raw)
	}
}

func TestRedFlagJSONArrayShape(t *testing.T) {
	filter := NewRedFlagFilter(500)
	step := models.NewStep(models.StepExpand, "", "", "", models.ShapeJSONArray)

	t.Run("valid array accepted", func(t *testing.T) {
		normalized, reason := filter.Check(step, models.ContextSnapshot{}, `["a", "b"]`)
		assert.Empty(t, reason)
		assert.Equal(t, `["a", "b"]`, normalized)
	})

	t.Run("fenced array accepted after normalization", func(t *testing.T) {
		normalized, reason := filter.Check(step, models.ContextSnapshot{}, "```json\n[\"a\"]\n```")
		assert.Empty(t, reason)
		assert.Equal(t, `["a"]`, normalized)
	})

	t.Run("object rejected", func(t *testing.T) {
		_, reason := filter.Check(step, models.ContextSnapshot{}, `{"a": 1}`)
		assert.Contains(t, reason, "format")
	})
}

func TestRedFlagYesNoShape(t *testing.T) {
	filter := NewRedFlagFilter(500)
	step := models.NewStep(models.StepDecide, "", "", "", models.ShapeYesNo)

	for _, raw := range []string{"YES", "yes.", "No", "NO, they differ"} {
		_, reason := filter.Check(step, models.ContextSnapshot{}, raw)
		assert.Empty(t, reason, "raw=%q", raw)
	}
	_, reason := filter.Check(step, models.ContextSnapshot{}, "maybe")
	assert.Contains(t, reason, "format")
}

func TestRedFlagGoParse(t *testing.T) {
	filter := NewRedFlagFilter(500)
	step := models.NewStep(models.StepGenerate, "", "", "", models.ShapeFunction)
	snap := models.ContextSnapshot{Language: "go"}

	t.Run("valid function accepted", func(t *testing.T) {
		_, reason := filter.Check(step, snap, "func Add(a, b int) int {\n\treturn a + b\n}")
		assert.Empty(t, reason)
	})

	t.Run("broken source rejected", func(t *testing.T) {
		_, reason := filter.Check(step, snap, "func Add(a, b int int {")
		assert.Contains(t, reason, "parse")
	})

	t.Run("unknown language disables the parse sub-check", func(t *testing.T) {
		exotic := models.ContextSnapshot{Language: "cobol"}
		_, reason := filter.Check(step, exotic, "whatever text")
		assert.Empty(t, reason)
	})
}

func TestRedFlagDecomposeTopology(t *testing.T) {
	filter := NewRedFlagFilter(500)
	step := models.NewStep(models.StepDecompose, "", "", "", models.ShapeJSONArray)

	t.Run("forward dependencies accepted", func(t *testing.T) {
		candidate := `[
			{"signature": "parse(s)", "description": "", "dependencies": []},
			{"signature": "run(s)", "description": "", "dependencies": ["parse(s)"]}
		]`
		_, reason := filter.Check(step, models.ContextSnapshot{}, candidate)
		assert.Empty(t, reason)
	})

	t.Run("dependency on a later signature rejected", func(t *testing.T) {
		candidate := `[
			{"signature": "run(s)", "description": "", "dependencies": ["parse(s)"]},
			{"signature": "parse(s)", "description": "", "dependencies": []}
		]`
		_, reason := filter.Check(step, models.ContextSnapshot{}, candidate)
		assert.Contains(t, reason, "dependency")
	})

	t.Run("dependency on a context function accepted", func(t *testing.T) {
		snap := models.ContextSnapshot{Functions: []models.Function{{Signature: "fetch(url)"}}}
		candidate := `[{"signature": "load(url)", "description": "", "dependencies": ["fetch(url)"]}]`
		_, reason := filter.Check(step, snap, candidate)
		assert.Empty(t, reason)
	})
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "body", Normalize("```go\nbody\n```"))
	assert.Equal(t, "answer", Normalize("<think>hmm</think>\nanswer"))
	assert.Equal(t, "plain", Normalize("  plain  "))
}

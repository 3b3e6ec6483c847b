package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dirgogoo/mdap/pkg/models"
)

func snapWithContext() models.ContextSnapshot {
	return models.ContextSnapshot{
		Task:         "build a CSV summarizer",
		Language:     "go",
		Requirements: []string{"read the file", "sum the columns"},
		Functions: []models.Function{
			{Signature: "func ReadRows(path string) ([][]string, error)", Description: "reads rows"},
			{Signature: "func SumColumns(rows [][]string) []float64", Description: "sums"},
		},
		Code: map[string]string{
			"func ReadRows(path string) ([][]string, error)": "func ReadRows...",
		},
	}
}

func TestBuildExpand(t *testing.T) {
	b := NewBuilder()

	t.Run("fresh context", func(t *testing.T) {
		msgs := b.BuildExpand("build a CSV summarizer", models.ContextSnapshot{})
		assert.Contains(t, msgs.User, "build a CSV summarizer")
		assert.NotContains(t, msgs.User, "CONTEXT:")
		assert.Contains(t, msgs.System, "JSON array")
	})

	t.Run("with prior context", func(t *testing.T) {
		msgs := b.BuildExpand("extend it", snapWithContext())
		assert.Contains(t, msgs.User, "CONTEXT:")
		assert.Contains(t, msgs.User, "read the file")
	})
}

func TestBuildDecompose(t *testing.T) {
	msgs := NewBuilder().BuildDecompose(snapWithContext())
	assert.Contains(t, msgs.User, "TARGET LANGUAGE: go")
	assert.Contains(t, msgs.User, "0. read the file")
	assert.Contains(t, msgs.User, "1. sum the columns")
	assert.Contains(t, msgs.System, "dependencies")
}

func TestBuildGenerate(t *testing.T) {
	snap := snapWithContext()
	msgs := NewBuilder().BuildGenerate(snap.Functions[1], snap)
	assert.Contains(t, msgs.User, "SIGNATURE:\nfunc SumColumns(rows [][]string) []float64")
	assert.Contains(t, msgs.User, "DESCRIPTION:\nsums")
	// Implemented functions are marked so the model can call them.
	assert.Contains(t, msgs.User, "[implemented]")
}

func TestBuildValidate(t *testing.T) {
	msgs := NewBuilder().BuildValidate("func main() {}", "summarize CSVs", snapWithContext())
	assert.Contains(t, msgs.User, "SPECIFICATION:\nsummarize CSVs")
	assert.Contains(t, msgs.User, "CODE:\nfunc main() {}")
}

func TestBuildDiscriminate(t *testing.T) {
	msgs := NewBuilder().BuildDiscriminate("return a + b", "return b + a", snapWithContext())
	assert.Contains(t, msgs.User, "CANDIDATE A:\nreturn a + b")
	assert.Contains(t, msgs.User, "CANDIDATE B:\nreturn b + a")
	assert.Contains(t, msgs.User, "Answer YES or NO")
	assert.Contains(t, msgs.System, "YES or NO")
}

func TestBuildDecideNext(t *testing.T) {
	msgs := NewBuilder().BuildDecideNext(snapWithContext(), 1)
	assert.Contains(t, msgs.User, "2 requirements")
	assert.Contains(t, msgs.User, "2 functions decomposed")
	assert.Contains(t, msgs.User, "1 generated")
}

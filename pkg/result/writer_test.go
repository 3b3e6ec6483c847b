package result

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirgogoo/mdap/pkg/config"
	"github.com/dirgogoo/mdap/pkg/models"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	doc := Document{
		Task:         "sum a list",
		Config:       config.Defaults(),
		Requirements: []string{"accept a list", "return the sum"},
		Functions: []models.Function{
			{Signature: "func Sum(xs []int) int", Description: "sums"},
		},
		Code: map[string]string{"func Sum(xs []int) int": "func Sum..."},
		Metrics: Metrics{
			Iterations: 4,
			APICalls:   11,
			TotalTime:  2.5,
			Tokens:     1234,
			CostUSD:    0.0042,
		},
	}

	require.NoError(t, Write(path, doc))

	loaded, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, doc.Task, loaded.Task)
	assert.Equal(t, doc.Requirements, loaded.Requirements)
	assert.Equal(t, doc.Code, loaded.Code)
	assert.Equal(t, doc.Metrics, loaded.Metrics)

	// Atomic write leaves no temp files behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "result.json", entries[0].Name())
}

func TestWriteFieldNamesAreContractual(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, Write(path, Document{Task: "t", Code: map[string]string{}}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, field := range []string{`"task"`, `"config"`, `"requirements"`, `"functions"`, `"code"`, `"metrics"`,
		`"iterations"`, `"api_calls"`, `"total_time"`, `"tokens"`, `"cost_usd"`} {
		assert.Contains(t, string(raw), field)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

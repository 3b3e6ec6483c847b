package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequirements(t *testing.T) {
	reqs, err := ParseRequirements(`["  first  ", "second", ""]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, reqs)

	_, err = ParseRequirements(`{"nope": true}`)
	assert.Error(t, err)
}

func TestParseFunctions(t *testing.T) {
	fns, err := ParseFunctions(`[
		{"signature": "func A() int", "description": "a", "dependencies": []},
		{"signature": "func B() int", "description": "b", "dependencies": ["func A() int"], "requirement_ids": [0, 1]}
	]`)
	require.NoError(t, err)
	require.Len(t, fns, 2)
	assert.Equal(t, []string{"func A() int"}, fns[1].Dependencies)
	assert.Equal(t, []int{0, 1}, fns[1].RequirementIDs)

	_, err = ParseFunctions(`[{"signature": "  "}]`)
	assert.Error(t, err)
}

func TestParseValidation(t *testing.T) {
	v := ParseValidation(`{"valid": false, "errors": ["missing nil check"], "warnings": []}`)
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"missing nil check"}, v.Errors)

	// Advisory degradation: garbage becomes invalid-with-reason.
	v = ParseValidation("looks good to me!")
	assert.False(t, v.Valid)
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0], "not parseable")
}

func TestParseNextStep(t *testing.T) {
	for input, want := range map[string]string{
		"GENERATE":        "GENERATE",
		"validate":        "VALIDATE",
		"DONE\nall done.": "DONE",
	} {
		got, err := ParseNextStep(input)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	_, err := ParseNextStep("REFACTOR")
	assert.Error(t, err)
}

func TestSignatureName(t *testing.T) {
	cases := map[string]string{
		"func Fetch(url string) ([]byte, error)": "Fetch",
		"def fetch(url):":                        "fetch",
		"helper":                                 "helper",
		"  fn run(x: u32) -> u32  ":              "run",
	}
	for sig, want := range cases {
		assert.Equal(t, want, SignatureName(sig), "sig=%q", sig)
	}
}

func TestMissingCallsGo(t *testing.T) {
	code := `func Sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += double(x)
	}
	log.Printf("done")
	return clamp(total)
}`

	defined := func(name string) bool { return name == "Sum" || name == "clamp" }
	missing := MissingCalls(code, "go", defined)
	assert.Equal(t, []string{"double"}, missing)
}

func TestMissingCallsExcludesLocalAndBuiltins(t *testing.T) {
	code := `func Walk(xs []int) []int {
	out := make([]int, 0, len(xs))
	for _, x := range xs {
		out = append(out, step(x))
	}
	return out
}

func step(x int) int { return x + 1 }`

	missing := MissingCalls(code, "go", func(string) bool { return false })
	assert.Empty(t, missing, "builtins and locally declared functions are never missing")
}

func TestMissingCallsLexicalFallback(t *testing.T) {
	code := `def process(items):
    cleaned = [normalize(i) for i in items]
    return summarize(cleaned)`

	defined := func(name string) bool { return name == "process" || name == "normalize" }
	missing := MissingCalls(code, "python", defined)
	assert.Equal(t, []string{"summarize"}, missing)
}

func TestMissingCallsSkipsQualified(t *testing.T) {
	code := `result = math.sqrt(compute(x))`
	missing := MissingCalls(code, "python", func(string) bool { return false })
	assert.Equal(t, []string{"compute"}, missing)
}

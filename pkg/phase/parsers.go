// Package phase implements the four MDAP phase executors — Expand,
// Decompose, Generate, Validate — plus the decide-next step. All share
// the same machinery: compose a prompt, run one vote, parse the winner.
package phase

import (
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"

	"github.com/dirgogoo/mdap/pkg/models"
)

// ParseRequirements decodes an EXPAND winner: a JSON array of strings.
// Blank entries are dropped; order is preserved.
func ParseRequirements(text string) ([]string, error) {
	var raw []string
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parsing requirements: %w", err)
	}
	out := make([]string, 0, len(raw))
	for _, req := range raw {
		if trimmed := strings.TrimSpace(req); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}

// ParseFunctions decodes a DECOMPOSE winner into function records.
func ParseFunctions(text string) ([]models.Function, error) {
	var fns []models.Function
	if err := json.Unmarshal([]byte(text), &fns); err != nil {
		return nil, fmt.Errorf("parsing function records: %w", err)
	}
	for i, fn := range fns {
		if strings.TrimSpace(fn.Signature) == "" {
			return nil, fmt.Errorf("function record %d has no signature", i)
		}
	}
	return fns, nil
}

// Validation is the advisory VALIDATE verdict.
type Validation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ParseValidation decodes a VALIDATE winner. Validation is best-effort
// advisory: an undecodable verdict degrades to invalid-with-reason
// rather than failing the phase.
func ParseValidation(text string) Validation {
	var v Validation
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return Validation{
			Valid:  false,
			Errors: []string{"validator response was not parseable: " + truncateStr(text, 120)},
		}
	}
	return v
}

// ParseNextStep decodes a DECIDE winner into a step type.
func ParseNextStep(text string) (models.StepType, error) {
	word := strings.ToUpper(strings.TrimSpace(text))
	if idx := strings.IndexAny(word, " \n\t"); idx > 0 {
		word = word[:idx]
	}
	switch t := models.StepType(word); t {
	case models.StepExpand, models.StepDecompose, models.StepGenerate, models.StepValidate, models.StepDone:
		return t, nil
	}
	return "", fmt.Errorf("unrecognized next step %q", text)
}

// SignatureName extracts the callable name from a signature like
// "func Fetch(url string) ([]byte, error)" or "fetch(url)".
func SignatureName(signature string) string {
	s := strings.TrimSpace(signature)
	for _, prefix := range []string{"func ", "def ", "fn "} {
		s = strings.TrimPrefix(s, prefix)
	}
	if idx := strings.IndexByte(s, '('); idx > 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// goBuiltins are identifiers never treated as missing sub-functions in Go.
var goBuiltins = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true, "complex": true,
	"copy": true, "delete": true, "imag": true, "len": true, "make": true,
	"max": true, "min": true, "new": true, "panic": true, "print": true,
	"println": true, "real": true, "recover": true,
	"string": true, "int": true, "int32": true, "int64": true, "uint": true,
	"uint32": true, "uint64": true, "float32": true, "float64": true,
	"byte": true, "rune": true, "bool": true, "error": true, "any": true,
}

// pythonBuiltins cover the common case when the target language is Python.
var pythonBuiltins = map[string]bool{
	"print": true, "len": true, "range": true, "str": true, "int": true,
	"float": true, "bool": true, "list": true, "dict": true, "set": true,
	"tuple": true, "enumerate": true, "zip": true, "map": true, "filter": true,
	"sorted": true, "reversed": true, "sum": true, "min": true, "max": true,
	"abs": true, "isinstance": true, "open": true, "type": true, "super": true,
}

var callRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// MissingCalls scans winning code for identifiers that are called but not
// defined anywhere the snapshot knows about. defined reports whether a
// name is already covered (decomposed function, prior sub-function, or
// the function under generation itself). Qualified calls (pkg.Fn, obj.m)
// are never reported — only bare identifiers can be missing
// sub-functions.
func MissingCalls(code, language string, defined func(string) bool) []string {
	switch strings.ToLower(language) {
	case "go", "golang":
		if calls, ok := goCalls(code); ok {
			return filterMissing(calls, goBuiltins, defined)
		}
		// Unparseable winner: fall through to the lexical scan.
		return filterMissing(lexicalCalls(code), goBuiltins, defined)
	case "python":
		return filterMissing(lexicalCalls(code), pythonBuiltins, defined)
	default:
		return filterMissing(lexicalCalls(code), nil, defined)
	}
}

// goCalls extracts bare call identifiers from Go source via the AST.
// Locally declared functions are excluded at the source.
func goCalls(code string) ([]string, bool) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "winner.go", "package p\n\n"+code, parser.SkipObjectResolution)
	if err != nil {
		return nil, false
	}

	local := map[string]bool{}
	for _, decl := range file.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok {
			local[fd.Name.Name] = true
		}
	}

	var calls []string
	seen := map[string]bool{}
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		ident, ok := call.Fun.(*ast.Ident)
		if !ok {
			return true // qualified or method call
		}
		name := ident.Name
		if !local[name] && !seen[name] {
			seen[name] = true
			calls = append(calls, name)
		}
		return true
	})
	return calls, true
}

// lexicalCalls is the language-agnostic fallback: every bare identifier
// immediately followed by an open paren, in order of first occurrence,
// excluding names that look like qualified access (preceded by a dot).
func lexicalCalls(code string) []string {
	var calls []string
	seen := map[string]bool{}
	for _, loc := range callRe.FindAllStringSubmatchIndex(code, -1) {
		start := loc[2]
		name := code[loc[2]:loc[3]]
		if start > 0 && code[start-1] == '.' {
			continue
		}
		if !seen[name] {
			seen[name] = true
			calls = append(calls, name)
		}
	}
	return calls
}

func filterMissing(calls []string, builtins map[string]bool, defined func(string) bool) []string {
	var missing []string
	for _, name := range calls {
		if builtins[name] || defined(name) {
			continue
		}
		missing = append(missing, name)
	}
	return missing
}

func truncateStr(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

package vote

import (
	"encoding/json"
	"go/parser"
	"go/token"
	"regexp"
	"strings"

	"github.com/dirgogoo/mdap/pkg/models"
)

// charsPerToken is the char-count proxy for the token threshold. An exact
// tokenizer is deliberately not required here.
const charsPerToken = 4

// RedFlagFilter is a pure local predicate applied to each raw candidate
// before any discrimination spend. Rejected candidates never join a group
// and never count against max_samples.
type RedFlagFilter struct {
	maxTokens int
}

// NewRedFlagFilter creates a filter with the given response token budget.
func NewRedFlagFilter(maxTokens int) *RedFlagFilter {
	return &RedFlagFilter{maxTokens: maxTokens}
}

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Normalize strips think blocks, markdown fences, and surrounding
// whitespace. The normalized text is what discrimination and grouping see.
func Normalize(raw string) string {
	s := thinkBlockRe.ReplaceAllString(raw, "")
	s = strings.TrimSpace(s)
	s = stripFences(s)
	return strings.TrimSpace(s)
}

// stripFences removes a single wrapping ```lang ... ``` fence if present.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s
	if idx := strings.Index(s, "\n"); idx >= 0 {
		body = s[idx+1:]
	} else {
		return s
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return body
}

// Check applies the filter. It returns the normalized text and an empty
// reason on acceptance, or a non-empty rejection reason.
func (f *RedFlagFilter) Check(step models.Step, snap models.ContextSnapshot, raw string) (string, string) {
	if f.maxTokens > 0 && len(raw) > f.maxTokens*charsPerToken {
		return "", "length: response exceeds max_tokens_response"
	}

	normalized := Normalize(raw)
	if normalized == "" {
		return "", "empty: response is empty or whitespace-only"
	}

	switch step.Shape {
	case models.ShapeJSONArray:
		var arr []json.RawMessage
		if err := json.Unmarshal([]byte(normalized), &arr); err != nil {
			return "", "format: expected a JSON array"
		}
		if step.Type == models.StepDecompose {
			if reason := checkTopology(normalized, snap); reason != "" {
				return "", reason
			}
		}
	case models.ShapeYesNo:
		if !isYesNo(normalized) {
			return "", "format: expected YES or NO"
		}
	case models.ShapeFunction:
		if reason := checkSource(snap.Language, normalized); reason != "" {
			return "", reason
		}
	}

	return normalized, ""
}

func isYesNo(s string) bool {
	upper := strings.ToUpper(strings.TrimSpace(s))
	return strings.HasPrefix(upper, "YES") || strings.HasPrefix(upper, "NO")
}

// checkTopology enforces the decomposition invariant: every dependency
// must reference a signature declared earlier in the candidate list or
// already present in the context. Violating candidates are red-flagged so
// the vote resamples instead of accepting a cyclic plan.
func checkTopology(normalized string, snap models.ContextSnapshot) string {
	var fns []struct {
		Signature    string   `json:"signature"`
		Dependencies []string `json:"dependencies"`
	}
	if err := json.Unmarshal([]byte(normalized), &fns); err != nil {
		return "format: expected a JSON array of function records"
	}
	known := make(map[string]bool, len(snap.Functions)+len(fns))
	for _, fn := range snap.Functions {
		known[fn.Signature] = true
	}
	for _, fn := range fns {
		if fn.Signature == "" {
			return "format: function record missing signature"
		}
		for _, dep := range fn.Dependencies {
			if !known[dep] {
				return "format: dependency does not reference a prior signature"
			}
		}
		known[fn.Signature] = true
	}
	return ""
}

// checkSource attempts to parse the candidate as source in the target
// language. The check is advisory: absence of a parser for a language
// disables this sub-check but not the others.
func checkSource(language, src string) string {
	switch strings.ToLower(language) {
	case "go", "golang":
		fset := token.NewFileSet()
		wrapped := "package p\n\n" + src
		if _, err := parser.ParseFile(fset, "candidate.go", wrapped, parser.SkipObjectResolution); err != nil {
			return "format: candidate does not parse as Go"
		}
	}
	return ""
}

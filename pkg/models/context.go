package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Function is one decomposed unit of the target program.
type Function struct {
	Signature      string   `json:"signature"`
	Description    string   `json:"description"`
	Dependencies   []string `json:"dependencies"`
	RequirementIDs []int    `json:"requirement_ids,omitempty"`
}

// Context is the mutable accumulator for one pipeline run. Only the
// orchestrator mutates it, always between votes — never while one is in
// flight. Mutation points are the Append*/SetCode methods below and the
// Depth counter, which the orchestrator adjusts directly.
type Context struct {
	Task         string            `json:"task"`
	Language     string            `json:"language"`
	Requirements []string          `json:"requirements"`
	Functions    []Function        `json:"functions"`
	Code         map[string]string `json:"code"`
	History      []Step            `json:"-"`
	Depth        int               `json:"-"`
}

// NewContext creates an empty run context for a task.
func NewContext(task, language string) *Context {
	return &Context{
		Task:     task,
		Language: language,
		Code:     make(map[string]string),
	}
}

// AppendRequirement adds a requirement, collapsing duplicates by exact
// string equality. Order is insertion order.
func (c *Context) AppendRequirement(req string) {
	for _, existing := range c.Requirements {
		if existing == req {
			return
		}
	}
	c.Requirements = append(c.Requirements, req)
}

// AppendFunction records a decomposed function.
func (c *Context) AppendFunction(fn Function) {
	c.Functions = append(c.Functions, fn)
}

// SetCode stores the winning code text for a signature.
func (c *Context) SetCode(signature, code string) {
	c.Code[signature] = code
}

// AppendHistory records an executed step.
func (c *Context) AppendHistory(step Step) {
	c.History = append(c.History, step)
}

// HasFunction reports whether a signature is already decomposed.
func (c *Context) HasFunction(signature string) bool {
	for _, fn := range c.Functions {
		if fn.Signature == signature {
			return true
		}
	}
	return false
}

// Snapshot takes a deep, immutable copy of the context. Every candidate
// and every discriminator query within one vote sees the same snapshot.
func (c *Context) Snapshot() ContextSnapshot {
	snap := ContextSnapshot{
		Task:         c.Task,
		Language:     c.Language,
		Requirements: append([]string(nil), c.Requirements...),
		Code:         make(map[string]string, len(c.Code)),
		Depth:        c.Depth,
	}
	snap.Functions = make([]Function, len(c.Functions))
	for i, fn := range c.Functions {
		snap.Functions[i] = Function{
			Signature:      fn.Signature,
			Description:    fn.Description,
			Dependencies:   append([]string(nil), fn.Dependencies...),
			RequirementIDs: append([]int(nil), fn.RequirementIDs...),
		}
	}
	for sig, code := range c.Code {
		snap.Code[sig] = code
	}
	return snap
}

// ContextSnapshot is a deep copy of Context taken at the start of a vote.
// It is handed by value to generators and discriminators and must never be
// mutated after creation.
type ContextSnapshot struct {
	Task         string            `json:"task"`
	Language     string            `json:"language"`
	Requirements []string          `json:"requirements"`
	Functions    []Function        `json:"functions"`
	Code         map[string]string `json:"code"`
	Depth        int               `json:"depth"`
}

// Fingerprint returns a stable hash of the snapshot contents. Two
// snapshots observed within the same vote must fingerprint identically.
func (s ContextSnapshot) Fingerprint() string {
	// json.Marshal sorts map keys, so the encoding is canonical.
	raw, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

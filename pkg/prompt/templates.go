// Package prompt provides the centralized prompt builder for all phase
// executors and the discriminator. It composes system instructions and
// user messages from the context snapshot. Stateless — all state comes
// from parameters.
package prompt

// separator is a visual delimiter for prompt sections.
const separator = "═══════════════════════════════════════════════════════════"

const expandSystem = `You are a requirements analyst. Expand the given task into a complete, ordered list of atomic requirements.

REQUIRED FORMAT: respond with a JSON array of strings, nothing else.

RULES:
1. Each requirement is one testable behavior.
2. No duplicates, no commentary, no markdown fences.
3. Preserve the order in which a developer would implement them.`

const decomposeSystem = `You are a software architect. Decompose the requirements into an ordered list of functions.

REQUIRED FORMAT: respond with a JSON array of objects, nothing else:
[{"signature": "...", "description": "...", "dependencies": ["..."], "requirement_ids": [0]}]

RULES:
1. Signatures are valid in the target language.
2. "dependencies" may only reference signatures appearing EARLIER in the list.
3. "requirement_ids" are zero-based indexes into the requirement list.
4. No markdown fences, no commentary.`

const generateSystem = `You are an expert programmer. Implement exactly one function.

RULES:
1. Respond with a single function definition in the target language, nothing else.
2. No markdown fences, no commentary, no import statements.
3. You may call functions listed in the context as if they exist.`

const validateSystem = `You are a code reviewer. Judge whether the code satisfies the specification.

REQUIRED FORMAT: respond with a JSON object, nothing else:
{"valid": true, "errors": ["..."], "warnings": ["..."]}`

const discriminateSystem = `You are judging whether two code fragments are semantically equivalent.

Ignore formatting, whitespace, variable naming, and comments. Judge only
observable behavior: same inputs produce the same outputs and effects.

REQUIRED FORMAT: respond with exactly YES or NO. Nothing else.`

const decideNextSystem = `You are a pipeline scheduler. Given the run context and progress counters, choose the next step type.

REQUIRED FORMAT: respond with exactly one of:
EXPAND, DECOMPOSE, GENERATE, VALIDATE, DONE`

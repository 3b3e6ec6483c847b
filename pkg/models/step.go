// Package models defines the shared data model for the MDAP pipeline:
// steps, the run context and its immutable snapshots, decision records,
// and the structured failure surface.
package models

import "github.com/google/uuid"

// StepType identifies the kind of work a Step describes.
type StepType string

// Step types.
const (
	StepExpand    StepType = "EXPAND"
	StepDecompose StepType = "DECOMPOSE"
	StepGenerate  StepType = "GENERATE"
	StepValidate  StepType = "VALIDATE"
	StepDecide    StepType = "DECIDE"
	StepRead      StepType = "READ"
	StepSearch    StepType = "SEARCH"
	StepTest      StepType = "TEST"
	StepApply     StepType = "APPLY"
	StepDone      StepType = "DONE"
)

// OutputShape declares the response format a step expects from the LLM.
// The red-flag filter uses it to reject malformed candidates locally.
type OutputShape string

// Output shapes.
const (
	ShapeFreeText  OutputShape = ""
	ShapeJSONArray OutputShape = "json_array"
	ShapeFunction  OutputShape = "function"
	ShapeYesNo     OutputShape = "yes_no"
)

// Step is one unit of work scheduled by the orchestrator.
// Immutable after creation.
type Step struct {
	ID            string
	Type          StepType
	Description   string
	Target        string // function signature or requirement under work, optional
	Specification string // free text prompt material
	Shape         OutputShape
}

// NewStep creates a Step with a fresh stable ID.
func NewStep(t StepType, description, target, specification string, shape OutputShape) Step {
	return Step{
		ID:            uuid.NewString(),
		Type:          t,
		Description:   description,
		Target:        target,
		Specification: specification,
		Shape:         shape,
	}
}

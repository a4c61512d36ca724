package plan

import (
	"errors"

	"github.com/adalundhe/rudder/core/graph"
	"github.com/adalundhe/rudder/core/permission"
)

// =============================================================================
// Steps
// =============================================================================

// Step is one candidate slotted into a plan. Steps are immutable once
// added; evaluation results live outside the plan.
type Step struct {
	// ID is the candidate identifier the step would run.
	ID string `json:"id"`

	// Kind distinguishes tools from capabilities.
	Kind graph.Kind `json:"kind"`

	// Score is the ranked score the step was admitted with. Higher
	// scores run earlier within a layer.
	Score float64 `json:"score"`

	// Tier is the candidate's derived risk tier.
	Tier permission.Tier `json:"tier"`

	// Dependencies name steps that must complete first.
	Dependencies []string `json:"dependencies,omitempty"`

	// Reason records why the step was admitted.
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmptyPlan indicates a plan with no steps.
	ErrEmptyPlan = errors.New("plan has no steps")

	// ErrEmptyStepID indicates a step without a candidate identifier.
	ErrEmptyStepID = errors.New("empty step ID")

	// ErrDuplicateStep indicates a step ID was added twice.
	ErrDuplicateStep = errors.New("duplicate step ID")

	// ErrMissingDependency indicates a dependency on an absent step.
	ErrMissingDependency = errors.New("missing dependency")

	// ErrCyclicDependency indicates the steps do not form a DAG.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

package trace

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Execution Traces
// =============================================================================

const (
	// MinPriority floors replay priority so no trace ever reaches zero
	// sampling probability.
	MinPriority = 0.01

	// MaxPriority caps replay priority.
	MaxPriority = 1.0

	// DefaultPriority is the neutral cold-start priority of a new trace.
	DefaultPriority = 0.5
)

var (
	// ErrMalformedTrace indicates a trace missing required fields. Traces
	// are rejected at the store boundary, never silently coerced.
	ErrMalformedTrace = errors.New("malformed trace")

	// ErrTraceNotFound indicates an unknown trace id.
	ErrTraceNotFound = errors.New("trace not found")
)

// traceValidate is the shared validator for trace structures.
var traceValidate = validator.New()

// TaskResult records one executed step inside a trace.
type TaskResult struct {
	ToolID     string         `json:"tool_id" validate:"required"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     string         `json:"result,omitempty"`
	DurationMS int64          `json:"duration_ms" validate:"gte=0"`
	Success    bool           `json:"success"`
}

// BranchDecision records an inferred branch taken during execution.
type BranchDecision struct {
	Step   int    `json:"step"`
	Chosen string `json:"chosen"`
	Reason string `json:"reason,omitempty"`
}

// Trace is one execution attempt. Priority is the only field mutated after
// creation; everything else is immutable history.
type Trace struct {
	ID string `json:"id"`

	// CandidateID is the tool or capability that was executed, empty for
	// ad hoc executions.
	CandidateID string `json:"candidate_id,omitempty"`

	// ParentID links a child trace produced by a capability invoking
	// another capability.
	ParentID string `json:"parent_id,omitempty"`

	Intent  string   `json:"intent" validate:"required"`
	Context []string `json:"context,omitempty"`

	// ExecutedPath is the realized ordered node sequence. Hierarchical
	// executions keep the composite id here and record children as
	// separate traces.
	ExecutedPath []string `json:"executed_path" validate:"required,min=1,dive,required"`

	TaskResults []TaskResult     `json:"task_results,omitempty" validate:"dive"`
	Branches    []BranchDecision `json:"branches,omitempty"`

	Success    bool  `json:"success"`
	DurationMS int64 `json:"duration_ms" validate:"gte=0"`

	// Priority drives replay sampling, always within
	// [MinPriority, MaxPriority].
	Priority float64 `json:"priority"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate rejects traces missing required fields.
func (t *Trace) Validate() error {
	if err := traceValidate.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTrace, err)
	}
	return nil
}

// ClampPriority forces a priority into the legal band.
func ClampPriority(p float64) float64 {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

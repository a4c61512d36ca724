package suggest

import (
	"log/slog"

	"github.com/adalundhe/rudder/core/graph"
	"github.com/adalundhe/rudder/core/permission"
)

// =============================================================================
// Decisions
// =============================================================================

// Decision is the terminal outcome for one attempted candidate.
type Decision string

const (
	// DecisionExecute clears a candidate for automatic execution.
	DecisionExecute Decision = "execute"

	// DecisionSuggest returns a candidate as a non-executed
	// recommendation.
	DecisionSuggest Decision = "suggest"

	// DecisionRequireApproval blocks a candidate pending a human.
	DecisionRequireApproval Decision = "require_approval"
)

// Ranked is one scored candidate in the mixed tool/capability ranking.
type Ranked struct {
	ID    string     `json:"id"`
	Kind  graph.Kind `json:"kind"`
	Score float64    `json:"score"`
}

// Candidate is a ranked candidate with its decision attached.
type Candidate struct {
	ID        string          `json:"id"`
	Kind      graph.Kind      `json:"kind"`
	Score     float64         `json:"score"`
	Tier      permission.Tier `json:"tier"`
	Threshold float64         `json:"threshold"`
	Decision  Decision        `json:"decision"`
	Reason    string          `json:"reason,omitempty"`
}

// Result is what a caller gets back for an intent. It always carries a
// decision; sparse data surfaces as require_approval or an empty
// suggestion, never as an error.
type Result struct {
	Decision   Decision    `json:"decision"`
	Reason     string      `json:"reason,omitempty"`
	Candidates []Candidate `json:"candidates"`
	Confidence float64     `json:"confidence"`
}

// LayerResult is the per-step outcome of one evaluated plan layer.
type LayerResult struct {
	Layer int         `json:"layer"`
	Steps []Candidate `json:"steps"`
}

// Evaluation walks a plan layer by layer. Layers before the first risky
// one are cleared for execution and their results preserved; evaluation
// stops at, not past, the blocking layer.
type Evaluation struct {
	PlanID   string   `json:"plan_id"`
	Decision Decision `json:"decision"`

	// Executed holds layers that fully cleared.
	Executed []LayerResult `json:"executed"`

	// Pending is the first layer containing a risky step, nil when the
	// whole plan cleared.
	Pending *LayerResult `json:"pending,omitempty"`

	// PendingLayer is the index of the blocking layer, -1 when none.
	PendingLayer int `json:"pending_layer"`
}

// =============================================================================
// Config
// =============================================================================

// Config tunes a Suggester.
type Config struct {
	// RelevantTools is how many top-scored tools define the intent's
	// relevant set for capability overlap. Default 5.
	RelevantTools int

	// SpectralBoost is the multiplier bump a capability earns when it
	// shares a spectral zone with an overlapping relevant tool.
	// Default 0.25.
	SpectralBoost float64

	// MaxCandidates caps the ranked list. Default 10.
	MaxCandidates int

	// PlanSize caps how many candidates a built plan includes.
	// Default 4.
	PlanSize int

	// AlwaysConfirm forces require_approval for every candidate,
	// bypassing scoring entirely.
	AlwaysConfirm bool

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.RelevantTools <= 0 {
		c.RelevantTools = 5
	}
	if c.SpectralBoost <= 0 {
		c.SpectralBoost = 0.25
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 10
	}
	if c.PlanSize <= 0 {
		c.PlanSize = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

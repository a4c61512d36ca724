package engine

import (
	"errors"
	"log/slog"

	"github.com/adalundhe/rudder/core/embedding"
	"github.com/adalundhe/rudder/core/exploration"
	"github.com/adalundhe/rudder/core/graph"
	"github.com/adalundhe/rudder/core/permission"
	"github.com/adalundhe/rudder/core/plan"
	"github.com/adalundhe/rudder/core/suggest"
	"github.com/adalundhe/rudder/core/trace"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrClosed indicates a call on an engine after Close.
	ErrClosed = errors.New("engine closed")

	// ErrNoIntent indicates a suggestion request carrying neither intent
	// text nor an embedding.
	ErrNoIntent = errors.New("request carries no intent")
)

// =============================================================================
// Requests and Responses
// =============================================================================

// Request asks the engine what to do for one intent.
type Request struct {
	// Intent is the natural-language intent. It resolves to an embedding
	// through the provider when Embedding is absent, and feeds the
	// lexical fallback when no embedding can be obtained at all.
	Intent string `json:"intent,omitempty"`

	// Embedding is a pre-resolved intent embedding. When set, the
	// provider is never consulted.
	Embedding []float32 `json:"-"`

	// Context lists recently executed candidate ids.
	Context []string `json:"context,omitempty"`

	// Mode selects passive or active exploration thresholds.
	Mode exploration.Mode `json:"mode"`

	// WithPlan also arranges the top candidates into a dependency
	// ordered plan and evaluates it layer by layer. The evaluation's
	// verdict becomes the response's overall decision.
	WithPlan bool `json:"with_plan,omitempty"`
}

// Response is the engine's answer. A caller always receives a decision;
// sparse data surfaces as require_approval or an empty suggestion, never
// as an error.
type Response struct {
	Decision   suggest.Decision    `json:"decision"`
	Reason     string              `json:"reason,omitempty"`
	Candidates []suggest.Candidate `json:"candidates,omitempty"`
	Confidence float64             `json:"confidence"`

	// Plan and Evaluation are present only when the request asked for a
	// plan and at least one candidate ranked.
	Plan       *plan.Plan          `json:"plan,omitempty"`
	Evaluation *suggest.Evaluation `json:"evaluation,omitempty"`

	// Lexical marks a response ranked by the lexical fallback instead of
	// embedding similarity.
	Lexical bool `json:"lexical,omitempty"`
}

// =============================================================================
// Workflow Prediction
// =============================================================================

// WorkflowState is the caller's view of an in-flight workflow, used to
// predict what runs next.
type WorkflowState struct {
	// Executed is the ordered list of candidate ids already run. The
	// prediction frontier is the out-neighborhood of these nodes.
	Executed []string `json:"executed"`

	// Intent or Embedding optionally re-anchor predictions to the
	// original intent; without either, predictions order by graph
	// signal alone.
	Intent    string    `json:"intent,omitempty"`
	Embedding []float32 `json:"-"`

	// Context overrides the scoring context. Empty defaults to Executed.
	Context []string `json:"context,omitempty"`

	// Limit caps how many predictions come back. Default 5.
	Limit int `json:"limit,omitempty"`
}

// Prediction is one likely next candidate.
type Prediction struct {
	ID   string     `json:"id"`
	Kind graph.Kind `json:"kind"`

	// Confidence is the strongest observed edge confidence from any
	// executed node into this candidate.
	Confidence float64 `json:"confidence"`

	// Score is the scorer's intent score, neutral when no intent
	// anchors the prediction.
	Score float64 `json:"score"`

	// Blended orders predictions: edge confidence and intent score,
	// equally weighted.
	Blended float64 `json:"blended"`
}

// =============================================================================
// Options
// =============================================================================

// Options supplies the engine's external collaborators. Nil fields fall
// back to in-process defaults.
type Options struct {
	// Provider resolves intent and candidate embeddings. Defaults to
	// the local hashed-feature embedder.
	Provider embedding.Provider

	// Traces persists execution traces. Defaults to the in-memory
	// store.
	Traces trace.Store

	// Descriptor supplies the permission descriptor programmatically.
	// Ignored when the configuration names a descriptor file. With
	// neither, every candidate classifies as unknown risk and routes to
	// human approval.
	Descriptor *permission.Descriptor

	// Logger receives engine lifecycle and decision logs. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

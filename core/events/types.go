package events

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Event Types
// =============================================================================

// Type identifies a bus event kind.
type Type int

const (
	// TypeDecisionMade fires once per served suggestion.
	TypeDecisionMade Type = iota

	// TypeOutcomeRecorded fires when an execution trace is accepted.
	TypeOutcomeRecorded

	// TypeTrainingStarted fires when a replay run acquires the trainer.
	TypeTrainingStarted

	// TypeTrainingCompleted fires when a replay run finishes with at
	// least one batch trained.
	TypeTrainingCompleted

	// TypeTrainingSkipped fires when a replay run bails out without
	// training (in-flight guard or too little data).
	TypeTrainingSkipped

	// TypeAnalyticsRecomputed fires after a graph analytics pass.
	TypeAnalyticsRecomputed
)

func (t Type) String() string {
	switch t {
	case TypeDecisionMade:
		return "decision_made"
	case TypeOutcomeRecorded:
		return "outcome_recorded"
	case TypeTrainingStarted:
		return "training_started"
	case TypeTrainingCompleted:
		return "training_completed"
	case TypeTrainingSkipped:
		return "training_skipped"
	case TypeAnalyticsRecomputed:
		return "analytics_recomputed"
	default:
		return "unknown"
	}
}

// =============================================================================
// Event
// =============================================================================

// Event is one bus message. Which optional fields are populated is fixed
// by the constructor for each type; consumers switch on Type and read the
// fields that type defines.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// CandidateID names the tool or capability the event concerns.
	CandidateID string `json:"candidate_id,omitempty"`

	// TraceID names the execution trace the event concerns.
	TraceID string `json:"trace_id,omitempty"`

	Decision   string  `json:"decision,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Success    bool    `json:"success,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// Training and analytics measurements.
	Traces         int           `json:"traces,omitempty"`
	Examples       int           `json:"examples,omitempty"`
	MeanAbsError   float64       `json:"mean_abs_error,omitempty"`
	WeightsVersion uint64        `json:"weights_version,omitempty"`
	Tools          int           `json:"tools,omitempty"`
	Capabilities   int           `json:"capabilities,omitempty"`
	Took           time.Duration `json:"took,omitempty"`
}

func newEvent(t Type) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
	}
}

// DecisionMade reports a served suggestion for one top candidate.
func DecisionMade(candidateID, decision, reason string, confidence float64) *Event {
	e := newEvent(TypeDecisionMade)
	e.CandidateID = candidateID
	e.Decision = decision
	e.Reason = reason
	e.Confidence = confidence
	return e
}

// OutcomeRecorded reports an accepted execution trace.
func OutcomeRecorded(traceID, candidateID string, success bool) *Event {
	e := newEvent(TypeOutcomeRecorded)
	e.TraceID = traceID
	e.CandidateID = candidateID
	e.Success = success
	return e
}

// TrainingStarted reports a replay run beginning. An empty candidate id
// means a store-wide run.
func TrainingStarted(candidateID string) *Event {
	e := newEvent(TypeTrainingStarted)
	e.CandidateID = candidateID
	return e
}

// TrainingCompleted reports a finished replay run.
func TrainingCompleted(traces, examples int, meanAbsError float64, weightsVersion uint64) *Event {
	e := newEvent(TypeTrainingCompleted)
	e.Traces = traces
	e.Examples = examples
	e.MeanAbsError = meanAbsError
	e.WeightsVersion = weightsVersion
	return e
}

// TrainingSkipped reports a replay run that bailed out, with the skip
// reason code.
func TrainingSkipped(candidateID, reason string) *Event {
	e := newEvent(TypeTrainingSkipped)
	e.CandidateID = candidateID
	e.Reason = reason
	return e
}

// AnalyticsRecomputed reports a completed graph analytics pass.
func AnalyticsRecomputed(tools, capabilities int, took time.Duration) *Event {
	e := newEvent(TypeAnalyticsRecomputed)
	e.Tools = tools
	e.Capabilities = capabilities
	e.Took = took
	return e
}

// =============================================================================
// Subscribers
// =============================================================================

// Subscriber receives bus events.
type Subscriber interface {
	// ID returns the unique subscriber identifier.
	ID() string

	// Types returns the event types this subscriber wants. An empty
	// slice subscribes to everything.
	Types() []Type

	// OnEvent is called from the dispatch goroutine. Errors are the
	// subscriber's own problem; the bus ignores them.
	OnEvent(e *Event) error
}

// HandlerFunc adapts a plain function into a Subscriber.
type HandlerFunc struct {
	id    string
	types []Type
	fn    func(e *Event) error
}

// NewHandlerFunc builds a function subscriber. With no types it receives
// every event.
func NewHandlerFunc(id string, fn func(e *Event) error, types ...Type) *HandlerFunc {
	return &HandlerFunc{id: id, types: types, fn: fn}
}

func (h *HandlerFunc) ID() string { return h.id }

func (h *HandlerFunc) Types() []Type { return h.types }

func (h *HandlerFunc) OnEvent(e *Event) error { return h.fn(e) }

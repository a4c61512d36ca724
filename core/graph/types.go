package graph

import (
	"errors"
	"time"
)

// =============================================================================
// Node Kinds
// =============================================================================

// Kind distinguishes the two node populations in the store. Tools are leaf
// executables; capabilities are recorded code patterns composed from tools
// (and possibly other capabilities).
type Kind int

const (
	// KindTool is a directly callable tool (stable id "server:action").
	KindTool Kind = iota
	// KindCapability is a reusable composition of tools.
	KindCapability
)

// String returns the string representation of a node kind.
func (k Kind) String() string {
	switch k {
	case KindTool:
		return "tool"
	case KindCapability:
		return "capability"
	default:
		return "unknown"
	}
}

// =============================================================================
// Nodes
// =============================================================================

// ToolNode describes a callable tool registered in the graph.
//
// Centrality and Community are analytic fields: they are filled from the most
// recently computed analytics snapshot when the node is read back out of the
// store, never stored on the live arena entry.
type ToolNode struct {
	// ID is the stable string key, conventionally "server:action".
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name,omitempty"`

	// Description is the display/summary metadata used for lexical matching
	// and embedding derivation.
	Description string `json:"description,omitempty"`

	// Embedding is the description embedding, when one has been resolved.
	Embedding []float32 `json:"-"`

	// Centrality is the normalized PageRank score in [0,1].
	Centrality float64 `json:"centrality"`

	// Community is the Louvain community id, or -1 when uncomputed.
	Community int `json:"community"`

	// Stub marks nodes auto-created to satisfy an edge endpoint before the
	// tool was formally registered.
	Stub bool `json:"stub,omitempty"`

	// FirstSeen is when the node was first observed.
	FirstSeen time.Time `json:"first_seen"`
}

// CapabilityNode describes a recorded reusable code pattern. The core
// definition (ID, ToolsUsed) is immutable once created; only usage counters
// mutate afterward.
type CapabilityNode struct {
	// ID is the stable string key.
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name,omitempty"`

	// Description is the display/summary metadata.
	Description string `json:"description,omitempty"`

	// Embedding is the description embedding, when one has been resolved.
	Embedding []float32 `json:"-"`

	// ToolsUsed is the ordered list of constituent identifiers. Entries may
	// themselves be capability ids: the structure is a hypergraph, not a
	// tree, and consumers flatten it recursively.
	ToolsUsed []string `json:"tools_used"`

	// Zones are the spectral zone memberships from the latest analytics
	// snapshot. A capability belongs to its own cluster and to the cluster
	// of every constituent tool, so membership is a set, not a single id.
	Zones []int `json:"zones,omitempty"`

	// Centrality is the bipartite hypergraph PageRank score in [0,1].
	Centrality float64 `json:"centrality"`

	// Community is the Louvain community id, or -1 when uncomputed.
	Community int `json:"community"`

	// Uses counts recorded executions of this capability.
	Uses int64 `json:"uses"`

	// FirstSeen is when the capability was recorded.
	FirstSeen time.Time `json:"first_seen"`
}

// =============================================================================
// Edges
// =============================================================================

// Edge is a directed, weighted dependency observation between two nodes.
type Edge struct {
	// From is the source node id.
	From string `json:"from"`

	// To is the target node id.
	To string `json:"to"`

	// Confidence is the co-occurrence confidence in [0,1]. It increases
	// (bounded) on repeated observation and decays once it falls below the
	// analytics floor.
	Confidence float64 `json:"confidence"`

	// Observations counts how many times this edge has been reported.
	Observations int64 `json:"observations"`

	// UpdatedAt is the last reinforcement time.
	UpdatedAt time.Time `json:"updated_at"`
}

// Neighbor pairs an adjacent node id with the confidence of the connecting
// edge.
type Neighbor struct {
	ID         string  `json:"id"`
	Confidence float64 `json:"confidence"`
	// Outbound is true when the edge points from the queried node to ID.
	Outbound bool `json:"outbound"`
}

// edgeKey identifies an edge in the flat edge arena.
type edgeKey struct {
	from string
	to   string
}

// =============================================================================
// Snapshots
// =============================================================================

// Snapshot is a plain-struct export of the graph suitable for an external
// persistence layer. Analytics are not included; they are recomputed after
// Restore.
type Snapshot struct {
	Tools        []ToolNode       `json:"tools"`
	Capabilities []CapabilityNode `json:"capabilities"`
	Edges        []Edge           `json:"edges"`
	TakenAt      time.Time        `json:"taken_at"`
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmptyID indicates a node or edge referenced an empty identifier.
	ErrEmptyID = errors.New("graph: empty node id")

	// ErrSelfEdge indicates an edge from a node to itself, which the
	// dependency graph does not model.
	ErrSelfEdge = errors.New("graph: self edge rejected")

	// ErrCapabilityRedefined indicates an attempt to change the immutable
	// tool set of an existing capability.
	ErrCapabilityRedefined = errors.New("graph: capability definition is immutable")
)

package graph

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// =============================================================================
// Store
// =============================================================================

// Store holds the live tool/capability dependency graph: flat arenas keyed by
// stable string ids, a directed weighted edge set, and the most recently
// computed analytics snapshot.
//
// Concurrency model: mutations take the write lock; queries take the read
// lock; analytics recomputation reads an export taken under the read lock and
// publishes results with a single atomic pointer swap, so the decision hot
// path never observes a graph mid-mutation.
type Store struct {
	mu sync.RWMutex

	tools        map[string]*ToolNode
	capabilities map[string]*CapabilityNode
	edges        map[edgeKey]*Edge

	// Adjacency indexes, maintained on edge mutation.
	out map[string]map[string]*Edge
	in  map[string]map[string]*Edge

	// intern maps string ids to dense int64 ids for gonum interop. Ids are
	// assigned once and never reused.
	intern map[string]int64
	rev    []string

	// version increments on every mutation batch; analytics snapshots carry
	// the version they were computed from.
	version atomic.Uint64

	analytics     atomic.Pointer[Analytics]
	spectralCache *ristretto.Cache

	cfg    Config
	logger *slog.Logger
}

// Config tunes graph behavior. Zero values fall back to defaults.
type Config struct {
	// HopCap bounds shortest-path searches. Default 4.
	HopCap int

	// Damping is the PageRank damping factor. Default 0.85.
	Damping float64

	// MinConfidence is the floor below which an edge is excluded from
	// analytics and begins to decay. Default 0.15.
	MinConfidence float64

	// DecayFactor multiplies sub-floor edge confidence on each analytics
	// recomputation. Default 0.8.
	DecayFactor float64

	// ReinforcementRate scales bounded confidence growth on repeated
	// observation. Default 0.3.
	ReinforcementRate float64

	// Seed drives Louvain and k-means determinism. Default 1.
	Seed uint64

	// SpectralTTL bounds how long spectral clustering results are served
	// from cache. Default 5m.
	SpectralTTL time.Duration

	// MaxSpectralK caps automatic eigengap cluster selection. Default 8.
	MaxSpectralK int

	// Logger receives analytics lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.HopCap <= 0 {
		c.HopCap = 4
	}
	if c.Damping <= 0 || c.Damping >= 1 {
		c.Damping = 0.85
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.15
	}
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		c.DecayFactor = 0.8
	}
	if c.ReinforcementRate <= 0 || c.ReinforcementRate > 1 {
		c.ReinforcementRate = 0.3
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.SpectralTTL <= 0 {
		c.SpectralTTL = 5 * time.Minute
	}
	if c.MaxSpectralK <= 0 {
		c.MaxSpectralK = 8
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// NewStore creates an empty graph store.
func NewStore(cfg Config) *Store {
	cfg = cfg.withDefaults()
	s := &Store{
		tools:        make(map[string]*ToolNode),
		capabilities: make(map[string]*CapabilityNode),
		edges:        make(map[edgeKey]*Edge),
		out:          make(map[string]map[string]*Edge),
		in:           make(map[string]map[string]*Edge),
		intern:       make(map[string]int64),
		cfg:          cfg,
		logger:       cfg.Logger,
	}
	s.analytics.Store(emptyAnalytics())

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: spectralCacheCounters,
		MaxCost:     spectralCacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		s.logger.Warn("spectral cache disabled", "error", err)
	} else {
		s.spectralCache = cache
	}
	return s
}

// =============================================================================
// Node Management
// =============================================================================

// UpsertTool registers or refreshes a tool node. Display metadata and the
// embedding are replaced when non-empty; analytic fields are ignored on
// input.
func (s *Store) UpsertTool(n ToolNode) error {
	if n.ID == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tools[n.ID]
	if !ok {
		s.internID(n.ID)
		s.tools[n.ID] = &ToolNode{
			ID:          n.ID,
			Name:        n.Name,
			Description: n.Description,
			Embedding:   n.Embedding,
			FirstSeen:   time.Now(),
		}
		s.version.Add(1)
		return nil
	}

	existing.Stub = false
	if n.Name != "" {
		existing.Name = n.Name
	}
	if n.Description != "" {
		existing.Description = n.Description
	}
	if len(n.Embedding) > 0 {
		existing.Embedding = n.Embedding
	}
	s.version.Add(1)
	return nil
}

// UpsertCapability registers a capability. The constituent tool list is
// immutable once set; a conflicting redefinition is rejected.
func (s *Store) UpsertCapability(n CapabilityNode) error {
	if n.ID == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.capabilities[n.ID]
	if ok {
		if len(n.ToolsUsed) > 0 && !sameIDs(existing.ToolsUsed, n.ToolsUsed) {
			return ErrCapabilityRedefined
		}
		if n.Name != "" {
			existing.Name = n.Name
		}
		if n.Description != "" {
			existing.Description = n.Description
		}
		if len(n.Embedding) > 0 {
			existing.Embedding = n.Embedding
		}
		s.version.Add(1)
		return nil
	}

	s.internID(n.ID)
	tools := make([]string, len(n.ToolsUsed))
	copy(tools, n.ToolsUsed)
	s.capabilities[n.ID] = &CapabilityNode{
		ID:          n.ID,
		Name:        n.Name,
		Description: n.Description,
		Embedding:   n.Embedding,
		ToolsUsed:   tools,
		FirstSeen:   time.Now(),
	}
	s.version.Add(1)
	return nil
}

// RecordCapabilityUse increments a capability's usage counter.
func (s *Store) RecordCapabilityUse(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.capabilities[id]; ok {
		c.Uses++
	}
}

// Tool returns a value copy of the tool node with analytic fields filled from
// the current snapshot.
func (s *Store) Tool(id string) (ToolNode, bool) {
	s.mu.RLock()
	n, ok := s.tools[id]
	if !ok {
		s.mu.RUnlock()
		return ToolNode{}, false
	}
	view := *n
	s.mu.RUnlock()

	a := s.Analytics()
	view.Centrality = a.CentralityOf(id)
	view.Community = a.CommunityOf(id)
	return view, true
}

// Capability returns a value copy of the capability node with analytic fields
// filled from the current snapshot.
func (s *Store) Capability(id string) (CapabilityNode, bool) {
	s.mu.RLock()
	n, ok := s.capabilities[id]
	if !ok {
		s.mu.RUnlock()
		return CapabilityNode{}, false
	}
	view := *n
	view.ToolsUsed = append([]string(nil), n.ToolsUsed...)
	s.mu.RUnlock()

	a := s.Analytics()
	view.Centrality = a.CapabilityRankOf(id)
	view.Community = a.CommunityOf(id)
	view.Zones = a.ZonesOf(id)
	return view, true
}

// Contains reports whether any node carries the given id.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.containsLocked(id)
}

func (s *Store) containsLocked(id string) bool {
	if _, ok := s.tools[id]; ok {
		return true
	}
	_, ok := s.capabilities[id]
	return ok
}

// KindOf reports the kind of a node id.
func (s *Store) KindOf(id string) (Kind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tools[id]; ok {
		return KindTool, true
	}
	if _, ok := s.capabilities[id]; ok {
		return KindCapability, true
	}
	return 0, false
}

// ToolIDs returns all tool ids in deterministic order.
func (s *Store) ToolIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tools))
	for id := range s.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CapabilityIDs returns all capability ids in deterministic order.
func (s *Store) CapabilityIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.capabilities))
	for id := range s.capabilities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ToolsUsedBy returns the constituent id list of a capability, or nil when
// the id is unknown or a tool.
func (s *Store) ToolsUsedBy(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.capabilities[id]
	if !ok {
		return nil
	}
	return append([]string(nil), c.ToolsUsed...)
}

// NodeCount returns the number of tools and capabilities.
func (s *Store) NodeCount() (tools, capabilities int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tools), len(s.capabilities)
}

// =============================================================================
// Edge Management
// =============================================================================

// UpsertEdge records a directed co-occurrence observation. Unknown endpoints
// are auto-created as stub tool nodes so that edges never reference nodes
// absent from the store. Confidence grows boundedly on re-observation.
func (s *Store) UpsertEdge(from, to string, confidence float64, count int64) error {
	if from == "" || to == "" {
		return ErrEmptyID
	}
	if from == to {
		return ErrSelfEdge
	}
	confidence = clamp01(confidence)
	if count <= 0 {
		count = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureNodeLocked(from)
	s.ensureNodeLocked(to)

	key := edgeKey{from: from, to: to}
	e, ok := s.edges[key]
	if !ok {
		e = &Edge{From: from, To: to, Confidence: confidence, Observations: count, UpdatedAt: time.Now()}
		s.edges[key] = e
		s.indexEdgeLocked(e)
		s.version.Add(1)
		return nil
	}

	// Bounded reinforcement: repeated observation pushes confidence toward 1
	// without ever reaching it in a single step.
	e.Confidence = clamp01(e.Confidence + (1-e.Confidence)*s.cfg.ReinforcementRate*confidence)
	e.Observations += count
	e.UpdatedAt = time.Now()
	s.version.Add(1)
	return nil
}

func (s *Store) ensureNodeLocked(id string) {
	if s.containsLocked(id) {
		return
	}
	s.internID(id)
	s.tools[id] = &ToolNode{ID: id, Stub: true, FirstSeen: time.Now()}
}

func (s *Store) indexEdgeLocked(e *Edge) {
	if s.out[e.From] == nil {
		s.out[e.From] = make(map[string]*Edge)
	}
	s.out[e.From][e.To] = e
	if s.in[e.To] == nil {
		s.in[e.To] = make(map[string]*Edge)
	}
	s.in[e.To][e.From] = e
}

func (s *Store) removeEdgeLocked(key edgeKey) {
	delete(s.edges, key)
	if m := s.out[key.from]; m != nil {
		delete(m, key.to)
	}
	if m := s.in[key.to]; m != nil {
		delete(m, key.from)
	}
}

// Edge returns a value copy of the edge between two nodes.
func (s *Store) Edge(from, to string) (Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[edgeKey{from: from, to: to}]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// EdgeCount returns the number of edges, including sub-floor ones.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// Neighbors returns incoming and outgoing neighbors of a node, sorted by
// descending confidence with id as the tie-break.
func (s *Store) Neighbors(id string) []Neighbor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Neighbor, 0, len(s.out[id])+len(s.in[id]))
	for to, e := range s.out[id] {
		result = append(result, Neighbor{ID: to, Confidence: e.Confidence, Outbound: true})
	}
	for from, e := range s.in[id] {
		result = append(result, Neighbor{ID: from, Confidence: e.Confidence, Outbound: false})
	}
	sortNeighbors(result)
	return result
}

// OutNeighbors returns only outgoing neighbors of a node, sorted by
// descending confidence with id as the tie-break.
func (s *Store) OutNeighbors(id string) []Neighbor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Neighbor, 0, len(s.out[id]))
	for to, e := range s.out[id] {
		result = append(result, Neighbor{ID: to, Confidence: e.Confidence, Outbound: true})
	}
	sortNeighbors(result)
	return result
}

// Adjacent reports whether an analytics-grade edge connects a to b in either
// direction.
func (s *Store) Adjacent(a, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.edges[edgeKey{from: a, to: b}]; ok && e.Confidence >= s.cfg.MinConfidence {
		return true
	}
	if e, ok := s.edges[edgeKey{from: b, to: a}]; ok && e.Confidence >= s.cfg.MinConfidence {
		return true
	}
	return false
}

func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Confidence != ns[j].Confidence {
			return ns[i].Confidence > ns[j].Confidence
		}
		return ns[i].ID < ns[j].ID
	})
}

// =============================================================================
// Snapshot / Restore
// =============================================================================

// Export returns a plain-struct snapshot of nodes and edges for external
// persistence.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{TakenAt: time.Now()}
	for _, id := range sortedKeys(s.tools) {
		n := s.tools[id]
		view := *n
		snap.Tools = append(snap.Tools, view)
	}
	for _, id := range sortedKeys(s.capabilities) {
		n := s.capabilities[id]
		view := *n
		view.ToolsUsed = append([]string(nil), n.ToolsUsed...)
		snap.Capabilities = append(snap.Capabilities, view)
	}
	keys := make([]edgeKey, 0, len(s.edges))
	for k := range s.edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})
	for _, k := range keys {
		snap.Edges = append(snap.Edges, *s.edges[k])
	}
	return snap
}

// Restore replaces the graph contents from a snapshot. Analytics are reset
// and must be recomputed by the caller.
func (s *Store) Restore(snap Snapshot) error {
	s.mu.Lock()
	s.tools = make(map[string]*ToolNode, len(snap.Tools))
	s.capabilities = make(map[string]*CapabilityNode, len(snap.Capabilities))
	s.edges = make(map[edgeKey]*Edge, len(snap.Edges))
	s.out = make(map[string]map[string]*Edge)
	s.in = make(map[string]map[string]*Edge)
	s.intern = make(map[string]int64)
	s.rev = nil

	for _, t := range snap.Tools {
		if t.ID == "" {
			continue
		}
		node := t
		s.internID(node.ID)
		s.tools[node.ID] = &node
	}
	for _, c := range snap.Capabilities {
		if c.ID == "" {
			continue
		}
		node := c
		node.ToolsUsed = append([]string(nil), c.ToolsUsed...)
		s.internID(node.ID)
		s.capabilities[node.ID] = &node
	}
	for _, e := range snap.Edges {
		if e.From == "" || e.To == "" || e.From == e.To {
			continue
		}
		s.ensureNodeLocked(e.From)
		s.ensureNodeLocked(e.To)
		edge := e
		s.edges[edgeKey{from: e.From, to: e.To}] = &edge
		s.indexEdgeLocked(&edge)
	}
	s.version.Add(1)
	s.mu.Unlock()

	s.analytics.Store(emptyAnalytics())
	return nil
}

// =============================================================================
// Internal Helpers
// =============================================================================

// internID assigns a dense int64 id for gonum interop. Caller must hold the
// write lock.
func (s *Store) internID(id string) int64 {
	if n, ok := s.intern[id]; ok {
		return n
	}
	n := int64(len(s.rev))
	s.intern[id] = n
	s.rev = append(s.rev, id)
	return n
}

// Version returns the mutation counter.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

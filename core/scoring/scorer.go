package scoring

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/adalundhe/rudder/core/graph"
	"github.com/viterin/vek/vek32"
)

// =============================================================================
// Candidate Scorer
// =============================================================================

// NeutralScore is the defined cold-start value: with no evidence either way,
// every probability-shaped quantity reads 0.5.
const NeutralScore = 0.5

// pathPositionGain controls how much more a late path step weighs than an
// early one when predicting whole-path success. Step i carries weight
// 1 + pathPositionGain*i, encoding that failures near the end of a path are
// more informative than early-step ambiguity.
const pathPositionGain = 0.5

// GraphView is the read-only slice of the graph store the scorer depends on.
type GraphView interface {
	Tool(id string) (graph.ToolNode, bool)
	Capability(id string) (graph.CapabilityNode, bool)
	ToolIDs() []string
	CapabilityIDs() []string
	NodeCount() (tools, capabilities int)
	Adjacent(a, b string) bool
	Reachable(context []string, to string) bool
	Analytics() *graph.Analytics
}

// Candidate is one scored tool or capability.
type Candidate struct {
	ID    string
	Kind  graph.Kind
	Score float64
}

// Config tunes scorer behavior. Zero values fall back to defaults.
type Config struct {
	// LearningRate scales gradient steps during training. Default 0.05.
	LearningRate float64

	// Logger receives training lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.LearningRate <= 0 {
		c.LearningRate = 0.05
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Scorer ranks tools and capabilities against an intent embedding through
// three gated heads: semantic similarity, graph-structural importance, and a
// learned relational bias. Scoring reads one atomic weight snapshot and the
// graph's published analytics, so concurrent scoring calls are safe and a
// call never observes a half-applied training update.
type Scorer struct {
	view   GraphView
	cfg    Config
	logger *slog.Logger

	// mu serializes weight writers; readers go through the pointer.
	mu      sync.Mutex
	weights atomic.Pointer[Weights]
}

// NewScorer creates a scorer over the given graph view with cold-start
// weights.
func NewScorer(view GraphView, cfg Config) *Scorer {
	cfg = cfg.withDefaults()
	s := &Scorer{
		view:   view,
		cfg:    cfg,
		logger: cfg.Logger,
	}
	s.weights.Store(NewWeights())
	return s
}

// Weights returns the current snapshot. Callers must treat it as read-only.
func (s *Scorer) Weights() *Weights {
	return s.weights.Load()
}

// SetWeights installs an externally persisted snapshot, for example on
// restart. A nil snapshot resets to cold start.
func (s *Scorer) SetWeights(w *Weights) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w == nil {
		w = NewWeights()
	}
	if w.NodeBias == nil {
		w = w.clone()
		w.NodeBias = make(map[string]float64)
	}
	s.weights.Store(w)
}

// Score computes a single candidate's score in [0,1]. The second return is
// false when the id is not registered; callers decide whether that means
// neutral fallback or rejection.
func (s *Scorer) Score(id string, intent []float32, context []string) (float64, bool) {
	return s.scoreWith(s.weights.Load(), id, intent, context)
}

// ScoreAll ranks every registered tool and capability against the intent.
// Both lists come back sorted by descending score with id as the
// deterministic tie-break.
func (s *Scorer) ScoreAll(intent []float32, context []string) (tools, capabilities []Candidate) {
	w := s.weights.Load()

	for _, id := range s.view.ToolIDs() {
		if score, ok := s.scoreWith(w, id, intent, context); ok {
			tools = append(tools, Candidate{ID: id, Kind: graph.KindTool, Score: score})
		}
	}
	for _, id := range s.view.CapabilityIDs() {
		if score, ok := s.scoreWith(w, id, intent, context); ok {
			capabilities = append(capabilities, Candidate{ID: id, Kind: graph.KindCapability, Score: score})
		}
	}
	sortCandidates(tools)
	sortCandidates(capabilities)
	return tools, capabilities
}

// PredictPathSuccess estimates the probability that an ordered execution
// path succeeds end to end. With no registered nodes or an empty path the
// estimate is exactly neutral. Each step is scored with the path prefix as
// its context, unknown steps fall back to neutral, and later steps weigh
// more via the position gain.
func (s *Scorer) PredictPathSuccess(intent []float32, path []string) float64 {
	toolCount, capabilityCount := s.view.NodeCount()
	if toolCount+capabilityCount == 0 || len(path) == 0 {
		return NeutralScore
	}

	w := s.weights.Load()
	var weighted, total float64
	for i, id := range path {
		score, ok := s.scoreWith(w, id, intent, path[:i])
		if !ok {
			score = NeutralScore
		}
		positionWeight := 1.0 + pathPositionGain*float64(i)
		weighted += positionWeight * score
		total += positionWeight
	}
	return weighted / total
}

// scoreWith evaluates the gated heads against one weight snapshot.
func (s *Scorer) scoreWith(w *Weights, id string, intent []float32, context []string) (float64, bool) {
	embedding, structural, ok := s.lookup(id)
	if !ok {
		return 0, false
	}

	gates := w.gates()
	semantic := semanticHead(intent, embedding)
	relational := relationalHead(w, id, s.contextConnection(context, id))

	score := gates[HeadSemantic]*semantic +
		gates[HeadStructural]*structural +
		gates[HeadRelational]*relational
	return clampUnit(score), true
}

// lookup resolves a candidate's embedding and structural head value. Tools
// use PageRank centrality, capabilities use the bipartite walk rank; both
// read neutral until analytics have been computed at least once.
func (s *Scorer) lookup(id string) (embedding []float32, structural float64, ok bool) {
	cold := s.view.Analytics().ComputedAt.IsZero()

	if tool, found := s.view.Tool(id); found {
		if cold {
			return tool.Embedding, NeutralScore, true
		}
		return tool.Embedding, tool.Centrality, true
	}
	if capability, found := s.view.Capability(id); found {
		if cold {
			return capability.Embedding, NeutralScore, true
		}
		return capability.Embedding, capability.Centrality, true
	}
	return nil, 0, false
}

// contextConnection is the binary relatedness feature: 1 when the candidate
// is adjacent to or reachable from any context node, else 0. Membership in
// the context itself counts as connected.
func (s *Scorer) contextConnection(context []string, id string) float64 {
	if len(context) == 0 {
		return 0
	}
	for _, c := range context {
		if c == id || s.view.Adjacent(c, id) {
			return 1
		}
	}
	if s.view.Reachable(context, id) {
		return 1
	}
	return 0
}

// semanticHead maps cosine similarity into [0,1]. Missing or mismatched
// embeddings read neutral rather than zero so un-embedded candidates are not
// structurally buried.
func semanticHead(intent, embedding []float32) float64 {
	if len(intent) == 0 || len(embedding) == 0 || len(intent) != len(embedding) {
		return NeutralScore
	}
	intentNorm := math.Sqrt(float64(vek32.Dot(intent, intent)))
	embeddingNorm := math.Sqrt(float64(vek32.Dot(embedding, embedding)))
	if intentNorm == 0 || embeddingNorm == 0 {
		return NeutralScore
	}
	cosine := float64(vek32.Dot(intent, embedding)) / (intentNorm * embeddingNorm)
	return clampUnit((1.0 + cosine) / 2.0)
}

// relationalHead squashes the learned per-node bias plus the scaled context
// feature. With cold weights and no context this is exactly 0.5.
func relationalHead(w *Weights, id string, connection float64) float64 {
	return sigmoid(w.biasOf(id) + w.ContextWeight*connection)
}

func sortCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].ID < cs[j].ID
	})
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

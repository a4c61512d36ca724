package suggest

import (
	"log/slog"
	"sort"

	"github.com/adalundhe/rudder/core/exploration"
	"github.com/adalundhe/rudder/core/graph"
	"github.com/adalundhe/rudder/core/permission"
	"github.com/adalundhe/rudder/core/scoring"
)

// =============================================================================
// Suggester
// =============================================================================

// GraphView is the slice of the graph the suggester reads.
type GraphView interface {
	LeafTools(capabilityID string) []string
	ShortestPath(from, to string) []string
	Analytics() *graph.Analytics
}

// Suggester composes graph topology, learned scores, exploration
// thresholds, and the permission descriptor into ranked decisions.
type Suggester struct {
	scorer     *scoring.Scorer
	view       GraphView
	classifier *permission.Classifier
	explore    *exploration.Manager

	cfg    Config
	logger *slog.Logger
}

// NewSuggester wires a suggester over its collaborators.
func NewSuggester(
	scorer *scoring.Scorer,
	view GraphView,
	classifier *permission.Classifier,
	explore *exploration.Manager,
	cfg Config,
) *Suggester {
	cfg = cfg.withDefaults()
	return &Suggester{
		scorer:     scorer,
		view:       view,
		classifier: classifier,
		explore:    explore,
		cfg:        cfg,
		logger:     cfg.Logger,
	}
}

// Rank produces the mixed tool/capability ranking for an intent. Tools
// carry their hybrid scores; capabilities score as
// toolOverlap * (1 + spectralBoost) against the intent's relevant tool
// set, so a capability sharing no relevant tools scores zero and is
// dropped.
func (s *Suggester) Rank(intent []float32, context []string) []Ranked {
	tools, capabilities := s.scorer.ScoreAll(intent, context)

	relevant := relevantSet(tools, s.cfg.RelevantTools)

	ranked := make([]Ranked, 0, len(tools)+len(capabilities))
	for _, t := range tools {
		ranked = append(ranked, Ranked{ID: t.ID, Kind: graph.KindTool, Score: t.Score})
	}
	for _, c := range capabilities {
		score := s.capabilityRelevance(c.ID, relevant)
		if score == 0 {
			continue
		}
		ranked = append(ranked, Ranked{ID: c.ID, Kind: graph.KindCapability, Score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) > s.cfg.MaxCandidates {
		ranked = ranked[:s.cfg.MaxCandidates]
	}
	return ranked
}

// Suggest ranks candidates and attaches a decision to each. The overall
// decision is the top candidate's; an empty graph yields an empty
// suggestion, never an error.
func (s *Suggester) Suggest(intent []float32, context []string, mode exploration.Mode) *Result {
	return s.SuggestRanked(s.Rank(intent, context), mode)
}

// SuggestRanked attaches decisions to a ranking the caller already built,
// for rankings that come from somewhere other than the scorer, such as a
// lexical fallback when no intent embedding exists.
func (s *Suggester) SuggestRanked(ranked []Ranked, mode exploration.Mode) *Result {
	if len(ranked) == 0 {
		return &Result{
			Decision: DecisionSuggest,
			Reason:   "no known candidates",
		}
	}

	candidates := make([]Candidate, 0, len(ranked))
	for _, r := range ranked {
		candidates = append(candidates, s.Decide(r.ID, r.Kind, r.Score, mode))
	}

	top := candidates[0]
	result := &Result{
		Decision:   top.Decision,
		Reason:     top.Reason,
		Candidates: candidates,
		Confidence: top.Score,
	}

	s.logger.Debug(
		"suggestion ready",
		"decision", result.Decision,
		"candidates", len(candidates),
		"top", top.ID,
		"confidence", result.Confidence,
	)
	return result
}

// Decide applies the decision ladder to one candidate: deny patterns and
// always-confirm force approval, unknown risk and always-human routing
// bypass scoring, and only then does score meet threshold.
func (s *Suggester) Decide(id string, kind graph.Kind, score float64, mode exploration.Mode) Candidate {
	tier, approval, denied := s.classify(id, kind)

	c := Candidate{
		ID:        id,
		Kind:      kind,
		Score:     score,
		Tier:      tier,
		Threshold: 1.0,
	}

	switch {
	case denied:
		c.Decision = DecisionRequireApproval
		c.Reason = "matches a deny pattern"
		return c
	case s.cfg.AlwaysConfirm:
		c.Decision = DecisionRequireApproval
		c.Reason = "always-confirm is enabled"
		return c
	case approval == permission.ApprovalAlwaysHuman && tier != permission.TierUnknown:
		c.Decision = DecisionRequireApproval
		c.Reason = "descriptor routes this candidate to a human"
		return c
	}

	threshold := s.explore.Threshold(id, tier, mode)
	c.Threshold = threshold.Threshold
	if threshold.RequiresApproval {
		c.Decision = DecisionRequireApproval
		c.Reason = "unknown risk tier"
		return c
	}

	if score >= threshold.Threshold {
		c.Decision = DecisionExecute
	} else {
		c.Decision = DecisionSuggest
	}
	return c
}

// classify resolves tier, approval routing, and deny status for a
// candidate. Capabilities inherit the strictest answer among their leaf
// tools.
func (s *Suggester) classify(id string, kind graph.Kind) (permission.Tier, permission.Approval, bool) {
	if kind == graph.KindTool {
		return s.classifier.TierOf(id), s.classifier.ApprovalOf(id), s.classifier.Denied(id)
	}

	leaf := s.view.LeafTools(id)
	tier := s.classifier.DeriveCapabilityTier(leaf)
	approval := s.classifier.DeriveCapabilityApproval(leaf)

	denied := s.classifier.Denied(id)
	for _, tool := range leaf {
		if denied {
			break
		}
		denied = s.classifier.Denied(tool)
	}
	return tier, approval, denied
}

// capabilityRelevance scores a capability against the relevant tool set.
// Zero overlap is zero relevance regardless of any spectral boost.
func (s *Suggester) capabilityRelevance(id string, relevant map[string]struct{}) float64 {
	leaf := s.view.LeafTools(id)
	if len(leaf) == 0 || len(relevant) == 0 {
		return 0
	}

	shared := make([]string, 0, len(leaf))
	for _, tool := range leaf {
		if _, ok := relevant[tool]; ok {
			shared = append(shared, tool)
		}
	}
	if len(shared) == 0 {
		return 0
	}

	overlap := float64(len(shared)) / float64(len(leaf))

	boost := 0.0
	analytics := s.view.Analytics()
	for _, tool := range shared {
		if analytics.SharedZone(id, tool) {
			boost = s.cfg.SpectralBoost
			break
		}
	}

	score := overlap * (1 + boost)
	if score > 1 {
		score = 1
	}
	return score
}

func relevantSet(tools []scoring.Candidate, n int) map[string]struct{} {
	if len(tools) < n {
		n = len(tools)
	}
	set := make(map[string]struct{}, n)
	for _, t := range tools[:n] {
		set[t.ID] = struct{}{}
	}
	return set
}

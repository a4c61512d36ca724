package engine

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/adalundhe/rudder/core/events"
	"github.com/adalundhe/rudder/core/exploration"
	"github.com/adalundhe/rudder/core/graph"
	"github.com/adalundhe/rudder/core/permission"
	"github.com/adalundhe/rudder/core/scoring"
	"github.com/adalundhe/rudder/core/suggest"
)

// =============================================================================
// Suggestion
// =============================================================================

// lexicalWeight balances lexical relevance against the scorer's graph
// score when no embedding exists.
const lexicalWeight = 0.5

// DefaultPredictions caps predictions when the caller sets no limit.
const DefaultPredictions = 5

// Suggest answers one intent: rank candidates, attach decisions, and
// optionally arrange the top of the ranking into an evaluated plan whose
// verdict becomes the overall decision. The intent embedding resolves
// through the provider before any scoring happens; when neither the
// request nor the provider can produce one, ranking falls back to the
// lexical index.
func (e *Engine) Suggest(ctx context.Context, req Request) (*Response, error) {
	if err := e.closedErr(); err != nil {
		return nil, err
	}
	if len(req.Embedding) == 0 && strings.TrimSpace(req.Intent) == "" {
		return nil, ErrNoIntent
	}

	key := req.cacheKey()
	if resp, ok := e.cache.Get(key); ok {
		e.logger.Debug("suggestion served from cache", "key", key)
		return resp, nil
	}

	intent := req.Embedding
	if len(intent) == 0 {
		vec, err := e.provider.Embed(ctx, req.Intent)
		if err != nil {
			e.logger.Warn("intent embedding failed, using lexical fallback", "error", err)
		} else {
			intent = vec
		}
	}

	lexicalPath := len(intent) == 0
	var result *suggest.Result
	if lexicalPath {
		result = e.suggester.SuggestRanked(e.lexicalRank(req.Intent, req.Context), req.Mode)
	} else {
		result = e.suggester.Suggest(intent, req.Context, req.Mode)
	}

	resp := &Response{
		Decision:   result.Decision,
		Reason:     result.Reason,
		Candidates: result.Candidates,
		Confidence: result.Confidence,
		Lexical:    lexicalPath,
	}

	if req.WithPlan && len(result.Candidates) > 0 {
		if err := e.attachPlan(resp, req); err != nil {
			return nil, err
		}
	}

	e.cache.Add(key, resp)
	e.publishDecision(resp)
	return resp, nil
}

// attachPlan arranges the ranked candidates into a dependency-ordered
// plan, evaluates it layer by layer, and promotes the evaluation's
// verdict to the response.
func (e *Engine) attachPlan(resp *Response, req Request) error {
	ranked := make([]suggest.Ranked, len(resp.Candidates))
	for i, c := range resp.Candidates {
		ranked[i] = suggest.Ranked{ID: c.ID, Kind: c.Kind, Score: c.Score}
	}

	p, err := e.suggester.BuildPlan(req.Intent, ranked)
	if err != nil {
		return err
	}
	eval, err := e.suggester.EvaluatePlan(p, req.Mode)
	if err != nil {
		return err
	}

	resp.Plan = p
	resp.Evaluation = eval
	resp.Decision = eval.Decision
	resp.Reason = blockingReason(eval)
	return nil
}

// blockingReason surfaces why an evaluation paused: the first blocked
// step's own reason when it has one, otherwise the generic score shortfall.
func blockingReason(eval *suggest.Evaluation) string {
	if eval.Pending == nil {
		return ""
	}
	for _, step := range eval.Pending.Steps {
		if step.Decision != suggest.DecisionExecute && step.Reason != "" {
			return step.Reason
		}
	}
	if eval.Decision == suggest.DecisionSuggest {
		return "a plan step scored below its threshold"
	}
	return ""
}

// lexicalRank ranks candidates by lexical relevance blended with the
// scorer's embedding-free score, so graph signal still breaks lexical
// ties.
func (e *Engine) lexicalRank(query string, context []string) []suggest.Ranked {
	matches := e.lexical.Rank(query, e.cfg.Suggest.MaxCandidates)

	ranked := make([]suggest.Ranked, 0, len(matches))
	for _, m := range matches {
		kind, known := e.graph.KindOf(m.ID)
		if !known {
			continue
		}
		base, ok := e.scorer.Score(m.ID, nil, context)
		if !ok {
			base = scoring.NeutralScore
		}
		ranked = append(ranked, suggest.Ranked{
			ID:    m.ID,
			Kind:  kind,
			Score: (1-lexicalWeight)*base + lexicalWeight*m.Relevance,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked
}

func (e *Engine) publishDecision(resp *Response) {
	top := ""
	if len(resp.Candidates) > 0 {
		top = resp.Candidates[0].ID
	}
	e.bus.Publish(events.DecisionMade(top, string(resp.Decision), resp.Reason, resp.Confidence))
}

// cacheKey is the request's memoization signature. Every field that can
// change the response participates.
func (r Request) cacheKey() string {
	h := fnv.New64a()
	h.Write([]byte(r.Intent))
	h.Write([]byte{0, byte(r.Mode)})
	if r.WithPlan {
		h.Write([]byte{1})
	}
	for _, c := range r.Context {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	var buf [4]byte
	for _, v := range r.Embedding {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// =============================================================================
// Thresholds
// =============================================================================

// ThresholdFor reports the acceptance bar one candidate must clear in
// one mode. Ids absent from the graph classify as unknown risk and route
// to human approval regardless of the descriptor.
func (e *Engine) ThresholdFor(id string, mode exploration.Mode) exploration.Decision {
	kind, known := e.graph.KindOf(id)
	if !known {
		return e.explore.Threshold(id, permission.TierUnknown, mode)
	}
	return e.explore.Threshold(id, e.tierOf(id, kind), mode)
}

// tierOf classifies one known candidate, deriving capability tiers from
// the strictest leaf tool.
func (e *Engine) tierOf(id string, kind graph.Kind) permission.Tier {
	if kind == graph.KindCapability {
		return e.classifier.DeriveCapabilityTier(e.graph.LeafTools(id))
	}
	return e.classifier.TierOf(id)
}

// =============================================================================
// Next-Candidate Prediction
// =============================================================================

// PredictNextCandidates ranks what likely runs next from the workflow's
// executed frontier. Candidates are out-neighbors of executed nodes that
// have not run yet; a frontier with no outgoing edges predicts nothing,
// which callers treat as no suggestion, not an error.
func (e *Engine) PredictNextCandidates(ctx context.Context, state WorkflowState) ([]Prediction, error) {
	if err := e.closedErr(); err != nil {
		return nil, err
	}

	limit := state.Limit
	if limit <= 0 {
		limit = DefaultPredictions
	}

	intent := state.Embedding
	if len(intent) == 0 && strings.TrimSpace(state.Intent) != "" {
		vec, err := e.provider.Embed(ctx, state.Intent)
		if err != nil {
			e.logger.Warn("intent embedding failed, predicting on graph signal alone", "error", err)
		} else {
			intent = vec
		}
	}

	executed := make(map[string]struct{}, len(state.Executed))
	for _, id := range state.Executed {
		executed[id] = struct{}{}
	}

	// The frontier keeps each candidate's strongest observed edge from
	// any executed node.
	best := make(map[string]float64)
	for _, id := range state.Executed {
		for _, n := range e.graph.OutNeighbors(id) {
			if _, done := executed[n.ID]; done {
				continue
			}
			if n.Confidence > best[n.ID] {
				best[n.ID] = n.Confidence
			}
		}
	}
	if len(best) == 0 {
		return nil, nil
	}

	scoringContext := state.Context
	if len(scoringContext) == 0 {
		scoringContext = state.Executed
	}

	predictions := make([]Prediction, 0, len(best))
	for id, confidence := range best {
		kind, _ := e.graph.KindOf(id)
		score, ok := e.scorer.Score(id, intent, scoringContext)
		if !ok {
			score = scoring.NeutralScore
		}
		predictions = append(predictions, Prediction{
			ID:         id,
			Kind:       kind,
			Confidence: confidence,
			Score:      score,
			Blended:    (confidence + score) / 2,
		})
	}

	sort.Slice(predictions, func(i, j int) bool {
		if predictions[i].Blended != predictions[j].Blended {
			return predictions[i].Blended > predictions[j].Blended
		}
		return predictions[i].ID < predictions[j].ID
	})
	if len(predictions) > limit {
		predictions = predictions[:limit]
	}
	return predictions, nil
}

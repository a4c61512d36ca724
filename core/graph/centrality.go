package graph

import "math"

// =============================================================================
// Weighted PageRank
// =============================================================================

const (
	pageRankMaxIter = 100
	pageRankEpsilon = 1e-6
)

// exportedGraph is an immutable adjacency export of analytics-grade edges
// (confidence at or above the floor), captured under the read lock so that
// expensive analytics never run against a graph mid-mutation.
type exportedGraph struct {
	nodes []string
	// out maps source id to target id to edge confidence.
	out map[string]map[string]float64
	// caps maps capability id to its constituent ids (for the bipartite
	// incidence analytics).
	caps map[string][]string
	// tools is the set of tool ids.
	tools map[string]struct{}
}

// exportForAnalytics captures the analytics view of the graph.
func (s *Store) exportForAnalytics() *exportedGraph {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ex := &exportedGraph{
		out:   make(map[string]map[string]float64),
		caps:  make(map[string][]string, len(s.capabilities)),
		tools: make(map[string]struct{}, len(s.tools)),
	}
	for _, id := range sortedKeys(s.tools) {
		ex.nodes = append(ex.nodes, id)
		ex.tools[id] = struct{}{}
	}
	for _, id := range sortedKeys(s.capabilities) {
		ex.nodes = append(ex.nodes, id)
		ex.caps[id] = append([]string(nil), s.capabilities[id].ToolsUsed...)
	}
	for key, e := range s.edges {
		if e.Confidence < s.cfg.MinConfidence {
			continue
		}
		if ex.out[key.from] == nil {
			ex.out[key.from] = make(map[string]float64)
		}
		ex.out[key.from][key.to] = e.Confidence
	}
	return ex
}

// computePageRank runs weighted power iteration over the exported graph.
// Edge confidence acts as transition weight: a node's rank flows to its
// successors proportionally to confidence. Dangling nodes redistribute their
// mass uniformly, which keeps disconnected components and isolated nodes
// well-defined. Scores are returned normalized by the maximum so the result
// lands in [0,1]; an empty graph yields an empty map and an edgeless graph
// yields a uniform 1.0 for every node.
func computePageRank(ex *exportedGraph, damping float64) map[string]float64 {
	n := len(ex.nodes)
	if n == 0 {
		return map[string]float64{}
	}

	ranks := make(map[string]float64, n)
	initial := 1.0 / float64(n)
	for _, id := range ex.nodes {
		ranks[id] = initial
	}

	outWeight := make(map[string]float64, len(ex.out))
	for src, targets := range ex.out {
		var sum float64
		for _, w := range targets {
			sum += w
		}
		outWeight[src] = sum
	}

	teleport := (1.0 - damping) / float64(n)
	for i := 0; i < pageRankMaxIter; i++ {
		next := pageRankIteration(ex, ranks, outWeight, damping, teleport)
		if rankConverged(ranks, next) {
			ranks = next
			break
		}
		ranks = next
	}

	return normalizeByMax(ranks)
}

func pageRankIteration(ex *exportedGraph, ranks, outWeight map[string]float64, damping, teleport float64) map[string]float64 {
	next := make(map[string]float64, len(ranks))

	// Dangling mass: rank held by nodes with no qualifying out-edges is
	// spread uniformly.
	var dangling float64
	for _, id := range ex.nodes {
		if outWeight[id] <= 0 {
			dangling += ranks[id]
		}
	}
	base := teleport + damping*dangling/float64(len(ex.nodes))
	for _, id := range ex.nodes {
		next[id] = base
	}

	for src, targets := range ex.out {
		total := outWeight[src]
		if total <= 0 {
			continue
		}
		share := damping * ranks[src] / total
		for tgt, w := range targets {
			next[tgt] += share * w
		}
	}
	return next
}

func rankConverged(old, next map[string]float64) bool {
	for id, v := range next {
		if math.Abs(v-old[id]) > pageRankEpsilon {
			return false
		}
	}
	return true
}

// normalizeByMax rescales scores so the highest-ranked node is exactly 1.0,
// keeping everything in [0,1]. A uniform distribution normalizes to all-ones.
func normalizeByMax(ranks map[string]float64) map[string]float64 {
	var max float64
	for _, v := range ranks {
		if v > max {
			max = v
		}
	}
	if max <= 0 {
		return ranks
	}
	out := make(map[string]float64, len(ranks))
	for id, v := range ranks {
		out[id] = v / max
	}
	return out
}

package graph

import "sort"

// =============================================================================
// Hypergraph Rank
// =============================================================================

// hyperRank scores tools and capabilities by a two-step random walk over the
// bipartite incidence: a walker at a tool steps to one of the capabilities
// using it, and a walker at a capability steps to one of its leaf tools. The
// stationary distribution rewards tools shared by many capabilities and
// capabilities composed of widely shared tools. Both sides are normalized to
// [0, 1] by their own maximum; nodes outside any capability score zero.
func hyperRank(ex *exportedGraph, damping float64) (toolRank, capabilityRank map[string]float64) {
	incidence := buildIncidence(ex)
	ids := participantIDs(incidence)
	n := len(ids)

	toolRank = make(map[string]float64)
	capabilityRank = make(map[string]float64)
	if n == 0 {
		return toolRank, capabilityRank
	}

	index := make(map[string]int, n)
	for i, id := range ids {
		index[id] = i
	}
	peers := make([][]int, n)
	for i, id := range ids {
		adj := make([]int, 0, len(incidence[id]))
		for peer := range incidence[id] {
			adj = append(adj, index[peer])
		}
		sort.Ints(adj)
		peers[i] = adj
	}

	rank := make([]float64, n)
	next := make([]float64, n)
	uniform := 1.0 / float64(n)
	for i := range rank {
		rank[i] = uniform
	}

	for iter := 0; iter < pageRankMaxIter; iter++ {
		base := (1.0 - damping) * uniform
		for i := range next {
			next[i] = base
		}
		for i, adj := range peers {
			share := damping * rank[i] / float64(len(adj))
			for _, j := range adj {
				next[j] += share
			}
		}

		var delta float64
		for i := range rank {
			d := next[i] - rank[i]
			if d < 0 {
				d = -d
			}
			delta += d
		}
		rank, next = next, rank
		if delta < pageRankEpsilon {
			break
		}
	}

	for i, id := range ids {
		if _, isCap := ex.caps[id]; isCap {
			capabilityRank[id] = rank[i]
		} else {
			toolRank[id] = rank[i]
		}
	}
	return normalizeByMax(toolRank), normalizeByMax(capabilityRank)
}

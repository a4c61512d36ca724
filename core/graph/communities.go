package graph

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
)

// =============================================================================
// Louvain Communities
// =============================================================================

// computeCommunities runs Louvain modularity maximization over the exported
// graph and returns a community id per node. The random source is seeded so
// repeated runs over the same graph produce identical memberships, and the
// resulting community ids are renumbered by each community's
// lexicographically smallest member, which keeps ids stable across gonum's
// internal ordering.
//
// An edgeless graph degenerates to singleton communities without touching the
// solver; an empty graph yields an empty map.
func computeCommunities(ex *exportedGraph, seed uint64) map[string]int {
	if len(ex.nodes) == 0 {
		return map[string]int{}
	}
	if len(ex.out) == 0 {
		return singletonCommunities(ex.nodes)
	}

	index := make(map[string]int64, len(ex.nodes))
	for i, id := range ex.nodes {
		index[id] = int64(i)
	}

	g := simple.NewWeightedDirectedGraph(0, 0)
	for _, id := range ex.nodes {
		g.AddNode(simple.Node(index[id]))
	}
	for src, targets := range ex.out {
		for tgt, w := range targets {
			g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(index[src]), simple.Node(index[tgt]), w))
		}
	}

	reduced := community.Modularize(g, 1.0, rand.NewPCG(seed, seed))

	groups := reduced.Communities()
	members := make([][]string, 0, len(groups))
	for _, nodes := range groups {
		ids := make([]string, 0, len(nodes))
		for _, n := range nodes {
			ids = append(ids, ex.nodes[n.ID()])
		}
		sort.Strings(ids)
		members = append(members, ids)
	}
	sort.Slice(members, func(i, j int) bool { return members[i][0] < members[j][0] })

	result := make(map[string]int, len(ex.nodes))
	for ci, ids := range members {
		for _, id := range ids {
			result[id] = ci
		}
	}
	return result
}

func singletonCommunities(nodes []string) map[string]int {
	result := make(map[string]int, len(nodes))
	for i, id := range nodes {
		result[id] = i
	}
	return result
}

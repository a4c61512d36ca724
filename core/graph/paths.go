package graph

import "sort"

// =============================================================================
// Shortest Path
// =============================================================================

// ShortestPath finds the shortest directed path between two nodes using
// bidirectional BFS over analytics-grade edges (confidence at or above the
// configured floor). It returns the ordered node id sequence including both
// endpoints, or nil when the nodes are unknown, unreachable, or the path
// would exceed the hop cap. Absence of a path is a defined outcome, not an
// error.
//
// Ties are broken deterministically: adjacency is expanded in lexicographic
// order and the lexicographically smallest meeting node wins among
// equal-length paths.
func (s *Store) ShortestPath(from, to string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.containsLocked(from) || !s.containsLocked(to) {
		return nil
	}
	if from == to {
		return []string{from}
	}

	search := &biSearch{
		store:       s,
		fwd:         map[string]parentInfo{from: {depth: 0}},
		bwd:         map[string]parentInfo{to: {depth: 0}},
		fwdFrontier: []string{from},
		bwdFrontier: []string{to},
	}
	return search.run(s.cfg.HopCap)
}

type parentInfo struct {
	parent string
	depth  int
}

// biSearch holds bidirectional BFS state. The two frontiers expand
// alternately, smaller side first, until they meet or the combined depth
// reaches the hop cap. A whole level is always finished before a meeting is
// accepted, so the first accepted meeting is on a true shortest path.
type biSearch struct {
	store *Store

	fwd map[string]parentInfo
	bwd map[string]parentInfo

	fwdFrontier []string
	bwdFrontier []string

	fwdDepth int
	bwdDepth int
}

func (b *biSearch) run(hopCap int) []string {
	for len(b.fwdFrontier) > 0 && len(b.bwdFrontier) > 0 {
		if b.fwdDepth+b.bwdDepth >= hopCap {
			return nil
		}

		var meets []string
		if len(b.fwdFrontier) <= len(b.bwdFrontier) {
			meets = b.expandForward()
		} else {
			meets = b.expandBackward()
		}
		if len(meets) > 0 {
			path := b.assemble(b.bestMeet(meets))
			if len(path)-1 > hopCap {
				return nil
			}
			return path
		}
	}
	return nil
}

// expandForward advances the source-side frontier one hop along outgoing
// edges and returns every node where the frontiers now touch.
func (b *biSearch) expandForward() []string {
	var meets []string
	next := make([]string, 0, len(b.fwdFrontier))
	for _, id := range b.fwdFrontier {
		for _, succ := range b.successors(id) {
			if _, seen := b.fwd[succ]; seen {
				continue
			}
			b.fwd[succ] = parentInfo{parent: id, depth: b.fwdDepth + 1}
			if _, met := b.bwd[succ]; met {
				meets = append(meets, succ)
			}
			next = append(next, succ)
		}
	}
	b.fwdFrontier = next
	b.fwdDepth++
	return meets
}

// expandBackward advances the target-side frontier one hop along incoming
// edges.
func (b *biSearch) expandBackward() []string {
	var meets []string
	next := make([]string, 0, len(b.bwdFrontier))
	for _, id := range b.bwdFrontier {
		for _, pred := range b.predecessors(id) {
			if _, seen := b.bwd[pred]; seen {
				continue
			}
			b.bwd[pred] = parentInfo{parent: id, depth: b.bwdDepth + 1}
			if _, met := b.fwd[pred]; met {
				meets = append(meets, pred)
			}
			next = append(next, pred)
		}
	}
	b.bwdFrontier = next
	b.bwdDepth++
	return meets
}

// successors returns analytics-grade out-neighbors in lexicographic order.
func (b *biSearch) successors(id string) []string {
	out := b.store.out[id]
	ids := make([]string, 0, len(out))
	for succ, e := range out {
		if e.Confidence >= b.store.cfg.MinConfidence {
			ids = append(ids, succ)
		}
	}
	sort.Strings(ids)
	return ids
}

// predecessors returns analytics-grade in-neighbors in lexicographic order.
func (b *biSearch) predecessors(id string) []string {
	in := b.store.in[id]
	ids := make([]string, 0, len(in))
	for pred, e := range in {
		if e.Confidence >= b.store.cfg.MinConfidence {
			ids = append(ids, pred)
		}
	}
	sort.Strings(ids)
	return ids
}

// bestMeet selects the meeting node minimizing total path length, breaking
// ties lexicographically.
func (b *biSearch) bestMeet(meets []string) string {
	best := meets[0]
	bestLen := b.fwd[best].depth + b.bwd[best].depth
	for _, m := range meets[1:] {
		l := b.fwd[m].depth + b.bwd[m].depth
		if l < bestLen || (l == bestLen && m < best) {
			best, bestLen = m, l
		}
	}
	return best
}

// assemble joins the two parent chains at the meeting node.
func (b *biSearch) assemble(meet string) []string {
	// Walk back from the meeting point to the source.
	var head []string
	for id := meet; id != ""; id = b.fwd[id].parent {
		head = append(head, id)
	}
	// head is [meet ... from]; reverse in place.
	for i, j := 0, len(head)-1; i < j; i, j = i+1, j-1 {
		head[i], head[j] = head[j], head[i]
	}

	// Walk forward from the meeting point to the target.
	for id := b.bwd[meet].parent; id != ""; id = b.bwd[id].parent {
		head = append(head, id)
	}
	return head
}

// Reachable reports whether to is reachable from any of the given context
// nodes within the hop cap. An empty context always reports false.
func (s *Store) Reachable(context []string, to string) bool {
	for _, from := range context {
		if from == to {
			return true
		}
		if s.ShortestPath(from, to) != nil {
			return true
		}
	}
	return false
}

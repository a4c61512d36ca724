package graph

// =============================================================================
// Hypergraph Flattening
// =============================================================================

// MaxFlattenDepth guards recursive capability expansion against definition
// cycles. Hierarchies deeper than this are truncated, not an error.
const MaxFlattenDepth = 8

// Resolver reports the constituent ids of a composite node. It returns
// ok=false for leaf nodes (plain tools) and for unknown ids, both of which
// pass through unexpanded.
type Resolver func(id string) (constituents []string, ok bool)

// FlattenWith expands an id pre-order: the composite id itself first,
// followed by the expansion of each constituent in order. A visited set plus
// the depth guard protects against cyclic or pathological definitions; a
// revisited id is emitted once as a leaf rather than re-expanded. This is the
// single flattening convention shared by the bipartite analytics and the
// replay trainer.
func FlattenWith(resolve Resolver, id string) []string {
	var out []string
	visited := make(map[string]struct{})
	flattenInto(resolve, id, 0, visited, &out)
	return out
}

// FlattenPathWith expands every element of an ordered path in sequence. The
// visited set spans the whole path so a capability expanded earlier is not
// re-expanded later.
func FlattenPathWith(resolve Resolver, path []string) []string {
	var out []string
	visited := make(map[string]struct{})
	for _, id := range path {
		flattenInto(resolve, id, 0, visited, &out)
	}
	return out
}

func flattenInto(resolve Resolver, id string, depth int, visited map[string]struct{}, out *[]string) {
	*out = append(*out, id)
	if depth >= MaxFlattenDepth {
		return
	}
	if _, seen := visited[id]; seen {
		return
	}
	visited[id] = struct{}{}

	constituents, ok := resolve(id)
	if !ok {
		return
	}
	for _, child := range constituents {
		flattenInto(resolve, child, depth+1, visited, out)
	}
}

// Flatten expands an id against this store's capability definitions.
func (s *Store) Flatten(id string) []string {
	return FlattenWith(s.resolver(), id)
}

// resolver adapts the store's capability definitions to a Resolver.
func (s *Store) resolver() Resolver {
	return func(id string) ([]string, bool) {
		constituents := s.ToolsUsedBy(id)
		if constituents == nil {
			return nil, false
		}
		return constituents, true
	}
}

// LeafTools returns the deduplicated leaf tool ids in a capability's
// recursive expansion, in first-appearance order. Unknown constituent ids are
// treated as leaf tools (orphan tolerance).
func (s *Store) LeafTools(capabilityID string) []string {
	flat := s.Flatten(capabilityID)
	seen := make(map[string]struct{}, len(flat))
	var leaves []string
	for _, id := range flat {
		if id == capabilityID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		if kind, ok := s.KindOf(id); ok && kind == KindCapability {
			continue
		}
		seen[id] = struct{}{}
		leaves = append(leaves, id)
	}
	return leaves
}

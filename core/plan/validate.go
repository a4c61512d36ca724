package plan

import (
	"sort"
)

// =============================================================================
// Validation
// =============================================================================

// Validate checks plan structure and computes execution layers. Steps land
// in the earliest layer all their dependencies precede; within a layer
// steps order by score, then ID, so layer traversal is deterministic.
func (p *Plan) Validate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.steps) == 0 {
		return ErrEmptyPlan
	}
	if err := p.checkDependencies(); err != nil {
		return err
	}

	order, err := p.topologicalOrder()
	if err != nil {
		return err
	}

	p.layers = p.layerize(order)
	p.sortLayers()
	p.validated = true
	return nil
}

func (p *Plan) checkDependencies() error {
	for _, step := range p.steps {
		for _, dep := range step.Dependencies {
			if _, ok := p.steps[dep]; !ok {
				return ErrMissingDependency
			}
		}
	}
	return nil
}

// topologicalOrder runs Kahn's algorithm. The zero-degree frontier is kept
// sorted so the order is stable across runs.
func (p *Plan) topologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(p.steps))
	dependents := make(map[string][]string, len(p.steps))
	for id, step := range p.steps {
		inDegree[id] = len(step.Dependencies)
		for _, dep := range step.Dependencies {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(p.steps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		next := dependents[id]
		sort.Strings(next)
		for _, dep := range next {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(p.steps) {
		return nil, ErrCyclicDependency
	}
	return order, nil
}

func (p *Plan) layerize(order []string) [][]string {
	depth := make(map[string]int, len(order))
	maxDepth := 0
	for _, id := range order {
		layer := 0
		for _, dep := range p.steps[id].Dependencies {
			if d := depth[dep] + 1; d > layer {
				layer = d
			}
		}
		depth[id] = layer
		if layer > maxDepth {
			maxDepth = layer
		}
	}

	layers := make([][]string, maxDepth+1)
	for _, id := range order {
		layers[depth[id]] = append(layers[depth[id]], id)
	}
	return layers
}

func (p *Plan) sortLayers() {
	for i := range p.layers {
		layer := p.layers[i]
		sort.Slice(layer, func(a, b int) bool {
			sa, sb := p.steps[layer[a]], p.steps[layer[b]]
			if sa.Score != sb.Score {
				return sa.Score > sb.Score
			}
			return sa.ID < sb.ID
		})
	}
}

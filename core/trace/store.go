package trace

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
)

// =============================================================================
// Trace Store
// =============================================================================

const (
	// PriorityExponent flattens the replay sampling distribution so high
	// priority traces dominate without starving the rest.
	PriorityExponent = 0.6

	// priorityJitter is the spread below which priorities count as
	// indistinguishable and sampling falls back to uniform.
	priorityJitter = 1e-6
)

// Store is the persistence surface for execution traces. Implementations
// must treat saved traces as immutable except for priority.
type Store interface {
	// Save validates and persists a trace, assigning an id when the
	// trace carries none.
	Save(ctx context.Context, t *Trace) (string, error)

	// Get returns the trace with the given id.
	Get(ctx context.Context, id string) (*Trace, error)

	// ByCandidate returns traces for one candidate, newest first.
	// A non-positive limit returns all of them.
	ByCandidate(ctx context.Context, candidateID string, limit int) ([]*Trace, error)

	// HighPriority returns traces ordered by descending priority.
	HighPriority(ctx context.Context, limit int) ([]*Trace, error)

	// UpdatePriority replaces a trace's priority, clamped to the legal
	// band.
	UpdatePriority(ctx context.Context, id string, value float64) error

	// SampleByPriority draws up to limit traces weighted by priority,
	// skipping traces below minPriority when it is positive.
	SampleByPriority(ctx context.Context, limit int, minPriority float64) ([]*Trace, error)

	// Children returns the child traces spawned by a parent trace, in
	// execution order.
	Children(ctx context.Context, traceID string) ([]*Trace, error)
}

// SampleTraces draws up to n traces without replacement, each draw weighted
// by priority^alpha with the remaining weights renormalized afterward. When
// every priority is within priorityJitter of the rest the weighting carries
// no signal and the draw degrades to uniform.
func SampleTraces(src *rand.PCG, traces []*Trace, n int, alpha float64) []*Trace {
	if n <= 0 || len(traces) == 0 {
		return nil
	}

	pool := slices.Clone(traces)
	if n > len(pool) {
		n = len(pool)
	}

	lo, hi := pool[0].Priority, pool[0].Priority
	for _, t := range pool[1:] {
		lo = math.Min(lo, t.Priority)
		hi = math.Max(hi, t.Priority)
	}
	if hi-lo < priorityJitter {
		alpha = 0
	}

	weights := make([]float64, len(pool))
	for i, t := range pool {
		weights[i] = math.Pow(t.Priority, alpha)
	}

	rnd := rand.New(src)
	picked := make([]*Trace, 0, n)
	for len(picked) < n && len(pool) > 0 {
		total := 0.0
		for _, w := range weights {
			total += w
		}

		idx := len(pool) - 1
		if total > 0 {
			x := rnd.Float64() * total
			for i, w := range weights {
				x -= w
				if x <= 0 {
					idx = i
					break
				}
			}
		} else {
			idx = rnd.IntN(len(pool))
		}

		picked = append(picked, pool[idx])
		pool[idx] = pool[len(pool)-1]
		weights[idx] = weights[len(weights)-1]
		pool = pool[:len(pool)-1]
		weights = weights[:len(weights)-1]
	}
	return picked
}

package trace

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// In-Memory Trace Store
// =============================================================================

// MemoryConfig tunes the in-memory store.
type MemoryConfig struct {
	// Seed fixes the sampling source so priority-weighted draws are
	// reproducible.
	Seed uint64

	Logger *slog.Logger
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// MemoryStore keeps traces in process memory. It hands out copies, so
// callers can never mutate stored history.
type MemoryStore struct {
	mu          sync.RWMutex
	traces      map[string]*Trace
	order       []string
	byCandidate map[string][]string
	children    map[string][]string
	src         *rand.PCG

	cfg    MemoryConfig
	logger *slog.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory trace store.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	cfg = cfg.withDefaults()
	return &MemoryStore{
		traces:      make(map[string]*Trace),
		byCandidate: make(map[string][]string),
		children:    make(map[string][]string),
		src:         rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15),
		cfg:         cfg,
		logger:      cfg.Logger,
	}
}

// Save validates and stores a trace. An empty id gets a generated one; a
// zero priority gets the neutral default. Saving an existing id replaces
// the record, which restore paths rely on.
func (m *MemoryStore) Save(_ context.Context, t *Trace) (string, error) {
	if t == nil {
		return "", fmt.Errorf("%w: nil trace", ErrMalformedTrace)
	}
	if err := t.Validate(); err != nil {
		return "", err
	}

	stored := cloneTrace(t)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Priority == 0 {
		stored.Priority = DefaultPriority
	}
	stored.Priority = ClampPriority(stored.Priority)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, existed := m.traces[stored.ID]
	m.traces[stored.ID] = stored
	if !existed {
		m.order = append(m.order, stored.ID)
		if stored.CandidateID != "" {
			m.byCandidate[stored.CandidateID] = append(m.byCandidate[stored.CandidateID], stored.ID)
		}
		if stored.ParentID != "" {
			m.children[stored.ParentID] = append(m.children[stored.ParentID], stored.ID)
		}
	}

	m.logger.Debug(
		"trace saved",
		"trace_id", stored.ID,
		"candidate_id", stored.CandidateID,
		"path_len", len(stored.ExecutedPath),
		"success", stored.Success,
	)
	return stored.ID, nil
}

// Get returns a copy of the trace with the given id.
func (m *MemoryStore) Get(_ context.Context, id string) (*Trace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.traces[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTraceNotFound, id)
	}
	return cloneTrace(t), nil
}

// ByCandidate returns the candidate's traces newest first.
func (m *MemoryStore) ByCandidate(_ context.Context, candidateID string, limit int) ([]*Trace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byCandidate[candidateID]
	out := make([]*Trace, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, cloneTrace(m.traces[ids[i]]))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// HighPriority returns traces by descending priority, ids breaking ties.
func (m *MemoryStore) HighPriority(_ context.Context, limit int) ([]*Trace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Trace, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, cloneTrace(m.traces[id]))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdatePriority replaces the trace's priority, clamped to the legal band.
func (m *MemoryStore) UpdatePriority(_ context.Context, id string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.traces[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTraceNotFound, id)
	}
	t.Priority = ClampPriority(value)
	return nil
}

// SampleByPriority draws up to limit traces weighted by
// priority^PriorityExponent without replacement. Traces below minPriority
// are excluded when it is positive.
func (m *MemoryStore) SampleByPriority(_ context.Context, limit int, minPriority float64) ([]*Trace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool := make([]*Trace, 0, len(m.order))
	for _, id := range m.order {
		t := m.traces[id]
		if minPriority > 0 && t.Priority < minPriority {
			continue
		}
		pool = append(pool, t)
	}

	picked := SampleTraces(m.src, pool, limit, PriorityExponent)
	out := make([]*Trace, 0, len(picked))
	for _, t := range picked {
		out = append(out, cloneTrace(t))
	}
	return out, nil
}

// Children returns the traces spawned by a parent, in execution order.
func (m *MemoryStore) Children(_ context.Context, traceID string) ([]*Trace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.children[traceID]
	out := make([]*Trace, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneTrace(m.traces[id]))
	}
	return out, nil
}

// Count reports how many traces the store holds.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.traces)
}

func cloneTrace(t *Trace) *Trace {
	out := *t
	if t.Context != nil {
		out.Context = append([]string(nil), t.Context...)
	}
	if t.ExecutedPath != nil {
		out.ExecutedPath = append([]string(nil), t.ExecutedPath...)
	}
	if t.TaskResults != nil {
		out.TaskResults = make([]TaskResult, len(t.TaskResults))
		for i, tr := range t.TaskResults {
			out.TaskResults[i] = tr
			if tr.Arguments != nil {
				args := make(map[string]any, len(tr.Arguments))
				for k, v := range tr.Arguments {
					args[k] = v
				}
				out.TaskResults[i].Arguments = args
			}
		}
	}
	if t.Branches != nil {
		out.Branches = append([]BranchDecision(nil), t.Branches...)
	}
	return &out
}

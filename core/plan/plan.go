package plan

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// Plan
// =============================================================================

// Plan is a dependency-ordered set of candidate steps. Layers are computed
// during validation; steps in the same layer have no ordering constraint
// between them.
type Plan struct {
	mu sync.RWMutex

	id     string
	intent string

	steps map[string]*Step

	// layers holds the computed execution order, one inner slice per
	// parallel layer.
	layers [][]string

	validated bool
}

type planSnapshot struct {
	ID     string     `json:"id"`
	Intent string     `json:"intent"`
	Steps  []Step     `json:"steps"`
	Layers [][]string `json:"layers,omitempty"`
}

// New creates an empty plan for an intent.
func New(intent string) *Plan {
	return &Plan{
		id:     uuid.New().String(),
		intent: intent,
		steps:  make(map[string]*Step),
	}
}

// ID returns the plan ID.
func (p *Plan) ID() string {
	return p.id
}

// Intent returns the intent the plan was built for.
func (p *Plan) Intent() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.intent
}

// AddStep adds a step. Adding invalidates any computed layers.
func (p *Plan) AddStep(step Step) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if step.ID == "" {
		return ErrEmptyStepID
	}
	if _, exists := p.steps[step.ID]; exists {
		return ErrDuplicateStep
	}

	s := step
	p.steps[s.ID] = &s
	p.validated = false
	p.layers = nil
	return nil
}

// Step returns a copy of the step with the given ID.
func (p *Plan) Step(id string) (Step, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.steps[id]
	if !ok {
		return Step{}, false
	}
	return *s, true
}

// Steps returns copies of all steps, ordered by ID.
func (p *Plan) Steps() []Step {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Step, 0, len(p.steps))
	for _, s := range p.steps {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StepCount returns the number of steps.
func (p *Plan) StepCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.steps)
}

// Layers returns a copy of the computed execution layers.
func (p *Plan) Layers() [][]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.layers == nil {
		return nil
	}
	out := make([][]string, len(p.layers))
	for i, layer := range p.layers {
		out[i] = make([]string, len(layer))
		copy(out[i], layer)
	}
	return out
}

// LayerCount returns the number of execution layers.
func (p *Plan) LayerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.layers)
}

// StepsInLayer returns the step IDs in one layer.
func (p *Plan) StepsInLayer(layer int) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if layer < 0 || layer >= len(p.layers) {
		return nil
	}
	out := make([]string, len(p.layers[layer]))
	copy(out, p.layers[layer])
	return out
}

// IsValidated reports whether layers have been computed for the current
// step set.
func (p *Plan) IsValidated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.validated
}

// =============================================================================
// Serialization
// =============================================================================

// MarshalJSON implements json.Marshaler.
func (p *Plan) MarshalJSON() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	steps := make([]Step, 0, len(p.steps))
	for _, s := range p.steps {
		steps = append(steps, *s)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })

	return json.Marshal(planSnapshot{
		ID:     p.id,
		Intent: p.intent,
		Steps:  steps,
		Layers: p.layers,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var snapshot planSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.id = snapshot.ID
	p.intent = snapshot.Intent
	p.layers = snapshot.Layers
	p.validated = len(snapshot.Layers) > 0
	p.steps = make(map[string]*Step, len(snapshot.Steps))
	for _, s := range snapshot.Steps {
		step := s
		p.steps[step.ID] = &step
	}
	return nil
}

// =============================================================================
// Builder
// =============================================================================

// Builder assembles a plan with a fluent API. Build validates and computes
// layers.
type Builder struct {
	plan *Plan
	errs []error
}

// NewBuilder starts a plan for an intent.
func NewBuilder(intent string) *Builder {
	return &Builder{plan: New(intent)}
}

// WithID overrides the generated plan ID.
func (b *Builder) WithID(id string) *Builder {
	b.plan.id = id
	return b
}

// AddStep adds a step, deferring any error to Build.
func (b *Builder) AddStep(step Step) *Builder {
	if err := b.plan.AddStep(step); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Build validates the assembled plan and computes its layers.
func (b *Builder) Build() (*Plan, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if err := b.plan.Validate(); err != nil {
		return nil, err
	}
	return b.plan, nil
}

// MustBuild builds the plan and panics on error.
func (b *Builder) MustBuild() *Plan {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}

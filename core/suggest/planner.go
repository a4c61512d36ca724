package suggest

import (
	"github.com/adalundhe/rudder/core/exploration"
	"github.com/adalundhe/rudder/core/plan"
)

// =============================================================================
// Planning
// =============================================================================

// BuildPlan arranges the top ranked candidates into a dependency-ordered
// plan. A later candidate depends on an earlier one when the graph holds a
// directed path between them; dependencies only point up the ranking, so
// they can never cycle.
func (s *Suggester) BuildPlan(intent string, ranked []Ranked) (*plan.Plan, error) {
	if len(ranked) == 0 {
		return nil, plan.ErrEmptyPlan
	}
	steps := ranked
	if len(steps) > s.cfg.PlanSize {
		steps = steps[:s.cfg.PlanSize]
	}

	builder := plan.NewBuilder(intent)
	for i, r := range steps {
		var deps []string
		for j := 0; j < i; j++ {
			if path := s.view.ShortestPath(steps[j].ID, r.ID); len(path) > 1 {
				deps = append(deps, steps[j].ID)
			}
		}
		tier, _, _ := s.classify(r.ID, r.Kind)
		builder.AddStep(plan.Step{
			ID:           r.ID,
			Kind:         r.Kind,
			Score:        r.Score,
			Tier:         tier,
			Dependencies: deps,
		})
	}
	return builder.Build()
}

// EvaluatePlan walks a plan layer by layer, deciding every step against
// the live descriptor and thresholds. Evaluation stops at the first layer
// holding a non-executable step; earlier layers stay cleared with their
// per-step results preserved.
func (s *Suggester) EvaluatePlan(p *plan.Plan, mode exploration.Mode) (*Evaluation, error) {
	if !p.IsValidated() {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	eval := &Evaluation{
		PlanID:       p.ID(),
		Decision:     DecisionExecute,
		PendingLayer: -1,
	}
	for i, layer := range p.Layers() {
		result := LayerResult{Layer: i, Steps: make([]Candidate, 0, len(layer))}
		blocking := DecisionExecute
		for _, id := range layer {
			step, ok := p.Step(id)
			if !ok {
				continue
			}
			c := s.Decide(step.ID, step.Kind, step.Score, mode)
			result.Steps = append(result.Steps, c)
			if c.Decision != DecisionExecute {
				blocking = worseOf(blocking, c.Decision)
			}
		}
		if blocking != DecisionExecute {
			eval.Decision = blocking
			eval.Pending = &result
			eval.PendingLayer = i
			break
		}
		eval.Executed = append(eval.Executed, result)
	}

	s.logger.Debug(
		"plan evaluated",
		"plan_id", eval.PlanID,
		"decision", eval.Decision,
		"cleared_layers", len(eval.Executed),
		"pending_layer", eval.PendingLayer,
	)
	return eval, nil
}

// worseOf orders decisions by severity: require_approval over suggest
// over execute.
func worseOf(a, b Decision) Decision {
	if a == DecisionRequireApproval || b == DecisionRequireApproval {
		return DecisionRequireApproval
	}
	if a == DecisionSuggest || b == DecisionSuggest {
		return DecisionSuggest
	}
	return DecisionExecute
}

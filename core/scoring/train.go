package scoring

import (
	"math"
	"time"
)

// =============================================================================
// Batch Training
// =============================================================================

// Example is one supervised training tuple: the intent that drove a
// decision, the nodes already executed when the target was chosen, the
// chosen target, and whether the execution ultimately succeeded.
type Example struct {
	Intent  []float32
	Context []string
	Target  string
	Success bool
}

// TrainReport summarizes one batch update.
type TrainReport struct {
	Examples     int
	Skipped      int
	MeanAbsError float64
	Version      uint64
}

// TrainBatch adjusts the weights to reduce squared prediction error over the
// batch, then publishes the result as a fresh snapshot in one atomic swap.
// Gradients are computed against the starting snapshot, so a batch is one
// consistent update rather than a sequence of drifting steps. Examples whose
// target is not registered are skipped, never fatal.
//
// The context list is a real signal here: the context-connection feature
// feeds the relational head, so outcomes teach the scorer how much graph
// adjacency between context and target should matter.
func (s *Scorer) TrainBatch(examples []Example) TrainReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.weights.Load()
	next := current.clone()

	gates := current.gates()
	var (
		gateGrad    [headCount]float64
		contextGrad float64
		biasGrad    = make(map[string]float64)
		absErrSum   float64
		trained     int
		skipped     int
	)

	for _, ex := range examples {
		embedding, structural, ok := s.lookup(ex.Target)
		if !ok {
			skipped++
			continue
		}

		connection := s.contextConnection(ex.Context, ex.Target)
		heads := [headCount]float64{
			HeadSemantic:   semanticHead(ex.Intent, embedding),
			HeadStructural: structural,
			HeadRelational: relationalHead(current, ex.Target, connection),
		}

		var predicted float64
		for h, gate := range gates {
			predicted += gate * heads[h]
		}

		label := 0.0
		if ex.Success {
			label = 1.0
		}
		err := predicted - label
		absErrSum += math.Abs(err)
		trained++

		// d(err^2)/d(gateLogit_h) through the softmax.
		for h := range gateGrad {
			gateGrad[h] += 2 * err * gates[h] * (heads[h] - predicted)
		}

		// Relational head gradient through the sigmoid.
		rel := heads[HeadRelational]
		relGrad := 2 * err * gates[HeadRelational] * rel * (1 - rel)
		biasGrad[ex.Target] += relGrad
		contextGrad += relGrad * connection
	}

	if trained == 0 {
		s.logger.Debug("training batch skipped", "examples", len(examples), "skipped", skipped)
		return TrainReport{Skipped: skipped, Version: current.Version}
	}

	step := s.cfg.LearningRate / float64(trained)
	for h := range next.GateLogits {
		next.GateLogits[h] = clampWeight(next.GateLogits[h] - step*gateGrad[h])
	}
	for id, g := range biasGrad {
		next.NodeBias[id] = clampWeight(next.NodeBias[id] - step*g)
	}
	next.ContextWeight = clampWeight(next.ContextWeight - step*contextGrad)

	next.Version++
	next.UpdatedAt = time.Now()
	next.TrainedExamples += uint64(trained)
	s.weights.Store(next)

	report := TrainReport{
		Examples:     trained,
		Skipped:      skipped,
		MeanAbsError: absErrSum / float64(trained),
		Version:      next.Version,
	}
	s.logger.Debug("scorer weights updated",
		"version", report.Version,
		"examples", report.Examples,
		"skipped", report.Skipped,
		"mean_abs_error", report.MeanAbsError)
	return report
}

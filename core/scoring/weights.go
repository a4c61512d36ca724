package scoring

import (
	"math"
	"time"
)

// =============================================================================
// Scorer Weights
// =============================================================================

// Head indexes into the per-head gate logits.
const (
	HeadSemantic = iota
	HeadStructural
	HeadRelational
	headCount
)

// weightClamp bounds learned parameters so sigmoid heads cannot saturate
// into dead gradients.
const weightClamp = 4.0

// Weights is an immutable snapshot of the scorer's learned parameters.
// Training produces a new snapshot and publishes it with a single atomic
// swap; in-flight scoring calls keep the snapshot they started with, so a
// score is always computed against one consistent parameter set.
type Weights struct {
	// GateLogits parameterize the softmax mixture over the three heads.
	GateLogits [headCount]float64

	// NodeBias is the learned per-candidate attention bias feeding the
	// relational head. Absent ids read as zero.
	NodeBias map[string]float64

	// ContextWeight scales the context-connection feature: how strongly
	// being reachable from the prior context should pull a candidate's
	// relational score.
	ContextWeight float64

	Version         uint64
	UpdatedAt       time.Time
	TrainedExamples uint64
}

// NewWeights returns the cold-start parameter set: equal head gates, no
// per-node bias, and a mild positive context pull. With these parameters an
// unknown context scores the relational head at exactly 0.5.
func NewWeights() *Weights {
	return &Weights{
		NodeBias:      make(map[string]float64),
		ContextWeight: 0.5,
	}
}

// clone deep-copies the snapshot for copy-on-write training.
func (w *Weights) clone() *Weights {
	next := *w
	next.NodeBias = make(map[string]float64, len(w.NodeBias))
	for id, b := range w.NodeBias {
		next.NodeBias[id] = b
	}
	return &next
}

// gates resolves the logits into a convex combination via a numerically
// stable softmax. Each head value lives in [0,1], so the mixed score does
// too.
func (w *Weights) gates() [headCount]float64 {
	maxLogit := w.GateLogits[0]
	for _, l := range w.GateLogits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}

	var out [headCount]float64
	var sum float64
	for i, l := range w.GateLogits {
		out[i] = math.Exp(l - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// biasOf reads the per-node bias, zero for unseen ids.
func (w *Weights) biasOf(id string) float64 {
	return w.NodeBias[id]
}

func clampWeight(v float64) float64 {
	return math.Max(-weightClamp, math.Min(weightClamp, v))
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

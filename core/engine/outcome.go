package engine

import (
	"context"
	"errors"

	"github.com/adalundhe/rudder/core/events"
	"github.com/adalundhe/rudder/core/graph"
	"github.com/adalundhe/rudder/core/trace"
)

// =============================================================================
// Execution Outcomes
// =============================================================================

// observedEdgeConfidence is the confidence one path observation
// contributes: above the analytics floor so a once-seen edge counts, low
// enough that repeated observation is what builds a strong edge.
const observedEdgeConfidence = 0.4

// RecordOutcome ingests one execution report: the trace persists, every
// executed candidate's Beta posterior updates once, consecutive path
// steps reinforce their co-occurrence edge, and every TrainEvery-th
// outcome triggers an asynchronous replay training run. Malformed traces
// are rejected at the store boundary.
func (e *Engine) RecordOutcome(ctx context.Context, tr *trace.Trace) (string, error) {
	if err := e.closedErr(); err != nil {
		return "", err
	}
	if tr == nil {
		return "", trace.ErrMalformedTrace
	}

	id, err := e.traces.Save(ctx, tr)
	if err != nil {
		return "", err
	}

	// Task results carry per-step success; a step recorded more than
	// once counts as successful only if every attempt was.
	stepSuccess := make(map[string]bool, len(tr.TaskResults))
	for _, result := range tr.TaskResults {
		if prior, seen := stepSuccess[result.ToolID]; seen {
			stepSuccess[result.ToolID] = prior && result.Success
		} else {
			stepSuccess[result.ToolID] = result.Success
		}
	}

	// One Beta update per distinct candidate per trace.
	updated := make(map[string]struct{}, len(tr.ExecutedPath)+1)
	recordFor := func(candidateID string) {
		if candidateID == "" {
			return
		}
		if _, done := updated[candidateID]; done {
			return
		}
		updated[candidateID] = struct{}{}

		success := tr.Success
		if s, seen := stepSuccess[candidateID]; seen {
			success = s
		}
		e.explore.RecordOutcome(candidateID, success)
	}
	recordFor(tr.CandidateID)
	for _, step := range tr.ExecutedPath {
		recordFor(step)
	}

	// Failed paths do not reinforce edges.
	if tr.Success {
		for i := 0; i+1 < len(tr.ExecutedPath); i++ {
			from, to := tr.ExecutedPath[i], tr.ExecutedPath[i+1]
			if from == to {
				continue
			}
			if err := e.graph.UpsertEdge(from, to, observedEdgeConfidence, 1); err != nil {
				e.logger.Warn("edge reinforcement failed",
					"from", from,
					"to", to,
					"error", err)
			}
		}
	}

	if tr.CandidateID != "" {
		if kind, known := e.graph.KindOf(tr.CandidateID); known && kind == graph.KindCapability {
			e.graph.RecordCapabilityUse(tr.CandidateID)
		}
	}

	// Posteriors moved, so memoized decisions are stale.
	e.cache.Purge()

	e.bus.Publish(events.OutcomeRecorded(id, tr.CandidateID, tr.Success))

	if n := e.outcomes.Add(1); n%uint64(e.cfg.Replay.TrainEvery) == 0 {
		e.triggerTraining(tr.CandidateID)
	}
	return id, nil
}

// triggerTraining starts one asynchronous replay run. The trainer itself
// serializes runs; a trigger landing mid-run reports a skip rather than
// queueing.
func (e *Engine) triggerTraining(candidateID string) {
	e.training.Add(1)
	go func() {
		defer e.training.Done()

		e.bus.Publish(events.TrainingStarted(candidateID))
		report, err := e.trainer.Run(e.ctx, candidateID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				e.logger.Debug("replay training aborted by shutdown")
			} else {
				e.logger.Warn("replay training failed", "error", err)
			}
			return
		}
		if report.Skipped {
			e.bus.Publish(events.TrainingSkipped(candidateID, string(report.Reason)))
			return
		}
		e.cache.Purge()
		e.bus.Publish(events.TrainingCompleted(
			report.Traces,
			report.Examples,
			report.MeanAbsError,
			report.WeightsVersion,
		))
	}()
}

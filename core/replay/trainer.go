package replay

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/adalundhe/rudder/core/embedding"
	"github.com/adalundhe/rudder/core/graph"
	"github.com/adalundhe/rudder/core/scoring"
	"github.com/adalundhe/rudder/core/trace"
)

// =============================================================================
// Prioritized Replay Trainer
// =============================================================================

// maxDescendantTraces bounds how many child traces one flattening pass will
// follow, so a corrupt parent link can never pin a training run.
const maxDescendantTraces = 64

// SkipReason explains why a training run did no work.
type SkipReason string

const (
	SkipInFlight     SkipReason = "training_in_flight"
	SkipTooFewTraces SkipReason = "too_few_traces"
)

// Report summarizes one training run. A skipped run is a valid outcome,
// not an error.
type Report struct {
	Skipped bool       `json:"skipped"`
	Reason  SkipReason `json:"reason,omitempty"`

	Traces          int     `json:"traces"`
	Examples        int     `json:"examples"`
	MeanAbsError    float64 `json:"mean_abs_error"`
	WeightsVersion  uint64  `json:"weights_version"`
	PriorityUpdates int     `json:"priority_updates"`

	Duration time.Duration `json:"duration"`
}

// GraphView is the slice of the graph the trainer needs to expand
// capability paths.
type GraphView interface {
	Capability(id string) (graph.CapabilityNode, bool)
}

// Config tunes a Trainer.
type Config struct {
	// MinTraces is the smallest trace pool worth training on.
	MinTraces int

	// MaxTraces caps how many traces one run samples.
	MaxTraces int

	// BatchSize splits sampled examples into gradient batches.
	BatchSize int

	// Seed fixes the sampling source.
	Seed uint64

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MinTraces <= 0 {
		c.MinTraces = 1
	}
	if c.MaxTraces <= 0 {
		c.MaxTraces = 32
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Trainer replays stored traces through the scorer. Runs are serialized by
// a single in-process lock; a second trigger while one is in flight is a
// logged no-op, never a queue.
type Trainer struct {
	scorer *scoring.Scorer
	store  trace.Store
	view   GraphView
	embed  embedding.Provider

	mu  sync.Mutex
	src *rand.PCG

	cfg    Config
	logger *slog.Logger
}

// NewTrainer wires a trainer over its collaborators.
func NewTrainer(
	scorer *scoring.Scorer,
	store trace.Store,
	view GraphView,
	embed embedding.Provider,
	cfg Config,
) *Trainer {
	cfg = cfg.withDefaults()
	return &Trainer{
		scorer: scorer,
		store:  store,
		view:   view,
		embed:  embed,
		src:    rand.NewPCG(cfg.Seed, cfg.Seed^0x5bf0363546246dbf),
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// Flatten expands a trace's executed path into a single pre-order list of
// identifiers. Recorded child traces expand a composite before the graph's
// static definition does, so the realized execution wins over the declared
// one. The expansion convention is the same one graph analytics use.
func (t *Trainer) Flatten(ctx context.Context, tr *trace.Trace) []string {
	expansions := t.childExpansions(ctx, tr)
	resolve := func(id string) ([]string, bool) {
		if path, ok := expansions[id]; ok {
			return path, true
		}
		if capability, ok := t.view.Capability(id); ok && len(capability.ToolsUsed) > 0 {
			return capability.ToolsUsed, true
		}
		return nil, false
	}
	return graph.FlattenPathWith(resolve, tr.ExecutedPath)
}

// TrainingExamples turns one trace into per-step examples: for a flattened
// path of length N, N examples each take the prefix as context, the step as
// target, and the trace outcome as label. The single trace-level signal is
// spread across every step of the realized path.
func (t *Trainer) TrainingExamples(ctx context.Context, tr *trace.Trace) ([]scoring.Example, error) {
	intent, err := t.embed.Embed(ctx, tr.Intent)
	if err != nil {
		return nil, fmt.Errorf("embed intent: %w", err)
	}
	return buildExamples(intent, t.Flatten(ctx, tr), tr.Success), nil
}

// Run samples traces (for one candidate, or store-wide when candidateID is
// empty), trains the scorer on them, then recomputes each trace's priority
// from its fresh temporal-difference error. Only one run may be active at
// a time.
func (t *Trainer) Run(ctx context.Context, candidateID string) (*Report, error) {
	if !t.mu.TryLock() {
		t.logger.Debug("training already in flight, skipping", "candidate_id", candidateID)
		return &Report{Skipped: true, Reason: SkipInFlight}, nil
	}
	defer t.mu.Unlock()

	started := time.Now()

	pool, err := t.loadTraces(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("load traces: %w", err)
	}
	if len(pool) < t.cfg.MinTraces {
		t.logger.Debug(
			"not enough traces to train",
			"candidate_id", candidateID,
			"traces", len(pool),
			"min_traces", t.cfg.MinTraces,
		)
		return &Report{Skipped: true, Reason: SkipTooFewTraces, Traces: len(pool)}, nil
	}

	type replayed struct {
		record *trace.Trace
		intent []float32
		flat   []string
	}

	var (
		examples []scoring.Example
		batch    []replayed
	)
	for _, tr := range pool {
		if ctx.Err() != nil {
			break
		}
		intent, err := t.embed.Embed(ctx, tr.Intent)
		if err != nil {
			t.logger.Warn("skipping trace, intent embed failed", "trace_id", tr.ID, "error", err)
			continue
		}
		flat := t.Flatten(ctx, tr)
		examples = append(examples, buildExamples(intent, flat, tr.Success)...)
		batch = append(batch, replayed{record: tr, intent: intent, flat: flat})
	}

	report := &Report{Traces: len(batch)}
	var errSum float64
	for start := 0; start < len(examples); start += t.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+t.cfg.BatchSize, len(examples))
		res := t.scorer.TrainBatch(examples[start:end])
		report.Examples += res.Examples
		report.WeightsVersion = res.Version
		errSum += res.MeanAbsError * float64(res.Examples)
	}
	if report.Examples > 0 {
		report.MeanAbsError = errSum / float64(report.Examples)
	}

	// Priority updates flush even when the run was cut short; partial
	// progress is written, not lost.
	flush := context.WithoutCancel(ctx)
	for _, item := range batch {
		actual := 0.0
		if item.record.Success {
			actual = 1.0
		}
		predicted := t.scorer.PredictPathSuccess(item.intent, item.flat)
		priority := tdPriority(actual, predicted)
		if err := t.store.UpdatePriority(flush, item.record.ID, priority); err != nil {
			t.logger.Warn("priority update failed", "trace_id", item.record.ID, "error", err)
			continue
		}
		report.PriorityUpdates++
	}

	report.Duration = time.Since(started)
	t.logger.Debug(
		"training run complete",
		"candidate_id", candidateID,
		"traces", report.Traces,
		"examples", report.Examples,
		"mean_abs_error", report.MeanAbsError,
		"weights_version", report.WeightsVersion,
		"priority_updates", report.PriorityUpdates,
		"duration", report.Duration,
	)
	return report, nil
}

// loadTraces assembles the sampling pool. Candidate-scoped runs load that
// candidate's history and priority-sample it locally; store-wide runs lean
// on the store's own weighted sampler.
func (t *Trainer) loadTraces(ctx context.Context, candidateID string) ([]*trace.Trace, error) {
	if candidateID == "" {
		return t.store.SampleByPriority(ctx, t.cfg.MaxTraces, 0)
	}
	pool, err := t.store.ByCandidate(ctx, candidateID, 0)
	if err != nil {
		return nil, err
	}
	if len(pool) <= t.cfg.MaxTraces {
		return pool, nil
	}
	return trace.SampleTraces(t.src, pool, t.cfg.MaxTraces, trace.PriorityExponent), nil
}

// childExpansions maps candidate ids to the realized paths of descendant
// traces, nearest ancestor first, bounded so cyclic parent links terminate.
func (t *Trainer) childExpansions(ctx context.Context, tr *trace.Trace) map[string][]string {
	if tr.ID == "" {
		return nil
	}

	expansions := make(map[string][]string)
	seen := map[string]struct{}{tr.ID: {}}
	queue := []string{tr.ID}
	for len(queue) > 0 && len(seen) <= maxDescendantTraces {
		id := queue[0]
		queue = queue[1:]

		children, err := t.store.Children(ctx, id)
		if err != nil {
			t.logger.Warn("child trace lookup failed", "trace_id", id, "error", err)
			break
		}
		for _, child := range children {
			if _, ok := seen[child.ID]; ok {
				continue
			}
			seen[child.ID] = struct{}{}
			if child.CandidateID != "" {
				if _, ok := expansions[child.CandidateID]; !ok {
					expansions[child.CandidateID] = child.ExecutedPath
				}
			}
			queue = append(queue, child.ID)
		}
	}
	return expansions
}

func buildExamples(intent []float32, flat []string, success bool) []scoring.Example {
	examples := make([]scoring.Example, 0, len(flat))
	for i, target := range flat {
		examples = append(examples, scoring.Example{
			Intent:  intent,
			Context: slices.Clone(flat[:i]),
			Target:  target,
			Success: success,
		})
	}
	return examples
}

// tdPriority converts a temporal-difference error into a replay priority.
// Surprising outcomes replay often, expected ones fade toward the floor.
func tdPriority(actual, predicted float64) float64 {
	return trace.ClampPriority(math.Abs(actual - predicted))
}

// Package cmd provides CLI commands for the Rudder decision engine.
// This file implements the bench command, which drives the full
// suggest/outcome/train loop against a synthetic workload.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/rudder/core/config"
	"github.com/adalundhe/rudder/core/embedding"
	"github.com/adalundhe/rudder/core/engine"
	"github.com/adalundhe/rudder/core/events"
	"github.com/adalundhe/rudder/core/exploration"
	"github.com/adalundhe/rudder/core/graph"
	"github.com/adalundhe/rudder/core/permission"
	"github.com/adalundhe/rudder/core/suggest"
	"github.com/adalundhe/rudder/core/trace"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// BenchDefaultTools is the default synthetic tool count.
	BenchDefaultTools = 24

	// BenchDefaultCapabilities is the default synthetic capability count.
	BenchDefaultCapabilities = 6

	// BenchDefaultIntents is the default number of replayed intents.
	BenchDefaultIntents = 200

	// BenchDefaultPlanEvery requests a full evaluated plan on every N-th
	// intent.
	BenchDefaultPlanEvery = 10

	// benchDimension keeps the synthetic embedding space small so runs
	// stay fast at large intent counts.
	benchDimension = 64

	// benchIntentNoise is how far an intent vector drifts from its
	// target tool's vector. Large enough that semantic scores are not
	// trivially 1.0, small enough that the target still wins.
	benchIntentNoise = 0.35
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// =============================================================================
// Bench Command Flags
// =============================================================================

var (
	benchTools        int
	benchCapabilities int
	benchIntents      int
	benchSeed         uint64
	benchConfigPath   string
	benchActive       bool
	benchPlanEvery    int
	benchJSON         bool
)

// =============================================================================
// Bench Command
// =============================================================================

// benchCmd represents the bench command.
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark the decision loop on a synthetic workload",
	Long: `Benchmark the decision loop end to end.

The bench seeds a synthetic tool and capability graph, replays a stream
of intents with stochastic execution outcomes through the full
suggest -> record -> train loop, and reports decision latency
percentiles together with how the decision mix drifted as the engine
learned.

Examples:
  rudder bench
  rudder bench --intents 1000 --seed 7
  rudder bench --active --plan-every 5
  rudder bench --config rudder.yaml --json | jq '.latency_p99_ms'`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().IntVar(&benchTools, "tools", BenchDefaultTools, "Synthetic tools to register")
	benchCmd.Flags().IntVar(&benchCapabilities, "capabilities", BenchDefaultCapabilities, "Synthetic capabilities to register")
	benchCmd.Flags().IntVarP(&benchIntents, "intents", "n", BenchDefaultIntents, "Intents to replay")
	benchCmd.Flags().Uint64Var(&benchSeed, "seed", 1, "Workload random seed")
	benchCmd.Flags().StringVarP(&benchConfigPath, "config", "c", "", "Path to an engine configuration file")
	benchCmd.Flags().BoolVar(&benchActive, "active", false, "Use active exploration mode")
	benchCmd.Flags().IntVar(&benchPlanEvery, "plan-every", BenchDefaultPlanEvery, "Request an evaluated plan every N intents (0 disables)")
	benchCmd.Flags().BoolVar(&benchJSON, "json", false, "Output results as JSON")
}

// =============================================================================
// Bench Output
// =============================================================================

// benchReport is the JSON output of one bench run.
type benchReport struct {
	Tools        int `json:"tools"`
	Capabilities int `json:"capabilities"`
	Intents      int `json:"intents"`

	Decisions map[string]int `json:"decisions"`

	ExecuteRateFirstHalf  float64 `json:"execute_rate_first_half"`
	ExecuteRateSecondHalf float64 `json:"execute_rate_second_half"`

	OutcomesRecorded int     `json:"outcomes_recorded"`
	SuccessRate      float64 `json:"success_rate"`

	TrainingRuns   int     `json:"training_runs"`
	TrainingSkips  int     `json:"training_skips"`
	FinalMAE       float64 `json:"final_mae"`
	WeightsVersion uint64  `json:"weights_version"`

	LatencyP50MS float64 `json:"latency_p50_ms"`
	LatencyP90MS float64 `json:"latency_p90_ms"`
	LatencyP99MS float64 `json:"latency_p99_ms"`

	ElapsedMS float64 `json:"elapsed_ms"`
}

// =============================================================================
// Synthetic World
// =============================================================================

var (
	benchNamespaces = []string{"files", "web", "data", "shell"}
	benchVerbs      = []string{"read", "write", "fetch", "parse", "merge", "scan", "index", "convert", "upload", "archive"}
	benchNouns      = []string{"report", "dataset", "manifest", "snapshot", "ledger", "bundle", "queue", "profile", "catalog", "stream"}
)

// benchWorld is the synthetic workload: candidates carrying generated
// embeddings, a fixed intent-phrase table for the Static provider, and
// the hidden per-candidate success probability outcomes are drawn from.
type benchWorld struct {
	tools        []graph.ToolNode
	capabilities []graph.CapabilityNode

	// intents maps each tool's intent phrase to a noisy variant of that
	// tool's embedding, so suggestion has a clear but imperfect signal.
	intents map[string][]float32

	skill map[string]float64
}

// buildWorld generates the synthetic candidates and their vectors.
func buildWorld(r *rand.Rand) *benchWorld {
	world := &benchWorld{
		intents: make(map[string][]float32),
		skill:   make(map[string]float64),
	}

	seen := make(map[string]struct{})
	for len(world.tools) < benchTools {
		ns := benchNamespaces[r.IntN(len(benchNamespaces))]
		verb := benchVerbs[r.IntN(len(benchVerbs))]
		noun := benchNouns[r.IntN(len(benchNouns))]

		id := fmt.Sprintf("%s:%s-%s", ns, verb, noun)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		vec := randUnit(r, benchDimension)
		tool := graph.ToolNode{
			ID:          id,
			Name:        verb + " " + noun,
			Description: fmt.Sprintf("%s the %s %s", strings.ToUpper(verb[:1])+verb[1:], ns, noun),
			Embedding:   vec,
		}
		world.tools = append(world.tools, tool)
		world.intents[tool.Description] = perturb(r, vec, benchIntentNoise)
		world.skill[id] = 0.35 + 0.6*r.Float64()
	}

	for i := 0; i < benchCapabilities; i++ {
		members := make([]string, 0, 4)
		vecs := make([][]float32, 0, 4)
		picked := make(map[int]struct{})
		for len(members) < 2+r.IntN(3) && len(picked) < len(world.tools) {
			idx := r.IntN(len(world.tools))
			if _, dup := picked[idx]; dup {
				continue
			}
			picked[idx] = struct{}{}
			members = append(members, world.tools[idx].ID)
			vecs = append(vecs, world.tools[idx].Embedding)
		}

		capability := graph.CapabilityNode{
			ID:          fmt.Sprintf("macro:pipeline-%d", i),
			Name:        fmt.Sprintf("pipeline %d", i),
			Description: "Composed pipeline over " + strings.Join(members, ", "),
			Embedding:   meanUnit(vecs),
			ToolsUsed:   members,
		}
		world.capabilities = append(world.capabilities, capability)
		world.skill[capability.ID] = 0.35 + 0.6*r.Float64()
	}
	return world
}

// registerWorld loads the world into the engine, wires observed edges
// between tools, and computes one analytics snapshot so scoring starts
// from real structure.
func registerWorld(ctx context.Context, eng *engine.Engine, world *benchWorld, r *rand.Rand) error {
	for _, tool := range world.tools {
		if err := eng.RegisterTool(ctx, tool); err != nil {
			return err
		}
	}
	for _, capability := range world.capabilities {
		if err := eng.RegisterCapability(ctx, capability); err != nil {
			return err
		}
	}

	g := eng.Graph()
	for _, tool := range world.tools {
		for hops := 1 + r.IntN(3); hops > 0; hops-- {
			next := world.tools[r.IntN(len(world.tools))].ID
			if next == tool.ID {
				continue
			}
			if err := g.UpsertEdge(tool.ID, next, 0.3+0.5*r.Float64(), 1); err != nil {
				return err
			}
		}
	}
	return eng.RecomputeAnalytics(ctx)
}

// benchDescriptor covers every synthetic namespace: files is safe, web
// and data are moderate, shell is dangerous, and macros are safe
// compounds. Admin ids are denied outright.
func benchDescriptor() permission.Descriptor {
	return permission.Descriptor{
		Rules: []permission.Rule{
			{Namespace: "files:*", Scope: permission.ScopeMinimal},
			{Namespace: "web:*", Scope: permission.ScopeNetwork},
			{Namespace: "data:*", Scope: permission.ScopeFilesystem},
			{Namespace: "shell:*", Scope: permission.ScopeElevated},
			{Namespace: "macro:*", Scope: permission.ScopeMinimal},
		},
		DenyPatterns: []string{"admin:*"},
	}
}

// =============================================================================
// Bench Execution
// =============================================================================

// trainingWatch counts training activity off the event bus.
type trainingWatch struct {
	mu       sync.Mutex
	runs     int
	skips    int
	finalMAE float64
}

func (w *trainingWatch) observe(e *events.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch e.Type {
	case events.TypeTrainingCompleted:
		w.runs++
		w.finalMAE = e.MeanAbsError
	case events.TypeTrainingSkipped:
		w.skips++
	}
	return nil
}

func (w *trainingWatch) snapshot() (runs, skips int, finalMAE float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs, w.skips, w.finalMAE
}

// runBench executes the bench command.
func runBench(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg := config.Default()
	if benchConfigPath != "" {
		manager := config.NewManager(benchConfigPath, logger)
		if err := manager.Load(); err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		cfg = manager.Get()
	}

	r := rand.New(rand.NewPCG(benchSeed, benchSeed^0x9e3779b97f4a7c15))
	world := buildWorld(r)

	descriptor := benchDescriptor()
	eng, err := engine.New(cfg, engine.Options{
		Provider:   embedding.NewStatic(benchDimension, world.intents),
		Descriptor: &descriptor,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	watch := &trainingWatch{}
	eng.Bus().Subscribe(events.NewHandlerFunc("bench-training-watch", watch.observe,
		events.TypeTrainingCompleted, events.TypeTrainingSkipped))

	if err := registerWorld(ctx, eng, world, r); err != nil {
		return fmt.Errorf("seed workload: %w", err)
	}

	report, err := replayIntents(ctx, eng, world, r)
	if err != nil {
		return err
	}

	// Close before reporting so in-flight training lands in the counters.
	eng.Close()
	report.TrainingRuns, report.TrainingSkips, report.FinalMAE = watch.snapshot()
	report.WeightsVersion = eng.Scorer().Weights().Version

	if benchJSON {
		return outputJSONBench(cmd.OutOrStdout(), report)
	}
	return outputRichBench(cmd.OutOrStdout(), report)
}

// replayIntents drives the suggest/outcome loop and accumulates the
// report.
func replayIntents(ctx context.Context, eng *engine.Engine, world *benchWorld, r *rand.Rand) (*benchReport, error) {
	mode := exploration.ModePassive
	if benchActive {
		mode = exploration.ModeActive
	}

	report := &benchReport{
		Tools:        len(world.tools),
		Capabilities: len(world.capabilities),
		Intents:      benchIntents,
		Decisions:    make(map[string]int),
	}

	var (
		latencies     []time.Duration
		executedFirst int
		executedLast  int
		successes     int
	)

	started := time.Now()
	for i := 0; i < benchIntents; i++ {
		target := world.tools[r.IntN(len(world.tools))]
		req := engine.Request{
			Intent: target.Description,
			Mode:   mode,
		}
		if benchPlanEvery > 0 && i%benchPlanEvery == 0 {
			req.WithPlan = true
		}

		t0 := time.Now()
		resp, err := eng.Suggest(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("suggest: %w", err)
		}
		latencies = append(latencies, time.Since(t0))
		report.Decisions[string(resp.Decision)]++

		if resp.Decision != suggest.DecisionExecute || len(resp.Candidates) == 0 {
			continue
		}
		if i < benchIntents/2 {
			executedFirst++
		} else {
			executedLast++
		}

		top := resp.Candidates[0]
		success := r.Float64() < world.skill[top.ID]
		if success {
			successes++
		}
		if _, err := eng.RecordOutcome(ctx, &trace.Trace{
			CandidateID:  top.ID,
			Intent:       target.Description,
			ExecutedPath: []string{top.ID},
			Success:      success,
			DurationMS:   5 + r.Int64N(120),
		}); err != nil {
			return nil, fmt.Errorf("record outcome: %w", err)
		}
		report.OutcomesRecorded++
	}

	report.ElapsedMS = float64(time.Since(started).Microseconds()) / 1000.0
	if report.OutcomesRecorded > 0 {
		report.SuccessRate = float64(successes) / float64(report.OutcomesRecorded)
	}

	half := benchIntents / 2
	if half > 0 {
		report.ExecuteRateFirstHalf = float64(executedFirst) / float64(half)
		report.ExecuteRateSecondHalf = float64(executedLast) / float64(benchIntents-half)
	}

	report.LatencyP50MS = percentileMS(latencies, 0.50)
	report.LatencyP90MS = percentileMS(latencies, 0.90)
	report.LatencyP99MS = percentileMS(latencies, 0.99)
	return report, nil
}

// =============================================================================
// Vector Helpers
// =============================================================================

// randUnit draws a random unit vector.
func randUnit(r *rand.Rand, dim int) []float32 {
	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		v := r.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	return scale(vec, norm)
}

// perturb mixes noise into a base vector and renormalizes.
func perturb(r *rand.Rand, base []float32, amount float64) []float32 {
	noise := randUnit(r, len(base))
	out := make([]float32, len(base))
	var norm float64
	for i := range base {
		v := float64(base[i]) + amount*float64(noise[i])
		out[i] = float32(v)
		norm += v * v
	}
	return scale(out, norm)
}

// meanUnit averages vectors and renormalizes.
func meanUnit(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float32, len(vecs[0]))
	for _, vec := range vecs {
		for i, v := range vec {
			out[i] += v
		}
	}
	var norm float64
	for i := range out {
		out[i] /= float32(len(vecs))
		norm += float64(out[i]) * float64(out[i])
	}
	return scale(out, norm)
}

// scale divides a vector by the square root of a squared norm.
func scale(vec []float32, squaredNorm float64) []float32 {
	norm := math.Sqrt(squaredNorm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// percentileMS reads one latency percentile in milliseconds.
func percentileMS(latencies []time.Duration, q float64) float64 {
	if len(latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)
	idx := int(q * float64(len(sorted)-1))
	return float64(sorted[idx].Microseconds()) / 1000.0
}

// =============================================================================
// Output
// =============================================================================

// outputJSONBench outputs the report as JSON.
func outputJSONBench(w io.Writer, report *benchReport) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// outputRichBench outputs the report with rich formatting.
func outputRichBench(w io.Writer, report *benchReport) error {
	fmt.Fprintf(w, "%s%sBench Results%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)

	fmt.Fprintf(w, "%sWorld:%s        %d tools, %d capabilities\n", colorGray, colorReset, report.Tools, report.Capabilities)
	fmt.Fprintf(w, "%sIntents:%s      %d in %.1fms\n", colorGray, colorReset, report.Intents, report.ElapsedMS)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%sDecisions:%s\n", colorGray, colorReset)
	for _, decision := range []suggest.Decision{suggest.DecisionExecute, suggest.DecisionSuggest, suggest.DecisionRequireApproval} {
		count := report.Decisions[string(decision)]
		color := colorGreen
		switch decision {
		case suggest.DecisionSuggest:
			color = colorYellow
		case suggest.DecisionRequireApproval:
			color = colorRed
		}
		fmt.Fprintf(w, "  %s%-17s%s %d\n", color, decision, colorReset, count)
	}
	fmt.Fprintf(w, "%sExecute rate:%s %.2f -> %.2f\n", colorGray, colorReset,
		report.ExecuteRateFirstHalf, report.ExecuteRateSecondHalf)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%sOutcomes:%s     %d recorded, %.0f%% succeeded\n", colorGray, colorReset,
		report.OutcomesRecorded, report.SuccessRate*100)
	fmt.Fprintf(w, "%sTraining:%s     %d runs, %d skipped, final MAE %.4f, weights v%d\n", colorGray, colorReset,
		report.TrainingRuns, report.TrainingSkips, report.FinalMAE, report.WeightsVersion)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%sLatency:%s      p50 %.3fms  p90 %.3fms  p99 %.3fms\n", colorGray, colorReset,
		report.LatencyP50MS, report.LatencyP90MS, report.LatencyP99MS)
	return nil
}

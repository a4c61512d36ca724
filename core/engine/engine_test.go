package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/rudder/core/config"
	"github.com/adalundhe/rudder/core/engine"
	"github.com/adalundhe/rudder/core/events"
	"github.com/adalundhe/rudder/core/exploration"
	"github.com/adalundhe/rudder/core/graph"
	"github.com/adalundhe/rudder/core/permission"
	"github.com/adalundhe/rudder/core/suggest"
	"github.com/adalundhe/rudder/core/trace"
)

var (
	aligned    = []float32{1, 0, 0, 0}
	orthogonal = []float32{0, 1, 0, 0}
	opposite   = []float32{-1, 0, 0, 0}
)

// unitVec builds a unit vector whose cosine against aligned is exactly c.
func unitVec(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c)), 0, 0}
}

func baseDescriptor() permission.Descriptor {
	return permission.Descriptor{
		Rules: []permission.Rule{
			{Namespace: "fs:*", Scope: permission.ScopeMinimal},
			{Namespace: "net:*", Scope: permission.ScopeNetwork},
			{Namespace: "shell:*", Scope: permission.ScopeElevated},
			{Namespace: "cap:*", Scope: permission.ScopeMinimal},
		},
		DenyPatterns: []string{"admin:*"},
	}
}

func newEngine(t *testing.T, mutate func(cfg *config.Config), opts engine.Options) *engine.Engine {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Descriptor == nil {
		d := baseDescriptor()
		opts.Descriptor = &d
	}

	eng, err := engine.New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

func registerTool(t *testing.T, eng *engine.Engine, id, name, description string, embedding []float32) {
	t.Helper()
	require.NoError(t, eng.RegisterTool(context.Background(), graph.ToolNode{
		ID:          id,
		Name:        name,
		Description: description,
		Embedding:   embedding,
	}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// failingProvider simulates an embedding backend that is down.
type failingProvider struct{}

func (failingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("provider offline")
}

func (failingProvider) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("provider offline")
}

func (failingProvider) Dimension() int { return 4 }

// =============================================================================
// Suggestion
// =============================================================================

func TestSuggestRanksAndDecides(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})
	registerTool(t, eng, "fs:read", "read file", "Read a file from disk", aligned)
	registerTool(t, eng, "net:post", "post data", "Post data to a service", orthogonal)
	registerTool(t, eng, "shell:exec", "run command", "Run a shell command", opposite)

	resp, err := eng.Suggest(context.Background(), engine.Request{Embedding: aligned})

	require.NoError(t, err)
	require.Len(t, resp.Candidates, 3)
	assert.Equal(t, "fs:read", resp.Candidates[0].ID)
	assert.Equal(t, suggest.DecisionExecute, resp.Decision)
	assert.InDelta(t, 2.0/3.0, resp.Confidence, 1e-6)
	assert.False(t, resp.Lexical)
}

func TestSuggestRequiresIntent(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})

	_, err := eng.Suggest(context.Background(), engine.Request{Context: []string{"fs:read"}})

	assert.ErrorIs(t, err, engine.ErrNoIntent)
}

func TestSuggestEmptyGraphStillDecides(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})

	resp, err := eng.Suggest(context.Background(), engine.Request{Embedding: aligned})

	require.NoError(t, err)
	assert.Equal(t, suggest.DecisionSuggest, resp.Decision)
	assert.Equal(t, "no known candidates", resp.Reason)
	assert.Empty(t, resp.Candidates)
}

func TestSuggestCachesRepeatedRequests(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})
	registerTool(t, eng, "fs:read", "read file", "Read a file from disk", aligned)

	first, err := eng.Suggest(context.Background(), engine.Request{Embedding: aligned})
	require.NoError(t, err)
	second, err := eng.Suggest(context.Background(), engine.Request{Embedding: aligned})
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestRegisterToolInvalidatesCachedSuggestions(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})
	registerTool(t, eng, "fs:read", "read file", "Read a file from disk", aligned)

	before, err := eng.Suggest(context.Background(), engine.Request{Embedding: aligned})
	require.NoError(t, err)
	require.Len(t, before.Candidates, 1)

	registerTool(t, eng, "fs:stat", "stat file", "Stat a file on disk", aligned)

	after, err := eng.Suggest(context.Background(), engine.Request{Embedding: aligned})
	require.NoError(t, err)
	assert.Len(t, after.Candidates, 2)
}

func TestSuggestLexicalFallback(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{Provider: failingProvider{}})
	registerTool(t, eng, "fs:read", "read file", "Read a file from disk", aligned)
	registerTool(t, eng, "net:fetch", "fetch url", "Fetch a document over HTTP", orthogonal)

	resp, err := eng.Suggest(context.Background(), engine.Request{Intent: "fetch a url over http"})

	require.NoError(t, err)
	assert.True(t, resp.Lexical)
	require.NotEmpty(t, resp.Candidates)
	assert.Equal(t, "net:fetch", resp.Candidates[0].ID)
	// Top lexical relevance 1.0 blends with the neutral graph score 0.5.
	assert.InDelta(t, 0.75, resp.Candidates[0].Score, 1e-6)
	assert.Equal(t, suggest.DecisionExecute, resp.Decision)
}

// =============================================================================
// Planning End to End
// =============================================================================

func TestSuggestWithPlanPausesAtUnknownRiskLayer(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})

	// A four-step chain whose third step is absent from the descriptor.
	// Scores decrease along the chain so the ranking follows it.
	registerTool(t, eng, "fs:read", "read file", "Read a file from disk", unitVec(1.0))
	registerTool(t, eng, "net:fetch", "fetch url", "Fetch a document over HTTP", unitVec(0.8))
	registerTool(t, eng, "mystery:probe", "probe", "Probe an undocumented endpoint", unitVec(0.6))
	registerTool(t, eng, "fs:write", "write file", "Write a file to disk", unitVec(0.4))

	g := eng.Graph()
	require.NoError(t, g.UpsertEdge("fs:read", "net:fetch", 0.9, 1))
	require.NoError(t, g.UpsertEdge("net:fetch", "mystery:probe", 0.9, 1))
	require.NoError(t, g.UpsertEdge("mystery:probe", "fs:write", 0.9, 1))

	resp, err := eng.Suggest(context.Background(), engine.Request{
		Embedding: aligned,
		WithPlan:  true,
	})

	require.NoError(t, err)
	require.NotNil(t, resp.Plan)
	require.NotNil(t, resp.Evaluation)
	assert.Len(t, resp.Plan.Layers(), 4)

	assert.Equal(t, suggest.DecisionRequireApproval, resp.Decision)
	assert.Equal(t, "unknown risk tier", resp.Reason)
	assert.Equal(t, 2, resp.Evaluation.PendingLayer)
	require.Len(t, resp.Evaluation.Executed, 2)
	require.NotNil(t, resp.Evaluation.Pending)
	require.Len(t, resp.Evaluation.Pending.Steps, 1)
	assert.Equal(t, "mystery:probe", resp.Evaluation.Pending.Steps[0].ID)
}

// =============================================================================
// Thresholds
// =============================================================================

func TestThresholdForKnownTool(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})
	registerTool(t, eng, "fs:read", "read file", "Read a file from disk", aligned)

	decision := eng.ThresholdFor("fs:read", exploration.ModePassive)

	assert.Equal(t, permission.TierSafe, decision.Tier)
	assert.InDelta(t, 0.40, decision.Threshold, 1e-9)
	assert.False(t, decision.RequiresApproval)
}

func TestThresholdForUnregisteredCandidate(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})

	// Even an id the descriptor would classify routes to approval when
	// the graph has never seen it.
	decision := eng.ThresholdFor("fs:ghost", exploration.ModePassive)

	assert.Equal(t, permission.TierUnknown, decision.Tier)
	assert.Equal(t, 1.0, decision.Threshold)
	assert.True(t, decision.RequiresApproval)
	assert.InDelta(t, 0.5, decision.Estimate, 1e-9)
}

func TestThresholdForCapabilityInheritsStrictestLeaf(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})
	registerTool(t, eng, "fs:read", "read file", "Read a file from disk", aligned)
	registerTool(t, eng, "shell:exec", "run command", "Run a shell command", orthogonal)
	require.NoError(t, eng.RegisterCapability(context.Background(), graph.CapabilityNode{
		ID:        "cap:deploy",
		Name:      "deploy",
		ToolsUsed: []string{"fs:read", "shell:exec"},
		Embedding: aligned,
	}))

	decision := eng.ThresholdFor("cap:deploy", exploration.ModePassive)

	assert.Equal(t, permission.TierDangerous, decision.Tier)
	assert.InDelta(t, 0.85, decision.Threshold, 1e-9)
}

// =============================================================================
// Outcomes
// =============================================================================

func TestRecordOutcomeUpdatesPosteriorAndEdges(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})
	registerTool(t, eng, "fs:read", "read file", "Read a file from disk", aligned)
	registerTool(t, eng, "net:post", "post data", "Post data to a service", orthogonal)

	for range 3 {
		id, err := eng.RecordOutcome(context.Background(), &trace.Trace{
			Intent:       "read then post",
			ExecutedPath: []string{"fs:read", "net:post"},
			Success:      true,
			DurationMS:   12,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	// Beta(1+3, 1) mean.
	decision := eng.ThresholdFor("fs:read", exploration.ModePassive)
	assert.InDelta(t, 0.8, decision.Estimate, 1e-9)

	edge, ok := eng.Graph().Edge("fs:read", "net:post")
	require.True(t, ok)
	assert.Equal(t, int64(3), edge.Observations)
	assert.InDelta(t, 0.53536, edge.Confidence, 1e-6)
}

func TestRecordOutcomeUsesPerStepResults(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})
	registerTool(t, eng, "fs:read", "read file", "Read a file from disk", aligned)
	registerTool(t, eng, "net:post", "post data", "Post data to a service", orthogonal)

	_, err := eng.RecordOutcome(context.Background(), &trace.Trace{
		Intent:       "read then post",
		ExecutedPath: []string{"fs:read", "net:post"},
		Success:      false,
		TaskResults: []trace.TaskResult{
			{ToolID: "fs:read", Success: true},
			{ToolID: "net:post", Success: false},
		},
	})
	require.NoError(t, err)

	// The step that succeeded gets a success update despite the failed
	// trace; the failed path reinforces no edge.
	read := eng.ThresholdFor("fs:read", exploration.ModePassive)
	post := eng.ThresholdFor("net:post", exploration.ModePassive)
	assert.InDelta(t, 2.0/3.0, read.Estimate, 1e-9)
	assert.InDelta(t, 1.0/3.0, post.Estimate, 1e-9)

	_, ok := eng.Graph().Edge("fs:read", "net:post")
	assert.False(t, ok)
}

func TestRecordOutcomeRejectsMalformedTrace(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})

	_, err := eng.RecordOutcome(context.Background(), &trace.Trace{
		ExecutedPath: []string{"fs:read"},
	})
	assert.ErrorIs(t, err, trace.ErrMalformedTrace)

	_, err = eng.RecordOutcome(context.Background(), nil)
	assert.ErrorIs(t, err, trace.ErrMalformedTrace)
}

func TestRecordOutcomeCountsCapabilityUse(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})
	registerTool(t, eng, "fs:read", "read file", "Read a file from disk", aligned)
	require.NoError(t, eng.RegisterCapability(context.Background(), graph.CapabilityNode{
		ID:        "cap:ingest",
		ToolsUsed: []string{"fs:read"},
		Embedding: aligned,
	}))

	_, err := eng.RecordOutcome(context.Background(), &trace.Trace{
		CandidateID:  "cap:ingest",
		Intent:       "ingest the report",
		ExecutedPath: []string{"cap:ingest"},
		Success:      true,
	})
	require.NoError(t, err)

	capability, ok := eng.Graph().Capability("cap:ingest")
	require.True(t, ok)
	assert.Equal(t, int64(1), capability.Uses)
}

func TestRecordOutcomeTriggersTraining(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []events.Type
	)

	eng := newEngine(t, func(cfg *config.Config) {
		cfg.Replay.TrainEvery = 1
		cfg.Replay.MinTraces = 1
	}, engine.Options{})
	eng.Bus().Subscribe(events.NewHandlerFunc("training-watch", func(e *events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
		return nil
	}, events.TypeTrainingStarted, events.TypeTrainingCompleted, events.TypeTrainingSkipped))

	registerTool(t, eng, "fs:read", "read file", "Read a file from disk", aligned)
	registerTool(t, eng, "net:post", "post data", "Post data to a service", orthogonal)

	_, err := eng.RecordOutcome(context.Background(), &trace.Trace{
		Intent:       "read then post",
		ExecutedPath: []string{"fs:read", "net:post"},
		Success:      true,
	})
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return slices.Contains(seen, events.TypeTrainingCompleted) ||
			slices.Contains(seen, events.TypeTrainingSkipped)
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, events.TypeTrainingStarted)
	assert.Contains(t, seen, events.TypeTrainingCompleted)
}

// =============================================================================
// Prediction
// =============================================================================

func TestPredictNextCandidatesFollowsFrontier(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})
	registerTool(t, eng, "fs:read", "read file", "Read a file from disk", aligned)
	registerTool(t, eng, "net:fetch", "fetch url", "Fetch a document over HTTP", orthogonal)
	registerTool(t, eng, "shell:exec", "run command", "Run a shell command", opposite)

	g := eng.Graph()
	require.NoError(t, g.UpsertEdge("fs:read", "net:fetch", 0.8, 1))
	require.NoError(t, g.UpsertEdge("fs:read", "shell:exec", 0.3, 1))

	predictions, err := eng.PredictNextCandidates(context.Background(), engine.WorkflowState{
		Executed:  []string{"fs:read"},
		Embedding: aligned,
	})

	require.NoError(t, err)
	require.Len(t, predictions, 2)
	assert.Equal(t, "net:fetch", predictions[0].ID)
	assert.InDelta(t, 0.8, predictions[0].Confidence, 1e-9)
	assert.Greater(t, predictions[0].Blended, predictions[1].Blended)
}

func TestPredictNextCandidatesHonorsLimit(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})
	registerTool(t, eng, "fs:read", "read file", "Read a file from disk", aligned)
	registerTool(t, eng, "net:fetch", "fetch url", "Fetch a document over HTTP", orthogonal)
	registerTool(t, eng, "shell:exec", "run command", "Run a shell command", opposite)

	g := eng.Graph()
	require.NoError(t, g.UpsertEdge("fs:read", "net:fetch", 0.8, 1))
	require.NoError(t, g.UpsertEdge("fs:read", "shell:exec", 0.3, 1))

	predictions, err := eng.PredictNextCandidates(context.Background(), engine.WorkflowState{
		Executed: []string{"fs:read"},
		Limit:    1,
	})

	require.NoError(t, err)
	require.Len(t, predictions, 1)
	assert.Equal(t, "net:fetch", predictions[0].ID)
}

func TestPredictNextCandidatesEmptyFrontier(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})
	registerTool(t, eng, "net:fetch", "fetch url", "Fetch a document over HTTP", orthogonal)

	predictions, err := eng.PredictNextCandidates(context.Background(), engine.WorkflowState{
		Executed: []string{"net:fetch"},
	})

	require.NoError(t, err)
	assert.Empty(t, predictions)
}

// =============================================================================
// Registration and Lifecycle
// =============================================================================

func TestRegisterToolResolvesEmbedding(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})

	require.NoError(t, eng.RegisterTool(context.Background(), graph.ToolNode{
		ID:          "docs:search",
		Name:        "search docs",
		Description: "Search the documentation corpus",
	}))

	tool, ok := eng.Graph().Tool("docs:search")
	require.True(t, ok)
	assert.NotEmpty(t, tool.Embedding)
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	eng := newEngine(t, nil, engine.Options{})
	eng.Close()
	eng.Close()

	_, err := eng.Suggest(context.Background(), engine.Request{Embedding: aligned})
	assert.ErrorIs(t, err, engine.ErrClosed)

	_, err = eng.RecordOutcome(context.Background(), &trace.Trace{
		Intent:       "late report",
		ExecutedPath: []string{"fs:read"},
		Success:      true,
	})
	assert.ErrorIs(t, err, engine.ErrClosed)

	err = eng.RegisterTool(context.Background(), graph.ToolNode{ID: "fs:read"})
	assert.ErrorIs(t, err, engine.ErrClosed)
}

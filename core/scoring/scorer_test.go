package scoring_test

import (
	"sync"
	"testing"

	"github.com/adalundhe/rudder/core/graph"
	"github.com/adalundhe/rudder/core/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScorerOver(t *testing.T, build func(s *graph.Store)) (*scoring.Scorer, *graph.Store) {
	t.Helper()
	store := graph.NewStore(graph.Config{})
	if build != nil {
		build(store)
	}
	return scoring.NewScorer(store, scoring.Config{}), store
}

func TestScorerEmptyGraphIsExactlyNeutral(t *testing.T) {
	scorer, _ := newScorerOver(t, nil)

	assert.Equal(t, 0.5, scorer.PredictPathSuccess(nil, nil))
	assert.Equal(t, 0.5, scorer.PredictPathSuccess([]float32{1, 0}, []string{"tool.a", "tool.b"}))

	_, ok := scorer.Score("tool.a", nil, nil)
	assert.False(t, ok)

	tools, capabilities := scorer.ScoreAll([]float32{1, 0}, nil)
	assert.Empty(t, tools)
	assert.Empty(t, capabilities)
}

func TestScorerColdRegisteredNodesScoreNeutral(t *testing.T) {
	scorer, _ := newScorerOver(t, func(s *graph.Store) {
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.a"}))
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.b"}))
	})

	// No embeddings, no analytics, no learned bias: every head is neutral.
	score, ok := scorer.Score("tool.a", nil, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.5, score, 1e-9)

	assert.InDelta(t, 0.5, scorer.PredictPathSuccess(nil, []string{"tool.a", "tool.b"}), 1e-9)
}

func TestScorerSemanticHeadRanksByEmbedding(t *testing.T) {
	intent := []float32{1, 0}
	scorer, _ := newScorerOver(t, func(s *graph.Store) {
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.aligned", Embedding: []float32{1, 0}}))
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.opposed", Embedding: []float32{-1, 0}}))
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.blank"}))
	})

	tools, _ := scorer.ScoreAll(intent, nil)
	require.Len(t, tools, 3)

	assert.Equal(t, "tool.aligned", tools[0].ID)
	assert.Equal(t, "tool.blank", tools[1].ID, "missing embedding reads neutral, between aligned and opposed")
	assert.Equal(t, "tool.opposed", tools[2].ID)

	for _, c := range tools {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
}

func TestScorerScoreAllDeterministicTieBreak(t *testing.T) {
	scorer, _ := newScorerOver(t, func(s *graph.Store) {
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.z"}))
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.a"}))
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.m"}))
	})

	for i := 0; i < 5; i++ {
		tools, _ := scorer.ScoreAll(nil, nil)
		require.Len(t, tools, 3)
		assert.Equal(t, "tool.a", tools[0].ID)
		assert.Equal(t, "tool.m", tools[1].ID)
		assert.Equal(t, "tool.z", tools[2].ID)
	}
}

func TestScorerSeparatesToolsFromCapabilities(t *testing.T) {
	scorer, _ := newScorerOver(t, func(s *graph.Store) {
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.a"}))
		require.NoError(t, s.UpsertCapability(graph.CapabilityNode{
			ID: "cap.x", ToolsUsed: []string{"tool.a"},
		}))
	})

	tools, capabilities := scorer.ScoreAll(nil, nil)
	require.Len(t, tools, 1)
	require.Len(t, capabilities, 1)
	assert.Equal(t, graph.KindTool, tools[0].Kind)
	assert.Equal(t, graph.KindCapability, capabilities[0].Kind)
}

func TestScorerPathPositionWeighting(t *testing.T) {
	intent := []float32{1, 0}
	scorer, _ := newScorerOver(t, func(s *graph.Store) {
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.good", Embedding: []float32{1, 0}}))
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.bad", Embedding: []float32{-1, 0}}))
	})

	endsWell := scorer.PredictPathSuccess(intent, []string{"tool.bad", "tool.good"})
	endsBadly := scorer.PredictPathSuccess(intent, []string{"tool.good", "tool.bad"})

	assert.Greater(t, endsWell, endsBadly,
		"the same steps must score higher when the strong step comes last")
}

func TestScorerPathUnknownStepsFallBackToNeutral(t *testing.T) {
	intent := []float32{1, 0}
	scorer, _ := newScorerOver(t, func(s *graph.Store) {
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.good", Embedding: []float32{1, 0}}))
	})

	known := scorer.PredictPathSuccess(intent, []string{"tool.good"})
	mixed := scorer.PredictPathSuccess(intent, []string{"tool.good", "tool.ghost"})

	assert.Greater(t, known, mixed, "an unknown trailing step dilutes toward neutral")
	assert.Greater(t, mixed, 0.5, "one strong step still lifts the path above neutral")
}

func TestScorerTrainBatchMovesScores(t *testing.T) {
	scorer, _ := newScorerOver(t, func(s *graph.Store) {
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.win"}))
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.lose"}))
	})

	winBefore, _ := scorer.Score("tool.win", nil, nil)
	loseBefore, _ := scorer.Score("tool.lose", nil, nil)

	var batch []scoring.Example
	for i := 0; i < 20; i++ {
		batch = append(batch,
			scoring.Example{Target: "tool.win", Success: true},
			scoring.Example{Target: "tool.lose", Success: false},
		)
	}
	for i := 0; i < 10; i++ {
		report := scorer.TrainBatch(batch)
		assert.Equal(t, 40, report.Examples)
		assert.Zero(t, report.Skipped)
	}

	winAfter, _ := scorer.Score("tool.win", nil, nil)
	loseAfter, _ := scorer.Score("tool.lose", nil, nil)

	assert.Greater(t, winAfter, winBefore, "successful outcomes should raise the score")
	assert.Less(t, loseAfter, loseBefore, "failed outcomes should lower the score")
	assert.Equal(t, uint64(10), scorer.Weights().Version)
}

func TestScorerTrainBatchUsesContextConnection(t *testing.T) {
	scorer, _ := newScorerOver(t, func(s *graph.Store) {
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.ctx"}))
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.next"}))
		require.NoError(t, s.UpsertEdge("tool.ctx", "tool.next", 0.9, 1))
	})

	baseline := scorer.Weights().ContextWeight

	var batch []scoring.Example
	for i := 0; i < 20; i++ {
		batch = append(batch, scoring.Example{
			Context: []string{"tool.ctx"},
			Target:  "tool.next",
			Success: true,
		})
	}
	for i := 0; i < 10; i++ {
		scorer.TrainBatch(batch)
	}

	assert.Greater(t, scorer.Weights().ContextWeight, baseline,
		"successes on connected targets must strengthen the connection feature")

	withContext, _ := scorer.Score("tool.next", nil, []string{"tool.ctx"})
	without, _ := scorer.Score("tool.next", nil, nil)
	assert.Greater(t, withContext, without)
}

func TestScorerTrainBatchSkipsUnknownTargets(t *testing.T) {
	scorer, _ := newScorerOver(t, func(s *graph.Store) {
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.a"}))
	})

	report := scorer.TrainBatch([]scoring.Example{
		{Target: "tool.a", Success: true},
		{Target: "tool.ghost", Success: true},
	})

	assert.Equal(t, 1, report.Examples)
	assert.Equal(t, 1, report.Skipped)

	// A batch of nothing but unknowns publishes no new snapshot.
	before := scorer.Weights()
	report = scorer.TrainBatch([]scoring.Example{{Target: "tool.ghost", Success: true}})
	assert.Zero(t, report.Examples)
	assert.Same(t, before, scorer.Weights())
}

func TestScorerTrainingIsCopyOnWrite(t *testing.T) {
	scorer, _ := newScorerOver(t, func(s *graph.Store) {
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.a"}))
	})

	held := scorer.Weights()
	heldBias := held.NodeBias["tool.a"]

	scorer.TrainBatch([]scoring.Example{{Target: "tool.a", Success: true}})

	assert.NotSame(t, held, scorer.Weights())
	assert.Equal(t, heldBias, held.NodeBias["tool.a"],
		"a held snapshot must never change under a concurrent update")
}

func TestScorerConcurrentScoringDuringTraining(t *testing.T) {
	scorer, _ := newScorerOver(t, func(s *graph.Store) {
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.a"}))
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.b"}))
		require.NoError(t, s.UpsertEdge("tool.a", "tool.b", 0.9, 1))
	})

	batch := []scoring.Example{
		{Context: []string{"tool.a"}, Target: "tool.b", Success: true},
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				score, ok := scorer.Score("tool.b", nil, []string{"tool.a"})
				if !ok || score < 0 || score > 1 {
					t.Errorf("score out of range under concurrency: %f ok=%v", score, ok)
					return
				}
			}
		}()
	}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				scorer.TrainBatch(batch)
			}
		}()
	}
	wg.Wait()
}

func TestScorerSetWeightsRestoresSnapshot(t *testing.T) {
	scorer, _ := newScorerOver(t, func(s *graph.Store) {
		require.NoError(t, s.UpsertTool(graph.ToolNode{ID: "tool.a"}))
	})

	scorer.TrainBatch([]scoring.Example{{Target: "tool.a", Success: true}})
	trained := scorer.Weights()

	scorer.SetWeights(nil)
	assert.Zero(t, scorer.Weights().Version, "nil restore resets to cold start")

	scorer.SetWeights(trained)
	assert.Equal(t, trained.Version, scorer.Weights().Version)
}

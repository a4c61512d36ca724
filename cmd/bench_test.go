// Package cmd provides CLI commands for the Rudder decision engine.
// This file contains tests for the bench command.
package cmd

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Bench Command Tests
// =============================================================================

func TestBenchCmd_Definition(t *testing.T) {
	t.Run("command is defined", func(t *testing.T) {
		assert.NotNil(t, benchCmd)
		assert.Equal(t, "bench", benchCmd.Use)
		assert.Equal(t, "Benchmark the decision loop on a synthetic workload", benchCmd.Short)
	})

	t.Run("registered on root", func(t *testing.T) {
		var found bool
		for _, cmd := range rootCmd.Commands() {
			if cmd.Use == "bench" {
				found = true
			}
		}
		assert.True(t, found, "bench subcommand should exist")
	})

	t.Run("has flags", func(t *testing.T) {
		flags := benchCmd.Flags()

		toolsFlag := flags.Lookup("tools")
		require.NotNil(t, toolsFlag)
		assert.Equal(t, "24", toolsFlag.DefValue)

		intentsFlag := flags.Lookup("intents")
		require.NotNil(t, intentsFlag)
		assert.Equal(t, "n", intentsFlag.Shorthand)
		assert.Equal(t, "200", intentsFlag.DefValue)

		configFlag := flags.Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "c", configFlag.Shorthand)

		seedFlag := flags.Lookup("seed")
		require.NotNil(t, seedFlag)
		assert.Equal(t, "1", seedFlag.DefValue)

		jsonFlag := flags.Lookup("json")
		require.NotNil(t, jsonFlag)
		assert.Equal(t, "false", jsonFlag.DefValue)

		planFlag := flags.Lookup("plan-every")
		require.NotNil(t, planFlag)
		assert.Equal(t, "10", planFlag.DefValue)
	})
}

// setBenchFlags overrides the package flag state for one test and
// restores it afterward.
func setBenchFlags(t *testing.T, tools, capabilities, intents int, seed uint64) {
	t.Helper()

	prevTools := benchTools
	prevCapabilities := benchCapabilities
	prevIntents := benchIntents
	prevSeed := benchSeed
	prevConfig := benchConfigPath
	prevActive := benchActive
	prevPlan := benchPlanEvery
	prevJSON := benchJSON
	t.Cleanup(func() {
		benchTools = prevTools
		benchCapabilities = prevCapabilities
		benchIntents = prevIntents
		benchSeed = prevSeed
		benchConfigPath = prevConfig
		benchActive = prevActive
		benchPlanEvery = prevPlan
		benchJSON = prevJSON
	})

	benchTools = tools
	benchCapabilities = capabilities
	benchIntents = intents
	benchSeed = seed
	benchConfigPath = ""
	benchActive = false
	benchPlanEvery = 5
	benchJSON = true
}

func TestRunBench_EndToEnd(t *testing.T) {
	setBenchFlags(t, 8, 2, 40, 3)

	var out, errOut bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	require.NoError(t, runBench(cmd, nil))

	var report benchReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))

	assert.Equal(t, 8, report.Tools)
	assert.Equal(t, 2, report.Capabilities)
	assert.Equal(t, 40, report.Intents)

	var decided int
	for _, count := range report.Decisions {
		decided += count
	}
	assert.Equal(t, 40, decided, "every intent should produce a decision")

	// Only cleared candidates run, and every run records an outcome.
	assert.Equal(t, report.Decisions["execute"], report.OutcomesRecorded)
	assert.LessOrEqual(t, report.SuccessRate, 1.0)
	assert.GreaterOrEqual(t, report.SuccessRate, 0.0)

	assert.GreaterOrEqual(t, report.LatencyP90MS, report.LatencyP50MS)
	assert.GreaterOrEqual(t, report.LatencyP99MS, report.LatencyP90MS)
	assert.Greater(t, report.ElapsedMS, 0.0)
}

func TestBuildWorld_Deterministic(t *testing.T) {
	setBenchFlags(t, 6, 2, 1, 1)

	first := buildWorld(rand.New(rand.NewPCG(9, 9)))
	second := buildWorld(rand.New(rand.NewPCG(9, 9)))

	require.Len(t, first.tools, 6)
	require.Len(t, second.tools, 6)
	for i := range first.tools {
		assert.Equal(t, first.tools[i].ID, second.tools[i].ID)
		assert.Equal(t, first.tools[i].Embedding, second.tools[i].Embedding)
	}
	assert.Equal(t, first.skill, second.skill)
	assert.Len(t, first.intents, 6, "one intent phrase per tool")
}

// =============================================================================
// Vector Helper Tests
// =============================================================================

func cosineOf(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestRandUnit(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	vec := randUnit(r, 64)

	require.Len(t, vec, 64)
	assert.InDelta(t, 1.0, cosineOf(vec, vec), 1e-3, "should be unit length")
}

func TestPerturbStaysNearBase(t *testing.T) {
	r := rand.New(rand.NewPCG(4, 5))
	base := randUnit(r, 64)
	noisy := perturb(r, base, benchIntentNoise)

	require.Len(t, noisy, 64)
	assert.InDelta(t, 1.0, cosineOf(noisy, noisy), 1e-3, "should stay unit length")
	assert.Greater(t, cosineOf(base, noisy), 0.7, "noise should not bury the signal")
}

func TestMeanUnit(t *testing.T) {
	t.Run("identical vectors collapse to themselves", func(t *testing.T) {
		r := rand.New(rand.NewPCG(7, 8))
		vec := randUnit(r, 16)
		mean := meanUnit([][]float32{vec, vec})
		assert.InDelta(t, 1.0, cosineOf(vec, mean), 1e-3)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, meanUnit(nil))
	})
}

func TestPercentileMS(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, 0.0, percentileMS(nil, 0.5))
	})

	t.Run("ordering", func(t *testing.T) {
		latencies := make([]time.Duration, 100)
		for i := range latencies {
			latencies[i] = time.Duration(i+1) * time.Millisecond
		}
		assert.InDelta(t, 50.0, percentileMS(latencies, 0.50), 0.001)
		assert.InDelta(t, 99.0, percentileMS(latencies, 0.99), 0.001)
	})
}

// =============================================================================
// Output Tests
// =============================================================================

func sampleBenchReport() *benchReport {
	return &benchReport{
		Tools:                 4,
		Capabilities:          1,
		Intents:               20,
		Decisions:             map[string]int{"execute": 12, "suggest": 7, "require_approval": 1},
		ExecuteRateFirstHalf:  0.5,
		ExecuteRateSecondHalf: 0.7,
		OutcomesRecorded:      12,
		SuccessRate:           0.75,
		TrainingRuns:          1,
		FinalMAE:              0.21,
		WeightsVersion:        2,
		LatencyP50MS:          0.4,
		LatencyP90MS:          1.1,
		LatencyP99MS:          2.9,
		ElapsedMS:             48.0,
	}
}

func TestOutputJSONBench(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, outputJSONBench(&buf, sampleBenchReport()))

	output := buf.String()
	assert.Contains(t, output, `"tools": 4`)
	assert.Contains(t, output, `"intents": 20`)
	assert.Contains(t, output, `"execute": 12`)
	assert.Contains(t, output, `"latency_p99_ms": 2.9`)
	assert.Contains(t, output, `"weights_version": 2`)
}

func TestOutputRichBench(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, outputRichBench(&buf, sampleBenchReport()))

	output := buf.String()
	assert.Contains(t, output, "Bench Results")
	assert.Contains(t, output, "4 tools, 1 capabilities")
	assert.Contains(t, output, "execute")
	assert.Contains(t, output, "require_approval")
	assert.Contains(t, output, "0.50 -> 0.70")
	assert.Contains(t, output, "p50 0.400ms")
}

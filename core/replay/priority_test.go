package replay

import (
	"math"
	"testing"

	"github.com/adalundhe/rudder/core/trace"
)

func TestTDPriorityFixtures(t *testing.T) {
	// A confident prediction proven wrong is a big surprise; the same
	// prediction proven right is a small one.
	if got := tdPriority(0.0, 0.9); math.Abs(got-0.9) > 1e-9 {
		t.Errorf("failure against predicted 0.9: priority %v, want 0.9", got)
	}
	if got := tdPriority(1.0, 0.9); math.Abs(got-0.1) > 1e-9 {
		t.Errorf("success against predicted 0.9: priority %v, want 0.1", got)
	}
}

func TestTDPriorityStaysInBand(t *testing.T) {
	cases := []struct {
		actual    float64
		predicted float64
	}{
		{1.0, 1.0},
		{0.0, 0.0},
		{1.0, 0.0},
		{0.0, 1.0},
		{1.0, 0.5},
	}
	for _, tc := range cases {
		got := tdPriority(tc.actual, tc.predicted)
		if got < trace.MinPriority || got > trace.MaxPriority {
			t.Errorf("tdPriority(%v, %v) = %v, outside band", tc.actual, tc.predicted, got)
		}
	}

	// Perfect prediction lands on the floor, never on zero.
	if got := tdPriority(1.0, 1.0); got != trace.MinPriority {
		t.Errorf("perfect prediction priority %v, want floor %v", got, trace.MinPriority)
	}
}

func TestBuildExamplesPrefixes(t *testing.T) {
	intent := []float32{1, 0}
	examples := buildExamples(intent, []string{"fs:list", "fs:read", "fs:write"}, true)

	if len(examples) != 3 {
		t.Fatalf("expected 3 examples, got %d", len(examples))
	}

	wantTargets := []string{"fs:list", "fs:read", "fs:write"}
	wantContexts := [][]string{{}, {"fs:list"}, {"fs:list", "fs:read"}}
	for i, ex := range examples {
		if ex.Target != wantTargets[i] {
			t.Errorf("example %d target %q, want %q", i, ex.Target, wantTargets[i])
		}
		if len(ex.Context) != len(wantContexts[i]) {
			t.Fatalf("example %d context %v, want %v", i, ex.Context, wantContexts[i])
		}
		for j := range ex.Context {
			if ex.Context[j] != wantContexts[i][j] {
				t.Errorf("example %d context %v, want %v", i, ex.Context, wantContexts[i])
			}
		}
		if !ex.Success {
			t.Errorf("example %d lost the trace outcome", i)
		}
	}

	if got := buildExamples(intent, nil, true); len(got) != 0 {
		t.Errorf("expected no examples for empty path, got %d", len(got))
	}
}

package trace

import (
	"errors"
	"math/rand/v2"
	"testing"
)

func TestValidateRequiredFields(t *testing.T) {
	cases := []struct {
		name  string
		trace Trace
		valid bool
	}{
		{
			name:  "complete",
			trace: Trace{Intent: "read the config", ExecutedPath: []string{"fs:read"}},
			valid: true,
		},
		{
			name:  "missing intent",
			trace: Trace{ExecutedPath: []string{"fs:read"}},
			valid: false,
		},
		{
			name:  "empty path",
			trace: Trace{Intent: "read the config", ExecutedPath: []string{}},
			valid: false,
		},
		{
			name:  "blank path element",
			trace: Trace{Intent: "read the config", ExecutedPath: []string{"fs:read", ""}},
			valid: false,
		},
		{
			name: "task result without tool id",
			trace: Trace{
				Intent:       "read the config",
				ExecutedPath: []string{"fs:read"},
				TaskResults:  []TaskResult{{Result: "ok"}},
			},
			valid: false,
		},
		{
			name: "negative duration",
			trace: Trace{
				Intent:       "read the config",
				ExecutedPath: []string{"fs:read"},
				DurationMS:   -1,
			},
			valid: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.trace.Validate()
			if tc.valid && err != nil {
				t.Errorf("expected valid trace, got %v", err)
			}
			if !tc.valid {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrMalformedTrace) {
					t.Errorf("expected ErrMalformedTrace, got %v", err)
				}
			}
		})
	}
}

func TestClampPriority(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{in: 0.5, want: 0.5},
		{in: 0.0, want: MinPriority},
		{in: -3.0, want: MinPriority},
		{in: 1.5, want: MaxPriority},
		{in: MinPriority, want: MinPriority},
		{in: MaxPriority, want: MaxPriority},
	}
	for _, tc := range cases {
		if got := ClampPriority(tc.in); got != tc.want {
			t.Errorf("ClampPriority(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSampleTracesPrefersHighPriority(t *testing.T) {
	pool := make([]*Trace, 0, 100)
	pool = append(pool, &Trace{ID: "surprising", Priority: 1.0})
	for i := 0; i < 99; i++ {
		pool = append(pool, &Trace{ID: "routine", Priority: 0.01})
	}

	src := rand.NewPCG(11, 11)
	hits := 0
	const trials = 300
	for i := 0; i < trials; i++ {
		picked := SampleTraces(src, pool, 1, PriorityExponent)
		if len(picked) != 1 {
			t.Fatalf("expected one draw, got %d", len(picked))
		}
		if picked[0].ID == "surprising" {
			hits++
		}
	}

	// Uniform sampling would land on the high-priority trace about
	// trials/100 = 3 times. The weighted draw must do far better.
	if hits <= 15 {
		t.Errorf("high-priority trace drawn %d/%d times, expected well above uniform", hits, trials)
	}
}

func TestSampleTracesWithoutReplacement(t *testing.T) {
	pool := []*Trace{
		{ID: "a", Priority: 0.9},
		{ID: "b", Priority: 0.5},
		{ID: "c", Priority: 0.1},
		{ID: "d", Priority: 0.7},
	}

	src := rand.NewPCG(3, 3)
	picked := SampleTraces(src, pool, len(pool), PriorityExponent)
	if len(picked) != len(pool) {
		t.Fatalf("expected %d traces, got %d", len(pool), len(picked))
	}

	seen := make(map[string]bool, len(picked))
	for _, tr := range picked {
		if seen[tr.ID] {
			t.Errorf("trace %s drawn twice", tr.ID)
		}
		seen[tr.ID] = true
	}
}

func TestSampleTracesUniformFallback(t *testing.T) {
	pool := []*Trace{
		{ID: "a", Priority: 0.5},
		{ID: "b", Priority: 0.5},
		{ID: "c", Priority: 0.5},
		{ID: "d", Priority: 0.5},
	}

	src := rand.NewPCG(5, 5)
	counts := make(map[string]int)
	for i := 0; i < 200; i++ {
		picked := SampleTraces(src, pool, 1, PriorityExponent)
		counts[picked[0].ID]++
	}

	// Indistinguishable priorities degrade to a uniform draw, so every
	// trace should be selected at least once over 200 trials.
	for _, tr := range pool {
		if counts[tr.ID] == 0 {
			t.Errorf("trace %s never drawn under uniform fallback", tr.ID)
		}
	}
}

func TestSampleTracesEdgeCases(t *testing.T) {
	src := rand.NewPCG(1, 1)

	if got := SampleTraces(src, nil, 3, PriorityExponent); got != nil {
		t.Errorf("expected nil for empty pool, got %v", got)
	}
	if got := SampleTraces(src, []*Trace{{ID: "a", Priority: 0.5}}, 0, PriorityExponent); got != nil {
		t.Errorf("expected nil for zero draws, got %v", got)
	}

	picked := SampleTraces(src, []*Trace{{ID: "a", Priority: 0.5}}, 10, PriorityExponent)
	if len(picked) != 1 {
		t.Errorf("expected draw capped at pool size, got %d", len(picked))
	}
}

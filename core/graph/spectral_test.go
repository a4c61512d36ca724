package graph

import "testing"

func bipartiteExport(caps map[string][]string, tools ...string) *exportedGraph {
	ex := &exportedGraph{
		out:   map[string]map[string]float64{},
		caps:  map[string][]string{},
		tools: map[string]struct{}{},
	}
	for _, id := range tools {
		ex.nodes = append(ex.nodes, id)
		ex.tools[id] = struct{}{}
	}
	for id, used := range caps {
		ex.nodes = append(ex.nodes, id)
		ex.caps[id] = used
	}
	return ex
}

func TestBuildIncidence_ExpandsHierarchy(t *testing.T) {
	ex := bipartiteExport(map[string][]string{
		"meta":  {"cap.a", "cap.b"},
		"cap.a": {"tool.1", "tool.2"},
		"cap.b": {"tool.3"},
	}, "tool.1", "tool.2", "tool.3")

	incidence := buildIncidence(ex)

	if len(incidence["meta"]) != 3 {
		t.Errorf("meta should be incident to 3 leaf tools, got %d", len(incidence["meta"]))
	}
	if _, ok := incidence["meta"]["cap.a"]; ok {
		t.Errorf("capabilities should never be incident to each other")
	}
	if _, ok := incidence["tool.1"]["meta"]; !ok {
		t.Errorf("tool.1 should be incident to meta through cap.a")
	}
	if len(incidence["cap.b"]) != 1 {
		t.Errorf("cap.b should be incident to exactly tool.3, got %d", len(incidence["cap.b"]))
	}
}

func TestEigengapK(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		maxK   int
		want   int
	}{
		{
			name:   "gap after two components",
			values: []float64{0, 0.01, 0.8, 0.9},
			maxK:   8,
			want:   2,
		},
		{
			name:   "gap after three components",
			values: []float64{0, 0, 0.001, 0.7, 0.8},
			maxK:   8,
			want:   3,
		},
		{
			name:   "single large gap",
			values: []float64{0, 0.9},
			maxK:   8,
			want:   1,
		},
		{
			name:   "cap hides the true gap",
			values: []float64{0, 0, 0, 0, 1},
			maxK:   2,
			want:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eigengapK(tt.values, tt.maxK); got != tt.want {
				t.Errorf("eigengapK() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKmeans_SeparatesObviousClusters(t *testing.T) {
	rows := [][]float64{{0}, {0.1}, {5}, {5.1}}

	assignments := kmeans(rows, 2, 1)

	if assignments[0] != assignments[1] {
		t.Errorf("near rows 0 and 1 should share a cluster, got %v", assignments)
	}
	if assignments[2] != assignments[3] {
		t.Errorf("near rows 2 and 3 should share a cluster, got %v", assignments)
	}
	if assignments[0] == assignments[2] {
		t.Errorf("distant groups should split, got %v", assignments)
	}
}

func TestKmeans_KAtLeastN(t *testing.T) {
	rows := [][]float64{{1}, {2}}

	assignments := kmeans(rows, 5, 1)

	if assignments[0] == assignments[1] {
		t.Errorf("with k >= n every row gets its own cluster, got %v", assignments)
	}
}

func TestKmeans_Deterministic(t *testing.T) {
	rows := [][]float64{{0, 1}, {0.2, 0.9}, {3, 3}, {3.1, 2.9}, {6, 0}}

	first := kmeans(rows, 3, 42)
	for i := 0; i < 5; i++ {
		again := kmeans(rows, 3, 42)
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d diverged at row %d: %v vs %v", i, j, again, first)
			}
		}
	}
}

func TestComputeSpectral_TwoIslands(t *testing.T) {
	ex := bipartiteExport(map[string][]string{
		"cap.a": {"tool.1", "tool.2"},
		"cap.b": {"tool.3", "tool.4"},
	}, "tool.1", "tool.2", "tool.3", "tool.4")

	result := computeSpectral(ex, 0, 8, 1)

	if result.K != 2 {
		t.Fatalf("two disconnected islands should auto-select k=2, got %d", result.K)
	}
	if result.Clusters["cap.a"] != result.Clusters["tool.1"] ||
		result.Clusters["tool.1"] != result.Clusters["tool.2"] {
		t.Errorf("island a should share a cluster, got %v", result.Clusters)
	}
	if result.Clusters["cap.b"] != result.Clusters["tool.3"] {
		t.Errorf("island b should share a cluster, got %v", result.Clusters)
	}
	if result.Clusters["cap.a"] == result.Clusters["cap.b"] {
		t.Errorf("islands should land in different clusters, got %v", result.Clusters)
	}
}

func TestComputeSpectral_BridgingCapabilitySpansZones(t *testing.T) {
	ex := bipartiteExport(map[string][]string{
		"cap.a":      {"tool.1", "tool.2"},
		"cap.b":      {"tool.3", "tool.4"},
		"cap.bridge": {"tool.2", "tool.3"},
	}, "tool.1", "tool.2", "tool.3", "tool.4")

	result := computeSpectral(ex, 2, 8, 1)

	if len(result.Zones["cap.bridge"]) < 2 {
		t.Errorf("capability straddling both islands should span >= 2 zones, got %v",
			result.Zones["cap.bridge"])
	}
	if len(result.Zones["tool.1"]) != 1 {
		t.Errorf("interior tool should sit in exactly one zone, got %v", result.Zones["tool.1"])
	}
}

func TestComputeSpectral_NoCapabilities(t *testing.T) {
	ex := bipartiteExport(nil, "tool.1", "tool.2")

	result := computeSpectral(ex, 0, 8, 1)

	if result.K != 0 {
		t.Errorf("no participants should yield k=0, got %d", result.K)
	}
	if len(result.Clusters) != 0 {
		t.Errorf("no participants should yield no clusters, got %v", result.Clusters)
	}
	zones := result.Zones["tool.1"]
	if len(zones) != 1 || zones[0] != NoZone {
		t.Errorf("non-participant should report the no-zone marker, got %v", zones)
	}
}

func TestComputeSpectral_NonParticipantTool(t *testing.T) {
	ex := bipartiteExport(map[string][]string{
		"cap.a": {"tool.1", "tool.2"},
	}, "tool.1", "tool.2", "tool.9")

	result := computeSpectral(ex, 0, 8, 1)

	if _, ok := result.Clusters["tool.9"]; ok {
		t.Errorf("unreferenced tool should not be clustered")
	}
	zones := result.Zones["tool.9"]
	if len(zones) != 1 || zones[0] != NoZone {
		t.Errorf("unreferenced tool should report the no-zone marker, got %v", zones)
	}
}

package graph

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// =============================================================================
// Spectral Zones
// =============================================================================

const (
	// NoZone marks nodes that participate in no capability and therefore
	// carry no spectral assignment.
	NoZone = -1

	kmeansMaxIter   = 50
	eigenTolerance  = 1e-9
	minSpectralSize = 2
)

// SpectralResult is a clustering of the tools-and-capabilities bipartite
// structure. Clusters maps each participating node to its base cluster.
// Zones maps each node to the sorted set of clusters it touches: a
// capability's zones are its own cluster plus the clusters of every leaf
// tool it expands to, which is how a bridging capability shows up as
// spanning multiple zones.
type SpectralResult struct {
	K        int
	Clusters map[string]int
	Zones    map[string][]int
}

// computeSpectral clusters the bipartite incidence between tools and
// capabilities. requestedK <= 0 selects k automatically via the largest
// eigengap of the normalized Laplacian spectrum, capped at maxK. Nodes with
// no incidence at all are excluded and reported under NoZone.
func computeSpectral(ex *exportedGraph, requestedK, maxK int, seed uint64) *SpectralResult {
	incidence := buildIncidence(ex)
	participants := participantIDs(incidence)
	n := len(participants)

	if n < minSpectralSize {
		return degenerateSpectral(ex, participants)
	}

	index := make(map[string]int, n)
	for i, id := range participants {
		index[id] = i
	}

	lap := normalizedLaplacian(participants, index, incidence)

	var eig mat.EigenSym
	if ok := eig.Factorize(lap, true); !ok {
		return degenerateSpectral(ex, participants)
	}
	values := eig.Values(nil)

	k := requestedK
	if k <= 0 {
		k = eigengapK(values, maxK)
	}
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}

	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	rows := embeddingRows(&vectors, n, k)
	assignments := kmeans(rows, k, seed)

	clusters := make(map[string]int, n)
	for i, id := range participants {
		clusters[id] = assignments[i]
	}
	return &SpectralResult{
		K:        k,
		Clusters: clusters,
		Zones:    deriveZones(ex, clusters),
	}
}

// buildIncidence maps every participating node to the set of nodes on the
// opposite side of the bipartite structure. A capability is incident to each
// leaf tool in its recursive expansion, so a capability-of-capabilities
// shares incidence with the tools of its children and clusters near them.
func buildIncidence(ex *exportedGraph) map[string]map[string]struct{} {
	resolve := func(id string) ([]string, bool) {
		constituents, ok := ex.caps[id]
		return constituents, ok
	}

	incidence := make(map[string]map[string]struct{})
	link := func(a, b string) {
		if incidence[a] == nil {
			incidence[a] = make(map[string]struct{})
		}
		if incidence[b] == nil {
			incidence[b] = make(map[string]struct{})
		}
		incidence[a][b] = struct{}{}
		incidence[b][a] = struct{}{}
	}

	for capID := range ex.caps {
		for _, id := range FlattenWith(resolve, capID) {
			if id == capID {
				continue
			}
			if _, isCap := ex.caps[id]; isCap {
				continue
			}
			link(capID, id)
		}
	}
	return incidence
}

func participantIDs(incidence map[string]map[string]struct{}) []string {
	ids := make([]string, 0, len(incidence))
	for id, peers := range incidence {
		if len(peers) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// normalizedLaplacian builds L = I - D^{-1/2} A D^{-1/2} over the
// participants. All participants have degree >= 1 by construction.
func normalizedLaplacian(ids []string, index map[string]int, incidence map[string]map[string]struct{}) *mat.SymDense {
	n := len(ids)
	invSqrtDeg := make([]float64, n)
	for i, id := range ids {
		invSqrtDeg[i] = 1.0 / math.Sqrt(float64(len(incidence[id])))
	}

	lap := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		lap.SetSym(i, i, 1.0)
	}
	for i, id := range ids {
		for peer := range incidence[id] {
			j := index[peer]
			if j <= i {
				continue
			}
			lap.SetSym(i, j, -invSqrtDeg[i]*invSqrtDeg[j])
		}
	}
	return lap
}

// eigengapK picks the k maximizing values[k] - values[k-1] over the ascending
// eigenvalue spectrum, considering k in [1, maxK]. Near-zero eigenvalues
// count connected components, so the largest gap sits right after the
// natural cluster count.
func eigengapK(values []float64, maxK int) int {
	limit := maxK
	if limit > len(values)-1 {
		limit = len(values) - 1
	}
	if limit < 1 {
		return 1
	}

	bestK, bestGap := 1, math.Inf(-1)
	for k := 1; k <= limit; k++ {
		gap := values[k] - values[k-1]
		if gap > bestGap+eigenTolerance {
			bestGap = gap
			bestK = k
		}
	}
	return bestK
}

// embeddingRows extracts the k smallest eigenvectors as row embeddings and
// row-normalizes each one. Zero rows stay zero.
func embeddingRows(vectors *mat.Dense, n, k int) [][]float64 {
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, k)
		var norm float64
		for j := 0; j < k; j++ {
			v := vectors.At(i, j)
			row[j] = v
			norm += v * v
		}
		if norm > eigenTolerance {
			norm = math.Sqrt(norm)
			for j := range row {
				row[j] /= norm
			}
		}
		rows[i] = row
	}
	return rows
}

// deriveZones computes the zone set for every node in the export. Tools zone
// with their base cluster; capabilities union their own cluster with the
// clusters of their leaf tools. Non-participants report a single NoZone.
func deriveZones(ex *exportedGraph, clusters map[string]int) map[string][]int {
	resolve := func(id string) ([]string, bool) {
		constituents, ok := ex.caps[id]
		return constituents, ok
	}

	zones := make(map[string][]int, len(ex.nodes))
	for _, id := range ex.nodes {
		base, participating := clusters[id]
		if !participating {
			zones[id] = []int{NoZone}
			continue
		}

		set := map[int]struct{}{base: {}}
		if _, isCap := ex.caps[id]; isCap {
			for _, leaf := range FlattenWith(resolve, id) {
				if c, ok := clusters[leaf]; ok {
					set[c] = struct{}{}
				}
			}
		}

		out := make([]int, 0, len(set))
		for c := range set {
			out = append(out, c)
		}
		sort.Ints(out)
		zones[id] = out
	}
	return zones
}

// degenerateSpectral handles graphs too small or too disconnected to
// factorize: every participant lands in cluster 0.
func degenerateSpectral(ex *exportedGraph, participants []string) *SpectralResult {
	clusters := make(map[string]int, len(participants))
	for _, id := range participants {
		clusters[id] = 0
	}
	k := 0
	if len(participants) > 0 {
		k = 1
	}
	return &SpectralResult{
		K:        k,
		Clusters: clusters,
		Zones:    deriveZones(ex, clusters),
	}
}

// =============================================================================
// K-Means
// =============================================================================

// kmeans runs Lloyd's algorithm with farthest-point initialization seeded
// from the first row, which keeps assignments deterministic for a fixed
// input order. The PCG source only breaks exact ties.
func kmeans(rows [][]float64, k int, seed uint64) []int {
	n := len(rows)
	if k >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	centroids := initCentroids(rows, k)
	assignments := make([]int, n)

	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, row := range rows {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				d := sqDist(row, centroid)
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		counts := make([]int, k)
		next := make([][]float64, k)
		for c := range next {
			next[c] = make([]float64, len(rows[0]))
		}
		for i, row := range rows {
			c := assignments[i]
			counts[c]++
			for j, v := range row {
				next[c][j] += v
			}
		}
		for c := range next {
			if counts[c] == 0 {
				// Reseed an empty cluster from a random row so no
				// centroid is wasted.
				copy(next[c], rows[rng.IntN(n)])
				continue
			}
			for j := range next[c] {
				next[c][j] /= float64(counts[c])
			}
		}
		centroids = next
	}
	return assignments
}

// initCentroids spreads the initial centroids with the farthest-point
// heuristic starting from row 0.
func initCentroids(rows [][]float64, k int) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), rows[0]...))

	minDist := make([]float64, len(rows))
	for i := range minDist {
		minDist[i] = sqDist(rows[i], centroids[0])
	}

	for len(centroids) < k {
		farthest, farthestDist := 0, -1.0
		for i, d := range minDist {
			if d > farthestDist {
				farthest, farthestDist = i, d
			}
		}
		centroids = append(centroids, append([]float64(nil), rows[farthest]...))
		for i := range minDist {
			if d := sqDist(rows[i], centroids[len(centroids)-1]); d < minDist[i] {
				minDist[i] = d
			}
		}
	}
	return centroids
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

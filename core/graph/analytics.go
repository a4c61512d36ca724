package graph

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Analytics
// =============================================================================

const (
	spectralCacheCounters = 1e4
	spectralCacheMaxCost  = 256

	// decayEpsilon is the confidence below which a decayed edge is dropped
	// outright.
	decayEpsilon = 0.01
)

// Analytics is an immutable snapshot of derived graph metrics, published
// atomically by RecomputeAnalytics. Readers hold a snapshot for the duration
// of a decision so every score inside one decision comes from the same
// computation.
type Analytics struct {
	ComputedAt time.Time
	Version    uint64

	// Centrality holds weighted PageRank over the directed tool graph,
	// normalized so the best-connected node scores 1.0.
	Centrality map[string]float64

	// Community assigns each node a Louvain community id.
	Community map[string]int

	// ToolRank and CapabilityRank come from the bipartite random walk over
	// capability membership.
	ToolRank       map[string]float64
	CapabilityRank map[string]float64

	// Spectral is the auto-k spectral clustering of the bipartite structure.
	Spectral *SpectralResult
}

func emptyAnalytics() *Analytics {
	return &Analytics{
		ComputedAt:     time.Time{},
		Centrality:     map[string]float64{},
		Community:      map[string]int{},
		ToolRank:       map[string]float64{},
		CapabilityRank: map[string]float64{},
		Spectral:       &SpectralResult{Clusters: map[string]int{}, Zones: map[string][]int{}},
	}
}

// CentralityOf returns a node's PageRank, 0 when unranked. An unranked node
// is indistinguishable from a peripheral one on purpose: a cold graph must
// not bias scoring.
func (a *Analytics) CentralityOf(id string) float64 {
	return a.Centrality[id]
}

// CommunityOf returns a node's community id, -1 when unassigned.
func (a *Analytics) CommunityOf(id string) int {
	if c, ok := a.Community[id]; ok {
		return c
	}
	return -1
}

// ToolRankOf returns a tool's bipartite walk score, 0 when unranked.
func (a *Analytics) ToolRankOf(id string) float64 {
	return a.ToolRank[id]
}

// CapabilityRankOf returns a capability's bipartite walk score, 0 when
// unranked.
func (a *Analytics) CapabilityRankOf(id string) float64 {
	return a.CapabilityRank[id]
}

// ZonesOf returns the sorted spectral zone set for a node, nil when the node
// is unknown to the latest snapshot.
func (a *Analytics) ZonesOf(id string) []int {
	if a.Spectral == nil {
		return nil
	}
	zones, ok := a.Spectral.Zones[id]
	if !ok {
		return nil
	}
	out := make([]int, len(zones))
	copy(out, zones)
	return out
}

// SharedZone reports whether two nodes have at least one spectral zone in
// common. Zone sets are small and sorted, so a merge walk suffices.
func (a *Analytics) SharedZone(x, y string) bool {
	zx, zy := a.ZonesOf(x), a.ZonesOf(y)
	i, j := 0, 0
	for i < len(zx) && j < len(zy) {
		switch {
		case zx[i] == zy[j]:
			if zx[i] != NoZone {
				return true
			}
			i++
			j++
		case zx[i] < zy[j]:
			i++
		default:
			j++
		}
	}
	return false
}

// Analytics returns the latest published snapshot. Never nil.
func (s *Store) Analytics() *Analytics {
	return s.analytics.Load()
}

// RecomputeAnalytics decays stale edges, then recomputes centrality,
// communities, bipartite ranks, and spectral zones off the hot path and
// publishes the result with one atomic swap. The four metric families are
// independent, so they run concurrently; the first error (in practice only
// context cancellation) aborts the batch and leaves the previous snapshot in
// place.
func (s *Store) RecomputeAnalytics(ctx context.Context) (*Analytics, error) {
	start := time.Now()
	s.decayEdges()

	ex := s.exportForAnalytics()
	version := s.version.Load()

	next := &Analytics{
		ComputedAt: start,
		Version:    version,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		next.Centrality = computePageRank(ex, s.cfg.Damping)
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		next.Community = computeCommunities(ex, s.cfg.Seed)
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		next.ToolRank, next.CapabilityRank = hyperRank(ex, s.cfg.Damping)
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		next.Spectral = s.spectralFor(func() *exportedGraph { return ex }, 0, version)
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("analytics recomputation aborted",
			"version", version,
			"error", err)
		return nil, err
	}

	s.analytics.Store(next)
	s.logger.Debug("analytics recomputed",
		"version", version,
		"nodes", len(ex.nodes),
		"clusters", next.Spectral.K,
		"duration", time.Since(start))
	return next, nil
}

// SpectralClusters returns the spectral clustering at an explicit k, served
// from the TTL cache when the graph version and k match a prior computation.
// k <= 0 selects k by eigengap.
func (s *Store) SpectralClusters(k int) *SpectralResult {
	return s.spectralFor(s.exportForAnalytics, k, s.version.Load())
}

// spectralFor consults the version-keyed TTL cache before paying for an
// eigendecomposition. The export is lazy so cache hits skip the graph copy
// too.
func (s *Store) spectralFor(export func() *exportedGraph, k int, version uint64) *SpectralResult {
	key := fmt.Sprintf("spectral:%d:%d", version, k)
	if s.spectralCache != nil {
		if hit, ok := s.spectralCache.Get(key); ok {
			if result, ok := hit.(*SpectralResult); ok {
				return result
			}
		}
	}
	result := computeSpectral(export(), k, s.cfg.MaxSpectralK, s.cfg.Seed)
	if s.spectralCache != nil {
		s.spectralCache.SetWithTTL(key, result, 1, s.cfg.SpectralTTL)
		// Sets apply through a buffer; wait so the next lookup hits.
		s.spectralCache.Wait()
	}
	return result
}

// InvalidateAnalytics drops the published snapshot and the spectral cache.
// Queries fall back to neutral values until the next recomputation.
func (s *Store) InvalidateAnalytics() {
	s.analytics.Store(emptyAnalytics())
	if s.spectralCache != nil {
		s.spectralCache.Clear()
	}
}

// decayEdges multiplies every sub-floor edge's confidence by the decay
// factor and removes edges that have decayed to noise. Runs under the write
// lock so exports taken afterwards see post-decay weights.
func (s *Store) decayEdges() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var decayed, removed int
	for key, e := range s.edges {
		if e.Confidence >= s.cfg.MinConfidence {
			continue
		}
		e.Confidence *= s.cfg.DecayFactor
		decayed++
		if e.Confidence < decayEpsilon {
			delete(s.edges, key)
			delete(s.out[key.from], key.to)
			delete(s.in[key.to], key.from)
			removed++
		}
	}
	if decayed > 0 {
		s.version.Add(1)
		s.logger.Debug("edge decay applied", "decayed", decayed, "removed", removed)
	}
}

// Package engine wires the graph store, candidate scorer, exploration
// manager, suggester, trace store, and replay trainer into the single
// decision surface an agentic runtime calls.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/adalundhe/rudder/core/config"
	"github.com/adalundhe/rudder/core/embedding"
	"github.com/adalundhe/rudder/core/events"
	"github.com/adalundhe/rudder/core/exploration"
	"github.com/adalundhe/rudder/core/graph"
	"github.com/adalundhe/rudder/core/lexical"
	"github.com/adalundhe/rudder/core/permission"
	"github.com/adalundhe/rudder/core/replay"
	"github.com/adalundhe/rudder/core/scoring"
	"github.com/adalundhe/rudder/core/suggest"
	"github.com/adalundhe/rudder/core/trace"
)

// =============================================================================
// Engine
// =============================================================================

// Engine is the decision engine facade. All methods are safe for
// concurrent use; the hot path (Suggest, PredictNextCandidates,
// ThresholdFor) never blocks on I/O once embeddings are resolved.
type Engine struct {
	cfg config.Config

	graph      *graph.Store
	scorer     *scoring.Scorer
	classifier *permission.Classifier
	explore    *exploration.Manager
	suggester  *suggest.Suggester
	traces     trace.Store
	provider   embedding.Provider
	lexical    *lexical.Index
	trainer    *replay.Trainer
	bus        *events.Bus

	// cache memoizes whole responses per request signature. Any event
	// that can change a decision purges it.
	cache *expirable.LRU[string, *Response]

	// outcomes counts recorded outcomes to trigger training every N.
	outcomes atomic.Uint64

	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	training  sync.WaitGroup

	logger *slog.Logger
}

// New builds an engine from a validated configuration. Invalid
// configuration is the one startup condition that fails hard.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	classifier, err := buildClassifier(cfg, opts, logger)
	if err != nil {
		return nil, err
	}

	index, err := lexical.NewIndex(logger)
	if err != nil {
		return nil, err
	}

	provider := opts.Provider
	if provider == nil {
		provider = embedding.NewLocal(embedding.DefaultDimension)
	}

	traces := opts.Traces
	if traces == nil {
		traces = trace.NewMemoryStore(trace.MemoryConfig{
			Seed:   cfg.Replay.Seed,
			Logger: logger,
		})
	}

	store := graph.NewStore(graph.Config{
		HopCap:            cfg.Graph.HopCap,
		Damping:           cfg.Graph.Damping,
		MinConfidence:     cfg.Graph.MinConfidence,
		DecayFactor:       cfg.Graph.DecayFactor,
		ReinforcementRate: cfg.Graph.ReinforcementRate,
		Seed:              cfg.Graph.Seed,
		SpectralTTL:       cfg.Graph.SpectralTTL,
		MaxSpectralK:      cfg.Graph.MaxSpectralK,
		Logger:            logger,
	})

	scorer := scoring.NewScorer(store, scoring.Config{
		LearningRate: cfg.Scoring.LearningRate,
		Logger:       logger,
	})

	explore := exploration.NewManager(exploration.Config{
		SafeBar:        cfg.Exploration.SafeBar,
		ModerateBar:    cfg.Exploration.ModerateBar,
		DangerousBar:   cfg.Exploration.DangerousBar,
		PassiveMargin:  cfg.Exploration.PassiveMargin,
		UCBCoefficient: cfg.Exploration.UCBCoefficient,
		PosteriorPull:  cfg.Exploration.PosteriorPull,
		MinThreshold:   cfg.Exploration.MinThreshold,
		Seed:           cfg.Exploration.Seed,
		Logger:         logger,
	})

	suggester := suggest.NewSuggester(scorer, store, classifier, explore, suggest.Config{
		RelevantTools: cfg.Suggest.RelevantTools,
		SpectralBoost: cfg.Suggest.SpectralBoost,
		MaxCandidates: cfg.Suggest.MaxCandidates,
		PlanSize:      cfg.Suggest.PlanSize,
		AlwaysConfirm: cfg.Suggest.AlwaysConfirm,
		Logger:        logger,
	})

	trainer := replay.NewTrainer(scorer, traces, store, provider, replay.Config{
		MinTraces: cfg.Replay.MinTraces,
		MaxTraces: cfg.Replay.MaxTraces,
		BatchSize: cfg.Replay.BatchSize,
		Seed:      cfg.Replay.Seed,
		Logger:    logger,
	})

	bus := events.NewBus(events.Config{
		Buffer:         cfg.Events.Buffer,
		DebounceWindow: cfg.Events.DebounceWindow,
	})
	bus.Start()

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        *cfg,
		graph:      store,
		scorer:     scorer,
		classifier: classifier,
		explore:    explore,
		suggester:  suggester,
		traces:     traces,
		provider:   provider,
		lexical:    index,
		trainer:    trainer,
		bus:        bus,
		cache:      expirable.NewLRU[string, *Response](cfg.Suggest.CacheSize, nil, cfg.Suggest.CacheTTL),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}

	logger.Debug("engine ready",
		"permission_path", cfg.PermissionPath,
		"cache_size", cfg.Suggest.CacheSize,
		"train_every", cfg.Replay.TrainEvery)
	return e, nil
}

// buildClassifier resolves the permission descriptor: a configured file
// wins, then a programmatic descriptor, then an empty one that classifies
// everything as unknown risk.
func buildClassifier(cfg *config.Config, opts Options, logger *slog.Logger) (*permission.Classifier, error) {
	if cfg.PermissionPath != "" {
		return permission.LoadClassifier(cfg.PermissionPath, logger)
	}
	var d permission.Descriptor
	if opts.Descriptor != nil {
		d = *opts.Descriptor
	}
	return permission.NewClassifier(d, logger)
}

// =============================================================================
// Registration
// =============================================================================

// RegisterTool adds or updates a callable tool. A missing embedding is
// resolved from the tool's name and description through the provider;
// registration is where embedding I/O is allowed to block, never the
// decision path.
func (e *Engine) RegisterTool(ctx context.Context, tool graph.ToolNode) error {
	if err := e.closedErr(); err != nil {
		return err
	}
	if len(tool.Embedding) == 0 {
		tool.Embedding = e.resolveEmbedding(ctx, candidateText(tool.ID, tool.Name, tool.Description))
	}
	if err := e.graph.UpsertTool(tool); err != nil {
		return err
	}
	e.indexCandidate(tool.ID, tool.Name, tool.Description)
	e.cache.Purge()
	return nil
}

// RegisterCapability adds or updates a composed capability.
func (e *Engine) RegisterCapability(ctx context.Context, capability graph.CapabilityNode) error {
	if err := e.closedErr(); err != nil {
		return err
	}
	if len(capability.Embedding) == 0 {
		capability.Embedding = e.resolveEmbedding(ctx, candidateText(capability.ID, capability.Name, capability.Description))
	}
	if err := e.graph.UpsertCapability(capability); err != nil {
		return err
	}
	e.indexCandidate(capability.ID, capability.Name, capability.Description)
	e.cache.Purge()
	return nil
}

// resolveEmbedding embeds candidate text, degrading to no embedding on
// provider failure. A candidate without an embedding still ranks through
// its structural and relational heads.
func (e *Engine) resolveEmbedding(ctx context.Context, text string) []float32 {
	if text == "" {
		return nil
	}
	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		e.logger.Warn("embedding resolution failed", "error", err)
		return nil
	}
	return vec
}

// indexCandidate mirrors a candidate into the lexical fallback index. A
// failed index write degrades the fallback, not the engine.
func (e *Engine) indexCandidate(id, name, description string) {
	err := e.lexical.Upsert(lexical.Document{ID: id, Name: name, Description: description})
	if err != nil {
		e.logger.Warn("lexical index update failed", "candidate", id, "error", err)
	}
}

// candidateText is the text a candidate embeds and indexes under.
func candidateText(id, name, description string) string {
	text := strings.TrimSpace(name + " " + description)
	if text == "" {
		return id
	}
	return text
}

// =============================================================================
// Analytics
// =============================================================================

// RecomputeAnalytics refreshes centrality, communities, bipartite ranks,
// and spectral zones, then drops memoized responses built on the old
// snapshot.
func (e *Engine) RecomputeAnalytics(ctx context.Context) error {
	if err := e.closedErr(); err != nil {
		return err
	}
	start := time.Now()
	if _, err := e.graph.RecomputeAnalytics(ctx); err != nil {
		return err
	}
	e.cache.Purge()

	tools, capabilities := e.graph.NodeCount()
	e.bus.Publish(events.AnalyticsRecomputed(tools, capabilities, time.Since(start)))
	return nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Close stops the engine: in-flight training is canceled and waited for
// so partial priority updates flush, then the event bus drains. Close is
// idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.cancel()
		e.training.Wait()
		e.bus.Close()
		if err := e.lexical.Close(); err != nil {
			e.logger.Warn("lexical index close failed", "error", err)
		}
		e.logger.Debug("engine closed")
	})
}

func (e *Engine) closedErr() error {
	if e.ctx.Err() != nil {
		return ErrClosed
	}
	return nil
}

// Bus exposes the event bus for subscribers.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Graph exposes the underlying graph store.
func (e *Engine) Graph() *graph.Store {
	return e.graph
}

// Scorer exposes the underlying candidate scorer.
func (e *Engine) Scorer() *scoring.Scorer {
	return e.scorer
}

// Traces exposes the trace store.
func (e *Engine) Traces() trace.Store {
	return e.traces
}

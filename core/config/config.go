package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid indicates a configuration that failed validation. Startup
// treats this as fatal; a running process keeps its previous snapshot.
var ErrInvalid = errors.New("invalid configuration")

var configValidate = validator.New()

// =============================================================================
// Sections
// =============================================================================

// GraphConfig tunes the graph store and its analytics.
type GraphConfig struct {
	HopCap            int           `yaml:"hop_cap" validate:"gte=1,lte=16"`
	Damping           float64       `yaml:"damping" validate:"gt=0,lt=1"`
	MinConfidence     float64       `yaml:"min_confidence" validate:"gt=0,lte=1"`
	DecayFactor       float64       `yaml:"decay_factor" validate:"gt=0,lte=1"`
	ReinforcementRate float64       `yaml:"reinforcement_rate" validate:"gt=0,lte=1"`
	SpectralTTL       time.Duration `yaml:"spectral_ttl" validate:"gt=0"`
	MaxSpectralK      int           `yaml:"max_spectral_k" validate:"gte=2,lte=64"`
	Seed              uint64        `yaml:"seed" validate:"gte=1"`
}

// ScoringConfig tunes the candidate scorer.
type ScoringConfig struct {
	LearningRate float64 `yaml:"learning_rate" validate:"gt=0,lte=1"`
}

// ExplorationConfig tunes Thompson-sampling thresholds.
type ExplorationConfig struct {
	SafeBar        float64 `yaml:"safe_bar" validate:"gt=0,lt=1"`
	ModerateBar    float64 `yaml:"moderate_bar" validate:"gt=0,lt=1"`
	DangerousBar   float64 `yaml:"dangerous_bar" validate:"gt=0,lt=1"`
	PassiveMargin  float64 `yaml:"passive_margin" validate:"gte=0,lte=0.5"`
	UCBCoefficient float64 `yaml:"ucb_coefficient" validate:"gt=0,lte=2"`
	PosteriorPull  float64 `yaml:"posterior_pull" validate:"gt=0,lte=1"`
	MinThreshold   float64 `yaml:"min_threshold" validate:"gt=0,lt=1"`
	Seed           uint64  `yaml:"seed" validate:"gte=1"`
}

// SuggestConfig tunes ranking, planning, and the suggestion cache.
type SuggestConfig struct {
	RelevantTools int     `yaml:"relevant_tools" validate:"gte=1,lte=64"`
	SpectralBoost float64 `yaml:"spectral_boost" validate:"gte=0,lte=1"`
	MaxCandidates int     `yaml:"max_candidates" validate:"gte=1,lte=100"`
	PlanSize      int     `yaml:"plan_size" validate:"gte=1,lte=32"`
	AlwaysConfirm bool    `yaml:"always_confirm"`

	// CacheSize and CacheTTL bound the engine's suggestion memoization.
	CacheSize int           `yaml:"cache_size" validate:"gte=1,lte=100000"`
	CacheTTL  time.Duration `yaml:"cache_ttl" validate:"gt=0"`
}

// ReplayConfig tunes the replay trainer and when the engine triggers it.
type ReplayConfig struct {
	MinTraces  int    `yaml:"min_traces" validate:"gte=1"`
	MaxTraces  int    `yaml:"max_traces" validate:"gtefield=MinTraces"`
	BatchSize  int    `yaml:"batch_size" validate:"gte=1,lte=4096"`
	TrainEvery int    `yaml:"train_every" validate:"gte=1"`
	Seed       uint64 `yaml:"seed" validate:"gte=1"`
}

// EventsConfig tunes the decision/telemetry bus.
type EventsConfig struct {
	Buffer         int           `yaml:"buffer" validate:"gte=1,lte=1000000"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
}

// =============================================================================
// Config
// =============================================================================

// Config is the full engine configuration. Snapshots are immutable;
// loading produces a fresh value and swaps it in atomically.
type Config struct {
	// PermissionPath locates the YAML permission descriptor. Empty means
	// the descriptor is supplied programmatically.
	PermissionPath string `yaml:"permission_path"`

	Graph       GraphConfig       `yaml:"graph"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Exploration ExplorationConfig `yaml:"exploration"`
	Suggest     SuggestConfig     `yaml:"suggest"`
	Replay      ReplayConfig      `yaml:"replay"`
	Events      EventsConfig      `yaml:"events"`
}

// Default returns the baseline configuration every load starts from.
func Default() *Config {
	return &Config{
		Graph: GraphConfig{
			HopCap:            4,
			Damping:           0.85,
			MinConfidence:     0.15,
			DecayFactor:       0.8,
			ReinforcementRate: 0.3,
			SpectralTTL:       5 * time.Minute,
			MaxSpectralK:      8,
			Seed:              1,
		},
		Scoring: ScoringConfig{
			LearningRate: 0.05,
		},
		Exploration: ExplorationConfig{
			SafeBar:        0.30,
			ModerateBar:    0.50,
			DangerousBar:   0.75,
			PassiveMargin:  0.10,
			UCBCoefficient: 0.30,
			PosteriorPull:  0.20,
			MinThreshold:   0.05,
			Seed:           1,
		},
		Suggest: SuggestConfig{
			RelevantTools: 5,
			SpectralBoost: 0.25,
			MaxCandidates: 10,
			PlanSize:      4,
			CacheSize:     512,
			CacheTTL:      30 * time.Second,
		},
		Replay: ReplayConfig{
			MinTraces:  1,
			MaxTraces:  32,
			BatchSize:  64,
			TrainEvery: 8,
			Seed:       1,
		},
		Events: EventsConfig{
			Buffer:         1024,
			DebounceWindow: 100 * time.Millisecond,
		},
	}
}

// Validate checks structural tags plus the cross-field constraints tags
// cannot express.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Exploration.SafeBar >= c.Exploration.ModerateBar ||
		c.Exploration.ModerateBar >= c.Exploration.DangerousBar {
		return fmt.Errorf("%w: exploration bars must strictly increase with risk", ErrInvalid)
	}
	return nil
}

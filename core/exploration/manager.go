package exploration

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/adalundhe/rudder/core/permission"
)

// =============================================================================
// Decision Modes
// =============================================================================

// Mode selects how aggressively the manager trades exploration against
// safety.
type Mode int

const (
	// ModePassive omits the exploration bonus and holds a higher fixed
	// bar. This is the default serving mode.
	ModePassive Mode = iota

	// ModeActive lowers the bar for under-sampled candidates via an
	// upper-confidence-bound bonus, shrinking as evidence accumulates.
	ModeActive
)

func (m Mode) String() string {
	if m == ModeActive {
		return "active"
	}
	return "passive"
}

// =============================================================================
// Manager
// =============================================================================

// Decision is the threshold verdict for one candidate.
type Decision struct {
	// Threshold is the score a candidate must reach to auto-execute.
	Threshold float64

	// Estimate is the posterior success estimate used: a Thompson draw in
	// active mode, the closed-form mean in passive mode.
	Estimate float64

	// Bonus is the applied exploration bonus (zero in passive mode).
	Bonus float64

	// Tier echoes the risk tier the threshold was derived from.
	Tier permission.Tier

	// RequiresApproval is set for unknown-tier candidates, which bypass
	// sampling entirely.
	RequiresApproval bool
}

// State is an exported view of one candidate's Beta posterior.
type State struct {
	Alpha float64
	Beta  float64

	// Mean is alpha/(alpha+beta).
	Mean float64

	// Credible95 is the central 95% credible interval [low, high].
	Credible95 [2]float64

	// Samples is the number of recorded outcomes.
	Samples int64
}

// Config tunes threshold policy. Zero values fall back to defaults.
type Config struct {
	// SafeBar, ModerateBar, DangerousBar are the per-tier baseline
	// acceptance bars in active mode. Defaults 0.30 / 0.50 / 0.75.
	SafeBar      float64
	ModerateBar  float64
	DangerousBar float64

	// PassiveMargin is added to the baseline in passive mode. Default 0.10.
	PassiveMargin float64

	// UCBCoefficient scales the exploration bonus 1/sqrt(alpha+beta).
	// Default 0.30.
	UCBCoefficient float64

	// PosteriorPull scales how far a strong or weak posterior moves the
	// bar away from the baseline in active mode. Default 0.20.
	PosteriorPull float64

	// MinThreshold floors the effective threshold so exploration can never
	// drive the bar to zero. Default 0.05.
	MinThreshold float64

	// Seed drives the Beta sampler. Default 1.
	Seed uint64

	// Logger receives outcome and reset logs. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SafeBar <= 0 {
		c.SafeBar = 0.30
	}
	if c.ModerateBar <= 0 {
		c.ModerateBar = 0.50
	}
	if c.DangerousBar <= 0 {
		c.DangerousBar = 0.75
	}
	if c.PassiveMargin <= 0 {
		c.PassiveMargin = 0.10
	}
	if c.UCBCoefficient <= 0 {
		c.UCBCoefficient = 0.30
	}
	if c.PosteriorPull <= 0 {
		c.PosteriorPull = 0.20
	}
	if c.MinThreshold <= 0 {
		c.MinThreshold = 0.05
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type betaState struct {
	alpha   float64
	beta    float64
	samples int64
}

// Manager maintains one Beta posterior per candidate and turns posteriors
// into acceptance thresholds. Every candidate starts at the uniform
// Beta(1,1) prior, so a never-seen id yields a valid, non-degenerate
// threshold immediately.
type Manager struct {
	mu     sync.Mutex
	states map[string]*betaState
	src    *rand.PCG
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a manager with no recorded outcomes.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		states: make(map[string]*betaState),
		src:    rand.NewPCG(cfg.Seed, cfg.Seed^0xda3e39cb94b95bdb),
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// Threshold computes the acceptance bar for one candidate. Unknown-tier
// candidates are routed straight to approval without consulting the
// posterior. The sampler is the library Beta variate (two Gamma draws
// internally), which stays numerically stable for small pseudo-counts.
func (m *Manager) Threshold(id string, tier permission.Tier, mode Mode) Decision {
	if tier == permission.TierUnknown {
		return Decision{
			Threshold:        1.0,
			Estimate:         0.5,
			Tier:             tier,
			RequiresApproval: true,
		}
	}

	m.mu.Lock()
	alpha, beta, _ := m.lookupLocked(id)
	dist := distuv.Beta{Alpha: alpha, Beta: beta, Src: m.src}

	var estimate float64
	if mode == ModeActive {
		estimate = dist.Rand()
	} else {
		estimate = dist.Mean()
	}
	total := alpha + beta
	m.mu.Unlock()

	base := m.baseBar(tier)
	decision := Decision{Estimate: estimate, Tier: tier}

	if mode == ModeActive {
		decision.Bonus = m.cfg.UCBCoefficient / math.Sqrt(total)
		pull := m.cfg.PosteriorPull * (estimate - 0.5)
		decision.Threshold = clamp(base-pull-decision.Bonus, m.cfg.MinThreshold, 1.0)
	} else {
		decision.Threshold = clamp(base+m.cfg.PassiveMargin, m.cfg.MinThreshold, 1.0)
	}
	return decision
}

// RecordOutcome applies one Bernoulli observation. Updates are single
// increments, so they commute and may arrive out of order.
func (m *Manager) RecordOutcome(id string, success bool) {
	m.mu.Lock()
	state := m.stateLocked(id)
	if success {
		state.alpha++
	} else {
		state.beta++
	}
	state.samples++
	alpha, beta := state.alpha, state.beta
	m.mu.Unlock()

	m.logger.Debug("exploration outcome recorded",
		"candidate", id,
		"success", success,
		"alpha", alpha,
		"beta", beta)
}

// Snapshot returns the posterior view for one candidate, the uniform prior
// when never seen.
func (m *Manager) Snapshot(id string) State {
	m.mu.Lock()
	alpha, beta, samples := m.lookupLocked(id)
	m.mu.Unlock()

	dist := distuv.Beta{Alpha: alpha, Beta: beta}
	return State{
		Alpha:      alpha,
		Beta:       beta,
		Mean:       dist.Mean(),
		Credible95: [2]float64{dist.Quantile(0.025), dist.Quantile(0.975)},
		Samples:    samples,
	}
}

// States returns every tracked candidate's posterior, sorted by id, for
// persistence and inspection.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	out := make(map[string]State, len(ids))
	for _, id := range ids {
		out[id] = m.Snapshot(id)
	}
	return out
}

// Restore installs persisted posteriors, replacing current state for the
// given ids.
func (m *Manager) Restore(states map[string]State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range states {
		if s.Alpha < 1 || s.Beta < 1 {
			continue
		}
		m.states[id] = &betaState{alpha: s.Alpha, beta: s.Beta, samples: s.Samples}
	}
}

// Reset drops a candidate's posterior back to the uniform prior. This is an
// administrative action, never part of normal serving.
func (m *Manager) Reset(id string) {
	m.mu.Lock()
	delete(m.states, id)
	m.mu.Unlock()
	m.logger.Info("exploration state reset", "candidate", id)
}

// stateLocked returns the mutable posterior, creating it at the uniform
// prior on first write.
func (m *Manager) stateLocked(id string) *betaState {
	state, ok := m.states[id]
	if !ok {
		state = &betaState{alpha: 1, beta: 1}
		m.states[id] = state
	}
	return state
}

// lookupLocked reads posterior parameters without materializing state, so
// queries about never-seen candidates leave no trace.
func (m *Manager) lookupLocked(id string) (alpha, beta float64, samples int64) {
	if state, ok := m.states[id]; ok {
		return state.alpha, state.beta, state.samples
	}
	return 1, 1, 0
}

func (m *Manager) baseBar(tier permission.Tier) float64 {
	switch tier {
	case permission.TierSafe:
		return m.cfg.SafeBar
	case permission.TierModerate:
		return m.cfg.ModerateBar
	default:
		return m.cfg.DangerousBar
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Manager
// =============================================================================

// Manager owns the live configuration snapshot. Load merges defaults,
// the optional YAML file, and RUDDER_* environment overrides, validates
// the result, and publishes it with one atomic swap, so readers never
// observe a half-applied reload.
type Manager struct {
	path    string
	current atomic.Pointer[Config]

	watcherMu sync.RWMutex
	watchers  []func(*Config)

	stopWatch chan struct{}
	watchOnce sync.Once

	logger *slog.Logger
}

// NewManager creates a manager seeded with defaults. An empty path means
// no file layer; defaults and environment still apply.
func NewManager(path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		path:      path,
		stopWatch: make(chan struct{}),
		logger:    logger,
	}
	m.current.Store(Default())
	return m
}

// Get returns the current snapshot. Callers must treat it as read-only.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Load builds a fresh snapshot from defaults, file, and environment. On
// any error the previous snapshot stays live.
func (m *Manager) Load() error {
	cfg := Default()

	if err := m.loadFile(cfg); err != nil {
		return fmt.Errorf("config file %s: %w", m.path, err)
	}
	m.applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.current.Store(cfg)
	m.notifyWatchers(cfg)
	m.logger.Debug("configuration loaded", "path", m.path)
	return nil
}

// Reload is Load under its watcher-facing name.
func (m *Manager) Reload() error {
	return m.Load()
}

// loadFile merges the YAML file over cfg. A missing file is not an
// error; an unreadable or unparseable one is.
func (m *Manager) loadFile(cfg *Config) error {
	if m.path == "" {
		return nil
	}
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, cfg)
}

// applyEnvironment layers RUDDER_* overrides on top of file values.
// Unparseable values are ignored rather than fatal; validation still
// runs on whatever survives.
func (m *Manager) applyEnvironment(cfg *Config) {
	if v := os.Getenv("RUDDER_PERMISSION_PATH"); v != "" {
		cfg.PermissionPath = v
	}
	if v := os.Getenv("RUDDER_GRAPH_HOP_CAP"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Graph.HopCap = n
		}
	}
	if v := os.Getenv("RUDDER_GRAPH_DAMPING"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Graph.Damping = f
		}
	}
	if v := os.Getenv("RUDDER_SCORING_LEARNING_RATE"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Scoring.LearningRate = f
		}
	}
	if v := os.Getenv("RUDDER_EXPLORATION_UCB"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Exploration.UCBCoefficient = f
		}
	}
	if v := os.Getenv("RUDDER_SUGGEST_MAX_CANDIDATES"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Suggest.MaxCandidates = n
		}
	}
	if v := os.Getenv("RUDDER_SUGGEST_ALWAYS_CONFIRM"); v != "" {
		cfg.Suggest.AlwaysConfirm = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("RUDDER_REPLAY_TRAIN_EVERY"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Replay.TrainEvery = n
		}
	}
	if v := os.Getenv("RUDDER_REPLAY_MAX_TRACES"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Replay.MaxTraces = n
		}
	}
	if v := os.Getenv("RUDDER_EVENTS_BUFFER"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Events.Buffer = n
		}
	}
	if v := os.Getenv("RUDDER_SEED"); v != "" {
		if n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil && n > 0 {
			cfg.Graph.Seed = n
			cfg.Exploration.Seed = n
			cfg.Replay.Seed = n
		}
	}
}

// OnChange registers a callback invoked with each newly published
// snapshot. Callbacks run on the loading goroutine and must not block.
func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

// Close stops the file watcher, if one is running.
func (m *Manager) Close() error {
	m.watchOnce.Do(func() {
		close(m.stopWatch)
	})
	return nil
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

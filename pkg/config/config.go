package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig controls logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches output from human-readable console to JSON lines.
	JSON bool `yaml:"json"`
}

// PlannerConfig controls threshold planning.
type PlannerConfig struct {
	// EventBudget is the maximum number of boundaries per plan. The
	// monitoring platform enforces a hard ceiling per schedule; plans above
	// it are rejected outright.
	EventBudget int `yaml:"eventBudget"`

	// Increment is the spacing between consecutive boundaries.
	Increment time.Duration `yaml:"increment"`
}

// IngestConfig controls observer-side event acceptance.
type IngestConfig struct {
	// SuppressionWindow drops any event observed within this window of the
	// entity's last accepted event. Protects against the all-boundaries-fire-
	// at-once failure mode after a bad plan.
	SuppressionWindow time.Duration `yaml:"suppressionWindow"`

	// RetryQueueMax bounds the in-process queue of facts whose durable write
	// failed. Overflow drops the oldest entry and counts it.
	RetryQueueMax int `yaml:"retryQueueMax"`

	// InvocationBudget is the wall-clock budget for one observer invocation.
	InvocationBudget time.Duration `yaml:"invocationBudget"`
}

// LedgerConfig controls reconciliation.
type LedgerConfig struct {
	// ReorderTimeout is how long an out-of-order fact may sit buffered before
	// the ledger force-resynchronizes the sequence with a logged gap.
	ReorderTimeout time.Duration `yaml:"reorderTimeout"`

	// EpochBoundary is the local time of day ("15:04") at which totals roll
	// into the day aggregate and reset.
	EpochBoundary string `yaml:"epochBoundary"`
}

// HealthConfig controls liveness inference and gap detection.
type HealthConfig struct {
	// LivenessStaleAfter marks the pipeline degraded when the observer's
	// liveness marker is older than this.
	LivenessStaleAfter time.Duration `yaml:"livenessStaleAfter"`

	// CheckInterval is the health monitor's scan cadence.
	CheckInterval time.Duration `yaml:"checkInterval"`

	// ActivityWindow is how long an entity may stay silent during active
	// device use before a gap is suspected.
	ActivityWindow time.Duration `yaml:"activityWindow"`

	// GapHistory bounds the retained gap list.
	GapHistory int `yaml:"gapHistory"`
}

// LivenessConfig controls the observer's heartbeat.
type LivenessConfig struct {
	// Interval between liveness marker writes.
	Interval time.Duration `yaml:"interval"`
}

// RecoveryConfig controls replan triggering.
type RecoveryConfig struct {
	// ReplanMinInterval rate-limits non-forced replans per entity. This is
	// the brake on the replan-burst-replan feedback loop.
	ReplanMinInterval time.Duration `yaml:"replanMinInterval"`
}

// SignalConfig controls the observer-to-coordinator wake-up channel.
type SignalConfig struct {
	// FallbackPoll is the coordinator's store re-read cadence when no wake-up
	// arrives. A missed notification must never strand pending facts.
	FallbackPoll time.Duration `yaml:"fallbackPoll"`
}

// Config is the full daemon configuration.
//
// All duration fields accept standard Go duration strings like "30s", "5m".
type Config struct {
	// DataDir holds the shared store and the wake-up signal file.
	DataDir string `yaml:"dataDir"`

	// APIAddr is the listen address for the HTTP API.
	APIAddr string `yaml:"apiAddr"`

	Log      LogConfig      `yaml:"log"`
	Planner  PlannerConfig  `yaml:"planner"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Health   HealthConfig   `yaml:"health"`
	Liveness LivenessConfig `yaml:"liveness"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Signal   SignalConfig   `yaml:"signal"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		DataDir: "./stint-data",
		APIAddr: "127.0.0.1:7420",
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
		Planner: PlannerConfig{
			EventBudget: 20,
			Increment:   60 * time.Second,
		},
		Ingest: IngestConfig{
			SuppressionWindow: 2 * time.Second,
			RetryQueueMax:     32,
			InvocationBudget:  3 * time.Second,
		},
		Ledger: LedgerConfig{
			ReorderTimeout: 120 * time.Second,
			EpochBoundary:  "00:00",
		},
		Health: HealthConfig{
			LivenessStaleAfter: 120 * time.Second,
			CheckInterval:      30 * time.Second,
			ActivityWindow:     10 * time.Minute,
			GapHistory:         128,
		},
		Liveness: LivenessConfig{
			Interval: 20 * time.Second,
		},
		Recovery: RecoveryConfig{
			ReplanMinInterval: 5 * time.Minute,
		},
		Signal: SignalConfig{
			FallbackPoll: 15 * time.Second,
		},
	}
}

// SetDefaults fills zero-valued fields with defaults.
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.DataDir == "" {
		cfg.DataDir = defaults.DataDir
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = defaults.APIAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Planner.EventBudget == 0 {
		cfg.Planner.EventBudget = defaults.Planner.EventBudget
	}
	if cfg.Planner.Increment == 0 {
		cfg.Planner.Increment = defaults.Planner.Increment
	}
	if cfg.Ingest.SuppressionWindow == 0 {
		cfg.Ingest.SuppressionWindow = defaults.Ingest.SuppressionWindow
	}
	if cfg.Ingest.RetryQueueMax == 0 {
		cfg.Ingest.RetryQueueMax = defaults.Ingest.RetryQueueMax
	}
	if cfg.Ingest.InvocationBudget == 0 {
		cfg.Ingest.InvocationBudget = defaults.Ingest.InvocationBudget
	}
	if cfg.Ledger.ReorderTimeout == 0 {
		cfg.Ledger.ReorderTimeout = defaults.Ledger.ReorderTimeout
	}
	if cfg.Ledger.EpochBoundary == "" {
		cfg.Ledger.EpochBoundary = defaults.Ledger.EpochBoundary
	}
	if cfg.Health.LivenessStaleAfter == 0 {
		cfg.Health.LivenessStaleAfter = defaults.Health.LivenessStaleAfter
	}
	if cfg.Health.CheckInterval == 0 {
		cfg.Health.CheckInterval = defaults.Health.CheckInterval
	}
	if cfg.Health.ActivityWindow == 0 {
		cfg.Health.ActivityWindow = defaults.Health.ActivityWindow
	}
	if cfg.Health.GapHistory == 0 {
		cfg.Health.GapHistory = defaults.Health.GapHistory
	}
	if cfg.Liveness.Interval == 0 {
		cfg.Liveness.Interval = defaults.Liveness.Interval
	}
	if cfg.Recovery.ReplanMinInterval == 0 {
		cfg.Recovery.ReplanMinInterval = defaults.Recovery.ReplanMinInterval
	}
	if cfg.Signal.FallbackPoll == 0 {
		cfg.Signal.FallbackPoll = defaults.Signal.FallbackPoll
	}
}

// Validate rejects configurations that break accounting invariants.
func (cfg *Config) Validate() error {
	// Rule 1: a plan must contain at least one boundary
	if cfg.Planner.EventBudget < 1 {
		return fmt.Errorf("EventBudget must be >= 1, got %d", cfg.Planner.EventBudget)
	}

	// Rule 2: boundaries are whole seconds apart at minimum
	if cfg.Planner.Increment < time.Second {
		return fmt.Errorf("Increment (%v) must be >= 1s", cfg.Planner.Increment)
	}

	// Rule 3: suppression must be shorter than the increment, or legitimate
	// consecutive crossings would be suppressed
	if cfg.Ingest.SuppressionWindow >= cfg.Planner.Increment {
		return fmt.Errorf(
			"SuppressionWindow (%v) must be < Increment (%v) to keep legitimate crossings",
			cfg.Ingest.SuppressionWindow, cfg.Planner.Increment,
		)
	}

	// Rule 4: liveness staleness must allow several missed beats
	if cfg.Health.LivenessStaleAfter < 2*cfg.Liveness.Interval {
		return fmt.Errorf(
			"LivenessStaleAfter (%v) must be >= 2*Liveness.Interval (%v) to tolerate one missed beat",
			cfg.Health.LivenessStaleAfter, cfg.Liveness.Interval,
		)
	}

	// Rule 5: the health scan must run often enough to notice staleness
	if cfg.Health.CheckInterval > cfg.Health.LivenessStaleAfter {
		return fmt.Errorf(
			"Health.CheckInterval (%v) must be <= LivenessStaleAfter (%v)",
			cfg.Health.CheckInterval, cfg.Health.LivenessStaleAfter,
		)
	}

	// Rule 6: replan rate limit sanity
	if cfg.Recovery.ReplanMinInterval <= 0 {
		return fmt.Errorf("ReplanMinInterval must be > 0, got %v", cfg.Recovery.ReplanMinInterval)
	}

	// Rule 7: reorder timeout sanity
	if cfg.Ledger.ReorderTimeout <= 0 {
		return fmt.Errorf("ReorderTimeout must be > 0, got %v", cfg.Ledger.ReorderTimeout)
	}

	// Rule 8: epoch boundary must parse as HH:MM
	if _, err := time.Parse("15:04", cfg.Ledger.EpochBoundary); err != nil {
		return fmt.Errorf("EpochBoundary %q must be HH:MM: %w", cfg.Ledger.EpochBoundary, err)
	}

	// Rule 9: retry queue must hold at least one entry
	if cfg.Ingest.RetryQueueMax < 1 {
		return fmt.Errorf("RetryQueueMax must be >= 1, got %d", cfg.Ingest.RetryQueueMax)
	}

	return nil
}

// EpochBoundaryClock returns the hour and minute of the configured epoch
// boundary. Call Validate first.
func (cfg *Config) EpochBoundaryClock() (hour, minute int) {
	t, err := time.Parse("15:04", cfg.Ledger.EpochBoundary)
	if err != nil {
		return 0, 0
	}
	return t.Hour(), t.Minute()
}

// Load reads a YAML config file, applies defaults, and validates.
func Load(path string) (Config, error) {
	cfg := Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	SetDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestSetDefaultsFillsEmptyConfig(t *testing.T) {
	cfg := Config{}
	SetDefaults(&cfg)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestSetDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		DataDir: "/var/lib/stint",
		Planner: PlannerConfig{EventBudget: 8},
		Ledger:  LedgerConfig{EpochBoundary: "04:00"},
	}
	SetDefaults(&cfg)

	require.Equal(t, "/var/lib/stint", cfg.DataDir)
	require.Equal(t, 8, cfg.Planner.EventBudget)
	require.Equal(t, "04:00", cfg.Ledger.EpochBoundary)
	// Untouched fields still get defaults.
	require.Equal(t, 60*time.Second, cfg.Planner.Increment)
	require.Equal(t, "127.0.0.1:7420", cfg.APIAddr)
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero event budget",
			mutate:  func(c *Config) { c.Planner.EventBudget = 0 },
			wantErr: "EventBudget",
		},
		{
			name:    "sub-second increment",
			mutate:  func(c *Config) { c.Planner.Increment = 500 * time.Millisecond },
			wantErr: "Increment",
		},
		{
			name:    "suppression window swallows crossings",
			mutate:  func(c *Config) { c.Ingest.SuppressionWindow = 90 * time.Second },
			wantErr: "SuppressionWindow",
		},
		{
			name:    "staleness tighter than the heartbeat",
			mutate:  func(c *Config) { c.Health.LivenessStaleAfter = 30 * time.Second },
			wantErr: "LivenessStaleAfter",
		},
		{
			name:    "health scan slower than staleness",
			mutate:  func(c *Config) { c.Health.CheckInterval = 10 * time.Minute },
			wantErr: "CheckInterval",
		},
		{
			name:    "negative replan interval",
			mutate:  func(c *Config) { c.Recovery.ReplanMinInterval = -time.Second },
			wantErr: "ReplanMinInterval",
		},
		{
			name:    "negative reorder timeout",
			mutate:  func(c *Config) { c.Ledger.ReorderTimeout = -time.Second },
			wantErr: "ReorderTimeout",
		},
		{
			name:    "unparseable epoch boundary",
			mutate:  func(c *Config) { c.Ledger.EpochBoundary = "midnight" },
			wantErr: "EpochBoundary",
		},
		{
			name:    "out of range epoch boundary",
			mutate:  func(c *Config) { c.Ledger.EpochBoundary = "25:99" },
			wantErr: "EpochBoundary",
		},
		{
			name:    "empty retry queue",
			mutate:  func(c *Config) { c.Ingest.RetryQueueMax = -1 },
			wantErr: "RetryQueueMax",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEpochBoundaryClock(t *testing.T) {
	cfg := DefaultConfig()
	hour, minute := cfg.EpochBoundaryClock()
	require.Equal(t, 0, hour)
	require.Equal(t, 0, minute)

	cfg.Ledger.EpochBoundary = "06:30"
	hour, minute = cfg.EpochBoundaryClock()
	require.Equal(t, 6, hour)
	require.Equal(t, 30, minute)
}

func TestLoadAppliesOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stint.yaml")
	content := []byte(`
dataDir: /var/lib/stint
planner:
  eventBudget: 10
  increment: 30s
ledger:
  epochBoundary: "04:00"
`)
	require.NoError(t, os.WriteFile(path, content, 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/var/lib/stint", cfg.DataDir)
	require.Equal(t, 10, cfg.Planner.EventBudget)
	require.Equal(t, 30*time.Second, cfg.Planner.Increment)
	require.Equal(t, "04:00", cfg.Ledger.EpochBoundary)
	// Everything the file omits comes from defaults.
	require.Equal(t, "127.0.0.1:7420", cfg.APIAddr)
	require.Equal(t, 120*time.Second, cfg.Ledger.ReorderTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read config")
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stint.yaml")
	require.NoError(t, os.WriteFile(path, []byte("planner: ["), 0600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stint.yaml")
	content := []byte(`
planner:
  eventBudget: -5
`)
	require.NoError(t, os.WriteFile(path, content, 0600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid config")
}

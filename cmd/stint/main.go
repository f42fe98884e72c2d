package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aminenidae/stint/pkg/api"
	"github.com/aminenidae/stint/pkg/config"
	"github.com/aminenidae/stint/pkg/coordinator"
	"github.com/aminenidae/stint/pkg/events"
	"github.com/aminenidae/stint/pkg/log"
	"github.com/aminenidae/stint/pkg/metrics"
	"github.com/aminenidae/stint/pkg/observer"
	"github.com/aminenidae/stint/pkg/platform"
	wakeup "github.com/aminenidae/stint/pkg/signal"
	"github.com/aminenidae/stint/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stint",
	Short: "Stint - Bounded-event usage accounting engine",
	Long: `Stint tracks cumulative time-in-use of enrolled entities from
sparse threshold-crossing events, on a platform that grants only a
bounded number of events per entity per day.

The daemon reconstructs continuous usage totals from whatever the
platform actually delivers: duplicated, reordered, replayed, or
silently dropped crossings all land as correct, monotonic totals.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Stint version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("addr", "127.0.0.1:7420", "Daemon API address")

	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the stint accounting daemon",
	Long: `Run the coordinator, the observer, and the HTTP API as one process.

The two pipeline halves share nothing but the store and the wake-up
signal file, exactly as they would when the observer runs inside a
platform-controlled extension. Plans are submitted to the embedded
platform simulator; with --simulate the daemon also drives synthetic
foreground usage against it, so enrolled entities accumulate time and
the full event pipeline is exercised.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().String("config", "", "Config file (YAML)")
	daemonCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	daemonCmd.Flags().String("api-addr", "", "HTTP API listen address (overrides config)")
	daemonCmd.Flags().Bool("read-only-api", false, "Refuse write operations on the HTTP API")
	daemonCmd.Flags().Bool("simulate", false, "Drive synthetic foreground usage")
	daemonCmd.Flags().Int64("sim-seed", 1, "Simulator seed")
	daemonCmd.Flags().Float64("sim-duplicate-rate", 0, "Chance a crossing is delivered twice")
	daemonCmd.Flags().Float64("sim-drop-rate", 0, "Chance a crossing is silently lost")
	daemonCmd.Flags().Float64("sim-reorder-rate", 0, "Chance adjacent deliveries swap")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	readOnly, _ := cmd.Flags().GetBool("read-only-api")
	simulate, _ := cmd.Flags().GetBool("simulate")
	simSeed, _ := cmd.Flags().GetInt64("sim-seed")
	dupRate, _ := cmd.Flags().GetFloat64("sim-duplicate-rate")
	dropRate, _ := cmd.Flags().GetFloat64("sim-drop-rate")
	reorderRate, _ := cmd.Flags().GetFloat64("sim-reorder-rate")

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if apiAddr != "" {
		cfg.APIAddr = apiAddr
	}

	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	metrics.SetVersion(Version)

	fmt.Println("Starting stint daemon...")
	fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
	fmt.Printf("  API Address: %s\n", cfg.APIAddr)
	if simulate {
		fmt.Printf("  Simulation: seed=%d duplicate=%.2f drop=%.2f reorder=%.2f\n",
			simSeed, dupRate, dropRate, reorderRate)
	}
	fmt.Println()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %v", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sim := platform.NewSimulator(platform.Options{
		Seed:          simSeed,
		DuplicateRate: dupRate,
		DropRate:      dropRate,
		ReorderRate:   reorderRate,
	})
	tracker := newDriveTracker(cfg.Health.ActivityWindow)

	coord, err := coordinator.NewCoordinator(store, sim, broker, tracker, &cfg)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %v", err)
	}
	coord.Start()
	fmt.Println("✓ Coordinator started")

	obs := observer.New(store, sim, wakeup.NewNotifier(cfg.DataDir), &cfg)
	obs.Start()
	fmt.Println("✓ Observer started")

	apiServer := api.NewServer(coord, store, broker, readOnly)
	if err := apiServer.Start(cfg.APIAddr); err != nil {
		obs.Stop()
		coord.Stop()
		return fmt.Errorf("failed to start API server: %v", err)
	}
	fmt.Printf("✓ API listening on %s\n", cfg.APIAddr)

	var driveStop, driveDone chan struct{}
	if simulate {
		driveStop = make(chan struct{})
		driveDone = make(chan struct{})
		go func() {
			defer close(driveDone)
			driveUsage(driveStop, time.Second, 1, store, sim, tracker, obs)
		}()
		fmt.Println("✓ Simulation drive running")
	}

	fmt.Println()
	fmt.Println("Daemon is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")

	if simulate {
		close(driveStop)
		<-driveDone
	}
	obs.Stop()
	coord.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop API server: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

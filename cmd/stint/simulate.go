package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aminenidae/stint/pkg/config"
	"github.com/aminenidae/stint/pkg/coordinator"
	"github.com/aminenidae/stint/pkg/events"
	"github.com/aminenidae/stint/pkg/log"
	"github.com/aminenidae/stint/pkg/observer"
	"github.com/aminenidae/stint/pkg/platform"
	wakeup "github.com/aminenidae/stint/pkg/signal"
	"github.com/aminenidae/stint/pkg/storage"
	"github.com/aminenidae/stint/pkg/types"
)

// driveTracker reports entities the simulation drive recently advanced
// as being in foreground use. Without the drive nothing is active, so
// an idle daemon's gap scanner stays quiet.
type driveTracker struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

func newDriveTracker(window time.Duration) *driveTracker {
	return &driveTracker{
		window: window,
		last:   make(map[string]time.Time),
	}
}

func (d *driveTracker) mark(entity string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last[entity] = time.Now()
}

// Active implements health.ActivitySource.
func (d *driveTracker) Active(entity string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.last[entity]
	return ok && time.Since(t) <= d.window
}

// driveUsage advances every live entity's simulated usage each tick and
// runs an observer invocation to pick the crossings up.
func driveUsage(stop <-chan struct{}, tick time.Duration, seconds int64,
	store storage.Store, sim *platform.Simulator, tracker *driveTracker, obs *observer.Observer) {

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			entities, err := store.ListEntities()
			if err != nil {
				continue
			}
			for _, entity := range entities {
				if entity.Archived() {
					continue
				}
				sim.Advance(entity.ID, seconds)
				tracker.mark(entity.ID)
			}
			obs.Invoke(context.Background())
		case <-stop:
			return
		}
	}
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an embedded end-to-end simulation",
	Long: `Spin up the full pipeline against the platform simulator, drive
accelerated foreground usage for the given duration, and print the
reconstructed ledger totals next to the simulator's true usage.

The run is self-contained: it uses a throwaway data directory unless
--data-dir is given, and shortens the recovery and resync timings so
replans and reorder recovery show up within a short run. Usage advances
at fifty times wall clock.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().Duration("for", 2*time.Minute, "How long to run")
	simulateCmd.Flags().Int("entities", 2, "Number of entities to enroll")
	simulateCmd.Flags().String("data-dir", "", "Data directory (default: a temp directory)")
	simulateCmd.Flags().Int64("seed", 1, "Simulator seed")
	simulateCmd.Flags().Float64("duplicate-rate", 0.1, "Chance a crossing is delivered twice")
	simulateCmd.Flags().Float64("drop-rate", 0.05, "Chance a crossing is silently lost")
	simulateCmd.Flags().Float64("reorder-rate", 0.1, "Chance adjacent deliveries swap")

	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	runFor, _ := cmd.Flags().GetDuration("for")
	count, _ := cmd.Flags().GetInt("entities")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	seed, _ := cmd.Flags().GetInt64("seed")
	dupRate, _ := cmd.Flags().GetFloat64("duplicate-rate")
	dropRate, _ := cmd.Flags().GetFloat64("drop-rate")
	reorderRate, _ := cmd.Flags().GetFloat64("reorder-rate")

	cfg := config.DefaultConfig()
	cfg.Recovery.ReplanMinInterval = 2 * time.Second
	cfg.Ledger.ReorderTimeout = 5 * time.Second
	cfg.Health.CheckInterval = 5 * time.Second
	cfg.Liveness.Interval = 2 * time.Second
	cfg.Signal.FallbackPoll = 2 * time.Second

	if dataDir == "" {
		tmp, err := os.MkdirTemp("", "stint-simulate-*")
		if err != nil {
			return fmt.Errorf("failed to create temp directory: %v", err)
		}
		defer os.RemoveAll(tmp)
		dataDir = tmp
	} else if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %v", err)
	}
	cfg.DataDir = dataDir

	// Warnings only; the summary table is the output here.
	log.Init(log.Config{Level: log.WarnLevel})

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sim := platform.NewSimulator(platform.Options{
		Seed:          seed,
		MaxBoundaries: cfg.Planner.EventBudget,
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

	obs := observer.New(store, sim, wakeup.NewNotifier(cfg.DataDir), &cfg)
	obs.Start()

	fmt.Printf("Simulating %d entities for %s (seed=%d duplicate=%.2f drop=%.2f reorder=%.2f)\n\n",
		count, runFor, seed, dupRate, dropRate, reorderRate)

	for i := 1; i <= count; i++ {
		name := fmt.Sprintf("entity-%d", i)
		if _, err := coord.Enroll(context.Background(), name); err != nil {
			obs.Stop()
			coord.Stop()
			return fmt.Errorf("failed to enroll %s: %v", name, err)
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		driveUsage(stop, 100*time.Millisecond, 5, store, sim, tracker, obs)
	}()

	timer := time.NewTimer(runFor)
	defer timer.Stop()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-timer.C:
	case <-sigCh:
		fmt.Println("Interrupted.")
	}

	close(stop)
	<-done
	obs.Stop()

	// The final wake-up may still be in flight; give the coordinator a
	// beat to drain it before stopping.
	time.Sleep(500 * time.Millisecond)
	coord.Stop()

	return printSimulationReport(store, sim, coord)
}

func printSimulationReport(store storage.Store, sim *platform.Simulator, coord *coordinator.Coordinator) error {
	entities, err := store.ListEntities()
	if err != nil {
		return fmt.Errorf("failed to list entities: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY\tSTATE\tGEN\tTRUE USAGE\tLEDGER\tLAG")
	for _, entity := range entities {
		var total int64
		if entry, err := store.GetLedger(entity.ID); err == nil {
			total = entry.TotalSeconds
		}
		actual := sim.Usage(entity.ID)
		fmt.Fprintf(w, "%s\t%s\t%d\t%ds\t%ds\t%ds\n",
			entity.Name, entity.State, entity.Generation, actual, total, actual-total)
	}
	w.Flush()

	counters, err := store.Counters()
	if err == nil {
		printed := false
		for _, class := range types.CounterClasses {
			if counters[class] == 0 {
				continue
			}
			if !printed {
				fmt.Println("\nCounters:")
				printed = true
			}
			fmt.Printf("  %-22s %d\n", class, counters[class])
		}
	}

	if gaps := coord.Gaps(); len(gaps) > 0 {
		fmt.Printf("\nGaps detected: %d\n", len(gaps))
	}
	if dropped := sim.Dropped(); dropped > 0 {
		fmt.Printf("Crossings dropped by the platform: %d\n", dropped)
	}

	return nil
}

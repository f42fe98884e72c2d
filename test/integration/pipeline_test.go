package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aminenidae/stint/pkg/config"
	"github.com/aminenidae/stint/pkg/coordinator"
	"github.com/aminenidae/stint/pkg/events"
	"github.com/aminenidae/stint/pkg/health"
	"github.com/aminenidae/stint/pkg/observer"
	"github.com/aminenidae/stint/pkg/platform"
	"github.com/aminenidae/stint/pkg/signal"
	"github.com/aminenidae/stint/pkg/storage"
	"github.com/aminenidae/stint/pkg/types"
)

// pipelineOpts configures one integration pipeline.
type pipelineOpts struct {
	sim        platform.Options     // Seed defaults to 1, Clock to the shared stepping clock
	tweak      func(*config.Config) // applied over the sped-up defaults
	source     observer.Source      // overrides the simulator as the observer's source
	active     bool                 // what the activity source reports for every entity
	deferStart bool                 // caller boots the coordinator itself via start
}

// pipeline is a full stack booted on a temp data dir: bolt store, event
// broker, simulator bridge, coordinator, and one observer sharing them.
type pipeline struct {
	t      *testing.T
	dir    string
	cfg    config.Config
	store  storage.Store
	broker *events.Broker
	sim    *platform.Simulator
	coord  *coordinator.Coordinator
	obs    *observer.Observer

	stopped bool
}

// startPipeline boots the pipeline. The coordinator loop runs unless
// opts.deferStart is set; the observer heartbeat is never started here,
// tests that need liveness call obs.Start themselves.
func startPipeline(t *testing.T, opts pipelineOpts) *pipeline {
	t.Helper()

	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Planner.EventBudget = 5
	cfg.Signal.FallbackPoll = 50 * time.Millisecond
	cfg.Health.CheckInterval = 50 * time.Millisecond
	cfg.Liveness.Interval = 25 * time.Millisecond
	if opts.tweak != nil {
		opts.tweak(&cfg)
	}

	store, err := storage.NewBoltStore(dir)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	// Crossing timestamps step a fixed stride apart so same-batch
	// crossings clear the suppression window, and start in the past so
	// gap scans see real silence.
	clock := &steppingClock{now: time.Now().Add(-time.Hour), stride: 3 * time.Second}
	if opts.sim.Seed == 0 {
		opts.sim.Seed = 1
	}
	if opts.sim.Clock == nil {
		opts.sim.Clock = clock.Now
	}
	sim := platform.NewSimulator(opts.sim)

	p := &pipeline{t: t, dir: dir, cfg: cfg, store: store, broker: broker, sim: sim}

	activity := health.ActivityFunc(func(string) bool { return opts.active })
	coord, err := coordinator.NewCoordinator(store, sim, broker, activity, &p.cfg)
	if err != nil {
		t.Fatalf("Failed to build coordinator: %v", err)
	}
	p.coord = coord

	var source observer.Source = sim
	if opts.source != nil {
		source = opts.source
	}
	p.obs = observer.New(store, source, signal.NewNotifier(dir), &p.cfg)

	if !opts.deferStart {
		p.start()
	}
	return p
}

// start launches the coordinator loop and registers its shutdown.
func (p *pipeline) start() {
	p.coord.Start()
	p.t.Cleanup(func() {
		if !p.stopped {
			p.stopCoordinator()
		}
	})
}

// stopCoordinator stops the loop mid-test, for restart scenarios.
func (p *pipeline) stopCoordinator() {
	p.stopped = true
	p.coord.Stop()
}

// newObserver builds another observer over the same store and data dir.
func (p *pipeline) newObserver() *observer.Observer {
	return observer.New(p.store, p.sim, signal.NewNotifier(p.dir), &p.cfg)
}

// enroll registers an entity and checks it got its first plan.
func (p *pipeline) enroll(name string) *types.Entity {
	p.t.Helper()

	entity, err := p.coord.Enroll(context.Background(), name)
	if err != nil {
		p.t.Fatalf("Failed to enroll %s: %v", name, err)
	}
	if entity.State != types.EntityStatePlanned {
		p.t.Fatalf("Entity %s is %s after enrollment, want planned", name, entity.State)
	}
	return entity
}

// total reads the entity's current ledger total, zero when none exists.
func (p *pipeline) total(entity string) int64 {
	entry, err := p.store.GetLedger(entity)
	if err != nil {
		return 0
	}
	return entry.TotalSeconds
}

// waitTotal polls until the entity's ledger total reaches want.
func (p *pipeline) waitTotal(entity string, want int64) {
	p.t.Helper()
	waitFor(p.t, 2*time.Second, fmt.Sprintf("ledger total %ds", want), func() bool {
		return p.total(entity) == want
	})
}

// waitCounter polls until the diagnostic counter reaches want. Ledger
// counters commit after the total becomes visible, so asserts go
// through here instead of reading once.
func (p *pipeline) waitCounter(class string, want uint64) {
	p.t.Helper()
	waitFor(p.t, 2*time.Second, fmt.Sprintf("%s counter at %d", class, want), func() bool {
		return p.counters()[class] == want
	})
}

func (p *pipeline) counters() map[string]uint64 {
	p.t.Helper()
	c, err := p.store.Counters()
	if err != nil {
		p.t.Fatalf("Failed to read counters: %v", err)
	}
	return c
}

func (p *pipeline) entity(id string) *types.Entity {
	p.t.Helper()
	entity, err := p.store.GetEntity(id)
	if err != nil {
		p.t.Fatalf("Failed to read entity %s: %v", id, err)
	}
	return entity
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// steppingClock hands out timestamps a fixed stride apart.
type steppingClock struct {
	mu     sync.Mutex
	now    time.Time
	stride time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.stride)
	return c.now
}

// script feeds the observer canned deliveries, one batch per Drain. It
// stands in for the platform's push callback when a test needs exact
// delivery order.
type script struct {
	mu      sync.Mutex
	batches [][]types.RawEvent
}

func (s *script) push(batch ...types.RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
}

func (s *script) Drain() []types.RawEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.batches) == 0 {
		return nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch
}

func ev(entity string, gen uint64, boundary int64, at time.Time) types.RawEvent {
	return types.RawEvent{Entity: entity, Generation: gen, Boundary: boundary, ObservedAt: at}
}

// TestUsageAccumulatesEndToEnd drives the full path: enroll → plan →
// crossings → observer ingestion → wake-up signal → ledger totals,
// across a budget-exhaustion replan.
func TestUsageAccumulatesEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	p := startPipeline(t, pipelineOpts{
		tweak: func(c *config.Config) {
			c.Recovery.ReplanMinInterval = 20 * time.Millisecond
		},
	})
	ctx := context.Background()

	t.Log("Step 1: Enrolling entity...")
	entity := p.enroll("tablet-kid-a")
	plan, ok := p.sim.ActivePlan(entity.ID)
	if !ok {
		t.Fatal("No active plan after enrollment")
	}
	if plan.Generation != 1 || len(plan.Boundaries) != 5 {
		t.Fatalf("Plan generation %d with %d boundaries, want generation 1 with 5",
			plan.Generation, len(plan.Boundaries))
	}
	if plan.Boundaries[0] <= plan.BasedOnTotal {
		t.Fatalf("First boundary %d not above planned total %d", plan.Boundaries[0], plan.BasedOnTotal)
	}
	t.Logf("✓ Plan generation 1 with boundaries up to %ds", plan.MaxBoundary())

	t.Log("Step 2: Crossing the first boundary...")
	p.sim.Advance(entity.ID, 60)
	if n := p.obs.Invoke(ctx); n != 1 {
		t.Fatalf("Invocation accepted %d facts, want 1", n)
	}
	p.waitTotal(entity.ID, 60)
	waitFor(t, 2*time.Second, "entity activation", func() bool {
		return p.entity(entity.ID).State == types.EntityStateActive
	})
	t.Log("✓ First crossing accounted, entity active")

	t.Log("Step 3: Crossing two more boundaries in one invocation...")
	p.sim.Advance(entity.ID, 120)
	if n := p.obs.Invoke(ctx); n != 2 {
		t.Fatalf("Invocation accepted %d facts, want 2", n)
	}
	p.waitTotal(entity.ID, 180)
	t.Log("✓ Total reached 180s")

	t.Log("Step 4: Exhausting the plan...")
	p.sim.Advance(entity.ID, 120)
	p.obs.Invoke(ctx)
	p.waitTotal(entity.ID, 300)
	waitFor(t, 2*time.Second, "replacement plan", func() bool {
		plan, ok := p.sim.ActivePlan(entity.ID)
		return ok && plan.Generation == 2
	})
	plan, _ = p.sim.ActivePlan(entity.ID)
	if plan.BasedOnTotal != 300 {
		t.Fatalf("Replacement plan based on %d, want 300", plan.BasedOnTotal)
	}
	if plan.Boundaries[0] <= 300 {
		t.Fatalf("Replacement boundary %d not above total 300", plan.Boundaries[0])
	}
	t.Log("✓ Exhausted plan replaced by generation 2")

	t.Log("Step 5: Accounting continues on the new generation...")
	p.sim.Advance(entity.ID, 60)
	p.obs.Invoke(ctx)
	p.waitTotal(entity.ID, 360)

	if usage := p.sim.Usage(entity.ID); usage != 360 {
		t.Fatalf("True usage %ds diverged from ledger 360s", usage)
	}
	c := p.counters()
	if c[types.CounterDuplicateEvent] != 0 || c[types.CounterNonMonotonicDrop] != 0 {
		t.Fatalf("Clean run recorded drops: %v", c)
	}
	t.Log("✓ Ledger matches true usage with no drops")
}

// TestDuplicateDeliveryIsIdempotent redelivers every crossing twice and
// expects each boundary counted exactly once.
func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	p := startPipeline(t, pipelineOpts{sim: platform.Options{DuplicateRate: 1}})
	ctx := context.Background()

	entity := p.enroll("tablet-kid-a")

	t.Log("Step 1: Crossing one boundary, delivered twice...")
	p.sim.Advance(entity.ID, 60)
	if n := p.obs.Invoke(ctx); n != 1 {
		t.Fatalf("Invocation accepted %d facts, want 1", n)
	}
	p.waitTotal(entity.ID, 60)
	t.Log("✓ Duplicate dropped at ingestion")

	t.Log("Step 2: Crossing another, also delivered twice...")
	p.sim.Advance(entity.ID, 60)
	p.obs.Invoke(ctx)
	p.waitTotal(entity.ID, 120)

	if got := p.counters()[types.CounterDuplicateEvent]; got != 2 {
		t.Fatalf("duplicate_event = %d, want 2", got)
	}
	if usage := p.sim.Usage(entity.ID); usage != 120 {
		t.Fatalf("True usage %ds diverged from ledger 120s", usage)
	}
	t.Log("✓ Each boundary counted exactly once")
}

// TestOutOfOrderBoundariesSettle delivers boundaries 60, 120, 180
// scrambled as 180, 60, 120 and expects the ledger to settle at 180s
// with the backwards deliveries counted, not applied.
func TestOutOfOrderBoundariesSettle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	src := &script{}
	p := startPipeline(t, pipelineOpts{
		source: src,
		tweak: func(c *config.Config) {
			c.Ingest.SuppressionWindow = 200 * time.Millisecond
		},
	})
	ctx := context.Background()

	entity := p.enroll("tablet-kid-a")
	base := time.Now().Add(-time.Minute)

	t.Log("Step 1: Delivering 180, 60, 120 in that order...")
	src.push(
		ev(entity.ID, 1, 180, base),
		ev(entity.ID, 1, 60, base.Add(500*time.Millisecond)),
		ev(entity.ID, 1, 120, base.Add(time.Second)),
	)
	if n := p.obs.Invoke(ctx); n != 3 {
		t.Fatalf("Invocation accepted %d facts, want 3", n)
	}
	p.waitTotal(entity.ID, 180)
	p.waitCounter(types.CounterNonMonotonicDrop, 2)
	t.Log("✓ Ledger settled at 180s, backwards deliveries counted")

	t.Log("Step 2: Redelivering the same scramble...")
	src.push(
		ev(entity.ID, 1, 180, base.Add(5*time.Second)),
		ev(entity.ID, 1, 60, base.Add(6*time.Second)),
		ev(entity.ID, 1, 120, base.Add(7*time.Second)),
	)
	if n := p.obs.Invoke(ctx); n != 0 {
		t.Fatalf("Redelivery accepted %d facts, want 0", n)
	}

	if got := p.total(entity.ID); got != 180 {
		t.Fatalf("Total moved to %ds on redelivery, want 180s", got)
	}
	if got := p.counters()[types.CounterDuplicateEvent]; got != 3 {
		t.Fatalf("duplicate_event = %d, want 3", got)
	}
	t.Log("✓ Redelivery changed nothing")
}

// TestStaleGenerationDropped replans to generation 2, then delivers a
// late generation-1 crossing and expects it filtered with the ledger
// untouched.
func TestStaleGenerationDropped(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	src := &script{}
	p := startPipeline(t, pipelineOpts{
		source: src,
		tweak: func(c *config.Config) {
			c.Planner.EventBudget = 4
			c.Recovery.ReplanMinInterval = 20 * time.Millisecond
		},
	})
	ctx := context.Background()

	entity := p.enroll("tablet-kid-a")
	base := time.Now().Add(-time.Minute)

	t.Log("Step 1: Consuming the whole generation-1 plan...")
	src.push(
		ev(entity.ID, 1, 60, base),
		ev(entity.ID, 1, 120, base.Add(3*time.Second)),
		ev(entity.ID, 1, 180, base.Add(6*time.Second)),
		ev(entity.ID, 1, 240, base.Add(9*time.Second)),
	)
	p.obs.Invoke(ctx)
	p.waitTotal(entity.ID, 240)
	waitFor(t, 2*time.Second, "generation 2 plan", func() bool {
		plan, ok := p.sim.ActivePlan(entity.ID)
		return ok && plan.Generation == 2
	})
	plan, _ := p.sim.ActivePlan(entity.ID)
	if plan.BasedOnTotal != 240 || plan.Boundaries[0] != 300 {
		t.Fatalf("Generation 2 planned %v based on %ds, want first boundary 300 above 240",
			plan.Boundaries, plan.BasedOnTotal)
	}
	t.Log("✓ Exhaustion replanned to generation 2 above 240s")

	t.Log("Step 2: Crossing a generation-2 boundary...")
	src.push(ev(entity.ID, 2, 300, base.Add(12*time.Second)))
	p.obs.Invoke(ctx)
	p.waitTotal(entity.ID, 300)

	t.Log("Step 3: Delivering a late generation-1 crossing...")
	src.push(ev(entity.ID, 1, 300, base.Add(15*time.Second)))
	if n := p.obs.Invoke(ctx); n != 0 {
		t.Fatalf("Stale crossing accepted %d facts, want 0", n)
	}

	if got := p.total(entity.ID); got != 300 {
		t.Fatalf("Total %ds after stale delivery, want 300s", got)
	}
	if got := p.counters()[types.CounterStaleGeneration]; got != 1 {
		t.Fatalf("stale_generation = %d, want 1", got)
	}
	t.Log("✓ Stale generation dropped, ledger unaffected")
}

// TestCrossingFloodAbsorbed delivers a burst of boundaries within the
// suppression window, the failure mode of a plan with already-exceeded
// boundaries, and expects a single accepted fact.
func TestCrossingFloodAbsorbed(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	src := &script{}
	p := startPipeline(t, pipelineOpts{source: src})
	ctx := context.Background()

	entity := p.enroll("tablet-kid-a")
	base := time.Now().Add(-time.Minute)

	t.Log("Step 1: Delivering three crossings within the suppression window...")
	src.push(
		ev(entity.ID, 1, 60, base),
		ev(entity.ID, 1, 120, base.Add(100*time.Millisecond)),
		ev(entity.ID, 1, 180, base.Add(200*time.Millisecond)),
	)
	if n := p.obs.Invoke(ctx); n != 1 {
		t.Fatalf("Flood produced %d facts, want 1", n)
	}
	p.waitTotal(entity.ID, 60)

	if got := p.counters()[types.CounterSuppressedBurst]; got != 2 {
		t.Fatalf("suppressed_burst = %d, want 2", got)
	}
	t.Log("✓ Flood absorbed to one fact")

	t.Log("Step 2: A later crossing outside the window still counts...")
	src.push(ev(entity.ID, 1, 120, base.Add(5*time.Second)))
	if n := p.obs.Invoke(ctx); n != 1 {
		t.Fatalf("Later crossing produced %d facts, want 1", n)
	}
	p.waitTotal(entity.ID, 120)
	t.Log("✓ Accounting resumed after the window")
}

// TestEveryAnomalyIsCounted pushes one delivery of each anomaly class
// through the pipeline and expects a counter increment for every drop,
// rebase, and burst.
func TestEveryAnomalyIsCounted(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	src := &script{}
	p := startPipeline(t, pipelineOpts{source: src})
	ctx := context.Background()

	entity := p.enroll("tablet-kid-a")
	base := time.Now().Add(-time.Minute)

	t.Log("Step 1: Delivering one of everything...")
	src.push(
		ev(entity.ID, 1, 60, base),                           // applies, total 60
		ev(entity.ID, 1, 90, base.Add(500*time.Millisecond)), // suppressed burst
		ev(entity.ID, 1, 60, base.Add(3*time.Second)),        // duplicate
		ev(entity.ID, 1, 120, base.Add(6*time.Second)),       // applies, total 120
		ev(entity.ID, 0, 30, base.Add(9*time.Second)),        // stale generation
		ev(entity.ID, 1, 90, base.Add(12*time.Second)),       // accepted, dropped non-monotonic
		ev(entity.ID, 2, 50, base.Add(15*time.Second)),       // accepted, rebase
		ev(entity.ID, 2, 200, base.Add(18*time.Second)),      // applies, suspicious burst
	)
	if n := p.obs.Invoke(ctx); n != 5 {
		t.Fatalf("Invocation accepted %d facts, want 5", n)
	}
	p.waitTotal(entity.ID, 200)

	expect := map[string]uint64{
		types.CounterDuplicateEvent:   1,
		types.CounterSuppressedBurst:  1,
		types.CounterStaleGeneration:  1,
		types.CounterNonMonotonicDrop: 1,
		types.CounterRebase:           1,
		types.CounterSuspiciousBurst:  1,
	}
	for class, want := range expect {
		p.waitCounter(class, want)
	}

	entry, err := p.store.GetLedger(entity.ID)
	if err != nil {
		t.Fatalf("Failed to read ledger: %v", err)
	}
	if entry.SuspiciousBursts != 1 {
		t.Fatalf("SuspiciousBursts = %d, want 1", entry.SuspiciousBursts)
	}
	if entry.LastGeneration != 2 {
		t.Fatalf("LastGeneration = %d, want 2", entry.LastGeneration)
	}
	t.Log("✓ Every anomaly left a counter behind")
}

// TestUnenrollArchivesHistory un-enrolls an accounted entity, expects
// its plan canceled and its totals preserved, then re-enrolls the name
// under a fresh identity.
func TestUnenrollArchivesHistory(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	p := startPipeline(t, pipelineOpts{})
	ctx := context.Background()

	t.Log("Step 1: Enrolling and accounting some usage...")
	entity := p.enroll("tablet-kid-a")
	p.sim.Advance(entity.ID, 60)
	p.obs.Invoke(ctx)
	p.waitTotal(entity.ID, 60)

	t.Log("Step 2: Un-enrolling...")
	if err := p.coord.Unenroll(ctx, "tablet-kid-a"); err != nil {
		t.Fatalf("Failed to unenroll: %v", err)
	}
	archived := p.entity(entity.ID)
	if !archived.Archived() || archived.State != types.EntityStateArchived {
		t.Fatalf("Entity not archived: %+v", archived)
	}
	if _, ok := p.sim.ActivePlan(entity.ID); ok {
		t.Fatal("Plan still active after un-enrollment")
	}
	t.Log("✓ Archived and plan canceled")

	t.Log("Step 3: Re-enrolling the same name...")
	fresh := p.enroll("tablet-kid-a")
	if fresh.ID == entity.ID {
		t.Fatal("Re-enrollment reused the archived identity")
	}
	if got := p.total(fresh.ID); got != 0 {
		t.Fatalf("Fresh entity starts at %ds, want 0", got)
	}
	if got := p.total(entity.ID); got != 60 {
		t.Fatalf("Archived history %ds, want 60s", got)
	}
	t.Log("✓ Fresh identity, history preserved")
}

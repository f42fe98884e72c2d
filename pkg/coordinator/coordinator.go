package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aminenidae/stint/pkg/config"
	"github.com/aminenidae/stint/pkg/events"
	"github.com/aminenidae/stint/pkg/health"
	"github.com/aminenidae/stint/pkg/ledger"
	"github.com/aminenidae/stint/pkg/log"
	"github.com/aminenidae/stint/pkg/metrics"
	"github.com/aminenidae/stint/pkg/planner"
	"github.com/aminenidae/stint/pkg/platform"
	"github.com/aminenidae/stint/pkg/recovery"
	"github.com/aminenidae/stint/pkg/signal"
	"github.com/aminenidae/stint/pkg/storage"
	"github.com/aminenidae/stint/pkg/types"
)

// drainBatch bounds how many pending facts one store read returns per
// entity. Draining loops until the backlog is empty, so the bound caps
// memory, not throughput.
const drainBatch = 256

// ErrAlreadyEnrolled is returned when enrolling a name that already has
// a live entity.
var ErrAlreadyEnrolled = errors.New("entity already enrolled")

// Coordinator is the long-lived reconciliation side of the system. It
// owns the ledger, the health monitor, the planner, and the recovery
// trigger, and runs the loop that turns pending facts into totals. The
// observer is not here: the two sides share only the store and the
// wake-up signal.
type Coordinator struct {
	cfg    *config.Config
	store  storage.Store
	bridge platform.Bridge
	broker *events.Broker

	planner   *planner.Planner
	ledger    *ledger.Ledger
	monitor   *health.Monitor
	trigger   *recovery.Trigger
	watcher   *signal.Watcher
	collector *metrics.Collector

	// ctx outlives individual loop passes; Stop cancels it so replans
	// in flight during shutdown abort instead of hanging.
	ctx    context.Context
	cancel context.CancelFunc

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCoordinator wires the coordinator-side components over a shared
// store. The signal watcher starts immediately; the loop does not run
// until Start.
func NewCoordinator(store storage.Store, bridge platform.Bridge, broker *events.Broker, activity health.ActivitySource, cfg *config.Config) (*Coordinator, error) {
	watcher, err := signal.NewWatcher(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to watch data dir: %w", err)
	}

	pl := planner.NewPlanner(store, bridge, broker, cfg)
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		cfg:       cfg,
		store:     store,
		bridge:    bridge,
		broker:    broker,
		planner:   pl,
		ledger:    ledger.NewLedger(store, broker, cfg),
		monitor:   health.NewMonitor(store, broker, activity, cfg),
		trigger:   recovery.NewTrigger(store, pl, broker, cfg),
		watcher:   watcher,
		collector: metrics.NewCollector(store),
		ctx:       ctx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("platform", true, "")

	return c, nil
}

// Start launches the reconciliation loop and the metrics collector.
func (c *Coordinator) Start() {
	log.WithComponent("coordinator").Info().
		Str("epoch_boundary", c.cfg.Ledger.EpochBoundary).
		Dur("fallback_poll", c.cfg.Signal.FallbackPoll).
		Dur("health_interval", c.cfg.Health.CheckInterval).
		Msg("Starting coordinator")

	c.collector.Start()
	go c.run()
}

// Stop terminates the loop and releases the signal watcher. The shared
// store stays open; the caller owns its lifecycle.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	<-c.doneCh
	c.cancel()
	c.collector.Stop()

	if err := c.watcher.Close(); err != nil {
		log.WithComponent("coordinator").Warn().Err(err).Msg("Failed to close signal watcher")
	}

	log.WithComponent("coordinator").Info().Msg("Coordinator stopped")
}

func (c *Coordinator) run() {
	defer close(c.doneCh)

	// Boot catch-up. Facts that arrived while the coordinator was down
	// drain first, then any epoch left open across a boundary rolls.
	// Draining first means pre-boundary facts land in the day they were
	// observed in rather than vanishing into the next one.
	c.drainAll()
	c.rolloverAll(time.Now())

	poll := time.NewTicker(c.cfg.Signal.FallbackPoll)
	defer poll.Stop()

	healthTick := time.NewTicker(c.cfg.Health.CheckInterval)
	defer healthTick.Stop()

	epoch := time.NewTimer(time.Until(c.nextBoundary(time.Now())))
	defer epoch.Stop()

	for {
		select {
		case <-c.watcher.C():
			c.drainAll()
		case <-poll.C:
			// The fallback poll backstops lost wake-ups. It also owns
			// the resync sweep: reorder timeouts need a clock tick even
			// when no new facts arrive.
			c.drainAll()
			c.checkResyncs()
		case <-healthTick.C:
			c.healthPass()
		case <-epoch.C:
			c.epochPass()
			epoch.Reset(time.Until(c.nextBoundary(time.Now())))
		case <-c.stopCh:
			return
		}
	}
}

// nextBoundary returns the next epoch boundary strictly after now, in
// local time.
func (c *Coordinator) nextBoundary(now time.Time) time.Time {
	hour, minute := c.cfg.EpochBoundaryClock()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// drainAll applies every pending fact for every live entity. Runs on
// wake-up signals, fallback polls, and epoch boundaries; an extra drain
// is harmless because consumed sequences skip as replays.
func (c *Coordinator) drainAll() {
	entities, err := c.store.ListEntities()
	if err != nil {
		log.WithComponent("coordinator").Error().Err(err).Msg("Failed to list entities")
		return
	}

	for _, entity := range entities {
		if entity.Archived() {
			continue
		}
		c.drainEntity(entity.ID)
	}
}

func (c *Coordinator) drainEntity(entityID string) {
	logger := log.WithEntity(entityID)

	applied := 0
	for {
		facts, err := c.store.PendingFacts(entityID, drainBatch)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to read pending facts")
			return
		}
		if len(facts) == 0 {
			break
		}

		progressed := false
		for _, fact := range facts {
			out, err := c.ledger.Apply(fact)
			if err != nil {
				logger.Error().Err(err).Uint64("sequence", fact.Sequence).Msg("Ledger apply failed")
				return
			}

			applied += out.Applied
			for _, seq := range out.Consumed {
				progressed = true
				if derr := c.store.DeleteFact(entityID, seq); derr != nil {
					logger.Warn().Err(derr).Uint64("sequence", seq).Msg("Failed to delete consumed fact")
				}
			}
		}

		if !progressed {
			// Everything left is parked behind a sequence gap. The facts
			// stay pending; the resync sweep takes over from here.
			break
		}
	}

	if applied > 0 {
		if err := c.trigger.Activate(c.ctx, entityID); err != nil {
			logger.Warn().Err(err).Msg("Activate failed")
		}
		c.checkExhaustion(entityID)
	}
}

// checkExhaustion replans an entity whose crossings have consumed the
// whole plan. Past the top boundary the platform has nothing left to
// fire, so usage would stop accumulating silently.
func (c *Coordinator) checkExhaustion(entityID string) {
	plan, err := c.store.GetPlan(entityID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.WithEntity(entityID).Warn().Err(err).Msg("Failed to read plan")
		}
		return
	}

	entry, err := c.store.GetLedger(entityID)
	if err != nil {
		return
	}
	if entry.TotalSeconds < plan.MaxBoundary() {
		return
	}

	if _, err := c.trigger.MaybeReplan(c.ctx, entityID, c.monitor.Status(), false, types.ReplanReasonPlanExhausted); err != nil {
		log.WithEntity(entityID).Warn().Err(err).Msg("Exhaustion replan failed")
	}
}

// checkResyncs force-resynchronizes entities whose reorder buffers
// outlived the timeout, then records the skipped range as gaps.
func (c *Coordinator) checkResyncs() {
	now := time.Now()

	for _, entityID := range c.ledger.BufferedEntities() {
		out, err := c.ledger.CheckResync(entityID, now)
		if err != nil {
			log.WithEntity(entityID).Error().Err(err).Msg("Resync check failed")
			continue
		}

		for _, seq := range out.Consumed {
			if derr := c.store.DeleteFact(entityID, seq); derr != nil {
				log.WithEntity(entityID).Warn().Err(derr).Uint64("sequence", seq).Msg("Failed to delete consumed fact")
			}
		}
		if out.Gap != nil {
			c.monitor.Record(out.Gap)
		}
	}
}

// healthPass refreshes liveness, scans for gaps, and drives recovery.
// While the pipeline is unhealthy every planned or active entity sweeps
// through the trigger; once healthy only entities still marked degraded
// do, so a rejection-stranded entity gets retried instead of stuck.
func (c *Coordinator) healthPass() {
	now := time.Now()
	status := c.monitor.Check(now)

	entities, err := c.store.ListEntities()
	if err != nil {
		log.WithComponent("coordinator").Error().Err(err).Msg("Failed to list entities")
		return
	}

	for _, entity := range entities {
		sweep := false
		switch entity.State {
		case types.EntityStateDegraded:
			sweep = true
		case types.EntityStatePlanned, types.EntityStateActive:
			sweep = !status.Healthy
		}
		if !sweep {
			continue
		}

		if _, err := c.trigger.MaybeReplan(c.ctx, entity.ID, status, false, types.ReplanReasonHealthRecover); err != nil {
			log.WithEntity(entity.ID).Warn().Err(err).Msg("Recovery replan failed")
		}
	}

	for _, gap := range c.monitor.Scan(now) {
		switch gap.SuspectedCause {
		case types.GapCauseEventBudgetExhausted, types.GapCausePlanStale:
		default:
			continue
		}

		if _, err := c.trigger.MaybeReplan(c.ctx, gap.Entity, status, false, types.ReplanReasonPlanExhausted); err != nil {
			log.WithEntity(gap.Entity).Warn().Err(err).Msg("Gap replan failed")
		}
	}
}

// epochPass closes the accounting day. Pending facts drain into the
// closing day first, then every ledger rolls.
func (c *Coordinator) epochPass() {
	log.WithComponent("coordinator").Info().Msg("Epoch boundary reached")

	c.drainAll()
	c.rolloverAll(time.Now())
}

// rolloverAll rolls every live entity's epoch and replans the ones that
// actually rolled. The replan is forced: waiting out the rate limiter
// here would leave entities planless at the start of the day.
func (c *Coordinator) rolloverAll(now time.Time) {
	entities, err := c.store.ListEntities()
	if err != nil {
		log.WithComponent("coordinator").Error().Err(err).Msg("Failed to list entities")
		return
	}

	for _, entity := range entities {
		if entity.Archived() {
			continue
		}

		rolled, err := c.ledger.Rollover(entity.ID, now)
		if err != nil {
			log.WithEntity(entity.ID).Error().Err(err).Msg("Rollover failed")
			continue
		}
		if !rolled {
			continue
		}

		if _, err := c.trigger.MaybeReplan(c.ctx, entity.ID, c.monitor.Status(), true, types.ReplanReasonEpochReset); err != nil {
			log.WithEntity(entity.ID).Warn().Err(err).Msg("Epoch replan failed")
		}
	}
}

// Enroll registers a new entity and requests its first threshold plan.
// Name collisions with live entities are rejected; re-enrolling an
// archived name creates a fresh entity under a new ID.
func (c *Coordinator) Enroll(ctx context.Context, name string) (*types.Entity, error) {
	if name == "" {
		return nil, fmt.Errorf("entity name is required")
	}

	_, err := c.store.GetEntityByName(name)
	if err == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrAlreadyEnrolled)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up %s: %w", name, err)
	}

	entity := &types.Entity{
		ID:         uuid.New().String(),
		Name:       name,
		State:      types.EntityStateUnplanned,
		EnrolledAt: time.Now(),
	}
	if err := c.store.CreateEntity(entity); err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	log.WithEntity(entity.ID).Info().Str("name", name).Msg("Entity enrolled")
	c.broker.Publish(&events.Event{
		Type:    events.EventEntityEnrolled,
		Entity:  entity.ID,
		Message: fmt.Sprintf("Enrolled %s", name),
	})

	// Enrollment survives a rejected first plan: the entity sits
	// degraded and the health pass retries it.
	if _, err := c.trigger.MaybeReplan(ctx, entity.ID, c.monitor.Status(), false, types.ReplanReasonEnrollment); err != nil {
		log.WithEntity(entity.ID).Warn().Err(err).Msg("Enrollment plan failed")
	}

	refreshed, err := c.store.GetEntity(entity.ID)
	if err != nil {
		return entity, nil
	}
	return refreshed, nil
}

// Unenroll archives an entity. The ledger and day totals survive for
// audit; the platform plan is cancelled best-effort, and deliveries
// that still leak through are dropped at ingestion.
func (c *Coordinator) Unenroll(ctx context.Context, name string) error {
	entity, err := c.store.GetEntityByName(name)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", name, err)
	}

	if err := c.bridge.CancelPlan(ctx, entity.ID, entity.Generation); err != nil {
		log.WithEntity(entity.ID).Warn().Err(err).Msg("Plan cancel failed")
		if cerr := c.store.IncrementCounter(types.CounterPlanCancelFail); cerr != nil {
			log.WithEntity(entity.ID).Warn().Err(cerr).Msg("Failed to count cancel failure")
		}
	}

	entity.State = types.EntityStateArchived
	entity.ArchivedAt = time.Now()
	if err := c.store.UpdateEntity(entity); err != nil {
		return fmt.Errorf("failed to archive %s: %w", name, err)
	}

	c.trigger.Forget(entity.ID)

	log.WithEntity(entity.ID).Info().Str("name", name).Msg("Entity archived")
	c.broker.Publish(&events.Event{
		Type:    events.EventEntityArchived,
		Entity:  entity.ID,
		Message: fmt.Sprintf("Archived %s", name),
	})

	return nil
}

// Status reports the health monitor's latest verdict.
func (c *Coordinator) Status() types.HealthStatus {
	return c.monitor.Status()
}

// Gaps reports the detected accounting gaps, oldest first.
func (c *Coordinator) Gaps() []*types.Gap {
	return c.monitor.Gaps()
}

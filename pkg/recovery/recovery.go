package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"golang.org/x/time/rate"

	"github.com/aminenidae/stint/pkg/config"
	"github.com/aminenidae/stint/pkg/events"
	"github.com/aminenidae/stint/pkg/log"
	"github.com/aminenidae/stint/pkg/metrics"
	"github.com/aminenidae/stint/pkg/storage"
	"github.com/aminenidae/stint/pkg/types"
)

// Replanner resubmits threshold plans. Satisfied by planner.Planner.
type Replanner interface {
	Replan(ctx context.Context, entity string) (*types.ThresholdPlan, error)
}

// Trigger decides when an entity gets a new plan. Non-forced replans
// pass a per-entity rate limiter; this is the brake on the
// replan-burst-replan feedback loop, so every replan path in the
// system goes through here.
type Trigger struct {
	store     storage.Store
	replanner Replanner
	broker    *events.Broker

	minInterval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	machines map[string]*fsm.FSM
}

// NewTrigger creates a recovery trigger.
func NewTrigger(store storage.Store, replanner Replanner, broker *events.Broker, cfg *config.Config) *Trigger {
	return &Trigger{
		store:       store,
		replanner:   replanner,
		broker:      broker,
		minInterval: cfg.Recovery.ReplanMinInterval,
		limiters:    make(map[string]*rate.Limiter),
		machines:    make(map[string]*fsm.FSM),
	}
}

// newLifecycle builds the per-entity state machine. Archived is not a
// source of any event; an archived entity's machine accepts nothing.
func newLifecycle(id string, initial types.EntityState) *fsm.FSM {
	return fsm.NewFSM(
		string(initial),
		fsm.Events{
			{
				Name: "plan",
				Src:  []string{string(types.EntityStateUnplanned), string(types.EntityStateDegraded)},
				Dst:  string(types.EntityStatePlanned),
			},
			{
				Name: "activate",
				Src:  []string{string(types.EntityStatePlanned)},
				Dst:  string(types.EntityStateActive),
			},
			{
				Name: "degrade",
				Src: []string{
					string(types.EntityStateUnplanned),
					string(types.EntityStatePlanned),
					string(types.EntityStateActive),
				},
				Dst: string(types.EntityStateDegraded),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.WithEntity(id).Debug().
					Str("from", e.Src).
					Str("to", e.Dst).
					Msg("Lifecycle transition")
			},
		},
	)
}

// machineFor returns the entity's lifecycle machine, resynchronized to
// the store. The planner writes entity states directly, so the store
// copy wins whenever the two disagree.
func (t *Trigger) machineFor(entity *types.Entity) *fsm.FSM {
	t.mu.Lock()
	defer t.mu.Unlock()

	machine, ok := t.machines[entity.ID]
	if !ok {
		machine = newLifecycle(entity.ID, entity.State)
		t.machines[entity.ID] = machine
	}
	if machine.Current() != string(entity.State) {
		machine.SetState(string(entity.State))
	}
	return machine
}

func (t *Trigger) limiterFor(entity string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	limiter, ok := t.limiters[entity]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(t.minInterval), 1)
		t.limiters[entity] = limiter
	}
	return limiter
}

// transition fires one lifecycle event and persists the resulting state
// on the entity record.
func (t *Trigger) transition(ctx context.Context, entity *types.Entity, event string) error {
	machine := t.machineFor(entity)
	if err := machine.Event(ctx, event); err != nil {
		return fmt.Errorf("lifecycle %s for %s: %w", event, entity.ID, err)
	}

	entity.State = types.EntityState(machine.Current())
	return t.store.UpdateEntity(entity)
}

// MaybeReplan answers a replan request. An unhealthy status degrades
// the entity first; then the rate limiter decides whether a replan runs
// now or is deferred. Forced requests bypass the limiter, and because
// the planner reads the ledger itself, even a forced replan plans above
// the current total rather than a cached one.
//
// The limiter token is spent on the attempt, not the outcome. A replan
// that the platform rejects still counts against the window; retrying
// rejection in a tight loop is exactly the burst this exists to stop.
func (t *Trigger) MaybeReplan(ctx context.Context, entityID string, status types.HealthStatus, forced bool, reason types.ReplanReason) (*types.ReplanDecision, error) {
	decision := &types.ReplanDecision{Entity: entityID, Reason: reason, DecidedAt: time.Now()}

	entity, err := t.store.GetEntity(entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s: %w", entityID, err)
	}
	if entity.Archived() {
		return decision, nil
	}

	logger := log.WithEntity(entityID)

	if !status.Healthy && entity.State != types.EntityStateDegraded {
		if terr := t.transition(ctx, entity, "degrade"); terr != nil {
			logger.Warn().Err(terr).Msg("Degrade transition failed")
		} else {
			logger.Warn().Str("reason", status.Reason).Msg("Entity degraded")
			t.broker.Publish(&events.Event{
				Type:    events.EventEntityDegraded,
				Entity:  entityID,
				Message: fmt.Sprintf("Degraded: %s", status.Reason),
			})
		}
	}

	if !forced && !t.limiterFor(entityID).Allow() {
		decision.Deferred = true
		metrics.ReplansDeferred.Inc()
		logger.Debug().Str("reason", string(reason)).Msg("Replan deferred by rate limit")
		return decision, nil
	}

	wasDegraded := entity.State == types.EntityStateDegraded
	decision.Replan = true

	if _, err := t.replanner.Replan(ctx, entityID); err != nil {
		return decision, err
	}

	if wasDegraded {
		logger.Info().Str("reason", string(reason)).Msg("Entity recovered via replan")
		t.broker.Publish(&events.Event{
			Type:    events.EventEntityRecovered,
			Entity:  entityID,
			Message: "Recovered via replan",
		})
	}

	return decision, nil
}

// Activate moves a planned entity to active once its facts are flowing.
// Any other state is left alone; a degraded entity recovers through a
// replan, not through stray deliveries.
func (t *Trigger) Activate(ctx context.Context, entityID string) error {
	entity, err := t.store.GetEntity(entityID)
	if err != nil {
		return fmt.Errorf("failed to load entity %s: %w", entityID, err)
	}
	if entity.State != types.EntityStatePlanned {
		return nil
	}

	return t.transition(ctx, entity, "activate")
}

// Forget drops the entity's limiter and lifecycle machine after
// un-enrollment.
func (t *Trigger) Forget(entityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.limiters, entityID)
	delete(t.machines, entityID)
}

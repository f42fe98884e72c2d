package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aminenidae/stint/pkg/config"
	"github.com/aminenidae/stint/pkg/events"
	"github.com/aminenidae/stint/pkg/log"
	"github.com/aminenidae/stint/pkg/metrics"
	"github.com/aminenidae/stint/pkg/platform"
	"github.com/aminenidae/stint/pkg/storage"
	"github.com/aminenidae/stint/pkg/types"
)

// Plan computes the boundary schedule for one plan generation. The
// boundaries sit at fixed increments above the ledger total, so every
// boundary is strictly greater than the total the plan was based on.
// A crossing therefore always carries new usage.
func Plan(entity string, generation uint64, total int64, budget int, increment time.Duration) *types.ThresholdPlan {
	step := int64(increment / time.Second)

	boundaries := make([]int64, 0, budget)
	for k := 1; k <= budget; k++ {
		boundaries = append(boundaries, total+int64(k)*step)
	}

	return &types.ThresholdPlan{
		Entity:       entity,
		Generation:   generation,
		Boundaries:   boundaries,
		BasedOnTotal: total,
		SubmittedAt:  time.Now(),
	}
}

// Planner mints and submits threshold plans. It owns the
// cancel-then-submit procedure and the halve-and-retry response to
// capacity rejections; deciding WHEN to replan is the recovery
// trigger's job.
type Planner struct {
	store     storage.Store
	bridge    platform.Bridge
	broker    *events.Broker
	budget    int
	increment time.Duration
}

// NewPlanner creates a planner.
func NewPlanner(store storage.Store, bridge platform.Bridge, broker *events.Broker, cfg *config.Config) *Planner {
	return &Planner{
		store:     store,
		bridge:    bridge,
		broker:    broker,
		budget:    cfg.Planner.EventBudget,
		increment: cfg.Planner.Increment,
	}
}

// Replan supersedes the entity's plan with a fresh generation based on
// the current ledger total.
//
// The procedure is cancel, then submit. A failed cancel is logged and
// counted but never blocks the new plan: the stale-generation filter
// at ingestion drops whatever the old plan still delivers. A rejected
// submit is retried exactly once with the earliest half of the
// boundaries; a second rejection degrades the entity for the recovery
// trigger to pick up later.
func (p *Planner) Replan(ctx context.Context, entityID string) (*types.ThresholdPlan, error) {
	entity, err := p.store.GetEntity(entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s: %w", entityID, err)
	}

	if entity.Archived() {
		return nil, fmt.Errorf("entity %s is archived", entityID)
	}

	total := int64(0)
	ledger, err := p.store.GetLedger(entityID)
	if err == nil {
		total = ledger.TotalSeconds
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load ledger for %s: %w", entityID, err)
	}

	generation := entity.Generation + 1
	logger := log.WithGeneration(entityID, generation)

	plan := Plan(entityID, generation, total, p.budget, p.increment)

	// Cancel before submit so the platform frees the superseded slots.
	if entity.Generation > 0 {
		if err := p.bridge.CancelPlan(ctx, entityID, entity.Generation); err != nil {
			logger.Warn().Err(err).Uint64("superseded", entity.Generation).
				Msg("Failed to cancel superseded plan, proceeding anyway")
			if cerr := p.store.IncrementCounter(types.CounterPlanCancelFail); cerr != nil {
				logger.Error().Err(cerr).Msg("Failed to record cancel failure")
			}
			metrics.Drops.WithLabelValues(types.CounterPlanCancelFail).Inc()
		}
	}

	submitted, err := p.submitWithRetry(ctx, logger, plan)
	if err != nil {
		entity.State = types.EntityStateDegraded
		if uerr := p.store.UpdateEntity(entity); uerr != nil {
			logger.Error().Err(uerr).Msg("Failed to mark entity degraded")
		}
		p.broker.Publish(&events.Event{
			Type:    events.EventPlanRejected,
			Entity:  entityID,
			Message: fmt.Sprintf("Plan generation %d rejected", generation),
		})
		return nil, err
	}

	if err := p.store.SavePlan(submitted); err != nil {
		return nil, fmt.Errorf("failed to persist plan for %s: %w", entityID, err)
	}

	entity.Generation = generation
	entity.State = types.EntityStatePlanned
	if err := p.store.UpdateEntity(entity); err != nil {
		return nil, fmt.Errorf("failed to update entity %s: %w", entityID, err)
	}

	metrics.PlansSubmitted.Inc()
	p.broker.Publish(&events.Event{
		Type:   events.EventPlanSubmitted,
		Entity: entityID,
		Message: fmt.Sprintf("Plan generation %d with %d boundaries up to %ds",
			generation, len(submitted.Boundaries), submitted.MaxBoundary()),
	})

	logger.Info().
		Int("boundaries", len(submitted.Boundaries)).
		Int64("based_on", total).
		Int64("max_boundary", submitted.MaxBoundary()).
		Msg("Plan submitted")

	return submitted, nil
}

// submitWithRetry submits the plan, halving it once on capacity
// rejection. The earliest boundaries survive the halving: they are the
// crossings closest to the current total and carry the most accounting
// value per slot.
func (p *Planner) submitWithRetry(ctx context.Context, logger zerolog.Logger, plan *types.ThresholdPlan) (*types.ThresholdPlan, error) {
	err := p.bridge.SubmitPlan(ctx, plan)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, platform.ErrPlanRejected) {
		return nil, fmt.Errorf("failed to submit plan for %s: %w", plan.Entity, err)
	}

	metrics.PlansRejected.Inc()

	n := len(plan.Boundaries) / 2
	if n == 0 {
		n = 1
	}
	halved := *plan
	halved.Boundaries = plan.Boundaries[:n]
	halved.SubmittedAt = time.Now()

	logger.Warn().Err(err).Int("retry_boundaries", n).
		Msg("Plan rejected, retrying with earliest half")

	if err := p.bridge.SubmitPlan(ctx, &halved); err != nil {
		if errors.Is(err, platform.ErrPlanRejected) {
			metrics.PlansRejected.Inc()
		}
		return nil, fmt.Errorf("plan for %s rejected after retry: %w", plan.Entity, err)
	}

	return &halved, nil
}

package platform

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aminenidae/stint/pkg/types"
)

// Options configures the simulator's adversarial behavior. All rates
// are probabilities in [0, 1]; zero values give a well-behaved
// platform that delivers every crossing exactly once, in order.
type Options struct {
	Seed          int64
	MaxBoundaries int     // Submit rejects plans with more boundaries; 0 = unlimited
	DuplicateRate float64 // chance a crossing is delivered twice
	DropRate      float64 // chance a crossing is silently lost
	ReorderRate   float64 // chance adjacent deliveries swap within a batch
	CancelFail    float64 // chance CancelPlan errors out

	// Clock supplies timestamps for ObservedAt. Defaults to time.Now.
	Clock func() time.Time
}

// Simulator is a deterministic in-process stand-in for the monitoring
// platform. It tracks true usage per entity, fires crossing events
// against submitted plans, and misbehaves exactly as configured.
//
// Superseded plans that were never canceled keep delivering: their
// boundaries still fire with the old generation number. That is the
// platform behavior the stale-generation filter exists for.
type Simulator struct {
	mu      sync.Mutex
	rng     *rand.Rand
	clock   func() time.Time
	opts    Options
	usage   map[string]int64
	active  map[string]*types.ThresholdPlan
	zombies map[string][]*types.ThresholdPlan
	pending []types.RawEvent
	dropped int64

	rejectNext int
}

// NewSimulator creates a simulator with the given options.
func NewSimulator(opts Options) *Simulator {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Simulator{
		rng:     rand.New(rand.NewSource(opts.Seed)),
		clock:   clock,
		opts:    opts,
		usage:   make(map[string]int64),
		active:  make(map[string]*types.ThresholdPlan),
		zombies: make(map[string][]*types.ThresholdPlan),
	}
}

var _ Bridge = (*Simulator)(nil)

// SubmitPlan registers a plan. A plan for an entity with an uncanceled
// active plan supersedes it, but the old plan keeps firing until
// canceled.
func (s *Simulator) SubmitPlan(ctx context.Context, plan *types.ThresholdPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rejectNext > 0 {
		s.rejectNext--
		return fmt.Errorf("%w: capacity exhausted", ErrPlanRejected)
	}

	if s.opts.MaxBoundaries > 0 && len(plan.Boundaries) > s.opts.MaxBoundaries {
		return fmt.Errorf("%w: %d boundaries exceeds capacity %d",
			ErrPlanRejected, len(plan.Boundaries), s.opts.MaxBoundaries)
	}

	if old, ok := s.active[plan.Entity]; ok {
		s.zombies[plan.Entity] = append(s.zombies[plan.Entity], old)
	}

	p := *plan
	p.Boundaries = append([]int64(nil), plan.Boundaries...)
	s.active[plan.Entity] = &p

	return nil
}

// CancelPlan withdraws plans for the entity up to and including the
// given generation.
func (s *Simulator) CancelPlan(ctx context.Context, entity string, generation uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.CancelFail > 0 && s.rng.Float64() < s.opts.CancelFail {
		return fmt.Errorf("cancel failed for %s generation %d", entity, generation)
	}

	if p, ok := s.active[entity]; ok && p.Generation <= generation {
		delete(s.active, entity)
	}

	kept := s.zombies[entity][:0]
	for _, z := range s.zombies[entity] {
		if z.Generation > generation {
			kept = append(kept, z)
		}
	}
	if len(kept) == 0 {
		delete(s.zombies, entity)
	} else {
		s.zombies[entity] = kept
	}

	return nil
}

// Advance moves the entity's true usage forward and queues crossing
// events for every boundary passed, active and zombie plans alike.
func (s *Simulator) Advance(entity string, seconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.usage[entity]
	next := prev + seconds
	s.usage[entity] = next

	if p, ok := s.active[entity]; ok {
		s.fireCrossings(p, prev, next)
	}
	for _, z := range s.zombies[entity] {
		s.fireCrossings(z, prev, next)
	}
}

// fireCrossings queues one event per boundary in (prev, next], with
// drop and duplicate quirks applied. Caller holds the lock.
func (s *Simulator) fireCrossings(plan *types.ThresholdPlan, prev, next int64) {
	for _, b := range plan.Boundaries {
		if b <= prev || b > next {
			continue
		}

		if s.opts.DropRate > 0 && s.rng.Float64() < s.opts.DropRate {
			s.dropped++
			continue
		}

		ev := types.RawEvent{
			Entity:     plan.Entity,
			Generation: plan.Generation,
			Boundary:   b,
			ObservedAt: s.clock(),
		}
		s.pending = append(s.pending, ev)

		if s.opts.DuplicateRate > 0 && s.rng.Float64() < s.opts.DuplicateRate {
			s.pending = append(s.pending, ev)
		}
	}
}

// Drain returns the queued deliveries for one observer invocation and
// clears the queue. Reordering is applied here: adjacent deliveries
// swap with the configured probability.
func (s *Simulator) Drain() []types.RawEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.pending
	s.pending = nil

	if s.opts.ReorderRate > 0 {
		for i := 1; i < len(batch); i++ {
			if s.rng.Float64() < s.opts.ReorderRate {
				batch[i-1], batch[i] = batch[i], batch[i-1]
			}
		}
	}

	return batch
}

// Usage returns the entity's true accumulated usage. Test assertions
// compare this against the ledger.
func (s *Simulator) Usage(entity string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[entity]
}

// ActivePlan returns the entity's current plan, if any.
func (s *Simulator) ActivePlan(entity string) (*types.ThresholdPlan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.active[entity]
	if !ok {
		return nil, false
	}
	cp := *p
	cp.Boundaries = append([]int64(nil), p.Boundaries...)
	return &cp, true
}

// Dropped returns how many crossings the drop quirk swallowed.
func (s *Simulator) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// RejectNextSubmits makes the next n submissions fail with
// ErrPlanRejected regardless of size.
func (s *Simulator) RejectNextSubmits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = n
}

package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aminenidae/stint/pkg/types"
)

func fixedClock() func() time.Time {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return base }
}

func TestWellBehavedDelivery(t *testing.T) {
	sim := NewSimulator(Options{Seed: 1, Clock: fixedClock()})
	ctx := context.Background()

	err := sim.SubmitPlan(ctx, &types.ThresholdPlan{
		Entity:     "app-1",
		Generation: 1,
		Boundaries: []int64{60, 120, 180},
	})
	assert.NoError(t, err)

	// Cross the first two boundaries
	sim.Advance("app-1", 150)

	batch := sim.Drain()
	assert.Len(t, batch, 2)
	assert.Equal(t, int64(60), batch[0].Boundary)
	assert.Equal(t, int64(120), batch[1].Boundary)
	assert.Equal(t, uint64(1), batch[0].Generation)

	// Each boundary fires at most once
	sim.Advance("app-1", 10)
	assert.Empty(t, sim.Drain())

	// Cross the last boundary
	sim.Advance("app-1", 30)
	batch = sim.Drain()
	assert.Len(t, batch, 1)
	assert.Equal(t, int64(180), batch[0].Boundary)

	assert.Equal(t, int64(190), sim.Usage("app-1"))
}

func TestCapacityRejection(t *testing.T) {
	sim := NewSimulator(Options{Seed: 1, MaxBoundaries: 4})
	ctx := context.Background()

	err := sim.SubmitPlan(ctx, &types.ThresholdPlan{
		Entity:     "app-1",
		Generation: 1,
		Boundaries: []int64{60, 120, 180, 240, 300, 360},
	})
	assert.ErrorIs(t, err, ErrPlanRejected)

	// Within capacity succeeds
	err = sim.SubmitPlan(ctx, &types.ThresholdPlan{
		Entity:     "app-1",
		Generation: 1,
		Boundaries: []int64{60, 120, 180},
	})
	assert.NoError(t, err)
}

func TestRejectNextSubmits(t *testing.T) {
	sim := NewSimulator(Options{Seed: 1})
	ctx := context.Background()

	sim.RejectNextSubmits(1)

	plan := &types.ThresholdPlan{Entity: "app-1", Generation: 1, Boundaries: []int64{60}}
	assert.ErrorIs(t, sim.SubmitPlan(ctx, plan), ErrPlanRejected)
	assert.NoError(t, sim.SubmitPlan(ctx, plan))
}

func TestUncanceledPlanKeepsFiring(t *testing.T) {
	sim := NewSimulator(Options{Seed: 1, Clock: fixedClock()})
	ctx := context.Background()

	err := sim.SubmitPlan(ctx, &types.ThresholdPlan{
		Entity:     "app-1",
		Generation: 1,
		Boundaries: []int64{100},
	})
	assert.NoError(t, err)

	// Supersede without canceling: generation 1 becomes a zombie
	err = sim.SubmitPlan(ctx, &types.ThresholdPlan{
		Entity:     "app-1",
		Generation: 2,
		Boundaries: []int64{90},
	})
	assert.NoError(t, err)

	sim.Advance("app-1", 110)

	batch := sim.Drain()
	assert.Len(t, batch, 2)

	gens := map[uint64]int64{}
	for _, ev := range batch {
		gens[ev.Generation] = ev.Boundary
	}
	assert.Equal(t, int64(100), gens[1], "zombie plan should still fire")
	assert.Equal(t, int64(90), gens[2])
}

func TestCancelStopsDelivery(t *testing.T) {
	sim := NewSimulator(Options{Seed: 1, Clock: fixedClock()})
	ctx := context.Background()

	err := sim.SubmitPlan(ctx, &types.ThresholdPlan{
		Entity:     "app-1",
		Generation: 1,
		Boundaries: []int64{100},
	})
	assert.NoError(t, err)

	err = sim.CancelPlan(ctx, "app-1", 1)
	assert.NoError(t, err)

	sim.Advance("app-1", 200)
	assert.Empty(t, sim.Drain())

	_, ok := sim.ActivePlan("app-1")
	assert.False(t, ok)
}

func TestCancelSparesNewerGeneration(t *testing.T) {
	sim := NewSimulator(Options{Seed: 1, Clock: fixedClock()})
	ctx := context.Background()

	err := sim.SubmitPlan(ctx, &types.ThresholdPlan{
		Entity:     "app-1",
		Generation: 3,
		Boundaries: []int64{100},
	})
	assert.NoError(t, err)

	// Canceling up to generation 2 leaves generation 3 in place
	err = sim.CancelPlan(ctx, "app-1", 2)
	assert.NoError(t, err)

	p, ok := sim.ActivePlan("app-1")
	assert.True(t, ok)
	assert.Equal(t, uint64(3), p.Generation)
}

func TestCancelFailure(t *testing.T) {
	sim := NewSimulator(Options{Seed: 1, CancelFail: 1.0})
	ctx := context.Background()

	err := sim.SubmitPlan(ctx, &types.ThresholdPlan{
		Entity:     "app-1",
		Generation: 1,
		Boundaries: []int64{100},
	})
	assert.NoError(t, err)

	err = sim.CancelPlan(ctx, "app-1", 1)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrPlanRejected))

	// Failed cancel leaves the plan firing
	sim.Advance("app-1", 200)
	assert.Len(t, sim.Drain(), 1)
}

func TestDuplicateQuirk(t *testing.T) {
	sim := NewSimulator(Options{Seed: 1, DuplicateRate: 1.0, Clock: fixedClock()})
	ctx := context.Background()

	err := sim.SubmitPlan(ctx, &types.ThresholdPlan{
		Entity:     "app-1",
		Generation: 1,
		Boundaries: []int64{60},
	})
	assert.NoError(t, err)

	sim.Advance("app-1", 60)

	batch := sim.Drain()
	assert.Len(t, batch, 2)
	assert.Equal(t, batch[0], batch[1])
}

func TestDropQuirk(t *testing.T) {
	sim := NewSimulator(Options{Seed: 1, DropRate: 1.0, Clock: fixedClock()})
	ctx := context.Background()

	err := sim.SubmitPlan(ctx, &types.ThresholdPlan{
		Entity:     "app-1",
		Generation: 1,
		Boundaries: []int64{60, 120},
	})
	assert.NoError(t, err)

	sim.Advance("app-1", 150)

	assert.Empty(t, sim.Drain())
	assert.Equal(t, int64(2), sim.Dropped())
}

func TestDeterministicWithSeed(t *testing.T) {
	run := func() []types.RawEvent {
		sim := NewSimulator(Options{
			Seed:          42,
			DuplicateRate: 0.5,
			DropRate:      0.2,
			ReorderRate:   0.5,
			Clock:         fixedClock(),
		})
		ctx := context.Background()

		_ = sim.SubmitPlan(ctx, &types.ThresholdPlan{
			Entity:     "app-1",
			Generation: 1,
			Boundaries: []int64{60, 120, 180, 240, 300},
		})
		sim.Advance("app-1", 320)
		return sim.Drain()
	}

	first := run()
	second := run()
	assert.Equal(t, first, second, "same seed should reproduce the same deliveries")
}

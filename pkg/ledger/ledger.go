package ledger

import (
	"fmt"
	"time"

	"github.com/aminenidae/stint/pkg/config"
	"github.com/aminenidae/stint/pkg/events"
	"github.com/aminenidae/stint/pkg/log"
	"github.com/aminenidae/stint/pkg/metrics"
	"github.com/aminenidae/stint/pkg/storage"
	"github.com/aminenidae/stint/pkg/types"
)

// Outcome reports what one ledger call did.
type Outcome struct {
	// Entry is the ledger state after the call. Nil when the call decided
	// nothing (an already-buffered fact was offered again).
	Entry *types.LedgerEntry

	// Applied counts facts folded into the entry, rebases included.
	Applied int

	// Consumed lists sequences whose store copies are settled and safe to
	// delete. A buffered fact is not consumed until it applies.
	Consumed []uint64

	// Buffered is true when the offered fact was parked out of order.
	Buffered bool

	// Gap is non-nil when a forced resync gave up on missing sequences.
	Gap *types.Gap
}

// reorderBuffer parks out-of-order facts for one entity. bufferedAt is
// when the buffer last became non-empty; the resync timeout runs from
// there.
type reorderBuffer struct {
	facts      map[uint64]*types.IncrementFact
	bufferedAt time.Time
}

// Ledger is the authoritative accounting state machine. It consumes
// increment facts strictly by sequence per entity, folds them into
// monotonic totals, and persists every transition as a single durable
// write together with its diagnostic counters.
//
// The coordinator serializes all calls per entity; the ledger itself
// adds no locking. The reorder buffers are in-memory only: a restart
// empties them, the unconsumed store copies are re-read, and the wait
// starts over.
type Ledger struct {
	store          storage.Store
	broker         *events.Broker
	increment      time.Duration
	reorderTimeout time.Duration
	buffers        map[string]*reorderBuffer
}

// NewLedger creates a ledger.
func NewLedger(store storage.Store, broker *events.Broker, cfg *config.Config) *Ledger {
	return &Ledger{
		store:          store,
		broker:         broker,
		increment:      cfg.Planner.Increment,
		reorderTimeout: cfg.Ledger.ReorderTimeout,
		buffers:        make(map[string]*reorderBuffer),
	}
}

// kind classifies one transition for post-commit effects.
type kind int

const (
	kindClean kind = iota
	kindBurst
	kindRebase
	kindNonMonotonic
	kindEpochStale
	kindReplay
)

// Apply offers one fact to the entity's ledger.
//
// A fact whose sequence continues the ledger applies under the delta
// rules; applying it may unblock buffered successors, which apply in
// the same call. A replayed sequence is skipped and consumed. A future
// sequence parks in the reorder buffer until the gap closes or
// CheckResync gives up on it.
func (l *Ledger) Apply(fact *types.IncrementFact) (*Outcome, error) {
	out := &Outcome{}

	if buf := l.buffers[fact.Entity]; buf != nil {
		if _, parked := buf.facts[fact.Sequence]; parked {
			out.Buffered = true
			return out, nil
		}
	}

	var buffered bool

	timer := metrics.NewTimer()
	entry, k, err := l.step(fact, &buffered)
	if err != nil {
		return nil, err
	}
	timer.ObserveDuration(metrics.ApplyLatency)

	out.Entry = entry

	if buffered {
		l.park(fact)
		out.Buffered = true
		return out, nil
	}

	out.Consumed = append(out.Consumed, fact.Sequence)
	l.settle(fact, entry, k, out)

	if k == kindClean || k == kindBurst || k == kindRebase {
		if err := l.drainBuffer(fact.Entity, out); err != nil {
			return out, err
		}
	}

	return out, nil
}

// step runs one fact through a single ledger transaction and reports
// the transition kind. buffered is set instead when the sequence is
// ahead of the ledger.
func (l *Ledger) step(fact *types.IncrementFact, buffered *bool) (*types.LedgerEntry, kind, error) {
	k := kindClean

	entry, err := l.store.UpdateLedger(fact.Entity, func(entry *types.LedgerEntry) (*storage.LedgerUpdate, error) {
		switch {
		case fact.Sequence <= entry.LastSequence:
			k = kindReplay
			return &storage.LedgerUpdate{Counters: []string{types.CounterReplaySkip}}, nil

		case fact.Sequence > entry.LastSequence+1:
			*buffered = true
			return &storage.LedgerUpdate{Counters: []string{types.CounterReorderBuffered}}, nil

		default:
			var update *storage.LedgerUpdate
			update, k = l.transition(entry, fact)
			return update, nil
		}
	})
	if err != nil {
		return nil, k, fmt.Errorf("ledger transition for %s: %w", fact.Entity, err)
	}

	return entry, k, nil
}

// transition applies the delta rules to an in-order fact. The entry is
// mutated in place; the returned update carries the counters to record
// in the same transaction.
func (l *Ledger) transition(entry *types.LedgerEntry, fact *types.IncrementFact) (*storage.LedgerUpdate, kind) {
	now := time.Now()
	entry.UpdatedAt = now

	// Facts from generations planned against a previous epoch's scale
	// would land their full boundary on the reset total. Consume and
	// count them instead.
	if entry.EpochFloorGen > 0 && fact.Generation <= entry.EpochFloorGen {
		entry.LastSequence = fact.Sequence
		return &storage.LedgerUpdate{Counters: []string{types.CounterEpochStale}}, kindEpochStale
	}

	if entry.Epoch == "" {
		entry.Epoch = types.Epoch(fact.ObservedAt)
		entry.EpochStart = fact.ObservedAt
	}

	delta := fact.Boundary - entry.TotalSeconds

	if delta <= 0 {
		if fact.Generation > entry.LastGeneration {
			// The platform's counter restarted behind us. The boundary
			// carries no new usage; advance the markers and move on.
			entry.LastSequence = fact.Sequence
			entry.LastGeneration = fact.Generation
			entry.LastObservedAt = fact.ObservedAt
			return &storage.LedgerUpdate{Counters: []string{types.CounterRebase}}, kindRebase
		}

		// Same or lower generation going backwards is just noise.
		entry.LastSequence = fact.Sequence
		return &storage.LedgerUpdate{Counters: []string{types.CounterNonMonotonicDrop}}, kindNonMonotonic
	}

	k := kindClean
	counters := []string(nil)

	if !entry.LastObservedAt.IsZero() {
		elapsed := int64(fact.ObservedAt.Sub(entry.LastObservedAt) / time.Second)
		ceiling := elapsed + int64(l.increment/time.Second)
		if delta > ceiling {
			// Usage grew faster than wall clock allows. Apply anyway;
			// fabricating data loss to normalize a burst is worse than
			// reporting it.
			entry.SuspiciousBursts++
			counters = append(counters, types.CounterSuspiciousBurst)
			k = kindBurst
		}
	}

	entry.TotalSeconds = fact.Boundary
	entry.LastSequence = fact.Sequence
	entry.LastGeneration = fact.Generation
	entry.LastObservedAt = fact.ObservedAt

	if counters == nil {
		return nil, k
	}
	return &storage.LedgerUpdate{Counters: counters}, k
}

// settle performs the post-commit effects for one decided fact.
func (l *Ledger) settle(fact *types.IncrementFact, entry *types.LedgerEntry, k kind, out *Outcome) {
	logger := log.WithGeneration(fact.Entity, fact.Generation)

	metrics.LedgerTotalSeconds.WithLabelValues(fact.Entity).Set(float64(entry.TotalSeconds))

	switch k {
	case kindClean:
		out.Applied++
		metrics.FactsApplied.Inc()
		l.broker.Publish(&events.Event{
			Type:   events.EventLedgerApplied,
			Entity: fact.Entity,
			Message: fmt.Sprintf("Sequence %d applied, total %ds",
				fact.Sequence, entry.TotalSeconds),
		})

	case kindBurst:
		out.Applied++
		metrics.FactsApplied.Inc()
		metrics.Drops.WithLabelValues(types.CounterSuspiciousBurst).Inc()
		logger.Warn().
			Uint64("sequence", fact.Sequence).
			Int64("boundary", fact.Boundary).
			Int64("total", entry.TotalSeconds).
			Msg("Suspicious burst applied")
		l.broker.Publish(&events.Event{
			Type:   events.EventLedgerBurst,
			Entity: fact.Entity,
			Message: fmt.Sprintf("Sequence %d jumped to %ds faster than wall clock",
				fact.Sequence, fact.Boundary),
		})

	case kindRebase:
		out.Applied++
		metrics.Drops.WithLabelValues(types.CounterRebase).Inc()
		logger.Info().
			Uint64("sequence", fact.Sequence).
			Int64("boundary", fact.Boundary).
			Int64("total", entry.TotalSeconds).
			Msg("Rebase, boundary at or below total")
		l.broker.Publish(&events.Event{
			Type:   events.EventLedgerRebase,
			Entity: fact.Entity,
			Message: fmt.Sprintf("Generation %d rebased at boundary %ds",
				fact.Generation, fact.Boundary),
		})

	case kindNonMonotonic:
		metrics.Drops.WithLabelValues(types.CounterNonMonotonicDrop).Inc()
		logger.Debug().
			Uint64("sequence", fact.Sequence).
			Int64("boundary", fact.Boundary).
			Msg("Non-monotonic boundary dropped")

	case kindEpochStale:
		metrics.Drops.WithLabelValues(types.CounterEpochStale).Inc()
		logger.Debug().
			Uint64("sequence", fact.Sequence).
			Uint64("floor", entry.EpochFloorGen).
			Msg("Pre-epoch generation dropped")

	case kindReplay:
		metrics.Drops.WithLabelValues(types.CounterReplaySkip).Inc()
		logger.Debug().
			Uint64("sequence", fact.Sequence).
			Msg("Replayed sequence skipped")
	}
}

// park adds a fact to the entity's reorder buffer.
func (l *Ledger) park(fact *types.IncrementFact) {
	buf := l.buffers[fact.Entity]
	if buf == nil {
		buf = &reorderBuffer{facts: make(map[uint64]*types.IncrementFact)}
		l.buffers[fact.Entity] = buf
	}
	if len(buf.facts) == 0 {
		buf.bufferedAt = time.Now()
	}
	buf.facts[fact.Sequence] = fact

	metrics.Drops.WithLabelValues(types.CounterReorderBuffered).Inc()
	logger := log.WithGeneration(fact.Entity, fact.Generation)
	logger.Debug().
		Uint64("sequence", fact.Sequence).
		Int("buffered", len(buf.facts)).
		Msg("Out-of-order fact parked")
}

// drainBuffer applies buffered facts while they continue the sequence.
func (l *Ledger) drainBuffer(entity string, out *Outcome) error {
	buf := l.buffers[entity]
	if buf == nil {
		return nil
	}

	for {
		next := out.Entry.LastSequence + 1
		fact, ok := buf.facts[next]
		if !ok {
			break
		}
		delete(buf.facts, next)

		var buffered bool
		entry, k, err := l.step(fact, &buffered)
		if err != nil {
			return err
		}

		out.Entry = entry
		out.Consumed = append(out.Consumed, fact.Sequence)
		l.settle(fact, entry, k, out)
	}

	if len(buf.facts) == 0 {
		delete(l.buffers, entity)
	}

	return nil
}

// CheckResync gives up on a reorder gap that has outlived the timeout.
// The ledger resynchronizes to the lowest buffered sequence, reports
// the skipped range as a gap, and applies what it held. Missing facts
// are missing forever; waiting longer only delays good data.
func (l *Ledger) CheckResync(entity string, now time.Time) (*Outcome, error) {
	out := &Outcome{}

	buf := l.buffers[entity]
	if buf == nil || len(buf.facts) == 0 {
		return out, nil
	}
	if now.Sub(buf.bufferedAt) < l.reorderTimeout {
		return out, nil
	}

	lowest := uint64(0)
	for seq := range buf.facts {
		if lowest == 0 || seq < lowest {
			lowest = seq
		}
	}

	var start time.Time
	entry, err := l.store.UpdateLedger(entity, func(entry *types.LedgerEntry) (*storage.LedgerUpdate, error) {
		start = entry.LastObservedAt
		entry.LastSequence = lowest - 1
		entry.UpdatedAt = now
		return &storage.LedgerUpdate{Counters: []string{types.CounterForcedResync}}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("forced resync for %s: %w", entity, err)
	}

	metrics.Drops.WithLabelValues(types.CounterForcedResync).Inc()

	if start.IsZero() {
		start = buf.bufferedAt
	}
	out.Entry = entry
	out.Gap = &types.Gap{
		Entity:         entity,
		Start:          start,
		End:            now,
		SuspectedCause: types.GapCauseReordered,
		DetectedAt:     now,
	}

	logger := log.WithEntity(entity)
	logger.Warn().
		Uint64("resumed_at", lowest).
		Int("buffered", len(buf.facts)).
		Msg("Reorder timeout, forcing resync")
	l.broker.Publish(&events.Event{
		Type:   events.EventLedgerResync,
		Entity: entity,
		Message: fmt.Sprintf("Sequence resynchronized to %d after reorder timeout",
			lowest),
	})

	if err := l.drainBuffer(entity, out); err != nil {
		return out, err
	}

	return out, nil
}

// BufferedEntities lists entities with parked facts, for the
// coordinator's periodic resync sweep.
func (l *Ledger) BufferedEntities() []string {
	entities := make([]string, 0, len(l.buffers))
	for entity := range l.buffers {
		entities = append(entities, entity)
	}
	return entities
}

// Rollover closes the entity's accounting day if now falls in a newer
// epoch. The closing total snapshots into the day aggregate, the total
// resets to zero, and the epoch floor rises so facts planned against
// the old scale cannot land on the fresh total. Returns true when a
// rollover happened; the caller owes the entity a forced replan.
func (l *Ledger) Rollover(entity string, now time.Time) (bool, error) {
	day := types.Epoch(now)

	var (
		rolled    bool
		closedDay string
		closedAt  int64
	)

	_, err := l.store.UpdateLedger(entity, func(entry *types.LedgerEntry) (*storage.LedgerUpdate, error) {
		if entry.Epoch == "" {
			// Nothing accounted yet; open the epoch without a snapshot.
			entry.Epoch = day
			entry.EpochStart = now
			entry.UpdatedAt = now
			return nil, nil
		}
		if entry.Epoch == day {
			return nil, nil
		}

		rolled = true
		closedDay = entry.Epoch
		closedAt = entry.TotalSeconds

		snapshot := &types.DayTotal{
			Entity:  entity,
			Day:     entry.Epoch,
			Seconds: entry.TotalSeconds,
		}

		entry.TotalSeconds = 0
		entry.Epoch = day
		entry.EpochStart = now
		entry.EpochFloorGen = entry.LastGeneration
		entry.SuspiciousBursts = 0
		entry.UpdatedAt = now

		return &storage.LedgerUpdate{Snapshot: snapshot}, nil
	})
	if err != nil {
		return false, fmt.Errorf("epoch rollover for %s: %w", entity, err)
	}

	if rolled {
		metrics.EpochRollovers.Inc()
		metrics.LedgerTotalSeconds.WithLabelValues(entity).Set(0)

		logger := log.WithEntity(entity)
		logger.Info().
			Str("closed", closedDay).
			Int64("seconds", closedAt).
			Str("open", day).
			Msg("Epoch rollover")
		l.broker.Publish(&events.Event{
			Type:   events.EventEpochRollover,
			Entity: entity,
			Message: fmt.Sprintf("Day %s closed at %ds", closedDay, closedAt),
		})
	}

	return rolled, nil
}

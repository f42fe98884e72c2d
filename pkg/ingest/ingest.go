package ingest

import (
	"context"
	"time"

	"github.com/aminenidae/stint/pkg/config"
	"github.com/aminenidae/stint/pkg/log"
	"github.com/aminenidae/stint/pkg/metrics"
	"github.com/aminenidae/stint/pkg/storage"
	"github.com/aminenidae/stint/pkg/types"
)

// Ingestor decides raw events and appends accepted facts to the store.
// It holds no decision state of its own: everything the accept rules
// need lives in the per-entity IngestState inside the store, so any
// observer invocation, on any instance, decides identically.
//
// The only in-memory state is the retry queue for events whose store
// write failed. It is bounded and lossy; the gap detector covers what
// it drops.
type Ingestor struct {
	store       storage.Store
	suppression time.Duration
	retryMax    int
	retry       []types.RawEvent
}

// NewIngestor creates an ingestor.
func NewIngestor(store storage.Store, cfg *config.Config) *Ingestor {
	return &Ingestor{
		store:       store,
		suppression: cfg.Ingest.SuppressionWindow,
		retryMax:    cfg.Ingest.RetryQueueMax,
	}
}

// Ingest decides one raw event. The decision and the fact append are
// one store transaction. Returns the accepted fact, or nil when the
// event was dropped.
//
// The rules run in order; the first to fire wins:
//
//  1. generation below the highest accepted one: stale_generation
//  2. boundary already recorded for this generation: duplicate_event
//  3. observed within the suppression window of the last accepted
//     event: suppressed_burst
//  4. otherwise accept and assign the next sequence
//
// A generation above the highest accepted one advances the state and
// clears the seen-boundary set, but only if the event itself is
// accepted; a dropped event leaves no trace.
func (i *Ingestor) Ingest(event types.RawEvent) (*types.IncrementFact, error) {
	var dropClass string

	fact, err := i.store.AcceptFact(event.Entity, func(state *types.IngestState) (*types.IncrementFact, string, error) {
		if event.Generation < state.Generation {
			dropClass = types.CounterStaleGeneration
			return nil, dropClass, nil
		}

		if event.Generation > state.Generation {
			state.Generation = event.Generation
			state.SeenBoundaries = make(map[int64]bool)
		}

		if state.SeenBoundaries[event.Boundary] {
			dropClass = types.CounterDuplicateEvent
			return nil, dropClass, nil
		}

		if !state.LastAcceptedAt.IsZero() {
			gap := event.ObservedAt.Sub(state.LastAcceptedAt)
			if gap < 0 {
				gap = -gap
			}
			if gap < i.suppression {
				dropClass = types.CounterSuppressedBurst
				return nil, dropClass, nil
			}
		}

		fact := &types.IncrementFact{
			Entity:     event.Entity,
			Generation: event.Generation,
			Boundary:   event.Boundary,
			ObservedAt: event.ObservedAt,
			Sequence:   state.NextSequence,
		}

		state.NextSequence++
		state.SeenBoundaries[event.Boundary] = true
		state.LastAcceptedAt = event.ObservedAt

		return fact, "", nil
	})
	if err != nil {
		return nil, err
	}

	if dropClass != "" {
		metrics.Drops.WithLabelValues(dropClass).Inc()
		log.WithGeneration(event.Entity, event.Generation).Debug().
			Str("class", dropClass).
			Int64("boundary", event.Boundary).
			Msg("Event dropped")
	}

	return fact, nil
}

// IngestBatch decides a delivery batch under the invocation budget.
// Queued retries from earlier failures go first, then the new events
// in delivery order. When the context expires mid-batch, the remainder
// joins the retry queue instead of being decided; better late than
// decided against a half-written state.
//
// Returns the facts accepted from this batch. The caller raises the
// wake-up signal when the count is nonzero.
func (i *Ingestor) IngestBatch(ctx context.Context, batch []types.RawEvent) []*types.IncrementFact {
	pending := append(i.retry, batch...)
	i.retry = nil

	var accepted []*types.IncrementFact

	for n, event := range pending {
		select {
		case <-ctx.Done():
			log.WithComponent("ingest").Warn().
				Int("deferred", len(pending)-n).
				Msg("Invocation budget exhausted, deferring remainder")
			for _, rest := range pending[n:] {
				i.enqueueRetry(rest)
			}
			return accepted
		default:
		}

		fact, err := i.Ingest(event)
		if err != nil {
			log.WithComponent("ingest").Error().Err(err).
				Str("entity", event.Entity).
				Int64("boundary", event.Boundary).
				Msg("Store write failed, queuing for retry")
			i.enqueueRetry(event)
			continue
		}

		if fact != nil {
			accepted = append(accepted, fact)
		}
	}

	return accepted
}

// RetryDepth reports how many events await redelivery.
func (i *Ingestor) RetryDepth() int {
	return len(i.retry)
}

// enqueueRetry appends to the bounded retry queue, dropping the oldest
// entry on overflow. The overflow counter is best-effort: if the store
// is down (the usual reason events are here at all), only the
// in-process mirror records the loss.
func (i *Ingestor) enqueueRetry(event types.RawEvent) {
	if len(i.retry) >= i.retryMax {
		dropped := i.retry[0]
		i.retry = i.retry[1:]

		metrics.Drops.WithLabelValues(types.CounterRetryOverflow).Inc()
		if err := i.store.IncrementCounter(types.CounterRetryOverflow); err != nil {
			log.WithComponent("ingest").Warn().Err(err).
				Msg("Failed to persist retry overflow counter")
		}

		log.WithGeneration(dropped.Entity, dropped.Generation).Warn().
			Int64("boundary", dropped.Boundary).
			Msg("Retry queue overflow, oldest event lost")
	}

	i.retry = append(i.retry, event)
}

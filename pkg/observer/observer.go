package observer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aminenidae/stint/pkg/config"
	"github.com/aminenidae/stint/pkg/ingest"
	"github.com/aminenidae/stint/pkg/log"
	"github.com/aminenidae/stint/pkg/signal"
	"github.com/aminenidae/stint/pkg/storage"
	"github.com/aminenidae/stint/pkg/types"
)

// Source yields the platform's pending threshold-crossing deliveries.
// The simulator implements it in development; a production bridge would
// adapt the platform's push callback.
type Source interface {
	Drain() []types.RawEvent
}

// Observer is the short-lived half of the pipeline. Each Invoke is one
// platform invocation: bounded in time, no memory of previous
// invocations beyond what the shared store holds. Between invocations
// the observer exists only as a writer identity and a liveness
// heartbeat.
type Observer struct {
	id       string
	store    storage.Store
	source   Source
	ingestor *ingest.Ingestor
	notifier *signal.Notifier

	budget time.Duration
	beat   time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates an observer with a fresh writer identity.
func New(store storage.Store, source Source, notifier *signal.Notifier, cfg *config.Config) *Observer {
	return &Observer{
		id:       uuid.New().String(),
		store:    store,
		source:   source,
		ingestor: ingest.NewIngestor(store, cfg),
		notifier: notifier,
		budget:   cfg.Ingest.InvocationBudget,
		beat:     cfg.Liveness.Interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// ID returns the writer instance ID stamped on liveness markers.
func (o *Observer) ID() string {
	return o.id
}

// Invoke runs one observer invocation under the time budget: drain the
// platform's pending deliveries, run them through the accept rules, and
// raise the wake-up signal if anything new landed. Returns how many
// facts were accepted.
//
// Deliveries left unprocessed when the budget expires are the
// platform's to redeliver; deduplication makes redelivery harmless.
func (o *Observer) Invoke(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	facts := o.ingestor.IngestBatch(ctx, o.source.Drain())
	if len(facts) == 0 {
		return 0
	}

	if err := o.notifier.Raise(); err != nil {
		// The coordinator's fallback poll picks the facts up anyway.
		log.WithComponent("observer").Warn().Err(err).Msg("Failed to raise wake-up signal")
	}

	return len(facts)
}

// Start begins the liveness heartbeat.
func (o *Observer) Start() {
	log.WithComponent("observer").Info().
		Str("writer", o.id).
		Dur("beat", o.beat).
		Msg("Observer starting")
	go o.heartbeatLoop()
}

// Stop halts the heartbeat. In-flight Invoke calls are unaffected.
func (o *Observer) Stop() {
	close(o.stopCh)
	<-o.doneCh
}

// heartbeatLoop writes liveness markers on the configured cadence. The
// first beat lands immediately so staleness detection starts from boot,
// not from boot plus one interval.
func (o *Observer) heartbeatLoop() {
	defer close(o.doneCh)

	ticker := time.NewTicker(o.beat)
	defer ticker.Stop()

	o.beatOnce()

	for {
		select {
		case <-ticker.C:
			o.beatOnce()
		case <-o.stopCh:
			return
		}
	}
}

func (o *Observer) beatOnce() {
	marker := &types.LivenessMarker{
		WriterInstanceID: o.id,
		Timestamp:        time.Now(),
	}
	if err := o.store.SaveLiveness(marker); err != nil {
		log.WithComponent("observer").Error().Err(err).Msg("Failed to write liveness marker")
	}
}

/*
Package events provides an in-memory event broker for stint's pub/sub
messaging.

The events package implements a lightweight event bus for broadcasting
accounting events to interested subscribers. It supports asynchronous event
delivery with per-subscriber buffers, enabling loose coupling between the
engine components and the streaming API.

# Architecture

stint's event system provides non-blocking pub/sub messaging with buffered
channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Entity Events:                             │          │
	│  │    - entity.enrolled, entity.archived       │          │
	│  │    - entity.degraded, entity.recovered      │          │
	│  │                                              │          │
	│  │  Plan Events:                               │          │
	│  │    - plan.submitted, plan.rejected          │          │
	│  │                                              │          │
	│  │  Ledger Events:                             │          │
	│  │    - ledger.applied, ledger.rebase          │          │
	│  │    - ledger.suspicious-burst, ledger.resync │          │
	│  │    - ledger.epoch-rollover                  │          │
	│  │                                              │          │
	│  │  Health Events:                             │          │
	│  │    - gap.detected                           │          │
	│  │    - liveness.degraded, liveness.restored   │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Delivery Semantics

Publish is non-blocking: if a subscriber's buffer is full, the event is
skipped for that subscriber. The broker is a notification fan-out, not a
durable queue; the ledger in the shared store remains the source of truth,
and a consumer that needs a consistent view re-reads it. This mirrors the
wake-up signal's contract: signals say "something changed", the store says
what.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:    events.EventLedgerApplied,
		Entity:  "entity-1",
		Message: "total advanced to 180s",
	})

	for event := range sub {
		fmt.Printf("%s: %s\n", event.Type, event.Message)
	}

# Integration Points

This package integrates with:

  - pkg/ledger: Publishes apply, rebase, burst, resync, and rollover events
  - pkg/planner: Publishes plan submissions and rejections
  - pkg/coordinator: Publishes enrollment and archival events
  - pkg/health: Publishes gap and liveness events
  - pkg/recovery: Publishes degradation and recovery transitions
  - pkg/api: Streams events to SSE subscribers, filtered per entity
*/
package events

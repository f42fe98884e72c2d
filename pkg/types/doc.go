/*
Package types defines the core data structures used throughout stint.

This package contains the fundamental types of the usage accounting domain:
entities, threshold plans, increment facts, ledger entries, liveness markers,
and gaps. All other packages build on these types for state management, API
responses, and accounting logic.

# Architecture

Usage is never observed directly. The monitoring platform only promises to
fire a notification when an entity's cumulative time-in-use crosses a
requested boundary, and it limits how many boundaries may be outstanding at
once. Everything in this package exists to turn that sparse, unreliable
event stream into an authoritative ledger:

  - Entity: an enrolled target, owned by the coordinator
  - ThresholdPlan: the boundaries currently requested, versioned by generation
  - RawEvent: a threshold crossing as the platform delivered it
  - IncrementFact: an accepted crossing with an assigned per-entity sequence
  - IngestState: the observer's dedup state, persisted in the shared store
  - LedgerEntry: the authoritative per-entity total and apply markers
  - LivenessMarker: the observer's periodic heartbeat
  - Gap: a detected, advisory period of suspected missing accounting

# Ownership

The coordinator exclusively owns Entity, ThresholdPlan, and LedgerEntry.
The observer owns nothing durably; it writes IncrementFacts and
LivenessMarkers to the shared store and must tolerate being killed between
any two writes. Gaps are derived state and are never persisted as truth.

# Lifecycle

An entity moves through EntityState values:

	unplanned -> planned -> active -> {active | degraded | unplanned}

The transition to active happens when the first fact of a plan's generation
is applied. Degradation comes from health inference; recovery goes back
through planned via a replan. The only terminal transition is archival on
un-enrollment.

# Counters

Every dropped, rebased, or flagged delivery increments one of the Counter*
classes. The classes are deliberately fine-grained so that diagnostics can
distinguish platform misbehavior (duplicate_event, suppressed_burst) from
accounting corrections (rebase, nonmonotonic_drop) and from pipeline
incidents (retry_overflow_drop, forced_resync).
*/
package types

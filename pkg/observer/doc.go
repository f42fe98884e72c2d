// Package observer implements the short-lived half of the accounting
// pipeline.
//
// The monitoring platform invokes the observer; the observer never
// schedules itself. Each invocation drains the platform's pending
// threshold-crossing deliveries, runs them through the ingestion accept
// rules, and raises the wake-up signal when new facts landed, all
// within a strict wall-clock budget (Ingest.InvocationBudget).
// Deliveries left over when the budget expires move to a bounded retry
// queue and go first in the next invocation.
//
// The observer retains nothing durable between invocations. Dedup
// state, sequence counters, and facts all live in the shared store; the
// retry queue, which also catches deliveries whose store write failed,
// is the only in-process carryover. Losing it to a crash costs nothing
// the platform's own redelivery and deduplication cannot absorb.
//
// Alongside invocations, the observer heartbeats a liveness marker
// (Liveness.Interval) stamped with its writer instance ID. The health
// monitor reads marker age to decide whether crossings might be going
// unrecorded; the marker has no other meaning.
//
// The coordinator is never called directly. Store plus signal file is
// the entire interface between the two halves.
package observer

// Package coordinator runs the long-lived reconciliation side of the
// accounting engine.
//
// The coordinator composes the ledger, the health monitor, the planner,
// and the recovery trigger over the shared store, and drives them from
// a single loop:
//
//	wake-up signal ──┐
//	fallback poll ───┼──> drain pending facts ──> ledger
//	epoch boundary ──┘         │
//	                           └──> activate / exhaustion replan
//	fallback poll ─────> resync sweep ──> forced resync + gap
//	health tick ───────> liveness check + gap scan ──> recovery
//	epoch boundary ────> rollover ──> forced replan
//
// Every pass is idempotent. Draining twice replays already-consumed
// sequences into no-ops, rollover is a no-op within an open day, and
// replans are rate-limited per entity. The loop can therefore fire on
// any mix of signals, polls, and restarts without double counting.
//
// # Scheduling domains
//
// The observer is deliberately absent here. It runs in its own
// scheduling domain, invoked by the monitoring platform, and the two
// sides communicate only through the store and the wake-up signal
// file. The coordinator never calls the observer and tolerates its
// absence: a missed signal costs one fallback poll interval, nothing
// more.
//
// # Boot
//
// On start the coordinator first drains whatever accumulated while it
// was down, then rolls any epoch left open across a boundary. Facts
// observed before the boundary but drained after it land in the day
// they were observed in; the cost is that facts observed after the
// boundary during the same outage land there too. Attribution error is
// bounded by the outage, loss would not be.
package coordinator

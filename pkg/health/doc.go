/*
Package health infers the health of the accounting pipeline and detects
suspected gaps in coverage.

The monitor never talks to the observer or the platform directly. It
reads the same shared store both halves of the system write to and
reasons about freshness: a liveness marker that stopped advancing, an
entity that is in active use but has recorded nothing for too long.
Everything it produces is advisory. Gaps and degraded verdicts feed
operators and the recovery trigger; they never mutate ledger state.

# Architecture

	            shared store
	   (liveness, ledgers, plans, entities)
	                  |
	                  v
	 ┌────────────────────────────────────┐
	 │              Monitor               │
	 │                                    │
	 │  Check ── liveness age ──> status  │
	 │                                    │
	 │  Scan ─── per entity:              │
	 │           active but silent?       │
	 │           rank cause, open gap     │
	 │                                    │
	 │  Record ── external gaps (resync)  │
	 └───────────────┬────────────────────┘
	                 |
	                 v
	    gap ring + events + metrics

# Liveness Inference

The observer writes a liveness marker on every heartbeat. Check compares
the marker's age against the staleness threshold; beyond it, the
pipeline is degraded("liveness-stale") and threshold crossings may be
going unrecorded right now. Transitions in either direction publish
events and update the observer component in the health registry. The
observer is not a critical component: a degraded observer leaves the
daemon serving reads, totals simply stop growing until it recovers.

A missing marker is not staleness. Before the observer's first beat the
monitor reports healthy rather than degrading a daemon that just booted.

# Gap Detection

Scan visits every enrolled, planned entity and asks the ActivitySource
whether it is currently in use. An active entity whose last accounting
observation is older than the activity window has a gap. The suspected
cause is ranked best-effort:

	liveness-stale            observer heartbeat is stale
	event-budget-exhausted    every boundary of the plan is behind the total
	plan-stale                plan older than the window with no facts since
	unknown                   none of the above explains the silence

The cause is diagnostic color for operators, not a dispatch key; the
recovery trigger decides replans from the health status, not from
individual gaps.

One silent period produces one gap. While the silence continues, later
scans extend the gap's End in place instead of opening a new one; the
first fact or an idle period closes it. History is a bounded ring
(capacity Health.GapHistory); the oldest gaps fall off first.

Record admits gaps detected elsewhere, such as the ledger's forced
reorder resyncs, into the same ring so /v1/gaps shows one merged
history.

# Usage

	monitor := health.NewMonitor(store, broker, activity, cfg)

	status := monitor.Check(time.Now())
	if !status.Healthy {
		// rate-limited replan via recovery
	}

	for _, gap := range monitor.Scan(time.Now()) {
		fmt.Printf("gap on %s: %s\n", gap.Entity, gap.SuspectedCause)
	}

The ActivitySource is whatever can answer "is this entity in use"; in
development the platform simulator provides it, and ActivityFunc adapts
a bare function:

	activity := health.ActivityFunc(func(entity string) bool {
		return sim.Usage(entity) > lastSeen[entity]
	})

# Integration Points

  - pkg/coordinator runs Check and Scan on the health tick and forwards
    degraded verdicts to pkg/recovery
  - pkg/ledger reorder resyncs land here via Record
  - pkg/api serves the ring through /v1/gaps and the status through
    /v1/status
  - pkg/metrics carries the observer component health and the
    stint_gaps_detected_total counter

# Concurrency

Check, Scan, Record, and the accessors are safe for concurrent use; the
ring and the ongoing-gap index share one mutex. Store reads happen
outside it.
*/
package health

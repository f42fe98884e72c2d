// Package ledger implements the cumulative reconciliation ledger, the
// authoritative record of how much accounted time each entity has spent
// in use during the current day.
//
// # Position in the Pipeline
//
//	                 sequenced facts (store)
//	                          |
//	                          v
//	  +---------------------------------------------------+
//	  |                     LEDGER                        |
//	  |                                                   |
//	  |  Apply ----> in order? ----> delta rules ----+    |
//	  |    |            |                            |    |
//	  |    |         out of order                    |    |
//	  |    |            |                            |    |
//	  |    |            v                            v    |
//	  |    |      reorder buffer ---- drain ---> entry    |
//	  |    |            |                          |      |
//	  |    |       CheckResync                     |      |
//	  |    |      (timeout, gap)                   |      |
//	  |    |                                       |      |
//	  |  Rollover (epoch boundary) ----------------+      |
//	  +---------------------------------------------------+
//	                          |
//	                          v
//	          durable entry + counters (one tx each)
//
// Facts arrive from the ingestion layer already deduplicated and
// carrying a per-entity sequence number. The ledger consumes them
// strictly in sequence order and folds each into the entity's
// LedgerEntry. Every transition, including the ones that apply nothing,
// commits as a single store transaction together with its diagnostic
// counters, so a crash can never separate a decision from its record.
//
// # Delta Rules
//
// For an in-order fact the ledger compares the reported cumulative
// boundary against the running total:
//
//	delta = boundary - total
//
//	delta > 0, within wall-clock ceiling   apply: total = boundary
//	delta > 0, above wall-clock ceiling    suspicious burst: apply and flag
//	delta <= 0, higher generation          rebase: total unchanged, markers advance
//	delta <= 0, same or lower generation   non-monotonic drop
//
// The ceiling is elapsed wall time since the last applied fact plus one
// planning increment; a delta above it means the platform reported more
// usage than real time allows. Bursts still apply because the boundary
// remains the platform's authoritative cumulative reading; dropping it
// would fabricate data loss to hide an anomaly instead of reporting it.
//
// A rebase happens when a newer generation's boundary lands at or below
// the running total, which means the platform restarted its counting
// from a plan laid on an older total. The total never moves backwards.
//
// # Sequence Discipline
//
// A fact whose sequence is at or below the entry's LastSequence was
// already decided in a previous run and is skipped (replay_skip). A
// fact more than one ahead parks in an in-memory reorder buffer;
// applying an in-order fact drains any buffered successors in the same
// call. If a buffered fact waits longer than the configured reorder
// timeout, CheckResync concludes the missing sequences are gone,
// advances LastSequence to just below the lowest buffered fact, records
// a forced_resync, reports the skipped range as a reordered gap, and
// applies what it held.
//
// The buffer is deliberately not persisted. On restart it is empty, the
// still-unconsumed facts are re-read from the store, and the wait
// starts over.
//
// # Epoch Rollover
//
// Accounting is per calendar day. Rollover closes the open day when the
// clock crosses into a new one: the final total snapshots into the day
// aggregate, the total resets to zero, and EpochFloorGen records the
// last pre-reset generation. Facts from generations at or below the
// floor were planned against the old day's scale; applying their
// boundaries to the fresh total would replay a whole day of usage, so
// they are consumed and counted as epoch_stale instead. Sequence
// markers survive the rollover, deduplication does not reset.
//
// Rollover is idempotent per day and reports whether it did anything,
// because a real rollover obligates the caller to force a replan at the
// new day's scale.
//
// # Counter Classes
//
//	replay_skip        sequence already decided, skipped
//	reorder_buffered   fact ahead of the ledger, parked
//	forced_resync      reorder timeout, sequence window abandoned
//	rebase             newer generation below total, markers advanced
//	nonmonotonic_drop  stale or corrupt boundary discarded
//	suspicious_burst   applied, but faster than wall clock allows
//	epoch_stale        generation predates the current day
//
// Store counters survive restarts and are the audit trail; the
// Prometheus mirrors under stint_drops_total reset with the process.
//
// # Usage
//
//	led := ledger.NewLedger(store, broker, cfg)
//
//	for _, fact := range pending {
//		out, err := led.Apply(fact)
//		if err != nil {
//			return err
//		}
//		for _, seq := range out.Consumed {
//			store.DeleteFact(fact.Entity, seq)
//		}
//	}
//
//	for _, entity := range led.BufferedEntities() {
//		out, _ := led.CheckResync(entity, time.Now())
//		if out.Gap != nil {
//			health.Record(out.Gap)
//		}
//	}
//
// # Concurrency
//
// The ledger holds per-entity state with no locking of its own. The
// coordinator is the only caller and serializes all ledger calls; the
// observer never touches this package.
package ledger

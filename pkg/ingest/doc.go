/*
Package ingest turns raw platform deliveries into deduplicated
increment facts.

This is the observer's half of the pipeline. It runs inside short,
budget-constrained invocations and must assume the previous invocation
died mid-batch and the next may too, so an accepted fact commits in one
store transaction with the IngestState advance that admitted it. A
dropped delivery persists nothing but its counter; if the platform
retries it later, the rules get a clean second look. Two invocations
racing on one entity serialize on the store's writer lock and see each
other's state.

The accept rules exist because the platform's delivery contract is
weak: boundaries may fire twice, out of order, with stale generations
after a failed cancel, or all at once when a superseded plan's
boundaries sit below current usage. Ingestion's job is to let exactly
one fact through per (generation, boundary) and to keep burst storms
from flooding the ledger. What it cannot decide locally (whether the
crossing's delta is plausible) is the ledger's job.

Every dropped event increments a diagnostic counter in the same
transaction as the decision. Silent loss is the one unforgivable sin
here; a drop without a counter is a bug, not an optimization.
*/
package ingest

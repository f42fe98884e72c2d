/*
Package planner computes and submits threshold plans.

A plan is the only lever this system has over the monitoring platform:
it cannot ask "how much was the app used", it can only plant boundaries
and wait for crossing signals. The planner spaces boundaries at fixed
increments above the entity's current ledger total, which gives three
properties the rest of the pipeline relies on:

  - every boundary is strictly above the total it was based on, so a
    crossing always carries new usage
  - consecutive crossings are one increment apart, so the ledger can
    sanity-check deltas against elapsed time
  - the plan size never exceeds the event budget, so one generation
    cannot exhaust an observer invocation by itself

Plan generations are minted monotonically per entity and never reused.
Superseding follows the cancel-then-submit procedure; see Replan for
the failure handling on each leg.
*/
package planner

// Package recovery owns the decision of when an entity gets a new
// threshold plan.
//
// Every replan path in the system, enrollment, health degradation,
// budget exhaustion, epoch reset, goes through Trigger.MaybeReplan. The
// per-entity rate limiter (one replan per Recovery.ReplanMinInterval,
// burst 1) is the brake on the feedback loop where a replan causes a
// burst of deliveries, the burst trips health checks, and the degraded
// verdict causes another replan. The epoch reset is the one forced
// path that bypasses the limiter; it still plans above the current
// ledger total because the planner reads it at plan time.
//
// The limiter token is spent on the attempt, not the outcome. A
// platform rejection does not refund the window.
//
// Alongside the decision, the trigger maintains each entity's lifecycle
// machine:
//
//	unplanned ──plan──> planned ──activate──> active
//	     \                 |                    |
//	      \             degrade              degrade
//	       \               v                    v
//	        `──degrade─> degraded ──plan──> planned
//
// A planned entity becomes active when its first fact applies; a
// degraded one re-enters planned only through a successful replan. The
// machine's state persists on the entity record, and the store copy
// wins on disagreement since the planner also writes states directly.
package recovery

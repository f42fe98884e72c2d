package types

import (
	"time"
)

// Entity represents one monitored target enrolled for usage accounting
type Entity struct {
	ID         string
	Name       string
	State      EntityState
	Generation uint64 // Highest plan generation issued for this entity
	EnrolledAt time.Time
	ArchivedAt time.Time // Zero until un-enrollment
}

// Archived reports whether the entity has been un-enrolled
func (e *Entity) Archived() bool {
	return !e.ArchivedAt.IsZero()
}

// EntityState represents the monitoring lifecycle state of an entity
type EntityState string

const (
	EntityStateUnplanned EntityState = "unplanned"
	EntityStatePlanned   EntityState = "planned"
	EntityStateActive    EntityState = "active"
	EntityStateDegraded  EntityState = "degraded"
	EntityStateArchived  EntityState = "archived"
)

// ThresholdPlan is the set of cumulative-time boundaries requested from the
// monitoring platform for one entity. Plans are superseded, never mutated;
// only the highest-generation plan is authoritative.
type ThresholdPlan struct {
	Entity       string
	Generation   uint64
	Boundaries   []int64 // Cumulative seconds, strictly ascending
	BasedOnTotal int64   // Ledger total the boundaries were planned above
	SubmittedAt  time.Time
}

// MaxBoundary returns the highest boundary in the plan, or 0 for an empty plan
func (p *ThresholdPlan) MaxBoundary() int64 {
	if len(p.Boundaries) == 0 {
		return 0
	}
	return p.Boundaries[len(p.Boundaries)-1]
}

// RawEvent is a threshold-crossing notification as delivered by the
// monitoring platform. Deliveries may duplicate, reorder, or go missing.
type RawEvent struct {
	Entity     string
	Generation uint64
	Boundary   int64 // Cumulative seconds at the crossing
	ObservedAt time.Time
}

// IncrementFact is an accepted, deduplicated threshold crossing. Append-only;
// never mutated after ingestion assigns the sequence.
type IncrementFact struct {
	Entity     string
	Generation uint64
	Boundary   int64
	ObservedAt time.Time
	Sequence   uint64 // Per-entity, assigned in ingestion order
}

// IngestState is the per-entity dedup state the observer keeps in the shared
// store. The observer holds no memory between invocations, so everything the
// accept rules need lives here.
type IngestState struct {
	Entity         string
	Generation     uint64         // Highest generation accepted so far
	SeenBoundaries map[int64]bool // Boundaries recorded for Generation
	LastAcceptedAt time.Time      // For burst suppression
	NextSequence   uint64         // Next sequence to assign (starts at 1)
}

// LedgerEntry is the authoritative per-entity accounting state. Mutated only
// by the reconciliation ledger, one fact at a time, and persisted as a whole
// after every transition.
type LedgerEntry struct {
	Entity         string
	TotalSeconds   int64
	LastSequence   uint64
	LastGeneration uint64
	LastObservedAt time.Time

	// Epoch is the open accounting day, YYYY-MM-DD. EpochStart is when it
	// opened. EpochFloorGen is set at rollover to the last pre-reset
	// generation: facts at or below it were planned against the previous
	// day's scale and are dropped as epoch-stale.
	Epoch         string
	EpochStart    time.Time
	EpochFloorGen uint64

	SuspiciousBursts int // Within the current epoch
	UpdatedAt        time.Time
}

// LivenessMarker is written periodically by the observer. Health inference
// only; no ownership relationship to usage data.
type LivenessMarker struct {
	WriterInstanceID string
	Timestamp        time.Time
}

// GapCause classifies a suspected cause for missing accounting
type GapCause string

const (
	GapCauseLivenessStale        GapCause = "liveness-stale"
	GapCauseEventBudgetExhausted GapCause = "event-budget-exhausted"
	GapCausePlanStale            GapCause = "plan-stale"
	GapCauseReordered            GapCause = "reordered"
	GapCauseUnknown              GapCause = "unknown"
)

// Gap is a detected period of suspected missing accounting. Advisory output
// for operators; never fed back into the ledger as usage.
type Gap struct {
	Entity         string
	Start          time.Time
	End            time.Time
	SuspectedCause GapCause
	DetectedAt     time.Time
}

// HealthStatus is the health monitor's verdict for the observer pipeline
type HealthStatus struct {
	Healthy   bool
	Reason    string // Empty when healthy
	CheckedAt time.Time
}

// Degraded builds an unhealthy status with the given reason
func Degraded(reason string, at time.Time) HealthStatus {
	return HealthStatus{Healthy: false, Reason: reason, CheckedAt: at}
}

// ReplanReason records why a replan was requested
type ReplanReason string

const (
	ReplanReasonEnrollment    ReplanReason = "enrollment"
	ReplanReasonPlanExhausted ReplanReason = "plan-exhausted"
	ReplanReasonHealthRecover ReplanReason = "health-recover"
	ReplanReasonEpochReset    ReplanReason = "epoch-reset"
)

// ReplanDecision is the recovery trigger's answer to a replan request
type ReplanDecision struct {
	Entity    string
	Replan    bool
	Reason    ReplanReason
	Deferred  bool // True when the rate limit postponed a wanted replan
	DecidedAt time.Time
}

// DayTotal is one entity's finalized total for a completed accounting day,
// snapshotted by the epoch rollover.
type DayTotal struct {
	Entity  string
	Day     string // YYYY-MM-DD
	Seconds int64
}

// Counter classes for dropped, rebased, or otherwise flagged deliveries.
// Every drop or correction increments exactly one of these; data loss
// without a counter increment is a bug.
const (
	CounterDuplicateEvent   = "duplicate_event"
	CounterStaleGeneration  = "stale_generation"
	CounterSuppressedBurst  = "suppressed_burst"
	CounterRebase           = "rebase"
	CounterNonMonotonicDrop = "nonmonotonic_drop"
	CounterSuspiciousBurst  = "suspicious_burst"
	CounterReorderBuffered  = "reorder_buffered"
	CounterForcedResync     = "forced_resync"
	CounterReplaySkip       = "replay_skip"
	CounterEpochStale       = "epoch_stale"
	CounterRetryOverflow    = "retry_overflow_drop"
	CounterPlanCancelFail   = "plan_cancel_fail"
)

// CounterClasses lists every diagnostic counter class
var CounterClasses = []string{
	CounterDuplicateEvent,
	CounterStaleGeneration,
	CounterSuppressedBurst,
	CounterRebase,
	CounterNonMonotonicDrop,
	CounterSuspiciousBurst,
	CounterReorderBuffered,
	CounterForcedResync,
	CounterReplaySkip,
	CounterEpochStale,
	CounterRetryOverflow,
	CounterPlanCancelFail,
}

// Epoch formats the accounting day a timestamp falls in
func Epoch(t time.Time) string {
	return t.Format("2006-01-02")
}

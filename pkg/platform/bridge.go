package platform

import (
	"context"
	"errors"

	"github.com/aminenidae/stint/pkg/types"
)

// ErrPlanRejected is returned when the monitoring platform refuses a
// threshold plan, typically for exceeding its slot capacity. Callers
// match it with errors.Is and retry with a smaller plan.
var ErrPlanRejected = errors.New("plan rejected by platform")

// Bridge is the coordinator's interface to the monitoring platform.
//
// The platform holds at most one authoritative plan per entity and
// fires at most one crossing signal per boundary. Submitting a new
// plan supersedes the previous one, but deliveries for the superseded
// generation may still be in flight; CancelPlan is best-effort hygiene
// to stop them at the source. Ingestion drops whatever leaks through.
type Bridge interface {
	// SubmitPlan registers a threshold plan with the platform. Returns
	// ErrPlanRejected (possibly wrapped) when the platform refuses it.
	SubmitPlan(ctx context.Context, plan *types.ThresholdPlan) error

	// CancelPlan withdraws all plans for the entity up to and including
	// the given generation. Failure is not fatal: stale deliveries are
	// filtered at ingestion.
	CancelPlan(ctx context.Context, entity string, generation uint64) error
}

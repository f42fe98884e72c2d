package storage

import (
	"errors"

	"github.com/aminenidae/stint/pkg/types"
)

// ErrNotFound is returned when a record does not exist. Callers distinguish
// missing records from storage failures with errors.Is.
var ErrNotFound = errors.New("not found")

// AcceptFunc runs inside the store transaction that decides one raw event.
// It inspects and mutates the entity's ingest state and returns the fact to
// append (nil for a drop), plus the counter class to increment ("" for none).
// The state is persisted only when a fact is returned. fn must not call back
// into the store.
type AcceptFunc func(state *types.IngestState) (fact *types.IncrementFact, counter string, err error)

// LedgerUpdate describes the side effects of one ledger transition, applied
// in the same transaction as the entry write.
type LedgerUpdate struct {
	// Counters lists the diagnostic classes to increment.
	Counters []string

	// Snapshot, when set, persists a finished day's total (epoch rollover).
	Snapshot *types.DayTotal
}

// LedgerFunc mutates a ledger entry in place. The entry arrives initialized
// with the entity ID; everything else is zero for a first-ever fact. A nil
// LedgerUpdate with nil error persists the entry with no side effects.
// fn must not call back into the store.
type LedgerFunc func(entry *types.LedgerEntry) (*LedgerUpdate, error)

// Store defines the interface for the shared persistent store. The
// coordinator and the observer are separate scheduling domains; this store
// is the only thing they share.
type Store interface {
	// Entities
	CreateEntity(entity *types.Entity) error
	GetEntity(id string) (*types.Entity, error)
	GetEntityByName(name string) (*types.Entity, error)
	ListEntities() ([]*types.Entity, error)
	UpdateEntity(entity *types.Entity) error

	// Plans. One authoritative plan per entity; a save replaces any
	// superseded generation.
	SavePlan(plan *types.ThresholdPlan) error
	GetPlan(entity string) (*types.ThresholdPlan, error)

	// Facts and ingest state. AcceptFact runs the dedup decision atomically
	// with the fact append, so overlapping observer invocations are safe.
	AcceptFact(entity string, fn AcceptFunc) (*types.IncrementFact, error)
	GetIngestState(entity string) (*types.IngestState, error)
	PendingFacts(entity string, limit int) ([]*types.IncrementFact, error)
	DeleteFact(entity string, sequence uint64) error

	// Ledger
	GetLedger(entity string) (*types.LedgerEntry, error)
	UpdateLedger(entity string, fn LedgerFunc) (*types.LedgerEntry, error)
	ListLedgers() ([]*types.LedgerEntry, error)

	// Liveness
	SaveLiveness(marker *types.LivenessMarker) error
	GetLiveness() (*types.LivenessMarker, error)

	// Day totals
	ListDayTotals(entity string, limit int) ([]*types.DayTotal, error)

	// Diagnostic counters
	IncrementCounter(class string) error
	Counters() (map[string]uint64, error)

	// Utility
	Close() error
}

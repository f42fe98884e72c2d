package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aminenidae/stint/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewBoltStore(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewBoltStore(tmpDir)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(filepath.Join(tmpDir, "stint.db")); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestEntityCRUD(t *testing.T) {
	store := newTestStore(t)

	entity := &types.Entity{
		ID:         "entity-1",
		Name:       "reader",
		State:      types.EntityStateUnplanned,
		EnrolledAt: time.Now(),
	}

	if err := store.CreateEntity(entity); err != nil {
		t.Fatalf("CreateEntity() error = %v", err)
	}

	got, err := store.GetEntity("entity-1")
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if got.Name != "reader" {
		t.Errorf("Name = %v, want reader", got.Name)
	}

	byName, err := store.GetEntityByName("reader")
	if err != nil {
		t.Fatalf("GetEntityByName() error = %v", err)
	}
	if byName.ID != "entity-1" {
		t.Errorf("ID = %v, want entity-1", byName.ID)
	}

	// Archived entities are invisible to name lookup
	entity.ArchivedAt = time.Now()
	entity.State = types.EntityStateArchived
	if err := store.UpdateEntity(entity); err != nil {
		t.Fatalf("UpdateEntity() error = %v", err)
	}
	if _, err := store.GetEntityByName("reader"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEntityByName() after archive error = %v, want ErrNotFound", err)
	}

	entities, err := store.ListEntities()
	if err != nil {
		t.Fatalf("ListEntities() error = %v", err)
	}
	if len(entities) != 1 {
		t.Errorf("ListEntities() returned %d entities, want 1", len(entities))
	}
}

func TestGetEntityNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetEntity("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEntity() error = %v, want ErrNotFound", err)
	}
}

func TestPlanSaveReplaces(t *testing.T) {
	store := newTestStore(t)

	first := &types.ThresholdPlan{
		Entity:     "entity-1",
		Generation: 1,
		Boundaries: []int64{60, 120, 180},
	}
	if err := store.SavePlan(first); err != nil {
		t.Fatalf("SavePlan() error = %v", err)
	}

	second := &types.ThresholdPlan{
		Entity:       "entity-1",
		Generation:   2,
		Boundaries:   []int64{240, 300},
		BasedOnTotal: 180,
	}
	if err := store.SavePlan(second); err != nil {
		t.Fatalf("SavePlan() error = %v", err)
	}

	got, err := store.GetPlan("entity-1")
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if got.Generation != 2 {
		t.Errorf("Generation = %d, want 2 (superseded plan must be replaced)", got.Generation)
	}
}

func TestAcceptFactPersistsStateWithFact(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	fact, err := store.AcceptFact("entity-1", func(st *types.IngestState) (*types.IncrementFact, string, error) {
		f := &types.IncrementFact{
			Entity:     "entity-1",
			Generation: 1,
			Boundary:   60,
			ObservedAt: now,
			Sequence:   st.NextSequence,
		}
		st.NextSequence++
		st.Generation = 1
		st.SeenBoundaries[60] = true
		st.LastAcceptedAt = now
		return f, "", nil
	})
	if err != nil {
		t.Fatalf("AcceptFact() error = %v", err)
	}
	if fact == nil || fact.Sequence != 1 {
		t.Fatalf("AcceptFact() fact = %+v, want sequence 1", fact)
	}

	state, err := store.GetIngestState("entity-1")
	if err != nil {
		t.Fatalf("GetIngestState() error = %v", err)
	}
	if state.NextSequence != 2 {
		t.Errorf("NextSequence = %d, want 2", state.NextSequence)
	}
	if !state.SeenBoundaries[60] {
		t.Error("SeenBoundaries missing accepted boundary 60")
	}

	facts, err := store.PendingFacts("entity-1", 0)
	if err != nil {
		t.Fatalf("PendingFacts() error = %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("PendingFacts() returned %d facts, want 1", len(facts))
	}
}

func TestAcceptFactDropCountsWithoutState(t *testing.T) {
	store := newTestStore(t)

	fact, err := store.AcceptFact("entity-1", func(st *types.IngestState) (*types.IncrementFact, string, error) {
		return nil, types.CounterDuplicateEvent, nil
	})
	if err != nil {
		t.Fatalf("AcceptFact() error = %v", err)
	}
	if fact != nil {
		t.Fatalf("AcceptFact() fact = %+v, want nil for a drop", fact)
	}

	// The drop counter landed
	counters, err := store.Counters()
	if err != nil {
		t.Fatalf("Counters() error = %v", err)
	}
	if counters[types.CounterDuplicateEvent] != 1 {
		t.Errorf("duplicate_event counter = %d, want 1", counters[types.CounterDuplicateEvent])
	}

	// But no state was persisted for a pure drop
	if _, err := store.GetIngestState("entity-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetIngestState() error = %v, want ErrNotFound", err)
	}
}

func TestPendingFactsSequenceOrder(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	for _, seq := range []uint64{1, 2, 3} {
		_, err := store.AcceptFact("entity-1", func(st *types.IngestState) (*types.IncrementFact, string, error) {
			f := &types.IncrementFact{
				Entity:     "entity-1",
				Boundary:   int64(seq) * 60,
				ObservedAt: now,
				Sequence:   seq,
			}
			st.NextSequence = seq + 1
			return f, "", nil
		})
		if err != nil {
			t.Fatalf("AcceptFact(seq %d) error = %v", seq, err)
		}
	}

	facts, err := store.PendingFacts("entity-1", 0)
	if err != nil {
		t.Fatalf("PendingFacts() error = %v", err)
	}
	if len(facts) != 3 {
		t.Fatalf("PendingFacts() returned %d facts, want 3", len(facts))
	}
	for i, fact := range facts {
		if fact.Sequence != uint64(i+1) {
			t.Errorf("facts[%d].Sequence = %d, want %d", i, fact.Sequence, i+1)
		}
	}

	// Consumed facts disappear
	if err := store.DeleteFact("entity-1", 1); err != nil {
		t.Fatalf("DeleteFact() error = %v", err)
	}
	facts, _ = store.PendingFacts("entity-1", 0)
	if len(facts) != 2 || facts[0].Sequence != 2 {
		t.Errorf("after delete, first pending sequence = %d, want 2", facts[0].Sequence)
	}
}

func TestPendingFactsEntityIsolation(t *testing.T) {
	store := newTestStore(t)

	for _, entity := range []string{"entity-a", "entity-b"} {
		_, err := store.AcceptFact(entity, func(st *types.IngestState) (*types.IncrementFact, string, error) {
			return &types.IncrementFact{Entity: entity, Boundary: 60, Sequence: 1}, "", nil
		})
		if err != nil {
			t.Fatalf("AcceptFact(%s) error = %v", entity, err)
		}
	}

	facts, err := store.PendingFacts("entity-a", 0)
	if err != nil {
		t.Fatalf("PendingFacts() error = %v", err)
	}
	if len(facts) != 1 || facts[0].Entity != "entity-a" {
		t.Errorf("PendingFacts(entity-a) leaked other entities: %+v", facts)
	}
}

func TestUpdateLedgerAtomicSideEffects(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	entry, err := store.UpdateLedger("entity-1", func(e *types.LedgerEntry) (*LedgerUpdate, error) {
		e.TotalSeconds = 180
		e.LastSequence = 3
		e.UpdatedAt = now
		return &LedgerUpdate{
			Counters: []string{types.CounterRebase},
			Snapshot: &types.DayTotal{Entity: "entity-1", Day: "2026-07-01", Seconds: 3600},
		}, nil
	})
	if err != nil {
		t.Fatalf("UpdateLedger() error = %v", err)
	}
	if entry.TotalSeconds != 180 {
		t.Errorf("TotalSeconds = %d, want 180", entry.TotalSeconds)
	}

	got, err := store.GetLedger("entity-1")
	if err != nil {
		t.Fatalf("GetLedger() error = %v", err)
	}
	if got.LastSequence != 3 {
		t.Errorf("LastSequence = %d, want 3", got.LastSequence)
	}

	counters, _ := store.Counters()
	if counters[types.CounterRebase] != 1 {
		t.Errorf("rebase counter = %d, want 1", counters[types.CounterRebase])
	}

	totals, err := store.ListDayTotals("entity-1", 0)
	if err != nil {
		t.Fatalf("ListDayTotals() error = %v", err)
	}
	if len(totals) != 1 || totals[0].Seconds != 3600 {
		t.Errorf("ListDayTotals() = %+v, want one 3600s day", totals)
	}
}

func TestUpdateLedgerErrorAborts(t *testing.T) {
	store := newTestStore(t)

	wantErr := errors.New("decision failed")
	_, err := store.UpdateLedger("entity-1", func(e *types.LedgerEntry) (*LedgerUpdate, error) {
		e.TotalSeconds = 999
		return &LedgerUpdate{Counters: []string{types.CounterRebase}}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("UpdateLedger() error = %v, want %v", err, wantErr)
	}

	// Nothing committed
	if _, err := store.GetLedger("entity-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetLedger() error = %v, want ErrNotFound", err)
	}
	counters, _ := store.Counters()
	if counters[types.CounterRebase] != 0 {
		t.Errorf("rebase counter = %d, want 0 after abort", counters[types.CounterRebase])
	}
}

func TestLivenessMarker(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetLiveness(); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetLiveness() error = %v, want ErrNotFound", err)
	}

	now := time.Now()
	marker := &types.LivenessMarker{WriterInstanceID: "obs-1", Timestamp: now}
	if err := store.SaveLiveness(marker); err != nil {
		t.Fatalf("SaveLiveness() error = %v", err)
	}

	got, err := store.GetLiveness()
	if err != nil {
		t.Fatalf("GetLiveness() error = %v", err)
	}
	if got.WriterInstanceID != "obs-1" {
		t.Errorf("WriterInstanceID = %v, want obs-1", got.WriterInstanceID)
	}
}

func TestListDayTotalsLimit(t *testing.T) {
	store := newTestStore(t)

	days := []string{"2026-06-28", "2026-06-29", "2026-06-30", "2026-07-01"}
	for i, day := range days {
		seconds := int64((i + 1) * 600)
		_, err := store.UpdateLedger("entity-1", func(e *types.LedgerEntry) (*LedgerUpdate, error) {
			return &LedgerUpdate{
				Snapshot: &types.DayTotal{Entity: "entity-1", Day: day, Seconds: seconds},
			}, nil
		})
		if err != nil {
			t.Fatalf("UpdateLedger(%s) error = %v", day, err)
		}
	}

	totals, err := store.ListDayTotals("entity-1", 2)
	if err != nil {
		t.Fatalf("ListDayTotals() error = %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("ListDayTotals(limit=2) returned %d, want 2", len(totals))
	}
	if totals[0].Day != "2026-06-30" || totals[1].Day != "2026-07-01" {
		t.Errorf("limit kept %v/%v, want the most recent two days", totals[0].Day, totals[1].Day)
	}
}

func TestCountersAccumulate(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		if err := store.IncrementCounter(types.CounterRetryOverflow); err != nil {
			t.Fatalf("IncrementCounter() error = %v", err)
		}
	}

	counters, err := store.Counters()
	if err != nil {
		t.Fatalf("Counters() error = %v", err)
	}
	if counters[types.CounterRetryOverflow] != 3 {
		t.Errorf("retry_overflow_drop = %d, want 3", counters[types.CounterRetryOverflow])
	}
}

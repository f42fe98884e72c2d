package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/aminenidae/stint/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketEntities    = []byte("entities")
	bucketPlans       = []byte("plans")
	bucketFacts       = []byte("facts")
	bucketIngestState = []byte("ingest_state")
	bucketLedger      = []byte("ledger")
	bucketLiveness    = []byte("liveness")
	bucketDayTotals   = []byte("day_totals")
	bucketCounters    = []byte("counters")
)

// livenessKey is the single marker slot; one observer domain per store.
var livenessKey = []byte("observer")

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "stint.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketEntities,
			bucketPlans,
			bucketFacts,
			bucketIngestState,
			bucketLedger,
			bucketLiveness,
			bucketDayTotals,
			bucketCounters,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// factKey builds the composite fact key. The big-endian sequence keeps
// cursor order identical to sequence order within an entity's prefix.
func factKey(entity string, sequence uint64) []byte {
	key := make([]byte, 0, len(entity)+9)
	key = append(key, entity...)
	key = append(key, '/')
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	return append(key, seq[:]...)
}

// dayKey builds the composite day-total key. Days sort chronologically.
func dayKey(entity, day string) []byte {
	return []byte(entity + "/" + day)
}

// incrementCounterTx bumps one diagnostic counter inside an open transaction.
func incrementCounterTx(tx *bolt.Tx, class string) error {
	b := tx.Bucket(bucketCounters)
	var n uint64
	if data := b.Get([]byte(class)); len(data) == 8 {
		n = binary.BigEndian.Uint64(data)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n+1)
	return b.Put([]byte(class), buf[:])
}

// Entity operations
func (s *BoltStore) CreateEntity(entity *types.Entity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		data, err := json.Marshal(entity)
		if err != nil {
			return err
		}
		return b.Put([]byte(entity.ID), data)
	})
}

func (s *BoltStore) GetEntity(id string) (*types.Entity, error) {
	var entity types.Entity
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("entity %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &entity)
	})
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// GetEntityByName finds the live (non-archived) entity with the given name.
func (s *BoltStore) GetEntityByName(name string) (*types.Entity, error) {
	var found *types.Entity
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		return b.ForEach(func(k, v []byte) error {
			var entity types.Entity
			if err := json.Unmarshal(v, &entity); err != nil {
				return err
			}
			if entity.Name == name && !entity.Archived() {
				found = &entity
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("entity %s: %w", name, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListEntities() ([]*types.Entity, error) {
	var entities []*types.Entity
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		return b.ForEach(func(k, v []byte) error {
			var entity types.Entity
			if err := json.Unmarshal(v, &entity); err != nil {
				return err
			}
			entities = append(entities, &entity)
			return nil
		})
	})
	return entities, err
}

func (s *BoltStore) UpdateEntity(entity *types.Entity) error {
	return s.CreateEntity(entity) // Same as create (upsert)
}

// Plan operations
func (s *BoltStore) SavePlan(plan *types.ThresholdPlan) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlans)
		data, err := json.Marshal(plan)
		if err != nil {
			return err
		}
		return b.Put([]byte(plan.Entity), data)
	})
}

func (s *BoltStore) GetPlan(entity string) (*types.ThresholdPlan, error) {
	var plan types.ThresholdPlan
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlans)
		data := b.Get([]byte(entity))
		if data == nil {
			return fmt.Errorf("plan for %s: %w", entity, ErrNotFound)
		}
		return json.Unmarshal(data, &plan)
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// AcceptFact runs one ingest decision. State load, the decision, the fact
// append, the state save, and the drop counter all commit or abort together,
// so an observer killed mid-call never leaves a half-recorded event.
func (s *BoltStore) AcceptFact(entity string, fn AcceptFunc) (*types.IncrementFact, error) {
	var accepted *types.IncrementFact
	err := s.db.Update(func(tx *bolt.Tx) error {
		stateBucket := tx.Bucket(bucketIngestState)

		state := &types.IngestState{
			Entity:         entity,
			SeenBoundaries: make(map[int64]bool),
			NextSequence:   1,
		}
		if data := stateBucket.Get([]byte(entity)); data != nil {
			if err := json.Unmarshal(data, state); err != nil {
				return fmt.Errorf("failed to decode ingest state: %w", err)
			}
			if state.SeenBoundaries == nil {
				state.SeenBoundaries = make(map[int64]bool)
			}
		}

		fact, counter, err := fn(state)
		if err != nil {
			return err
		}

		if counter != "" {
			if err := incrementCounterTx(tx, counter); err != nil {
				return err
			}
		}

		if fact == nil {
			return nil
		}

		factData, err := json.Marshal(fact)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketFacts).Put(factKey(entity, fact.Sequence), factData); err != nil {
			return err
		}

		stateData, err := json.Marshal(state)
		if err != nil {
			return err
		}
		if err := stateBucket.Put([]byte(entity), stateData); err != nil {
			return err
		}

		accepted = fact
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

func (s *BoltStore) GetIngestState(entity string) (*types.IngestState, error) {
	var state types.IngestState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIngestState)
		data := b.Get([]byte(entity))
		if data == nil {
			return fmt.Errorf("ingest state for %s: %w", entity, ErrNotFound)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// PendingFacts returns up to limit unconsumed facts for an entity in
// sequence order. limit <= 0 means all.
func (s *BoltStore) PendingFacts(entity string, limit int) ([]*types.IncrementFact, error) {
	var facts []*types.IncrementFact
	prefix := []byte(entity + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFacts).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var fact types.IncrementFact
			if err := json.Unmarshal(v, &fact); err != nil {
				return err
			}
			facts = append(facts, &fact)
			if limit > 0 && len(facts) >= limit {
				return nil
			}
		}
		return nil
	})
	return facts, err
}

func (s *BoltStore) DeleteFact(entity string, sequence uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFacts).Delete(factKey(entity, sequence))
	})
}

// Ledger operations
func (s *BoltStore) GetLedger(entity string) (*types.LedgerEntry, error) {
	var entry types.LedgerEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLedger)
		data := b.Get([]byte(entity))
		if data == nil {
			return fmt.Errorf("ledger for %s: %w", entity, ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdateLedger applies one ledger transition. The entry rewrite, the drop
// and rebase counters, and the rollover snapshot are a single durable write;
// there is no partial-field persistence.
func (s *BoltStore) UpdateLedger(entity string, fn LedgerFunc) (*types.LedgerEntry, error) {
	var result *types.LedgerEntry
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLedger)

		entry := &types.LedgerEntry{Entity: entity}
		if data := b.Get([]byte(entity)); data != nil {
			if err := json.Unmarshal(data, entry); err != nil {
				return fmt.Errorf("failed to decode ledger entry: %w", err)
			}
		}

		update, err := fn(entry)
		if err != nil {
			return err
		}

		if update != nil {
			for _, class := range update.Counters {
				if err := incrementCounterTx(tx, class); err != nil {
					return err
				}
			}
			if update.Snapshot != nil {
				snapData, err := json.Marshal(update.Snapshot)
				if err != nil {
					return err
				}
				key := dayKey(update.Snapshot.Entity, update.Snapshot.Day)
				if err := tx.Bucket(bucketDayTotals).Put(key, snapData); err != nil {
					return err
				}
			}
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(entity), data); err != nil {
			return err
		}

		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BoltStore) ListLedgers() ([]*types.LedgerEntry, error) {
	var entries []*types.LedgerEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLedger)
		return b.ForEach(func(k, v []byte) error {
			var entry types.LedgerEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	return entries, err
}

// Liveness operations
func (s *BoltStore) SaveLiveness(marker *types.LivenessMarker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLiveness)
		data, err := json.Marshal(marker)
		if err != nil {
			return err
		}
		return b.Put(livenessKey, data)
	})
}

func (s *BoltStore) GetLiveness() (*types.LivenessMarker, error) {
	var marker types.LivenessMarker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLiveness)
		data := b.Get(livenessKey)
		if data == nil {
			return fmt.Errorf("liveness marker: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &marker)
	})
	if err != nil {
		return nil, err
	}
	return &marker, nil
}

// ListDayTotals returns an entity's day aggregates in chronological order,
// keeping only the most recent limit entries when limit > 0.
func (s *BoltStore) ListDayTotals(entity string, limit int) ([]*types.DayTotal, error) {
	var totals []*types.DayTotal
	prefix := []byte(entity + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDayTotals).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var total types.DayTotal
			if err := json.Unmarshal(v, &total); err != nil {
				return err
			}
			totals = append(totals, &total)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(totals) > limit {
		totals = totals[len(totals)-limit:]
	}
	return totals, nil
}

// Counter operations
func (s *BoltStore) IncrementCounter(class string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return incrementCounterTx(tx, class)
	})
}

func (s *BoltStore) Counters() (map[string]uint64, error) {
	counters := make(map[string]uint64)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		return b.ForEach(func(k, v []byte) error {
			if len(v) == 8 {
				counters[string(k)] = binary.BigEndian.Uint64(v)
			}
			return nil
		})
	})
	return counters, err
}

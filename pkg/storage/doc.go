/*
Package storage provides BoltDB-backed persistence for the shared accounting
store.

The storage package implements the Store interface using BoltDB as the
underlying database. The store is the single synchronization point between
the long-lived coordinator and the short-lived observer: the two share no
memory, so every fact, plan, marker, and counter crosses this boundary. All
records are serialized as JSON and kept in separate buckets, keyed by entity
where the record is per-entity.

# Architecture

stint uses BoltDB (bbolt) for embedded, transactional storage with zero
external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/stint.db                 │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌──────────────────────────────────┐       │          │
	│  │  │ entities     (Entity ID)         │       │          │
	│  │  │ plans        (Entity ID)         │       │          │
	│  │  │ facts        (Entity/BE Sequence)│       │          │
	│  │  │ ingest_state (Entity ID)         │       │          │
	│  │  │ ledger       (Entity ID)         │       │          │
	│  │  │ liveness     (fixed key)         │       │          │
	│  │  │ day_totals   (Entity/Day)        │       │          │
	│  │  │ counters     (Class)             │       │          │
	│  │  └──────────────────────────────────┘       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - Concurrent reads       │          │
	│  │  - Write: db.Update() - Serialized writes   │          │
	│  │  - Rollback: Automatic on error             │          │
	│  │  - Commit: Automatic on success + fsync     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Compound Operations

Two operations bundle a decision with its side effects in one transaction:

AcceptFact:
  - Loads the entity's ingest state
  - Runs the caller's accept/drop decision against it
  - Appends the fact, saves the state, and bumps the drop counter together
  - An observer killed mid-call leaves either the whole decision or nothing

UpdateLedger:
  - Loads (or initializes) the entity's ledger entry
  - Runs the caller's transition against it
  - Persists the entry, the counters, and any rollover snapshot together
  - The ledger never has partial-field persistence

The decision callbacks stay in pkg/ingest and pkg/ledger; this package only
guarantees that whatever they decide lands atomically. BoltDB serializes
writers, which is what makes overlapping observer invocations safe without
any in-process locking.

# Fact Keys

Facts are keyed `<entity>/<big-endian sequence>`. Big-endian encoding makes
a bucket cursor walk an entity's facts in exactly sequence order, so the
coordinator's drain is a prefix scan with no sorting.

# Usage

Creating a Store:

	store, err := storage.NewBoltStore("/var/lib/stint")
	if err != nil {
		return err
	}
	defer store.Close()

Recording one ingest decision:

	fact, err := store.AcceptFact("entity-1", func(st *types.IngestState) (*types.IncrementFact, string, error) {
		// dedup rules live in pkg/ingest
		return decided, "", nil
	})

Reading pending facts in order:

	facts, err := store.PendingFacts("entity-1", 0)

# Integration Points

This package integrates with:

  - pkg/ingest: AcceptFact decisions inside observer invocations
  - pkg/ledger: UpdateLedger transitions and rollover snapshots
  - pkg/observer: Liveness marker writes
  - pkg/health: Liveness marker reads and ledger scans
  - pkg/coordinator: Pending fact drains and entity bookkeeping
  - pkg/api: Read-only queries for consumers
*/
package storage

/*
Package log provides structured logging for stint using zerolog.

The log package wraps the zerolog library behind a small global logger plus
constructors for child loggers carrying entity and generation context. All
logs include timestamps and support filtering by severity level so a drain
cycle can be reconstructed from output alone.

# Architecture

stint's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("ledger")                  │          │
	│  │  - WithEntity("entity-abc123")              │          │
	│  │  - WithGeneration("entity-abc123", 4)       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "ledger",                   │          │
	│  │    "time": "2026-07-02T10:30:00Z",         │          │
	│  │    "message": "fact applied"                │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF fact applied component=ledger  │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init() in the daemon entrypoint
  - Zero value discards output, so library tests stay silent
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Per-fact detail (sequences, boundaries, drop classes)
  - Info: Lifecycle events (enrollment, plans, rollovers)
  - Warn: Pressure and degradations (retry overflow, stale beats)
  - Error: Operations that failed and will be retried or surfaced

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithEntity: Add entity ID context
  - WithGeneration: Add entity ID and plan generation context

# Usage

Initializing the Logger:

	import "github.com/aminenidae/stint/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Component Loggers:

	ledgerLog := log.WithComponent("ledger")
	ledgerLog.Info().
		Str("entity", "entity-123").
		Int64("total_seconds", 1860).
		Msg("Fact applied")

	ledgerLog.Error().
		Err(err).
		Str("entity", "entity-abc").
		Msg("Plan submission failed")

Entity and Generation Context:

	entityLog := log.WithGeneration("entity-abc", 4)
	entityLog.Debug().Int64("boundary", 300).Msg("Boundary accepted")

Constructors are cheap, so call sites build the child logger inline:
WithComponent at component scope, WithGeneration once a fact is in hand.

# Integration Points

This package integrates with:

  - pkg/coordinator: Logs drain cycles and shutdown
  - pkg/ledger: Logs applies, rebases, rollovers, resyncs
  - pkg/ingest: Logs drops with their counter class
  - pkg/planner: Logs plan submissions and rejections
  - pkg/health: Logs degradations and detected gaps
  - pkg/recovery: Logs replan decisions and state transitions
  - pkg/observer: Logs invocation budgets and retry queue pressure

# Design Patterns

The coordinator and the observer are separate processes that share a store
but not a stderr, so both initialize the same Config shape and emit the
same field names. Grepping a merged log stream for an entity ID yields an
interleaved history of crossings observed and facts applied.

Drop outcomes are logged at Debug with the counter class as a field rather
than as distinct error types. A duplicate delivery is a normal event on
this platform; the log line records that it happened, the counter records
how often. Warn is reserved for pressure that loses data, like retry queue
overflow.

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Include context (entity ID, generation, sequence)

Don't:
  - Use Debug level in production
  - Log per fact at Info (the ledger drain can be hot)
  - Concatenate strings (use .Str, .Int64)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log

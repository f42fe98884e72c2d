/*
Package metrics provides Prometheus metrics collection and exposition for Stint.

The metrics package defines and registers all Stint metrics using the Prometheus
client library, providing observability into accounting progress, delivery
anomalies, plan churn, and observer liveness. Metrics are exposed via HTTP
endpoint for scraping by Prometheus servers.

Prometheus metrics are a live mirror, not the source of truth: every drop and
anomaly counter is also persisted transactionally in the shared store, so the
numbers survive restarts. The in-process metrics reset with the process.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Ledger: totals, applies, latency, epochs   │          │
	│  │  Drops: per-class anomaly counters          │          │
	│  │  Entities: lifecycle state counts           │          │
	│  │  Plans: submissions, rejections, deferrals  │          │
	│  │  Health: liveness age, gaps by cause        │          │
	│  │  API: request count, duration               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Gauge Collector                    │          │
	│  │  - Polls the shared store every 15s         │          │
	│  │  - Sets entity, ledger, liveness gauges     │          │
	│  │  - Counters updated inline at decisions     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Gauge Collector:
  - Background ticker polling the shared store
  - Sets instant-value gauges (entity counts, ledger totals)
  - Started by the coordinator, stopped on shutdown

Health Checker:
  - Singleton tracking per-component health
  - Critical components gate readiness (store, platform, api)
  - Non-critical failures degrade instead of failing

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

# Metrics Catalog

Ledger Metrics:

stint_ledger_total_seconds{entity}:
  - Type: Gauge
  - Description: Accumulated usage per entity in the open epoch
  - Example: stint_ledger_total_seconds{entity="app-1"} 1380

stint_facts_applied_total:
  - Type: Counter
  - Description: Increment facts applied to the ledger
  - Example: stint_facts_applied_total 412

stint_apply_latency_seconds:
  - Type: Histogram
  - Description: Time to apply one fact (store transaction included)

stint_facts_pending{entity}:
  - Type: Gauge
  - Description: Facts written by the observer, not yet consumed

stint_epoch_rollovers_total:
  - Type: Counter
  - Description: Epoch resets performed

Drop Metrics:

stint_drops_total{class}:
  - Type: Counter
  - Description: Dropped, rebased, or flagged deliveries by counter class
  - Labels: class (duplicate_event, stale_generation, suppressed_burst,
    rebase, nonmonotonic_drop, suspicious_burst, reorder_buffered,
    forced_resync, replay_skip, epoch_stale, retry_overflow_drop,
    plan_cancel_fail)
  - Example: stint_drops_total{class="duplicate_event"} 7

Entity Metrics:

stint_entities_total{state}:
  - Type: Gauge
  - Description: Entities by lifecycle state (unplanned/planned/active/
    degraded/archived)

Plan Metrics:

stint_plans_submitted_total:
  - Type: Counter
  - Description: Threshold plans submitted to the platform

stint_plans_rejected_total:
  - Type: Counter
  - Description: Threshold plans the platform rejected

stint_replans_deferred_total:
  - Type: Counter
  - Description: Replans postponed by the per-entity rate limit

Health Metrics:

stint_liveness_age_seconds:
  - Type: Gauge
  - Description: Age of the observer's last liveness marker

stint_gaps_detected_total{cause}:
  - Type: Counter
  - Description: Accounting gaps by suspected cause

API Metrics:

stint_api_requests_total{method, status}:
  - Type: Counter
  - Description: API requests by HTTP method and status code

stint_api_request_duration_seconds{method}:
  - Type: Histogram
  - Description: API request duration

# Usage Examples

Updating a Counter:

	metrics.Drops.WithLabelValues("duplicate_event").Inc()

Timing an Operation:

	timer := metrics.NewTimer()
	// ... apply fact to ledger ...
	timer.ObserveDuration(metrics.ApplyLatency)

Starting the Collector:

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

Exposing Metrics:

	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/ledger: Records applies, latency, rollovers
  - pkg/ingest: Mirrors drop counters
  - pkg/planner: Records plan submissions and rejections
  - pkg/health: Updates liveness age and gap counters
  - pkg/recovery: Records deferred replans
  - pkg/api: Instruments request duration, serves /metrics
  - pkg/coordinator: Starts the gauge collector

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()
  - No runtime registration needed

Store Mirror:
  - Drop counters increment in the same store transaction as the decision
  - Prometheus counter incremented immediately after, best-effort
  - Store counters survive restarts; Prometheus counters do not
  - Discrepancy after restart is expected and harmless

Label Discipline:
  - class and cause labels are fixed small sets
  - entity label is bounded by the enrollment set
  - No sequence numbers or timestamps as labels

# Performance Characteristics

Metric Update Overhead:
  - Gauge set/inc: ~50ns per operation
  - Counter inc: ~50ns per operation
  - Histogram observe: ~200ns per operation
  - Negligible next to the store transaction on every path

Collector Overhead:
  - One store scan per 15s tick
  - Proportional to enrolled entity count
  - Read-only transactions, never blocks writers

# Monitoring

Prometheus Queries (PromQL):

Accounting Progress:
  - Apply rate: rate(stint_facts_applied_total[5m])
  - p95 apply latency: histogram_quantile(0.95, stint_apply_latency_seconds_bucket)
  - Pending backlog: sum(stint_facts_pending)

Anomaly Pressure:
  - Drop rate by class: rate(stint_drops_total[15m])
  - Duplicate share: stint_drops_total{class="duplicate_event"} / stint_facts_applied_total

Observer Health:
  - Marker age: stint_liveness_age_seconds
  - Stale alert: stint_liveness_age_seconds > 120
  - Gap rate: rate(stint_gaps_detected_total[1h])

Plan Churn:
  - Rejection ratio: stint_plans_rejected_total / stint_plans_submitted_total
  - Rate-limit pressure: rate(stint_replans_deferred_total[15m])
*/
package metrics

package health

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aminenidae/stint/pkg/config"
	"github.com/aminenidae/stint/pkg/events"
	"github.com/aminenidae/stint/pkg/log"
	"github.com/aminenidae/stint/pkg/metrics"
	"github.com/aminenidae/stint/pkg/storage"
	"github.com/aminenidae/stint/pkg/types"
)

// ActivitySource reports whether an entity is currently in foreground
// use. Silence from an idle entity is expected; silence from an active
// one is a gap.
type ActivitySource interface {
	Active(entity string) bool
}

// ActivityFunc adapts a function to an ActivitySource.
type ActivityFunc func(entity string) bool

// Active calls f.
func (f ActivityFunc) Active(entity string) bool {
	return f(entity)
}

// Monitor infers pipeline health from the shared store and detects
// suspected accounting gaps. Its findings are advisory; it never
// mutates ledger state.
type Monitor struct {
	store    storage.Store
	broker   *events.Broker
	activity ActivitySource

	staleAfter     time.Duration
	activityWindow time.Duration
	capacity       int

	mu      sync.Mutex
	status  types.HealthStatus
	stale   bool
	gaps    []*types.Gap
	ongoing map[string]*types.Gap
}

// NewMonitor creates a health monitor reading from the shared store.
func NewMonitor(store storage.Store, broker *events.Broker, activity ActivitySource, cfg *config.Config) *Monitor {
	metrics.RegisterComponent("observer", true, "No liveness marker yet")

	return &Monitor{
		store:          store,
		broker:         broker,
		activity:       activity,
		staleAfter:     cfg.Health.LivenessStaleAfter,
		activityWindow: cfg.Health.ActivityWindow,
		capacity:       cfg.Health.GapHistory,
		status:         types.HealthStatus{Healthy: true, CheckedAt: time.Now()},
		ongoing:        make(map[string]*types.Gap),
	}
}

// Check evaluates observer liveness. The marker is written by the
// observer on its own cadence; an age beyond the staleness threshold
// means crossings may be going unrecorded right now.
func (m *Monitor) Check(now time.Time) types.HealthStatus {
	status := types.HealthStatus{Healthy: true, CheckedAt: now}

	marker, err := m.store.GetLiveness()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// First beat not written yet. Healthy for now; the gap scan
		// still runs against enrollment times.
	case err != nil:
		status = types.Degraded(fmt.Sprintf("liveness read failed: %v", err), now)
	default:
		if age := now.Sub(marker.Timestamp); age > m.staleAfter {
			status = types.Degraded("liveness-stale", now)
		}
	}

	m.mu.Lock()
	wasStale := m.stale
	m.stale = !status.Healthy
	m.status = status
	m.mu.Unlock()

	if !status.Healthy && !wasStale {
		logger := log.WithComponent("health")
		logger.Warn().
			Str("reason", status.Reason).
			Msg("Observer pipeline degraded")
		metrics.UpdateComponent("observer", false, status.Reason)
		m.broker.Publish(&events.Event{
			Type:    events.EventLivenessDegraded,
			Message: fmt.Sprintf("Observer degraded: %s", status.Reason),
		})
	}
	if status.Healthy && wasStale {
		logger := log.WithComponent("health")
		logger.Info().Msg("Observer pipeline recovered")
		metrics.UpdateComponent("observer", true, "")
		m.broker.Publish(&events.Event{
			Type:    events.EventLivenessRestored,
			Message: "Observer liveness restored",
		})
	}

	return status
}

// Status returns the verdict of the most recent Check.
func (m *Monitor) Status() types.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Scan looks for entities that should be accumulating usage but are
// not: in active use, yet silent for longer than the activity window.
// Each silent entity gets one gap, extended in place on later scans
// until the silence ends. Returns the gaps opened by this scan.
func (m *Monitor) Scan(now time.Time) []*types.Gap {
	entities, err := m.store.ListEntities()
	if err != nil {
		logger := log.WithComponent("health")
		logger.Warn().Err(err).Msg("Gap scan skipped, entity list unavailable")
		return nil
	}

	m.mu.Lock()
	stale := m.stale
	m.mu.Unlock()

	var opened []*types.Gap
	for _, entity := range entities {
		if entity.Archived() || entity.State == types.EntityStateUnplanned {
			continue
		}
		if !m.activity.Active(entity.ID) {
			m.closeOngoing(entity.ID)
			continue
		}

		entry, err := m.store.GetLedger(entity.ID)
		if errors.Is(err, storage.ErrNotFound) {
			entry = &types.LedgerEntry{Entity: entity.ID}
		} else if err != nil {
			logger := log.WithEntity(entity.ID)
			logger.Warn().Err(err).Msg("Gap scan skipped for entity")
			continue
		}

		since := entry.LastObservedAt
		if since.IsZero() {
			since = entity.EnrolledAt
		}
		if now.Sub(since) <= m.activityWindow {
			m.closeOngoing(entity.ID)
			continue
		}

		if gap := m.observeGap(entity, entry, since, now, stale); gap != nil {
			opened = append(opened, gap)
		}
	}

	return opened
}

// observeGap extends the entity's ongoing gap or opens a new one.
func (m *Monitor) observeGap(entity *types.Entity, entry *types.LedgerEntry, since, now time.Time, stale bool) *types.Gap {
	m.mu.Lock()
	if g, ok := m.ongoing[entity.ID]; ok {
		g.End = now
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	cause := m.suspectCause(entity, entry, now, stale)
	gap := &types.Gap{
		Entity:         entity.ID,
		Start:          since,
		End:            now,
		SuspectedCause: cause,
		DetectedAt:     now,
	}
	m.remember(gap, true)

	metrics.GapsDetected.WithLabelValues(string(cause)).Inc()
	logger := log.WithEntity(entity.ID)
	logger.Warn().
		Str("cause", string(cause)).
		Time("since", since).
		Msg("Accounting gap detected")
	m.broker.Publish(&events.Event{
		Type:   events.EventGapDetected,
		Entity: entity.ID,
		Message: fmt.Sprintf("No accounting since %s, suspected cause %s",
			since.Format(time.RFC3339), cause),
	})

	return gap
}

// suspectCause ranks the likely explanation for the silence. Best
// effort; the cause is diagnostic color, not a dispatch key.
func (m *Monitor) suspectCause(entity *types.Entity, entry *types.LedgerEntry, now time.Time, stale bool) types.GapCause {
	if stale {
		return types.GapCauseLivenessStale
	}

	plan, err := m.store.GetPlan(entity.ID)
	if err != nil {
		return types.GapCausePlanStale
	}
	if plan.MaxBoundary() <= entry.TotalSeconds {
		// Every requested boundary is already behind the total; the
		// platform has nothing left to report for this plan.
		return types.GapCauseEventBudgetExhausted
	}
	if now.Sub(plan.SubmittedAt) > m.activityWindow && entry.LastObservedAt.Before(plan.SubmittedAt) {
		return types.GapCausePlanStale
	}

	return types.GapCauseUnknown
}

// Record admits an externally detected gap, such as a reorder resync,
// into the history.
func (m *Monitor) Record(gap *types.Gap) {
	m.remember(gap, false)

	metrics.GapsDetected.WithLabelValues(string(gap.SuspectedCause)).Inc()
	logger := log.WithEntity(gap.Entity)
	logger.Warn().
		Str("cause", string(gap.SuspectedCause)).
		Msg("Accounting gap recorded")
	m.broker.Publish(&events.Event{
		Type:   events.EventGapDetected,
		Entity: gap.Entity,
		Message: fmt.Sprintf("Accounting gap %s to %s, suspected cause %s",
			gap.Start.Format(time.RFC3339), gap.End.Format(time.RFC3339), gap.SuspectedCause),
	})
}

// Gaps returns the retained gap history, oldest first. Ongoing gaps may
// still have their End extended by later scans.
func (m *Monitor) Gaps() []*types.Gap {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.Gap, len(m.gaps))
	copy(out, m.gaps)
	return out
}

// remember appends a gap, evicting the oldest past capacity. track
// marks the gap as the entity's ongoing one so later scans extend it.
func (m *Monitor) remember(gap *types.Gap, track bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gaps = append(m.gaps, gap)
	if len(m.gaps) > m.capacity {
		evicted := m.gaps[0]
		m.gaps = append(m.gaps[:0], m.gaps[1:]...)
		for id, g := range m.ongoing {
			if g == evicted {
				delete(m.ongoing, id)
			}
		}
	}
	if track {
		m.ongoing[gap.Entity] = gap
	}
}

func (m *Monitor) closeOngoing(entity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ongoing, entity)
}

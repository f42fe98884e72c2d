package metrics

import (
	"time"

	"github.com/aminenidae/stint/pkg/storage"
)

// Collector collects gauge metrics from the shared store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	// Collect entity metrics
	c.collectEntityMetrics()

	// Collect ledger metrics
	c.collectLedgerMetrics()

	// Collect liveness metrics
	c.collectLivenessMetrics()
}

func (c *Collector) collectEntityMetrics() {
	entities, err := c.store.ListEntities()
	if err != nil {
		return
	}

	// Reset counters
	stateCounts := make(map[string]int)

	for _, entity := range entities {
		if entity.Archived() {
			stateCounts["archived"]++
			continue
		}
		stateCounts[string(entity.State)]++
	}

	// Update metrics
	for state, count := range stateCounts {
		EntitiesTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectLedgerMetrics() {
	entries, err := c.store.ListLedgers()
	if err != nil {
		return
	}

	for _, entry := range entries {
		LedgerTotalSeconds.WithLabelValues(entry.Entity).Set(float64(entry.TotalSeconds))

		facts, err := c.store.PendingFacts(entry.Entity, 0)
		if err != nil {
			continue
		}
		FactsPending.WithLabelValues(entry.Entity).Set(float64(len(facts)))
	}
}

func (c *Collector) collectLivenessMetrics() {
	marker, err := c.store.GetLiveness()
	if err != nil {
		return
	}

	LivenessAge.Set(time.Since(marker.Timestamp).Seconds())
}

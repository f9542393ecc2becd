package orchestrator

import (
	"sync"
	"time"

	"github.com/lifeink/chronicle/store"
)

// StrategyMetrics tracks usage of one routing strategy.
type StrategyMetrics struct {
	Searches     int64         `json:"searches"`
	AvgLatency   time.Duration `json:"avgLatency"`
	CacheServed  int64         `json:"cacheServed"`
	LastSearched time.Time     `json:"lastSearched"`
}

// Metrics is a point-in-time snapshot of orchestrator activity.
type Metrics struct {
	MemoriesStored         int64                                     `json:"memoriesStored"`
	MemoriesDeleted        int64                                     `json:"memoriesDeleted"`
	VersionEvolutions      int64                                     `json:"versionEvolutions"`
	ContradictionsDetected int64                                     `json:"contradictionsDetected"`
	ContradictionsResolved int64                                     `json:"contradictionsResolved"`
	CacheHits              int64                                     `json:"cacheHits"`
	CacheMisses            int64                                     `json:"cacheMisses"`
	ByStrategy             map[store.RoutingStrategy]StrategyMetrics `json:"byStrategy"`
}

// metricsTracker accumulates counters behind one mutex. Latency uses a
// cumulative moving average so snapshots need no history.
type metricsTracker struct {
	mu sync.Mutex

	memoriesStored         int64
	memoriesDeleted        int64
	versionEvolutions      int64
	contradictionsDetected int64
	contradictionsResolved int64

	byStrategy map[store.RoutingStrategy]*strategyTracker
}

type strategyTracker struct {
	searches int64
	// latencySamples counts only backend-served searches; cache hits
	// contribute no latency and must not dilute the average.
	latencySamples int64
	avgLatency     time.Duration
	cacheServed    int64
	lastAt         time.Time
}

func newMetricsTracker() *metricsTracker {
	return &metricsTracker{byStrategy: make(map[store.RoutingStrategy]*strategyTracker)}
}

func (t *metricsTracker) recordSearch(strategy store.RoutingStrategy, latency time.Duration, fromCache bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byStrategy[strategy]
	if !ok {
		entry = &strategyTracker{}
		t.byStrategy[strategy] = entry
	}
	entry.searches++
	entry.lastAt = time.Now().UTC()
	if fromCache {
		entry.cacheServed++
		return
	}
	entry.latencySamples++
	entry.avgLatency += (latency - entry.avgLatency) / time.Duration(entry.latencySamples)
}

func (t *metricsTracker) recordStore()  { t.add(&t.memoriesStored) }
func (t *metricsTracker) recordDelete() { t.add(&t.memoriesDeleted) }
func (t *metricsTracker) recordVersionEvolution() {
	t.add(&t.versionEvolutions)
}

func (t *metricsTracker) recordContradictions(detected int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contradictionsDetected += int64(detected)
}

func (t *metricsTracker) recordResolution() { t.add(&t.contradictionsResolved) }

func (t *metricsTracker) add(field *int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	*field++
}

func (t *metricsTracker) snapshot(cacheHits, cacheMisses int64) Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	metrics := Metrics{
		MemoriesStored:         t.memoriesStored,
		MemoriesDeleted:        t.memoriesDeleted,
		VersionEvolutions:      t.versionEvolutions,
		ContradictionsDetected: t.contradictionsDetected,
		ContradictionsResolved: t.contradictionsResolved,
		CacheHits:              cacheHits,
		CacheMisses:            cacheMisses,
		ByStrategy:             make(map[store.RoutingStrategy]StrategyMetrics, len(t.byStrategy)),
	}
	for strategy, entry := range t.byStrategy {
		metrics.ByStrategy[strategy] = StrategyMetrics{
			Searches:     entry.searches,
			AvgLatency:   entry.avgLatency,
			CacheServed:  entry.cacheServed,
			LastSearched: entry.lastAt,
		}
	}
	return metrics
}

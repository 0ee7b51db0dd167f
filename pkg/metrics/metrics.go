package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Op names a measured operation kind
type Op string

const (
	OpFind      Op = "find"
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpAggregate Op = "aggregate"
)

// Ops lists the measured operations in export order
var Ops = []Op{OpFind, OpInsert, OpUpdate, OpDelete, OpAggregate}

// MetricsCollector collects real-time operation metrics for the store
type MetricsCollector struct {
	ops map[Op]*opStats

	// Index metrics
	indexScans      uint64
	collectionScans uint64

	// Connection metrics (for HTTP server)
	activeConnections uint64
	totalConnections  uint64

	mu        sync.RWMutex
	startTime time.Time
}

type opStats struct {
	executed  uint64
	failed    uint64
	totalTime uint64 // in nanoseconds
	timings   *TimingHistogram
}

// TimingHistogram stores timing data in buckets for histogram generation
type TimingHistogram struct {
	// Buckets: <1ms, 1-10ms, 10-100ms, 100ms-1s, >1s
	buckets [5]uint64

	// P50, P95, P99 tracking
	mu               sync.Mutex
	recentTimings    []time.Duration
	maxRecentTimings int
}

// bucketBounds are the upper bounds of the histogram buckets in seconds
var bucketBounds = []string{"0.001", "0.01", "0.1", "1.0", "+Inf"}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		ops:       make(map[Op]*opStats, len(Ops)),
		startTime: time.Now(),
	}
	for _, op := range Ops {
		mc.ops[op] = &opStats{timings: NewTimingHistogram(1000)}
	}
	return mc
}

// NewTimingHistogram creates a new timing histogram
func NewTimingHistogram(maxRecent int) *TimingHistogram {
	return &TimingHistogram{
		recentTimings:    make([]time.Duration, 0, maxRecent),
		maxRecentTimings: maxRecent,
	}
}

func (mc *MetricsCollector) stats(op Op) *opStats {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.ops[op]
}

// Record records one execution of op. Unknown ops are ignored.
func (mc *MetricsCollector) Record(op Op, duration time.Duration, success bool) {
	s := mc.stats(op)
	if s == nil {
		return
	}
	atomic.AddUint64(&s.executed, 1)
	if !success {
		atomic.AddUint64(&s.failed, 1)
	}
	atomic.AddUint64(&s.totalTime, uint64(duration.Nanoseconds()))
	s.timings.Record(duration)
}

// RecordIndexScan records a query answered from an index
func (mc *MetricsCollector) RecordIndexScan() {
	atomic.AddUint64(&mc.indexScans, 1)
}

// RecordCollectionScan records a query that scanned the whole collection
func (mc *MetricsCollector) RecordCollectionScan() {
	atomic.AddUint64(&mc.collectionScans, 1)
}

// RecordConnectionStart records a new long-lived connection
func (mc *MetricsCollector) RecordConnectionStart() {
	atomic.AddUint64(&mc.totalConnections, 1)
	atomic.AddUint64(&mc.activeConnections, 1)
}

func (mc *MetricsCollector) RecordConnectionEnd() {
	atomic.AddUint64(&mc.activeConnections, ^uint64(0))
}

// Record adds a timing to the histogram
func (th *TimingHistogram) Record(duration time.Duration) {
	ms := duration.Milliseconds()
	switch {
	case ms < 1:
		atomic.AddUint64(&th.buckets[0], 1)
	case ms < 10:
		atomic.AddUint64(&th.buckets[1], 1)
	case ms < 100:
		atomic.AddUint64(&th.buckets[2], 1)
	case ms < 1000:
		atomic.AddUint64(&th.buckets[3], 1)
	default:
		atomic.AddUint64(&th.buckets[4], 1)
	}

	th.mu.Lock()
	defer th.mu.Unlock()

	if len(th.recentTimings) >= th.maxRecentTimings {
		th.recentTimings = th.recentTimings[1:]
	}
	th.recentTimings = append(th.recentTimings, duration)
}

// GetBuckets returns the histogram bucket counts
func (th *TimingHistogram) GetBuckets() map[string]uint64 {
	return map[string]uint64{
		"0-1ms":      atomic.LoadUint64(&th.buckets[0]),
		"1-10ms":     atomic.LoadUint64(&th.buckets[1]),
		"10-100ms":   atomic.LoadUint64(&th.buckets[2]),
		"100-1000ms": atomic.LoadUint64(&th.buckets[3]),
		">1000ms":    atomic.LoadUint64(&th.buckets[4]),
	}
}

// cumulative returns the bucket counts as Prometheus cumulative counts
func (th *TimingHistogram) cumulative() []uint64 {
	out := make([]uint64, len(th.buckets))
	var sum uint64
	for i := range th.buckets {
		sum += atomic.LoadUint64(&th.buckets[i])
		out[i] = sum
	}
	return out
}

// GetPercentiles calculates P50, P95, P99 from recent timings
func (th *TimingHistogram) GetPercentiles() map[string]time.Duration {
	th.mu.Lock()
	sorted := make([]time.Duration, len(th.recentTimings))
	copy(sorted, th.recentTimings)
	th.mu.Unlock()

	if len(sorted) == 0 {
		return map[string]time.Duration{"p50": 0, "p95": 0, "p99": 0}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return map[string]time.Duration{
		"p50": sorted[len(sorted)*50/100],
		"p95": sorted[len(sorted)*95/100],
		"p99": sorted[len(sorted)*99/100],
	}
}

// GetMetrics returns a snapshot of all metrics
func (mc *MetricsCollector) GetMetrics() map[string]interface{} {
	mc.mu.RLock()
	start := mc.startTime
	mc.mu.RUnlock()

	result := map[string]interface{}{
		"uptime_seconds": time.Since(start).Seconds(),
	}
	for _, op := range Ops {
		s := mc.stats(op)
		executed := atomic.LoadUint64(&s.executed)
		failed := atomic.LoadUint64(&s.failed)
		var avg float64
		if executed > 0 {
			avg = float64(atomic.LoadUint64(&s.totalTime)) / float64(executed) / 1e6
		}
		result[string(op)] = map[string]interface{}{
			"total":              executed,
			"failed":             failed,
			"success_rate":       calculateSuccessRate(executed, failed),
			"avg_duration_ms":    avg,
			"timing_histogram":   s.timings.GetBuckets(),
			"timing_percentiles": s.timings.GetPercentiles(),
		}
	}

	indexScans := atomic.LoadUint64(&mc.indexScans)
	collectionScans := atomic.LoadUint64(&mc.collectionScans)
	result["scans"] = map[string]interface{}{
		"index":           indexScans,
		"collection":      collectionScans,
		"index_usage_pct": calculateIndexUsageRate(indexScans, collectionScans),
	}
	result["connections"] = map[string]interface{}{
		"active": atomic.LoadUint64(&mc.activeConnections),
		"total":  atomic.LoadUint64(&mc.totalConnections),
	}
	return result
}

// Reset resets all metrics to zero. Active connections are kept.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for _, op := range Ops {
		mc.ops[op] = &opStats{timings: NewTimingHistogram(1000)}
	}
	atomic.StoreUint64(&mc.indexScans, 0)
	atomic.StoreUint64(&mc.collectionScans, 0)
	atomic.StoreUint64(&mc.totalConnections, 0)
	mc.startTime = time.Now()
}

func calculateSuccessRate(total, failed uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(total-failed) / float64(total) * 100
}

func calculateIndexUsageRate(indexScans, collectionScans uint64) float64 {
	total := indexScans + collectionScans
	if total == 0 {
		return 0
	}
	return float64(indexScans) / float64(total) * 100
}

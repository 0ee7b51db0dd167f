package metrics

import (
	"testing"
	"time"
)

func TestMetricsCollector_Record(t *testing.T) {
	mc := NewMetricsCollector()

	mc.Record(OpFind, 10*time.Millisecond, true)
	mc.Record(OpFind, 20*time.Millisecond, true)
	mc.Record(OpFind, 5*time.Millisecond, false)
	mc.Record(OpInsert, time.Millisecond, true)
	mc.Record(Op("bogus"), time.Millisecond, true)

	metrics := mc.GetMetrics()
	find := metrics["find"].(map[string]interface{})
	if find["total"].(uint64) != 3 {
		t.Errorf("Expected 3 finds, got %v", find["total"])
	}
	if find["failed"].(uint64) != 1 {
		t.Errorf("Expected 1 failed find, got %v", find["failed"])
	}
	successRate := find["success_rate"].(float64)
	if successRate < 66.0 || successRate > 67.0 {
		t.Errorf("Expected success rate around 66.67%%, got %.2f%%", successRate)
	}
	avg := find["avg_duration_ms"].(float64)
	if avg < 11.6 || avg > 11.7 {
		t.Errorf("Expected average around 11.67ms, got %v", avg)
	}

	insert := metrics["insert"].(map[string]interface{})
	if insert["success_rate"].(float64) != 100.0 {
		t.Errorf("Expected 100%% insert success rate, got %v", insert["success_rate"])
	}
	if _, ok := metrics["bogus"]; ok {
		t.Error("Unknown ops should not be reported")
	}
}

func TestTimingHistogram(t *testing.T) {
	th := NewTimingHistogram(3)
	th.Record(500 * time.Microsecond)
	th.Record(5 * time.Millisecond)
	th.Record(50 * time.Millisecond)
	th.Record(500 * time.Millisecond)
	th.Record(2 * time.Second)

	buckets := th.GetBuckets()
	for _, name := range []string{"0-1ms", "1-10ms", "10-100ms", "100-1000ms", ">1000ms"} {
		if buckets[name] != 1 {
			t.Errorf("Expected 1 timing in %s, got %d", name, buckets[name])
		}
	}

	// Only the last three timings are kept for percentiles
	p := th.GetPercentiles()
	if p["p50"] != 500*time.Millisecond || p["p99"] != 2*time.Second {
		t.Errorf("Unexpected percentiles %v", p)
	}

	counts := th.cumulative()
	if counts[0] != 1 || counts[4] != 5 {
		t.Errorf("Expected cumulative counts 1..5, got %v", counts)
	}
}

func TestScansAndConnections(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordIndexScan()
	mc.RecordIndexScan()
	mc.RecordIndexScan()
	mc.RecordCollectionScan()
	mc.RecordConnectionStart()
	mc.RecordConnectionStart()
	mc.RecordConnectionEnd()

	metrics := mc.GetMetrics()
	scans := metrics["scans"].(map[string]interface{})
	if scans["index_usage_pct"].(float64) != 75.0 {
		t.Errorf("Expected 75%% index usage, got %v", scans["index_usage_pct"])
	}
	conns := metrics["connections"].(map[string]interface{})
	if conns["active"].(uint64) != 1 || conns["total"].(uint64) != 2 {
		t.Errorf("Unexpected connections %v", conns)
	}

	mc.Reset()
	metrics = mc.GetMetrics()
	if metrics["find"].(map[string]interface{})["total"].(uint64) != 0 {
		t.Error("Expected counters to reset")
	}
	if metrics["connections"].(map[string]interface{})["active"].(uint64) != 1 {
		t.Error("Active connections should survive Reset")
	}
}

func TestEmptyPercentiles(t *testing.T) {
	p := NewTimingHistogram(10).GetPercentiles()
	if p["p50"] != 0 || p["p95"] != 0 || p["p99"] != 0 {
		t.Errorf("Expected zero percentiles, got %v", p)
	}
}

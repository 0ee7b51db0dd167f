package metrics

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// PrometheusExporter exports metrics in Prometheus text format
type PrometheusExporter struct {
	collector *MetricsCollector
	namespace string // Metric namespace prefix (e.g., "streamhub")

	mu     sync.Mutex
	gauges []gauge
}

type gauge struct {
	name  string
	help  string
	value func() float64
}

// NewPrometheusExporter creates a new Prometheus exporter
func NewPrometheusExporter(collector *MetricsCollector) *PrometheusExporter {
	return &PrometheusExporter{
		collector: collector,
		namespace: "streamhub",
	}
}

// SetNamespace sets the metric namespace prefix
func (pe *PrometheusExporter) SetNamespace(namespace string) {
	pe.namespace = namespace
}

// AddGauge registers a gauge read at export time
func (pe *PrometheusExporter) AddGauge(name, help string, value func() float64) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	pe.gauges = append(pe.gauges, gauge{name: name, help: help, value: value})
}

// WriteMetrics writes all metrics in Prometheus text format to the writer
// Format: https://prometheus.io/docs/instrumenting/exposition_formats/
func (pe *PrometheusExporter) WriteMetrics(w io.Writer) error {
	mc := pe.collector
	mc.mu.RLock()
	uptime := time.Since(mc.startTime).Seconds()
	mc.mu.RUnlock()

	if err := pe.writeGauge(w, "uptime_seconds", "Server uptime in seconds", uptime); err != nil {
		return err
	}

	if err := pe.writeOpCounter(w, "operations_total", "Total number of operations executed", func(s *opStats) uint64 {
		return atomic.LoadUint64(&s.executed)
	}); err != nil {
		return err
	}
	if err := pe.writeOpCounter(w, "operations_failed_total", "Total number of failed operations", func(s *opStats) uint64 {
		return atomic.LoadUint64(&s.failed)
	}); err != nil {
		return err
	}
	if err := pe.writeHistograms(w, "operation_duration_seconds", "Operation duration histogram"); err != nil {
		return err
	}

	if err := pe.writeCounter(w, "index_scans_total", "Total number of queries answered from an index", atomic.LoadUint64(&mc.indexScans)); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "collection_scans_total", "Total number of queries that scanned a collection", atomic.LoadUint64(&mc.collectionScans)); err != nil {
		return err
	}
	if err := pe.writeGauge(w, "active_connections", "Number of open change stream connections", float64(atomic.LoadUint64(&mc.activeConnections))); err != nil {
		return err
	}
	if err := pe.writeCounter(w, "connections_total", "Total number of change stream connections", atomic.LoadUint64(&mc.totalConnections)); err != nil {
		return err
	}

	pe.mu.Lock()
	gauges := append([]gauge(nil), pe.gauges...)
	pe.mu.Unlock()
	for _, g := range gauges {
		if err := pe.writeGauge(w, g.name, g.help, g.value()); err != nil {
			return err
		}
	}
	return nil
}

// writeCounter writes a counter metric
func (pe *PrometheusExporter) writeCounter(w io.Writer, name, help string, value uint64) error {
	metricName := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n",
		metricName, help, metricName, metricName, value)
	return err
}

// writeGauge writes a gauge metric
func (pe *PrometheusExporter) writeGauge(w io.Writer, name, help string, value float64) error {
	metricName := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n",
		metricName, help, metricName, metricName, value)
	return err
}

// writeOpCounter writes one counter series per operation
func (pe *PrometheusExporter) writeOpCounter(w io.Writer, name, help string, value func(*opStats) uint64) error {
	metricName := pe.namespace + "_" + name
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", metricName, help, metricName); err != nil {
		return err
	}
	for _, op := range Ops {
		if _, err := fmt.Fprintf(w, "%s{op=%q} %d\n", metricName, op, value(pe.collector.stats(op))); err != nil {
			return err
		}
	}
	return nil
}

// writeHistograms writes one cumulative histogram per operation
func (pe *PrometheusExporter) writeHistograms(w io.Writer, name, help string) error {
	metricName := pe.namespace + "_" + name
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", metricName, help, metricName); err != nil {
		return err
	}
	for _, op := range Ops {
		s := pe.collector.stats(op)
		counts := s.timings.cumulative()
		for i, le := range bucketBounds {
			if _, err := fmt.Fprintf(w, "%s_bucket{op=%q,le=%q} %d\n", metricName, op, le, counts[i]); err != nil {
				return err
			}
		}
		sum := float64(atomic.LoadUint64(&s.totalTime)) / 1e9
		if _, err := fmt.Fprintf(w, "%s_sum{op=%q} %g\n%s_count{op=%q} %d\n",
			metricName, op, sum, metricName, op, counts[len(counts)-1]); err != nil {
			return err
		}
	}
	return nil
}

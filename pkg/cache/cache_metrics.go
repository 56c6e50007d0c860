package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics is a CacheMetrics backed by client_golang collectors.
type PrometheusMetrics struct {
	getDuration   prometheus.Histogram
	getHits       prometheus.Counter
	getMisses     prometheus.Counter
	writeDuration prometheus.Histogram
	writeBytes    prometheus.Counter
	flushDuration prometheus.Histogram
	flushBlocks   prometheus.Counter
	dirtyBytes    prometheus.Gauge
	resident      prometheus.Gauge
}

// NewPrometheusMetrics registers the cache's collectors with reg and
// returns a CacheMetrics that reports to them.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		getDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fossil", Subsystem: "cache", Name: "get_duration_seconds",
			Help: "Latency of cache block lookups.",
		}),
		getHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fossil", Subsystem: "cache", Name: "get_hits_total",
			Help: "Cache lookups served from resident blocks.",
		}),
		getMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fossil", Subsystem: "cache", Name: "get_misses_total",
			Help: "Cache lookups that required a disk or venti read.",
		}),
		writeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fossil", Subsystem: "cache", Name: "write_duration_seconds",
			Help: "Latency of writing a dirty block to disk.",
		}),
		writeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fossil", Subsystem: "cache", Name: "write_bytes_total",
			Help: "Bytes written from the cache to disk.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fossil", Subsystem: "cache", Name: "flush_duration_seconds",
			Help: "Latency of a full flush pass.",
		}),
		flushBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fossil", Subsystem: "cache", Name: "flush_blocks_total",
			Help: "Blocks written during flush passes.",
		}),
		dirtyBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fossil", Subsystem: "cache", Name: "dirty_bytes",
			Help: "Bytes currently held dirty in the cache.",
		}),
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fossil", Subsystem: "cache", Name: "resident_blocks",
			Help: "Blocks currently resident in the cache.",
		}),
	}

	reg.MustRegister(
		m.getDuration, m.getHits, m.getMisses,
		m.writeDuration, m.writeBytes,
		m.flushDuration, m.flushBlocks,
		m.dirtyBytes, m.resident,
	)

	return m
}

func (m *PrometheusMetrics) ObserveGet(hit bool, duration time.Duration) {
	m.getDuration.Observe(duration.Seconds())
	if hit {
		m.getHits.Inc()
	} else {
		m.getMisses.Inc()
	}
}

func (m *PrometheusMetrics) ObserveWrite(bytes int, duration time.Duration) {
	m.writeDuration.Observe(duration.Seconds())
	m.writeBytes.Add(float64(bytes))
}

func (m *PrometheusMetrics) ObserveFlush(blocksWritten int, duration time.Duration) {
	m.flushDuration.Observe(duration.Seconds())
	m.flushBlocks.Add(float64(blocksWritten))
}

func (m *PrometheusMetrics) RecordDirtyBytes(bytes int64) { m.dirtyBytes.Set(float64(bytes)) }
func (m *PrometheusMetrics) RecordResident(count int)     { m.resident.Set(float64(count)) }

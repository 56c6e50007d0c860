package fs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusArchiveMetrics is an ArchiveMetrics backed by client_golang
// collectors, mirroring pkg/cache's PrometheusMetrics.
type PrometheusArchiveMetrics struct {
	snapshotDuration prometheus.Histogram
	snapshotsTotal   prometheus.Counter
	archivesTotal    prometheus.Counter
	walkDuration     prometheus.Histogram
	walkBlocks       prometheus.Counter
	epochAge         prometheus.Gauge
	reclaimed        prometheus.Counter
}

// NewPrometheusArchiveMetrics registers the snapshot/archive protocol's
// collectors with reg and returns an ArchiveMetrics that reports to them.
func NewPrometheusArchiveMetrics(reg prometheus.Registerer) *PrometheusArchiveMetrics {
	m := &PrometheusArchiveMetrics{
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fossil", Subsystem: "fs", Name: "snapshot_duration_seconds",
			Help: "Latency of the five-phase snapshot protocol.",
		}),
		snapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fossil", Subsystem: "fs", Name: "snapshots_total",
			Help: "Snapshots taken.",
		}),
		archivesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fossil", Subsystem: "fs", Name: "snapshots_archived_total",
			Help: "Snapshots that kicked off an archive walk.",
		}),
		walkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fossil", Subsystem: "archiver", Name: "walk_duration_seconds",
			Help: "Latency of one completed archiver walk.",
		}),
		walkBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fossil", Subsystem: "archiver", Name: "walk_blocks_total",
			Help: "Blocks archived across all walks.",
		}),
		epochAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fossil", Subsystem: "fs", Name: "epoch_age",
			Help: "epochHigh minus epochLow, the span of unreclaimed epochs.",
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fossil", Subsystem: "fs", Name: "blocks_reclaimed_total",
			Help: "Blocks freed by EpochLowSet.",
		}),
	}

	reg.MustRegister(
		m.snapshotDuration, m.snapshotsTotal, m.archivesTotal,
		m.walkDuration, m.walkBlocks, m.epochAge, m.reclaimed,
	)

	return m
}

func (m *PrometheusArchiveMetrics) ObserveSnapshot(archived bool, duration time.Duration) {
	m.snapshotDuration.Observe(duration.Seconds())
	m.snapshotsTotal.Inc()
	if archived {
		m.archivesTotal.Inc()
	}
}

func (m *PrometheusArchiveMetrics) ObserveArchiveWalk(blocksArchived int, duration time.Duration) {
	m.walkDuration.Observe(duration.Seconds())
	m.walkBlocks.Add(float64(blocksArchived))
}

func (m *PrometheusArchiveMetrics) RecordEpochAge(age time.Duration) {
	m.epochAge.Set(age.Seconds())
}

func (m *PrometheusArchiveMetrics) RecordReclaimed(count int) {
	m.reclaimed.Add(float64(count))
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantfall/binance-data/internal/model"
)

// Collector gathers merge, backfill, and updater telemetry on a
// dedicated Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	// Merge metrics
	mergeRecordsRetained *prometheus.CounterVec
	mergeDuplicates      *prometheus.CounterVec
	mergeUnreadable      *prometheus.CounterVec
	mergeGaps            *prometheus.CounterVec
	mergeDuration        *prometheus.HistogramVec

	// Updater metrics
	recordsFlushed   *prometheus.CounterVec
	flushDuplicates  *prometheus.CounterVec
	continuityBreaks *prometheus.CounterVec
	reconnects       *prometheus.CounterVec
	updaterState     *prometheus.GaugeVec

	// Backfill metrics
	downloads *prometheus.CounterVec
}

// NewCollector creates a collector. An empty namespace defaults to
// binance_data.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "binance_data"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.mergeRecordsRetained = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "records_retained_total",
			Help:      "Records kept in canonical datasets after dedup",
		},
		[]string{"series"},
	)

	c.mergeDuplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "duplicates_dropped_total",
			Help:      "Duplicate records dropped during merges",
		},
		[]string{"series"},
	)

	c.mergeUnreadable = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "partitions_unreadable_total",
			Help:      "Partitions excluded from merges because they could not be decoded",
		},
		[]string{"series"},
	)

	c.mergeGaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "gaps_detected_total",
			Help:      "Coverage gaps reported by the continuity sweep",
		},
		[]string{"series"},
	)

	c.mergeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "duration_seconds",
			Help:      "Time taken by merge jobs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"series"},
	)

	c.recordsFlushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "updater",
			Name:      "records_flushed_total",
			Help:      "Live records appended to canonical datasets",
		},
		[]string{"series"},
	)

	c.flushDuplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "updater",
			Name:      "duplicates_dropped_total",
			Help:      "Feed replays dropped by the dedup window",
		},
		[]string{"series"},
	)

	c.continuityBreaks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "updater",
			Name:      "continuity_breaks_total",
			Help:      "Feed records that skipped past the persisted tail",
		},
		[]string{"series"},
	)

	c.reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "updater",
			Name:      "reconnects_total",
			Help:      "Feed reconnect attempts",
		},
		[]string{"series"},
	)

	c.updaterState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "updater",
			Name:      "state",
			Help:      "Current updater state (0=idle, 1=streaming, 2=flushing, 3=stopped)",
		},
		[]string{"series"},
	)

	c.downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "downloads_total",
			Help:      "Backfill download outcomes",
		},
		[]string{"result"},
	)

	c.registry.MustRegister(
		c.mergeRecordsRetained,
		c.mergeDuplicates,
		c.mergeUnreadable,
		c.mergeGaps,
		c.mergeDuration,
		c.recordsFlushed,
		c.flushDuplicates,
		c.continuityBreaks,
		c.reconnects,
		c.updaterState,
		c.downloads,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// MergeFinished records one merge job's report totals.
func (c *Collector) MergeFinished(series string, retained, duplicates, unreadable, gaps int, elapsed time.Duration) {
	c.mergeRecordsRetained.WithLabelValues(series).Add(float64(retained))
	c.mergeDuplicates.WithLabelValues(series).Add(float64(duplicates))
	c.mergeUnreadable.WithLabelValues(series).Add(float64(unreadable))
	c.mergeGaps.WithLabelValues(series).Add(float64(gaps))
	c.mergeDuration.WithLabelValues(series).Observe(elapsed.Seconds())
}

// FlushFinished records one updater flush.
func (c *Collector) FlushFinished(series string, flushed int) {
	c.recordsFlushed.WithLabelValues(series).Add(float64(flushed))
}

// DuplicatesDropped records feed replays absorbed by the dedup window.
func (c *Collector) DuplicatesDropped(series string, count int) {
	c.flushDuplicates.WithLabelValues(series).Add(float64(count))
}

// ContinuityBreak records a detected live continuity break.
func (c *Collector) ContinuityBreak(series string) {
	c.continuityBreaks.WithLabelValues(series).Inc()
}

// Reconnects records feed reconnect attempts.
func (c *Collector) Reconnects(series string, count int) {
	c.reconnects.WithLabelValues(series).Add(float64(count))
}

// SetUpdaterState records the updater's current state.
func (c *Collector) SetUpdaterState(series string, state model.UpdaterState) {
	var v float64
	switch state {
	case model.UpdaterIdle:
		v = 0
	case model.UpdaterStreaming:
		v = 1
	case model.UpdaterFlushing:
		v = 2
	case model.UpdaterStopped:
		v = 3
	}
	c.updaterState.WithLabelValues(series).Set(v)
}

// BackfillFinished records one backfill run's outcomes.
func (c *Collector) BackfillFinished(downloaded, missing, failed int) {
	c.downloads.WithLabelValues("downloaded").Add(float64(downloaded))
	c.downloads.WithLabelValues("missing").Add(float64(missing))
	c.downloads.WithLabelValues("failed").Add(float64(failed))
}

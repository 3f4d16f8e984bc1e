// Package metrics exposes playcast's runtime state as Prometheus metrics,
// grounded on flowpbx-flowpbx/internal/metrics/metrics.go's
// scrape-time Collector pattern: one small provider interface per metric
// family, each optional so a partially-wired Collector still reports what
// it has.
package metrics

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionCounter reports the number of groups currently streaming.
// Satisfied by syncgroup.Coordinator.
type SessionCounter interface {
	ActiveSessionCount() int
}

// DriverCounter reports the number of live RAOP delivery drivers.
// Satisfied by raop.Registry.
type DriverCounter interface {
	Count() int
}

// LoudnessJobCounter reports in-flight loudness analysis jobs. Satisfied
// by loudness.Analyzer.
type LoudnessJobCounter interface {
	InFlightCount() int
}

// BytesCounter is a lock-free running total of PCM/FLAC bytes written to
// delivery sinks, shared between the HTTP streaming endpoint and the RAOP
// fan-out sink.
type BytesCounter struct {
	n atomic.Int64
}

func (c *BytesCounter) Add(n int64) {
	if c == nil {
		return
	}
	c.n.Add(n)
}

func (c *BytesCounter) Load() int64 {
	if c == nil {
		return 0
	}
	return c.n.Load()
}

// Collector is a prometheus.Collector that gathers playcast metrics at
// scrape time.
type Collector struct {
	sessions  SessionCounter
	drivers   DriverCounter
	loudness  LoudnessJobCounter
	bytes     *BytesCounter
	startTime time.Time

	activeSessionsDesc *prometheus.Desc
	activeDriversDesc  *prometheus.Desc
	loudnessJobsDesc   *prometheus.Desc
	bytesStreamedDesc  *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a metrics collector. Any provider may be nil if
// that subsystem isn't wired up (e.g. in a test harness).
func NewCollector(sessions SessionCounter, drivers DriverCounter, loudness LoudnessJobCounter, bytes *BytesCounter, startTime time.Time) *Collector {
	return &Collector{
		sessions:  sessions,
		drivers:   drivers,
		loudness:  loudness,
		bytes:     bytes,
		startTime: startTime,

		activeSessionsDesc: prometheus.NewDesc(
			"playcast_active_sessions",
			"Number of player groups currently streaming",
			nil, nil,
		),
		activeDriversDesc: prometheus.NewDesc(
			"playcast_active_drivers",
			"Number of live RAOP delivery drivers",
			nil, nil,
		),
		loudnessJobsDesc: prometheus.NewDesc(
			"playcast_loudness_jobs_in_flight",
			"Number of loudness analysis jobs currently running",
			nil, nil,
		),
		bytesStreamedDesc: prometheus.NewDesc(
			"playcast_bytes_streamed_total",
			"Total PCM/FLAC bytes written to delivery sinks",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"playcast_uptime_seconds",
			"Seconds since the playcast process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessionsDesc
	ch <- c.activeDriversDesc
	ch <- c.loudnessJobsDesc
	ch <- c.bytesStreamedDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(c.activeSessionsDesc, prometheus.GaugeValue, float64(c.sessions.ActiveSessionCount()))
	}
	if c.drivers != nil {
		ch <- prometheus.MustNewConstMetric(c.activeDriversDesc, prometheus.GaugeValue, float64(c.drivers.Count()))
	}
	if c.loudness != nil {
		ch <- prometheus.MustNewConstMetric(c.loudnessJobsDesc, prometheus.GaugeValue, float64(c.loudness.InFlightCount()))
	}
	if c.bytes != nil {
		ch <- prometheus.MustNewConstMetric(c.bytesStreamedDesc, prometheus.CounterValue, float64(c.bytes.Load()))
	}
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())

	slog.Debug("metrics: scrape complete")
}

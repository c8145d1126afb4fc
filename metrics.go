//go:build linux

package videoshm

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a consumer's view of its channel as Prometheus
// metrics. Values are read straight from the ring header and the
// consumer's private counters on every scrape.
type Collector struct {
	consumer *Consumer

	framesTotal   *prometheus.Desc
	droppedTotal  *prometheus.Desc
	missedTotal   *prometheus.Desc
	activeReaders *prometheus.Desc
}

// NewCollector builds a collector for one attached consumer. Register it
// with a prometheus.Registerer; one collector per channel.
func NewCollector(c *Consumer) *Collector {
	labels := prometheus.Labels{"channel": strconv.Itoa(c.cfg.Channel)}
	return &Collector{
		consumer: c,
		framesTotal: prometheus.NewDesc(
			"videoshm_frames_total",
			"Total frames published on the channel.",
			nil, labels),
		droppedTotal: prometheus.NewDesc(
			"videoshm_dropped_frames_total",
			"Producer-side publish failures on the channel.",
			nil, labels),
		missedTotal: prometheus.NewDesc(
			"videoshm_missed_frames_total",
			"Frames this consumer skipped over.",
			nil, labels),
		activeReaders: prometheus.NewDesc(
			"videoshm_active_readers",
			"Consumers currently attached to the channel.",
			nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (col *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- col.framesTotal
	ch <- col.droppedTotal
	ch <- col.missedTotal
	ch <- col.activeReaders
}

// Collect implements prometheus.Collector.
func (col *Collector) Collect(ch chan<- prometheus.Metric) {
	stats, err := col.consumer.Stats()
	if err != nil {
		return
	}
	info, err := col.consumer.SegmentInfo()
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(col.framesTotal,
		prometheus.CounterValue, float64(stats.TotalFrames))
	ch <- prometheus.MustNewConstMetric(col.droppedTotal,
		prometheus.CounterValue, float64(stats.DroppedFrames))
	ch <- prometheus.MustNewConstMetric(col.missedTotal,
		prometheus.CounterValue, float64(stats.MissedFrames))
	ch <- prometheus.MustNewConstMetric(col.activeReaders,
		prometheus.GaugeValue, float64(info.ActiveReaders))
}

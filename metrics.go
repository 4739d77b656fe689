package rogue

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks the stable, per-connection counters spec.md §7 requires
// every engine to expose: drop/down/retransmit counts and per-direction
// byte/frame counters. It is held by the RSSI controller, the packetizer
// engine, the DMA engine, and the UDP client and server.
type Metrics struct {
	DropCount   atomic.Uint64 // CRC/sequence/size mismatches, locally reset
	DownCount   atomic.Uint64 // connection resets (RSSI Error state entries)
	RetranCount atomic.Uint64 // retransmitted segments

	RxFrames atomic.Uint64
	RxBytes  atomic.Uint64
	TxFrames atomic.Uint64
	TxBytes  atomic.Uint64
}

// Snapshot is a point-in-time, non-atomic copy of Metrics for logging/tests.
type Snapshot struct {
	DropCount, DownCount, RetranCount    uint64
	RxFrames, RxBytes, TxFrames, TxBytes uint64
}

// Snapshot reads all counters into a plain struct.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		DropCount:   m.DropCount.Load(),
		DownCount:   m.DownCount.Load(),
		RetranCount: m.RetranCount.Load(),
		RxFrames:    m.RxFrames.Load(),
		RxBytes:     m.RxBytes.Load(),
		TxFrames:    m.TxFrames.Load(),
		TxBytes:     m.TxBytes.Load(),
	}
}

// Collector adapts a named Metrics instance to prometheus.Collector so a
// process can register every live engine's counters under a common
// namespace without hand-rolling gauge plumbing per engine.
type Collector struct {
	name    string
	metrics *Metrics

	drop, down, retran       *prometheus.Desc
	rxFrames, rxBytes        *prometheus.Desc
	txFrames, txBytes        *prometheus.Desc
}

// NewCollector builds a Collector for metrics, labelling exported series
// with the given component name (e.g. "rssi", "packetizer", "memory").
func NewCollector(name string, metrics *Metrics) *Collector {
	constLabels := prometheus.Labels{"component": name}
	mk := func(sub, help string) *prometheus.Desc {
		return prometheus.NewDesc("rogue_"+sub, help, nil, constLabels)
	}
	return &Collector{
		name:    name,
		metrics: metrics,
		drop:     mk("drop_count_total", "Locally dropped and reset frames/segments."),
		down:     mk("down_count_total", "Connection reset (Error-state) transitions."),
		retran:   mk("retran_count_total", "Retransmitted segments."),
		rxFrames: mk("rx_frames_total", "Frames received."),
		rxBytes:  mk("rx_bytes_total", "Bytes received."),
		txFrames: mk("tx_frames_total", "Frames sent."),
		txBytes:  mk("tx_bytes_total", "Bytes sent."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.drop
	ch <- c.down
	ch <- c.retran
	ch <- c.rxFrames
	ch <- c.rxBytes
	ch <- c.txFrames
	ch <- c.txBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.drop, prometheus.CounterValue, float64(s.DropCount))
	ch <- prometheus.MustNewConstMetric(c.down, prometheus.CounterValue, float64(s.DownCount))
	ch <- prometheus.MustNewConstMetric(c.retran, prometheus.CounterValue, float64(s.RetranCount))
	ch <- prometheus.MustNewConstMetric(c.rxFrames, prometheus.CounterValue, float64(s.RxFrames))
	ch <- prometheus.MustNewConstMetric(c.rxBytes, prometheus.CounterValue, float64(s.RxBytes))
	ch <- prometheus.MustNewConstMetric(c.txFrames, prometheus.CounterValue, float64(s.TxFrames))
	ch <- prometheus.MustNewConstMetric(c.txBytes, prometheus.CounterValue, float64(s.TxBytes))
}

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package metrics exposes a prometheus.Collector tracking a set of
// framing-engine instances, pulled on Collect the same way the teaching
// library's TCPInfoCollector pulls tcp_info for every tracked net.Conn.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineStats is a point-in-time snapshot of one engine's counters. A host
// supplies these via a supplier function at Collect time rather than the
// collector reaching into engine internals directly, keeping this package
// decoupled from package linkframe.
type EngineStats struct {
	FramesSent        uint64
	FramesReceived    uint64
	HeadChecksumErr   uint64
	DataChecksumErr   uint64
	OversizeDiscarded uint64
	Unhandled         uint64
	IDListenersInUse  int
	TypeListenersInUse int
	GenericListenersInUse int
}

type info struct {
	description *prometheus.Desc
	supplier    func(stats *EngineStats, labelValues []string) prometheus.Metric
}

type engineEntry struct {
	supplier func() *EngineStats
	labels   []string
}

// EngineCollector is a prometheus.Collector tracking zero or more engines,
// each identified by an opaque key (typically an Engine's Tag()).
type EngineCollector struct {
	engines map[string]engineEntry
	mu      sync.Mutex
	logger  func(error)
	infos   []info
}

func (c *EngineCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, i := range c.infos {
		descs <- i.description
	}
}

func (c *EngineCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.engines {
		stats := entry.supplier()
		if stats == nil {
			c.logger(errEngineGone(key))
			delete(c.engines, key)
			continue
		}
		for _, i := range c.infos {
			metrics <- i.supplier(stats, entry.labels)
		}
	}
}

// Add starts tracking an engine identified by key; supplier is called once
// per Collect to pull a fresh snapshot.
func (c *EngineCollector) Add(key string, labels []string, supplier func() *EngineStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engines[key] = engineEntry{supplier: supplier, labels: labels}
}

// Remove stops tracking the engine identified by key.
func (c *EngineCollector) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.engines, key)
}

type goneError string

func (e goneError) Error() string { return string(e) }

func errEngineGone(key string) error {
	return goneError("metrics: engine " + key + " supplier returned nil, removing")
}

// NewEngineCollector builds a collector exposing the standard engine gauge
// set under prefix, with connectionLabels as the per-engine label names and
// constLabels attached to every series (e.g. hostname, app).
func NewEngineCollector(
	prefix string,
	connectionLabels []string,
	constLabels prometheus.Labels,
	errorLoggingCallback func(error),
) *EngineCollector {
	c := &EngineCollector{
		engines: make(map[string]engineEntry),
		logger:  errorLoggingCallback,
	}
	c.addMetrics(prefix, connectionLabels, constLabels)
	return c
}

func (c *EngineCollector) addMetrics(prefix string, labels []string, constLabels prometheus.Labels) {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prefix+"_"+name, help, labels, constLabels)
	}

	counter := func(name string, get func(*EngineStats) uint64) info {
		d := desc(name, name+" (counter)")
		return info{
			description: d,
			supplier: func(s *EngineStats, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(get(s)), lv...)
			},
		}
	}
	gauge := func(name string, get func(*EngineStats) int) info {
		d := desc(name, name+" (gauge)")
		return info{
			description: d,
			supplier: func(s *EngineStats, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(get(s)), lv...)
			},
		}
	}

	c.infos = []info{
		counter("frames_sent_total", func(s *EngineStats) uint64 { return s.FramesSent }),
		counter("frames_received_total", func(s *EngineStats) uint64 { return s.FramesReceived }),
		counter("head_checksum_errors_total", func(s *EngineStats) uint64 { return s.HeadChecksumErr }),
		counter("data_checksum_errors_total", func(s *EngineStats) uint64 { return s.DataChecksumErr }),
		counter("oversize_discarded_total", func(s *EngineStats) uint64 { return s.OversizeDiscarded }),
		counter("unhandled_messages_total", func(s *EngineStats) uint64 { return s.Unhandled }),
		gauge("id_listeners_in_use", func(s *EngineStats) int { return s.IDListenersInUse }),
		gauge("type_listeners_in_use", func(s *EngineStats) int { return s.TypeListenersInUse }),
		gauge("generic_listeners_in_use", func(s *EngineStats) int { return s.GenericListenersInUse }),
	}
}

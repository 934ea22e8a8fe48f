// Package stats tracks engine-wide counters, latencies, and sizes, and
// exports them through github.com/prometheus/client_golang.
//
// Naming Convention:
//  -> "*.n" - counter
//  -> "*.ns" - latency (nanoseconds)
//  -> "*.size" - size (bytes)
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	AppendCount      = "append.n"
	AppendLatency    = "append.ns"
	BackfillCount    = "backfill.n"
	DuplicateBlocked = "dup.blocked.n"
	ChunkSealCount   = "chunk.seal.n"
	ChunkSplitCount  = "chunk.split.n"
	RuleFlushCount   = "rule.flush.n"
	RuleFlushLatency = "rule.flush.ns"
	QueryLatency     = "query.ns"
	FanoutCount      = "fanout.n"
	FanoutTimeout    = "fanout.timeout.n"
	FanoutLatency    = "fanout.ns"
	SeriesGauge      = "series.count"
	RetentionEvict   = "retention.evict.n"
)

// Registry wraps a dedicated prometheus.Registry with the counters and
// histograms the engine exposes, grounded on the teacher's
// counter/latency/size naming convention (stats package doc comment).
type Registry struct {
	reg *prometheus.Registry

	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
	gauges     map[string]prometheus.Gauge
}

func New() *Registry {
	r := &Registry{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
		gauges:     make(map[string]prometheus.Gauge),
	}
	for _, name := range []string{
		AppendCount, BackfillCount, DuplicateBlocked, ChunkSealCount,
		ChunkSplitCount, RuleFlushCount, FanoutCount, FanoutTimeout,
		RetentionEvict,
	} {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: metricName(name), Help: name})
		r.reg.MustRegister(c)
		r.counters[name] = c
	}
	for _, name := range []string{AppendLatency, RuleFlushLatency, QueryLatency, FanoutLatency} {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: metricName(name), Help: name, Buckets: prometheus.ExponentialBuckets(1000, 2, 16)})
		r.reg.MustRegister(h)
		r.histograms[name] = h
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: metricName(SeriesGauge), Help: SeriesGauge})
	r.reg.MustRegister(g)
	r.gauges[SeriesGauge] = g
	return r
}

func metricName(dotted string) string {
	out := make([]byte, len(dotted))
	for i := 0; i < len(dotted); i++ {
		if dotted[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = dotted[i]
		}
	}
	return "tsengine_" + string(out)
}

func (r *Registry) Inc(name string) {
	if c, ok := r.counters[name]; ok {
		c.Inc()
	}
}

func (r *Registry) Add(name string, v float64) {
	if c, ok := r.counters[name]; ok {
		c.Add(v)
	}
}

func (r *Registry) Observe(name string, d time.Duration) {
	if h, ok := r.histograms[name]; ok {
		h.Observe(float64(d.Nanoseconds()))
	}
}

func (r *Registry) Set(name string, v float64) {
	if g, ok := r.gauges[name]; ok {
		g.Set(v)
	}
}

// Gatherer exposes the underlying registry for an HTTP /metrics handler,
// left to the host process to wire up (spec §1 Non-goals: transport is
// out of scope here).
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

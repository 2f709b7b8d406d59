// Package metrics provides a lightweight Prometheus-compatible collector for
// PersonaBot. It renders text/plain exposition format without pulling in
// prometheus/client_golang.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms. Registration
// order is preserved so the exposition output is stable.
type MetricsCollector struct {
	mu         sync.Mutex
	counters   []*Counter
	gauges     []*Gauge
	histograms []*Histogram
	byName     map[string]any
	startTime  time.Time
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		byName:    make(map[string]any),
		startTime: time.Now(),
	}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values across fixed buckets.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Counter returns or creates the named counter.
func (c *MetricsCollector) Counter(name, help string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.byName[name]; ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help}
	c.counters = append(c.counters, ctr)
	c.byName[name] = ctr
	return ctr
}

// Gauge returns or creates the named gauge.
func (c *MetricsCollector) Gauge(name, help string) *Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.byName[name]; ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help}
	c.gauges = append(c.gauges, g)
	c.byName[name] = g
	return g
}

// Histogram returns or creates the named histogram.
func (c *MetricsCollector) Histogram(name, help string, buckets []float64) *Histogram {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.byName[name]; ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, buckets: hb}
	c.histograms = append(c.histograms, h)
	c.byName[name] = h
	return h
}

// Handler renders all registered metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP personabot_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE personabot_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "personabot_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		c.mu.Lock()
		counters := append([]*Counter(nil), c.counters...)
		gauges := append([]*Gauge(nil), c.gauges...)
		histograms := append([]*Histogram(nil), c.histograms...)
		c.mu.Unlock()

		for _, ctr := range counters {
			fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
			fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
		}
		for _, g := range gauges {
			fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
			fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
		}
		for _, h := range histograms {
			h.mu.Lock()
			fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
			fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
			for _, b := range h.buckets {
				le := fmt.Sprintf("%g", b.le)
				if math.IsInf(b.le, 1) {
					le = "+Inf"
				}
				fmt.Fprintf(&sb, "%s_bucket{le=%q} %d\n", h.name, le, b.count)
			}
			fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
			fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
			h.mu.Unlock()
		}

		fmt.Fprint(w, sb.String())
	}
}

// Pre-defined metrics used across the application.
var (
	MessagesTotal       = Collector.Counter("personabot_messages_total", "Total inbound chat messages processed")
	RepliesTotal        = Collector.Counter("personabot_replies_total", "Total replies sent")
	WillingnessAccepted = Collector.Counter("personabot_willingness_accepted_total", "Response opportunities accepted")
	WillingnessRejected = Collector.Counter("personabot_willingness_rejected_total", "Response opportunities rejected")
	StageErrors         = Collector.Counter("personabot_stage_errors_total", "Pipeline stage failures")
	BridgeReconnects    = Collector.Counter("personabot_bridge_reconnects_total", "Outbound reconnect attempts")
	ConnectedClients    = Collector.Gauge("personabot_connected_clients", "Current inbound WebSocket clients")
	OutboundConnected   = Collector.Gauge("personabot_outbound_connected", "Whether the outbound connection is up (0/1)")

	PipelineLatency = Collector.Histogram("personabot_pipeline_latency_seconds", "End-to-end pipeline latency in seconds",
		[]float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30})
	GenerationLatency = Collector.Histogram("personabot_generation_latency_seconds", "Generation request latency in seconds",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
)

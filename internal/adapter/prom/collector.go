// Package prom exposes registry state as Prometheus metrics. A custom
// collector snapshots the pools at scrape time instead of maintaining
// counters in parallel with the pool's own bookkeeping.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Strob0t/PoolGate/internal/registry"
)

// Collector implements prometheus.Collector over the pool registry.
type Collector struct {
	reg *registry.Registry

	pools           *prometheus.Desc
	active          *prometheus.Desc
	idle            *prometheus.Desc
	total           *prometheus.Desc
	waiters         *prometheus.Desc
	totalIssued     *prometheus.Desc
	totalRejected   *prometheus.Desc
	acquireTimeouts *prometheus.Desc
}

// NewCollector creates a Collector reading from the given registry.
func NewCollector(reg *registry.Registry) *Collector {
	return &Collector{
		reg: reg,
		pools: prometheus.NewDesc(
			"poolgate_pools",
			"Number of ready tenant pools.",
			nil, nil,
		),
		active: prometheus.NewDesc(
			"poolgate_pool_connections_active",
			"Connections currently leased out.",
			[]string{"tenant"}, nil,
		),
		idle: prometheus.NewDesc(
			"poolgate_pool_connections_idle",
			"Connections sitting idle in the pool.",
			[]string{"tenant"}, nil,
		),
		total: prometheus.NewDesc(
			"poolgate_pool_connections_total",
			"Connections owned by the pool, leased plus idle.",
			[]string{"tenant"}, nil,
		),
		waiters: prometheus.NewDesc(
			"poolgate_pool_waiters",
			"Acquire calls queued waiting for a connection.",
			[]string{"tenant"}, nil,
		),
		totalIssued: prometheus.NewDesc(
			"poolgate_pool_leases_issued_total",
			"Leases issued over the pool's lifetime.",
			[]string{"tenant"}, nil,
		),
		totalRejected: prometheus.NewDesc(
			"poolgate_pool_acquires_rejected_total",
			"Acquires rejected over the pool's lifetime.",
			[]string{"tenant"}, nil,
		),
		acquireTimeouts: prometheus.NewDesc(
			"poolgate_pool_acquire_timeouts_total",
			"Acquires that timed out waiting for a connection.",
			[]string{"tenant"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pools
	ch <- c.active
	ch <- c.idle
	ch <- c.total
	ch <- c.waiters
	ch <- c.totalIssued
	ch <- c.totalRejected
	ch <- c.acquireTimeouts
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.reg.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.pools, prometheus.GaugeValue, float64(len(snap)))

	for _, ts := range snap {
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(ts.Stats.Active), ts.TenantID)
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(ts.Stats.Idle), ts.TenantID)
		ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(ts.Stats.Active+ts.Stats.Idle), ts.TenantID)
		ch <- prometheus.MustNewConstMetric(c.waiters, prometheus.GaugeValue, float64(ts.Stats.Waiters), ts.TenantID)
		ch <- prometheus.MustNewConstMetric(c.totalIssued, prometheus.CounterValue, float64(ts.Stats.TotalIssued), ts.TenantID)
		ch <- prometheus.MustNewConstMetric(c.totalRejected, prometheus.CounterValue, float64(ts.Stats.TotalRejected), ts.TenantID)
		ch <- prometheus.MustNewConstMetric(c.acquireTimeouts, prometheus.CounterValue, float64(ts.Stats.AcquireTimeouts), ts.TenantID)
	}
}

// Handler returns an http.Handler serving /metrics with the pool collector
// plus the standard Go and process collectors.
func Handler(reg *registry.Registry) http.Handler {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		NewCollector(reg),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
}

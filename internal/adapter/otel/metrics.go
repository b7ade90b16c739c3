package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "poolgate"

// Metrics holds all PoolGate metric instruments.
type Metrics struct {
	PoolsCreated    metric.Int64Counter
	PoolsDeleted    metric.Int64Counter
	PoolsEvicted    metric.Int64Counter
	Acquires        metric.Int64Counter
	AcquireTimeouts metric.Int64Counter
	ConnsDiscarded  metric.Int64Counter
	AcquireWait     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.PoolsCreated, err = meter.Int64Counter("poolgate.pools.created",
		metric.WithDescription("Number of tenant pools provisioned"))
	if err != nil {
		return nil, err
	}

	m.PoolsDeleted, err = meter.Int64Counter("poolgate.pools.deleted",
		metric.WithDescription("Number of tenant pools deleted"))
	if err != nil {
		return nil, err
	}

	m.PoolsEvicted, err = meter.Int64Counter("poolgate.pools.evicted",
		metric.WithDescription("Number of idle pools reclaimed by the sweeper"))
	if err != nil {
		return nil, err
	}

	m.Acquires, err = meter.Int64Counter("poolgate.acquires",
		metric.WithDescription("Number of successful connection acquires"))
	if err != nil {
		return nil, err
	}

	m.AcquireTimeouts, err = meter.Int64Counter("poolgate.acquire.timeouts",
		metric.WithDescription("Number of acquires that timed out waiting"))
	if err != nil {
		return nil, err
	}

	m.ConnsDiscarded, err = meter.Int64Counter("poolgate.conns.discarded",
		metric.WithDescription("Number of connections discarded after failed health probes"))
	if err != nil {
		return nil, err
	}

	m.AcquireWait, err = meter.Float64Histogram("poolgate.acquire.wait_seconds",
		metric.WithDescription("Time spent waiting for a connection"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

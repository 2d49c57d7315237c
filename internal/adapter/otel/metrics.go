package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "memmesh"

// Metrics holds all MemMesh metric instruments.
type Metrics struct {
	MemoriesStored    metric.Int64Counter
	MemoriesForgotten metric.Int64Counter
	RecallRequests    metric.Int64Counter
	RecallAdaptive    metric.Int64Counter
	RecallDuration    metric.Float64Histogram
	RecallResults     metric.Int64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.MemoriesStored, err = meter.Int64Counter("memmesh.memories.stored",
		metric.WithDescription("Number of memories stored"))
	if err != nil {
		return nil, err
	}

	m.MemoriesForgotten, err = meter.Int64Counter("memmesh.memories.forgotten",
		metric.WithDescription("Number of memories forgotten"))
	if err != nil {
		return nil, err
	}

	m.RecallRequests, err = meter.Int64Counter("memmesh.recall.requests",
		metric.WithDescription("Number of recall requests"))
	if err != nil {
		return nil, err
	}

	m.RecallAdaptive, err = meter.Int64Counter("memmesh.recall.adaptive_retries",
		metric.WithDescription("Number of adaptive threshold relaxations"))
	if err != nil {
		return nil, err
	}

	m.RecallDuration, err = meter.Float64Histogram("memmesh.recall.duration_seconds",
		metric.WithDescription("Recall duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.RecallResults, err = meter.Int64Histogram("memmesh.recall.results",
		metric.WithDescription("Number of results returned per recall"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

package sinks

import (
	"context"

	"github.com/JakeFAU/askmaven/internal/metrics"
	"github.com/JakeFAU/askmaven/internal/progress"
)

// MetricsSink counts job events per stage.
type MetricsSink struct{}

// NewMetricsSink registers the collectors and returns the sink.
func NewMetricsSink() MetricsSink {
	metrics.Init()
	return MetricsSink{}
}

// Consume increments the stage counter for each event.
func (MetricsSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		metrics.ObserveJobEvent(string(evt.Stage))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (MetricsSink) Close(context.Context) error {
	return nil
}

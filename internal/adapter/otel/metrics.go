package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "hive"

// Metrics holds all hive metric instruments.
type Metrics struct {
	AgentsSpawned  metric.Int64Counter
	Handoffs       metric.Int64Counter
	RetryDecisions metric.Int64Counter
	MemoryOps      metric.Int64Counter
	BusEvents      metric.Int64Counter
	HandlerPanics  metric.Int64Counter
	TaskDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AgentsSpawned, err = meter.Int64Counter("hive.agents.spawned",
		metric.WithDescription("Number of sub-agents spawned"))
	if err != nil {
		return nil, err
	}

	m.Handoffs, err = meter.Int64Counter("hive.handoffs",
		metric.WithDescription("Number of task handoffs between agents"))
	if err != nil {
		return nil, err
	}

	m.RetryDecisions, err = meter.Int64Counter("hive.retry.decisions",
		metric.WithDescription("Number of failure analyses performed"))
	if err != nil {
		return nil, err
	}

	m.MemoryOps, err = meter.Int64Counter("hive.memory.ops",
		metric.WithDescription("Number of memory store operations"))
	if err != nil {
		return nil, err
	}

	m.BusEvents, err = meter.Int64Counter("hive.bus.events",
		metric.WithDescription("Number of events emitted on the event bus"))
	if err != nil {
		return nil, err
	}

	m.HandlerPanics, err = meter.Int64Counter("hive.bus.handler_panics",
		metric.WithDescription("Number of recovered event handler panics"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("hive.task.duration_seconds",
		metric.WithDescription("Task attempt duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

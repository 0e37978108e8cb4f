package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/sitepipe"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Task metrics
	TaskRunsTotal     metric.Int64Counter
	TaskFailuresTotal metric.Int64Counter
	TaskDuration      metric.Float64Histogram
	TaskOutputsTotal  metric.Int64Counter

	// Watch metrics
	WatchEventsTotal   metric.Int64Counter
	WatchTriggersTotal metric.Int64Counter

	// Live reload metrics
	ReloadBroadcastsTotal metric.Int64Counter
	ReloadClients         metric.Int64UpDownCounter

	// Favicon service metrics
	FaviconRequestsTotal metric.Int64Counter
	FaviconRetriesTotal  metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for task spans.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	m.TaskRunsTotal, _ = meter.Int64Counter(
		"sitepipe.tasks.runs.total",
		metric.WithDescription("Total number of task invocations"),
		metric.WithUnit("{run}"),
	)

	m.TaskFailuresTotal, _ = meter.Int64Counter(
		"sitepipe.tasks.failures.total",
		metric.WithDescription("Total number of failed task invocations"),
		metric.WithUnit("{run}"),
	)

	m.TaskDuration, _ = meter.Float64Histogram(
		"sitepipe.tasks.duration",
		metric.WithDescription("Duration of task invocations"),
		metric.WithUnit("ms"),
	)

	m.TaskOutputsTotal, _ = meter.Int64Counter(
		"sitepipe.tasks.outputs.total",
		metric.WithDescription("Total number of files written by tasks"),
		metric.WithUnit("{file}"),
	)

	m.WatchEventsTotal, _ = meter.Int64Counter(
		"sitepipe.watch.events.total",
		metric.WithDescription("Total number of filesystem events received"),
		metric.WithUnit("{event}"),
	)

	m.WatchTriggersTotal, _ = meter.Int64Counter(
		"sitepipe.watch.triggers.total",
		metric.WithDescription("Total number of task runs triggered by the watcher"),
		metric.WithUnit("{run}"),
	)

	m.ReloadBroadcastsTotal, _ = meter.Int64Counter(
		"sitepipe.reload.broadcasts.total",
		metric.WithDescription("Total number of reload notifications sent to browsers"),
		metric.WithUnit("{broadcast}"),
	)

	m.ReloadClients, _ = meter.Int64UpDownCounter(
		"sitepipe.reload.clients",
		metric.WithDescription("Number of connected live reload clients"),
		metric.WithUnit("{client}"),
	)

	m.FaviconRequestsTotal, _ = meter.Int64Counter(
		"sitepipe.favicon.requests.total",
		metric.WithDescription("Total number of favicon service requests"),
		metric.WithUnit("{request}"),
	)

	m.FaviconRetriesTotal, _ = meter.Int64Counter(
		"sitepipe.favicon.retries.total",
		metric.WithDescription("Total number of retried favicon service requests"),
		metric.WithUnit("{retry}"),
	)

	return m
}

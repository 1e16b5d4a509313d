// Package metrics exposes runtime counters through OpenTelemetry. The
// instruments are created against the global meter provider, so they start
// recording as soon as Setup (or a test) installs a provider.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const scope = "github.com/JaySpiffy/void-reckoning-engine-sub002"

var meter = otel.Meter(scope)

var (
	EventsIndexed       = counter("telemetry.events.indexed", "Events persisted by the indexer.")
	LinesSkipped        = counter("telemetry.lines.skipped", "Input lines that could not be ingested.")
	RunsIndexed         = counter("telemetry.runs.indexed", "Run directories crawled.")
	TurnsIndexed        = counter("telemetry.turns.indexed", "New turns indexed by incremental crawls.")
	TailerRotations     = counter("telemetry.tailer.rotations", "Rotations or truncations detected by tailers.")
	CacheHits           = counter("telemetry.cache.hits", "Query cache hits.")
	CacheMisses         = counter("telemetry.cache.misses", "Query cache misses.")
	AlertsFired         = counter("telemetry.alerts.fired", "Alerts recorded by the rule engine.")
	AlertsSuppressed    = counter("telemetry.alerts.suppressed", "Alerts dropped as duplicates.")
	NotificationsSent   = counter("telemetry.notifications.sent", "Alerts delivered to a channel.")
	NotificationsFailed = counter("telemetry.notifications.failed", "Channel deliveries that failed.")
)

func counter(name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return c
}

// Setup installs a meter provider exporting to an OTLP gRPC endpoint every
// interval. The returned func flushes and shuts the provider down.
func Setup(ctx context.Context, endpoint string, interval time.Duration) (func(context.Context) error, error) {
	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}

// Package telemetry records daemon counters with OpenTelemetry.
//
// Metrics are off unless telemetry.stdout is set, in which case they are
// printed to stdout every 30 seconds. Off means a no-op meter, so callers
// never check whether telemetry is enabled.
package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "github.com/dori/taskgate"

// Metrics holds the daemon's counters
type Metrics struct {
	unlocks      metric.Int64Counter
	relocks      metric.Int64Counter
	rebuilds     metric.Int64Counter
	syncPushes   metric.Int64Counter
	syncFailures metric.Int64Counter
	bridgeFrames metric.Int64Counter

	shutdown func(context.Context) error
}

// Setup builds the meter provider. With stdout false every counter is a
// no-op.
func Setup(ctx context.Context, stdout bool, version string) (*Metrics, error) {
	if !stdout {
		return Nop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("taskgate"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, err
	}

	exp, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second))),
	)

	m, err := FromProvider(mp)
	if err != nil {
		return nil, err
	}
	m.shutdown = mp.Shutdown
	return m, nil
}

// Nop returns metrics that record nothing
func Nop() *Metrics {
	m, _ := FromProvider(metricnoop.NewMeterProvider())
	return m
}

// FromProvider creates the counters on mp. Shutdown stays with the caller.
func FromProvider(mp metric.MeterProvider) (*Metrics, error) {
	return newMetrics(mp.Meter(instrumentationScope))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	m.unlocks = counter("taskgate.unlocks", "Sites or groups unlocked")
	m.relocks = counter("taskgate.relocks", "Sites or groups relocked")
	m.rebuilds = counter("taskgate.rule_rebuilds", "Blocking rule rebuilds")
	m.syncPushes = counter("taskgate.sync.pushes", "Snapshots written to the remote store")
	m.syncFailures = counter("taskgate.sync.failures", "Failed remote sync operations")
	m.bridgeFrames = counter("taskgate.bridge.frames", "Frames exchanged with the task source")
	return &m, errors.Join(errs...)
}

// Shutdown flushes pending metrics
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.shutdown == nil {
		return nil
	}
	return m.shutdown(ctx)
}

func (m *Metrics) Unlocked(ctx context.Context, key string, paused bool) {
	m.unlocks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key", key),
		attribute.Bool("paused", paused),
	))
}

func (m *Metrics) Relocked(ctx context.Context, key string) {
	m.relocks.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RulesRebuilt(ctx context.Context, rules int) {
	m.rebuilds.Add(ctx, 1, metric.WithAttributes(attribute.Int("rules", rules)))
}

func (m *Metrics) SyncPushed(ctx context.Context) {
	m.syncPushes.Add(ctx, 1)
}

func (m *Metrics) SyncFailed(ctx context.Context, op string) {
	m.syncFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) BridgeFrame(ctx context.Context, direction, kind string) {
	m.bridgeFrames.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("type", kind),
	))
}

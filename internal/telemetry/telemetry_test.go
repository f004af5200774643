package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNopRecordsNothing(t *testing.T) {
	m := Nop()
	ctx := context.Background()
	m.Unlocked(ctx, "a.com", false)
	m.SyncFailed(ctx, "push")
	assert.NoError(t, m.Shutdown(ctx))
}

func TestCountersReachReader(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := newMetrics(mp.Meter(instrumentationScope))
	require.NoError(t, err)

	m.Unlocked(ctx, "a.com", false)
	m.Unlocked(ctx, "b.com", true)
	m.Relocked(ctx, "a.com")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[md.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), totals["taskgate.unlocks"])
	assert.Equal(t, int64(1), totals["taskgate.relocks"])
}

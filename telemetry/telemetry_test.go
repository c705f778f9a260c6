package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNoopImplementationsSatisfyInterfacesWithoutPanicking(t *testing.T) {
	ctx := context.Background()

	var logger Logger = NewNoopLogger()
	logger.Debug(ctx, "msg", "k", "v")
	logger.Info(ctx, "msg")
	logger.Warn(ctx, "msg")
	logger.Error(ctx, "msg", "err", "boom")

	var metrics Metrics = NewNoopMetrics()
	metrics.IncCounter("c", 1, "tag", "v")
	metrics.RecordTimer("t", time.Second)
	metrics.RecordGauge("g", 1.0)

	var tracer Tracer = NewNoopTracer()
	spanCtx, span := tracer.Start(ctx, "op")
	require.Equal(t, ctx, spanCtx)
	span.AddEvent("evt")
	span.RecordError(nil)
	span.End()

	require.NotNil(t, tracer.Span(ctx))
}

func TestPrometheusMetricsIncCounterAccumulates(t *testing.T) {
	m := NewPrometheusMetrics()
	m.IncCounter("requests_total", 1, "route", "/a")
	m.IncCounter("requests_total", 2, "route", "/a")

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestPrometheusMetricsGaugeValueRoundTrips(t *testing.T) {
	m := NewPrometheusMetrics()
	m.RecordGauge("cpu_usage", 42.5, "host", "a")

	value, ok := m.GaugeValue("cpu_usage", "a")
	require.True(t, ok)
	require.Equal(t, 42.5, value)
}

func TestPrometheusMetricsGaugeValueMissingReturnsFalse(t *testing.T) {
	m := NewPrometheusMetrics()
	_, ok := m.GaugeValue("does_not_exist")
	require.False(t, ok)
}

func TestTagLabelsHandlesOddLengthTags(t *testing.T) {
	labels, values := tagLabels([]string{"a", "1", "dangling"})
	require.Equal(t, []string{"a", "dangling"}, labels)
	require.Equal(t, []string{"1", ""}, values)
}

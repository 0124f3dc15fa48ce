package shm

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/srediag/ohlcv-shm/pkg/shm"

var (
	segmentsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ohlcv_shm",
		Name:      "segments_created_total",
		Help:      "Total number of shared memory segments created.",
	})
	segmentsReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ohlcv_shm",
		Name:      "segments_released_total",
		Help:      "Total number of owned segments released.",
	})
	attachTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ohlcv_shm",
		Name:      "attach_total",
		Help:      "Attach attempts by result.",
	}, []string{"result"})
	bytesLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ohlcv_shm",
		Name:      "bytes_live",
		Help:      "Bytes held by segments this process created and has not released.",
	})
)

func init() {
	prometheus.MustRegister(segmentsCreated, segmentsReleased, attachTotal, bytesLive)
}

// telemetry bundles the OpenTelemetry instruments used by one call.
type telemetry struct {
	tracer trace.Tracer
	ops    metric.Int64Counter
	bytes  metric.Int64Counter
}

func newTelemetry(o *options) *telemetry {
	meter := o.meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	tracer := o.tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	t := &telemetry{tracer: tracer}
	var err error
	if t.ops, err = meter.Int64Counter("ohlcv_shm.operations",
		metric.WithDescription("Shared memory segment operations."),
	); err != nil {
		internalLogger.warnf("create operations counter: %v", err)
		t.ops, _ = metricnoop.NewMeterProvider().Meter(instrumentationName).Int64Counter("ohlcv_shm.operations")
	}
	if t.bytes, err = meter.Int64Counter("ohlcv_shm.bytes",
		metric.WithDescription("Bytes copied into shared memory segments."),
		metric.WithUnit("By"),
	); err != nil {
		internalLogger.warnf("create bytes counter: %v", err)
		t.bytes, _ = metricnoop.NewMeterProvider().Meter(instrumentationName).Int64Counter("ohlcv_shm.bytes")
	}
	return t
}

func (t *telemetry) start(ctx context.Context, op, segment string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "shm."+op, trace.WithAttributes(
		attribute.String("shm.segment", segment),
	))
}

func (t *telemetry) done(ctx context.Context, span trace.Span, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	t.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
	span.End()
}

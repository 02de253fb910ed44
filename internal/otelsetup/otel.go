// Package otelsetup installs the OpenTelemetry providers and defines the
// instruments the job registry records against.
package otelsetup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/version"
)

const (
	serviceName = "go-idea-jobs"
	meterName   = "go-idea-jobs/registry"
)

// InitOTel installs global tracer and meter providers: spans go to stdout,
// metrics to the OTLP endpoint named by the standard OTEL_EXPORTER_OTLP_*
// variables. The returned func flushes and shuts both down.
func InitOTel(ctx context.Context, log logger.Logger) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp, err := newTracerProvider(res)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(ctx, res)
	if err != nil {
		tp.Shutdown(ctx)
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	log.Info("otel providers installed", logger.Component("otel"))
	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newTracerProvider(res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	), nil
}

// Instruments records registry activity. A nil *Instruments is a no-op.
type Instruments struct {
	submitted      metric.Int64Counter
	backendCalls   metric.Int64Counter
	backendLatency metric.Float64Histogram
	swept          metric.Int64Counter
}

// NewInstruments creates the registry instruments on mp. With the global
// provider left unset they record nothing.
func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	m := mp.Meter(meterName, metric.WithInstrumentationVersion(version.Version))

	var in Instruments
	var errs [4]error
	in.submitted, errs[0] = m.Int64Counter("ideajobs.jobs.submitted",
		metric.WithDescription("Jobs accepted by the backend, by scope kind."))
	in.backendCalls, errs[1] = m.Int64Counter("ideajobs.backend.calls",
		metric.WithDescription("Backend calls by operation and result."))
	in.backendLatency, errs[2] = m.Float64Histogram("ideajobs.backend.duration",
		metric.WithDescription("Backend call latency."),
		metric.WithUnit("s"))
	in.swept, errs[3] = m.Int64Counter("ideajobs.jobs.swept",
		metric.WithDescription("Terminal jobs dropped after the grace period."))
	if err := errors.Join(errs[:]...); err != nil {
		return nil, fmt.Errorf("registry instruments: %w", err)
	}
	return &in, nil
}

// Submitted counts one accepted submission. kind is "personal" or "group".
func (in *Instruments) Submitted(ctx context.Context, kind string) {
	if in == nil {
		return
	}
	in.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", kind)))
}

// BackendCall records one backend round trip that began at start.
func (in *Instruments) BackendCall(ctx context.Context, op string, start time.Time, err error) {
	if in == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("result", result))
	in.backendCalls.Add(ctx, 1, attrs)
	in.backendLatency.Record(ctx, time.Since(start).Seconds(), attrs)
}

// Swept adds n expired jobs.
func (in *Instruments) Swept(ctx context.Context, n int) {
	if in == nil || n == 0 {
		return
	}
	in.swept.Add(ctx, int64(n))
}

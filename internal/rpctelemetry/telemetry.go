// Package rpctelemetry wires an OpenTelemetry tracer provider for a rpchost
// server: an OTLP/gRPC exporter when enabled, a no-op tracer otherwise, plus
// the server interceptors (middleware.go) that start one span per dispatched
// call.
package rpctelemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether and where call traces are exported.
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Version     string
	SampleRate  float64
}

// Provider wraps a TracerProvider, or a no-op tracer when tracing is
// disabled, behind one Tracer() accessor.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

var global *Provider

// Init builds the process-wide Provider. When cfg.Enabled is false it
// returns a no-op provider so StartSpan calls elsewhere never need a nil
// check.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		p := &Provider{tracer: otel.Tracer(cfg.ServiceName)}
		global = p
		return p, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	p := &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}
	global = p
	return p, nil
}

// Shutdown flushes and stops the exporter. A no-op provider has nothing to
// flush.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Get returns the process-wide provider, or a bare no-op tracer if Init was
// never called (e.g. in tests).
func Get() *Provider {
	if global == nil {
		return &Provider{tracer: otel.Tracer("rpchost")}
	}
	return global
}

// StartSpan starts a span on the process-wide tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Get().tracer.Start(ctx, name, opts...)
}

// SetError records err on the span in ctx and marks it failed.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ServiceMethodAttributes labels a span with the rpchost service/method pair
// it belongs to.
func ServiceMethodAttributes(service, method string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("rpchost.service", service),
		attribute.String("rpchost.method", method),
	}
}

// Package tracing runs downstream calls as traced units of work.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/vietddude/resilience"

// ExporterStdout writes finished spans as JSON.
const ExporterStdout = "stdout"

// Config holds tracing configuration.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Exporter    string `yaml:"exporter"` // stdout
	PrettyPrint bool   `yaml:"pretty_print"`
}

// Tracer wraps external calls in spans.
type Tracer interface {
	TraceExternalCall(ctx context.Context, component, operation string, fn func(ctx context.Context) error) error
}

// Provider is the process tracer together with the SDK provider behind it.
type Provider struct {
	Tracer Tracer
	sdk    *sdktrace.TracerProvider
}

// Shutdown flushes pending spans. It is a no-op when tracing is disabled.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// Setup returns a passthrough tracer when disabled. Otherwise it installs an
// SDK tracer provider exporting to w (stdout when nil) as the global provider.
func Setup(cfg Config, w io.Writer) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{Tracer: Noop{}}, nil
	}
	if w == nil {
		w = os.Stdout
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "", ExporterStdout:
		opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
		if cfg.PrettyPrint {
			opts = append(opts, stdouttrace.WithPrettyPrint())
		}
		exp, err := stdouttrace.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		Tracer: NewOTel(tp.Tracer(instrumentationName), cfg.ServiceName),
		sdk:    tp,
	}, nil
}

// OTel records one span per external call.
type OTel struct {
	tracer  trace.Tracer
	service string
}

// NewOTel creates a span-producing tracer.
func NewOTel(t trace.Tracer, service string) *OTel {
	return &OTel{tracer: t, service: service}
}

// TraceExternalCall runs fn inside a span named component.operation.
func (o *OTel) TraceExternalCall(ctx context.Context, component, operation string, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, fmt.Sprintf("%s.%s", component, operation),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("resilience.component", component),
		attribute.String("resilience.operation", operation),
	)
	if o.service != "" {
		span.SetAttributes(attribute.String("service.name", o.service))
	}

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

// Noop calls fn directly.
type Noop struct{}

// TraceExternalCall runs fn with ctx unchanged.
func (Noop) TraceExternalCall(ctx context.Context, _, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Package tracing installs the OpenTelemetry tracer provider used by the workflow engine.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config holds tracing configuration
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// OutputPath receives spans as JSON lines; empty or "stdout" means stdout
	OutputPath string
}

// Provider owns the installed tracer provider and its output
type Provider struct {
	tp     *sdktrace.TracerProvider
	closer io.Closer
}

// Setup installs a stdout-exporting provider as the global one.
// A disabled config returns a Provider whose Shutdown is a no-op.
func Setup(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	var w io.Writer = os.Stdout
	var closer io.Closer
	if cfg.OutputPath != "" && cfg.OutputPath != "stdout" {
		f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace output: %w", err)
		}
		w, closer = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	p, err := SetupWithExporter(cfg, exporter, sdktrace.NewBatchSpanProcessor(exporter))
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}
	p.closer = closer
	return p, nil
}

// SetupWithExporter installs a provider around the given exporter and processor.
// Tests pass an in-memory exporter with a simple processor.
func SetupWithExporter(cfg Config, exporter sdktrace.SpanExporter, processor sdktrace.SpanProcessor) (*Provider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans and closes the output
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	err := p.tp.Shutdown(ctx)
	if p.closer != nil {
		if cerr := p.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Package telemetry installs the global OpenTelemetry tracer and logger
// providers.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Options selects the exporters. An empty Endpoint keeps telemetry local:
// spans are created and sampled and log records are bridged, but nothing
// leaves the process.
type Options struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
}

// Setup installs a tracer provider, a logger provider and W3C propagation.
// The returned function flushes and stops both providers.
func Setup(ctx context.Context, opts Options) (func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", opts.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, res, opts)
	if err != nil {
		return nil, err
	}
	lp, err := newLoggerProvider(ctx, res, opts)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	global.SetLoggerProvider(lp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), lp.Shutdown(ctx))
	}, nil
}

func newTracerProvider(ctx context.Context, res *resource.Resource, opts Options) (*sdktrace.TracerProvider, error) {
	providerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if opts.Endpoint != "" {
		exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(opts.Endpoint)}
		if opts.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(providerOpts...), nil
}

func newLoggerProvider(ctx context.Context, res *resource.Resource, opts Options) (*sdklog.LoggerProvider, error) {
	providerOpts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	if opts.Endpoint != "" {
		exporterOpts := []otlploghttp.Option{otlploghttp.WithEndpointURL(opts.Endpoint)}
		if opts.Insecure {
			exporterOpts = append(exporterOpts, otlploghttp.WithInsecure())
		}
		exporter, err := otlploghttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp log exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)))
	}
	return sdklog.NewLoggerProvider(providerOpts...), nil
}

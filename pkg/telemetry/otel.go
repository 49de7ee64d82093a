package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type StopFn func(ctx context.Context, timeout time.Duration)

// HookFn runs once the providers are installed, so that it can attach to the global logger provider.
type HookFn func(ctx context.Context) (context.Context, error)

type options struct {
	endpoint string
	insecure bool
	enabled  bool
}

type Option func(*options)

func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

func WithInsecure() Option {
	return func(o *options) { o.insecure = true }
}

// WithEnabled(false) keeps the global no-op providers; hookFn still runs.
func WithEnabled(enabled bool) Option {
	return func(o *options) { o.enabled = enabled }
}

// Observe installs OTLP/gRPC trace, metric and log providers as the otel globals.
func Observe(ctx context.Context, name string, version string, env string, hookFn HookFn, opts ...Option) (context.Context, StopFn, error) {
	o := &options{endpoint: "localhost:4317", enabled: true}
	for _, opt := range opts {
		opt(o)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	noop := func(context.Context, time.Duration) {}

	if !o.enabled {
		log.Ctx(ctx).Info().Str("stage", "startup").Str("component", "telemetry").Msg("telemetry export disabled")

		ctx, err := hookFn(ctx)

		return ctx, noop, err
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", version),
		attribute.String("deployment.environment", env),
	)

	traceExporter, err := otlptracegrpc.New(ctx, traceOptions(o)...)
	if err != nil {
		return ctx, noop, fmt.Errorf("failed to create the OTLP trace exporter: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx, metricOptions(o)...)
	if err != nil {
		return ctx, noop, fmt.Errorf("failed to create the OTLP metric exporter: %w", err)
	}

	logExporter, err := otlploggrpc.New(ctx, logOptions(o)...)
	if err != nil {
		return ctx, noop, fmt.Errorf("failed to create the OTLP log exporter: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter), sdktrace.WithResource(res))
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	global.SetLoggerProvider(loggerProvider)

	stopFn := func(ctx context.Context, timeout time.Duration) {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		err := errors.Join(
			tracerProvider.Shutdown(stopCtx),
			meterProvider.Shutdown(stopCtx),
			loggerProvider.Shutdown(stopCtx),
		)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("stage", "shut down").Str("component", "telemetry").Msg("unable to flush telemetry")
		}
	}

	ctx, err = hookFn(ctx)
	if err != nil {
		stopFn(ctx, 5*time.Second)
		return ctx, noop, fmt.Errorf("failed to run telemetry hook: %w", err)
	}

	return ctx, stopFn, nil
}

func traceOptions(o *options) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(o.endpoint)}
	if o.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	return opts
}

func metricOptions(o *options) []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(o.endpoint)}
	if o.insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	return opts
}

func logOptions(o *options) []otlploggrpc.Option {
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(o.endpoint)}
	if o.insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}

	return opts
}

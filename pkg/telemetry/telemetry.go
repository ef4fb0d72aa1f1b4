package telemetry

import (
	"context"
	"errors"
	"fmt"
	"frbench/config"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// TraceContextEnv carries an exported span context into analyzer containers.
const TraceContextEnv = "FRB_TRACE_CONTEXT"

type Telemetry interface {
	GetTracer() trace.Tracer
	GetLogger() log.Logger
}

type TelemetryImpl struct {
	tracer trace.Tracer
	logger log.Logger
}

type TelemetryParams struct {
	fx.In
	Lifecyle fx.Lifecycle
	Config   *config.AppConfig
}

// NewTelemetry returns nil when no collector endpoint is configured; consumers
// then fall back to DummyTracer and a plain zap logger.
func NewTelemetry(p TelemetryParams) (Telemetry, error) {
	if p.Config.OtelEndpoint == "" {
		return nil, nil
	}
	telemetryCtx, cancel := context.WithCancel(context.Background())

	// trials of one campaign may run on several hosts
	host, _ := os.Hostname()
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(p.Config.ServiceName),
		semconv.HostNameKey.String(host),
	)

	tracerExp, err := otlptracegrpc.New(telemetryCtx, otlptracegrpc.WithEndpointURL(p.Config.OtelEndpoint))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(tracerExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// without a log exporter records only go to stderr
	var logProvider *sdklog.LoggerProvider
	var logger log.Logger
	if logExp, err := otlploggrpc.New(telemetryCtx, otlploggrpc.WithEndpointURL(p.Config.OtelEndpoint)); err == nil {
		logProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
			sdklog.WithResource(res),
		)
		logger = logProvider.Logger(p.Config.ServiceName)
	}

	p.Lifecyle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// flush before the exporters lose their context
			defer cancel()
			errs := []error{traceProvider.Shutdown(ctx)}
			if logProvider != nil {
				errs = append(errs, logProvider.Shutdown(ctx))
			}
			return errors.Join(errs...)
		},
	})

	return &TelemetryImpl{traceProvider.Tracer(p.Config.ServiceName), logger}, nil
}

func (t *TelemetryImpl) GetTracer() trace.Tracer {
	return t.tracer
}

func (t *TelemetryImpl) GetLogger() log.Logger {
	return t.logger
}

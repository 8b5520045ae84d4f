package observability

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingOptions configures the OTLP exporter.
type TracingOptions struct {
	ServiceName string
	Endpoint    string // OTLP gRPC collector, host:port
	SampleRate  float64
}

// InitTracing installs a global tracer provider exporting to opts.Endpoint
// and returns a shutdown func that flushes pending spans.
func InitTracing(ctx context.Context, logger *zap.Logger, opts TracingOptions) (func(), error) {
	env := os.Getenv("ENV")
	if env == "" {
		env = "production"
	}

	exporter, err := otlptrace.New(ctx,
		otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(opts.Endpoint),
			otlptracegrpc.WithInsecure(),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes("",
			semconv.ServiceName(opts.ServiceName),
			attribute.String("environment", env),
		)),
		sdktrace.WithSampler(sampler(opts.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing enabled",
		zap.String("endpoint", opts.Endpoint),
		zap.Float64("sample_rate", opts.SampleRate))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("tracer provider shutdown", zap.Error(err))
		}
	}, nil
}

// sampler honours the caller's sampling decision so a portal request that
// is already traced keeps its slot loads in the same trace.
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns the named tracer from the global provider. Components call
// it at package init so spans pick up the provider installed by InitTracing.
func Tracer(component string) trace.Tracer {
	return otel.Tracer("adrotator/" + component)
}

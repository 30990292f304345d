// Package telemetry wires OpenTelemetry OTLP tracing for the pump's
// dispatch spans: one span per handler invocation, tagged with thread
// id, listener name, and outcome.
package telemetry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/xmlpipeline/organism/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "xmlpipeline/organism/pump"

// Init sets up OpenTelemetry tracing with an OTLP gRPC exporter. Returns
// a shutdown function to call on graceful shutdown. A disabled or
// endpoint-less config yields a no-op tracer provider.
func Init(cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		log.Info().Msg("telemetry: disabled")
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().Str("endpoint", cfg.OTLPEndpoint).Str("service", cfg.ServiceName).Msg("telemetry: OTLP tracing initialized")
	return tp.Shutdown, nil
}

// StartDispatchSpan opens a span for one handler invocation. Call
// EndDispatchSpan with the resolved outcome once dispatch completes.
func StartDispatchSpan(ctx context.Context, threadID, listener string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "pump.dispatch",
		trace.WithAttributes(
			attribute.String("thread_id", threadID),
			attribute.String("listener", listener),
		),
	)
}

// EndDispatchSpan records the dispatch outcome and ends span.
func EndDispatchSpan(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String("outcome", outcome))
	span.End()
}

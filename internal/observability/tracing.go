package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps the OpenTelemetry tracer with span helpers for the
// operations this gateway runs: tool invocations, token grants,
// inventory refreshes, and LLM runs.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// TraceConfig configures trace export.
type TraceConfig struct {
	// ServiceName identifies this process in traces.
	ServiceName string

	// Environment tags the deployment (production, staging, dev).
	Environment string

	// Endpoint is the OTLP gRPC collector. Empty disables export;
	// spans still propagate context but record nothing.
	Endpoint string

	// SamplingRate keeps this fraction of traces. Zero means all.
	SamplingRate float64

	// Insecure disables TLS on the collector connection.
	Insecure bool
}

// NewTracer builds a tracer and its shutdown function. An empty
// endpoint or a failed exporter yields a no-op tracer so the gateway
// never refuses to start over a collector problem.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "toolgate"
	}
	noop := func(context.Context) error { return nil }
	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, noop
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(config.ServiceName)}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate <= 0 || config.SamplingRate >= 1:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{provider: provider, tracer: provider.Tracer(config.ServiceName)}
	return t, provider.Shutdown
}

// Start opens a span.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// TraceToolExecution opens a span for one tool invocation.
func (t *Tracer) TraceToolExecution(ctx context.Context, sourceID, toolName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tool.source_id", sourceID),
			attribute.String("tool.name", toolName),
		))
}

// TraceTokenGrant opens a span for one token issuance. The audience is
// recorded; the token never is.
func (t *Tracer) TraceTokenGrant(ctx context.Context, service, audience string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "token.grant",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("token.service", service),
			attribute.String("token.audience", audience),
		))
}

// TraceInventoryRefresh opens a span for one source reconciliation.
func (t *Tracer) TraceInventoryRefresh(ctx context.Context, sourceID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "inventory.refresh",
		trace.WithAttributes(attribute.String("source.id", sourceID)))
}

// TraceRun opens a span for one LLM run.
func (t *Tracer) TraceRun(ctx context.Context, provider, conversationID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "llm.run",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("conversation.id", conversationID),
		))
}

// RecordError marks the span failed and records the error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

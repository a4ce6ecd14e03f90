package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/docmint/docmint/pkg/docgen/core/config"
	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/support/logger"
)

// OtelTracer implements Tracer on the global OpenTelemetry tracer provider.
type OtelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer creates a tracer backed by OpenTelemetry.
func NewOtelTracer() *OtelTracer {
	return &OtelTracer{tracer: otel.Tracer("docmint")}
}

func (t *OtelTracer) StartJobSpan(ctx context.Context, kind model.JobKind, batchID string) (context.Context, func(error)) {
	sctx, span := t.tracer.Start(ctx, "job."+string(kind), trace.WithAttributes(
		attribute.String("docmint.batch.id", batchID),
	))
	return sctx, endWith(span)
}

func (t *OtelTracer) StartStageSpan(ctx context.Context, batchID string, stage model.Stage) (context.Context, func(error)) {
	sctx, span := t.tracer.Start(ctx, "stage."+string(stage), trace.WithAttributes(
		attribute.String("docmint.batch.id", batchID),
	))
	return sctx, endWith(span)
}

func endWith(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

var _ Tracer = (*OtelTracer)(nil)

// NewTracerProvider builds an OTLP-exporting tracer provider from config and
// installs it as the global provider.
func NewTracerProvider(ctx context.Context, cfg config.TracingConfig) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("docmint"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp, nil
}

// TracingModule wires the Tracer. With tracing disabled it provides the noop
// tracer and skips the provider lifecycle entirely.
var TracingModule = fx.Options(
	fx.Provide(func(cfg *config.Config) Tracer {
		if !cfg.Docmint.System.Tracing.Enabled {
			return NewNoopTracer()
		}
		return NewOtelTracer()
	}),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) {
		tracing := cfg.Docmint.System.Tracing
		if !tracing.Enabled {
			return
		}
		var tp *sdktrace.TracerProvider
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				var err error
				tp, err = NewTracerProvider(context.Background(), tracing)
				if err != nil {
					return err
				}
				logger.Infof("tracing: exporting spans to %s", tracing.Endpoint)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				if tp == nil {
					return nil
				}
				ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				return tp.Shutdown(ctx)
			},
		})
	}),
)

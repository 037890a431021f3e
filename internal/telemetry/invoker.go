package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"mijiamcp/internal/script"
)

// Invoker is the script-running contract being decorated.
type Invoker interface {
	Invoke(ctx context.Context, script string, params map[string]any) (any, error)
}

// InstrumentedInvoker wraps an Invoker with a span and metrics per call.
type InstrumentedInvoker struct {
	next   Invoker
	tracer trace.Tracer

	invocations metric.Int64Counter
	latency     metric.Float64Histogram
}

func NewInstrumentedInvoker(next Invoker, meter metric.Meter, tracer trace.Tracer) (*InstrumentedInvoker, error) {
	invocations, err := meter.Int64Counter(
		"mijia.script.invocations",
		metric.WithDescription("Number of backend script invocations"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"mijia.script.latency",
		metric.WithDescription("Backend script latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &InstrumentedInvoker{
		next:        next,
		tracer:      tracer,
		invocations: invocations,
		latency:     latency,
	}, nil
}

func (i *InstrumentedInvoker) Invoke(ctx context.Context, scriptName string, params map[string]any) (any, error) {
	action, _ := params["action"].(string)
	attrs := []attribute.KeyValue{
		attribute.String("script", scriptName),
		attribute.String("action", action),
	}

	ctx, span := i.tracer.Start(ctx, "script.invoke", trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	result, err := i.next.Invoke(ctx, scriptName, params)
	elapsed := time.Since(start)

	attrs = append(attrs, attribute.Bool("success", err == nil))
	if err != nil {
		kind := string(script.KindOf(err))
		if kind == "" {
			kind = "unknown"
		}
		attrs = append(attrs, attribute.String("error_kind", kind))
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attrs[2:]...)

	opts := metric.WithAttributes(attrs...)
	i.invocations.Add(ctx, 1, opts)
	i.latency.Record(ctx, elapsed.Seconds(), opts)
	return result, err
}

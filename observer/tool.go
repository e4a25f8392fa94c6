package observer

import (
	"context"
	"encoding/json"
	"time"

	aster "github.com/corven/aster"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTools wraps a tool executor with OTEL instrumentation.
type ObservedTools struct {
	inner aster.ToolExecutor
	inst  *Instruments
}

// WrapTools returns an instrumented tool executor.
func WrapTools(inner aster.ToolExecutor, inst *Instruments) *ObservedTools {
	return &ObservedTools{inner: inner, inst: inst}
}

var _ aster.ToolExecutor = (*ObservedTools)(nil)

func (o *ObservedTools) Descriptors() []aster.ToolDescriptor {
	return o.inner.Descriptors()
}

func (o *ObservedTools) Len() int { return o.inner.Len() }

// Execute instruments one tool call.
func (o *ObservedTools) Execute(ctx context.Context, name string, args json.RawMessage) (any, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		AttrToolName.String(name),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, name, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	resultLen := 0
	if s, ok := result.(string); ok {
		resultLen = len(s)
	}
	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(resultLen),
	)

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(name),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool executed"))
	rec.AddAttributes(
		otellog.String("tool.name", name),
		otellog.String("tool.status", status),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

package observer

import (
	"context"
	"time"

	aster "github.com/corven/aster"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps an aster.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner aster.Provider
	inst  *Instruments
	model string
}

// WrapProvider returns an instrumented provider that emits traces, metrics,
// and logs for every call.
func WrapProvider(inner aster.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

var _ aster.Provider = (*ObservedProvider)(nil)

func (o *ObservedProvider) Name() string { return o.inner.Name() }

// Stream instruments the streaming call, counting forwarded fragments.
func (o *ObservedProvider) Stream(ctx context.Context, req aster.Request, ch chan<- string) (aster.FinalMessage, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.stream", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrToolCount.Int(len(req.Tools)),
	))
	defer span.End()
	start := time.Now()

	mid := make(chan string, 64)
	var chunks int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for fragment := range mid {
			chunks++
			select {
			case ch <- fragment:
			case <-ctx.Done():
			}
		}
	}()
	msg, err := o.inner.Stream(ctx, req, mid)
	<-done
	close(ch)

	span.SetAttributes(AttrStreamChunks.Int(chunks))
	o.record(ctx, span, "stream", start, msg.Usage, err)
	return msg, err
}

// Create instruments the non-streaming call.
func (o *ObservedProvider) Create(ctx context.Context, req aster.Request) (aster.FinalMessage, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.create", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	msg, err := o.inner.Create(ctx, req)
	o.record(ctx, span, "create", start, msg.Usage, err)
	return msg, err
}

// CountTokens instruments the token-count call.
func (o *ObservedProvider) CountTokens(ctx context.Context, req aster.Request) (int, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.count_tokens", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()

	n, err := o.inner.CountTokens(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return n, err
}

// record emits the per-call span attributes, metrics, and structured log.
func (o *ObservedProvider) record(ctx context.Context, span trace.Span, method string, start time.Time, usage aster.UsageInfo, err error) {
	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	cost := o.inst.Cost.CostFor(o.model, usage)
	span.SetAttributes(
		AttrLLMMethod.String(method),
		AttrTokensInput.Int(usage.TotalInput()),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	modelAttr := metric.WithAttributes(
		AttrLLMModel.String(o.model),
		attribute.String("status", status),
	)
	o.inst.LLMRequests.Add(ctx, 1, modelAttr)
	o.inst.LLMDuration.Record(ctx, durationMs, modelAttr)
	o.inst.TokenUsage.Add(ctx, int64(usage.TotalInput()+usage.OutputTokens), modelAttr)
	o.inst.CostTotal.Add(ctx, cost, metric.WithAttributes(AttrLLMModel.String(o.model)))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call"))
	rec.AddAttributes(
		otellog.String("llm.method", method),
		otellog.String("llm.model", o.model),
		otellog.String("llm.status", status),
		otellog.Int("llm.tokens.input", usage.TotalInput()),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)
}

package llm

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/driftguard/types"
)

const instrumentationName = "github.com/BaSui01/driftguard/llm"

// InferenceRecorder 接收推理调用的统计，由 internal/metrics.Collector 实现
type InferenceRecorder interface {
	RecordInference(provider, callSite, status string, duration time.Duration, inputTokens, outputTokens int)
}

// InstrumentedProvider 为每次推理调用记录指标并打开 span
type InstrumentedProvider struct {
	inner    VisionProvider
	recorder InferenceRecorder
	tracer   trace.Tracer
}

// NewInstrumentedProvider 包装 Provider；recorder 可为 nil（仅追踪）
func NewInstrumentedProvider(p VisionProvider, recorder InferenceRecorder) *InstrumentedProvider {
	return &InstrumentedProvider{
		inner:    p,
		recorder: recorder,
		tracer:   otel.Tracer(instrumentationName),
	}
}

// Name 返回内部 Provider 的名称
func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

// Analyze 转发请求并记录耗时、状态与 Token 用量
func (p *InstrumentedProvider) Analyze(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	ctx, span := p.tracer.Start(ctx, "llm.analyze",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", p.inner.Name()),
			attribute.String("llm.call_site", req.CallSite),
			attribute.Int("llm.images", len(req.Images)),
		))
	defer span.End()

	start := time.Now()
	resp, err := p.inner.Analyze(ctx, req)
	duration := time.Since(start)

	status := "success"
	var in, out int
	if err != nil {
		status = inferenceStatus(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		in, out = resp.InputTokens, resp.OutputTokens
		span.SetAttributes(
			attribute.String("llm.model", resp.Model),
			attribute.Int("llm.tokens.input", in),
			attribute.Int("llm.tokens.output", out),
		)
	}

	if p.recorder != nil {
		p.recorder.RecordInference(p.inner.Name(), req.CallSite, status, duration, in, out)
	}
	return resp, err
}

// inferenceStatus 将错误归类为指标状态标签
func inferenceStatus(err error) string {
	switch types.GetErrorCode(err) {
	case types.ErrRateLimited:
		return "rate_limited"
	case types.ErrUnauthorized:
		return "unauthorized"
	case types.ErrUpstreamTimeout:
		return "timeout"
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

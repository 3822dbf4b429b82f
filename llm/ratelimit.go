package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/BaSui01/driftguard/types"
)

// RateLimitedProvider 用令牌桶限制推理调用速率，约束推理成本
type RateLimitedProvider struct {
	inner   VisionProvider
	limiter *rate.Limiter
}

// NewRateLimitedProvider 包装 Provider；rps <= 0 时不限流，直接返回原 Provider
func NewRateLimitedProvider(p VisionProvider, rps float64, burst int) VisionProvider {
	if rps <= 0 {
		return p
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   p,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Name 返回内部 Provider 的名称
func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

// Analyze 等待令牌后转发请求。
// 等待期间 ctx 到期（或剩余时间不足以等到令牌）时返回不可重试的 RATE_LIMITED 错误。
func (p *RateLimitedProvider) Analyze(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, types.NewError(types.ErrRateLimited, "local inference rate limit").
			WithCause(err).
			WithProvider(p.inner.Name())
	}
	return p.inner.Analyze(ctx, req)
}

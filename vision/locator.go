package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/browser"
	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/llm"
	"github.com/BaSui01/driftguard/llm/retry"
	"github.com/BaSui01/driftguard/types"
)

const instrumentationName = "github.com/BaSui01/driftguard/vision"

// errMiss 标记一次未命中的尝试（解析失败、未找到、置信度不足），可重试
var errMiss = errors.New("no confident match")

// LocateOptions 单次定位选项
type LocateOptions struct {
	// FullPage 整页截图；命中点在视口外时先滚动再重新定位
	FullPage bool
	// MinConfidence 覆盖默认置信度下限（<=0 使用配置值）
	MinConfidence float64
	// Hint 附加给模型的页面上下文
	Hint string
}

// Locator 通过视觉推理服务按自然语言描述定位元素
type Locator struct {
	driver   browser.Driver
	provider llm.VisionProvider
	cfg      config.VisionConfig
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Option 配置 Locator
type Option func(*Locator)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(l *Locator) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocator 创建视觉定位器
func NewLocator(driver browser.Driver, provider llm.VisionProvider, cfg config.VisionConfig, opts ...Option) *Locator {
	def := config.DefaultVisionConfig()
	if cfg.MinConfidence <= 0 || cfg.MinConfidence > 1 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.ScrollMargin <= 0 {
		cfg.ScrollMargin = def.ScrollMargin
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}

	l := &Locator{
		driver:   driver,
		provider: provider,
		cfg:      cfg,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("component", "visual_locator"))
	return l
}

// MinConfidence 返回默认置信度下限
func (l *Locator) MinConfidence() float64 { return l.cfg.MinConfidence }

// =============================================================================
// 🎯 定位
// =============================================================================

// Locate 按描述定位元素。
//
// 每次尝试都重新截图；解析失败、未找到与置信度不足都计为未命中并重试，
// 达到尝试上限后返回 (nil, nil)。不可重试的传输错误（401/400 等）立即返回错误。
// 返回的坐标总是相对于当前视口。
func (l *Locator) Locate(ctx context.Context, description string, opts LocateOptions) (*Location, error) {
	if trimmed(description) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "empty element description")
	}
	minConf := opts.MinConfidence
	if minConf <= 0 {
		minConf = l.cfg.MinConfidence
	}
	fullPage := opts.FullPage || l.cfg.FullPage

	ctx, span := l.tracer.Start(ctx, "vision.locate", trace.WithAttributes(
		attribute.String("vision.description", description),
		attribute.Bool("vision.full_page", fullPage),
		attribute.Float64("vision.min_confidence", minConf),
	))
	defer span.End()

	loc, err := l.locate(ctx, description, opts.Hint, minConf, fullPage)
	if err == nil && loc != nil && fullPage {
		loc, err = l.toViewport(ctx, loc, description, opts.Hint, minConf)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if loc == nil {
		span.SetAttributes(attribute.Bool("vision.found", false))
		return nil, nil
	}
	span.SetAttributes(
		attribute.Bool("vision.found", true),
		attribute.Float64("vision.confidence", loc.Confidence),
		attribute.Int("vision.attempts", loc.Attempts),
	)
	l.logger.With(ctxFields(ctx)...).Debug("element located",
		zap.String("description", description),
		zap.Float64("x", loc.X),
		zap.Float64("y", loc.Y),
		zap.Float64("confidence", loc.Confidence),
		zap.String("suggested_selector", loc.SuggestedSelector),
		zap.Int("attempts", loc.Attempts))
	return loc, nil
}

func (l *Locator) locate(ctx context.Context, description, hint string, minConf float64, fullPage bool) (*Location, error) {
	loc, attempts, err := withRetry(ctx, l, func(ctx context.Context) (*Location, error) {
		shot, err := l.screenshot(ctx, fullPage)
		if err != nil {
			return nil, err
		}
		text, err := l.analyze(ctx, &llm.VisionRequest{
			CallSite: llm.CallSiteLocate,
			System:   locateSystem,
			Prompt:   locatePrompt(description, hint),
			Images:   []llm.Image{llm.PNG(shot)},
		})
		if err != nil {
			return nil, err
		}
		loc, err := parseLocation(text, imageBounds(shot))
		switch {
		case err != nil:
			return nil, fmt.Errorf("%w: %v", errMiss, err)
		case loc == nil:
			return nil, fmt.Errorf("%w: not found", errMiss)
		case loc.Confidence < minConf:
			return nil, fmt.Errorf("%w: confidence %.2f below %.2f", errMiss, loc.Confidence, minConf)
		}
		return loc, nil
	})
	if err != nil {
		if errors.Is(err, errMiss) {
			l.logger.With(ctxFields(ctx)...).Debug("element not found",
				zap.String("description", description),
				zap.Int("attempts", attempts),
				zap.Error(err))
			return nil, nil
		}
		return nil, l.inferenceError(err, attempts)
	}
	loc.Attempts = attempts
	return loc, nil
}

// toViewport 把整页截图坐标换算到视口；命中点在视口外时滚动（保留边距）后重新定位
func (l *Locator) toViewport(ctx context.Context, loc *Location, description, hint string, minConf float64) (*Location, error) {
	vp, err := l.driver.Viewport(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrDriver, "read viewport failed").WithCause(err)
	}
	if vp.VisibleRect().Contains(loc.Point()) {
		loc.X -= vp.ScrollX
		loc.Y -= vp.ScrollY
		return loc, nil
	}

	x := scrollTarget(loc.X, vp.ScrollX, vp.Width, vp.PageWidth, l.cfg.ScrollMargin)
	y := scrollTarget(loc.Y, vp.ScrollY, vp.Height, vp.PageHeight, l.cfg.ScrollMargin)
	l.logger.Debug("element outside viewport, scrolling",
		zap.Float64("page_x", loc.X),
		zap.Float64("page_y", loc.Y),
		zap.Float64("scroll_x", x),
		zap.Float64("scroll_y", y))
	if err := l.driver.ScrollTo(ctx, x, y); err != nil {
		return nil, types.NewError(types.ErrDriver, "scroll failed").WithCause(err)
	}

	relocated, err := l.locate(ctx, description, hint, minConf, false)
	if err != nil || relocated == nil {
		return nil, err
	}
	relocated.Attempts += loc.Attempts
	relocated.Scrolled = true
	return relocated, nil
}

// scrollTarget 目标在 [current, current+extent] 内时不滚动，否则让目标距视口起始边 margin
func scrollTarget(pos, current, extent, pageExtent, margin float64) float64 {
	if pos >= current && pos <= current+extent {
		return current
	}
	target := pos - margin
	if pageExtent > extent && target > pageExtent-extent {
		target = pageExtent - extent
	}
	return max(target, 0)
}

// LocateAndClick 定位后在元素中心点击；未找到时返回 (nil, nil) 且不点击
func (l *Locator) LocateAndClick(ctx context.Context, description string, opts LocateOptions) (*Location, error) {
	loc, err := l.Locate(ctx, description, opts)
	if err != nil || loc == nil {
		return nil, err
	}
	if err := l.driver.PointerClick(ctx, loc.X, loc.Y); err != nil {
		return nil, types.NewError(types.ErrDriver, "pointer click failed").WithCause(err)
	}
	return loc, nil
}

// LocateAndType 定位、点击聚焦后键入文本
func (l *Locator) LocateAndType(ctx context.Context, description, text string, opts LocateOptions) (*Location, error) {
	loc, err := l.LocateAndClick(ctx, description, opts)
	if err != nil || loc == nil {
		return nil, err
	}
	if err := l.driver.KeyboardType(ctx, text); err != nil {
		return nil, types.NewError(types.ErrDriver, "keyboard input failed").WithCause(err)
	}
	return loc, nil
}

// =============================================================================
// 🔍 状态校验与分类查找
// =============================================================================

// VerifyState 校验元素是否处于预期状态。
// 置信度低于下限时 Matches 为 false；回复始终无法解析时返回错误，绝不默认通过。
func (l *Locator) VerifyState(ctx context.Context, description, expectedState string) (*StateResult, error) {
	ctx, span := l.tracer.Start(ctx, "vision.verify_state", trace.WithAttributes(
		attribute.String("vision.description", description),
		attribute.String("vision.expected_state", expectedState),
	))
	defer span.End()

	res, attempts, err := withRetry(ctx, l, func(ctx context.Context) (*StateResult, error) {
		shot, err := l.screenshot(ctx, false)
		if err != nil {
			return nil, err
		}
		text, err := l.analyze(ctx, &llm.VisionRequest{
			CallSite: llm.CallSiteVerify,
			System:   locateSystem,
			Prompt:   verifyPrompt(description, expectedState),
			Images:   []llm.Image{llm.PNG(shot)},
		})
		if err != nil {
			return nil, err
		}
		res, err := parseState(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errMiss, err)
		}
		return res, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, l.inferenceError(err, attempts)
	}
	if res.Confidence < l.cfg.MinConfidence {
		res.Matches = false
	}
	span.SetAttributes(attribute.Bool("vision.matches", res.Matches))
	return res, nil
}

// FindAll 返回当前视口中属于某一类别的所有元素（置信度不足的条目被丢弃）
func (l *Locator) FindAll(ctx context.Context, category string) ([]*Location, error) {
	ctx, span := l.tracer.Start(ctx, "vision.find_all", trace.WithAttributes(
		attribute.String("vision.category", category),
	))
	defer span.End()

	found, attempts, err := withRetry(ctx, l, func(ctx context.Context) ([]*Location, error) {
		shot, err := l.screenshot(ctx, false)
		if err != nil {
			return nil, err
		}
		text, err := l.analyze(ctx, &llm.VisionRequest{
			CallSite: llm.CallSiteFindAll,
			System:   locateSystem,
			Prompt:   findAllPrompt(category),
			Images:   []llm.Image{llm.PNG(shot)},
		})
		if err != nil {
			return nil, err
		}
		items, err := llm.ParseUnverifiedList(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errMiss, err)
		}
		bounds := imageBounds(shot)
		out := make([]*Location, 0, len(items))
		for _, item := range items {
			loc, err := parsePlacement(item, bounds)
			if err != nil || loc.Confidence < l.cfg.MinConfidence {
				continue
			}
			loc.Label = firstString(item, "description", "label", "text")
			out = append(out, loc)
		}
		return out, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, l.inferenceError(err, attempts)
	}
	for _, loc := range found {
		loc.Attempts = attempts
	}
	span.SetAttributes(attribute.Int("vision.found", len(found)))
	return found, nil
}

// =============================================================================
// 🖼️ 两图对比
// =============================================================================

// Capture 每次对比尝试调用一次，返回页面的最新截图
type Capture func(ctx context.Context) ([]byte, error)

// CompareImages 让模型对比两张固定图片，返回相似度、影响等级与变化列表
func (l *Locator) CompareImages(ctx context.Context, baseline, current []byte) (*ImageComparison, error) {
	if len(current) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "empty image")
	}
	return l.CompareLive(ctx, baseline, func(context.Context) ([]byte, error) { return current, nil })
}

// CompareLive 对比基线与页面当前状态。每次尝试都通过 capture 取新截图，重试不复用旧图；
// 新截图与基线逐字节一致时返回 Identical 结果，不调用推理服务。
func (l *Locator) CompareLive(ctx context.Context, baseline []byte, capture Capture) (*ImageComparison, error) {
	if len(baseline) == 0 || capture == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "empty image")
	}
	ctx, span := l.tracer.Start(ctx, "vision.compare_images")
	defer span.End()

	cmp, attempts, err := withRetry(ctx, l, func(ctx context.Context) (*ImageComparison, error) {
		current, err := capture(ctx)
		if err != nil {
			return nil, retry.MarkPermanent(types.NewError(types.ErrDriver, "comparison screenshot failed").WithCause(err))
		}
		if len(current) == 0 {
			return nil, retry.MarkPermanent(types.NewError(types.ErrInvalidRequest, "empty image"))
		}
		if bytes.Equal(current, baseline) {
			return &ImageComparison{
				Similarity:         1,
				Impact:             types.ImpactNone,
				BreakingChanges:    []string{},
				NonBreakingChanges: []string{},
				Identical:          true,
			}, nil
		}
		text, err := l.analyze(ctx, &llm.VisionRequest{
			CallSite: llm.CallSiteCompare,
			System:   compareSystem,
			Prompt:   comparePrompt,
			Images:   []llm.Image{llm.PNG(baseline), llm.PNG(current)},
		})
		if err != nil {
			return nil, err
		}
		cmp, err := parseComparison(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errMiss, err)
		}
		return cmp, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, l.inferenceError(err, attempts)
	}
	span.SetAttributes(
		attribute.Float64("vision.similarity", cmp.Similarity),
		attribute.String("vision.impact", string(cmp.Impact)),
		attribute.Bool("vision.identical", cmp.Identical),
		attribute.Int("vision.attempts", attempts),
	)
	return cmp, nil
}

// =============================================================================
// 🔧 内部
// =============================================================================

func (l *Locator) screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	shot, err := l.driver.Screenshot(ctx, browser.ScreenshotOptions{FullPage: fullPage})
	if err != nil {
		return nil, retry.MarkPermanent(types.NewError(types.ErrDriver, "screenshot failed").WithCause(err))
	}
	return shot, nil
}

// analyze 单次推理调用，超时独立于调用方的整体预算
func (l *Locator) analyze(ctx context.Context, req *llm.VisionRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()
	if req.MaxTokens == 0 {
		req.MaxTokens = l.cfg.MaxTokens
	}
	resp, err := l.provider.Analyze(callCtx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (l *Locator) inferenceError(err error, attempts int) error {
	var p *retry.Permanent
	if errors.As(err, &p) {
		return p.Err
	}
	return types.Errorf(types.ErrInferenceFailed, "vision inference failed after %d attempt(s)", attempts).WithCause(err)
}

// withRetry 以 MaxAttempts 为上限执行 attempt，返回结果、实际尝试次数与最后的错误
func withRetry[T any](ctx context.Context, l *Locator, attempt func(ctx context.Context) (T, error)) (T, int, error) {
	attempts := 0
	retryer := retry.NewBackoffRetryer(&retry.RetryPolicy{
		MaxRetries:   l.cfg.MaxAttempts - 1,
		InitialDelay: l.cfg.RetryDelay,
		MaxDelay:     l.cfg.RetryDelay * 4,
		Multiplier:   2,
		ShouldRetry: func(err error) bool {
			return shouldRetry(ctx, err)
		},
	}, l.logger)

	result, err := retry.DoWithResultTyped(retryer, ctx, func() (T, error) {
		attempts++
		return attempt(ctx)
	})
	return result, attempts, err
}

func shouldRetry(parent context.Context, err error) bool {
	switch {
	case retry.IsPermanent(err):
		return false
	case errors.Is(err, errMiss):
		return true
	case parent.Err() != nil:
		return false
	case errors.Is(err, context.DeadlineExceeded):
		// 单次调用超时，整体预算仍在
		return true
	}
	return types.IsRetryable(err)
}

// ctxFields 把 ctx 上的运行/元素/页面标识转成日志字段
func ctxFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if v, ok := types.RunID(ctx); ok {
		fields = append(fields, zap.String("run_id", v))
	}
	if v, ok := types.TraceID(ctx); ok {
		fields = append(fields, zap.String("trace_id", v))
	}
	if v, ok := types.ElementIDFrom(ctx); ok {
		fields = append(fields, zap.String("element_id", string(v)))
	}
	if v, ok := types.PageType(ctx); ok {
		fields = append(fields, zap.String("page_type", v))
	}
	return fields
}

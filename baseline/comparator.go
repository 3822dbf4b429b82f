package baseline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/browser"
	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/internal/metrics"
	"github.com/BaSui01/driftguard/types"
	"github.com/BaSui01/driftguard/vision"
)

const instrumentationName = "github.com/BaSui01/driftguard/baseline"

var errNoStore = types.NewError(types.ErrInvalidConfig, "baseline store is not configured")

// ImageComparer 基线与页面的 AI 对比；每次尝试通过 capture 取新截图。vision.Locator 实现该接口
type ImageComparer interface {
	CompareLive(ctx context.Context, baseline []byte, capture vision.Capture) (*vision.ImageComparison, error)
}

// CaptureOptions 捕获选项
type CaptureOptions struct {
	// Overwrite 允许覆盖已有基线
	Overwrite bool
}

// CompareOptions 对比选项，用 Comparator.DefaultCompareOptions 作为起点
type CompareOptions struct {
	SimilarityThreshold float64
	UseAI               bool
}

// Comparator 捕获页面基线并检测漂移
type Comparator struct {
	driver  browser.Driver
	store   *Store
	ai      ImageComparer
	cfg     config.BaselineConfig
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	now     func() time.Time
}

// Option 配置 Comparator
type Option func(*Comparator)

// WithImageComparer 启用 AI 对比路径
func WithImageComparer(ai ImageComparer) Option {
	return func(c *Comparator) { c.ai = ai }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *Comparator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Comparator) { c.metrics = m }
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(c *Comparator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewComparator 创建对比器
func NewComparator(driver browser.Driver, store *Store, cfg config.BaselineConfig, opts ...Option) *Comparator {
	def := config.DefaultBaselineConfig()
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.PixelTolerance < 0 {
		cfg.PixelTolerance = def.PixelTolerance
	}
	c := &Comparator{
		driver: driver,
		store:  store,
		cfg:    cfg,
		logger: zap.NewNop(),
		tracer: otel.Tracer(instrumentationName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "baseline"))
	return c
}

// DefaultCompareOptions 返回配置中的默认对比选项
func (c *Comparator) DefaultCompareOptions() CompareOptions {
	return CompareOptions{SimilarityThreshold: c.cfg.SimilarityThreshold, UseAI: c.cfg.UseAI}
}

// Store 返回底层存储
func (c *Comparator) Store() *Store { return c.store }

// Records 返回全部基线
func (c *Comparator) Records() []*Record {
	if c.store == nil {
		return nil
	}
	return c.store.Records()
}

// State 返回页面类型当前状态
func (c *Comparator) State(pageType string) State {
	if c.store == nil {
		return StateNoBaseline
	}
	if rec := c.store.Get(pageType); rec != nil {
		return rec.State
	}
	return StateNoBaseline
}

// Capture 截取当前视口作为页面基线。已有基线且未指定 Overwrite 时返回 BASELINE_EXISTS。
func (c *Comparator) Capture(ctx context.Context, pageType string, opts CaptureOptions) (*Record, error) {
	if err := validPageType(pageType); err != nil {
		return nil, err
	}
	if c.store == nil {
		return nil, errNoStore
	}
	if !opts.Overwrite && c.store.Get(pageType) != nil {
		return nil, types.Errorf(types.ErrBaselineExists, "baseline for %q already exists", pageType)
	}

	ctx, span := c.tracer.Start(ctx, "baseline.capture", trace.WithAttributes(
		attribute.String("page_type", pageType),
		attribute.Bool("overwrite", opts.Overwrite),
	))
	defer span.End()
	ctx = types.WithPageType(ctx, pageType)

	shot, err := c.driver.Screenshot(ctx, browser.ScreenshotOptions{})
	if err != nil {
		err = types.NewError(types.ErrDriver, "baseline screenshot failed").WithCause(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rec := &Record{
		ID:          uuid.NewString(),
		PageType:    pageType,
		ContentHash: contentHash(shot),
		CapturedAt:  c.now().UTC(),
		State:       StateCaptured,
	}
	if vp, err := c.driver.Viewport(ctx); err == nil {
		rec.Viewport = Viewport{Width: vp.Width, Height: vp.Height}
	}
	if url, err := c.driver.URL(ctx); err == nil {
		rec.URL = url
	}
	if err := c.store.Put(rec, shot); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.logger.Info("baseline captured",
		zap.String("page_type", pageType),
		zap.String("id", rec.ID),
		zap.String("hash", rec.ContentHash))
	return rec, nil
}

// Compare 截取当前视口并与基线对比。
// 哈希一致时直接判定未变化，不调用推理服务；推理失败按 matches=false 处理。
func (c *Comparator) Compare(ctx context.Context, pageType string, opts CompareOptions) (*Result, error) {
	if c.store == nil {
		return nil, errNoStore
	}
	rec := c.store.Get(pageType)
	if rec == nil {
		return nil, types.Errorf(types.ErrNoBaseline, "no baseline for page type %q", pageType)
	}
	threshold := opts.SimilarityThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = c.cfg.SimilarityThreshold
	}

	ctx, span := c.tracer.Start(ctx, "baseline.compare", trace.WithAttributes(
		attribute.String("page_type", pageType),
		attribute.Float64("threshold", threshold),
		attribute.Bool("use_ai", opts.UseAI),
	))
	defer span.End()
	ctx = types.WithPageType(ctx, pageType)

	shot, err := c.driver.Screenshot(ctx, browser.ScreenshotOptions{})
	if err != nil {
		err = types.NewError(types.ErrDriver, "comparison screenshot failed").WithCause(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var res *Result
	if contentHash(shot) == rec.ContentHash {
		res = &Result{
			Similarity:       1,
			Changes:          []string{},
			AutomationImpact: types.ImpactNone,
			Path:             PathHash,
		}
	} else {
		stored, err := c.store.Image(rec)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if opts.UseAI && c.ai != nil {
			res = c.compareAI(ctx, stored, shot)
		} else {
			res = c.comparePixels(stored, shot)
		}
	}

	res.PageType = pageType
	res.ComparedAt = c.now().UTC()
	if res.Error == "" {
		res.Matches = Matches(res.Similarity, threshold, res.AutomationImpact)
	}
	res.State = stateFor(res.Matches, res.Similarity)

	if err := c.store.Update(pageType, func(r *Record) {
		at, sim := res.ComparedAt, res.Similarity
		r.State = res.State
		r.LastComparedAt = &at
		r.LastSimilarity = &sim
	}); err != nil {
		c.logger.Warn("failed to persist comparison state", zap.String("page_type", pageType), zap.Error(err))
	}

	c.metrics.RecordBaselineComparison(string(res.Path), string(res.AutomationImpact))
	span.SetAttributes(
		attribute.String("path", string(res.Path)),
		attribute.Float64("similarity", res.Similarity),
		attribute.Bool("matches", res.Matches),
		attribute.String("impact", string(res.AutomationImpact)),
	)
	c.logger.Info("baseline compared",
		zap.String("page_type", pageType),
		zap.String("path", string(res.Path)),
		zap.Float64("similarity", res.Similarity),
		zap.String("impact", string(res.AutomationImpact)),
		zap.Bool("matches", res.Matches))
	return res, nil
}

// compareAI 首次尝试复用哈希检查时的截图，之后每次重试重新截图
func (c *Comparator) compareAI(ctx context.Context, stored, first []byte) *Result {
	cmp, err := c.ai.CompareLive(ctx, stored, c.freshCapture(first))
	if err != nil {
		c.logger.Warn("ai comparison failed, reporting drift", zap.Error(err))
		return inconclusive(PathAI, err)
	}
	if cmp.Identical {
		// 重试时页面已回到基线
		return &Result{
			Similarity:       1,
			Changes:          []string{},
			AutomationImpact: types.ImpactNone,
			Path:             PathHash,
		}
	}
	impact := cmp.Impact
	if impact.Rank() < 0 {
		impact = types.ImpactHigh
	}
	return &Result{
		Similarity:         cmp.Similarity,
		Changes:            cmp.Changes(),
		BreakingChanges:    cmp.BreakingChanges,
		NonBreakingChanges: cmp.NonBreakingChanges,
		AutomationImpact:   impact,
		Summary:            cmp.Summary,
		Path:               PathAI,
	}
}

func (c *Comparator) freshCapture(first []byte) vision.Capture {
	pending := first
	return func(ctx context.Context) ([]byte, error) {
		if pending != nil {
			shot := pending
			pending = nil
			return shot, nil
		}
		return c.driver.Screenshot(ctx, browser.ScreenshotOptions{})
	}
}

func (c *Comparator) comparePixels(stored, current []byte) *Result {
	diff, err := comparePixels(stored, current, c.cfg.PixelTolerance)
	if err != nil {
		c.logger.Warn("pixel comparison failed, reporting drift", zap.Error(err))
		return inconclusive(PathPixel, err)
	}
	return &Result{
		Similarity:       diff.Similarity,
		Changes:          diff.changes(),
		AutomationImpact: ImpactFor(diff.Similarity),
		Path:             PathPixel,
	}
}

// inconclusive 对比本身失败：按最坏情况报告，绝不当作“无漂移”
func inconclusive(path ComparisonPath, err error) *Result {
	return &Result{
		Matches:          false,
		Similarity:       0,
		Changes:          []string{},
		AutomationImpact: types.ImpactHigh,
		Path:             path,
		Error:            err.Error(),
	}
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

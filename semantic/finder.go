package semantic

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/driftguard/browser"
	"github.com/BaSui01/driftguard/internal/metrics"
	"github.com/BaSui01/driftguard/types"
	"github.com/BaSui01/driftguard/vision"
)

// Source 命中来源
type Source string

const (
	SourceCache     Source = "cache"
	SourceExact     Source = "exact"
	SourcePartial   Source = "partial"
	SourceHeuristic Source = "heuristic"
	SourceVisual    Source = "visual"
)

// Match 语义查找结果
type Match struct {
	Selector string `json:"selector"`
	Source   Source `json:"source"`
	// Confidence 视觉来源的置信度，其他来源为 1
	Confidence float64 `json:"confidence"`
}

// VisualLocator 语义查找的视觉兜底
type VisualLocator interface {
	Locate(ctx context.Context, description string, opts vision.LocateOptions) (*vision.Location, error)
}

// Finder 按自然语言描述查找选择器：缓存 → 精确模式 → 部分模式 → 启发式 → 视觉
type Finder struct {
	driver  browser.Driver
	library *PatternLibrary
	cache   *Cache
	visual  VisualLocator
	group   singleflight.Group
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// FinderOption 配置 Finder
type FinderOption func(*Finder)

// WithVisualLocator 启用视觉层
func WithVisualLocator(v VisualLocator) FinderOption {
	return func(f *Finder) { f.visual = v }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) FinderOption {
	return func(f *Finder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) FinderOption {
	return func(f *Finder) { f.metrics = m }
}

// NewFinder 创建 Finder；library 或 cache 为 nil 时使用默认值
func NewFinder(driver browser.Driver, library *PatternLibrary, cache *Cache, opts ...FinderOption) *Finder {
	if library == nil {
		library = NewPatternLibrary(DefaultMaxPatterns, DefaultPatterns())
	}
	f := &Finder{
		driver:  driver,
		library: library,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("github.com/BaSui01/driftguard/semantic"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if cache == nil {
		cache = NewCache(CacheOptions{Logger: f.logger, Metrics: f.metrics})
	}
	f.cache = cache
	f.logger = f.logger.With(zap.String("component", "semantic_finder"))
	return f
}

// Library 返回模式库
func (f *Finder) Library() *PatternLibrary { return f.library }

// LearnPattern 把 selector 记为 description 的首选模式
func (f *Finder) LearnPattern(description, selector string) {
	if f.library.Learn(description, selector) {
		f.logger.Debug("pattern learned",
			zap.String("description", description),
			zap.String("selector", selector))
	}
}

// FindBySemanticDescription 查找与描述对应、当前可见的选择器；找不到时返回 (nil, nil)。
// 相同 (描述, 上下文) 的并发查找只执行一次。
func (f *Finder) FindBySemanticDescription(ctx context.Context, description, pageContext string) (*Match, error) {
	if strings.TrimSpace(description) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "empty description")
	}
	v, err, _ := f.group.Do(Key(description, pageContext), func() (any, error) {
		return f.find(ctx, description, pageContext)
	})
	if err != nil {
		return nil, err
	}
	m, _ := v.(*Match)
	if m == nil {
		return nil, nil
	}
	out := *m
	return &out, nil
}

func (f *Finder) find(ctx context.Context, description, pageContext string) (*Match, error) {
	ctx, span := f.tracer.Start(ctx, "semantic.find", trace.WithAttributes(
		attribute.String("semantic.description", description),
	))
	defer span.End()

	m, err := f.runTiers(ctx, description, pageContext)
	source := "none"
	if m != nil {
		source = string(m.Source)
	}
	span.SetAttributes(attribute.String("semantic.source", source))
	f.metrics.RecordSemanticMatch(source)
	return m, err
}

func (f *Finder) runTiers(ctx context.Context, description, pageContext string) (*Match, error) {
	// 缓存：使用前重新校验
	if entry, ok := f.cache.Get(ctx, description, pageContext); ok {
		if f.usable(ctx, entry.Selector) {
			return &Match{Selector: entry.Selector, Source: SourceCache, Confidence: 1}, nil
		}
		f.logger.Debug("cached selector went stale", zap.String("selector", entry.Selector))
		f.cache.Delete(ctx, description, pageContext)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tiers := []struct {
		source Source
		sels   []string
	}{
		{SourceExact, f.library.Exact(description)},
		{SourcePartial, f.library.Partial(description)},
	}
	for _, tier := range tiers {
		if sel := f.firstUsable(ctx, tier.sels); sel != "" {
			f.LearnPattern(description, sel)
			return f.remember(ctx, description, pageContext, &Match{Selector: sel, Source: tier.source, Confidence: 1}), nil
		}
	}

	words, scope := keywords(description)
	if sel := f.firstUsable(ctx, attributeSelectors(words)); sel != "" {
		return f.remember(ctx, description, pageContext, &Match{Selector: sel, Source: SourceHeuristic, Confidence: 1}), nil
	}
	sel, err := textMatch(ctx, f.driver, words, scope)
	if err != nil {
		f.logger.Debug("text heuristic failed", zap.Error(err))
	} else if sel != "" && f.usable(ctx, sel) {
		return f.remember(ctx, description, pageContext, &Match{Selector: sel, Source: SourceHeuristic, Confidence: 1}), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.visual == nil {
		return nil, nil
	}
	return f.visualTier(ctx, description, pageContext)
}

func (f *Finder) visualTier(ctx context.Context, description, pageContext string) (*Match, error) {
	loc, err := f.visual.Locate(ctx, description, vision.LocateOptions{Hint: pageContext})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		f.logger.Warn("visual lookup failed", zap.String("description", description), zap.Error(err))
		return nil, nil
	}
	if loc == nil {
		return nil, nil
	}

	sel := ""
	if loc.SuggestedSelector != "" && f.usable(ctx, loc.SuggestedSelector) {
		sel = loc.SuggestedSelector
	} else if at, err := f.driver.ElementAt(ctx, loc.X, loc.Y); err == nil && at != "" && f.usable(ctx, at) {
		sel = at
	}
	if sel == "" {
		f.logger.Debug("visual hit has no reusable selector", zap.String("description", description))
		return nil, nil
	}
	f.LearnPattern(description, sel)
	return f.remember(ctx, description, pageContext, &Match{Selector: sel, Source: SourceVisual, Confidence: loc.Confidence}), nil
}

func (f *Finder) remember(ctx context.Context, description, pageContext string, m *Match) *Match {
	f.cache.Set(ctx, description, pageContext, &Entry{Selector: m.Selector, Source: m.Source})
	return m
}

func (f *Finder) firstUsable(ctx context.Context, sels []string) string {
	for _, sel := range sels {
		if ctx.Err() != nil {
			return ""
		}
		if f.usable(ctx, sel) {
			return sel
		}
	}
	return ""
}

// usable 选择器能查询到节点且节点可见
func (f *Finder) usable(ctx context.Context, selector string) bool {
	h, err := f.driver.QuerySelector(ctx, selector)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			f.logger.Debug("query failed", zap.String("selector", selector), zap.Error(err))
		}
		return false
	}
	if h == nil {
		return false
	}
	visible, err := f.driver.IsVisible(ctx, h)
	return err == nil && visible
}

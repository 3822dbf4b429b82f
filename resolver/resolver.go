package resolver

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/browser"
	"github.com/BaSui01/driftguard/candidates"
	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/internal/metrics"
	"github.com/BaSui01/driftguard/learning"
	"github.com/BaSui01/driftguard/semantic"
	"github.com/BaSui01/driftguard/types"
	"github.com/BaSui01/driftguard/vision"
)

const instrumentationName = "github.com/BaSui01/driftguard/resolver"

// VisualLocator 视觉层依赖；vision.Locator 实现该接口
type VisualLocator interface {
	Locate(ctx context.Context, description string, opts vision.LocateOptions) (*vision.Location, error)
}

// SemanticFinder 语义层依赖；semantic.Finder 实现该接口
type SemanticFinder interface {
	FindBySemanticDescription(ctx context.Context, description, pageContext string) (*semantic.Match, error)
}

// Resolver 把逻辑元素标识解析为页面上的元素。
// 所有解析与交互串行执行：同一页面上的指针/键盘状态是全局的。
type Resolver struct {
	mu sync.Mutex

	driver   browser.Driver
	store    *candidates.Store
	ledger   *learning.Ledger
	cfg      config.ResolverConfig
	visual   VisualLocator
	semantic SemanticFinder
	sink     ProgressSink
	logger   *zap.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer
	now      func() time.Time
}

// Option 配置 Resolver
type Option func(*Resolver)

// WithVisualLocator 启用视觉回退层
func WithVisualLocator(v VisualLocator) Option {
	return func(r *Resolver) { r.visual = v }
}

// WithSemanticFinder 在静态层与视觉层之间插入语义层
func WithSemanticFinder(f SemanticFinder) Option {
	return func(r *Resolver) { r.semantic = f }
}

// WithProgressSink 设置进度接收者
func WithProgressSink(s ProgressSink) Option {
	return func(r *Resolver) {
		if s != nil {
			r.sink = s
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock 替换预算计时的时间源
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// New 创建解析器。ledger 为 nil 时使用内存账本。
func New(driver browser.Driver, store *candidates.Store, ledger *learning.Ledger, cfg config.ResolverConfig, opts ...Option) *Resolver {
	if ledger == nil {
		ledger = learning.NewLedger(nil)
	}
	if store == nil {
		store = candidates.NewStore()
	}
	r := &Resolver{
		driver: driver,
		store:  store,
		ledger: ledger,
		cfg:    withDefaults(cfg),
		sink:   NopSink{},
		logger: zap.NewNop(),
		tracer: otel.Tracer(instrumentationName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "resolver"))
	return r
}

func withDefaults(cfg config.ResolverConfig) config.ResolverConfig {
	def := config.DefaultResolverConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.MaxPerCandidate <= 0 {
		cfg.MaxPerCandidate = def.MaxPerCandidate
	}
	if cfg.MinPerCandidate <= 0 {
		cfg.MinPerCandidate = def.MinPerCandidate
	}
	if cfg.MinPerCandidate > cfg.MaxPerCandidate {
		cfg.MinPerCandidate = cfg.MaxPerCandidate
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.VisualReserve < 0 {
		cfg.VisualReserve = 0
	}
	if cfg.VisualMinBudget <= 0 {
		cfg.VisualMinBudget = def.VisualMinBudget
	}
	if cfg.VisualConfidence <= 0 || cfg.VisualConfidence > 1 {
		cfg.VisualConfidence = def.VisualConfidence
	}
	if cfg.ExistsTimeout <= 0 {
		cfg.ExistsTimeout = def.ExistsTimeout
	}
	return cfg
}

// DefaultOptions 返回配置中的默认解析选项
func (r *Resolver) DefaultOptions() Options {
	return Options{
		Timeout:             r.cfg.DefaultTimeout,
		AllowVisualFallback: r.cfg.AllowVisualFallback,
		RequireVisible:      r.cfg.RequireVisible,
	}
}

// Ledger 返回学习账本
func (r *Resolver) Ledger() *learning.Ledger { return r.ledger }

// Store 返回候选集存储
func (r *Resolver) Store() *candidates.Store { return r.store }

// Resolve 依次尝试 learned → static → semantic → visual 各层，返回第一个命中。
// 未知标识返回 UNKNOWN_ELEMENT；所有层耗尽返回 RESOLUTION_FAILED。
func (r *Resolver) Resolve(ctx context.Context, id types.ElementID, opts Options) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolve(ctx, id, opts)
}

func (r *Resolver) resolve(ctx context.Context, id types.ElementID, opts Options) (*Result, error) {
	set, err := r.store.Get(id)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = r.cfg.DefaultTimeout
	}

	ctx, span := r.tracer.Start(ctx, "resolver.resolve", trace.WithAttributes(
		attribute.String("element_id", string(id)),
		attribute.Int64("timeout_ms", opts.Timeout.Milliseconds()),
	))
	defer span.End()
	ctx = types.WithElementID(ctx, id)
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = types.WithTraceID(ctx, sc.TraceID().String())
	}

	rc := r.newContext(id, set, opts, opts.Timeout)
	rc.recordFailures = true
	rc.recordSuccess = true
	if rc.visualEligible(r) {
		rc.reserve = r.cfg.VisualReserve
	}

	strategies := []Strategy{
		&selectorStrategy{r: r, tier: TierLearned, pick: learnedPick},
		&selectorStrategy{r: r, tier: TierStatic, pick: staticPick},
		&semanticStrategy{r: r},
		&visualStrategy{r: r},
	}
	res, runErr := r.run(ctx, rc, strategies)
	if res != nil {
		span.SetAttributes(attribute.String("method", string(res.Method)))
		return res, nil
	}

	err = r.failure(rc, runErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

func (r *Resolver) newContext(id types.ElementID, set candidates.CandidateSet, opts Options, timeout time.Duration) *resolveContext {
	learned, _ := r.ledger.BestSelector(id)
	ordered := orderCandidates(learned, set.Selectors)
	static := ordered
	if learned != "" {
		static = ordered[1:]
	}
	return &resolveContext{
		id:      id,
		set:     set,
		opts:    opts,
		budget:  newBudget(r.now, timeout),
		learned: learned,
		static:  static,
		pending: len(ordered),
		minPer:  min(r.cfg.MinPerCandidate, timeout),
		maxPer:  r.cfg.MaxPerCandidate,
		sink:    r.sink,
	}
}

func learnedPick(rc *resolveContext) []string {
	if rc.learned == "" {
		return nil
	}
	return []string{rc.learned}
}

func staticPick(rc *resolveContext) []string { return rc.static }

// run 按顺序执行各层，返回第一个命中
func (r *Resolver) run(ctx context.Context, rc *resolveContext, strategies []Strategy) (*Result, error) {
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rc.attempted = false
		res, err := s.Run(ctx, rc)
		if err != nil {
			return nil, err
		}
		if res == nil {
			if rc.attempted {
				r.metrics.RecordTierMiss(s.Name())
			}
			continue
		}

		res.Duration = rc.budget.elapsed()
		r.metrics.RecordResolution(string(res.Method), true, res.Duration)
		rc.emit(s.Name(), EventSuccess, res.Selector, string(res.Method))
		r.logger.Debug("element resolved",
			zap.String("element_id", string(rc.id)),
			zap.String("method", string(res.Method)),
			zap.String("selector", res.Selector),
			zap.Duration("duration", res.Duration))
		return res, nil
	}
	return nil, nil
}

// failure 构造 RESOLUTION_FAILED；预算不足跳过过某层时以 BUDGET_EXHAUSTED 作为原因
func (r *Resolver) failure(rc *resolveContext, cause error) error {
	elapsed := rc.budget.elapsed()
	r.metrics.RecordResolution("", false, elapsed)
	rc.emit("", EventFailure, "", "")
	r.logger.Warn("element resolution failed",
		zap.String("element_id", string(rc.id)),
		zap.Duration("elapsed", elapsed),
		zap.Bool("budget_skipped", rc.budgetSkipped))

	err := types.Errorf(types.ErrResolutionFailed, "element %q could not be resolved after %s", rc.id, elapsed.Round(time.Millisecond))
	switch {
	case cause != nil:
		err = err.WithCause(cause)
	case rc.budgetSkipped:
		err = err.WithCause(types.NewError(types.ErrBudgetExhausted, "remaining budget too small for the next tier"))
	}
	return err
}

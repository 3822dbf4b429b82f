package resolver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/browser"
	"github.com/BaSui01/driftguard/candidates"
	"github.com/BaSui01/driftguard/types"
	"github.com/BaSui01/driftguard/vision"
)

// Tier names, used for progress events and metrics.
const (
	TierLearned  = "learned"
	TierStatic   = "static"
	TierSemantic = "semantic"
	TierVisual   = "visual"
)

// Strategy 解析链中的一层。返回 (nil, nil) 表示未命中，由下一层继续；
// 返回 error 会终止整个解析（仅用于调用方取消）。
type Strategy interface {
	Name() string
	Run(ctx context.Context, rc *resolveContext) (*Result, error)
}

// resolveContext 单次解析的共享状态
type resolveContext struct {
	id      types.ElementID
	set     candidates.CandidateSet
	opts    Options
	budget  *budget
	learned string
	static  []string
	// pending 尚未尝试的选择器候选数，用于均分预算
	pending int
	minPer  time.Duration
	maxPer  time.Duration
	reserve time.Duration

	recordFailures bool
	recordSuccess  bool
	budgetSkipped  bool
	// attempted 当前层是否真正尝试过（不适用的层不计入未命中）
	attempted bool
	sink      ProgressSink
}

func (rc *resolveContext) emit(tier string, kind EventKind, selector, detail string) {
	if kind == EventAttempt {
		rc.attempted = true
	}
	rc.sink.Emit(Event{
		ElementID: rc.id,
		Tier:      tier,
		Kind:      kind,
		Selector:  selector,
		Detail:    detail,
		Elapsed:   rc.budget.elapsed(),
	})
}

// orderCandidates 学习到的最佳选择器排第一，静态候选按作者顺序跟随，去掉与其完全相同的项
func orderCandidates(learned string, static []string) []string {
	out := make([]string, 0, len(static)+1)
	if learned != "" {
		out = append(out, learned)
	}
	for _, sel := range static {
		if sel != learned {
			out = append(out, sel)
		}
	}
	return out
}

// =============================================================================
// 🔎 选择器层（learned / static）
// =============================================================================

type lookupOutcome int

const (
	outcomeAbsent lookupOutcome = iota
	outcomeInvisible
	outcomeFound
)

func (o lookupOutcome) String() string {
	switch o {
	case outcomeFound:
		return "found"
	case outcomeInvisible:
		return "invisible"
	default:
		return "absent"
	}
}

type selectorStrategy struct {
	r    *Resolver
	tier string
	pick func(rc *resolveContext) []string
}

func (s *selectorStrategy) Name() string { return s.tier }

func (s *selectorStrategy) Run(ctx context.Context, rc *resolveContext) (*Result, error) {
	for _, sel := range s.pick(rc) {
		if rc.budgetSkipped {
			return nil, nil
		}
		per := rc.budget.perCandidate(rc.pending, rc.reserve, rc.minPer, rc.maxPer)
		if per <= 0 {
			rc.budgetSkipped = true
			rc.emit(s.tier, EventSkipped, sel, "insufficient budget")
			return nil, nil
		}
		rc.pending--
		rc.emit(s.tier, EventAttempt, sel, per.String())

		h, outcome := s.r.lookup(ctx, sel, per, rc.opts.RequireVisible)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if outcome == outcomeFound {
			if rc.recordSuccess {
				s.r.ledger.RecordSuccess(rc.id, sel)
			}
			return &Result{Method: MethodSelector, Selector: sel, Element: h, Confidence: 1}, nil
		}

		kind := EventMiss
		if outcome == outcomeInvisible {
			kind = EventInvisible
		}
		rc.emit(s.tier, kind, sel, "")
		if rc.recordFailures {
			s.r.ledger.RecordFailure(rc.id, sel)
		}
	}
	return nil, nil
}

// lookup 在 timeout 内轮询选择器，直到元素出现且（按需）可见
func (r *Resolver) lookup(ctx context.Context, selector string, timeout time.Duration, requireVisible bool) (*browser.ElementHandle, lookupOutcome) {
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome := outcomeAbsent
	for {
		h, o := r.probe(lctx, selector, requireVisible)
		if o == outcomeFound {
			return h, o
		}
		outcome = max(outcome, o)

		timer := time.NewTimer(r.cfg.PollInterval)
		select {
		case <-lctx.Done():
			timer.Stop()
			return nil, outcome
		case <-timer.C:
		}
	}
}

// probe 单次查询，不等待
func (r *Resolver) probe(ctx context.Context, selector string, requireVisible bool) (*browser.ElementHandle, lookupOutcome) {
	h, err := r.driver.QuerySelector(ctx, selector)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Debug("selector query failed", zap.String("selector", selector), zap.Error(err))
		}
		return nil, outcomeAbsent
	}
	if h == nil {
		return nil, outcomeAbsent
	}
	if !requireVisible {
		return h, outcomeFound
	}
	visible, err := r.driver.IsVisible(ctx, h)
	if err != nil || !visible {
		return nil, outcomeInvisible
	}
	return h, outcomeFound
}

// =============================================================================
// 🧠 语义层
// =============================================================================

type semanticStrategy struct {
	r *Resolver
}

func (s *semanticStrategy) Name() string { return TierSemantic }

func (s *semanticStrategy) Run(ctx context.Context, rc *resolveContext) (*Result, error) {
	desc := rc.set.VisualDescription
	if s.r.semantic == nil || desc == "" {
		return nil, nil
	}
	left := rc.budget.remaining() - rc.reserve
	if left < rc.minPer {
		rc.budgetSkipped = true
		rc.emit(TierSemantic, EventSkipped, "", "insufficient budget")
		return nil, nil
	}
	rc.emit(TierSemantic, EventAttempt, "", desc)

	sctx, cancel := context.WithTimeout(ctx, left)
	defer cancel()
	match, err := s.r.semantic.FindBySemanticDescription(sctx, desc, string(rc.id))
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if err != nil || match == nil || match.Selector == "" {
		if err != nil {
			s.r.logger.Debug("semantic lookup failed", zap.String("element_id", string(rc.id)), zap.Error(err))
		}
		rc.emit(TierSemantic, EventMiss, "", "")
		return nil, nil
	}

	h, outcome := s.r.probe(sctx, match.Selector, rc.opts.RequireVisible)
	if outcome != outcomeFound {
		rc.emit(TierSemantic, EventMiss, match.Selector, outcome.String())
		return nil, nil
	}
	if rc.recordSuccess {
		s.r.ledger.RecordSuccess(rc.id, match.Selector)
	}
	return &Result{
		Method:     MethodSemantic,
		Selector:   match.Selector,
		Element:    h,
		Confidence: match.Confidence,
	}, nil
}

// =============================================================================
// 👁️ 视觉层
// =============================================================================

type visualStrategy struct {
	r *Resolver
}

func (s *visualStrategy) Name() string { return TierVisual }

func (s *visualStrategy) Run(ctx context.Context, rc *resolveContext) (*Result, error) {
	r := s.r
	if !rc.visualEligible(r) {
		return nil, nil
	}
	left := rc.budget.remaining()
	if left < r.cfg.VisualMinBudget {
		rc.budgetSkipped = true
		rc.emit(TierVisual, EventSkipped, "", "insufficient budget")
		return nil, nil
	}
	rc.emit(TierVisual, EventAttempt, "", rc.set.VisualDescription)

	vctx, cancel := context.WithTimeout(ctx, left)
	defer cancel()
	loc, err := r.visual.Locate(vctx, rc.set.VisualDescription, vision.LocateOptions{
		MinConfidence: r.cfg.VisualConfidence,
		Hint:          string(rc.id),
	})
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			r.logger.Warn("visual locate failed", zap.String("element_id", string(rc.id)), zap.Error(err))
		}
		rc.emit(TierVisual, EventMiss, "", err.Error())
		return nil, nil
	}
	if loc == nil || loc.Confidence < r.cfg.VisualConfidence {
		rc.emit(TierVisual, EventMiss, "", "no confident match")
		return nil, nil
	}

	point := loc.Point()
	if sel, h := r.translate(vctx, point, loc.SuggestedSelector, rc.opts.RequireVisible); h != nil {
		if rc.recordSuccess {
			r.ledger.RecordSuccess(rc.id, sel)
			r.ledger.RecordVisualRecovery(rc.id, sel)
		}
		r.metrics.RecordVisualRecovery()
		if r.cfg.PromoteRecovered {
			if _, err := r.store.Promote(rc.id, sel); err != nil {
				r.logger.Warn("promote recovered selector failed", zap.String("element_id", string(rc.id)), zap.Error(err))
			}
		}
		return &Result{
			Method:            MethodVisualWithSelector,
			Selector:          sel,
			Element:           h,
			Coordinates:       &point,
			Confidence:        loc.Confidence,
			SuggestedSelector: loc.SuggestedSelector,
		}, nil
	}

	r.logger.Info("visual fallback produced coordinates only",
		zap.String("element_id", string(rc.id)),
		zap.Float64("x", point.X),
		zap.Float64("y", point.Y),
		zap.Float64("confidence", loc.Confidence))
	return &Result{
		Method:            MethodVisualCoordinates,
		Coordinates:       &point,
		Confidence:        loc.Confidence,
		SuggestedSelector: loc.SuggestedSelector,
	}, nil
}

// translate 把视觉坐标换成可复用的选择器：先问 DOM 该点的元素，再退回模型建议的选择器。
// 选择器必须能独立解析（且按需可见）才算成功。
func (r *Resolver) translate(ctx context.Context, p types.Point, suggested string, requireVisible bool) (string, *browser.ElementHandle) {
	tried := make(map[string]bool, 2)
	at, err := r.driver.ElementAt(ctx, p.X, p.Y)
	if err != nil {
		r.logger.Debug("element at point failed", zap.Error(err))
	}
	for _, sel := range []string{at, suggested} {
		if sel == "" || tried[sel] {
			continue
		}
		tried[sel] = true
		if h, outcome := r.probe(ctx, sel, requireVisible); outcome == outcomeFound {
			return sel, h
		}
	}
	return "", nil
}

func (rc *resolveContext) visualEligible(r *Resolver) bool {
	return rc.opts.AllowVisualFallback && r.visual != nil && rc.set.VisualDescription != ""
}

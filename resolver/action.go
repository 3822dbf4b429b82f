package resolver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/types"
)

// 动作 API：预期内的失败（元素找不到、交互失败）以 Success=false 返回，
// error 只用于 UNKNOWN_ELEMENT 这类编程错误。

// FindElement 解析元素，不做交互
func (r *Resolver) FindElement(ctx context.Context, id types.ElementID, opts Options) (ActionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.resolve(ctx, id, opts)
	if err != nil {
		return r.expected(res, err)
	}
	return actionFrom(res), nil
}

// ClickElement 解析后点击；纯坐标结果使用指针点击
func (r *Resolver) ClickElement(ctx context.Context, id types.ElementID, opts Options) (ActionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.resolve(ctx, id, opts)
	if err != nil {
		return r.expected(res, err)
	}
	if res.Element != nil {
		err = r.driver.Click(ctx, res.Element)
	} else {
		err = r.driver.PointerClick(ctx, res.Coordinates.X, res.Coordinates.Y)
	}
	if err != nil {
		return r.interactionFailed(id, "click", res, err), nil
	}
	return actionFrom(res), nil
}

// TypeIntoElement 解析后输入文本；纯坐标结果先指针点击聚焦再键盘输入
func (r *Resolver) TypeIntoElement(ctx context.Context, id types.ElementID, text string, opts Options) (ActionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.resolve(ctx, id, opts)
	if err != nil {
		return r.expected(res, err)
	}
	if res.Element != nil {
		err = r.driver.Type(ctx, res.Element, text)
	} else {
		if err = r.driver.PointerClick(ctx, res.Coordinates.X, res.Coordinates.Y); err == nil {
			err = r.driver.KeyboardType(ctx, text)
		}
	}
	if err != nil {
		return r.interactionFailed(id, "type", res, err), nil
	}
	return actionFrom(res), nil
}

// SelectOption 在下拉框中选择值；需要 DOM 句柄，纯坐标结果视为失败
func (r *Resolver) SelectOption(ctx context.Context, id types.ElementID, value string, opts Options) (ActionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.resolve(ctx, id, opts)
	if err != nil {
		return r.expected(res, err)
	}
	if res.Element == nil {
		err = types.Errorf(types.ErrDriver, "select option on %q requires a DOM element, got coordinates only", id)
		return actionFailure(res, err), nil
	}
	if err := r.driver.SelectOption(ctx, res.Element, value); err != nil {
		return r.interactionFailed(id, "select", res, err), nil
	}
	return actionFrom(res), nil
}

// WaitForElement 在 timeout 内反复扫描 learned/static 候选直到元素出现。
// 不走语义/视觉层，也不记录失败。
func (r *Resolver) WaitForElement(ctx context.Context, id types.ElementID, timeout time.Duration) (ActionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, err := r.store.Get(id)
	if err != nil {
		return ActionResult{}, err
	}
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	opts := Options{Timeout: timeout, RequireVisible: r.cfg.RequireVisible}

	deadline := r.now().Add(timeout)
	for {
		left := deadline.Sub(r.now())
		if left <= 0 {
			break
		}
		rc := r.newContext(id, set, opts, left)
		if rc.pending == 0 {
			break
		}
		rc.recordSuccess = true
		res, err := r.run(ctx, rc, r.staticStrategies())
		if err != nil {
			return actionFailure(nil, err), nil
		}
		if res != nil {
			return actionFrom(res), nil
		}
		if rc.budgetSkipped {
			break
		}
	}
	err = types.Errorf(types.ErrResolutionFailed, "element %q did not appear within %s", id, timeout)
	r.metrics.RecordResolution("", false, timeout)
	return actionFailure(nil, err), nil
}

// ElementExists 在 ExistsTimeout 内做一次 learned/static 扫描，不触碰账本
func (r *Resolver) ElementExists(ctx context.Context, id types.ElementID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, err := r.store.Get(id)
	if err != nil {
		return false, err
	}
	opts := Options{Timeout: r.cfg.ExistsTimeout, RequireVisible: r.cfg.RequireVisible}
	rc := r.newContext(id, set, opts, r.cfg.ExistsTimeout)
	res, err := r.run(ctx, rc, r.staticStrategies())
	if err != nil {
		return false, nil
	}
	return res != nil, nil
}

func (r *Resolver) staticStrategies() []Strategy {
	return []Strategy{
		&selectorStrategy{r: r, tier: TierLearned, pick: learnedPick},
		&selectorStrategy{r: r, tier: TierStatic, pick: staticPick},
	}
}

// expected 把解析失败转换为动作结果；UNKNOWN_ELEMENT 原样返回
func (r *Resolver) expected(res *Result, err error) (ActionResult, error) {
	if types.IsCode(err, types.ErrUnknownElement) {
		return ActionResult{}, err
	}
	return actionFailure(res, err), nil
}

func (r *Resolver) interactionFailed(id types.ElementID, action string, res *Result, err error) ActionResult {
	r.logger.Warn("interaction failed",
		zap.String("element_id", string(id)),
		zap.String("action", action),
		zap.String("method", string(res.Method)),
		zap.Error(err))
	return actionFailure(res, types.Errorf(types.ErrDriver, "%s on %q failed", action, id).WithCause(err))
}

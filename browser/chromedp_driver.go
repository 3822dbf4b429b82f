package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/types"
)

// ChromeDPDriver 基于 chromedp 的 Driver 实现
type ChromeDPDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	config      config.BrowserConfig
	logger      *zap.Logger
	mu          sync.Mutex
}

var _ Driver = (*ChromeDPDriver)(nil)

// NewChromeDPDriver 创建 chromedp 驱动并启动浏览器
func NewChromeDPDriver(cfg config.BrowserConfig, logger *zap.Logger) (*ChromeDPDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
		}
		if cfg.ProxyURL != "" {
			opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	d := &ChromeDPDriver{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		config:      cfg,
		logger:      logger.With(zap.String("component", "chromedp_driver")),
	}

	// 启动浏览器
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, types.NewError(types.ErrDriver, "failed to start browser").WithCause(err)
	}

	d.logger.Info("chromedp browser started",
		zap.Bool("headless", cfg.Headless),
		zap.Bool("remote", cfg.RemoteURL != ""),
		zap.Int("viewport_w", cfg.ViewportWidth),
		zap.Int("viewport_h", cfg.ViewportHeight))

	return d, nil
}

// run 在浏览器上下文中执行动作，同时遵循调用方 ctx 的取消与截止时间
func (d *ChromeDPDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()

	if dl, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, dl)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// callOn 在节点上执行 JS 函数，返回值按 JSON 解码到 out
func (d *ChromeDPDriver) callOn(ctx context.Context, h *ElementHandle, fn string, out any) error {
	if h == nil {
		return types.NewError(types.ErrDriver, "nil element handle")
	}
	return d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(cdp.NodeID(h.ID)).Do(ctx)
		if err != nil {
			return err
		}
		res, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if out == nil || res == nil || len(res.Value) == 0 {
			return nil
		}
		return json.Unmarshal([]byte(res.Value), out)
	}))
}

func driverError(op string, err error) error {
	if err == nil {
		return nil
	}
	return types.NewError(types.ErrDriver, op+" failed").WithCause(err)
}

// QuerySelector 查询第一个匹配节点，不等待
func (d *ChromeDPDriver) QuerySelector(ctx context.Context, selector string) (*ElementHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return nil, driverError("query selector", err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &ElementHandle{ID: int64(nodes[0].NodeID), Selector: selector}, nil
}

// QuerySelectorAll 查询所有匹配节点，不等待
func (d *ChromeDPDriver) QuerySelectorAll(ctx context.Context, selector string) ([]*ElementHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, driverError("query selector all", err)
	}
	handles := make([]*ElementHandle, 0, len(nodes))
	for _, n := range nodes {
		handles = append(handles, &ElementHandle{ID: int64(n.NodeID), Selector: selector})
	}
	return handles, nil
}

// Screenshot 截取 PNG 截图
func (d *ChromeDPDriver) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if opts.FullPage {
		// quality 100 输出 PNG
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := d.run(ctx, action); err != nil {
		return nil, driverError("screenshot", err)
	}
	return buf, nil
}

// ElementAt 返回视口坐标处元素的唯一选择器
func (d *ChromeDPDriver) ElementAt(ctx context.Context, x, y float64) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var sel string
	if err := d.run(ctx, chromedp.Evaluate(elementAtJS(x, y), &sel)); err != nil {
		return "", driverError("element at point", err)
	}
	return sel, nil
}

// SelectorFor 为节点生成唯一选择器
func (d *ChromeDPDriver) SelectorFor(ctx context.Context, h *ElementHandle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var sel string
	if err := d.callOn(ctx, h, selectorForFn, &sel); err != nil {
		return "", driverError("selector for", err)
	}
	return sel, nil
}

// TextContent 返回节点可见文本
func (d *ChromeDPDriver) TextContent(ctx context.Context, h *ElementHandle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var text string
	if err := d.callOn(ctx, h, textContentFn, &text); err != nil {
		return "", driverError("text content", err)
	}
	return text, nil
}

// PointerClick 在视口坐标处点击
func (d *ChromeDPDriver) PointerClick(ctx context.Context, x, y float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Debug("pointer click", zap.Float64("x", x), zap.Float64("y", y))
	return driverError("pointer click", d.run(ctx, dispatchClick(x, y)))
}

func dispatchClick(x, y float64) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
			return err
		}
		if err := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).WithClickCount(1).Do(ctx); err != nil {
			return err
		}
		return input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.Left).WithClickCount(1).Do(ctx)
	})
}

// KeyboardType 向当前焦点输入文本
func (d *ChromeDPDriver) KeyboardType(ctx context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Debug("keyboard type", zap.Int("length", len(text)))
	return driverError("keyboard type", d.run(ctx, chromedp.KeyEvent(text)))
}

// IsVisible 判断节点是否可见：尺寸非零且未被 display/visibility/opacity 隐藏
func (d *ChromeDPDriver) IsVisible(ctx context.Context, h *ElementHandle) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var visible bool
	if err := d.callOn(ctx, h, visibilityFn, &visible); err != nil {
		return false, driverError("visibility check", err)
	}
	return visible, nil
}

// BoundingBox 返回节点在视口中的矩形
func (d *ChromeDPDriver) BoundingBox(ctx context.Context, h *ElementHandle) (*types.Rect, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.boundingBox(ctx, h)
}

func (d *ChromeDPDriver) boundingBox(ctx context.Context, h *ElementHandle) (*types.Rect, error) {
	var r types.Rect
	if err := d.callOn(ctx, h, boundingRectFn, &r); err != nil {
		return nil, driverError("bounding box", err)
	}
	if r.Empty() {
		return nil, nil
	}
	return &r, nil
}

// Click 滚动节点到视口中央并点击其中心
func (d *ChromeDPDriver) Click(ctx context.Context, h *ElementHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.callOn(ctx, h, scrollIntoViewFn, nil); err != nil {
		return driverError("scroll into view", err)
	}
	box, err := d.boundingBox(ctx, h)
	if err != nil {
		return err
	}
	if box == nil {
		return types.NewError(types.ErrDriver, "element has no box model")
	}
	c := box.Center()
	return driverError("click", d.run(ctx, dispatchClick(c.X, c.Y)))
}

// Type 聚焦并清空节点后输入文本
func (d *ChromeDPDriver) Type(ctx context.Context, h *ElementHandle, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.callOn(ctx, h, focusAndClearFn, nil); err != nil {
		return driverError("focus", err)
	}
	return driverError("type", d.run(ctx, chromedp.KeyEvent(text)))
}

// SelectOption 按 value 或可见文本选择 <select> 选项
func (d *ChromeDPDriver) SelectOption(ctx context.Context, h *ElementHandle, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	arg, _ := json.Marshal(value)
	fn := fmt.Sprintf("function() { return (%s).call(this, %s); }", selectOptionFn, arg)

	var ok bool
	if err := d.callOn(ctx, h, fn, &ok); err != nil {
		return driverError("select option", err)
	}
	if !ok {
		return types.Errorf(types.ErrDriver, "option %q not found", value)
	}
	return nil
}

// Viewport 返回视口尺寸、滚动偏移和页面尺寸
func (d *ChromeDPDriver) Viewport(ctx context.Context) (Viewport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var vp Viewport
	if err := d.run(ctx, chromedp.Evaluate(viewportJS, &vp)); err != nil {
		return Viewport{}, driverError("viewport", err)
	}
	return vp, nil
}

// ScrollTo 滚动到整页坐标
func (d *ChromeDPDriver) ScrollTo(ctx context.Context, x, y float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return driverError("scroll", d.run(ctx, chromedp.Evaluate(scrollToJS(x, y), nil)))
}

// URL 获取当前 URL
func (d *ChromeDPDriver) URL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", driverError("location", err)
	}
	return url, nil
}

// Navigate 导航到 URL
func (d *ChromeDPDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	d.logger.Debug("navigating", zap.String("url", url))
	start := time.Now()
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		return driverError("navigate", err)
	}
	d.logger.Debug("navigated", zap.String("url", url), zap.Duration("took", time.Since(start)))
	return nil
}

// Close 关闭浏览器
func (d *ChromeDPDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("closing chromedp browser")
	d.cancel()
	d.allocCancel()
	return nil
}

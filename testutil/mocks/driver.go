// MockDriver 是 browser.Driver 的内存模拟实现。
//
// 以选择器为键注册元素，支持可见性、坐标反查、截图脚本、查询延迟与错误注入。
package mocks

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"github.com/BaSui01/driftguard/browser"
	"github.com/BaSui01/driftguard/types"
)

// --- MockElement ---

// MockElement 模拟页面上的一个 DOM 节点
type MockElement struct {
	// Selector 规范选择器，SelectorFor 返回该值
	Selector string
	Visible  bool
	Rect     types.Rect
	Text     string
}

type pointTarget struct {
	rect     types.Rect
	selector string
}

// --- MockDriver 结构 ---

// MockDriver 是 browser.Driver 的模拟实现
type MockDriver struct {
	mu sync.Mutex

	elements map[string][]*MockElement
	handles  map[int64]*MockElement
	nextID   int64
	points   []pointTarget

	screenshots    [][]byte
	screenshotIdx  int
	fullPageShots  []bool
	viewport       browser.Viewport
	url            string
	queryDelay     time.Duration
	errs           map[string]error
	calls          map[string]int
	queries        []string
	pointerClicks  []types.Point
	typed          []string
	clickedHandles []string
	selected       map[string]string
	scrolls        []types.Point
	closed         bool
}

var _ browser.Driver = (*MockDriver)(nil)

// --- 构造函数和 Builder 方法 ---

// NewMockDriver 创建新的 MockDriver，视口 1280x800，无滚动
func NewMockDriver() *MockDriver {
	return &MockDriver{
		elements: make(map[string][]*MockElement),
		handles:  make(map[int64]*MockElement),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
		selected: make(map[string]string),
		viewport: browser.Viewport{Width: 1280, Height: 800, PageWidth: 1280, PageHeight: 800},
		url:      "about:blank",
	}
}

// WithElement 注册一个可见元素；aliases 是也能查询到它的其他选择器
func (m *MockDriver) WithElement(selector string, rect types.Rect, aliases ...string) *MockDriver {
	return m.Add(&MockElement{Selector: selector, Visible: true, Rect: rect}, aliases...)
}

// WithHiddenElement 注册一个能被查询到但不可见的元素
func (m *MockDriver) WithHiddenElement(selector string, aliases ...string) *MockDriver {
	return m.Add(&MockElement{Selector: selector}, aliases...)
}

// Add 注册元素，在 el.Selector 与 aliases 下均可查询
func (m *MockDriver) Add(el *MockElement, aliases ...string) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sel := range append([]string{el.Selector}, aliases...) {
		m.elements[sel] = append(m.elements[sel], el)
	}
	return m
}

// Remove 移除某选择器下的所有元素
func (m *MockDriver) Remove(selector string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.elements, selector)
}

// WithPointTarget 让 ElementAt 在 rect 内返回 selector
func (m *MockDriver) WithPointTarget(rect types.Rect, selector string) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, pointTarget{rect: rect, selector: selector})
	return m
}

// WithScreenshots 设置截图脚本，按顺序返回，最后一张重复
func (m *MockDriver) WithScreenshots(shots ...[]byte) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screenshots = shots
	m.screenshotIdx = 0
	return m
}

// WithViewport 设置视口状态
func (m *MockDriver) WithViewport(v browser.Viewport) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewport = v
	return m
}

// WithURL 设置当前 URL
func (m *MockDriver) WithURL(url string) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
	return m
}

// WithQueryDelay 每次 QuerySelector 的模拟耗时（受 ctx 约束）
func (m *MockDriver) WithQueryDelay(d time.Duration) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryDelay = d
	return m
}

// WithError 为某个方法注入错误（方法名同接口，如 "Screenshot"）
func (m *MockDriver) WithError(method string, err error) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[method] = err
	return m
}

// --- 调用记录 ---

// CallCount 返回某方法被调用次数
func (m *MockDriver) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Queries 按顺序返回 QuerySelector 收到的选择器
func (m *MockDriver) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// PointerClicks 返回所有坐标点击
func (m *MockDriver) PointerClicks() []types.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Point(nil), m.pointerClicks...)
}

// ClickedHandles 返回通过 Click(handle) 点击的元素选择器
func (m *MockDriver) ClickedHandles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.clickedHandles...)
}

// Typed 返回所有键入文本（Type 与 KeyboardType）
func (m *MockDriver) Typed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.typed...)
}

// Selected 返回某元素被选中的值
func (m *MockDriver) Selected(selector string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected[selector]
}

// Scrolls 返回 ScrollTo 的目标序列
func (m *MockDriver) Scrolls() []types.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Point(nil), m.scrolls...)
}

// FullPageShots 返回每次截图是否为整页
func (m *MockDriver) FullPageShots() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.fullPageShots...)
}

// --- browser.Driver 实现 ---

func (m *MockDriver) enter(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	return m.errs[method]
}

func (m *MockDriver) handleFor(el *MockElement) *browser.ElementHandle {
	m.nextID++
	m.handles[m.nextID] = el
	return &browser.ElementHandle{ID: m.nextID, Selector: el.Selector}
}

func (m *MockDriver) lookup(h *browser.ElementHandle) (*MockElement, error) {
	if h == nil {
		return nil, types.NewError(types.ErrDriver, "nil element handle")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.handles[h.ID]
	if !ok {
		return nil, types.NewError(types.ErrDriver, "stale element handle")
	}
	return el, nil
}

func (m *MockDriver) QuerySelector(ctx context.Context, selector string) (*browser.ElementHandle, error) {
	if err := m.enter("QuerySelector"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.queries = append(m.queries, selector)
	delay := m.queryDelay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	els := m.elements[selector]
	if len(els) == 0 {
		return nil, nil
	}
	return m.handleFor(els[0]), nil
}

func (m *MockDriver) QuerySelectorAll(ctx context.Context, selector string) ([]*browser.ElementHandle, error) {
	if err := m.enter("QuerySelectorAll"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	els := m.elements[selector]
	out := make([]*browser.ElementHandle, 0, len(els))
	for _, el := range els {
		out = append(out, m.handleFor(el))
	}
	return out, nil
}

func (m *MockDriver) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	if err := m.enter("Screenshot"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fullPageShots = append(m.fullPageShots, opts.FullPage)
	if len(m.screenshots) == 0 {
		return blankPNG(), nil
	}
	shot := m.screenshots[m.screenshotIdx]
	if m.screenshotIdx < len(m.screenshots)-1 {
		m.screenshotIdx++
	}
	return shot, nil
}

func (m *MockDriver) ElementAt(ctx context.Context, x, y float64) (string, error) {
	if err := m.enter("ElementAt"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := types.Point{X: x, Y: y}
	for _, t := range m.points {
		if t.rect.Contains(p) {
			return t.selector, nil
		}
	}
	return "", nil
}

func (m *MockDriver) SelectorFor(ctx context.Context, h *browser.ElementHandle) (string, error) {
	if err := m.enter("SelectorFor"); err != nil {
		return "", err
	}
	el, err := m.lookup(h)
	if err != nil {
		return "", err
	}
	return el.Selector, nil
}

func (m *MockDriver) TextContent(ctx context.Context, h *browser.ElementHandle) (string, error) {
	if err := m.enter("TextContent"); err != nil {
		return "", err
	}
	el, err := m.lookup(h)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (m *MockDriver) PointerClick(ctx context.Context, x, y float64) error {
	if err := m.enter("PointerClick"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pointerClicks = append(m.pointerClicks, types.Point{X: x, Y: y})
	return nil
}

func (m *MockDriver) KeyboardType(ctx context.Context, text string) error {
	if err := m.enter("KeyboardType"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typed = append(m.typed, text)
	return nil
}

func (m *MockDriver) IsVisible(ctx context.Context, h *browser.ElementHandle) (bool, error) {
	if err := m.enter("IsVisible"); err != nil {
		return false, err
	}
	el, err := m.lookup(h)
	if err != nil {
		return false, err
	}
	return el.Visible, nil
}

func (m *MockDriver) BoundingBox(ctx context.Context, h *browser.ElementHandle) (*types.Rect, error) {
	if err := m.enter("BoundingBox"); err != nil {
		return nil, err
	}
	el, err := m.lookup(h)
	if err != nil {
		return nil, err
	}
	if !el.Visible {
		return nil, nil
	}
	r := el.Rect
	return &r, nil
}

func (m *MockDriver) Click(ctx context.Context, h *browser.ElementHandle) error {
	if err := m.enter("Click"); err != nil {
		return err
	}
	el, err := m.lookup(h)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clickedHandles = append(m.clickedHandles, el.Selector)
	return nil
}

func (m *MockDriver) Type(ctx context.Context, h *browser.ElementHandle, text string) error {
	if err := m.enter("Type"); err != nil {
		return err
	}
	if _, err := m.lookup(h); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typed = append(m.typed, text)
	return nil
}

func (m *MockDriver) SelectOption(ctx context.Context, h *browser.ElementHandle, value string) error {
	if err := m.enter("SelectOption"); err != nil {
		return err
	}
	el, err := m.lookup(h)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected[el.Selector] = value
	return nil
}

func (m *MockDriver) Viewport(ctx context.Context) (browser.Viewport, error) {
	if err := m.enter("Viewport"); err != nil {
		return browser.Viewport{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewport, nil
}

func (m *MockDriver) ScrollTo(ctx context.Context, x, y float64) error {
	if err := m.enter("ScrollTo"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scrolls = append(m.scrolls, types.Point{X: x, Y: y})
	m.viewport.ScrollX = x
	m.viewport.ScrollY = y
	return nil
}

func (m *MockDriver) URL(ctx context.Context) (string, error) {
	if err := m.enter("URL"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url, nil
}

func (m *MockDriver) Navigate(ctx context.Context, url string) error {
	if err := m.enter("Navigate"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
	return nil
}

func (m *MockDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed 报告 Close 是否被调用
func (m *MockDriver) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func blankPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

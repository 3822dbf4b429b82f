package browser

import (
	"context"
	"encoding/base64"

	"github.com/BaSui01/driftguard/types"
)

// ElementHandle 指向一个实时 DOM 节点，页面导航后失效
type ElementHandle struct {
	// ID 驱动内部的节点标识
	ID int64 `json:"id"`
	// Selector 查询到该节点所用的选择器
	Selector string `json:"selector"`
}

// ScreenshotOptions 截图选项
type ScreenshotOptions struct {
	// FullPage 为 true 时截取整个页面，否则只截取当前视口
	FullPage bool
}

// Viewport 视口与滚动状态（CSS 像素）
type Viewport struct {
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	ScrollX    float64 `json:"scrollX"`
	ScrollY    float64 `json:"scrollY"`
	PageWidth  float64 `json:"pageWidth"`
	PageHeight float64 `json:"pageHeight"`
}

// VisibleRect 返回当前视口在整页坐标系中的区域
func (v Viewport) VisibleRect() types.Rect {
	return types.Rect{X: v.ScrollX, Y: v.ScrollY, Width: v.Width, Height: v.Height}
}

// Driver 浏览器驱动能力接口
//
// 一个 Driver 对应一个页面上下文，所有调用都被串行化。
// QuerySelector 在元素不存在时返回 (nil, nil)；ElementAt 在该点无可识别元素时返回空字符串。
// 坐标均为视口内的 CSS 像素。
type Driver interface {
	QuerySelector(ctx context.Context, selector string) (*ElementHandle, error)
	QuerySelectorAll(ctx context.Context, selector string) ([]*ElementHandle, error)
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	ElementAt(ctx context.Context, x, y float64) (string, error)
	SelectorFor(ctx context.Context, h *ElementHandle) (string, error)
	TextContent(ctx context.Context, h *ElementHandle) (string, error)
	PointerClick(ctx context.Context, x, y float64) error
	KeyboardType(ctx context.Context, text string) error
	IsVisible(ctx context.Context, h *ElementHandle) (bool, error)
	BoundingBox(ctx context.Context, h *ElementHandle) (*types.Rect, error)
	Click(ctx context.Context, h *ElementHandle) error
	Type(ctx context.Context, h *ElementHandle, text string) error
	SelectOption(ctx context.Context, h *ElementHandle, value string) error
	Viewport(ctx context.Context) (Viewport, error)
	ScrollTo(ctx context.Context, x, y float64) error
	URL(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	Close() error
}

// ScreenshotToBase64 将 PNG 截图编码为 base64
func ScreenshotToBase64(png []byte) string {
	return base64.StdEncoding.EncodeToString(png)
}

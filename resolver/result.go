package resolver

import (
	"time"

	"github.com/BaSui01/driftguard/browser"
	"github.com/BaSui01/driftguard/types"
)

// Method 解析方式
type Method string

const (
	// MethodSelector 学习到的或静态候选选择器命中
	MethodSelector Method = "selector"
	// MethodSemantic 语义模式库/启发式命中
	MethodSemantic Method = "semantic"
	// MethodVisualWithSelector 视觉定位后反查到可复用选择器
	MethodVisualWithSelector Method = "visual_with_selector"
	// MethodVisualCoordinates 视觉定位只有坐标，只能做一次性指针交互
	MethodVisualCoordinates Method = "visual_coordinates"
)

// Options 单次解析选项，用 Resolver.DefaultOptions 作为起点
type Options struct {
	// Timeout 所有层共享的总预算
	Timeout time.Duration
	// AllowVisualFallback 静态层耗尽后是否允许视觉层
	AllowVisualFallback bool
	// RequireVisible 命中的元素必须可见
	RequireVisible bool
}

// Result 解析结果。Element 与纯坐标结果互斥：
// MethodVisualCoordinates 时 Element 为 nil，只能用 Coordinates 做指针交互。
type Result struct {
	Method            Method                 `json:"method"`
	Selector          string                 `json:"selector,omitempty"`
	Element           *browser.ElementHandle `json:"-"`
	Coordinates       *types.Point           `json:"coordinates,omitempty"`
	Confidence        float64                `json:"confidence"`
	SuggestedSelector string                 `json:"suggestedSelector,omitempty"`
	Duration          time.Duration          `json:"duration"`
}

// ActionResult 动作 API 的返回结构；预期内的失败（找不到元素）通过 Success=false 表达
type ActionResult struct {
	Success     bool         `json:"success"`
	Method      Method       `json:"method,omitempty"`
	Selector    string       `json:"selector,omitempty"`
	Coordinates *types.Point `json:"coordinates,omitempty"`
	Confidence  float64      `json:"confidence,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func actionFrom(res *Result) ActionResult {
	return ActionResult{
		Success:     true,
		Method:      res.Method,
		Selector:    res.Selector,
		Coordinates: res.Coordinates,
		Confidence:  res.Confidence,
	}
}

func actionFailure(res *Result, err error) ActionResult {
	out := ActionResult{Error: err.Error()}
	if res != nil {
		out.Method = res.Method
		out.Selector = res.Selector
		out.Coordinates = res.Coordinates
		out.Confidence = res.Confidence
	}
	return out
}

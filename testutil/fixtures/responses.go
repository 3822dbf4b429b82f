// =============================================================================
// 📦 测试数据工厂 - 视觉推理响应
// =============================================================================
// 按各调用点的 JSON 约定构造模型回复，可选夹带说明文字
// =============================================================================
package fixtures

import (
	"fmt"

	"github.com/BaSui01/driftguard/testutil"
)

// =============================================================================
// 🎯 元素定位响应
// =============================================================================

// LocateFound 返回一个命中的定位回复（x/y 为元素中心）
func LocateFound(confidence, x, y float64, suggestedSelector string) string {
	payload := map[string]any{
		"found":      true,
		"confidence": confidence,
		"x":          x,
		"y":          y,
		"width":      120,
		"height":     40,
		"reasoning":  "matched visual description",
	}
	if suggestedSelector != "" {
		payload["suggestedSelector"] = suggestedSelector
	}
	return testutil.MustJSON(payload)
}

// LocateNotFound 返回未命中的定位回复
func LocateNotFound() string {
	return `{"found": false, "confidence": 0.1, "reasoning": "no such element visible"}`
}

// WithProse 在 JSON 前后夹带说明文字，模拟模型的自由文本回复
func WithProse(jsonText string) string {
	return fmt.Sprintf("Sure! Here is what I found:\n```json\n%s\n```\nLet me know if you need anything else.", jsonText)
}

// =============================================================================
// 🖼️ 对比与状态校验响应
// =============================================================================

// Comparison 返回两图对比回复
func Comparison(similarity float64, impact string, breaking []string, nonBreaking []string) string {
	return testutil.MustJSON(map[string]any{
		"similarity":         similarity,
		"automationImpact":   impact,
		"breakingChanges":    breaking,
		"nonBreakingChanges": nonBreaking,
		"summary":            "layout comparison",
	})
}

// StateCheck 返回状态校验回复
func StateCheck(matches bool, actualState string, confidence float64) string {
	return testutil.MustJSON(map[string]any{
		"matches":     matches,
		"actualState": actualState,
		"confidence":  confidence,
	})
}

// FoundElement 分类查找中的一个元素
type FoundElement struct {
	Description       string  `json:"description"`
	X                 float64 `json:"x"`
	Y                 float64 `json:"y"`
	Width             float64 `json:"width"`
	Height            float64 `json:"height"`
	Confidence        float64 `json:"confidence"`
	SuggestedSelector string  `json:"suggestedSelector,omitempty"`
}

// FindAll 返回分类查找回复
func FindAll(elements ...FoundElement) string {
	return testutil.MustJSON(map[string]any{"elements": elements})
}

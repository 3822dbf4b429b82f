package vision

import (
	"bytes"
	"image"
	_ "image/png" // 注册 PNG 解码器
	"strings"

	"github.com/BaSui01/driftguard/llm"
	"github.com/BaSui01/driftguard/types"
)

// Location 视觉定位结果；X/Y 为元素中心，单位为当前视口的 CSS 像素
type Location struct {
	X                 float64 `json:"x"`
	Y                 float64 `json:"y"`
	Width             float64 `json:"width"`
	Height            float64 `json:"height"`
	Confidence        float64 `json:"confidence"`
	Reasoning         string  `json:"reasoning,omitempty"`
	SuggestedSelector string  `json:"suggestedSelector,omitempty"`
	// Label 分类查找时模型给出的元素描述
	Label string `json:"label,omitempty"`
	// Attempts 得到结果所用的推理次数
	Attempts int `json:"attempts"`
	// Scrolled 为 true 表示定位前页面被滚动过
	Scrolled bool `json:"scrolled,omitempty"`
}

// Point 返回元素中心
func (l *Location) Point() types.Point {
	return types.Point{X: l.X, Y: l.Y}
}

// Rect 返回元素区域
func (l *Location) Rect() types.Rect {
	return types.Rect{X: l.X - l.Width/2, Y: l.Y - l.Height/2, Width: l.Width, Height: l.Height}
}

// StateResult 状态校验结果
type StateResult struct {
	Matches     bool    `json:"matches"`
	ActualState string  `json:"actualState"`
	Confidence  float64 `json:"confidence"`
}

// ImageComparison 两图对比结果
type ImageComparison struct {
	Similarity         float64      `json:"similarity"`
	Impact             types.Impact `json:"automationImpact"`
	BreakingChanges    []string     `json:"breakingChanges"`
	NonBreakingChanges []string     `json:"nonBreakingChanges"`
	Summary            string       `json:"summary,omitempty"`
	// Identical 重试时新截图与基线一致，未经推理
	Identical bool `json:"-"`
}

// Changes 合并变化列表，破坏性变化在前
func (c *ImageComparison) Changes() []string {
	out := make([]string, 0, len(c.BreakingChanges)+len(c.NonBreakingChanges))
	out = append(out, c.BreakingChanges...)
	return append(out, c.NonBreakingChanges...)
}

func parseError(msg string) error {
	return types.NewError(types.ErrInferenceParse, msg)
}

// parseLocation 校验定位回复。found=false 时返回 (nil, nil)。
// bounds 非空时，落在截图之外的坐标视为臆造。
func parseLocation(text string, bounds image.Rectangle) (*Location, error) {
	u, err := llm.ParseUnverified(text)
	if err != nil {
		return nil, err
	}
	found, ok := u.Bool("found")
	if !ok {
		return nil, parseError("missing found")
	}
	if !found {
		return nil, nil
	}
	loc, err := parsePlacement(u, bounds)
	if err != nil {
		return nil, err
	}
	loc.Reasoning, _ = u.String("reasoning")
	return loc, nil
}

func parsePlacement(u *llm.Unverified, bounds image.Rectangle) (*Location, error) {
	conf, ok := u.Confidence("confidence")
	if !ok {
		return nil, parseError("missing or invalid confidence")
	}
	x, okX := u.Float("x")
	y, okY := u.Float("y")
	if !okX || !okY {
		return nil, parseError("missing coordinates")
	}
	if x < 0 || y < 0 {
		return nil, parseError("negative coordinates")
	}
	if !bounds.Empty() && (x > float64(bounds.Dx()) || y > float64(bounds.Dy())) {
		return nil, parseError("coordinates outside screenshot")
	}
	w, _ := u.Float("width")
	h, _ := u.Float("height")
	return &Location{
		X:                 x,
		Y:                 y,
		Width:             max(w, 0),
		Height:            max(h, 0),
		Confidence:        conf,
		SuggestedSelector: firstString(u, "suggestedSelector", "suggested_selector", "selector"),
	}, nil
}

func parseState(text string) (*StateResult, error) {
	u, err := llm.ParseUnverified(text)
	if err != nil {
		return nil, err
	}
	matches, ok := u.Bool("matches")
	if !ok {
		return nil, parseError("missing matches")
	}
	conf, ok := u.Confidence("confidence")
	if !ok {
		return nil, parseError("missing or invalid confidence")
	}
	return &StateResult{
		Matches:     matches,
		ActualState: firstString(u, "actualState", "actual_state"),
		Confidence:  conf,
	}, nil
}

func parseComparison(text string) (*ImageComparison, error) {
	u, err := llm.ParseUnverified(text)
	if err != nil {
		return nil, err
	}
	sim, ok := u.Confidence("similarity")
	if !ok {
		return nil, parseError("missing or invalid similarity")
	}
	impact, ok := types.ParseImpact(firstString(u, "automationImpact", "automation_impact", "impact"))
	if !ok {
		return nil, parseError("missing or invalid automationImpact")
	}
	c := &ImageComparison{
		Similarity:         sim,
		Impact:             impact,
		BreakingChanges:    u.Strings("breakingChanges"),
		NonBreakingChanges: u.Strings("nonBreakingChanges"),
	}
	if len(c.BreakingChanges) == 0 && len(c.NonBreakingChanges) == 0 {
		c.NonBreakingChanges = u.Strings("changes")
	}
	c.Summary, _ = u.String("summary")
	return c, nil
}

func firstString(u *llm.Unverified, keys ...string) string {
	for _, k := range keys {
		if s, ok := u.String(k); ok {
			return s
		}
	}
	return ""
}

// imageBounds 读取 PNG 尺寸，失败时返回空矩形（不做越界校验）
func imageBounds(data []byte) image.Rectangle {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Rectangle{}
	}
	return image.Rect(0, 0, cfg.Width, cfg.Height)
}

func trimmed(s string) string { return strings.TrimSpace(s) }

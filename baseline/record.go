package baseline

import (
	"regexp"
	"time"

	"github.com/BaSui01/driftguard/types"
)

// State 每个页面类型的基线状态。
// NoBaseline → Captured → {Unchanged, ChangedMinor, ChangedBreaking}，重新捕获回到 Captured。
type State string

const (
	StateNoBaseline      State = "no_baseline"
	StateCaptured        State = "captured"
	StateUnchanged       State = "unchanged"
	StateChangedMinor    State = "changed_minor"
	StateChangedBreaking State = "changed_breaking"
)

// Viewport 捕获时的视口尺寸
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Record 一个页面类型的基线
type Record struct {
	ID              string     `json:"id"`
	PageType        string     `json:"pageType"`
	ContentHash     string     `json:"contentHash"`
	StoredImagePath string     `json:"storedImagePath"`
	CapturedAt      time.Time  `json:"capturedAt"`
	Viewport        Viewport   `json:"viewport"`
	URL             string     `json:"url,omitempty"`
	State           State      `json:"state"`
	LastComparedAt  *time.Time `json:"lastComparedAt,omitempty"`
	LastSimilarity  *float64   `json:"lastSimilarity,omitempty"`
}

func (r *Record) clone() *Record {
	c := *r
	if r.LastComparedAt != nil {
		t := *r.LastComparedAt
		c.LastComparedAt = &t
	}
	if r.LastSimilarity != nil {
		s := *r.LastSimilarity
		c.LastSimilarity = &s
	}
	return &c
}

// ComparisonPath 对比走的路径
type ComparisonPath string

const (
	PathHash  ComparisonPath = "hash"
	PathAI    ComparisonPath = "ai"
	PathPixel ComparisonPath = "pixel"
)

// Result 一次对比的结果。Matches 由 Similarity/Impact 计算得出，不取自推理服务。
type Result struct {
	PageType           string         `json:"pageType"`
	Matches            bool           `json:"matches"`
	Similarity         float64        `json:"similarity"`
	Changes            []string       `json:"changes"`
	BreakingChanges    []string       `json:"breakingChanges,omitempty"`
	NonBreakingChanges []string       `json:"nonBreakingChanges,omitempty"`
	AutomationImpact   types.Impact   `json:"automationImpact"`
	Summary            string         `json:"summary,omitempty"`
	Path               ComparisonPath `json:"path"`
	State              State          `json:"state"`
	Error              string         `json:"error,omitempty"`
	ComparedAt         time.Time      `json:"comparedAt"`
}

// Matches similarity 达到阈值且影响不是 critical 时才算匹配；critical 一票否决
func Matches(similarity, threshold float64, impact types.Impact) bool {
	return similarity >= threshold && impact != types.ImpactCritical
}

// ImpactFor 按相似度区间推导影响等级（像素对比路径使用）
func ImpactFor(similarity float64) types.Impact {
	switch {
	case similarity >= 0.99:
		return types.ImpactNone
	case similarity >= 0.95:
		return types.ImpactLow
	case similarity >= 0.85:
		return types.ImpactMedium
	case similarity >= 0.6:
		return types.ImpactHigh
	default:
		return types.ImpactCritical
	}
}

func stateFor(matches bool, similarity float64) State {
	switch {
	case !matches:
		return StateChangedBreaking
	case similarity >= 1:
		return StateUnchanged
	default:
		return StateChangedMinor
	}
}

var pageTypePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// validPageType 页面类型会作为文件名使用
func validPageType(pageType string) error {
	if !pageTypePattern.MatchString(pageType) {
		return types.Errorf(types.ErrInvalidRequest, "invalid page type %q", pageType)
	}
	return nil
}

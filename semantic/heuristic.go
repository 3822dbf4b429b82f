package semantic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/driftguard/browser"
)

// 按描述中的角色词选择候选节点范围
const (
	ButtonScope      = `button, [role="button"], input[type="submit"], input[type="button"]`
	LinkScope        = `a, [role="link"]`
	InputScope       = `input, textarea, select`
	InteractiveScope = `button, a, [role="button"], [role="link"], input, select, textarea`
)

var roleWords = map[string]string{
	"button":   ButtonScope,
	"btn":      ButtonScope,
	"link":     LinkScope,
	"tab":      InteractiveScope,
	"input":    InputScope,
	"field":    InputScope,
	"textbox":  InputScope,
	"box":      InputScope,
	"dropdown": InputScope,
	"select":   InputScope,
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "in": true, "on": true, "at": true,
	"to": true, "for": true, "with": true, "and": true, "or": true, "that": true, "this": true,
	"top": true, "bottom": true, "left": true, "right": true, "corner": true, "near": true,
	"blue": true, "red": true, "green": true, "gray": true, "grey": true, "white": true, "black": true,
	"big": true, "small": true, "large": true, "primary": true, "secondary": true, "icon": true,
	"modal": true, "page": true, "dialog": true, "form": true, "header": true, "footer": true,
}

// keywords 提取描述中的关键词与角色范围
func keywords(description string) (words []string, scope string) {
	scope = InteractiveScope
	for _, w := range strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r > 127)
	}) {
		if s, ok := roleWords[w]; ok {
			if scope == InteractiveScope {
				scope = s
			}
			continue
		}
		if stopWords[w] || len(w) < 2 || contains(words, w) {
			continue
		}
		words = append(words, w)
	}
	return words, scope
}

// attributeSelectors 由关键词生成 ARIA/属性选择器，较长的关键词优先
func attributeSelectors(words []string) []string {
	sorted := append([]string(nil), words...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	var out []string
	if len(words) > 1 {
		phrase := strings.Join(words, " ")
		out = append(out, fmt.Sprintf(`[aria-label*=%q i]`, phrase))
	}
	for _, w := range sorted {
		out = append(out,
			fmt.Sprintf(`[aria-label*=%q i]`, w),
			fmt.Sprintf(`[data-testid*=%q i]`, w),
			fmt.Sprintf(`[title*=%q i]`, w),
			fmt.Sprintf(`[placeholder*=%q i]`, w),
			fmt.Sprintf(`[name*=%q i]`, w),
		)
	}
	return out
}

// textMatch 在 scope 内按可见文本匹配关键词，命中关键词最多的可见节点胜出
func textMatch(ctx context.Context, driver browser.Driver, words []string, scope string) (string, error) {
	if len(words) == 0 {
		return "", nil
	}
	handles, err := driver.QuerySelectorAll(ctx, scope)
	if err != nil {
		return "", err
	}

	var best *browser.ElementHandle
	bestScore := 0
	for _, h := range handles {
		text, err := driver.TextContent(ctx, h)
		if err != nil {
			continue
		}
		text = strings.ToLower(text)
		score := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				score++
			}
		}
		if score <= bestScore {
			continue
		}
		if visible, err := driver.IsVisible(ctx, h); err != nil || !visible {
			continue
		}
		best, bestScore = h, score
	}
	if best == nil {
		return "", nil
	}
	return driver.SelectorFor(ctx, best)
}

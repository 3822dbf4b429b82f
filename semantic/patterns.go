package semantic

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/driftguard/types"
)

// DefaultMaxPatterns 每个描述保留的选择器上限
const DefaultMaxPatterns = 5

// DefaultPatterns 内置的常见控件描述
func DefaultPatterns() map[string][]string {
	return map[string][]string{
		"save button":    {`button[type="submit"]`, `[aria-label="Save"]`, `[data-testid*="save"]`},
		"cancel button":  {`[aria-label="Cancel"]`, `[data-testid*="cancel"]`},
		"close button":   {`[aria-label="Close"]`, `button.close`, `[data-testid*="close"]`},
		"submit button":  {`button[type="submit"]`, `input[type="submit"]`},
		"search input":   {`input[type="search"]`, `[role="searchbox"]`, `input[name*="search"]`},
		"login button":   {`[data-testid*="login"]`, `button[type="submit"]`},
		"delete button":  {`[aria-label="Delete"]`, `[data-testid*="delete"]`},
		"add button":     {`[aria-label="Add"]`, `[data-testid*="add"]`},
		"email input":    {`input[type="email"]`, `input[name*="email"]`},
		"password input": {`input[type="password"]`},
	}
}

// PatternLibrary 描述 → 选择器列表（按优先级排序）。
// Learn 把胜出的选择器移到首位并截断到上限，最早、最少被强化的条目先被淘汰。
type PatternLibrary struct {
	mu       sync.RWMutex
	patterns map[string][]string
	max      int
}

type patternFile struct {
	Patterns map[string][]string `json:"patterns"`
}

// NewPatternLibrary 创建模式库；seed 中的描述会被归一化，列表按上限截断
func NewPatternLibrary(max int, seed map[string][]string) *PatternLibrary {
	if max <= 0 {
		max = DefaultMaxPatterns
	}
	p := &PatternLibrary{patterns: make(map[string][]string), max: max}
	for desc, sels := range seed {
		p.merge(normalize(desc), sels)
	}
	return p
}

func (p *PatternLibrary) merge(desc string, sels []string) {
	if desc == "" {
		return
	}
	out := p.patterns[desc]
	for _, s := range sels {
		s = strings.TrimSpace(s)
		if s == "" || contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	if len(out) > p.max {
		out = out[:p.max]
	}
	if len(out) > 0 {
		p.patterns[desc] = out
	}
}

// LoadPatternLibrary 从 JSON 文件加载，文件不存在时只使用 seed
func LoadPatternLibrary(path string, max int, seed map[string][]string) (*PatternLibrary, error) {
	p := NewPatternLibrary(max, seed)
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrStore, "read pattern library").WithCause(err)
	}
	var doc patternFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, types.NewError(types.ErrStore, "decode pattern library").WithCause(err)
	}
	// 文件中的学习结果优先于内置模式
	for desc, sels := range doc.Patterns {
		d := normalize(desc)
		existing := p.patterns[d]
		delete(p.patterns, d)
		p.merge(d, append(append([]string(nil), sels...), existing...))
	}
	return p, nil
}

// Save 原子写入 JSON 文件
func (p *PatternLibrary) Save(path string) error {
	data, err := json.MarshalIndent(patternFile{Patterns: p.Patterns()}, "", "  ")
	if err != nil {
		return types.NewError(types.ErrStore, "encode pattern library").WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.NewError(types.ErrStore, "create pattern directory").WithCause(err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return types.NewError(types.ErrStore, "write pattern library").WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return types.NewError(types.ErrStore, "replace pattern library").WithCause(err)
	}
	return nil
}

// Exact 返回与描述完全一致（归一化后）的选择器
func (p *PatternLibrary) Exact(description string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.patterns[normalize(description)]...)
}

// Partial 返回描述与已知描述互为子串的选择器（不含完全一致的条目），
// 已知描述越长越优先，同长按字典序。
func (p *PatternLibrary) Partial(description string) []string {
	d := normalize(description)
	if d == "" {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0)
	for k := range p.patterns {
		if k != d && (strings.Contains(d, k) || strings.Contains(k, d)) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	var out []string
	for _, k := range keys {
		for _, s := range p.patterns[k] {
			if !contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return out
}

// Learn 把 selector 放到首位；已在首位时不做任何修改。返回是否有变化。
func (p *PatternLibrary) Learn(description, selector string) bool {
	d := normalize(description)
	selector = strings.TrimSpace(selector)
	if d == "" || selector == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.patterns[d]
	if len(current) > 0 && current[0] == selector {
		return false
	}
	next := make([]string, 0, len(current)+1)
	next = append(next, selector)
	for _, s := range current {
		if s != selector {
			next = append(next, s)
		}
	}
	if len(next) > p.max {
		next = next[:p.max]
	}
	p.patterns[d] = next
	return true
}

// Patterns 返回副本
func (p *PatternLibrary) Patterns() map[string][]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string][]string, len(p.patterns))
	for k, v := range p.patterns {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Len 返回描述数量
func (p *PatternLibrary) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.patterns)
}

// Max 返回每个描述的上限
func (p *PatternLibrary) Max() int { return p.max }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

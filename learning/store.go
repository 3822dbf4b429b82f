package learning

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/driftguard/types"
)

// Recovery 一次视觉回退恢复的审计记录
type Recovery struct {
	ElementID         types.ElementID `json:"elementId"`
	SuggestedSelector string          `json:"suggestedSelector"`
	Timestamp         time.Time       `json:"timestamp"`
}

// Document 持久化的账本文档，整体读取、整体写入
type Document struct {
	Successes        map[types.ElementID]map[string]int `json:"successes"`
	Failures         map[types.ElementID][]string       `json:"failures"`
	VisualRecoveries []Recovery                         `json:"visualRecoveries"`
}

// NewDocument 返回空文档
func NewDocument() *Document {
	return &Document{
		Successes:        make(map[types.ElementID]map[string]int),
		Failures:         make(map[types.ElementID][]string),
		VisualRecoveries: []Recovery{},
	}
}

// Clone 深拷贝
func (d *Document) Clone() *Document {
	out := NewDocument()
	if d == nil {
		return out
	}
	for id, counts := range d.Successes {
		m := make(map[string]int, len(counts))
		for sel, n := range counts {
			m[sel] = n
		}
		out.Successes[id] = m
	}
	for id, sels := range d.Failures {
		out.Failures[id] = append([]string(nil), sels...)
	}
	out.VisualRecoveries = append(out.VisualRecoveries, d.VisualRecoveries...)
	return out
}

// normalize 补全 nil map 并对失败列表排序去重，保证持久化结果稳定
func (d *Document) normalize() *Document {
	if d.Successes == nil {
		d.Successes = make(map[types.ElementID]map[string]int)
	}
	if d.Failures == nil {
		d.Failures = make(map[types.ElementID][]string)
	}
	if d.VisualRecoveries == nil {
		d.VisualRecoveries = []Recovery{}
	}
	for id, sels := range d.Failures {
		d.Failures[id] = sortedUnique(sels)
	}
	return d
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// Store 账本持久化后端
type Store interface {
	// Name 返回后端名称（memory/file/redis/sql），用于日志与指标
	Name() string

	// Load 读取完整文档；后端中尚无数据时返回空文档而非错误
	Load(ctx context.Context) (*Document, error)

	// Save 整体覆盖写入
	Save(ctx context.Context, doc *Document) error

	// Close 释放连接
	Close() error
}

// MemoryStore 内存后端，用于测试与一次性运行
type MemoryStore struct {
	mu  sync.Mutex
	doc *Document
}

// NewMemoryStore 创建内存后端
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Name 返回后端名称
func (s *MemoryStore) Name() string { return "memory" }

// Load 返回已保存文档的副本
func (s *MemoryStore) Load(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone().normalize(), nil
}

// Save 保存文档副本
func (s *MemoryStore) Save(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc.Clone().normalize()
	return nil
}

// Close 无操作
func (s *MemoryStore) Close() error { return nil }

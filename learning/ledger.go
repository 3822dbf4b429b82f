package learning

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/internal/metrics"
	"github.com/BaSui01/driftguard/types"
)

// DefaultMaxRecoveries 视觉恢复审计日志默认容量
const DefaultMaxRecoveries = 100

// Ledger 进程内共享的学习账本。
//
// 记录每个元素各选择器的成功次数、观察到失败的选择器集合，以及有界的视觉恢复日志。
// 内存中随每次解析更新，只有显式 Flush 时才写入后端；异常退出会丢失最近的增量。
type Ledger struct {
	mu            sync.RWMutex
	successes     map[types.ElementID]map[string]int
	failures      map[types.ElementID]map[string]struct{}
	recoveries    []Recovery
	maxRecoveries int
	// loadErr 非空时后端内容未能读入，Flush 拒绝覆盖
	loadErr error

	store   Store
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// Option 账本选项
type Option func(*Ledger)

// WithMaxRecoveries 设置视觉恢复日志容量（超出时淘汰最旧的记录）
func WithMaxRecoveries(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxRecoveries = n
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(l *Ledger) { l.metrics = c }
}

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger 创建账本；store 为 nil 时使用内存后端
func NewLedger(store Store, opts ...Option) *Ledger {
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Ledger{
		successes:     make(map[types.ElementID]map[string]int),
		failures:      make(map[types.ElementID]map[string]struct{}),
		maxRecoveries: DefaultMaxRecoveries,
		store:         store,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("component", "learning"), zap.String("store", store.Name()))
	return l
}

// Store 返回持久化后端
func (l *Ledger) Store() Store { return l.store }

// Load 从后端读取文档并替换内存状态
func (l *Ledger) Load(ctx context.Context) error {
	doc, err := l.store.Load(ctx)
	if err != nil {
		l.mu.Lock()
		l.loadErr = err
		l.mu.Unlock()
		return err
	}
	l.Restore(doc)
	stats := l.Stats()
	l.logger.Info("learning ledger loaded",
		zap.Int("elements", stats.Elements),
		zap.Int("selectors", stats.Selectors),
		zap.Int("recoveries", stats.Recoveries))
	return nil
}

// Restore 用文档替换内存状态
func (l *Ledger) Restore(doc *Document) {
	doc = doc.Clone().normalize()

	successes := make(map[types.ElementID]map[string]int, len(doc.Successes))
	for id, counts := range doc.Successes {
		m := make(map[string]int, len(counts))
		for sel, n := range counts {
			if n > 0 {
				m[sel] = n
			}
		}
		if len(m) > 0 {
			successes[id] = m
		}
	}
	failures := make(map[types.ElementID]map[string]struct{}, len(doc.Failures))
	for id, sels := range doc.Failures {
		if len(sels) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(sels))
		for _, sel := range sels {
			set[sel] = struct{}{}
		}
		failures[id] = set
	}

	recoveries := doc.VisualRecoveries
	l.mu.Lock()
	defer l.mu.Unlock()
	if over := len(recoveries) - l.maxRecoveries; over > 0 {
		recoveries = recoveries[over:]
	}
	l.successes = successes
	l.failures = failures
	l.recoveries = append([]Recovery(nil), recoveries...)
	l.loadErr = nil
}

// Writable 报告 Flush 是否允许写入后端。最近一次 Load 失败时为 false：
// 此时内存状态不含已持久化的计数，整体写回会抹掉它们。
func (l *Ledger) Writable() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadErr == nil
}

// Flush 将当前快照整体写入后端
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.RLock()
	loadErr := l.loadErr
	l.mu.RUnlock()
	if loadErr != nil {
		return types.NewError(types.ErrStore, "learning ledger was not loaded, refusing to overwrite persisted state").WithCause(loadErr)
	}
	doc := l.Snapshot()
	err := l.store.Save(ctx, doc)
	l.metrics.RecordLedgerFlush(l.store.Name(), err)
	if err != nil {
		l.logger.Error("learning ledger flush failed", zap.Error(err))
		return err
	}
	l.logger.Debug("learning ledger flushed", zap.Int("elements", len(doc.Successes)))
	return nil
}

// RecordSuccess 递增选择器成功计数。
// 成功的选择器同时从失败集合移除：标记恢复后，失败记录不再反映现状。
func (l *Ledger) RecordSuccess(id types.ElementID, selector string) {
	if selector == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := l.successes[id]
	if counts == nil {
		counts = make(map[string]int)
		l.successes[id] = counts
	}
	counts[selector]++
	if set := l.failures[id]; set != nil {
		delete(set, selector)
		if len(set) == 0 {
			delete(l.failures, id)
		}
	}
}

// RecordFailure 记录未能解析的选择器。仅供参考，不会把候选永久排除。
func (l *Ledger) RecordFailure(id types.ElementID, selector string) {
	if selector == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	set := l.failures[id]
	if set == nil {
		set = make(map[string]struct{})
		l.failures[id] = set
	}
	set[selector] = struct{}{}
}

// RecordVisualRecovery 追加视觉恢复审计记录，超出容量时淘汰最旧的记录
func (l *Ledger) RecordVisualRecovery(id types.ElementID, selector string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.recoveries = append(l.recoveries, Recovery{
		ElementID:         id,
		SuggestedSelector: selector,
		Timestamp:         l.now().UTC(),
	})
	if over := len(l.recoveries) - l.maxRecoveries; over > 0 {
		l.recoveries = append([]Recovery(nil), l.recoveries[over:]...)
	}
}

// BestSelector 返回成功次数最多的选择器；次数相同时取字典序最小者
func (l *Ledger) BestSelector(id types.ElementID) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	best, bestCount := "", 0
	for sel, n := range l.successes[id] {
		if n > bestCount || (n == bestCount && sel < best) {
			best, bestCount = sel, n
		}
	}
	return best, bestCount > 0
}

// SuccessCount 返回选择器的成功次数
func (l *Ledger) SuccessCount(id types.ElementID, selector string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.successes[id][selector]
}

// Failed 报告选择器是否在失败集合中
func (l *Ledger) Failed(id types.ElementID, selector string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.failures[id][selector]
	return ok
}

// FailedSelectors 返回元素的失败选择器（排序）
func (l *Ledger) FailedSelectors(id types.ElementID) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.failures[id]))
	for sel := range l.failures[id] {
		out = append(out, sel)
	}
	sort.Strings(out)
	return out
}

// Recoveries 返回视觉恢复日志副本（由旧到新）
func (l *Ledger) Recoveries() []Recovery {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Recovery(nil), l.recoveries...)
}

// Snapshot 返回当前状态的持久化文档
func (l *Ledger) Snapshot() *Document {
	l.mu.RLock()
	defer l.mu.RUnlock()

	doc := NewDocument()
	for id, counts := range l.successes {
		m := make(map[string]int, len(counts))
		for sel, n := range counts {
			m[sel] = n
		}
		doc.Successes[id] = m
	}
	for id, set := range l.failures {
		sels := make([]string, 0, len(set))
		for sel := range set {
			sels = append(sels, sel)
		}
		sort.Strings(sels)
		doc.Failures[id] = sels
	}
	doc.VisualRecoveries = append(doc.VisualRecoveries, l.recoveries...)
	return doc
}

// Stats 账本统计
type Stats struct {
	Elements       int `json:"elements"`
	Selectors      int `json:"selectors"`
	TotalSuccesses int `json:"total_successes"`
	Failures       int `json:"failures"`
	Recoveries     int `json:"recoveries"`
}

// Stats 返回账本统计
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{Elements: len(l.successes), Recoveries: len(l.recoveries)}
	for _, counts := range l.successes {
		s.Selectors += len(counts)
		for _, n := range counts {
			s.TotalSuccesses += n
		}
	}
	for _, set := range l.failures {
		s.Failures += len(set)
	}
	return s
}

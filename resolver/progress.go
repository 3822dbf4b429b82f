package resolver

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/types"
)

// EventKind 进度事件类型
type EventKind string

const (
	EventAttempt   EventKind = "attempt"
	EventMiss      EventKind = "miss"
	EventInvisible EventKind = "invisible"
	EventSkipped   EventKind = "skipped"
	EventSuccess   EventKind = "success"
	EventFailure   EventKind = "failure"
)

// Event 解析过程中的一步
type Event struct {
	ElementID types.ElementID `json:"elementId"`
	Tier      string          `json:"tier"`
	Kind      EventKind       `json:"kind"`
	Selector  string          `json:"selector,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Elapsed   time.Duration   `json:"elapsed"`
}

// ProgressSink 接收解析进度
type ProgressSink interface {
	Emit(Event)
}

// NopSink 丢弃所有事件
type NopSink struct{}

// Emit 实现 ProgressSink
func (NopSink) Emit(Event) {}

// LogSink 把事件写入 zap 日志（Debug 级别，失败为 Warn）
type LogSink struct {
	Logger *zap.Logger
}

// Emit 实现 ProgressSink
func (s LogSink) Emit(e Event) {
	if s.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("element_id", string(e.ElementID)),
		zap.String("tier", e.Tier),
		zap.String("kind", string(e.Kind)),
		zap.Duration("elapsed", e.Elapsed),
	}
	if e.Selector != "" {
		fields = append(fields, zap.String("selector", e.Selector))
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}
	if e.Kind == EventFailure {
		s.Logger.Warn("resolution progress", fields...)
		return
	}
	s.Logger.Debug("resolution progress", fields...)
}

// RecordingSink 记录所有事件，测试用
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

// Emit 实现 ProgressSink
func (s *RecordingSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events 返回事件副本
func (s *RecordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Selectors 返回某类事件涉及的选择器，按发生顺序
func (s *RecordingSink) Selectors(kind EventKind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Kind == kind && e.Selector != "" {
			out = append(out, e.Selector)
		}
	}
	return out
}

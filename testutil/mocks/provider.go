// MockVisionProvider 是 llm.VisionProvider 的脚本化模拟实现。
//
// 响应按入队顺序消费，队列耗尽后返回兜底响应；支持错误注入、延迟与请求记录。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/driftguard/llm"
)

type scriptedReply struct {
	text string
	err  error
}

// MockVisionProvider 是 VisionProvider 的模拟实现
type MockVisionProvider struct {
	mu sync.Mutex

	name     string
	script   []scriptedReply
	fallback scriptedReply
	delay    time.Duration
	handler  func(ctx context.Context, req *llm.VisionRequest) (*llm.VisionResponse, error)

	requests []*llm.VisionRequest
}

var _ llm.VisionProvider = (*MockVisionProvider)(nil)

// NewMockVisionProvider 创建模拟 Provider；默认兜底响应是 "not found"
func NewMockVisionProvider() *MockVisionProvider {
	return &MockVisionProvider{
		name:     "mock",
		fallback: scriptedReply{text: `{"found": false, "confidence": 0}`},
	}
}

// WithName 设置 Provider 名称
func (m *MockVisionProvider) WithName(name string) *MockVisionProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// Then 追加一条文本响应
func (m *MockVisionProvider) Then(text string) *MockVisionProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptedReply{text: text})
	return m
}

// ThenError 追加一次错误
func (m *MockVisionProvider) ThenError(err error) *MockVisionProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptedReply{err: err})
	return m
}

// WithFallback 设置队列耗尽后的文本响应
func (m *MockVisionProvider) WithFallback(text string) *MockVisionProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = scriptedReply{text: text}
	return m
}

// WithError 让队列耗尽后的每次调用都返回 err
func (m *MockVisionProvider) WithError(err error) *MockVisionProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = scriptedReply{err: err}
	return m
}

// WithDelay 设置每次调用的模拟延迟（受 ctx 约束）
func (m *MockVisionProvider) WithDelay(d time.Duration) *MockVisionProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithHandler 用自定义函数处理请求，优先于脚本
func (m *MockVisionProvider) WithHandler(fn func(ctx context.Context, req *llm.VisionRequest) (*llm.VisionResponse, error)) *MockVisionProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
	return m
}

// Name 实现 VisionProvider
func (m *MockVisionProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Analyze 实现 VisionProvider
func (m *MockVisionProvider) Analyze(ctx context.Context, req *llm.VisionRequest) (*llm.VisionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	delay := m.delay
	handler := m.handler
	reply := m.fallback
	if handler == nil && len(m.script) > 0 {
		reply = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if handler != nil {
		return handler(ctx, req)
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &llm.VisionResponse{Text: reply.text, Model: "mock-vision", InputTokens: 100, OutputTokens: 20}, nil
}

// Calls 返回调用次数
func (m *MockVisionProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests 返回所有请求
func (m *MockVisionProvider) Requests() []*llm.VisionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.VisionRequest(nil), m.requests...)
}

// LastRequest 返回最后一次请求，无调用时返回 nil
func (m *MockVisionProvider) LastRequest() *llm.VisionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

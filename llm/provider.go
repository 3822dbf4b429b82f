package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/driftguard/types"
)

// 推理调用点，用于指标与日志标签
const (
	CallSiteLocate  = "locate"
	CallSiteVerify  = "verify_state"
	CallSiteFindAll = "find_all"
	CallSiteCompare = "compare_images"
)

// Image 随请求发送的图片
type Image struct {
	MediaType string `json:"media_type"` // image/png
	Data      []byte `json:"-"`
}

// PNG 构造 PNG 图片
func PNG(data []byte) Image {
	return Image{MediaType: "image/png", Data: data}
}

// VisionRequest 多模态推理请求
type VisionRequest struct {
	CallSite  string  `json:"call_site,omitempty"`
	System    string  `json:"system,omitempty"`
	Prompt    string  `json:"prompt"`
	Images    []Image `json:"images"`
	MaxTokens int     `json:"max_tokens,omitempty"`
}

// VisionResponse 推理响应；Text 是自由文本，不保证只包含 JSON
type VisionResponse struct {
	Text         string        `json:"text"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Latency      time.Duration `json:"latency"`
}

// VisionProvider 视觉推理服务接口
//
// 传输层错误以 *types.Error 返回，429/5xx/529/网络错误标记为可重试。
type VisionProvider interface {
	// Name 返回 Provider 的唯一标识
	Name() string

	// Analyze 发送图片与指令，返回模型的自由文本回复
	Analyze(ctx context.Context, req *VisionRequest) (*VisionResponse, error)
}

// MapHTTPError 将 HTTP 状态码映射为带重试标记的 *types.Error
func MapHTTPError(status int, msg string, provider string) *types.Error {
	var e *types.Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = types.NewError(types.ErrUnauthorized, msg)
	case status == http.StatusTooManyRequests:
		e = types.NewError(types.ErrRateLimited, msg).WithRetryable(true)
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusRequestEntityTooLarge:
		e = types.NewError(types.ErrInvalidRequest, msg)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e = types.NewError(types.ErrUpstreamTimeout, msg).WithRetryable(true)
	case status == 529: // 模型过载
		e = types.NewError(types.ErrUpstreamError, msg).WithRetryable(true)
	default:
		e = types.NewError(types.ErrUpstreamError, msg).WithRetryable(status >= 500)
	}
	return e.WithHTTPStatus(status).WithProvider(provider)
}

// NetworkError 包装传输层错误（连接失败、读响应失败），可重试
func NetworkError(err error, provider string) *types.Error {
	return types.NewError(types.ErrUpstreamError, "inference transport failed").
		WithCause(err).
		WithRetryable(true).
		WithProvider(provider)
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return strings.TrimSpace(string(data))
}

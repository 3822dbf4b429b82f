package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/internal/tlsutil"
	"github.com/BaSui01/driftguard/llm"
	"github.com/BaSui01/driftguard/types"
)

const (
	providerName     = "anthropic"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024
)

// Config Anthropic Provider 配置
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Provider 基于 Anthropic Messages API 的视觉推理实现。
// SDK 自带重试被关闭，重试由 vision.Locator 统一负责（每次重试使用新截图）。
type Provider struct {
	client sdk.Client
	model  string
	logger *zap.Logger
}

// New 创建 Anthropic Provider
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(tlsutil.SecureHTTPClient(timeout)),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client: sdk.NewClient(opts...),
		model:  model,
		logger: logger.With(zap.String("component", "llm"), zap.String("provider", providerName)),
	}
}

// Name 返回 Provider 名称
func (p *Provider) Name() string { return providerName }

// Analyze 发送图片与指令，返回第一段文本回复
func (p *Provider) Analyze(ctx context.Context, req *llm.VisionRequest) (*llm.VisionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	blocks := make([]sdk.ContentBlockParamUnion, 0, len(req.Images)+1)
	for _, img := range req.Images {
		blocks = append(blocks, sdk.NewImageBlockBase64(img.MediaType, base64.StdEncoding.EncodeToString(img.Data)))
	}
	blocks = append(blocks, sdk.NewTextBlock(req.Prompt))

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.mapError(ctx, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	p.logger.Debug("inference completed",
		zap.String("call_site", req.CallSite),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Duration("latency", time.Since(start)))

	return &llm.VisionResponse{
		Text:         text.String(),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		Latency:      time.Since(start),
	}, nil
}

// mapError 将 SDK 错误转换为 *types.Error
func (p *Provider) mapError(ctx context.Context, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		msg := llm.ReadErrorMessage(strings.NewReader(apiErr.RawJSON()))
		if msg == "" {
			msg = "anthropic request failed"
		}
		return llm.MapHTTPError(apiErr.StatusCode, msg, providerName)
	}
	// 调用方取消或超时，保持原始 ctx 错误以便上层判断
	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.NewError(types.ErrUpstreamTimeout, "inference canceled").
			WithCause(ctxErr).
			WithProvider(providerName)
	}
	return llm.NetworkError(err, providerName)
}

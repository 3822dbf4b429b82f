// Package factory builds the configured vision provider. It imports the
// provider sub-packages, breaking the import cycle that would occur if this
// logic lived in the llm package directly.
package factory

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/llm"
	"github.com/BaSui01/driftguard/llm/providers/anthropic"
	"github.com/BaSui01/driftguard/llm/providers/openaicompat"
	"github.com/BaSui01/driftguard/types"
)

// apiKeyEnv 配置未给出 API Key 时回退读取的环境变量
var apiKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// NewProviderFromConfig creates the base provider for cfg.Provider and wraps it
// with rate limiting and instrumentation.
//
// Supported names: anthropic (alias claude), openai.
// recorder may be nil; the result is still traced.
func NewProviderFromConfig(cfg config.LLMConfig, recorder llm.InferenceRecorder, logger *zap.Logger) (llm.VisionProvider, error) {
	base, err := NewBaseProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	limited := llm.NewRateLimitedProvider(base, cfg.RateLimitRPS, cfg.RateLimitBurst)
	return llm.NewInstrumentedProvider(limited, recorder), nil
}

// NewBaseProvider creates the unwrapped provider.
func NewBaseProvider(cfg config.LLMConfig, logger *zap.Logger) (llm.VisionProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "claude" {
		name = "anthropic"
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		if env, ok := apiKeyEnv[name]; ok {
			apiKey = os.Getenv(env)
		}
	}

	switch name {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:  apiKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger), nil

	case "openai":
		return openaicompat.New(openaicompat.Config{
			ProviderName: "openai",
			APIKey:       apiKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		}, logger), nil

	default:
		return nil, types.NewError(types.ErrInvalidConfig, fmt.Sprintf("unknown provider: %q", cfg.Provider))
	}
}

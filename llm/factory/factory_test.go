package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/llm"
	"github.com/BaSui01/driftguard/llm/providers/anthropic"
	"github.com/BaSui01/driftguard/llm/providers/openaicompat"
	"github.com/BaSui01/driftguard/types"
)

// =============================================================================
// Factory Tests
// =============================================================================

func TestNewBaseProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantName string
	}{
		{"anthropic", "anthropic", "anthropic"},
		{"claude alias", "claude", "anthropic"},
		{"case insensitive", " Anthropic ", "anthropic"},
		{"openai", "openai", "openai"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultLLMConfig()
			cfg.Provider = tt.provider
			cfg.APIKey = "sk-test"

			p, err := NewBaseProvider(cfg, zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestNewBaseProvider_ConcreteTypes(t *testing.T) {
	cfg := config.DefaultLLMConfig()

	p, err := NewBaseProvider(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &anthropic.Provider{}, p)

	cfg.Provider = "openai"
	cfg.Model = "gpt-4o-mini"
	cfg.Timeout = 7 * time.Second
	p, err = NewBaseProvider(cfg, nil)
	require.NoError(t, err)
	oa, ok := p.(*openaicompat.Provider)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", oa.Cfg.DefaultModel)
	assert.Equal(t, 7*time.Second, oa.Client.Timeout)
}

func TestNewBaseProvider_APIKeyFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg := config.DefaultLLMConfig()
	cfg.Provider = "openai"
	cfg.APIKey = ""

	p, err := NewBaseProvider(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", p.(*openaicompat.Provider).Cfg.APIKey)
}

func TestNewBaseProvider_Unknown(t *testing.T) {
	cfg := config.DefaultLLMConfig()
	cfg.Provider = "gemini"

	_, err := NewBaseProvider(cfg, nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "gemini")
}

func TestNewProviderFromConfig_Wrapped(t *testing.T) {
	cfg := config.DefaultLLMConfig()
	cfg.APIKey = "sk-test"

	p, err := NewProviderFromConfig(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &llm.InstrumentedProvider{}, p)
	assert.Equal(t, "anthropic", p.Name())

	cfg.Provider = "nope"
	_, err = NewProviderFromConfig(cfg, nil, nil)
	assert.Error(t, err)
}

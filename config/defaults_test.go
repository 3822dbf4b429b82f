package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, BrowserConfig{}, cfg.Browser)
	assert.NotEqual(t, ResolverConfig{}, cfg.Resolver)
	assert.NotEqual(t, VisionConfig{}, cfg.Vision)
	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, SemanticConfig{}, cfg.Semantic)
	assert.NotEqual(t, LearningConfig{}, cfg.Learning)
	assert.NotEqual(t, BaselineConfig{}, cfg.Baseline)
	assert.NotEqual(t, CandidatesConfig{}, cfg.Candidates)
	assert.NotEqual(t, MetricsConfig{}, cfg.Metrics)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

// --- Individual Default*Config functions ---

func TestDefaultResolverConfig(t *testing.T) {
	cfg := DefaultResolverConfig()
	assert.Equal(t, 15*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 5*time.Second, cfg.MaxPerCandidate)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 0.7, cfg.VisualConfidence)
	assert.True(t, cfg.AllowVisualFallback)
	assert.True(t, cfg.RequireVisible)
	assert.Less(t, cfg.VisualMinBudget, cfg.VisualReserve)
}

func TestDefaultVisionConfig(t *testing.T) {
	cfg := DefaultVisionConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 0.7, cfg.MinConfidence)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout)
	assert.Equal(t, float64(200), cfg.ScrollMargin)
}

func TestDefaultLearningConfig(t *testing.T) {
	cfg := DefaultLearningConfig()
	assert.Equal(t, "file", cfg.Store)
	assert.Equal(t, 100, cfg.MaxRecoveries)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Redis.Enabled)
}

func TestDefaultBaselineConfig(t *testing.T) {
	cfg := DefaultBaselineConfig()
	assert.Equal(t, 0.95, cfg.SimilarityThreshold)
	assert.True(t, cfg.UseAI)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, []string{"stderr"}, cfg.OutputPaths)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "driftguard", cfg.ServiceName)
	assert.Equal(t, 0.1, cfg.SampleRate)
}

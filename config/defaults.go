// =============================================================================
// 📦 DriftGuard 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Browser:    DefaultBrowserConfig(),
		Resolver:   DefaultResolverConfig(),
		Vision:     DefaultVisionConfig(),
		LLM:        DefaultLLMConfig(),
		Semantic:   DefaultSemanticConfig(),
		Learning:   DefaultLearningConfig(),
		Baseline:   DefaultBaselineConfig(),
		Candidates: DefaultCandidatesConfig(),
		Log:        DefaultLogConfig(),
		Metrics:    DefaultMetricsConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultBrowserConfig 返回默认浏览器配置
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:       true,
		Timeout:        30 * time.Second,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
	}
}

// DefaultResolverConfig 返回默认解析配置
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		DefaultTimeout:      15 * time.Second,
		MaxPerCandidate:     5 * time.Second,
		MinPerCandidate:     250 * time.Millisecond,
		PollInterval:        100 * time.Millisecond,
		VisualReserve:       8 * time.Second,
		VisualMinBudget:     3 * time.Second,
		VisualConfidence:    0.7,
		AllowVisualFallback: true,
		RequireVisible:      true,
		ExistsTimeout:       2 * time.Second,
		PromoteRecovered:    true,
	}
}

// DefaultVisionConfig 返回默认视觉定位配置
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		MinConfidence: 0.7,
		MaxAttempts:   3,
		CallTimeout:   30 * time.Second,
		RetryDelay:    750 * time.Millisecond,
		ScrollMargin:  200,
		FullPage:      false,
		MaxTokens:     1024,
	}
}

// DefaultLLMConfig 返回默认推理服务配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:       "anthropic",
		Model:          "claude-sonnet-4-20250514",
		Timeout:        60 * time.Second,
		RateLimitRPS:   2,
		RateLimitBurst: 4,
	}
}

// DefaultSemanticConfig 返回默认语义查找配置
func DefaultSemanticConfig() SemanticConfig {
	return SemanticConfig{
		CacheTTL:    5 * time.Minute,
		CacheSize:   256,
		MaxPatterns: 5,
		Redis:       DefaultRedisConfig("driftguard:semantic:"),
	}
}

// DefaultLearningConfig 返回默认学习账本配置
func DefaultLearningConfig() LearningConfig {
	return LearningConfig{
		Store:         "file",
		Path:          "data/learning.json",
		MaxRecoveries: 100,
		Redis:         DefaultRedisConfig("driftguard:learning:"),
		Database:      DefaultDatabaseConfig(),
	}
}

// DefaultBaselineConfig 返回默认基线配置
func DefaultBaselineConfig() BaselineConfig {
	return BaselineConfig{
		Dir:                 "data/baselines",
		SimilarityThreshold: 0.95,
		UseAI:               true,
		PixelTolerance:      16,
	}
}

// DefaultCandidatesConfig 返回默认候选集配置
func DefaultCandidatesConfig() CandidatesConfig {
	return CandidatesConfig{
		Path:          "elements.yaml",
		WatchInterval: time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig(keyPrefix string) RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		DB:        0,
		KeyPrefix: keyPrefix,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:  "sqlite",
		Host:    "localhost",
		Port:    5432,
		User:    "driftguard",
		Name:    "data/driftguard.db",
		SSLMode: "disable",

		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Addr:      ":9091",
		Namespace: "driftguard",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "driftguard",
		SampleRate:   0.1,
	}
}

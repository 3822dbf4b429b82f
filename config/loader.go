// =============================================================================
// 📦 DriftGuard 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("driftguard.yaml").
//	    WithEnvPrefix("DRIFTGUARD").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 DriftGuard 的完整配置结构
type Config struct {
	// Browser 浏览器驱动配置
	Browser BrowserConfig `yaml:"browser" env:"BROWSER"`

	// Resolver 元素解析配置
	Resolver ResolverConfig `yaml:"resolver" env:"RESOLVER"`

	// Vision 视觉定位配置
	Vision VisionConfig `yaml:"vision" env:"VISION"`

	// LLM 推理服务配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Semantic 语义缓存与模式库配置
	Semantic SemanticConfig `yaml:"semantic" env:"SEMANTIC"`

	// Learning 学习账本配置
	Learning LearningConfig `yaml:"learning" env:"LEARNING"`

	// Baseline 页面基线配置
	Baseline BaselineConfig `yaml:"baseline" env:"BASELINE"`

	// Candidates 元素候选集配置
	Candidates CandidatesConfig `yaml:"candidates" env:"CANDIDATES"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	// 是否无头模式
	Headless bool `yaml:"headless" env:"HEADLESS"`
	// 导航超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 视口宽度
	ViewportWidth int `yaml:"viewport_width" env:"VIEWPORT_WIDTH"`
	// 视口高度
	ViewportHeight int `yaml:"viewport_height" env:"VIEWPORT_HEIGHT"`
	// 自定义 UserAgent
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`
	// 代理地址
	ProxyURL string `yaml:"proxy_url" env:"PROXY_URL"`
	// 远程 DevTools 地址（为空则本地启动 Chrome）
	RemoteURL string `yaml:"remote_url" env:"REMOTE_URL"`
}

// ResolverConfig 元素解析配置
type ResolverConfig struct {
	// 单次解析的默认总预算
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// 单个候选的预算上限
	MaxPerCandidate time.Duration `yaml:"max_per_candidate" env:"MAX_PER_CANDIDATE"`
	// 单个候选的预算下限（低于该值则跳过）
	MinPerCandidate time.Duration `yaml:"min_per_candidate" env:"MIN_PER_CANDIDATE"`
	// DOM 轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// 为视觉层预留的预算
	VisualReserve time.Duration `yaml:"visual_reserve" env:"VISUAL_RESERVE"`
	// 视觉层启动所需最小预算
	VisualMinBudget time.Duration `yaml:"visual_min_budget" env:"VISUAL_MIN_BUDGET"`
	// 视觉结果置信度下限
	VisualConfidence float64 `yaml:"visual_confidence" env:"VISUAL_CONFIDENCE"`
	// 默认是否允许视觉回退
	AllowVisualFallback bool `yaml:"allow_visual_fallback" env:"ALLOW_VISUAL_FALLBACK"`
	// 默认是否要求元素可见
	RequireVisible bool `yaml:"require_visible" env:"REQUIRE_VISIBLE"`
	// ElementExists 的探测预算
	ExistsTimeout time.Duration `yaml:"exists_timeout" env:"EXISTS_TIMEOUT"`
	// 视觉恢复成功后是否提升候选优先级
	PromoteRecovered bool `yaml:"promote_recovered" env:"PROMOTE_RECOVERED"`
}

// VisionConfig 视觉定位配置
type VisionConfig struct {
	// 接受结果的置信度下限
	MinConfidence float64 `yaml:"min_confidence" env:"MIN_CONFIDENCE"`
	// 最大尝试次数（每次重新截图）
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 单次推理调用超时
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	// 重试间隔
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 滚动时距视口边缘的留白
	ScrollMargin float64 `yaml:"scroll_margin" env:"SCROLL_MARGIN"`
	// 默认是否整页截图
	FullPage bool `yaml:"full_page" env:"FULL_PAGE"`
	// 推理响应最大 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// LLMConfig 推理服务配置
type LLMConfig struct {
	// Provider: anthropic, openai
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 传输层超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 每秒请求上限（0 表示不限）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发上限
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// SemanticConfig 语义查找配置
type SemanticConfig struct {
	// 缓存 TTL
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// 本地缓存最大条目数
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
	// 每个描述保留的模式数
	MaxPatterns int `yaml:"max_patterns" env:"MAX_PATTERNS"`
	// 模式库文件路径（为空则不持久化）
	PatternsPath string `yaml:"patterns_path" env:"PATTERNS_PATH"`
	// 共享缓存（Redis）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// LearningConfig 学习账本配置
type LearningConfig struct {
	// 存储类型: memory, file, redis, sql
	Store string `yaml:"store" env:"STORE"`
	// 文件存储路径
	Path string `yaml:"path" env:"PATH"`
	// 视觉恢复审计日志上限
	MaxRecoveries int `yaml:"max_recoveries" env:"MAX_RECOVERIES"`
	// Redis 存储配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// SQL 存储配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
}

// BaselineConfig 基线配置
type BaselineConfig struct {
	// 基线目录
	Dir string `yaml:"dir" env:"DIR"`
	// 相似度阈值
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	// 是否使用 AI 对比
	UseAI bool `yaml:"use_ai" env:"USE_AI"`
	// 像素对比容差（0-255 通道差）
	PixelTolerance int `yaml:"pixel_tolerance" env:"PIXEL_TOLERANCE"`
}

// CandidatesConfig 元素候选集配置
type CandidatesConfig struct {
	// 候选集 YAML 文件路径
	Path string `yaml:"path" env:"PATH"`
	// WatchInterval 长驻模式下检查文件变化的间隔
	WatchInterval time.Duration `yaml:"watch_interval" env:"WATCH_INTERVAL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 启用 TLS 连接
	TLS bool `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大打开连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接数
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用 /metrics 端点
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "DRIFTGUARD",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	inUnit := func(v float64) bool { return v >= 0 && v <= 1 }

	if c.Resolver.DefaultTimeout <= 0 {
		errs = append(errs, "resolver.default_timeout must be positive")
	}
	if c.Resolver.MaxPerCandidate <= 0 {
		errs = append(errs, "resolver.max_per_candidate must be positive")
	}
	if c.Resolver.MinPerCandidate > c.Resolver.MaxPerCandidate {
		errs = append(errs, "resolver.min_per_candidate must not exceed max_per_candidate")
	}
	if !inUnit(c.Resolver.VisualConfidence) {
		errs = append(errs, "resolver.visual_confidence must be between 0 and 1")
	}
	if !inUnit(c.Vision.MinConfidence) {
		errs = append(errs, "vision.min_confidence must be between 0 and 1")
	}
	if c.Vision.MaxAttempts <= 0 {
		errs = append(errs, "vision.max_attempts must be positive")
	}
	if !inUnit(c.Baseline.SimilarityThreshold) {
		errs = append(errs, "baseline.similarity_threshold must be between 0 and 1")
	}

	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Sprintf("unknown llm.provider %q", c.LLM.Provider))
	}

	switch c.Learning.Store {
	case "memory", "file", "redis", "sql":
	default:
		errs = append(errs, fmt.Sprintf("unknown learning.store %q", c.Learning.Store))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

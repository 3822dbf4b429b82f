// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 15*time.Second, cfg.Resolver.DefaultTimeout)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "driftguard.yaml")

	yamlContent := `
browser:
  headless: false
  viewport_width: 1280

resolver:
  default_timeout: 20s
  poll_interval: 50ms
  require_visible: false

vision:
  max_attempts: 5
  min_confidence: 0.8

learning:
  store: redis
  redis:
    addr: "redis.example.com:6379"
    password: "secret"
    db: 2

log:
  level: "debug"
  output_paths: ["stdout"]
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
	assert.Equal(t, 1080, cfg.Browser.ViewportHeight)

	assert.Equal(t, 20*time.Second, cfg.Resolver.DefaultTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Resolver.PollInterval)
	assert.False(t, cfg.Resolver.RequireVisible)
	// 未在 YAML 中出现的值保持默认
	assert.Equal(t, 5*time.Second, cfg.Resolver.MaxPerCandidate)

	assert.Equal(t, 5, cfg.Vision.MaxAttempts)
	assert.Equal(t, 0.8, cfg.Vision.MinConfidence)

	assert.Equal(t, "redis", cfg.Learning.Store)
	assert.Equal(t, "redis.example.com:6379", cfg.Learning.Redis.Addr)
	assert.Equal(t, "secret", cfg.Learning.Redis.Password)
	assert.Equal(t, 2, cfg.Learning.Redis.DB)
	assert.Equal(t, "driftguard:learning:", cfg.Learning.Redis.KeyPrefix)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"stdout"}, cfg.Log.OutputPaths)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("DRIFTGUARD_RESOLVER_DEFAULT_TIMEOUT", "9s")
	t.Setenv("DRIFTGUARD_RESOLVER_ALLOW_VISUAL_FALLBACK", "false")
	t.Setenv("DRIFTGUARD_VISION_MIN_CONFIDENCE", "0.55")
	t.Setenv("DRIFTGUARD_LLM_API_KEY", "sk-test")
	t.Setenv("DRIFTGUARD_LEARNING_DATABASE_DRIVER", "postgres")
	t.Setenv("DRIFTGUARD_LOG_OUTPUT_PATHS", "stdout, /tmp/driftguard.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9*time.Second, cfg.Resolver.DefaultTimeout)
	assert.False(t, cfg.Resolver.AllowVisualFallback)
	assert.Equal(t, 0.55, cfg.Vision.MinConfidence)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "postgres", cfg.Learning.Database.Driver)
	assert.Equal(t, []string{"stdout", "/tmp/driftguard.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "driftguard.yaml")

	yamlContent := `
llm:
  model: "yaml-model"
  base_url: "https://yaml.example.com"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("DRIFTGUARD_LLM_MODEL", "env-model")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 环境变量应该覆盖 YAML
	assert.Equal(t, "env-model", cfg.LLM.Model)
	// YAML 值应该保留
	assert.Equal(t, "https://yaml.example.com", cfg.LLM.BaseURL)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_BASELINE_DIR", "/srv/golden")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/golden", cfg.Baseline.Dir)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("DRIFTGUARD_RESOLVER_POLL_INTERVAL", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DRIFTGUARD_RESOLVER_POLL_INTERVAL")
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")).
		Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Vision, cfg.Vision)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("DRIFTGUARD_LLM_PROVIDER", "gemini")

	_, err := NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "non-positive timeout",
			mutate:  func(c *Config) { c.Resolver.DefaultTimeout = 0 },
			wantErr: "resolver.default_timeout",
		},
		{
			name: "min above max per candidate",
			mutate: func(c *Config) {
				c.Resolver.MinPerCandidate = 10 * time.Second
				c.Resolver.MaxPerCandidate = time.Second
			},
			wantErr: "min_per_candidate",
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *Config) { c.Vision.MinConfidence = 1.5 },
			wantErr: "vision.min_confidence",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Baseline.SimilarityThreshold = -0.1 },
			wantErr: "baseline.similarity_threshold",
		},
		{
			name:    "unknown learning store",
			mutate:  func(c *Config) { c.Learning.Store = "etcd" },
			wantErr: "learning.store",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "dg", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=dg sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "dg"}
	assert.Equal(t, "u:p@tcp(db:3306)/dg?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "/tmp/dg.db"}
	assert.Equal(t, "/tmp/dg.db", lite.DSN())

	assert.Empty(t, (&DatabaseConfig{Driver: "oracle"}).DSN())
}

func TestMustLoad_PanicsOnBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("resolver: [unclosed"), 0644))

	assert.Panics(t, func() { MustLoad(path) })
}

package main

import (
	"context"
	"flag"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/baseline"
	"github.com/BaSui01/driftguard/browser"
	"github.com/BaSui01/driftguard/candidates"
	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/internal/metrics"
	"github.com/BaSui01/driftguard/internal/server"
	"github.com/BaSui01/driftguard/internal/telemetry"
	"github.com/BaSui01/driftguard/learning"
	"github.com/BaSui01/driftguard/llm"
	"github.com/BaSui01/driftguard/llm/factory"
	"github.com/BaSui01/driftguard/resolver"
	"github.com/BaSui01/driftguard/semantic"
	"github.com/BaSui01/driftguard/vision"
)

// commonFlags 所有命令共用的参数
type commonFlags struct {
	configPath string
	url        string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to config file")
	fs.StringVar(&c.url, "url", "", "Page to open before running the command")
}

// app 一次命令运行所需的全部组件
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	otel    *telemetry.Providers
	metrics *metrics.Collector
	server  *server.Manager

	driver   browser.Driver
	provider llm.VisionProvider
	locator  *vision.Locator
	store    *candidates.Store
	ledger   *learning.Ledger
	cache    *semantic.Cache
	finder   *semantic.Finder
	resolver *resolver.Resolver
}

// appNeeds 控制按需初始化，避免不需要浏览器/推理的命令启动 Chrome
type appNeeds struct {
	browser   bool
	inference bool
	resolver  bool
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(ctx context.Context, flags commonFlags, needs appNeeds) (*app, error) {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: initLogger(cfg.Log)}
	a.logger.Debug("starting driftguard",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit))

	if a.otel, err = telemetry.Init(cfg.Telemetry, a.logger); err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	if cfg.Metrics.Enabled {
		a.startMetrics()
	}

	if needs.browser {
		d, err := browser.NewChromeDPDriver(cfg.Browser, a.logger)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.driver = d
		if flags.url != "" {
			if err := d.Navigate(ctx, flags.url); err != nil {
				a.close(ctx)
				return nil, err
			}
		}
	}
	if needs.inference {
		p, err := factory.NewProviderFromConfig(cfg.LLM, a.metrics, a.logger)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.provider = p
		if a.driver != nil {
			a.locator = vision.NewLocator(a.driver, p, cfg.Vision, vision.WithLogger(a.logger))
		}
	}
	if needs.resolver {
		if err := a.initResolution(ctx); err != nil {
			a.close(ctx)
			return nil, err
		}
	}
	return a, nil
}

func (a *app) startMetrics() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	a.metrics = metrics.NewCollector(a.cfg.Metrics.Namespace, reg, a.logger)

	a.server = server.NewMetricsManager(reg, server.DefaultConfig(a.cfg.Metrics.Addr), a.logger)
	if err := a.server.Start(); err != nil {
		// 指标端口不可用不影响命令本身
		a.logger.Warn("metrics endpoint unavailable", zap.Error(err))
		a.server = nil
	}
}

// initResolution 候选集、账本、语义查找与解析器
func (a *app) initResolution(ctx context.Context) error {
	cfg := a.cfg
	store, err := candidates.LoadFile(cfg.Candidates.Path, a.logger)
	if err != nil {
		return err
	}
	a.store = store

	backend, err := learning.NewStore(ctx, cfg.Learning, a.logger)
	if err != nil {
		return err
	}
	a.ledger = learning.NewLedger(backend,
		learning.WithMaxRecoveries(cfg.Learning.MaxRecoveries),
		learning.WithLogger(a.logger),
		learning.WithMetrics(a.metrics))
	if err := a.ledger.Load(ctx); err != nil {
		a.logger.Warn("learning ledger not loaded, running without persisting new learning", zap.Error(err))
	}

	if a.cache, err = semantic.NewCacheFromConfig(ctx, cfg.Semantic, a.logger, a.metrics); err != nil {
		a.logger.Warn("shared semantic cache unavailable, using local cache only", zap.Error(err))
		a.cache = semantic.NewCache(semantic.CacheOptions{
			Size:    cfg.Semantic.CacheSize,
			TTL:     cfg.Semantic.CacheTTL,
			Logger:  a.logger,
			Metrics: a.metrics,
		})
	}
	library := semantic.NewPatternLibrary(cfg.Semantic.MaxPatterns, semantic.DefaultPatterns())
	if cfg.Semantic.PatternsPath != "" {
		if library, err = semantic.LoadPatternLibrary(cfg.Semantic.PatternsPath, cfg.Semantic.MaxPatterns, semantic.DefaultPatterns()); err != nil {
			return err
		}
	}

	// 解析器内的语义层不带视觉兜底：视觉层由解析器自己负责
	a.finder = semantic.NewFinder(a.driver, library, a.cache,
		semantic.WithLogger(a.logger),
		semantic.WithMetrics(a.metrics))

	opts := []resolver.Option{
		resolver.WithSemanticFinder(a.finder),
		resolver.WithProgressSink(resolver.LogSink{Logger: a.logger}),
		resolver.WithLogger(a.logger),
		resolver.WithMetrics(a.metrics),
	}
	if a.locator != nil {
		opts = append(opts, resolver.WithVisualLocator(a.locator))
	}
	a.resolver = resolver.New(a.driver, store, a.ledger, cfg.Resolver, opts...)
	return nil
}

func (a *app) comparator() (*baseline.Comparator, error) {
	store, err := baseline.OpenStore(a.cfg.Baseline.Dir)
	if err != nil {
		return nil, err
	}
	opts := []baseline.Option{
		baseline.WithLogger(a.logger),
		baseline.WithMetrics(a.metrics),
	}
	if a.locator != nil {
		opts = append(opts, baseline.WithImageComparer(a.locator))
	}
	return baseline.NewComparator(a.driver, store, a.cfg.Baseline, opts...), nil
}

// close 落盘学习状态并释放资源；账本与模式库只在这里和显式保存时写出
func (a *app) close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if a.ledger != nil {
		if !a.ledger.Writable() {
			a.logger.Warn("learning ledger was not loaded, leaving persisted state untouched")
		} else if err := a.ledger.Flush(shutdownCtx); err != nil {
			a.logger.Error("failed to flush learning ledger", zap.Error(err))
		}
		if err := a.ledger.Store().Close(); err != nil {
			a.logger.Warn("failed to close ledger store", zap.Error(err))
		}
	}
	if a.finder != nil && a.cfg.Semantic.PatternsPath != "" {
		if err := a.finder.Library().Save(a.cfg.Semantic.PatternsPath); err != nil {
			a.logger.Error("failed to save pattern library", zap.Error(err))
		}
	}
	if a.store != nil && a.store.Dirty() {
		if err := a.store.Save(a.cfg.Candidates.Path); err != nil {
			a.logger.Error("failed to save promoted candidates", zap.Error(err))
		}
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.driver != nil {
		if err := a.driver.Close(); err != nil {
			a.logger.Warn("failed to close browser", zap.Error(err))
		}
	}
	if a.server != nil {
		_ = a.server.Shutdown(shutdownCtx)
	}
	if err := a.otel.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

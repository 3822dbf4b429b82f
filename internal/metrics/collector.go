// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有记录方法都允许 nil 接收者，未启用指标时直接传 nil。
type Collector struct {
	// 解析指标
	resolutionsTotal   *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	tierMisses         *prometheus.CounterVec
	visualRecoveries   prometheus.Counter

	// 推理指标
	inferenceTotal    *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	inferenceTokens   *prometheus.CounterVec

	// 语义查找与缓存指标
	semanticMatches *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec

	// 基线与账本指标
	baselineComparisons *prometheus.CounterVec
	ledgerFlushes       *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器；reg 为 nil 时注册到 prometheus.DefaultRegisterer
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 解析指标
	c.resolutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Total number of element resolutions by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	c.resolutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_duration_seconds",
			Help:      "Element resolution duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"method"},
	)

	c.tierMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_misses_total",
			Help:      "Total number of resolution tier misses",
		},
		[]string{"tier"},
	)

	c.visualRecoveries = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visual_recoveries_total",
			Help:      "Total number of visual recoveries that produced a reusable selector",
		},
	)

	// 推理指标
	c.inferenceTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Total number of inference requests",
		},
		[]string{"provider", "call_site", "status"},
	)

	c.inferenceDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Inference request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "call_site"},
	)

	c.inferenceTokens = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_tokens_total",
			Help:      "Total number of inference tokens used",
		},
		[]string{"provider", "type"}, // type: input, output
	)

	// 语义查找与缓存指标
	c.semanticMatches = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semantic_matches_total",
			Help:      "Total number of semantic lookups by matching source",
		},
		[]string{"source"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 基线与账本指标
	c.baselineComparisons = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "baseline_comparisons_total",
			Help:      "Total number of baseline comparisons by path and automation impact",
		},
		[]string{"path", "impact"},
	)

	c.ledgerFlushes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_flushes_total",
			Help:      "Total number of learning ledger flushes",
		},
		[]string{"store", "status"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 解析指标记录
// =============================================================================

// RecordResolution 记录一次解析；method 为空表示失败
func (c *Collector) RecordResolution(method string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	if method == "" {
		method = "none"
	}
	c.resolutionsTotal.WithLabelValues(method, outcome(success)).Inc()
	c.resolutionDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordTierMiss 记录某一层未命中
func (c *Collector) RecordTierMiss(tier string) {
	if c == nil {
		return
	}
	c.tierMisses.WithLabelValues(tier).Inc()
}

// RecordVisualRecovery 记录一次产出可复用选择器的视觉恢复
func (c *Collector) RecordVisualRecovery() {
	if c == nil {
		return
	}
	c.visualRecoveries.Inc()
}

// =============================================================================
// 🤖 推理指标记录
// =============================================================================

// RecordInference 记录推理请求
func (c *Collector) RecordInference(provider, callSite, status string, duration time.Duration, inputTokens, outputTokens int) {
	if c == nil {
		return
	}
	if callSite == "" {
		callSite = "unknown"
	}
	c.inferenceTotal.WithLabelValues(provider, callSite, status).Inc()
	c.inferenceDuration.WithLabelValues(provider, callSite).Observe(duration.Seconds())
	c.inferenceTokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	c.inferenceTokens.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

// =============================================================================
// 💾 语义查找与缓存指标记录
// =============================================================================

// RecordSemanticMatch 记录语义查找命中来源（cache/exact/partial/heuristic/visual/none）
func (c *Collector) RecordSemanticMatch(source string) {
	if c == nil {
		return
	}
	c.semanticMatches.WithLabelValues(source).Inc()
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🖼️ 基线与账本指标记录
// =============================================================================

// RecordBaselineComparison 记录基线对比；path 为 hash/ai/pixel
func (c *Collector) RecordBaselineComparison(path, impact string) {
	if c == nil {
		return
	}
	c.baselineComparisons.WithLabelValues(path, impact).Inc()
}

// RecordLedgerFlush 记录账本落盘
func (c *Collector) RecordLedgerFlush(store string, err error) {
	if c == nil {
		return
	}
	c.ledgerFlushes.WithLabelValues(store, outcome(err == nil)).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Package metrics provides internal metrics collection for the knowledge core.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器
type Collector struct {
	// 检索指标
	searchesTotal   *prometheus.CounterVec
	searchDuration  *prometheus.HistogramVec
	searchResults   *prometheus.HistogramVec
	rerankFallbacks prometheus.Counter

	// 训练指标
	trainingRunsTotal  *prometheus.CounterVec
	trainingDuration   prometheus.Histogram
	documentsProcessed *prometheus.CounterVec
	chunksIndexed      prometheus.Counter

	// 嵌入指标
	embeddingCallsTotal *prometheus.CounterVec
	embeddingBatchSize  prometheus.Histogram

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of knowledge base searches",
		},
		[]string{"method", "status"},
	)

	c.searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	c.searchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of chunks returned per search",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"method"},
	)

	c.rerankFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_fallbacks_total",
			Help:      "Searches that fell back to the pre-rerank ordering",
		},
	)

	c.trainingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Total number of knowledge base training runs",
		},
		[]string{"status"},
	)

	c.trainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Training run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	c.documentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Documents processed during training",
		},
		[]string{"status"},
	)

	c.chunksIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks written to the index",
		},
	)

	c.embeddingCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_calls_total",
			Help:      "Calls issued to the embedding provider",
		},
		[]string{"provider", "status"},
	)

	c.embeddingBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_batch_size",
			Help:      "Texts per embedding provider call",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200},
		},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by cache kind",
		},
		[]string{"cache"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses by cache kind",
		},
		[]string{"cache"},
	)

	return c
}

// RecordSearch 记录一次检索
func (c *Collector) RecordSearch(method, status string, duration time.Duration, results int) {
	c.searchesTotal.WithLabelValues(method, status).Inc()
	c.searchDuration.WithLabelValues(method).Observe(duration.Seconds())
	c.searchResults.WithLabelValues(method).Observe(float64(results))
}

// RecordRerankFallback 记录一次重排回退
func (c *Collector) RecordRerankFallback() {
	c.rerankFallbacks.Inc()
}

// RecordTrainingRun 记录一次训练
func (c *Collector) RecordTrainingRun(status string, duration time.Duration) {
	c.trainingRunsTotal.WithLabelValues(status).Inc()
	c.trainingDuration.Observe(duration.Seconds())
}

// RecordDocument 记录一个训练文档的结果
func (c *Collector) RecordDocument(status string) {
	c.documentsProcessed.WithLabelValues(status).Inc()
}

// RecordChunksIndexed 记录写入索引的块数
func (c *Collector) RecordChunksIndexed(n int) {
	c.chunksIndexed.Add(float64(n))
}

// RecordEmbeddingCall 记录一次嵌入提供者调用
func (c *Collector) RecordEmbeddingCall(provider, status string, batchSize int) {
	c.embeddingCallsTotal.WithLabelValues(provider, status).Inc()
	c.embeddingBatchSize.Observe(float64(batchSize))
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cache string) {
	c.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cache string) {
	c.cacheMisses.WithLabelValues(cache).Inc()
}

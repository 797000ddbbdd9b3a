package embedding

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/types"
)

// 缓存 TTL: 文档向量近似不可变, 查询向量跟随查询分布.
const (
	DocumentTTL = 7 * 24 * time.Hour
	QueryTTL    = 24 * time.Hour
)

// Cache 是嵌入缓存依赖的最小键值接口, 由 internal/cache.Manager 满足.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// missFunc 判定缓存错误是否为未命中.
type missFunc func(error) bool

// CachedConfig 带缓存嵌入器的配置.
type CachedConfig struct {
	// RateLimit 每秒允许的提供者调用数, 0 表示不限流
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// RateBurst 限流突发容量
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
}

// DefaultCachedConfig 返回默认配置.
func DefaultCachedConfig() CachedConfig {
	return CachedConfig{RateLimit: 10, RateBurst: 20}
}

// CachedEmbedder 在提供者之上加内容寻址缓存与限流.
// 所有返回向量均已单位化, 下游点积即余弦相似度.
type CachedEmbedder struct {
	provider Provider
	cache    Cache
	isMiss   missFunc
	limiter  *rate.Limiter
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewCachedEmbedder 创建带缓存的嵌入器.
// cache 可为 nil, 此时每次调用都走提供者; isMiss 区分未命中与缓存故障.
func NewCachedEmbedder(provider Provider, cache Cache, isMiss func(error) bool, cfg CachedConfig, collector *metrics.Collector, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if isMiss == nil {
		isMiss = func(error) bool { return true }
	}
	return &CachedEmbedder{
		provider: provider,
		cache:    cache,
		isMiss:   isMiss,
		limiter:  limiter,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "embedder")),
	}
}

// Provider 返回底层提供者.
func (e *CachedEmbedder) Provider() Provider { return e.provider }

// cacheKey 内容寻址: 同文本同模型恒同键, 与知识库无关.
func (e *CachedEmbedder) cacheKey(text string) string {
	sum := md5.Sum([]byte(text))
	return fmt.Sprintf("emb:%s:%s:%s", e.provider.Name(), e.provider.Model(), hex.EncodeToString(sum[:]))
}

// EmbedDocuments 批量嵌入文档文本.
// 逐条查缓存, 全部未命中文本合并为对提供者的最少调用;
// 任一调用失败则整批失败, 不返回部分结果.
func (e *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float64, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if vec, ok := e.lookup(ctx, text); ok {
			result[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	vectors, err := e.embedBatch(ctx, missTexts, InputTypeDocument)
	if err != nil {
		return nil, err
	}

	for j, vec := range vectors {
		result[missIdx[j]] = vec
		e.save(ctx, missTexts[j], vec, DocumentTTL)
	}
	return result, nil
}

// EmbedQuery 嵌入单个查询文本.
func (e *CachedEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	if vec, ok := e.lookup(ctx, query); ok {
		return vec, nil
	}

	vectors, err := e.embedBatch(ctx, []string{query}, InputTypeQuery)
	if err != nil {
		return nil, err
	}
	e.save(ctx, query, vectors[0], QueryTTL)
	return vectors[0], nil
}

// lookup 查缓存; 缓存故障按未命中处理并记日志, 不阻断嵌入.
func (e *CachedEmbedder) lookup(ctx context.Context, text string) ([]float64, bool) {
	if e.cache == nil {
		return nil, false
	}
	var vec []float64
	err := e.cache.GetJSON(ctx, e.cacheKey(text), &vec)
	if err == nil && len(vec) > 0 {
		if e.metrics != nil {
			e.metrics.RecordCacheHit("embedding")
		}
		return vec, true
	}
	if err != nil && !e.isMiss(err) {
		e.logger.Warn("embedding cache read failed", zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.RecordCacheMiss("embedding")
	}
	return nil, false
}

// save 写缓存, 失败只记日志.
func (e *CachedEmbedder) save(ctx context.Context, text string, vec []float64, ttl time.Duration) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetJSON(ctx, e.cacheKey(text), vec, ttl); err != nil {
		e.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}

// embedBatch 调用提供者并单位化结果. 超过 MaxBatchSize 时按批切分,
// 任一批失败整体失败.
func (e *CachedEmbedder) embedBatch(ctx context.Context, texts []string, inputType InputType) ([][]float64, error) {
	maxBatch := e.provider.MaxBatchSize()
	if maxBatch <= 0 {
		maxBatch = len(texts)
	}

	vectors := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := start + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, types.NewEmbeddingError("rate limit wait interrupted", err)
			}
		}

		resp, err := e.provider.Embed(ctx, &EmbeddingRequest{
			Input:     batch,
			InputType: inputType,
		})
		if err != nil {
			if e.metrics != nil {
				e.metrics.RecordEmbeddingCall(e.provider.Name(), "error", len(batch))
			}
			return nil, types.NewEmbeddingError(
				fmt.Sprintf("provider %s failed for batch of %d", e.provider.Name(), len(batch)), err)
		}
		if e.metrics != nil {
			e.metrics.RecordEmbeddingCall(e.provider.Name(), "ok", len(batch))
		}

		if len(resp.Embeddings) != len(batch) {
			return nil, types.NewEmbeddingError(
				fmt.Sprintf("provider %s returned %d embeddings for %d inputs",
					e.provider.Name(), len(resp.Embeddings), len(batch)), nil)
		}

		for _, data := range resp.Embeddings {
			vectors = append(vectors, Normalize(data.Embedding))
		}
	}
	return vectors, nil
}

// Normalize 返回单位化副本; 零向量原样返回.
func Normalize(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

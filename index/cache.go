package index

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/types"
)

// ResultTTL 索引检索结果的缓存时长.
const ResultTTL = time.Hour

// KVCache 结果缓存依赖的最小键值接口, 由 internal/cache.Manager 满足.
type KVCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// ResultCache 向量索引检索结果的 cache-aside 包装.
// 键带知识库前缀, 内容变更后按前缀整体失效.
type ResultCache struct {
	cache  KVCache
	isMiss func(error) bool
	logger *zap.Logger
}

// NewResultCache 创建结果缓存. cache 可为 nil(不缓存).
func NewResultCache(cache KVCache, isMiss func(error) bool, logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if isMiss == nil {
		isMiss = func(error) bool { return true }
	}
	return &ResultCache{
		cache:  cache,
		isMiss: isMiss,
		logger: logger.With(zap.String("component", "index_cache")),
	}
}

// prefix 知识库范围的键前缀, InvalidateAll 按它删除.
func (c *ResultCache) prefix(kbID string) string {
	return fmt.Sprintf("idx:%s:", kbID)
}

// Key 确定性、抗碰撞的缓存键: 查询文本哈希 + 知识库 id + topK.
func (c *ResultCache) Key(kbID, query string, topK int) string {
	sum := md5.Sum([]byte(query))
	return fmt.Sprintf("%s%s:%d", c.prefix(kbID), hex.EncodeToString(sum[:]), topK)
}

// Get 读缓存; 未命中或缓存故障返回 false.
func (c *ResultCache) Get(ctx context.Context, key string) ([]types.ScoredChunk, bool) {
	if c.cache == nil {
		return nil, false
	}
	var results []types.ScoredChunk
	err := c.cache.GetJSON(ctx, key, &results)
	if err == nil {
		return results, true
	}
	if !c.isMiss(err) {
		c.logger.Warn("index cache read failed", zap.Error(err))
	}
	return nil, false
}

// Set 写缓存, 失败只记日志.
func (c *ResultCache) Set(ctx context.Context, key string, results []types.ScoredChunk) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetJSON(ctx, key, results, ResultTTL); err != nil {
		c.logger.Warn("index cache write failed", zap.Error(err))
	}
}

// InvalidateAll 按知识库前缀整体失效.
// 任何文档/块变更之后必须调用, 粗粒度删除而非逐键.
func (c *ResultCache) InvalidateAll(ctx context.Context, kbID string) {
	if c.cache == nil {
		return
	}
	deleted, err := c.cache.DeleteByPrefix(ctx, c.prefix(kbID))
	if err != nil {
		c.logger.Warn("index cache invalidation failed",
			zap.String("knowledge_base_id", kbID), zap.Error(err))
		return
	}
	c.logger.Debug("index cache invalidated",
		zap.String("knowledge_base_id", kbID), zap.Int64("deleted", deleted))
}

package retrieval

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/types"
)

// ResultTTL 查询结果的缓存时长.
const ResultTTL = time.Hour

// KVCache 查询缓存依赖的最小键值接口, 由 internal/cache.Manager 满足.
type KVCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// QueryCache 检索结果的 cache-aside 包装.
// 键由知识库 id、查询哈希、方法、topK 与重排参数拼成,
// 不同检索配置绝不碰撞; 知识库内容变更后按前缀整体失效.
type QueryCache struct {
	cache  KVCache
	isMiss func(error) bool
	logger *zap.Logger
}

// NewQueryCache 创建查询缓存. cache 可为 nil(不缓存).
func NewQueryCache(cache KVCache, isMiss func(error) bool, logger *zap.Logger) *QueryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if isMiss == nil {
		isMiss = func(error) bool { return true }
	}
	return &QueryCache{
		cache:  cache,
		isMiss: isMiss,
		logger: logger.With(zap.String("component", "query_cache")),
	}
}

func (c *QueryCache) prefix(kbID string) string {
	return fmt.Sprintf("q:%s:", kbID)
}

// Key 确定性缓存键, 见 searchKey.
func (c *QueryCache) Key(kbID, query string, method types.SearchMethod, topK int, opts RerankOptions) string {
	return searchKey(kbID, query, method, topK, opts)
}

// searchKey 由完整检索参数元组派生确定性键: 知识库 id、查询哈希、
// 方法、topK 与全部重排参数. 查询缓存与并发合并共用同一个键,
// 配置不同的请求绝不碰撞.
func searchKey(kbID, query string, method types.SearchMethod, topK int, opts RerankOptions) string {
	sum := md5.Sum([]byte(query))
	key := fmt.Sprintf("q:%s:%s:%s:%d:%t",
		kbID, hex.EncodeToString(sum[:]), method, topK, opts.Enabled)
	if opts.Enabled {
		key += fmt.Sprintf(":%s:%g:%d", opts.Mode, opts.ScoreThreshold, opts.TopN)
	}
	return key
}

// Get 读缓存; 未命中或缓存故障返回 false.
func (c *QueryCache) Get(ctx context.Context, key string) ([]types.ScoredChunk, bool) {
	if c.cache == nil {
		return nil, false
	}
	var results []types.ScoredChunk
	err := c.cache.GetJSON(ctx, key, &results)
	if err == nil {
		return results, true
	}
	if !c.isMiss(err) {
		c.logger.Warn("query cache read failed", zap.Error(err))
	}
	return nil, false
}

// Set 写缓存, 失败只记日志.
func (c *QueryCache) Set(ctx context.Context, key string, results []types.ScoredChunk) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetJSON(ctx, key, results, ResultTTL); err != nil {
		c.logger.Warn("query cache write failed", zap.Error(err))
	}
}

// InvalidateAll 按知识库前缀整体失效.
func (c *QueryCache) InvalidateAll(ctx context.Context, kbID string) {
	if c.cache == nil {
		return
	}
	deleted, err := c.cache.DeleteByPrefix(ctx, c.prefix(kbID))
	if err != nil {
		c.logger.Warn("query cache invalidation failed",
			zap.String("knowledge_base_id", kbID), zap.Error(err))
		return
	}
	c.logger.Debug("query cache invalidated",
		zap.String("knowledge_base_id", kbID), zap.Int64("deleted", deleted))
}

package retrieval

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/knowledgeflow/index"
	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/types"
)

// RerankMode 重排策略选择.
type RerankMode string

const (
	RerankModel    RerankMode = "model"
	RerankWeighted RerankMode = "weighted"
)

// RerankOptions 检索请求携带的重排参数.
type RerankOptions struct {
	Enabled        bool       `json:"enabled"`
	Mode           RerankMode `json:"mode,omitempty"`
	ScoreThreshold float64    `json:"score_threshold,omitempty"`
	TopN           int        `json:"top_n,omitempty"`
}

// Config 检索引擎配置.
type Config struct {
	// SemanticWeight 混合检索语义分支权重
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	// KeywordWeight 混合检索关键词分支权重
	KeywordWeight float64 `yaml:"keyword_weight" json:"keyword_weight"`
	// BranchTimeout 混合检索单分支超时
	BranchTimeout time.Duration `yaml:"branch_timeout" json:"branch_timeout"`
}

// DefaultConfig 返回默认引擎配置(0.7/0.3 融合权重).
func DefaultConfig() Config {
	return Config{
		SemanticWeight: 0.7,
		KeywordWeight:  0.3,
		BranchTimeout:  10 * time.Second,
	}
}

// Engine 检索引擎: semantic/keyword/hybrid 三种方法,
// 结果经查询缓存, Search 对调用方从不抛错.
type Engine struct {
	cfg        Config
	store      *store.Store
	processors *index.Factory
	cache      *QueryCache
	weighted   Reranker
	model      Reranker
	metrics    *metrics.Collector
	logger     *zap.Logger
	sf         singleflight.Group
}

// NewEngine 创建检索引擎. cache 与两个重排器均可为 nil.
func NewEngine(cfg Config, st *store.Store, processors *index.Factory, cache *QueryCache, weighted, model Reranker, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SemanticWeight == 0 && cfg.KeywordWeight == 0 {
		cfg.SemanticWeight = 0.7
		cfg.KeywordWeight = 0.3
	}
	if cfg.BranchTimeout <= 0 {
		cfg.BranchTimeout = 10 * time.Second
	}
	return &Engine{
		cfg:        cfg,
		store:      st,
		processors: processors,
		cache:      cache,
		weighted:   weighted,
		model:      model,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "retrieval_engine")),
	}
}

// Search 检索知识库. 总体失败返回空列表而非错误,
// 部分失败(混合检索单分支)返回尽力而为的结果.
func (e *Engine) Search(ctx context.Context, kbID, query string, method types.SearchMethod, topK int, opts RerankOptions) []types.ScoredChunk {
	start := time.Now()

	results, err := e.search(ctx, kbID, query, method, topK, opts)
	status := "ok"
	if err != nil {
		status = "error"
		e.logger.Warn("search failed, returning empty results",
			zap.String("knowledge_base_id", kbID),
			zap.String("method", string(method)),
			zap.Error(err))
		results = nil
	}

	if e.metrics != nil {
		e.metrics.RecordSearch(string(method), status, time.Since(start), len(results))
	}
	return results
}

func (e *Engine) search(ctx context.Context, kbID, query string, method types.SearchMethod, topK int, opts RerankOptions) ([]types.ScoredChunk, error) {
	if topK <= 0 || query == "" {
		return nil, nil
	}

	// 键覆盖完整参数元组, 不依赖缓存是否可用
	key := searchKey(kbID, query, method, topK, opts)
	if e.cache != nil {
		if results, ok := e.cache.Get(ctx, key); ok {
			if e.metrics != nil {
				e.metrics.RecordCacheHit("query")
			}
			return results, nil
		}
		if e.metrics != nil {
			e.metrics.RecordCacheMiss("query")
		}
	}

	// 同键并发请求合并为一次计算
	v, err, _ := e.sf.Do(key, func() (any, error) {
		return e.execute(ctx, kbID, query, method, topK, opts)
	})
	if err != nil {
		return nil, err
	}
	results := v.([]types.ScoredChunk)

	if e.cache != nil {
		e.cache.Set(ctx, key, results)
	}
	return results, nil
}

func (e *Engine) execute(ctx context.Context, kbID, query string, method types.SearchMethod, topK int, opts RerankOptions) ([]types.ScoredChunk, error) {
	kb, err := e.store.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, types.NewRetrievalError("load knowledge base "+kbID, err)
	}

	var results []types.ScoredChunk
	switch method {
	case types.SearchKeyword:
		// keyword 方法无视知识库配置, 强制关键词索引
		results, err = e.processors.Keyword().Retrieve(ctx, kb, query, topK)
	case types.SearchHybrid:
		results, err = e.hybrid(ctx, kb, query, topK)
	default:
		results, err = e.processors.For(kb).Retrieve(ctx, kb, query, topK)
	}
	if err != nil {
		return nil, err
	}

	if opts.Enabled {
		results = e.rerank(ctx, query, results, topK, opts)
	}

	return truncate(results, topK), nil
}

// rerank 重排失败从不使整次检索失败: 回退到重排前顺序.
func (e *Engine) rerank(ctx context.Context, query string, results []types.ScoredChunk, topK int, opts RerankOptions) []types.ScoredChunk {
	var reranker Reranker
	if opts.Mode == RerankModel {
		reranker = e.model
	} else {
		reranker = e.weighted
	}
	if reranker == nil {
		return results
	}

	topN := opts.TopN
	if topN <= 0 {
		topN = topK
	}

	reranked, err := reranker.Run(ctx, query, results, opts.ScoreThreshold, topN)
	if err != nil {
		e.logger.Warn("rerank failed, falling back to pre-rerank ordering",
			zap.String("mode", string(opts.Mode)),
			zap.Error(err))
		if e.metrics != nil {
			e.metrics.RecordRerankFallback()
		}
		return dedupByDocID(results)
	}
	return reranked
}

type branchResult struct {
	chunks []types.ScoredChunk
	err    error
}

// hybrid 并发执行语义与关键词分支, 单分支失败被容忍,
// 双分支失败整次失败. 每个分支受 BranchTimeout 约束.
func (e *Engine) hybrid(ctx context.Context, kb *store.KnowledgeBase, query string, topK int) ([]types.ScoredChunk, error) {
	branchCtx, cancel := context.WithTimeout(ctx, e.cfg.BranchTimeout)
	defer cancel()

	semCh := make(chan branchResult, 1)
	kwCh := make(chan branchResult, 1)

	go func() {
		chunks, err := e.processors.For(kb).Retrieve(branchCtx, kb, query, topK)
		semCh <- branchResult{chunks, err}
	}()
	go func() {
		chunks, err := e.processors.Keyword().Retrieve(branchCtx, kb, query, topK)
		kwCh <- branchResult{chunks, err}
	}()

	sem := <-semCh
	kw := <-kwCh

	if sem.err != nil && kw.err != nil {
		return nil, types.NewRetrievalError("both hybrid branches failed", sem.err)
	}
	if sem.err != nil {
		e.logger.Warn("semantic branch failed, keyword-only results", zap.Error(sem.err))
	}
	if kw.err != nil {
		e.logger.Warn("keyword branch failed, semantic-only results", zap.Error(kw.err))
	}

	return e.fuse(sem.chunks, kw.chunks), nil
}

// fuse 按 doc_id 合并两路结果:
// fused = semantic_weight×semantic + keyword_weight×keyword, 缺失侧记 0.
func (e *Engine) fuse(semantic, keyword []types.ScoredChunk) []types.ScoredChunk {
	type entry struct {
		chunk        types.Chunk
		semScore     float64
		keywordScore float64
	}

	merged := make(map[string]*entry, len(semantic)+len(keyword))
	var order []string

	for _, c := range semantic {
		id := c.Chunk.DocID
		if _, ok := merged[id]; !ok {
			merged[id] = &entry{chunk: c.Chunk}
			order = append(order, id)
		}
		merged[id].semScore = c.Score
	}
	for _, c := range keyword {
		id := c.Chunk.DocID
		if _, ok := merged[id]; !ok {
			merged[id] = &entry{chunk: c.Chunk}
			order = append(order, id)
		}
		merged[id].keywordScore = c.Score
	}

	out := make([]types.ScoredChunk, 0, len(merged))
	for _, id := range order {
		en := merged[id]
		out = append(out, types.ScoredChunk{
			Chunk:        en.chunk,
			Score:        e.cfg.SemanticWeight*en.semScore + e.cfg.KeywordWeight*en.keywordScore,
			VectorScore:  en.semScore,
			KeywordScore: en.keywordScore,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Package retrieval 实现检索引擎、分数融合与两种重排策略.
package retrieval

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/embedding"
	"github.com/BaSui01/knowledgeflow/index"
	"github.com/BaSui01/knowledgeflow/rerank"
	"github.com/BaSui01/knowledgeflow/types"
)

// Reranker 重排策略: 先按 doc_id 去重(保留首次出现), 再重新打分排序.
type Reranker interface {
	Run(ctx context.Context, query string, chunks []types.ScoredChunk, scoreThreshold float64, topN int) ([]types.ScoredChunk, error)
}

// dedupByDocID 按 doc_id 去重, 保留首次出现.
func dedupByDocID(chunks []types.ScoredChunk) []types.ScoredChunk {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]types.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.Chunk.DocID]; ok {
			continue
		}
		seen[c.Chunk.DocID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func truncate(chunks []types.ScoredChunk, topN int) []types.ScoredChunk {
	if topN > 0 && topN < len(chunks) {
		return chunks[:topN]
	}
	return chunks
}

// ===== 加权重排 (BM25 + 余弦) =====

// WeightedConfig 加权重排配置.
type WeightedConfig struct {
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`
	KeywordWeight float64 `yaml:"keyword_weight" json:"keyword_weight"`
	K1            float64 `yaml:"k1" json:"k1"`
	B             float64 `yaml:"b" json:"b"`
}

// DefaultWeightedConfig 返回默认权重 0.7/0.3 与标准 BM25 参数.
func DefaultWeightedConfig() WeightedConfig {
	return WeightedConfig{
		VectorWeight:  0.7,
		KeywordWeight: 0.3,
		K1:            defaultK1,
		B:             defaultB,
	}
}

// WeightedReranker 加权重排: BM25 词法分与余弦语义分的线性组合.
type WeightedReranker struct {
	cfg      WeightedConfig
	embedder *embedding.CachedEmbedder
	logger   *zap.Logger
}

// NewWeightedReranker 创建加权重排器.
func NewWeightedReranker(cfg WeightedConfig, embedder *embedding.CachedEmbedder, logger *zap.Logger) *WeightedReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VectorWeight == 0 && cfg.KeywordWeight == 0 {
		cfg = DefaultWeightedConfig()
	}
	if cfg.K1 == 0 {
		cfg.K1 = defaultK1
	}
	if cfg.B == 0 {
		cfg.B = defaultB
	}
	return &WeightedReranker{
		cfg:      cfg,
		embedder: embedder,
		logger:   logger.With(zap.String("component", "weighted_reranker")),
	}
}

// Run 重新打分: final = vector_weight×cosine + keyword_weight×bm25.
// 低于 scoreThreshold 的块被丢弃.
func (r *WeightedReranker) Run(ctx context.Context, query string, chunks []types.ScoredChunk, scoreThreshold float64, topN int) ([]types.ScoredChunk, error) {
	chunks = dedupByDocID(chunks)
	if len(chunks) == 0 {
		return chunks, nil
	}

	queryTerms := index.Tokenize(query)
	docs := make([][]string, len(chunks))
	for i, c := range chunks {
		docs[i] = index.Tokenize(c.Chunk.Content)
	}
	keywordScores := bm25Scores(queryTerms, docs, r.cfg.K1, r.cfg.B)

	vectorScores, err := r.vectorScores(ctx, query, chunks)
	if err != nil {
		return nil, err
	}

	out := make([]types.ScoredChunk, 0, len(chunks))
	for i, c := range chunks {
		final := r.cfg.VectorWeight*vectorScores[i] + r.cfg.KeywordWeight*keywordScores[i]
		if final < scoreThreshold {
			continue
		}
		c.Score = final
		c.VectorScore = vectorScores[i]
		c.KeywordScore = keywordScores[i]
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return truncate(out, topN), nil
}

// vectorScores 计算查询与每个块的余弦相似度,
// 缺向量的块按需一次批量补嵌入.
func (r *WeightedReranker) vectorScores(ctx context.Context, query string, chunks []types.ScoredChunk) ([]float64, error) {
	queryVec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, types.NewRerankError("embed query", err)
	}

	var missTexts []string
	var missIdx []int
	embeddings := make([][]float64, len(chunks))
	for i, c := range chunks {
		if len(c.Chunk.Embedding) > 0 {
			embeddings[i] = c.Chunk.Embedding
			continue
		}
		missTexts = append(missTexts, c.Chunk.Content)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) > 0 {
		vectors, err := r.embedder.EmbedDocuments(ctx, missTexts)
		if err != nil {
			return nil, types.NewRerankError("embed chunks", err)
		}
		for j, i := range missIdx {
			embeddings[i] = vectors[j]
		}
	}

	scores := make([]float64, len(chunks))
	for i, vec := range embeddings {
		scores[i] = cosine(queryVec, vec)
	}
	return scores, nil
}

// cosine 余弦相似度; 零向量或维度不一致返回 0.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ===== 模型重排 =====

// ModelReranker 委托外部重排模型打分.
// 模型失败时回退为原始(去重后)输入, 从不向调用方抛错.
type ModelReranker struct {
	provider rerank.Provider
	logger   *zap.Logger
}

// NewModelReranker 创建模型重排器.
func NewModelReranker(provider rerank.Provider, logger *zap.Logger) *ModelReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelReranker{
		provider: provider,
		logger:   logger.With(zap.String("component", "model_reranker")),
	}
}

// Run 调用重排模型; 失败时返回去重后的原始顺序作为安全回退.
func (r *ModelReranker) Run(ctx context.Context, query string, chunks []types.ScoredChunk, scoreThreshold float64, topN int) ([]types.ScoredChunk, error) {
	chunks = dedupByDocID(chunks)
	if len(chunks) == 0 || r.provider == nil {
		return truncate(chunks, topN), nil
	}

	docs := make([]rerank.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = rerank.Document{Text: c.Chunk.Content, ID: c.Chunk.DocID}
	}

	resp, err := r.provider.Rerank(ctx, &rerank.RerankRequest{
		Query:     query,
		Documents: docs,
		TopN:      topN,
	})
	if err != nil {
		r.logger.Warn("rerank model failed, falling back to original order",
			zap.Error(err))
		return truncate(chunks, topN), nil
	}

	out := make([]types.ScoredChunk, 0, len(resp.Results))
	for _, res := range resp.Results {
		if res.Index < 0 || res.Index >= len(chunks) {
			continue
		}
		if res.RelevanceScore < scoreThreshold {
			continue
		}
		c := chunks[res.Index]
		c.Score = res.RelevanceScore
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return truncate(out, topN), nil
}

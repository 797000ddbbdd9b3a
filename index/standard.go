package index

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/embedding"
	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/splitter"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/types"
	"github.com/BaSui01/knowledgeflow/vectorstore"
)

// StandardProcessor 高质量索引: 块嵌入后写入知识库专属的向量集合,
// doc_id 范围幂等覆盖, 变更后按知识库前缀失效结果缓存.
type StandardProcessor struct {
	extractor Extractor
	splitter  splitter.Splitter
	embedder  *embedding.CachedEmbedder
	vectors   *vectorstore.Factory
	store     *store.Store
	cache     *ResultCache
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewStandardProcessor 创建向量索引处理器.
func NewStandardProcessor(
	extractor Extractor,
	sp splitter.Splitter,
	embedder *embedding.CachedEmbedder,
	vectors *vectorstore.Factory,
	st *store.Store,
	cache *ResultCache,
	collector *metrics.Collector,
	logger *zap.Logger,
) *StandardProcessor {
	if extractor == nil {
		extractor = PlainTextExtractor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StandardProcessor{
		extractor: extractor,
		splitter:  sp,
		embedder:  embedder,
		vectors:   vectors,
		store:     st,
		cache:     cache,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "vector_index")),
	}
}

// Extract 取出纯文本并盖上知识库元数据.
func (p *StandardProcessor) Extract(ctx context.Context, kb *store.KnowledgeBase, doc store.Document) ([]types.Chunk, error) {
	return extractDocument(ctx, p.extractor, kb, doc)
}

// Transform 清洗、分块、分配序号.
func (p *StandardProcessor) Transform(_ context.Context, kb *store.KnowledgeBase, chunks []types.Chunk) ([]types.Chunk, error) {
	return transformChunks(kb, chunks, p.splitter)
}

// Load 嵌入缺向量的块, 按 doc_id 幂等写入向量存储,
// 持久化块行, 最后失效该知识库的结果缓存.
func (p *StandardProcessor) Load(ctx context.Context, kb *store.KnowledgeBase, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	chunks, err := p.ensureEmbeddings(ctx, chunks)
	if err != nil {
		return err
	}

	vs, err := p.vectors.ForKnowledgeBase(kb.ID)
	if err != nil {
		return err
	}

	docs := make([]vectorstore.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = vectorstore.Document{
			ID:        c.DocID,
			Content:   c.Content,
			Metadata:  c.Metadata,
			Embedding: c.Embedding,
		}
	}
	if err := vs.AddDocuments(ctx, docs); err != nil {
		return types.NewIndexingError("upsert vectors", err)
	}

	if err := p.store.InsertChunks(ctx, chunks); err != nil {
		return types.NewIndexingError("persist chunks", err)
	}

	if p.metrics != nil {
		p.metrics.RecordChunksIndexed(len(chunks))
	}
	if p.cache != nil {
		p.cache.InvalidateAll(ctx, kb.ID)
	}

	p.logger.Debug("chunks loaded into vector index",
		zap.String("knowledge_base_id", kb.ID),
		zap.Int("count", len(chunks)))
	return nil
}

// ensureEmbeddings 为缺向量的块补嵌入, 一次批量调用覆盖全部缺失.
func (p *StandardProcessor) ensureEmbeddings(ctx context.Context, chunks []types.Chunk) ([]types.Chunk, error) {
	var missTexts []string
	var missIdx []int
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			missTexts = append(missTexts, c.Content)
			missIdx = append(missIdx, i)
		}
	}
	if len(missTexts) == 0 {
		return chunks, nil
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	out := make([]types.Chunk, len(chunks))
	copy(out, chunks)
	for j, i := range missIdx {
		out[i].Embedding = vectors[j]
	}
	return out, nil
}

// Clean 删除索引内容并失效缓存; documentIDs 为 nil 时整库清空(含集合).
func (p *StandardProcessor) Clean(ctx context.Context, kb *store.KnowledgeBase, documentIDs []string) error {
	vs, err := p.vectors.ForKnowledgeBase(kb.ID)
	if err != nil {
		return err
	}

	if documentIDs == nil {
		if err := vs.Drop(ctx); err != nil {
			return types.NewIndexingError("drop vector collection", err)
		}
		if err := p.store.DeleteChunksByKnowledgeBase(ctx, kb.ID); err != nil {
			return types.NewIndexingError("clean chunks", err)
		}
	} else {
		for _, docID := range documentIDs {
			if err := vs.DeleteByMetadata(ctx, types.MetaDocumentID, docID); err != nil {
				return types.NewIndexingError("delete vectors for document "+docID, err)
			}
			if err := p.store.DeleteChunksByDocument(ctx, docID); err != nil {
				return types.NewIndexingError("clean chunks for document "+docID, err)
			}
		}
	}

	if p.cache != nil {
		p.cache.InvalidateAll(ctx, kb.ID)
	}
	return nil
}

// Retrieve 嵌入查询并做向量检索, 结果经知识库前缀缓存.
func (p *StandardProcessor) Retrieve(ctx context.Context, kb *store.KnowledgeBase, query string, topK int) ([]types.ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}

	var key string
	if p.cache != nil {
		key = p.cache.Key(kb.ID, query, topK)
		if results, ok := p.cache.Get(ctx, key); ok {
			if p.metrics != nil {
				p.metrics.RecordCacheHit("index")
			}
			return results, nil
		}
		if p.metrics != nil {
			p.metrics.RecordCacheMiss("index")
		}
	}

	vector, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, types.NewRetrievalError("embed query", err)
	}

	vs, err := p.vectors.ForKnowledgeBase(kb.ID)
	if err != nil {
		return nil, err
	}

	hits, err := vs.SearchByVector(ctx, vector, topK)
	if err != nil {
		return nil, types.NewRetrievalError("vector search", err)
	}

	results := p.toScoredChunks(ctx, kb, hits)
	if p.cache != nil {
		p.cache.Set(ctx, key, results)
	}
	return results, nil
}

// toScoredChunks 优先用关系库里的权威块行还原结果,
// 行缺失时回退到向量存储 payload.
func (p *StandardProcessor) toScoredChunks(ctx context.Context, kb *store.KnowledgeBase, hits []vectorstore.SearchResult) []types.ScoredChunk {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Document.ID
	}

	byID := make(map[string]types.Chunk)
	if rows, err := p.store.GetChunksByDocIDs(ctx, ids); err == nil {
		for _, c := range rows {
			byID[c.DocID] = c
		}
	} else {
		p.logger.Warn("chunk row lookup failed, using vector payload",
			zap.Error(err))
	}

	results := make([]types.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		chunk, ok := byID[h.Document.ID]
		if !ok {
			chunk = types.Chunk{
				DocID:           h.Document.ID,
				KnowledgeBaseID: kb.ID,
				Content:         h.Document.Content,
				Metadata:        h.Document.Metadata,
			}
		}
		results = append(results, types.ScoredChunk{
			Chunk:       chunk,
			Score:       h.Score,
			VectorScore: h.Score,
		})
	}
	return results
}

package index

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/splitter"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/types"
)

// KeywordProcessor 经济型索引: 不依赖外部向量存储,
// 分块时提取关键词集合, 块与关键词持久化在关系库.
type KeywordProcessor struct {
	extractor Extractor
	splitter  splitter.Splitter
	store     *store.Store
	logger    *zap.Logger
}

// NewKeywordProcessor 创建关键词索引处理器.
func NewKeywordProcessor(extractor Extractor, sp splitter.Splitter, st *store.Store, logger *zap.Logger) *KeywordProcessor {
	if extractor == nil {
		extractor = PlainTextExtractor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordProcessor{
		extractor: extractor,
		splitter:  sp,
		store:     st,
		logger:    logger.With(zap.String("component", "keyword_index")),
	}
}

// Extract 取出纯文本并盖上知识库元数据.
func (p *KeywordProcessor) Extract(ctx context.Context, kb *store.KnowledgeBase, doc store.Document) ([]types.Chunk, error) {
	return extractDocument(ctx, p.extractor, kb, doc)
}

// Transform 清洗、分块、分配序号, 并在此阶段提取关键词.
func (p *KeywordProcessor) Transform(_ context.Context, kb *store.KnowledgeBase, chunks []types.Chunk) ([]types.Chunk, error) {
	out, err := transformChunks(kb, chunks, p.splitter)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Keywords = ExtractKeywords(out[i].Content)
	}
	return out, nil
}

// Load 持久化块行(含关键词).
func (p *KeywordProcessor) Load(ctx context.Context, _ *store.KnowledgeBase, chunks []types.Chunk) error {
	if err := p.store.InsertChunks(ctx, chunks); err != nil {
		return types.NewIndexingError("persist keyword chunks", err)
	}
	p.logger.Debug("keyword chunks loaded", zap.Int("count", len(chunks)))
	return nil
}

// Clean 删除块行; documentIDs 为 nil 时清空整个知识库.
func (p *KeywordProcessor) Clean(ctx context.Context, kb *store.KnowledgeBase, documentIDs []string) error {
	if documentIDs == nil {
		if err := p.store.DeleteChunksByKnowledgeBase(ctx, kb.ID); err != nil {
			return types.NewIndexingError("clean keyword index", err)
		}
		return nil
	}
	for _, docID := range documentIDs {
		if err := p.store.DeleteChunksByDocument(ctx, docID); err != nil {
			return types.NewIndexingError("clean keyword index for document "+docID, err)
		}
	}
	return nil
}

// Retrieve 词频加权检索: 查询分词后匹配含任一关键词的块.
func (p *KeywordProcessor) Retrieve(ctx context.Context, kb *store.KnowledgeBase, query string, topK int) ([]types.ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryKeywords := ExtractKeywords(query)
	if len(queryKeywords) == 0 {
		return nil, nil
	}

	chunks, err := p.store.ListChunksByKnowledgeBase(ctx, kb.ID)
	if err != nil {
		return nil, types.NewRetrievalError("keyword retrieve", err)
	}

	var scored []types.ScoredChunk
	for _, chunk := range chunks {
		score := keywordScore(queryKeywords, Tokenize(chunk.Content))
		if score <= 0 {
			continue
		}
		scored = append(scored, types.ScoredChunk{
			Chunk:        chunk,
			Score:        score,
			KeywordScore: score,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, nil
}

// ===== 两个处理器共用的提取/变换逻辑 =====

// extractDocument 调用外部提取器并封装初始块.
func extractDocument(ctx context.Context, extractor Extractor, kb *store.KnowledgeBase, doc store.Document) ([]types.Chunk, error) {
	text, err := extractor.Extract(ctx, doc)
	if err != nil {
		if types.CodeOf(err) != "" {
			return nil, err
		}
		return nil, types.NewDocumentProcessingError("extract",
			"extract document "+doc.ID, err)
	}

	chunk := types.Chunk{
		DocumentID:      doc.ID,
		KnowledgeBaseID: kb.ID,
		Content:         text,
		Metadata: map[string]any{
			types.MetaDocumentID:      doc.ID,
			types.MetaKnowledgeBaseID: kb.ID,
		},
	}
	return []types.Chunk{chunk}, nil
}

// transformChunks 清洗文本并分块, 序号在文档内 0 起始单调递增.
func transformChunks(kb *store.KnowledgeBase, chunks []types.Chunk, sp splitter.Splitter) ([]types.Chunk, error) {
	var out []types.Chunk
	next := 0

	for _, chunk := range chunks {
		cleaned := CleanText(chunk.Content)
		if cleaned == "" {
			continue
		}

		for _, piece := range sp.Split(cleaned) {
			docID := uuid.NewString()
			out = append(out, types.Chunk{
				DocID:           docID,
				DocumentID:      chunk.DocumentID,
				KnowledgeBaseID: kb.ID,
				Index:           next,
				Content:         piece,
				Length:          splitter.RuneCount(piece),
				Metadata: map[string]any{
					types.MetaDocID:           docID,
					types.MetaDocumentID:      chunk.DocumentID,
					types.MetaChunkIndex:      next,
					types.MetaKnowledgeBaseID: kb.ID,
				},
			})
			next++
		}
	}

	if len(out) == 0 {
		return nil, types.NewDocumentProcessingError("split",
			"no chunks produced from document content", nil)
	}
	return out, nil
}

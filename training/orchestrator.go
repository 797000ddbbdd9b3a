// Package training 实现知识库训练编排:
// 逐文档 extract → transform → 替换块 → 批量嵌入 → 持久化 → 入索引,
// 文档级失败隔离, 训练状态机由关系存储仲裁(集群级单飞).
package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/embedding"
	"github.com/BaSui01/knowledgeflow/index"
	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/retrieval"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/types"
)

// ErrSlotUnavailable 另一个知识库正在训练, 本次启动被拒绝.
var ErrSlotUnavailable = errors.New("training slot unavailable: another training is running")

// TrainingResult 一次训练的汇总结果.
type TrainingResult struct {
	Success        bool   `json:"success"`
	DocumentCount  int    `json:"document_count"`
	ChunkCount     int    `json:"chunk_count"`
	EmbeddingCount int    `json:"embedding_count"`
	Error          string `json:"error,omitempty"`
}

// QueueStatus 训练队列快照.
type QueueStatus struct {
	Training []string `json:"training"`
	Queue    []string `json:"queue"`
}

// Orchestrator 训练编排器.
type Orchestrator struct {
	store      *store.Store
	processors *index.Factory
	embedder   *embedding.CachedEmbedder
	queryCache *retrieval.QueryCache
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewOrchestrator 创建训练编排器. queryCache 与 collector 可为 nil.
func NewOrchestrator(st *store.Store, processors *index.Factory, embedder *embedding.CachedEmbedder, queryCache *retrieval.QueryCache, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:      st,
		processors: processors,
		embedder:   embedder,
		queryCache: queryCache,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "training")),
	}
}

// Enqueue 入队训练. 幂等: 重复入队只清除陈旧错误.
func (o *Orchestrator) Enqueue(ctx context.Context, kbID string) error {
	if err := o.store.MarkQueued(ctx, kbID); err != nil {
		return err
	}
	o.logger.Info("knowledge base queued for training",
		zap.String("knowledge_base_id", kbID))
	return nil
}

// Status 返回当前训练与排队中的知识库.
func (o *Orchestrator) Status(ctx context.Context) (*QueueStatus, error) {
	training, err := o.store.ListTraining(ctx)
	if err != nil {
		return nil, err
	}
	queue, err := o.store.ListQueued(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueStatus{Training: training, Queue: queue}, nil
}

// Train 训练一个知识库.
// 别的知识库正在训练时拒绝启动(状态 CAS 失败), 请求方应走 Enqueue.
func (o *Orchestrator) Train(ctx context.Context, kbID string) (*TrainingResult, error) {
	kb, err := o.store.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, err
	}

	started, err := o.store.TryStartTraining(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, fmt.Errorf("knowledge base %s: %w", kbID, ErrSlotUnavailable)
	}

	startAt := time.Now()
	o.logger.Info("training started",
		zap.String("knowledge_base_id", kbID),
		zap.String("technique", string(kb.Technique())))

	result := o.run(ctx, kb)

	status := types.TrainingTrained
	if !result.Success {
		status = types.TrainingFailed
	}
	if err := o.store.FinishTraining(ctx, kbID, status, result.Error); err != nil {
		o.logger.Error("failed to persist training completion",
			zap.String("knowledge_base_id", kbID), zap.Error(err))
	}

	// 内容已变更: 该知识库的查询结果缓存整体失效
	if o.queryCache != nil {
		o.queryCache.InvalidateAll(ctx, kbID)
	}
	if o.metrics != nil {
		o.metrics.RecordTrainingRun(string(status), time.Since(startAt))
	}

	o.logger.Info("training finished",
		zap.String("knowledge_base_id", kbID),
		zap.String("status", string(status)),
		zap.Int("documents", result.DocumentCount),
		zap.Int("chunks", result.ChunkCount),
		zap.Duration("elapsed", time.Since(startAt)))

	return result, nil
}

// run 执行训练主体, 失败都被吸收进 TrainingResult.
func (o *Orchestrator) run(ctx context.Context, kb *store.KnowledgeBase) *TrainingResult {
	result := &TrainingResult{}

	docs, err := o.store.ListDocuments(ctx, kb.ID)
	if err != nil {
		result.Error = fmt.Sprintf("list documents: %v", err)
		return result
	}

	processor := o.processors.For(kb)

	failed := 0
	firstError := ""

	for _, doc := range docs {
		chunks, err := o.processDocument(ctx, kb, processor, doc)
		if err != nil {
			failed++
			if firstError == "" {
				firstError = err.Error()
			}
			o.logger.Warn("document failed, continuing with remaining documents",
				zap.String("knowledge_base_id", kb.ID),
				zap.String("document_id", doc.ID),
				zap.Error(err))
			if o.metrics != nil {
				o.metrics.RecordDocument("failed")
			}
			continue
		}

		result.DocumentCount++
		result.ChunkCount += len(chunks)
		for _, c := range chunks {
			if len(c.Embedding) > 0 {
				result.EmbeddingCount++
			}
		}
		if o.metrics != nil {
			o.metrics.RecordDocument("success")
		}
	}

	switch {
	case result.DocumentCount > 0:
		result.Success = true
		if failed > 0 {
			result.Error = fmt.Sprintf("%d of %d documents failed: %s",
				failed, len(docs), firstError)
		}
	case failed > 0:
		result.Error = firstError
	default:
		// 没有文档也算训练完成(空知识库)
		result.Success = true
	}
	return result
}

// processDocument 处理单个文档. 任一阶段失败时回滚该文档已写入的
// 块与向量, 返回错误交由调用方记账.
func (o *Orchestrator) processDocument(ctx context.Context, kb *store.KnowledgeBase, processor index.Processor, doc store.Document) ([]types.Chunk, error) {
	extracted, err := processor.Extract(ctx, kb, doc)
	if err != nil {
		return nil, err
	}

	chunks, err := processor.Transform(ctx, kb, extracted)
	if err != nil {
		return nil, err
	}

	// 重建前清掉该文档的旧块(含向量), 保证重训练幂等.
	// 块行的持久化归 Load 所有, 这里不写.
	if err := processor.Clean(ctx, kb, []string{doc.ID}); err != nil {
		return nil, err
	}

	if kb.Technique() == types.TechniqueHighQuality {
		chunks, err = o.embedChunks(ctx, kb, chunks)
		if err != nil {
			o.rollbackDocument(ctx, kb, processor, doc.ID)
			return nil, err
		}
	}

	if err := processor.Load(ctx, kb, chunks); err != nil {
		o.rollbackDocument(ctx, kb, processor, doc.ID)
		return nil, err
	}

	return chunks, nil
}

// embedChunks 单次批量嵌入全部块文本, 校验返回数量后持久化向量行.
func (o *Orchestrator) embedChunks(ctx context.Context, kb *store.KnowledgeBase, chunks []types.Chunk) ([]types.Chunk, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, types.NewEmbeddingError(
			fmt.Sprintf("embedding count mismatch: got %d for %d chunks",
				len(vectors), len(chunks)), nil)
	}

	out := make([]types.Chunk, len(chunks))
	copy(out, chunks)
	for i := range out {
		out[i].Embedding = vectors[i]
	}

	model := kb.EmbeddingModel
	if model == "" {
		model = o.embedder.Provider().Model()
	}
	if err := o.store.SaveEmbeddings(ctx, model, out); err != nil {
		return nil, types.NewIndexingError("persist embeddings", err)
	}
	return out, nil
}

// rollbackDocument 回滚单个文档的未完成写入, 不影响其他文档.
func (o *Orchestrator) rollbackDocument(ctx context.Context, kb *store.KnowledgeBase, processor index.Processor, documentID string) {
	if err := processor.Clean(ctx, kb, []string{documentID}); err != nil {
		o.logger.Error("document rollback failed",
			zap.String("document_id", documentID), zap.Error(err))
	}
}

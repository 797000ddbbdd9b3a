// Package store 提供知识库/文档/块/向量的关系存储仓库。
// 训练状态的持久化比较交换（CAS）也在这里实现：
// 外部存储是一致性的仲裁者，跨进程安全，不依赖语言级锁。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/knowledgeflow/types"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Store 知识核心的关系存储仓库。
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New 创建仓库。
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}
}

// DB 返回底层 gorm.DB（事务场景使用）。
func (s *Store) DB() *gorm.DB { return s.db }

// ===== 知识库 =====

// CreateKnowledgeBase 创建知识库。
func (s *Store) CreateKnowledgeBase(ctx context.Context, kb *KnowledgeBase) error {
	if kb.TrainingStatus == "" {
		kb.TrainingStatus = string(types.TrainingInit)
	}
	if err := s.db.WithContext(ctx).Create(kb).Error; err != nil {
		return fmt.Errorf("create knowledge base: %w", err)
	}
	return nil
}

// GetKnowledgeBase 按 id 获取知识库。
func (s *Store) GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	err := s.db.WithContext(ctx).First(&kb, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge base: %w", err)
	}
	return &kb, nil
}

// MarkQueued 入队。幂等：已排队的知识库只清除陈旧错误，不重复排队。
func (s *Store) MarkQueued(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var kb KnowledgeBase
		if err := tx.First(&kb, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if kb.TrainingStatus == string(types.TrainingQueued) {
			return tx.Model(&kb).Update("last_error", "").Error
		}
		if kb.TrainingStatus == string(types.TrainingRunning) {
			return fmt.Errorf("knowledge base %s is already training", id)
		}

		now := time.Now()
		return tx.Model(&kb).Updates(map[string]any{
			"training_status": string(types.TrainingQueued),
			"queued_at":       &now,
			"last_error":      "",
		}).Error
	})
}

// TryStartTraining 尝试把知识库转入 training 状态。
// 集群级单飞约束：同一时刻最多一个知识库处于 training。
// 整个判定压进一条带守卫的 UPDATE：行锁在同一语句内完成检查与写入，
// 在 READ COMMITTED / REPEATABLE READ 下也不会出现两个事务各自读到
// "无训练在跑" 再双双提交的写偏斜。受影响行数为 1 即抢到槽位。
// 子查询套一层派生表是为了 MySQL（UPDATE 不允许直接引用目标表）。
func (s *Store) TryStartTraining(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Exec(
		`UPDATE knowledge_bases
		 SET training_status = ?, started_at = ?, finished_at = NULL, last_error = '', updated_at = ?
		 WHERE id = ?
		   AND training_status <> ?
		   AND NOT EXISTS (
		     SELECT 1 FROM (
		       SELECT id FROM knowledge_bases WHERE training_status = ?
		     ) AS running
		   )`,
		string(types.TrainingRunning), now, now,
		id,
		string(types.TrainingRunning),
		string(types.TrainingRunning),
	)
	if res.Error != nil {
		return false, fmt.Errorf("try start training: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FinishTraining 结束训练：status 为 trained 或 failed，message 写入 last_error。
func (s *Store) FinishTraining(ctx context.Context, id string, status types.TrainingStatus, message string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&KnowledgeBase{}).
		Where("id = ? AND training_status = ?", id, string(types.TrainingRunning)).
		Updates(map[string]any{
			"training_status": string(status),
			"finished_at":     &now,
			"last_error":      message,
		})
	if res.Error != nil {
		return fmt.Errorf("finish training: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("knowledge base %s is not training", id)
	}
	return nil
}

// CountTraining 统计处于 training 状态的知识库数量。
func (s *Store) CountTraining(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&KnowledgeBase{}).
		Where("training_status = ?", string(types.TrainingRunning)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count training: %w", err)
	}
	return n, nil
}

// NextQueued 返回待训练的知识库：仅当没有训练在跑时扫描 queued，
// 取最近更新的一个。没有候选时返回 (nil, nil)。
func (s *Store) NextQueued(ctx context.Context) (*KnowledgeBase, error) {
	training, err := s.CountTraining(ctx)
	if err != nil {
		return nil, err
	}
	if training > 0 {
		return nil, nil
	}

	var kb KnowledgeBase
	err = s.db.WithContext(ctx).
		Where("training_status = ?", string(types.TrainingQueued)).
		Order("updated_at DESC").
		First(&kb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued: %w", err)
	}
	return &kb, nil
}

// ListQueued 返回排队中的知识库 id（最近更新优先）。
func (s *Store) ListQueued(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&KnowledgeBase{}).
		Where("training_status = ?", string(types.TrainingQueued)).
		Order("updated_at DESC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list queued: %w", err)
	}
	return ids, nil
}

// ListTraining 返回训练中的知识库 id。
func (s *Store) ListTraining(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&KnowledgeBase{}).
		Where("training_status = ?", string(types.TrainingRunning)).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list training: %w", err)
	}
	return ids, nil
}

// ===== 文档 =====

// CreateDocument 创建文档。
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// ListDocuments 列出知识库的全部未删除文档（创建序）。
func (s *Store) ListDocuments(ctx context.Context, kbID string) ([]Document, error) {
	var docs []Document
	err := s.db.WithContext(ctx).
		Where("knowledge_base_id = ?", kbID).
		Order("created_at ASC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// ===== 块 =====

// InsertChunks 批量写入块行。doc_id 冲突时整行覆盖（幂等重建）。
func (s *Store) InsertChunks(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	records := make([]ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = NewChunkRecord(c)
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(records, 200).Error
	if err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

// DeleteChunksByDocument 删除某文档的全部块（重训练前与回滚时调用）。
func (s *Store) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&ChunkRecord{}).Error; err != nil {
		return fmt.Errorf("delete chunks by document: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&EmbeddingRecord{}).Error; err != nil {
		return fmt.Errorf("delete embeddings by document: %w", err)
	}
	return nil
}

// DeleteChunksByKnowledgeBase 清空整个知识库的块与向量行。
func (s *Store) DeleteChunksByKnowledgeBase(ctx context.Context, kbID string) error {
	if err := s.db.WithContext(ctx).
		Where("knowledge_base_id = ?", kbID).
		Delete(&ChunkRecord{}).Error; err != nil {
		return fmt.Errorf("delete chunks by knowledge base: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Where("knowledge_base_id = ?", kbID).
		Delete(&EmbeddingRecord{}).Error; err != nil {
		return fmt.Errorf("delete embeddings by knowledge base: %w", err)
	}
	return nil
}

// ListChunksByKnowledgeBase 列出知识库的全部块（文档序 + 块序）。
func (s *Store) ListChunksByKnowledgeBase(ctx context.Context, kbID string) ([]types.Chunk, error) {
	var records []ChunkRecord
	err := s.db.WithContext(ctx).
		Where("knowledge_base_id = ?", kbID).
		Order("document_id ASC, chunk_index ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	chunks := make([]types.Chunk, len(records))
	for i, r := range records {
		chunks[i] = r.ToChunk()
	}
	return chunks, nil
}

// GetChunksByDocIDs 按 doc_id 批量取块。
func (s *Store) GetChunksByDocIDs(ctx context.Context, docIDs []string) ([]types.Chunk, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	var records []ChunkRecord
	err := s.db.WithContext(ctx).
		Where("doc_id IN ?", docIDs).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("get chunks by doc ids: %w", err)
	}
	chunks := make([]types.Chunk, len(records))
	for i, r := range records {
		chunks[i] = r.ToChunk()
	}
	return chunks, nil
}

// ===== 向量行 =====

// SaveEmbeddings 持久化块向量（先删后插，doc_id 范围幂等覆盖）。
func (s *Store) SaveEmbeddings(ctx context.Context, model string, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	docIDs := make([]string, len(chunks))
	records := make([]EmbeddingRecord, 0, len(chunks))
	for i, c := range chunks {
		docIDs[i] = c.DocID
		vector, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding for chunk %s: %w", c.DocID, err)
		}
		records = append(records, EmbeddingRecord{
			ChunkDocID:      c.DocID,
			DocumentID:      c.DocumentID,
			KnowledgeBaseID: c.KnowledgeBaseID,
			Model:           model,
			Vector:          string(vector),
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chunk_doc_id IN ?", docIDs).
			Delete(&EmbeddingRecord{}).Error; err != nil {
			return fmt.Errorf("replace embeddings: %w", err)
		}
		if err := tx.CreateInBatches(records, 200).Error; err != nil {
			return fmt.Errorf("save embeddings: %w", err)
		}
		return nil
	})
}

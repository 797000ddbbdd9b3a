package store

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/knowledgeflow/types"
)

// KnowledgeBase 知识库
type KnowledgeBase struct {
	ID          string `gorm:"primaryKey;type:char(36)" json:"id"`
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	// IndexingTechnique 索引方式（economy / high_quality），未知值按 high_quality 处理
	IndexingTechnique string `gorm:"index;default:high_quality" json:"indexing_technique"`

	// 嵌入模型配置
	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingModel      string `json:"embedding_model"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`

	// 训练状态机：init → queued → training → {trained | failed}
	TrainingStatus string     `gorm:"index;default:init" json:"training_status"`
	QueuedAt       *time.Time `json:"queued_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Technique 返回知识库的索引方式，未知/未设置回落到 high_quality。
func (kb *KnowledgeBase) Technique() types.IndexingTechnique {
	if kb.IndexingTechnique == string(types.TechniqueEconomy) {
		return types.TechniqueEconomy
	}
	return types.TechniqueHighQuality
}

// Document 知识库文档。核心只读消费，从不修改内容。
type Document struct {
	ID              string `gorm:"primaryKey;type:char(36)" json:"id"`
	KnowledgeBaseID string `gorm:"index" json:"knowledge_base_id"`
	Title           string `json:"title"`

	// Content 原始文本；为空时 FileRef 指向外部文件，由提取器处理
	Content string `gorm:"type:text" json:"content"`
	FileRef string `json:"file_ref,omitempty"`
	DocType string `json:"doc_type"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// ChunkRecord 块的关系存储行。DocID 即外部向量存储的主键。
type ChunkRecord struct {
	DocID           string `gorm:"primaryKey;type:char(36)" json:"doc_id"`
	DocumentID      string `gorm:"index" json:"document_id"`
	KnowledgeBaseID string `gorm:"index" json:"knowledge_base_id"`
	ChunkIndex      int    `json:"chunk_index"`
	Content         string `gorm:"type:text" json:"content"`
	ContentLength   int    `json:"content_length"`

	// Keywords 经济型索引的关键词集合（JSON 数组）
	Keywords string `gorm:"type:text" json:"keywords,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// EmbeddingRecord 块向量的关系存储行（JSON 编码，已单位化）。
type EmbeddingRecord struct {
	ID              uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ChunkDocID      string `gorm:"uniqueIndex" json:"chunk_doc_id"`
	DocumentID      string `gorm:"index" json:"document_id"`
	KnowledgeBaseID string `gorm:"index" json:"knowledge_base_id"`
	Model           string `json:"model"`
	Vector          string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// NewChunkRecord 由块值构造存储行。
func NewChunkRecord(c types.Chunk) ChunkRecord {
	keywords := ""
	if len(c.Keywords) > 0 {
		if data, err := json.Marshal(c.Keywords); err == nil {
			keywords = string(data)
		}
	}
	return ChunkRecord{
		DocID:           c.DocID,
		DocumentID:      c.DocumentID,
		KnowledgeBaseID: c.KnowledgeBaseID,
		ChunkIndex:      c.Index,
		Content:         c.Content,
		ContentLength:   c.Length,
		Keywords:        keywords,
	}
}

// ToChunk 还原为块值。
func (r ChunkRecord) ToChunk() types.Chunk {
	var keywords []string
	if r.Keywords != "" {
		_ = json.Unmarshal([]byte(r.Keywords), &keywords)
	}
	return types.Chunk{
		DocID:           r.DocID,
		DocumentID:      r.DocumentID,
		KnowledgeBaseID: r.KnowledgeBaseID,
		Index:           r.ChunkIndex,
		Content:         r.Content,
		Length:          r.ContentLength,
		Keywords:        keywords,
		Metadata: map[string]any{
			types.MetaDocID:           r.DocID,
			types.MetaDocumentID:      r.DocumentID,
			types.MetaChunkIndex:      r.ChunkIndex,
			types.MetaKnowledgeBaseID: r.KnowledgeBaseID,
		},
	}
}

// AutoMigrate 建立核心表结构。
// SQL 迁移文件由外部运维流程管理，这里只负责开发/测试环境的自举。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&KnowledgeBase{},
		&Document{},
		&ChunkRecord{},
		&EmbeddingRecord{},
	)
}

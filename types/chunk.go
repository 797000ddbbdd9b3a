package types

// 元数据键。下游展示/引用依赖这三个键，索引器必须全部写入。
const (
	MetaDocumentID      = "document_id"
	MetaChunkIndex      = "chunk_index"
	MetaDocID           = "doc_id"
	MetaKnowledgeBaseID = "knowledge_base_id"
)

// Chunk 文档块：嵌入/索引/检索的基本单位。
// 值语义：打分和注释步骤产生新的 ScoredChunk，不修改原始 Chunk。
type Chunk struct {
	// DocID 全局唯一标识，用作外部向量存储的主键
	DocID string `json:"doc_id"`

	// DocumentID 所属文档
	DocumentID string `json:"document_id"`

	// KnowledgeBaseID 所属知识库
	KnowledgeBaseID string `json:"knowledge_base_id"`

	// Index 文档内 0 起始、连续、发射序单调递增
	Index int `json:"chunk_index"`

	// Content 块文本
	Content string `json:"content"`

	// Length 按配置的长度函数计算的内容长度
	Length int `json:"length"`

	// Keywords 经济型索引在 Transform 阶段分出的关键词集合
	Keywords []string `json:"keywords,omitempty"`

	// Metadata 附加元数据（至少携带 document_id/chunk_index/doc_id）
	Metadata map[string]any `json:"metadata,omitempty"`

	// Embedding 附属向量（已单位化），可能为空
	Embedding []float64 `json:"embedding,omitempty"`
}

// ScoredChunk 检索/重排结果：带分数的块注释记录。
type ScoredChunk struct {
	Chunk Chunk `json:"chunk"`

	// Score 最终分数（融合/重排之后）
	Score float64 `json:"score"`

	// VectorScore 语义分支分数（余弦相似度）
	VectorScore float64 `json:"vector_score,omitempty"`

	// KeywordScore 关键词分支分数
	KeywordScore float64 `json:"keyword_score,omitempty"`
}

// SearchMethod 检索方法
type SearchMethod string

const (
	SearchSemantic SearchMethod = "semantic"
	SearchKeyword  SearchMethod = "keyword"
	SearchHybrid   SearchMethod = "hybrid"
)

// IndexingTechnique 知识库索引方式
type IndexingTechnique string

const (
	TechniqueHighQuality IndexingTechnique = "high_quality" // 向量索引
	TechniqueEconomy     IndexingTechnique = "economy"      // 关键词索引
)

// TrainingStatus 知识库训练状态机
type TrainingStatus string

const (
	TrainingInit    TrainingStatus = "init"
	TrainingQueued  TrainingStatus = "queued"
	TrainingRunning TrainingStatus = "training"
	TrainingTrained TrainingStatus = "trained"
	TrainingFailed  TrainingStatus = "failed"
)

// Package vectorstore 提供统一的向量存储接口与后端实现.
// 每个知识库独占一个集合, 集合名由知识库 id 确定性派生,
// 任何调用方都可独立算出同一个名字.
package vectorstore

import (
	"context"
	"strings"
)

// Document 向量存储中的一条记录. ID 即块的 doc_id.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float64      `json:"embedding,omitempty"`
}

// SearchResult 向量搜索结果.
type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// Store 向量存储的统一契约, 每个后端实现一次.
type Store interface {
	// AddDocuments 按 id 幂等写入(覆盖而非追加).
	AddDocuments(ctx context.Context, docs []Document) error

	// SearchByVector 按向量检索 topK 条, 分数为余弦相似度.
	SearchByVector(ctx context.Context, vector []float64, topK int) ([]SearchResult, error)

	// DeleteByIDs 按 id 删除.
	DeleteByIDs(ctx context.Context, ids []string) error

	// DeleteByMetadata 按元数据键值删除.
	DeleteByMetadata(ctx context.Context, key string, value any) error

	// Exists 判断 id 是否已写入.
	Exists(ctx context.Context, id string) (bool, error)

	// Drop 删除整个集合.
	Drop(ctx context.Context) error
}

// CollectionName 由知识库 id 派生集合名.
// Qdrant 等后端对集合名中的连字符敏感, 统一替换为下划线.
func CollectionName(kbID string) string {
	return "kb_" + strings.ReplaceAll(kbID, "-", "_")
}

// Backend 向量存储后端类型.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendQdrant Backend = "qdrant"
)

// Config 向量存储配置.
type Config struct {
	Backend Backend      `yaml:"backend" json:"backend"`
	Qdrant  QdrantConfig `yaml:"qdrant" json:"qdrant"`
}

// DefaultConfig 返回默认配置(内存后端).
func DefaultConfig() Config {
	return Config{Backend: BackendMemory}
}

package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore 内存向量存储, 用于测试和小规模应用.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]Document
	order  []string
	logger *zap.Logger
}

// NewMemoryStore 创建内存向量存储.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		docs:   make(map[string]Document),
		logger: logger.With(zap.String("component", "memory_store")),
	}
}

// AddDocuments 按 id 覆盖写入.
func (s *MemoryStore) AddDocuments(ctx context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document[%d] has empty id", i)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", doc.ID)
		}
		if _, exists := s.docs[doc.ID]; !exists {
			s.order = append(s.order, doc.ID)
		}
		s.docs[doc.ID] = doc
	}

	s.logger.Debug("documents added to vector store",
		zap.Int("count", len(docs)),
		zap.Int("total", len(s.docs)))
	return nil
}

// SearchByVector 余弦相似度全量扫描.
func (s *MemoryStore) SearchByVector(ctx context.Context, vector []float64, topK int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 || len(s.docs) == 0 {
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(s.docs))
	for _, id := range s.order {
		doc, ok := s.docs[id]
		if !ok {
			continue
		}
		results = append(results, SearchResult{
			Document: doc,
			Score:    cosineSimilarity(vector, doc.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

// DeleteByIDs 按 id 删除.
func (s *MemoryStore) DeleteByIDs(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.docs, id)
	}
	s.compactOrder()
	return nil
}

// DeleteByMetadata 按元数据键值删除.
func (s *MemoryStore) DeleteByMetadata(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, doc := range s.docs {
		if doc.Metadata == nil {
			continue
		}
		if fmt.Sprint(doc.Metadata[key]) == fmt.Sprint(value) {
			delete(s.docs, id)
		}
	}
	s.compactOrder()
	return nil
}

// Exists 判断 id 是否存在.
func (s *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[id]
	return ok, nil
}

// Drop 清空集合.
func (s *MemoryStore) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]Document)
	s.order = nil
	s.logger.Debug("vector store dropped")
	return nil
}

// Count 返回记录数(仅测试用).
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *MemoryStore) compactOrder() {
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.docs[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
}

// cosineSimilarity 余弦相似度; 维度不一致或零向量返回 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

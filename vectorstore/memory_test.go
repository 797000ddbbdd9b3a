package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryStore_AddAndSearch(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	docs := []Document{
		{ID: "a", Content: "alpha", Embedding: []float64{1, 0}},
		{ID: "b", Content: "beta", Embedding: []float64{0, 1}},
		{ID: "c", Content: "mid", Embedding: []float64{0.7071, 0.7071}},
	}
	require.NoError(t, s.AddDocuments(ctx, docs))

	results, err := s.SearchByVector(ctx, []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Document.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "c", results[1].Document.ID)
}

func TestMemoryStore_UpsertByID(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.AddDocuments(ctx, []Document{{ID: "a", Content: "v1", Embedding: []float64{1, 0}}}))
	// 同 id 覆盖, 不追加
	require.NoError(t, s.AddDocuments(ctx, []Document{{ID: "a", Content: "v2", Embedding: []float64{0, 1}}}))

	assert.Equal(t, 1, s.Count())
	results, err := s.SearchByVector(ctx, []float64{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, "v2", results[0].Document.Content)
}

func TestMemoryStore_MissingEmbedding(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	err := s.AddDocuments(context.Background(), []Document{{ID: "a"}})
	assert.Error(t, err)
}

func TestMemoryStore_DeleteByIDs(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.AddDocuments(ctx, []Document{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "b", Embedding: []float64{0, 1}},
	}))
	require.NoError(t, s.DeleteByIDs(ctx, []string{"a"}))

	ok, err := s.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Exists(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_DeleteByMetadata(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.AddDocuments(ctx, []Document{
		{ID: "a", Embedding: []float64{1, 0}, Metadata: map[string]any{"document_id": "doc1"}},
		{ID: "b", Embedding: []float64{0, 1}, Metadata: map[string]any{"document_id": "doc1"}},
		{ID: "c", Embedding: []float64{1, 1}, Metadata: map[string]any{"document_id": "doc2"}},
	}))

	require.NoError(t, s.DeleteByMetadata(ctx, "document_id", "doc1"))
	assert.Equal(t, 1, s.Count())

	ok, _ := s.Exists(ctx, "c")
	assert.True(t, ok)
}

func TestMemoryStore_Drop(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.AddDocuments(ctx, []Document{{ID: "a", Embedding: []float64{1}}}))
	require.NoError(t, s.Drop(ctx))
	assert.Equal(t, 0, s.Count())

	results, err := s.SearchByVector(ctx, []float64{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCollectionName_Deterministic(t *testing.T) {
	assert.Equal(t, "kb_123e4567_e89b_12d3_a456_426614174000",
		CollectionName("123e4567-e89b-12d3-a456-426614174000"))
	assert.Equal(t, CollectionName("x"), CollectionName("x"))
}

func TestFactory_MemoryReuse(t *testing.T) {
	f := NewFactory(DefaultConfig(), zap.NewNop())

	s1, err := f.ForKnowledgeBase("kb1")
	require.NoError(t, err)
	s2, err := f.ForKnowledgeBase("kb1")
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	s3, err := f.ForKnowledgeBase("kb2")
	require.NoError(t, err)
	assert.NotSame(t, s1, s3)
}

func TestFactory_UnknownBackend(t *testing.T) {
	f := NewFactory(Config{Backend: "pinecone"}, zap.NewNop())
	_, err := f.ForKnowledgeBase("kb1")
	assert.Error(t, err)
}

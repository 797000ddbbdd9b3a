package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/knowledgeflow/embedding"
	"github.com/BaSui01/knowledgeflow/index"
	"github.com/BaSui01/knowledgeflow/retrieval"
	"github.com/BaSui01/knowledgeflow/splitter"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/training"
	"github.com/BaSui01/knowledgeflow/vectorstore"
)

// wordProvider 按关键词映射确定性向量.
type wordProvider struct{}

func (wordProvider) Embed(_ context.Context, req *embedding.EmbeddingRequest) (*embedding.EmbeddingResponse, error) {
	data := make([]embedding.EmbeddingData, len(req.Input))
	for i, text := range req.Input {
		vec := []float64{0.5, 0.5}
		if strings.Contains(strings.ToLower(text), "gopher") {
			vec = []float64{1, 0}
		}
		data[i] = embedding.EmbeddingData{Index: i, Embedding: vec}
	}
	return &embedding.EmbeddingResponse{Provider: "word", Model: "word", Embeddings: data}, nil
}
func (wordProvider) Name() string      { return "word" }
func (wordProvider) Model() string     { return "word" }
func (wordProvider) Dimensions() int   { return 2 }
func (wordProvider) MaxBatchSize() int { return 100 }

func newTestHandler(t *testing.T) http.Handler {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	st := store.New(db, nil)

	sp, err := splitter.NewRecursiveSplitter(splitter.RecursiveConfig{
		ChunkSize: 80, ChunkOverlap: 10, KeepSeparator: true,
	}, nil, zap.NewNop())
	require.NoError(t, err)

	embedder := embedding.NewCachedEmbedder(wordProvider{}, nil, nil, embedding.CachedConfig{}, nil, zap.NewNop())
	vectors := vectorstore.NewFactory(vectorstore.DefaultConfig(), zap.NewNop())
	standard := index.NewStandardProcessor(nil, sp, embedder, vectors, st, nil, nil, zap.NewNop())
	keyword := index.NewKeywordProcessor(nil, sp, st, zap.NewNop())
	processors := index.NewFactory(standard, keyword)

	weighted := retrieval.NewWeightedReranker(retrieval.DefaultWeightedConfig(), embedder, zap.NewNop())
	engine := retrieval.NewEngine(retrieval.DefaultConfig(), st, processors, nil, weighted, nil, nil, zap.NewNop())
	orchestrator := training.NewOrchestrator(st, processors, embedder, nil, nil, zap.NewNop())

	h := NewHandler(st, engine, orchestrator, zap.NewNop())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("POST /api/v1/knowledge-bases", h.HandleCreateKnowledgeBase)
	mux.HandleFunc("GET /api/v1/knowledge-bases/{id}", h.HandleGetKnowledgeBase)
	mux.HandleFunc("POST /api/v1/knowledge-bases/{id}/documents", h.HandleCreateDocument)
	mux.HandleFunc("POST /api/v1/knowledge-bases/{id}/train", h.HandleTrain)
	mux.HandleFunc("POST /api/v1/knowledge-bases/{id}/enqueue", h.HandleEnqueue)
	mux.HandleFunc("GET /api/v1/training/status", h.HandleTrainingStatus)
	mux.HandleFunc("POST /api/v1/search", h.HandleSearch)
	return mux
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestAPI_TrainAndSearchFlow(t *testing.T) {
	handler := newTestHandler(t)

	rec, kb := doJSON(t, handler, http.MethodPost, "/api/v1/knowledge-bases",
		`{"name":"docs","indexing_technique":"high_quality"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	kbID := kb["id"].(string)

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/v1/knowledge-bases/"+kbID+"/documents",
		`{"title":"intro","content":"gopher tutorial for beginners"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, result := doJSON(t, handler, http.MethodPost, "/api/v1/knowledge-bases/"+kbID+"/train", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, float64(1), result["document_count"])

	rec, got := doJSON(t, handler, http.MethodGet, "/api/v1/knowledge-bases/"+kbID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trained", got["training_status"])

	rec, search := doJSON(t, handler, http.MethodPost, "/api/v1/search",
		`{"knowledge_base_id":"`+kbID+`","query":"gopher","method":"semantic","top_k":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Positive(t, search["count"])
}

func TestAPI_EnqueueAndStatus(t *testing.T) {
	handler := newTestHandler(t)

	rec, kb := doJSON(t, handler, http.MethodPost, "/api/v1/knowledge-bases", `{"name":"kb"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	kbID := kb["id"].(string)

	rec, resp := doJSON(t, handler, http.MethodPost, "/api/v1/knowledge-bases/"+kbID+"/enqueue", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", resp["training_status"])

	rec, status := doJSON(t, handler, http.MethodGet, "/api/v1/training/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	queue := status["queue"].([]any)
	require.Len(t, queue, 1)
	assert.Equal(t, kbID, queue[0])
}

func TestAPI_Validation(t *testing.T) {
	handler := newTestHandler(t)

	rec, _ := doJSON(t, handler, http.MethodPost, "/api/v1/knowledge-bases", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, handler, http.MethodGet, "/api/v1/knowledge-bases/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/v1/knowledge-bases/missing/train", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/v1/search", `{"query":"q"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/v1/search",
		`{"knowledge_base_id":"kb","query":"q","method":"fuzzy"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_SearchMissingKBReturnsEmpty(t *testing.T) {
	handler := newTestHandler(t)

	rec, resp := doJSON(t, handler, http.MethodPost, "/api/v1/search",
		`{"knowledge_base_id":"no-such-kb","query":"anything"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), resp["count"])
}

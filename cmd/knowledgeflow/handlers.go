package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/retrieval"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/training"
	"github.com/BaSui01/knowledgeflow/types"
)

// Handler 知识核心的 HTTP 处理器.
type Handler struct {
	store        *store.Store
	engine       *retrieval.Engine
	orchestrator *training.Orchestrator
	logger       *zap.Logger
}

// NewHandler 创建 HTTP 处理器.
func NewHandler(st *store.Store, engine *retrieval.Engine, orchestrator *training.Orchestrator, logger *zap.Logger) *Handler {
	return &Handler{
		store:        st,
		engine:       engine,
		orchestrator: orchestrator,
		logger:       logger.With(zap.String("component", "http")),
	}
}

// HandleHealth 健康检查.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleVersion 版本信息.
func (h *Handler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

type createKnowledgeBaseRequest struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	IndexingTechnique string `json:"indexing_technique"`
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`
}

// HandleCreateKnowledgeBase 创建知识库.
func (h *Handler) HandleCreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req createKnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	kb := &store.KnowledgeBase{
		ID:                uuid.NewString(),
		Name:              req.Name,
		Description:       req.Description,
		IndexingTechnique: req.IndexingTechnique,
		EmbeddingProvider: req.EmbeddingProvider,
		EmbeddingModel:    req.EmbeddingModel,
	}
	if err := h.store.CreateKnowledgeBase(r.Context(), kb); err != nil {
		h.logger.Error("create knowledge base failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create knowledge base")
		return
	}
	writeJSON(w, http.StatusCreated, kb)
}

// HandleGetKnowledgeBase 查询知识库(含训练状态).
func (h *Handler) HandleGetKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	kb, err := h.store.GetKnowledgeBase(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "knowledge base not found")
		return
	}
	if err != nil {
		h.logger.Error("get knowledge base failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get knowledge base")
		return
	}
	writeJSON(w, http.StatusOK, kb)
}

type createDocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	DocType string `json:"doc_type"`
}

// HandleCreateDocument 向知识库添加文档. 文档入库后需要训练才进入索引.
func (h *Handler) HandleCreateDocument(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("id")
	if _, err := h.store.GetKnowledgeBase(r.Context(), kbID); err != nil {
		writeError(w, http.StatusNotFound, "knowledge base not found")
		return
	}

	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	doc := store.Document{
		ID:              uuid.NewString(),
		KnowledgeBaseID: kbID,
		Title:           req.Title,
		Content:         req.Content,
		DocType:         req.DocType,
	}
	if err := h.store.CreateDocument(r.Context(), &doc); err != nil {
		h.logger.Error("create document failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create document")
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// HandleTrain 同步训练知识库.
// 另一个知识库正在训练时返回 409, 调用方应改走 enqueue.
func (h *Handler) HandleTrain(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("id")

	result, err := h.orchestrator.Train(r.Context(), kbID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "knowledge base not found")
		return
	}
	if errors.Is(err, training.ErrSlotUnavailable) {
		writeError(w, http.StatusConflict, "another knowledge base is training, enqueue instead")
		return
	}
	if err != nil {
		h.logger.Error("training failed to start",
			zap.String("knowledge_base_id", kbID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start training")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleEnqueue 入队训练.
func (h *Handler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("id")

	err := h.orchestrator.Enqueue(r.Context(), kbID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "knowledge base not found")
		return
	}
	if err != nil {
		h.logger.Error("enqueue failed",
			zap.String("knowledge_base_id", kbID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"knowledge_base_id": kbID,
		"training_status":   string(types.TrainingQueued),
	})
}

// HandleTrainingStatus 训练队列快照.
func (h *Handler) HandleTrainingStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.orchestrator.Status(r.Context())
	if err != nil {
		h.logger.Error("queue status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read queue status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type searchRequest struct {
	KnowledgeBaseID string                  `json:"knowledge_base_id"`
	Query           string                  `json:"query"`
	Method          string                  `json:"method"`
	TopK            int                     `json:"top_k"`
	Rerank          retrieval.RerankOptions `json:"rerank"`
}

type searchResponse struct {
	Results []types.ScoredChunk `json:"results"`
	Count   int                 `json:"count"`
}

// HandleSearch 检索知识库. 检索失败表现为空结果, 不向调用方抛错.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.KnowledgeBaseID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "knowledge_base_id and query are required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	method := types.SearchMethod(req.Method)
	switch method {
	case types.SearchSemantic, types.SearchKeyword, types.SearchHybrid:
	case "":
		method = types.SearchSemantic
	default:
		writeError(w, http.StatusBadRequest, "unknown search method: "+req.Method)
		return
	}

	results := h.engine.Search(r.Context(), req.KnowledgeBaseID, req.Query, method, req.TopK, req.Rerank)
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Count: len(results)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QdrantConfig configures the Qdrant Store implementation.
//
// Notes:
// - Qdrant point IDs are UUIDs; a stable UUID is derived from Document.ID.
// - Document content/metadata are stored in payload.
type QdrantConfig struct {
	Host    string        `yaml:"host" json:"host"`
	Port    int           `yaml:"port" json:"port"`
	BaseURL string        `yaml:"base_url" json:"base_url,omitempty"`
	APIKey  string        `yaml:"api_key" json:"api_key,omitempty"`
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	Distance   string `yaml:"distance" json:"distance,omitempty"`       // Cosine (default), Dot, Euclid
	VectorSize int    `yaml:"vector_size" json:"vector_size,omitempty"` // Optional override; defaults to len(embedding)
}

// QdrantStore implements Store using Qdrant's REST API.
type QdrantStore struct {
	cfg        QdrantConfig
	collection string

	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantStore creates a Qdrant-backed Store bound to one collection.
func NewQdrantStore(cfg QdrantConfig, collection string, logger *zap.Logger) *QdrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &QdrantStore{
		cfg:        cfg,
		collection: collection,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(zap.String("component", "qdrant_store")),
	}
}

var qdrantNamespace = uuid.MustParse("d9bde6d4-4f3a-4e6b-8f7a-5d8d2f3b4c1a")

// qdrantPointID 从 doc_id 派生稳定 UUID, 同一 doc_id 永远落到同一点.
func qdrantPointID(docID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(docID)).String()
}

func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize int) error {
	if strings.TrimSpace(s.collection) == "" {
		return fmt.Errorf("qdrant collection is required")
	}
	if vectorSize <= 0 {
		return fmt.Errorf("qdrant vector size must be > 0")
	}

	s.ensureOnce.Do(func() {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     vectorSize,
				"distance": s.cfg.Distance,
			},
		}

		endpoint := fmt.Sprintf("%s/collections/%s", s.baseURL, url.PathEscape(s.collection))
		reqBody, _ := json.Marshal(body)
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(reqBody))
		if err != nil {
			s.ensureErr = err
			return
		}
		s.applyHeaders(req)

		resp, err := s.client.Do(req)
		if err != nil {
			s.ensureErr = err
			return
		}
		defer resp.Body.Close()

		// Qdrant returns 409 if collection exists.
		if resp.StatusCode == http.StatusConflict {
			s.ensureErr = nil
			return
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(resp.Body)
			s.ensureErr = fmt.Errorf("qdrant create collection failed: status=%d body=%s", resp.StatusCode, string(raw))
			return
		}
		s.ensureErr = nil
	})

	return s.ensureErr
}

func (s *QdrantStore) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		// Qdrant convention.
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *QdrantStore) doJSON(ctx context.Context, method, path string, in any, out any) error {
	endpoint := s.baseURL + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// AddDocuments 幂等 upsert: 同一 doc_id 覆盖同一个点.
func (s *QdrantStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	vectorSize := s.cfg.VectorSize
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document[%d] has empty id", i)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document[%d] has no embedding", i)
		}
		if vectorSize == 0 {
			vectorSize = len(doc.Embedding)
		}
		if len(doc.Embedding) != vectorSize {
			return fmt.Errorf("document[%d] embedding dimension mismatch: got=%d want=%d", i, len(doc.Embedding), vectorSize)
		}
	}

	if err := s.ensureCollection(ctx, vectorSize); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float64      `json:"vector"`
		Payload map[string]any `json:"payload,omitempty"`
	}

	points := make([]point, 0, len(docs))
	for _, doc := range docs {
		points = append(points, point{
			ID:     qdrantPointID(doc.ID),
			Vector: doc.Embedding,
			Payload: map[string]any{
				"doc_id":   doc.ID,
				"content":  doc.Content,
				"metadata": doc.Metadata,
			},
		})
	}

	req := struct {
		Points []point `json:"points"`
	}{Points: points}

	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(s.collection))
	if err := s.doJSON(ctx, http.MethodPut, path, req, nil); err != nil {
		return err
	}

	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(docs)))
	return nil
}

// SearchByVector 按向量检索.
func (s *QdrantStore) SearchByVector(ctx context.Context, vector []float64, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return []SearchResult{}, nil
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}

	req := struct {
		Vector      []float64 `json:"vector"`
		Limit       int       `json:"limit"`
		WithPayload bool      `json:"with_payload"`
		WithVector  bool      `json:"with_vector"`
	}{
		Vector:      vector,
		Limit:       topK,
		WithPayload: true,
		WithVector:  false,
	}

	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(s.collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		doc := Document{}
		if r.Payload != nil {
			if v, ok := r.Payload["doc_id"].(string); ok {
				doc.ID = v
			}
			if v, ok := r.Payload["content"].(string); ok {
				doc.Content = v
			}
			if m, ok := r.Payload["metadata"].(map[string]any); ok {
				doc.Metadata = m
			}
		}
		if doc.ID == "" {
			doc.ID = fmt.Sprint(r.ID)
		}
		out = append(out, SearchResult{Document: doc, Score: r.Score})
	}
	return out, nil
}

// DeleteByIDs 按 doc_id 删除对应的点.
func (s *QdrantStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	points := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		points = append(points, qdrantPointID(id))
	}

	req := struct {
		Points []string `json:"points"`
	}{Points: points}

	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", url.PathEscape(s.collection))
	return s.doJSON(ctx, http.MethodPost, path, req, nil)
}

// DeleteByMetadata 按元数据键值删除(payload 过滤).
func (s *QdrantStore) DeleteByMetadata(ctx context.Context, key string, value any) error {
	req := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   "metadata." + key,
					"match": map[string]any{"value": value},
				},
			},
		},
	}

	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", url.PathEscape(s.collection))
	return s.doJSON(ctx, http.MethodPost, path, req, nil)
}

// Exists 判断 doc_id 对应的点是否存在.
func (s *QdrantStore) Exists(ctx context.Context, id string) (bool, error) {
	req := struct {
		IDs []string `json:"ids"`
	}{IDs: []string{qdrantPointID(id)}}

	var resp struct {
		Result []json.RawMessage `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points", url.PathEscape(s.collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return false, err
	}
	return len(resp.Result) > 0, nil
}

// Drop 删除整个集合.
func (s *QdrantStore) Drop(ctx context.Context) error {
	path := fmt.Sprintf("/collections/%s", url.PathEscape(s.collection))
	if err := s.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	s.logger.Info("qdrant collection dropped", zap.String("collection", s.collection))
	return nil
}

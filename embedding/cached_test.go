package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/types"
)

var errMiss = errors.New("miss")

// mapCache 进程内 Cache 实现, 记录每个键的 TTL.
type mapCache struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *mapCache) GetJSON(_ context.Context, key string, dest any) error {
	raw, ok := c.data[key]
	if !ok {
		return errMiss
	}
	return json.Unmarshal([]byte(raw), dest)
}

func (c *mapCache) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = string(raw)
	c.ttls[key] = ttl
	return nil
}

// fakeProvider 记录每次 Embed 的输入, 返回固定维度向量.
type fakeProvider struct {
	calls   [][]string
	respLen func(n int) int // 返回的向量条数, 默认与输入等长
	vector  []float64
	err     error
}

func (p *fakeProvider) Embed(_ context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	inputs := append([]string(nil), req.Input...)
	p.calls = append(p.calls, inputs)
	if p.err != nil {
		return nil, p.err
	}
	n := len(inputs)
	if p.respLen != nil {
		n = p.respLen(len(inputs))
	}
	vec := p.vector
	if vec == nil {
		vec = []float64{3, 4}
	}
	data := make([]EmbeddingData, n)
	for i := range data {
		data[i] = EmbeddingData{Index: i, Embedding: vec}
	}
	return &EmbeddingResponse{Provider: "fake", Model: "fake-model", Embeddings: data}, nil
}

func (p *fakeProvider) Name() string      { return "fake" }
func (p *fakeProvider) Model() string     { return "fake-model" }
func (p *fakeProvider) Dimensions() int   { return 2 }
func (p *fakeProvider) MaxBatchSize() int { return 100 }

func newTestEmbedder(p Provider, c Cache) *CachedEmbedder {
	isMiss := func(err error) bool { return errors.Is(err, errMiss) }
	return NewCachedEmbedder(p, c, isMiss, CachedConfig{}, nil, zap.NewNop())
}

func TestCachedEmbedder_OnlyMissesHitProvider(t *testing.T) {
	provider := &fakeProvider{}
	cache := newMapCache()
	e := newTestEmbedder(provider, cache)
	ctx := context.Background()

	_, err := e.EmbedDocuments(ctx, []string{"a", "b"})
	require.NoError(t, err)

	_, err = e.EmbedDocuments(ctx, []string{"b", "c"})
	require.NoError(t, err)

	// 第二次调用只有 "c" 未命中
	require.Len(t, provider.calls, 2)
	assert.Equal(t, []string{"a", "b"}, provider.calls[0])
	assert.Equal(t, []string{"c"}, provider.calls[1])
}

func TestCachedEmbedder_Normalizes(t *testing.T) {
	provider := &fakeProvider{vector: []float64{3, 4}}
	e := newTestEmbedder(provider, newMapCache())

	vecs, err := e.EmbedDocuments(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.InDelta(t, 0.6, vecs[0][0], 1e-9)
	assert.InDelta(t, 0.8, vecs[0][1], 1e-9)

	var norm float64
	for _, v := range vecs[0] {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestCachedEmbedder_CachedVectorAlreadyNormalized(t *testing.T) {
	provider := &fakeProvider{vector: []float64{3, 4}}
	cache := newMapCache()
	e := newTestEmbedder(provider, cache)
	ctx := context.Background()

	first, err := e.EmbedDocuments(ctx, []string{"x"})
	require.NoError(t, err)
	second, err := e.EmbedDocuments(ctx, []string{"x"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, provider.calls, 1)
}

func TestCachedEmbedder_CountMismatchFailsWholeBatch(t *testing.T) {
	provider := &fakeProvider{respLen: func(n int) int { return n - 1 }}
	e := newTestEmbedder(provider, newMapCache())

	vecs, err := e.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.Nil(t, vecs)
	assert.True(t, types.IsCode(err, types.ErrEmbedding))
}

func TestCachedEmbedder_ProviderErrorFailsWholeBatch(t *testing.T) {
	provider := &fakeProvider{err: errors.New("upstream down")}
	e := newTestEmbedder(provider, newMapCache())

	vecs, err := e.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Nil(t, vecs)
	assert.True(t, types.IsCode(err, types.ErrEmbedding))
}

func TestCachedEmbedder_QueryAndDocumentTTLs(t *testing.T) {
	provider := &fakeProvider{}
	cache := newMapCache()
	e := newTestEmbedder(provider, cache)
	ctx := context.Background()

	_, err := e.EmbedDocuments(ctx, []string{"shared"})
	require.NoError(t, err)
	key := e.cacheKey("shared")
	assert.Equal(t, DocumentTTL, cache.ttls[key])

	// 查询命中同一内容寻址键, 不再调提供者
	_, err = e.EmbedQuery(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, provider.calls, 1)

	_, err = e.EmbedQuery(ctx, "fresh query")
	require.NoError(t, err)
	assert.Equal(t, QueryTTL, cache.ttls[e.cacheKey("fresh query")])
}

func TestCachedEmbedder_NilCache(t *testing.T) {
	provider := &fakeProvider{}
	e := NewCachedEmbedder(provider, nil, nil, CachedConfig{}, nil, zap.NewNop())
	ctx := context.Background()

	_, err := e.EmbedDocuments(ctx, []string{"a"})
	require.NoError(t, err)
	_, err = e.EmbedDocuments(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Len(t, provider.calls, 2)
}

func TestCachedEmbedder_EmptyInput(t *testing.T) {
	provider := &fakeProvider{}
	e := newTestEmbedder(provider, newMapCache())

	vecs, err := e.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Empty(t, provider.calls)
}

func TestNormalize_ZeroVector(t *testing.T) {
	assert.Equal(t, []float64{0, 0}, Normalize([]float64{0, 0}))
}

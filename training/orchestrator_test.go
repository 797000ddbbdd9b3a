package training

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/knowledgeflow/embedding"
	"github.com/BaSui01/knowledgeflow/index"
	"github.com/BaSui01/knowledgeflow/splitter"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/types"
	"github.com/BaSui01/knowledgeflow/vectorstore"
)

// constProvider 所有文本返回同一单位向量.
type constProvider struct {
	err error
}

func (p constProvider) Embed(_ context.Context, req *embedding.EmbeddingRequest) (*embedding.EmbeddingResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	data := make([]embedding.EmbeddingData, len(req.Input))
	for i := range data {
		data[i] = embedding.EmbeddingData{Index: i, Embedding: []float64{1, 0}}
	}
	return &embedding.EmbeddingResponse{Provider: "const", Model: "const", Embeddings: data}, nil
}
func (constProvider) Name() string      { return "const" }
func (constProvider) Model() string     { return "const" }
func (constProvider) Dimensions() int   { return 2 }
func (constProvider) MaxBatchSize() int { return 100 }

// flakyExtractor 对指定文档 id 失败.
type flakyExtractor struct {
	failDocID string
}

func (e *flakyExtractor) Extract(_ context.Context, doc store.Document) (string, error) {
	if doc.ID == e.failDocID {
		return "", errors.New("extractor exploded")
	}
	if doc.Content == "" {
		return "", errors.New("empty document")
	}
	return doc.Content, nil
}

type trainFixture struct {
	store        *store.Store
	orchestrator *Orchestrator
}

func newTrainFixture(t *testing.T, extractor index.Extractor, provider embedding.Provider) *trainFixture {
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

	if provider == nil {
		provider = constProvider{}
	}
	embedder := embedding.NewCachedEmbedder(provider, nil, nil, embedding.CachedConfig{}, nil, zap.NewNop())
	vectors := vectorstore.NewFactory(vectorstore.DefaultConfig(), zap.NewNop())

	standard := index.NewStandardProcessor(extractor, sp, embedder, vectors, st, nil, nil, zap.NewNop())
	keyword := index.NewKeywordProcessor(extractor, sp, st, zap.NewNop())
	processors := index.NewFactory(standard, keyword)

	return &trainFixture{
		store:        st,
		orchestrator: NewOrchestrator(st, processors, embedder, nil, nil, zap.NewNop()),
	}
}

func (f *trainFixture) createKB(t *testing.T, technique string) *store.KnowledgeBase {
	kb := &store.KnowledgeBase{ID: uuid.NewString(), Name: "kb", IndexingTechnique: technique}
	require.NoError(t, f.store.CreateKnowledgeBase(context.Background(), kb))
	return kb
}

func (f *trainFixture) addDoc(t *testing.T, kbID, content string) store.Document {
	doc := store.Document{ID: uuid.NewString(), KnowledgeBaseID: kbID, Title: "doc", Content: content}
	require.NoError(t, f.store.CreateDocument(context.Background(), &doc))
	return doc
}

func TestTrain_Success(t *testing.T) {
	f := newTrainFixture(t, nil, nil)
	ctx := context.Background()
	kb := f.createKB(t, "high_quality")
	f.addDoc(t, kb.ID, "golang concurrency patterns for production systems")

	result, err := f.orchestrator.Train(ctx, kb.ID)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.DocumentCount)
	assert.Positive(t, result.ChunkCount)
	assert.Equal(t, result.ChunkCount, result.EmbeddingCount)
	assert.Empty(t, result.Error)

	got, err := f.store.GetKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, string(types.TrainingTrained), got.TrainingStatus)
	require.NotNil(t, got.FinishedAt)
}

func TestTrain_PartialFailureIsolation(t *testing.T) {
	ctx := context.Background()

	extractor := &flakyExtractor{}
	f := newTrainFixture(t, extractor, nil)
	kb := f.createKB(t, "high_quality")
	f.addDoc(t, kb.ID, "document one content here")
	bad := f.addDoc(t, kb.ID, "document two content here")
	f.addDoc(t, kb.ID, "document three content here")
	extractor.failDocID = bad.ID

	result, err := f.orchestrator.Train(ctx, kb.ID)
	require.NoError(t, err)

	// 一个坏文档不拖垮整次训练
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.DocumentCount)
	assert.Contains(t, result.Error, "1 of 3 documents failed")

	got, err := f.store.GetKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, string(types.TrainingTrained), got.TrainingStatus)

	// 失败文档没有残留块
	chunks, err := f.store.ListChunksByKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotEqual(t, bad.ID, c.DocumentID)
	}
}

func TestTrain_AllDocumentsFail(t *testing.T) {
	f := newTrainFixture(t, nil, constProvider{err: errors.New("provider down")})
	ctx := context.Background()
	kb := f.createKB(t, "high_quality")
	f.addDoc(t, kb.ID, "content that will fail to embed")

	result, err := f.orchestrator.Train(ctx, kb.ID)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Zero(t, result.DocumentCount)
	assert.NotEmpty(t, result.Error)

	got, err := f.store.GetKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, string(types.TrainingFailed), got.TrainingStatus)
	assert.NotEmpty(t, got.LastError)

	// 嵌入失败后回滚: 没有残留块行
	chunks, err := f.store.ListChunksByKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestTrain_RejectsWhileAnotherTraining(t *testing.T) {
	f := newTrainFixture(t, nil, nil)
	ctx := context.Background()
	kbA := f.createKB(t, "high_quality")
	kbB := f.createKB(t, "high_quality")

	started, err := f.store.TryStartTraining(ctx, kbB.ID)
	require.NoError(t, err)
	require.True(t, started)

	_, err = f.orchestrator.Train(ctx, kbA.ID)
	require.ErrorIs(t, err, ErrSlotUnavailable)

	// A 未进入 training, 可以排队等待
	got, err := f.store.GetKnowledgeBase(ctx, kbA.ID)
	require.NoError(t, err)
	assert.NotEqual(t, string(types.TrainingRunning), got.TrainingStatus)

	require.NoError(t, f.orchestrator.Enqueue(ctx, kbA.ID))
	status, err := f.orchestrator.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{kbB.ID}, status.Training)
	assert.Equal(t, []string{kbA.ID}, status.Queue)
}

func TestTrain_EmptyKnowledgeBase(t *testing.T) {
	f := newTrainFixture(t, nil, nil)
	ctx := context.Background()
	kb := f.createKB(t, "high_quality")

	result, err := f.orchestrator.Train(ctx, kb.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.DocumentCount)

	got, err := f.store.GetKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, string(types.TrainingTrained), got.TrainingStatus)
}

func TestTrain_RetrainReplacesChunks(t *testing.T) {
	f := newTrainFixture(t, nil, nil)
	ctx := context.Background()
	kb := f.createKB(t, "economy")
	f.addDoc(t, kb.ID, "golang concurrency patterns")

	result, err := f.orchestrator.Train(ctx, kb.ID)
	require.NoError(t, err)
	firstCount := result.ChunkCount

	result, err = f.orchestrator.Train(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, firstCount, result.ChunkCount)

	chunks, err := f.store.ListChunksByKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	// 重训练替换而非追加
	assert.Len(t, chunks, firstCount)
}

func TestTrain_PersistsEachChunkOnce(t *testing.T) {
	f := newTrainFixture(t, nil, nil)
	ctx := context.Background()
	kb := f.createKB(t, "high_quality")
	f.addDoc(t, kb.ID, "golang concurrency patterns for production systems and more")

	result, err := f.orchestrator.Train(ctx, kb.ID)
	require.NoError(t, err)
	require.True(t, result.Success)

	// 块行只由索引 Load 写一次
	chunks, err := f.store.ListChunksByKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, result.ChunkCount)

	seen := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		assert.False(t, seen[c.DocID], "chunk %s persisted more than once", c.DocID)
		seen[c.DocID] = true
	}
}

func TestTrain_EconomySkipsEmbedding(t *testing.T) {
	// 经济型索引不调嵌入提供者
	f := newTrainFixture(t, nil, constProvider{err: errors.New("must not be called")})
	ctx := context.Background()
	kb := f.createKB(t, "economy")
	f.addDoc(t, kb.ID, "golang concurrency patterns")

	result, err := f.orchestrator.Train(ctx, kb.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.EmbeddingCount)

	chunks, err := f.store.ListChunksByKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.NotEmpty(t, chunks[0].Keywords)
}

func TestEnqueue_Idempotent(t *testing.T) {
	f := newTrainFixture(t, nil, nil)
	ctx := context.Background()
	kb := f.createKB(t, "high_quality")

	require.NoError(t, f.orchestrator.Enqueue(ctx, kb.ID))
	require.NoError(t, f.orchestrator.Enqueue(ctx, kb.ID))

	status, err := f.orchestrator.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{kb.ID}, status.Queue)
}

func TestWorker_Tick(t *testing.T) {
	f := newTrainFixture(t, nil, nil)
	ctx := context.Background()
	kb := f.createKB(t, "high_quality")
	f.addDoc(t, kb.ID, "golang concurrency patterns")

	require.NoError(t, f.orchestrator.Enqueue(ctx, kb.ID))

	w := NewWorker(f.orchestrator, f.store, 0, zap.NewNop())
	w.tick(ctx)

	got, err := f.store.GetKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, string(types.TrainingTrained), got.TrainingStatus)

	// 队列已空: 再 tick 无事发生
	w.tick(ctx)
	status, err := f.orchestrator.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.Queue)
	assert.Empty(t, status.Training)
}

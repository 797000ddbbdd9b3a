package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/config"
	"github.com/BaSui01/knowledgeflow/embedding"
	"github.com/BaSui01/knowledgeflow/index"
	"github.com/BaSui01/knowledgeflow/internal/cache"
	"github.com/BaSui01/knowledgeflow/internal/database"
	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/rerank"
	"github.com/BaSui01/knowledgeflow/retrieval"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/training"
	"github.com/BaSui01/knowledgeflow/vectorstore"
)

// Server 组装知识核心的全部组件并承载 HTTP API.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	pool         *database.Pool
	cacheManager *cache.Manager
	collector    *metrics.Collector

	store        *store.Store
	engine       *retrieval.Engine
	orchestrator *training.Orchestrator

	httpServer   *http.Server
	workerCancel context.CancelFunc
}

// NewServer 创建服务器实例.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Start 初始化组件并启动 HTTP 服务.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("knowledgeflow", s.logger)

	if err := s.initStorage(); err != nil {
		return err
	}
	s.initPipeline()

	handler := s.buildHandler()
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	s.logger.Info("http server started", zap.String("addr", s.cfg.Server.Addr))
	return nil
}

// initStorage 打开关系存储与缓存. Redis 不可用时降级为无缓存直通.
func (s *Server) initStorage() error {
	pool, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	s.pool = pool

	if err := store.AutoMigrate(pool.DB()); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	s.store = store.New(pool.DB(), s.logger)

	manager, err := cache.NewManager(s.cfg.Redis, s.logger)
	if err != nil {
		s.logger.Warn("redis unavailable, running without caches", zap.Error(err))
	} else {
		s.cacheManager = manager
	}
	return nil
}

// initPipeline 组装分块、嵌入、索引、检索与训练组件.
func (s *Server) initPipeline() {
	sp, err := s.cfg.Splitter.BuildSplitter(s.logger)
	if err != nil {
		s.logger.Fatal("invalid splitter config", zap.Error(err))
	}

	var embedderCache embedding.Cache
	var resultCache *index.ResultCache
	var queryCache *retrieval.QueryCache
	if s.cacheManager != nil {
		embedderCache = s.cacheManager
		resultCache = index.NewResultCache(s.cacheManager, cache.IsCacheMiss, s.logger)
		queryCache = retrieval.NewQueryCache(s.cacheManager, cache.IsCacheMiss, s.logger)
	}

	if s.cfg.Embedding.APIKey == "" {
		s.logger.Warn("embedding api key not configured, vector indexing will fail until set")
	}
	provider := embedding.NewOpenAIProvider(s.cfg.Embedding)
	embedder := embedding.NewCachedEmbedder(provider, embedderCache, cache.IsCacheMiss,
		s.cfg.EmbeddingCache, s.collector, s.logger)

	vectors := vectorstore.NewFactory(s.cfg.VectorStore, s.logger)

	standard := index.NewStandardProcessor(nil, sp, embedder, vectors, s.store,
		resultCache, s.collector, s.logger)
	keyword := index.NewKeywordProcessor(nil, sp, s.store, s.logger)
	processors := index.NewFactory(standard, keyword)

	weightedCfg := retrieval.DefaultWeightedConfig()
	weightedCfg.VectorWeight = s.cfg.Retrieval.SemanticWeight
	weightedCfg.KeywordWeight = s.cfg.Retrieval.KeywordWeight
	weighted := retrieval.NewWeightedReranker(weightedCfg, embedder, s.logger)

	var model retrieval.Reranker
	if s.cfg.Rerank.APIKey != "" {
		model = retrieval.NewModelReranker(rerank.NewCohereProvider(s.cfg.Rerank), s.logger)
	} else {
		s.logger.Info("rerank api key not configured, model rerank falls back to original order")
	}

	s.engine = retrieval.NewEngine(s.cfg.Retrieval, s.store, processors,
		queryCache, weighted, model, s.collector, s.logger)
	s.orchestrator = training.NewOrchestrator(s.store, processors, embedder,
		queryCache, s.collector, s.logger)

	if s.cfg.Training.WorkerEnabled {
		ctx, cancel := context.WithCancel(context.Background())
		s.workerCancel = cancel
		worker := training.NewWorker(s.orchestrator, s.store, s.cfg.Training.PollInterval, s.logger)
		go worker.Run(ctx)
	}
}

// buildHandler 注册路由并套上中间件链.
func (s *Server) buildHandler() http.Handler {
	h := NewHandler(s.store, s.engine, s.orchestrator, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /version", h.HandleVersion(Version, BuildTime, GitCommit))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/knowledge-bases", h.HandleCreateKnowledgeBase)
	mux.HandleFunc("GET /api/v1/knowledge-bases/{id}", h.HandleGetKnowledgeBase)
	mux.HandleFunc("POST /api/v1/knowledge-bases/{id}/documents", h.HandleCreateDocument)
	mux.HandleFunc("POST /api/v1/knowledge-bases/{id}/train", h.HandleTrain)
	mux.HandleFunc("POST /api/v1/knowledge-bases/{id}/enqueue", h.HandleEnqueue)
	mux.HandleFunc("GET /api/v1/training/status", h.HandleTrainingStatus)
	mux.HandleFunc("POST /api/v1/search", h.HandleSearch)

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
	)
}

// WaitForShutdown 阻塞到收到终止信号, 然后优雅关闭.
func (s *Server) WaitForShutdown() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	s.Shutdown()
}

// Shutdown 按依赖反序关闭组件.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	if s.workerCancel != nil {
		s.workerCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("http server shutdown error", zap.Error(err))
		}
	}

	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("cache shutdown error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("database shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}

// Package config 统一配置: 默认值 → YAML 文件 → 环境变量覆盖.
package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/knowledgeflow/embedding"
	"github.com/BaSui01/knowledgeflow/internal/cache"
	"github.com/BaSui01/knowledgeflow/internal/database"
	"github.com/BaSui01/knowledgeflow/rerank"
	"github.com/BaSui01/knowledgeflow/retrieval"
	"github.com/BaSui01/knowledgeflow/splitter"
	"github.com/BaSui01/knowledgeflow/vectorstore"
)

// Config 知识核心的完整配置.
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Database 关系存储配置
	Database database.Config `yaml:"database" env:"DATABASE"`

	// Redis 缓存配置
	Redis cache.Config `yaml:"redis" env:"REDIS"`

	// VectorStore 向量存储配置
	VectorStore vectorstore.Config `yaml:"vector_store" env:"VECTOR_STORE"`

	// Embedding 嵌入提供者配置
	Embedding embedding.OpenAIConfig `yaml:"embedding" env:"EMBEDDING"`

	// EmbeddingCache 嵌入缓存与限流配置
	EmbeddingCache embedding.CachedConfig `yaml:"embedding_cache" env:"EMBEDDING_CACHE"`

	// Rerank 模型重排提供者配置
	Rerank rerank.CohereConfig `yaml:"rerank" env:"RERANK"`

	// Splitter 文本分块配置
	Splitter SplitterConfig `yaml:"splitter" env:"SPLITTER"`

	// Retrieval 检索引擎配置
	Retrieval retrieval.Config `yaml:"retrieval" env:"RETRIEVAL"`

	// Training 训练工作者配置
	Training TrainingConfig `yaml:"training" env:"TRAINING"`
}

// ServerConfig HTTP 服务配置.
type ServerConfig struct {
	// Addr 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// ReadTimeout 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// ShutdownTimeout 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig 日志配置.
type LogConfig struct {
	// Level 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// EnableCaller 记录调用位置
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// SplitterConfig 文本分块配置.
type SplitterConfig struct {
	// Strategy 分块策略: recursive, fixed
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// ChunkSize 块大小上限
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// ChunkOverlap 相邻块重叠上限
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// Separator 固定策略的分隔符
	Separator string `yaml:"separator" env:"SEPARATOR"`
	// UseTokenLength 按 token 数而非字符数计量块长
	UseTokenLength bool `yaml:"use_token_length" env:"USE_TOKEN_LENGTH"`
	// TokenModel tiktoken 计数对应的模型名
	TokenModel string `yaml:"token_model" env:"TOKEN_MODEL"`
}

// TrainingConfig 训练工作者配置.
type TrainingConfig struct {
	// WorkerEnabled 是否启动队列工作者
	WorkerEnabled bool `yaml:"worker_enabled" env:"WORKER_ENABLED"`
	// PollInterval 队列轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			EnableCaller: true,
		},
		Database:       database.DefaultConfig(),
		Redis:          cache.DefaultConfig(),
		VectorStore:    vectorstore.DefaultConfig(),
		Embedding:      embedding.OpenAIConfig{},
		EmbeddingCache: embedding.DefaultCachedConfig(),
		Rerank:         rerank.CohereConfig{},
		Splitter: SplitterConfig{
			Strategy:     "recursive",
			ChunkSize:    500,
			ChunkOverlap: 50,
		},
		Retrieval: retrieval.DefaultConfig(),
		Training: TrainingConfig{
			WorkerEnabled: true,
			PollInterval:  5 * time.Second,
		},
	}
}

// Validate 验证配置.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server addr must not be empty")
	}
	if c.Splitter.ChunkSize <= 0 {
		errs = append(errs, "splitter chunk_size must be positive")
	}
	if c.Splitter.ChunkOverlap >= c.Splitter.ChunkSize {
		errs = append(errs, "splitter chunk_overlap must be smaller than chunk_size")
	}
	switch c.Splitter.Strategy {
	case "", "recursive", "fixed":
	default:
		errs = append(errs, fmt.Sprintf("unknown splitter strategy: %s", c.Splitter.Strategy))
	}
	if w := c.Retrieval.SemanticWeight + c.Retrieval.KeywordWeight; w <= 0 {
		errs = append(errs, "retrieval fusion weights must sum to a positive value")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BuildLogger 按日志配置构建 zap logger.
func (c *LogConfig) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableCaller = !c.EnableCaller

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// BuildSplitter 按分块配置构建分块器.
func (c *SplitterConfig) BuildSplitter(logger *zap.Logger) (splitter.Splitter, error) {
	var lengthFunc splitter.LengthFunc
	if c.UseTokenLength {
		fn, err := splitter.NewTokenCount(c.TokenModel)
		if err != nil {
			return nil, err
		}
		lengthFunc = fn
	}

	switch c.Strategy {
	case "fixed":
		cfg := splitter.DefaultFixedConfig()
		cfg.ChunkSize = c.ChunkSize
		cfg.ChunkOverlap = c.ChunkOverlap
		if c.Separator != "" {
			cfg.Separator = c.Separator
		}
		return splitter.NewFixedSplitter(cfg, lengthFunc, logger)
	case "recursive", "":
		cfg := splitter.DefaultRecursiveConfig()
		cfg.ChunkSize = c.ChunkSize
		cfg.ChunkOverlap = c.ChunkOverlap
		return splitter.NewRecursiveSplitter(cfg, lengthFunc, logger)
	default:
		return nil, fmt.Errorf("unknown splitter strategy: %s", c.Strategy)
	}
}

package splitter

import (
	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/types"
)

// FixedConfig 固定分隔符分块配置。
type FixedConfig struct {
	// Separator 分隔符（默认换行）
	Separator string `yaml:"separator" json:"separator"`
	// ChunkSize 块大小上限
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ChunkOverlap 相邻块重叠上限，必须小于 ChunkSize
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// DefaultFixedConfig 返回默认固定分块配置。
func DefaultFixedConfig() FixedConfig {
	return FixedConfig{
		Separator:    "\n",
		ChunkSize:    500,
		ChunkOverlap: 50,
	}
}

// FixedSplitter 固定分隔符分块器：单一分隔符切分后贪心打包。
type FixedSplitter struct {
	config FixedConfig
	length LengthFunc
	logger *zap.Logger
}

// NewFixedSplitter 创建固定分隔符分块器。
// ChunkOverlap ≥ ChunkSize 属于配置错误，构造时立即返回。
func NewFixedSplitter(config FixedConfig, length LengthFunc, logger *zap.Logger) (*FixedSplitter, error) {
	if config.ChunkSize <= 0 {
		return nil, types.NewConfigurationError("splitter chunk size must be positive")
	}
	if config.ChunkOverlap >= config.ChunkSize {
		return nil, types.NewConfigurationError("splitter chunk overlap must be smaller than chunk size")
	}
	if config.Separator == "" {
		config.Separator = "\n"
	}
	if length == nil {
		length = RuneCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixedSplitter{
		config: config,
		length: length,
		logger: logger.With(zap.String("component", "fixed_splitter")),
	}, nil
}

// Split 按分隔符切分并贪心打包为块。空输入返回空序列。
func (s *FixedSplitter) Split(text string) []string {
	if text == "" {
		return nil
	}

	fragments := splitWithSeparator(text, s.config.Separator, false)
	if len(fragments) == 0 {
		return nil
	}

	return mergeSplits(fragments, s.config.Separator,
		s.config.ChunkSize, s.config.ChunkOverlap, s.length, s.logger)
}

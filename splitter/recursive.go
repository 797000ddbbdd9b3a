package splitter

import (
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/types"
)

// DefaultSeparators 递归分块的默认分隔符优先级。
// 末尾的空串是终止回退（字符级切分），保证递归一定终止。
func DefaultSeparators() []string {
	return []string{"\n\n", "\n", ". ", " ", ""}
}

// RecursiveConfig 递归字符分块配置。
type RecursiveConfig struct {
	// Separators 分隔符优先级列表（默认 DefaultSeparators）
	Separators []string `yaml:"separators" json:"separators"`
	// ChunkSize 块大小上限
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ChunkOverlap 相邻块重叠上限，必须小于 ChunkSize
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	// KeepSeparator 把分隔符附着在前一个碎片上
	KeepSeparator bool `yaml:"keep_separator" json:"keep_separator"`
}

// DefaultRecursiveConfig 返回默认递归分块配置。
func DefaultRecursiveConfig() RecursiveConfig {
	return RecursiveConfig{
		Separators:    DefaultSeparators(),
		ChunkSize:     500,
		ChunkOverlap:  50,
		KeepSeparator: true,
	}
}

// RecursiveSplitter 递归字符分块器。
// 依次尝试分隔符优先级列表；超限碎片用更低优先级的分隔符递归再切。
type RecursiveSplitter struct {
	config RecursiveConfig
	length LengthFunc
	logger *zap.Logger
}

// NewRecursiveSplitter 创建递归分块器。
// ChunkOverlap ≥ ChunkSize 属于配置错误，构造时立即返回。
func NewRecursiveSplitter(config RecursiveConfig, length LengthFunc, logger *zap.Logger) (*RecursiveSplitter, error) {
	if config.ChunkSize <= 0 {
		return nil, types.NewConfigurationError("splitter chunk size must be positive")
	}
	if config.ChunkOverlap >= config.ChunkSize {
		return nil, types.NewConfigurationError("splitter chunk overlap must be smaller than chunk size")
	}
	if len(config.Separators) == 0 {
		config.Separators = DefaultSeparators()
	}
	if length == nil {
		length = RuneCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecursiveSplitter{
		config: config,
		length: length,
		logger: logger.With(zap.String("component", "recursive_splitter")),
	}, nil
}

// Split 递归分块。空输入返回空序列。
func (s *RecursiveSplitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	return s.splitText(text, s.config.Separators)
}

// splitText 用当前优先级最高且实际出现的分隔符切分，
// 贪心合并相邻碎片；仍超限的碎片交给剩余分隔符递归处理。
func (s *RecursiveSplitter) splitText(text string, separators []string) []string {
	// 选择第一个在文本中实际出现的分隔符
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = ""
			rest = nil
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	fragments := splitWithSeparator(text, sep, s.config.KeepSeparator)

	joinSep := sep
	if s.config.KeepSeparator {
		joinSep = ""
	}

	var chunks []string
	var good []string

	for _, frag := range fragments {
		if s.length(frag) <= s.config.ChunkSize {
			good = append(good, frag)
			continue
		}

		// 碎片超限：先冲刷已累积的合格碎片，再递归细分
		if len(good) > 0 {
			chunks = append(chunks, mergeSplits(good, joinSep,
				s.config.ChunkSize, s.config.ChunkOverlap, s.length, s.logger)...)
			good = nil
		}
		if len(rest) == 0 {
			// 分隔符用尽：不可再分的原子单元，原样发射
			s.logger.Warn("emitting oversized atomic fragment",
				zap.Int("length", s.length(frag)),
				zap.Int("chunk_size", s.config.ChunkSize))
			chunks = append(chunks, frag)
			continue
		}
		chunks = append(chunks, s.splitText(frag, rest)...)
	}

	if len(good) > 0 {
		chunks = append(chunks, mergeSplits(good, joinSep,
			s.config.ChunkSize, s.config.ChunkOverlap, s.length, s.logger)...)
	}

	return chunks
}

package vectorstore

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/types"
)

// Factory 按知识库派生集合并创建后端实例.
// 内存后端按集合名复用同一实例, 保证同一知识库看到同一份数据.
type Factory struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	memory map[string]*MemoryStore
}

// NewFactory 创建向量存储工厂.
func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		cfg:    cfg,
		logger: logger,
		memory: make(map[string]*MemoryStore),
	}
}

// ForKnowledgeBase 返回知识库专属的向量存储.
func (f *Factory) ForKnowledgeBase(kbID string) (Store, error) {
	collection := CollectionName(kbID)

	switch f.cfg.Backend {
	case BackendMemory, "":
		f.mu.Lock()
		defer f.mu.Unlock()
		if s, ok := f.memory[collection]; ok {
			return s, nil
		}
		s := NewMemoryStore(f.logger)
		f.memory[collection] = s
		return s, nil
	case BackendQdrant:
		return NewQdrantStore(f.cfg.Qdrant, collection, f.logger), nil
	default:
		return nil, types.NewConfigurationError(
			"unknown vector store backend: " + string(f.cfg.Backend))
	}
}

package index

import (
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/types"
)

// Factory 按知识库配置选择索引处理器.
type Factory struct {
	standard *StandardProcessor
	keyword  *KeywordProcessor
}

// NewFactory 创建处理器工厂.
func NewFactory(standard *StandardProcessor, keyword *KeywordProcessor) *Factory {
	return &Factory{standard: standard, keyword: keyword}
}

// For 返回知识库配置的处理器; 未知/未设置的 technique 回落到 Standard.
func (f *Factory) For(kb *store.KnowledgeBase) Processor {
	if kb.Technique() == types.TechniqueEconomy {
		return f.keyword
	}
	return f.standard
}

// Keyword 返回关键词处理器(keyword 检索方法强制使用).
func (f *Factory) Keyword() *KeywordProcessor { return f.keyword }

// Standard 返回向量处理器.
func (f *Factory) Standard() *StandardProcessor { return f.standard }

// Package index 实现两种可互换的索引处理器:
// Standard(high_quality, 向量索引)与 Keyword(economy, 关键词索引).
// 选择由知识库配置决定, 未知值回落到 Standard.
package index

import (
	"context"
	"strings"
	"unicode"

	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/types"
)

// Processor 索引处理器的统一契约.
type Processor interface {
	// Extract 从文档取出纯文本并封装为初始块, 在元数据中盖上知识库 id.
	Extract(ctx context.Context, kb *store.KnowledgeBase, doc store.Document) ([]types.Chunk, error)

	// Transform 清洗文本、分块、分配 chunk_index 与 doc_id.
	Transform(ctx context.Context, kb *store.KnowledgeBase, chunks []types.Chunk) ([]types.Chunk, error)

	// Load 持久化块到本处理器的索引.
	Load(ctx context.Context, kb *store.KnowledgeBase, chunks []types.Chunk) error

	// Clean 删除索引内容; documentIDs 为 nil 时清空整个知识库.
	Clean(ctx context.Context, kb *store.KnowledgeBase, documentIDs []string) error

	// Retrieve 检索 topK 个相关块.
	Retrieve(ctx context.Context, kb *store.KnowledgeBase, query string, topK int) ([]types.ScoredChunk, error)
}

// Extractor 外部文本提取协作者: 文档 → 纯文本.
// 提取失败是文档级训练失败.
type Extractor interface {
	Extract(ctx context.Context, doc store.Document) (string, error)
}

// PlainTextExtractor 直接取 Document.Content 的提取器.
// 格式解析(PDF/Word 等)由外部协作者完成后写入 Content.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(_ context.Context, doc store.Document) (string, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return "", types.NewDocumentProcessingError("extract",
			"document "+doc.ID+" has no content", nil)
	}
	return doc.Content, nil
}

// CleanText 文本清洗: 去除 NUL 与其他控制字符(保留换行和制表),
// 统一换行符. 在分块之前调用.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || r == '�' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

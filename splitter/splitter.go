package splitter

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Splitter 文本分块器：原始文本 → 有序、有界、可重叠的块序列。
// 同一文本同一参数两次分块必须得到完全一致的结果（重建索引幂等的前提）。
type Splitter interface {
	Split(text string) []string
}

// LengthFunc 可插拔的长度函数（默认按字符计数）。
type LengthFunc func(text string) int

// RuneCount 按 Unicode 字符计数的默认长度函数。
func RuneCount(text string) int {
	return utf8.RuneCountInString(text)
}

// NewTokenCount 返回基于 tiktoken 的 token 计数长度函数。
// model 指定 tiktoken 模型（如 "gpt-4o"）。
func NewTokenCount(model string) (LengthFunc, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, err
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}

// mergeSplits 将碎片贪心合并为不超过 chunkSize 的块，
// 并把累计长度 ≤ chunkOverlap 的尾部碎片带入下一块开头。
// 单个超限碎片原样发射并告警，绝不截断。
func mergeSplits(splits []string, sep string, chunkSize, chunkOverlap int, length LengthFunc, logger *zap.Logger) []string {
	sepLen := length(sep)

	var chunks []string
	var current []string
	total := 0

	for _, s := range splits {
		l := length(s)

		extra := 0
		if len(current) > 0 {
			extra = sepLen
		}
		if total+l+extra > chunkSize {
			if total > chunkSize {
				logger.Warn("chunk exceeds configured size",
					zap.Int("length", total),
					zap.Int("chunk_size", chunkSize))
			}
			if len(current) > 0 {
				if doc := strings.Join(current, sep); doc != "" {
					chunks = append(chunks, doc)
				}
				// 弹出头部碎片直到剩余尾部能作为重叠带入下一块
				for total > chunkOverlap || (total+l+extraFor(current, sepLen) > chunkSize && total > 0) {
					total -= length(current[0]) + extraFor(current[1:], sepLen)
					current = current[1:]
				}
			}
		}

		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, s)
		total += l
	}

	if doc := strings.Join(current, sep); doc != "" {
		chunks = append(chunks, doc)
	}

	return chunks
}

// extraFor 计算再加入一个碎片时分隔符占用的长度。
func extraFor(current []string, sepLen int) int {
	if len(current) > 0 {
		return sepLen
	}
	return 0
}

// splitWithSeparator 按分隔符切分文本并过滤空碎片。
// keepSeparator 为 true 时把分隔符附着在前一个碎片末尾。
// 空分隔符表示按字符切分（终止回退，保证递归终止）。
func splitWithSeparator(text, sep string, keepSeparator bool) []string {
	var parts []string
	if sep == "" {
		parts = strings.Split(text, "")
	} else if keepSeparator {
		raw := strings.Split(text, sep)
		for i := range raw {
			if i < len(raw)-1 {
				raw[i] += sep
			}
		}
		parts = raw
	} else {
		parts = strings.Split(text, sep)
	}

	filtered := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

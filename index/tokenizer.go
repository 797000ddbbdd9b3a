package index

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// stopwords 关键词提取过滤的常见虚词.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "from": {}, "has": {},
	"have": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {}, "not": {}, "what": {},
	"的": {}, "了": {}, "和": {}, "是": {}, "在": {}, "我": {},
	"有": {}, "他": {}, "这": {}, "中": {}, "大": {}, "来": {},
	"上": {}, "国": {}, "个": {}, "到": {}, "说": {}, "们": {},
}

// Tokenize 小写化并按非字母数字边界切词.
// 保留词序与重复, 供词频统计使用.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ExtractKeywords 从文本提取去重后的关键词集合:
// 停用词与单字符 token 被过滤.
func ExtractKeywords(text string) []string {
	seen := make(map[string]struct{})
	var keywords []string
	for _, tok := range Tokenize(text) {
		if utf8.RuneCountInString(tok) < 2 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}

// keywordScore 经济型索引的词频加权分:
// 每个命中的查询关键词贡献 occurrences × len(keyword)/10, 总分截断到 1.0.
// 这是有意的廉价近似, 与 Standard 层和加权重排使用的 BM25 无关.
func keywordScore(queryKeywords []string, chunkTokens []string) float64 {
	if len(queryKeywords) == 0 || len(chunkTokens) == 0 {
		return 0
	}

	counts := make(map[string]int, len(chunkTokens))
	for _, tok := range chunkTokens {
		counts[tok]++
	}

	seen := make(map[string]struct{}, len(queryKeywords))
	var score float64
	for _, kw := range queryKeywords {
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		if n := counts[kw]; n > 0 {
			score += float64(n) * float64(utf8.RuneCountInString(kw)) / 10.0
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

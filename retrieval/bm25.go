package retrieval

import "math"

// BM25 标准参数.
const (
	defaultK1 = 1.5
	defaultB  = 0.75
)

// bm25Scores 对每个文档(已分词)计算相对查询词项的 BM25 分数.
// IDF 采用 ln((1+N)/(1+df)) + 1, 恒为正, 不会出现高频词负分.
func bm25Scores(queryTerms []string, docs [][]string, k1, b float64) []float64 {
	n := len(docs)
	scores := make([]float64, n)
	if n == 0 || len(queryTerms) == 0 {
		return scores
	}

	// 词频与文档频率
	termFreqs := make([]map[string]int, n)
	var totalLen float64
	for i, doc := range docs {
		tf := make(map[string]int, len(doc))
		for _, term := range doc {
			tf[term]++
		}
		termFreqs[i] = tf
		totalLen += float64(len(doc))
	}
	avgLen := totalLen / float64(n)
	if avgLen == 0 {
		return scores
	}

	df := make(map[string]int)
	for _, term := range uniqueTerms(queryTerms) {
		for _, tf := range termFreqs {
			if tf[term] > 0 {
				df[term]++
			}
		}
	}

	for _, term := range uniqueTerms(queryTerms) {
		idf := math.Log((1+float64(n))/(1+float64(df[term]))) + 1

		for i, tf := range termFreqs {
			freq := float64(tf[term])
			if freq == 0 {
				continue
			}
			docLen := float64(len(docs[i]))
			scores[i] += idf * freq * (k1 + 1) /
				(freq + k1*(1-b+b*docLen/avgLen))
		}
	}

	return scores
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

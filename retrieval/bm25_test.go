package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBM25_MatchingDocScoresHigher(t *testing.T) {
	docs := [][]string{
		{"go", "concurrency", "patterns"},
		{"cooking", "pasta", "recipes"},
	}
	scores := bm25Scores([]string{"go", "concurrency"}, docs, defaultK1, defaultB)

	assert.Greater(t, scores[0], scores[1])
	assert.Zero(t, scores[1])
}

func TestBM25_EmptyInputs(t *testing.T) {
	assert.Empty(t, bm25Scores([]string{"go"}, nil, defaultK1, defaultB))

	scores := bm25Scores(nil, [][]string{{"go"}}, defaultK1, defaultB)
	require.Len(t, scores, 1)
	assert.Zero(t, scores[0])
}

// 词频单调性: 同一查询词出现次数更多, 分数不减.
func TestBM25_TermFrequencyMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.IntRange(1, 20).Draw(t, "base")
		extra := rapid.IntRange(1, 20).Draw(t, "extra")

		pad := []string{"filler", "words", "here"}

		docLow := append(repeat("term", base), pad...)
		docHigh := append(repeat("term", base+extra), pad...)

		// 两个语料各自含一个对照文档, 保持 N 和 df 一致
		control := []string{"unrelated", "content"}
		low := bm25Scores([]string{"term"}, [][]string{docLow, control}, defaultK1, defaultB)
		high := bm25Scores([]string{"term"}, [][]string{docHigh, control}, defaultK1, defaultB)

		if high[0] < low[0] {
			t.Fatalf("score decreased with more occurrences: %f < %f", high[0], low[0])
		}
	})
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

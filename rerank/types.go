// Package rerank 提供统一的重排提供者接口和实现.
package rerank

import (
	"context"
	"time"
)

// RerankRequest 表示重排文档的请求.
type RerankRequest struct {
	Query     string     `json:"query"`
	Documents []Document `json:"documents"`
	Model     string     `json:"model,omitempty"`
	TopN      int        `json:"top_n,omitempty"` // Return top N results
}

// Document 表示待重排的文档.
type Document struct {
	Text string `json:"text"`
	ID   string `json:"id,omitempty"`
}

// RerankResponse 表示重排请求的响应.
type RerankResponse struct {
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Results   []RerankResult `json:"results"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// RerankResult 表示单个重排结果.
type RerankResult struct {
	Index          int     `json:"index"`           // Original index in input
	RelevanceScore float64 `json:"relevance_score"` // 0-1 normalized score
	ID             string  `json:"id,omitempty"`
}

// Provider 定义统一的重排提供者接口.
type Provider interface {
	// Rerank 根据与查询的相关性重新排序文档.
	Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error)

	// Name 返回提供者名称.
	Name() string

	// MaxDocuments 返回支持的最大文档数.
	MaxDocuments() int
}

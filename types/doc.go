// Package types 定义知识核心共享的基础类型：
// 块（Chunk）、带分数的检索记录（ScoredChunk）、训练状态机与统一错误码。
package types

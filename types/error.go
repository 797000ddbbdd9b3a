package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the knowledge core.
type ErrorCode string

// Training pipeline error codes
const (
	ErrDocumentProcessing ErrorCode = "DOCUMENT_PROCESSING" // 提取/分块失败
	ErrEmbedding          ErrorCode = "EMBEDDING"           // 嵌入调用、维度不匹配、空批次
	ErrIndexing           ErrorCode = "INDEXING"            // 向量/关系持久化失败
)

// Query path error codes
const (
	ErrRetrieval ErrorCode = "RETRIEVAL" // 检索失败
	ErrRerank    ErrorCode = "RERANK"    // 重排调用失败
)

// Construction error codes
const (
	ErrConfiguration ErrorCode = "CONFIGURATION" // 非法分块参数、缺失模型配置
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Stage     string    `json:"stage,omitempty"` // 训练阶段（extract/split/embed/index）
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a structured error.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NewDocumentProcessingError 创建文档处理错误（提取/分块阶段）
func NewDocumentProcessingError(stage, message string, cause error) *Error {
	return &Error{Code: ErrDocumentProcessing, Message: message, Stage: stage, Cause: cause}
}

// NewEmbeddingError 创建嵌入错误（整批失败，不存在部分成功）
func NewEmbeddingError(message string, cause error) *Error {
	return &Error{Code: ErrEmbedding, Message: message, Retryable: true, Cause: cause}
}

// NewIndexingError 创建索引持久化错误
func NewIndexingError(message string, cause error) *Error {
	return &Error{Code: ErrIndexing, Message: message, Retryable: true, Cause: cause}
}

// NewRetrievalError 创建检索错误
func NewRetrievalError(message string, cause error) *Error {
	return &Error{Code: ErrRetrieval, Message: message, Cause: cause}
}

// NewRerankError 创建重排错误
func NewRerankError(message string, cause error) *Error {
	return &Error{Code: ErrRerank, Message: message, Cause: cause}
}

// NewConfigurationError 创建配置错误（构造时立即返回，永不吞掉）
func NewConfigurationError(message string) *Error {
	return &Error{Code: ErrConfiguration, Message: message}
}

// CodeOf returns the ErrorCode carried by err, or "" when err is not a *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

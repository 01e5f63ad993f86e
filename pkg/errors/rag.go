package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// RAG core service errors.
//
// Terminal errors (unsupported format, corrupt or empty documents, dimension
// mismatch) must never be retried; upstream availability errors are transient
// and retryable. IsRetryable encodes that split.
var (
	// ErrUnsupportedFormat indicates the declared file type is not ingestible.
	ErrUnsupportedFormat = Register(&Errno{
		Code:      MakeCode(ServiceRAG, CategoryRequest, 0),
		HTTP:      http.StatusBadRequest,
		GRPCCode:  codes.InvalidArgument,
		MessageEN: "File type not supported",
		MessageZH: "不支持的文件格式",
	})

	// ErrEmptyDocument indicates the parsed document contains no text.
	ErrEmptyDocument = Register(&Errno{
		Code:      MakeCode(ServiceRAG, CategoryRequest, 1),
		HTTP:      http.StatusBadRequest,
		GRPCCode:  codes.InvalidArgument,
		MessageEN: "Document contains no extractable text",
		MessageZH: "文档不包含可提取的文本",
	})

	// ErrCorruptDocument indicates the document bytes could not be parsed.
	ErrCorruptDocument = Register(&Errno{
		Code:      MakeCode(ServiceRAG, CategoryRequest, 2),
		HTTP:      http.StatusUnprocessableEntity,
		GRPCCode:  codes.InvalidArgument,
		MessageEN: "Document is corrupt or malformed",
		MessageZH: "文档损坏或格式错误",
	})

	// ErrDocumentNotFound indicates the document does not exist for the user.
	ErrDocumentNotFound = Register(&Errno{
		Code:      MakeCode(ServiceRAG, CategoryNotFound, 0),
		HTTP:      http.StatusNotFound,
		GRPCCode:  codes.NotFound,
		MessageEN: "Document not found",
		MessageZH: "文档不存在",
	})

	// ErrDocumentNotFailed indicates a re-index was requested for a document
	// that is not in the failed state.
	ErrDocumentNotFailed = Register(&Errno{
		Code:      MakeCode(ServiceRAG, CategoryRequest, 3),
		HTTP:      http.StatusConflict,
		GRPCCode:  codes.FailedPrecondition,
		MessageEN: "Document is not in failed state",
		MessageZH: "文档不处于失败状态",
	})

	// ErrEmbeddingUnavailable indicates a transient embedding backend failure.
	ErrEmbeddingUnavailable = Register(&Errno{
		Code:      MakeCode(ServiceRAG, CategoryUpstream, 0),
		HTTP:      http.StatusServiceUnavailable,
		GRPCCode:  codes.Unavailable,
		MessageEN: "Embedding backend unavailable",
		MessageZH: "嵌入服务不可用",
	})

	// ErrGenerationUnavailable indicates a transient LLM backend failure.
	ErrGenerationUnavailable = Register(&Errno{
		Code:      MakeCode(ServiceRAG, CategoryUpstream, 1),
		HTTP:      http.StatusServiceUnavailable,
		GRPCCode:  codes.Unavailable,
		MessageEN: "Generation backend unavailable",
		MessageZH: "生成服务不可用",
	})

	// ErrVectorTimeout indicates the vector index did not respond in time.
	ErrVectorTimeout = Register(&Errno{
		Code:      MakeCode(ServiceRAG, CategoryTimeout, 0),
		HTTP:      http.StatusGatewayTimeout,
		GRPCCode:  codes.DeadlineExceeded,
		MessageEN: "Vector index timed out",
		MessageZH: "向量索引超时",
	})

	// ErrDimensionMismatch indicates the embedding dimension does not match
	// the vector index configuration. This is fatal: a silent mismatch would
	// corrupt the comparability of the index.
	ErrDimensionMismatch = Register(&Errno{
		Code:      MakeCode(ServiceRAG, CategoryConfig, 0),
		HTTP:      http.StatusInternalServerError,
		GRPCCode:  codes.FailedPrecondition,
		MessageEN: "Embedding dimension mismatch",
		MessageZH: "嵌入向量维度不匹配",
	})
)

// IsRetryable reports whether the error is transient and worth retrying.
// Only upstream availability and timeout categories qualify; input,
// corruption, and configuration errors are terminal.
func IsRetryable(err error) bool {
	e, ok := err.(*Errno)
	if !ok {
		return false
	}
	switch e.Category() {
	case CategoryUpstream, CategoryTimeout:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the error permanently fails an ingestion attempt.
func IsTerminal(err error) bool {
	if _, ok := err.(*Errno); !ok {
		return false
	}
	return !IsRetryable(err)
}

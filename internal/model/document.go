// Package model provides data models for the Lexica service.
package model

import (
	"time"

	"github.com/kart-io/lexica/pkg/llm"
)

// FileType identifies a supported document format.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOC  FileType = "doc"
	FileTypeDOCX FileType = "docx"
	FileTypeTXT  FileType = "txt"
)

// SupportedFileTypes lists all accepted formats.
var SupportedFileTypes = []FileType{FileTypePDF, FileTypeDOC, FileTypeDOCX, FileTypeTXT}

// Valid reports whether the file type is supported.
func (t FileType) Valid() bool {
	switch t {
	case FileTypePDF, FileTypeDOC, FileTypeDOCX, FileTypeTXT:
		return true
	}
	return false
}

// DocumentStatus is the ingestion lifecycle state of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Document represents an uploaded document owned by one user.
//
// Content keeps the raw upload so a failed document can be re-indexed
// without a second upload. (UserID, ContentHash) is unique, which makes
// registration idempotent per tenant.
type Document struct {
	ID              string         `json:"id" gorm:"primaryKey;type:varchar(64)"`
	UserID          string         `json:"user_id" gorm:"type:varchar(128);not null;index;uniqueIndex:idx_user_content"`
	Filename        string         `json:"filename" gorm:"type:varchar(512);not null"`
	FileType        FileType       `json:"file_type" gorm:"type:varchar(16);not null"`
	SizeBytes       int64          `json:"size_bytes" gorm:"not null"`
	ContentHash     string         `json:"content_hash" gorm:"type:varchar(64);not null;uniqueIndex:idx_user_content"`
	Category        string         `json:"category,omitempty" gorm:"type:varchar(128)"`
	Tags            string         `json:"tags,omitempty" gorm:"type:varchar(512)"`
	Status          DocumentStatus `json:"status" gorm:"type:varchar(32);not null;default:'pending';index"`
	Progress        int            `json:"progress" gorm:"default:0"`
	ProcessingError string         `json:"processing_error,omitempty" gorm:"type:text"`
	ChunkNum        int            `json:"chunk_num" gorm:"default:0"`
	Attempts        int            `json:"attempts" gorm:"default:0"`
	Content         []byte         `json:"-" gorm:"type:bytea"`
	CreatedAt       time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Document.
func (Document) TableName() string {
	return "rag_documents"
}

// Chunk represents a text chunk cut from a document.
//
// Offsets are rune offsets into the normalized document text. Duplicate is
// set when an earlier chunk of the same document has the same text hash;
// duplicate chunks are embedded once and fanned out at indexing time.
type Chunk struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	DocumentID  string    `json:"document_id" gorm:"type:varchar(64);not null;index"`
	UserID      string    `json:"user_id" gorm:"type:varchar(128);not null;index"`
	Index       int       `json:"index" gorm:"column:chunk_index;not null"`
	Text        string    `json:"text" gorm:"type:text;not null"`
	StartOffset int       `json:"start_offset" gorm:"default:0"`
	EndOffset   int       `json:"end_offset" gorm:"default:0"`
	TextHash    string    `json:"text_hash" gorm:"type:varchar(64);index"`
	Duplicate   bool      `json:"duplicate" gorm:"default:false"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for Chunk.
func (Chunk) TableName() string {
	return "rag_chunks"
}

// ConversationTurn is one prior turn of a chat conversation.
type ConversationTurn struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content" binding:"required"`
}

// Citation points at the chunk an answer statement came from.
type Citation struct {
	DocumentID string `json:"document_id"`
	ChunkID    string `json:"chunk_id"`
}

// AskResult is the outcome of one answered question.
type AskResult struct {
	Answer     string          `json:"answer"`
	Citations  []Citation      `json:"citations"`
	TokenUsage *llm.TokenUsage `json:"token_usage,omitempty"`
}

// RetrievedChunk is one similarity search hit hydrated with its text.
type RetrievedChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// Stats reports corpus counts for one user.
type Stats struct {
	Documents int64 `json:"documents"`
	Chunks    int64 `json:"chunks"`
	Vectors   int64 `json:"vectors"`
}

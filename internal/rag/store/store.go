package store

import (
	"context"
	"time"

	"github.com/kart-io/lexica/internal/model"
)

// DocumentStore persists documents and their chunks.
//
// Status transitions are compare-and-swap updates so that concurrent workers
// can never process the same document twice: pending→processing is a claim,
// processing→completed|failed closes an attempt, and failed→pending is the
// re-index path. Every read and delete is scoped by user ID.
type DocumentStore interface {
	// CreateDocument registers a document. If the user already has a
	// document with the same content hash, the existing record is returned
	// and created is false.
	CreateDocument(ctx context.Context, doc *model.Document) (existing *model.Document, created bool, err error)

	// GetDocument returns a document owned by the user.
	GetDocument(ctx context.Context, userID, documentID string) (*model.Document, error)

	// GetDocumentByID returns a document regardless of owner. Used by the
	// ingestion worker, which acts on queued IDs, not on user requests.
	GetDocumentByID(ctx context.Context, documentID string) (*model.Document, error)

	// ListDocuments returns all documents owned by the user.
	ListDocuments(ctx context.Context, userID string) ([]*model.Document, error)

	// ClaimDocument atomically moves a document from pending to processing
	// and increments its attempt counter. Returns false when the document
	// was not pending (already claimed, deleted, or finished).
	ClaimDocument(ctx context.Context, documentID string) (bool, error)

	// SetProgress updates progress of a processing document. The update is
	// a no-op when the document left the processing state.
	SetProgress(ctx context.Context, documentID string, progress int) error

	// MarkCompleted moves processing→completed with progress 100. Returns
	// false when the document was not processing.
	MarkCompleted(ctx context.Context, documentID string, chunkNum int) (bool, error)

	// MarkFailed moves processing→failed and records the error message.
	MarkFailed(ctx context.Context, documentID, message string) (bool, error)

	// ResetForReindex moves failed→pending. Returns false when the document
	// was not failed.
	ResetForReindex(ctx context.Context, userID, documentID string) (bool, error)

	// RecoverInterrupted returns the IDs of documents that need to be
	// re-enqueued after a restart: every pending document, plus processing
	// documents untouched for longer than staleAfter, which are first moved
	// back to pending. A queue delivery lost to a crash leaves exactly
	// these rows behind.
	RecoverInterrupted(ctx context.Context, staleAfter time.Duration) ([]string, error)

	// ReplaceChunks atomically replaces all chunks of a document.
	ReplaceChunks(ctx context.Context, documentID string, chunks []*model.Chunk) error

	// GetChunks returns the chunks of a document ordered by index.
	GetChunks(ctx context.Context, documentID string) ([]*model.Chunk, error)

	// GetChunksByIDs returns the user's chunks for the given IDs, keyed by
	// chunk ID. Missing or foreign-tenant IDs are simply absent.
	GetChunksByIDs(ctx context.Context, userID string, chunkIDs []string) (map[string]*model.Chunk, error)

	// DeleteDocument removes a document and its chunks.
	DeleteDocument(ctx context.Context, userID, documentID string) error

	// CountDocuments returns the number of documents owned by the user.
	CountDocuments(ctx context.Context, userID string) (int64, error)

	// CountChunks returns the number of chunks owned by the user.
	CountChunks(ctx context.Context, userID string) (int64, error)
}

// VectorRecord is one chunk embedding with its filterable payload.
type VectorRecord struct {
	ChunkID    string
	DocumentID string
	UserID     string
	ChunkIndex int
	Embedding  []float32
}

// VectorHit is one similarity search hit.
type VectorHit struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Score      float32
}

// SearchFilter restricts a similarity search. UserID is mandatory; there is
// no unfiltered search.
type SearchFilter struct {
	UserID      string
	DocumentIDs []string
}

// VectorStore indexes chunk embeddings for filtered similarity search.
type VectorStore interface {
	// EnsureReady prepares the backing collection for the given dimension.
	EnsureReady(ctx context.Context, dimension int) error

	// Upsert writes embeddings. Re-writing a chunk ID replaces its vector.
	Upsert(ctx context.Context, records []VectorRecord) error

	// Search returns the nearest chunks matching the filter, best first.
	Search(ctx context.Context, vector []float32, topK int, filter SearchFilter) ([]VectorHit, error)

	// DeleteByDocument removes all vectors of one document.
	DeleteByDocument(ctx context.Context, userID, documentID string) error

	// Count returns the number of indexed vectors.
	Count(ctx context.Context) (int64, error)
}

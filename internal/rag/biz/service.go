package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/kart-io/logger"

	"github.com/kart-io/lexica/internal/model"
	"github.com/kart-io/lexica/internal/rag/metrics"
	"github.com/kart-io/lexica/internal/rag/queue"
	"github.com/kart-io/lexica/internal/rag/store"
	apierrors "github.com/kart-io/lexica/pkg/errors"
	"github.com/kart-io/lexica/pkg/id"
)

// noContextAnswer is returned without calling the LLM when retrieval finds
// nothing for the question.
const noContextAnswer = "I could not find relevant information in your documents to answer this question."

// DocumentUpload is the payload of a document registration.
type DocumentUpload struct {
	Filename string
	// FileType overrides extension-based detection when set.
	FileType string
	Category string
	Tags     string
	Content  []byte
}

// AskRequest is one question against a user's corpus.
type AskRequest struct {
	Question    string
	TopK        int
	DocumentIDs []string
	History     []model.ConversationTurn
}

// Service is the RAG core: document lifecycle plus question answering.
// Every operation is scoped to one user.
type Service interface {
	// RegisterDocument stores an upload and queues it for ingestion.
	// Re-uploading identical content returns the existing document and
	// created false, without queueing a second ingestion.
	RegisterDocument(ctx context.Context, userID string, upload *DocumentUpload) (doc *model.Document, created bool, err error)

	// GetDocument returns one document with its ingestion status.
	GetDocument(ctx context.Context, userID, documentID string) (*model.Document, error)

	// ListDocuments returns all documents of the user.
	ListDocuments(ctx context.Context, userID string) ([]*model.Document, error)

	// DeleteDocument removes a document, its chunks and its vectors.
	DeleteDocument(ctx context.Context, userID, documentID string) error

	// Reindex re-queues a failed document.
	Reindex(ctx context.Context, userID, documentID string) error

	// Ask answers a question grounded in the user's documents.
	Ask(ctx context.Context, userID string, req *AskRequest) (*model.AskResult, error)

	// Stats reports corpus counts for the user.
	Stats(ctx context.Context, userID string) (*model.Stats, error)
}

// ServiceConfig bounds the request-facing parameters of the service.
type ServiceConfig struct {
	// DefaultTopK is used when a question does not set topK.
	DefaultTopK int
	// MaxTopK caps the per-request topK.
	MaxTopK int
	// MaxUploadBytes caps the size of one uploaded document.
	MaxUploadBytes int64
}

type ragService struct {
	config    ServiceConfig
	docs      store.DocumentStore
	vectors   store.VectorStore
	queue     queue.Queue
	retriever *Retriever
	assembler *Assembler
	generator *Generator
	cache     *AnswerCache
	ids       *id.Generator
	metrics   *metrics.Metrics
}

// NewService assembles the RAG core service.
func NewService(
	config ServiceConfig,
	docs store.DocumentStore,
	vectors store.VectorStore,
	q queue.Queue,
	retriever *Retriever,
	assembler *Assembler,
	generator *Generator,
	cache *AnswerCache,
	m *metrics.Metrics,
) Service {
	return &ragService{
		config:    config,
		docs:      docs,
		vectors:   vectors,
		queue:     q,
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		cache:     cache,
		ids:       id.NewGenerator(),
		metrics:   m,
	}
}

func (s *ragService) RegisterDocument(ctx context.Context, userID string, upload *DocumentUpload) (*model.Document, bool, error) {
	if userID == "" {
		return nil, false, apierrors.ErrInvalidParam.WithMessage("user id is required")
	}
	if upload == nil || len(upload.Content) == 0 {
		return nil, false, apierrors.ErrEmptyDocument
	}
	if int64(len(upload.Content)) > s.config.MaxUploadBytes {
		return nil, false, apierrors.ErrInvalidParam.WithMessagef(
			"document exceeds upload limit of %d bytes", s.config.MaxUploadBytes)
	}

	// Reject unsupported formats at registration, before anything is queued.
	fileType, err := DetectFileType(upload.FileType, upload.Filename)
	if err != nil {
		return nil, false, err
	}

	hash := sha256.Sum256(upload.Content)
	doc := &model.Document{
		ID:          s.ids.Generate(),
		UserID:      userID,
		Filename:    upload.Filename,
		FileType:    fileType,
		SizeBytes:   int64(len(upload.Content)),
		ContentHash: hex.EncodeToString(hash[:]),
		Category:    upload.Category,
		Tags:        upload.Tags,
		Status:      model.StatusPending,
		Content:     upload.Content,
	}

	existing, created, err := s.docs.CreateDocument(ctx, doc)
	if err != nil {
		return nil, false, err
	}
	if !created {
		logger.Infow("duplicate upload, returning existing document",
			"user_id", userID, "document_id", existing.ID)
		return existing, false, nil
	}

	if err := s.queue.Enqueue(ctx, existing.ID); err != nil {
		// The document stays pending; a later re-delivery or manual
		// re-index can still pick it up.
		logger.Errorw("failed to enqueue document for ingestion",
			"document_id", existing.ID, "error", err.Error())
		return nil, false, err
	}

	logger.Infow("document registered",
		"user_id", userID, "document_id", existing.ID, "file_type", fileType, "size_bytes", doc.SizeBytes)
	return existing, true, nil
}

func (s *ragService) GetDocument(ctx context.Context, userID, documentID string) (*model.Document, error) {
	return s.docs.GetDocument(ctx, userID, documentID)
}

func (s *ragService) ListDocuments(ctx context.Context, userID string) ([]*model.Document, error) {
	return s.docs.ListDocuments(ctx, userID)
}

func (s *ragService) DeleteDocument(ctx context.Context, userID, documentID string) error {
	if _, err := s.docs.GetDocument(ctx, userID, documentID); err != nil {
		return err
	}

	// Vectors go first: a half-deleted document must never surface in
	// retrieval, and the row delete below is what makes an in-flight
	// ingestion stop and clean up after itself.
	if err := s.vectors.DeleteByDocument(ctx, userID, documentID); err != nil {
		return err
	}
	if err := s.docs.DeleteDocument(ctx, userID, documentID); err != nil {
		return err
	}

	logger.Infow("document deleted", "user_id", userID, "document_id", documentID)
	return nil
}

func (s *ragService) Reindex(ctx context.Context, userID, documentID string) error {
	reset, err := s.docs.ResetForReindex(ctx, userID, documentID)
	if err != nil {
		return err
	}
	if !reset {
		// Distinguish a missing document from one in the wrong state.
		if _, err := s.docs.GetDocument(ctx, userID, documentID); err != nil {
			return err
		}
		return apierrors.ErrDocumentNotFailed
	}

	if err := s.queue.Enqueue(ctx, documentID); err != nil {
		logger.Errorw("failed to enqueue document for re-index",
			"document_id", documentID, "error", err.Error())
		return err
	}

	logger.Infow("document queued for re-index", "user_id", userID, "document_id", documentID)
	return nil
}

func (s *ragService) Ask(ctx context.Context, userID string, req *AskRequest) (*model.AskResult, error) {
	if userID == "" {
		return nil, apierrors.ErrInvalidParam.WithMessage("user id is required")
	}
	if req == nil || req.Question == "" {
		return nil, apierrors.ErrInvalidParam.WithMessage("question is required")
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.config.DefaultTopK
	}
	if topK > s.config.MaxTopK {
		topK = s.config.MaxTopK
	}

	// History does not key the cache: the answer is grounded in the same
	// retrieved context either way, so only cache history-free questions.
	cacheable := len(req.History) == 0
	if cacheable {
		if cached := s.cache.Get(ctx, userID, req.Question, req.DocumentIDs, topK); cached != nil {
			s.metrics.RecordQuery(true, nil)
			return cached, nil
		}
	}

	retrieved, err := s.retriever.Retrieve(ctx, userID, req.Question, topK, req.DocumentIDs)
	if err != nil {
		s.metrics.RecordQuery(false, err)
		return nil, err
	}

	if len(retrieved) == 0 {
		s.metrics.RecordQuery(false, nil)
		return &model.AskResult{
			Answer:    noContextAnswer,
			Citations: []model.Citation{},
		}, nil
	}

	assembled := s.assembler.Assemble(retrieved)
	resp, err := s.generator.Generate(ctx, assembled.Text, req.Question, req.History)
	if err != nil {
		s.metrics.RecordQuery(false, err)
		return nil, err
	}

	citations := make([]model.Citation, len(assembled.Included))
	for i, chunk := range assembled.Included {
		citations[i] = model.Citation{DocumentID: chunk.DocumentID, ChunkID: chunk.ChunkID}
	}

	result := &model.AskResult{
		Answer:     resp.Content,
		Citations:  citations,
		TokenUsage: resp.TokenUsage,
	}
	if cacheable {
		s.cache.Set(ctx, userID, req.Question, req.DocumentIDs, topK, result)
	}
	s.metrics.RecordQuery(false, nil)
	return result, nil
}

func (s *ragService) Stats(ctx context.Context, userID string) (*model.Stats, error) {
	if userID == "" {
		return nil, apierrors.ErrInvalidParam.WithMessage("user id is required")
	}

	docs, err := s.docs.CountDocuments(ctx, userID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.docs.CountChunks(ctx, userID)
	if err != nil {
		return nil, err
	}
	// The vector count covers the whole index; the backing store does not
	// expose a cheap per-user count.
	vectors, err := s.vectors.Count(ctx)
	if err != nil {
		return nil, err
	}

	return &model.Stats{Documents: docs, Chunks: chunks, Vectors: vectors}, nil
}

var _ Service = (*ragService)(nil)

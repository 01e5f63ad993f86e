package biz

import (
	"context"
	"errors"

	"github.com/kart-io/logger"

	"github.com/kart-io/lexica/internal/model"
	"github.com/kart-io/lexica/internal/rag/metrics"
	"github.com/kart-io/lexica/internal/rag/store"
	apierrors "github.com/kart-io/lexica/pkg/errors"
	"github.com/kart-io/lexica/pkg/id"
	"github.com/kart-io/lexica/pkg/llm/resilience"
)

// Ingestion progress checkpoints, in percent.
const (
	progressParsed   = 25
	progressChunked  = 45
	progressEmbedded = 75
	progressIndexed  = 95
)

// Ingestor runs the asynchronous ingestion pipeline for one queued document:
// claim, parse, chunk, embed, index, complete.
//
// The claim is a compare-and-swap on the document status, so a document that
// is already claimed, finished, or deleted is skipped without error. Deletion
// is observed between stages: when the document disappears mid-flight, the
// pipeline stops and removes any vectors it already wrote.
type Ingestor struct {
	docs     store.DocumentStore
	vectors  store.VectorStore
	parser   *Parser
	chunker  *Chunker
	embedder *Embedder
	policy   *resilience.Policy
	ids      *id.Generator
	metrics  *metrics.Metrics
}

// NewIngestor creates an Ingestor. The policy governs retries of vector
// index writes; nil selects the default ingestion backoff.
func NewIngestor(
	docs store.DocumentStore,
	vectors store.VectorStore,
	parser *Parser,
	chunker *Chunker,
	embedder *Embedder,
	policy *resilience.Policy,
	m *metrics.Metrics,
) *Ingestor {
	if policy == nil {
		policy = resilience.DefaultPolicy()
	}
	return &Ingestor{
		docs:     docs,
		vectors:  vectors,
		parser:   parser,
		chunker:  chunker,
		embedder: embedder,
		policy:   policy,
		ids:      id.NewGenerator(),
		metrics:  m,
	}
}

// Process ingests the document with the given ID. A nil return means the
// attempt is settled: completed, skipped, or superseded by deletion. A
// non-nil return means the attempt failed and the document was marked failed.
func (ing *Ingestor) Process(ctx context.Context, documentID string) error {
	claimed, err := ing.docs.ClaimDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Debugw("skipping unclaimed document", "document_id", documentID)
		return nil
	}

	ing.metrics.RecordIngestStart()

	doc, err := ing.docs.GetDocumentByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, apierrors.ErrDocumentNotFound) {
			logger.Infow("document deleted after claim", "document_id", documentID)
			ing.metrics.RecordIngestDone(nil)
			return nil
		}
		ing.metrics.RecordIngestDone(err)
		return err
	}

	err = ing.run(ctx, doc)
	ing.metrics.RecordIngestDone(err)
	if err != nil {
		if ctx.Err() != nil && !apierrors.IsTerminal(err) {
			// Shutdown interrupted the attempt. Leave the document in
			// processing; the startup recovery scan re-enqueues it.
			logger.Infow("ingestion interrupted by shutdown", "document_id", documentID)
			return err
		}
		// The mark must land even when the worker context is already
		// cancelled, or the document wedges in processing.
		if _, markErr := ing.docs.MarkFailed(context.WithoutCancel(ctx), documentID, err.Error()); markErr != nil {
			logger.Errorw("failed to mark document failed", "document_id", documentID, "error", markErr.Error())
		}
		logger.Errorw("ingestion failed",
			"document_id", documentID, "user_id", doc.UserID, "attempt", doc.Attempts, "error", err.Error())
		return err
	}
	return nil
}

func (ing *Ingestor) run(ctx context.Context, doc *model.Document) error {
	// Drop vectors from a previous partial attempt before writing new ones.
	err := resilience.Retry(ctx, ing.policy, func(ctx context.Context) error {
		return ing.vectors.DeleteByDocument(ctx, doc.UserID, doc.ID)
	})
	if err != nil {
		return err
	}

	text, err := ing.parser.Parse(doc.FileType, doc.Content)
	if err != nil {
		return err
	}
	if live, err := ing.checkpoint(ctx, doc, progressParsed); err != nil || !live {
		return err
	}

	pieces := ing.chunker.Chunk(text)
	if len(pieces) == 0 {
		return apierrors.ErrEmptyDocument
	}

	chunks := make([]*model.Chunk, len(pieces))
	chunkIDs := ing.ids.GenerateN(len(pieces))
	for i, piece := range pieces {
		chunks[i] = &model.Chunk{
			ID:          chunkIDs[i],
			DocumentID:  doc.ID,
			UserID:      doc.UserID,
			Index:       piece.Index,
			Text:        piece.Text,
			StartOffset: piece.StartOffset,
			EndOffset:   piece.EndOffset,
			TextHash:    piece.TextHash,
			Duplicate:   piece.Duplicate,
		}
	}
	if err := ing.docs.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return err
	}
	if live, err := ing.checkpoint(ctx, doc, progressChunked); err != nil || !live {
		return err
	}

	// Embed each distinct text once; duplicates reuse the vector of their
	// first occurrence.
	var uniqueTexts []string
	vectorByHash := make(map[string]int)
	for _, piece := range pieces {
		if _, ok := vectorByHash[piece.TextHash]; ok {
			continue
		}
		vectorByHash[piece.TextHash] = len(uniqueTexts)
		uniqueTexts = append(uniqueTexts, piece.Text)
	}
	embeddings, err := ing.embedder.Embed(ctx, uniqueTexts)
	if err != nil {
		return err
	}
	if live, err := ing.checkpoint(ctx, doc, progressEmbedded); err != nil || !live {
		return err
	}

	records := make([]store.VectorRecord, len(chunks))
	for i, chunk := range chunks {
		records[i] = store.VectorRecord{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			UserID:     chunk.UserID,
			ChunkIndex: chunk.Index,
			Embedding:  embeddings[vectorByHash[chunk.TextHash]],
		}
	}
	err = resilience.Retry(ctx, ing.policy, func(ctx context.Context) error {
		return ing.vectors.Upsert(ctx, records)
	})
	if err != nil {
		return err
	}
	if live, err := ing.checkpoint(ctx, doc, progressIndexed); err != nil || !live {
		return err
	}

	completed, err := ing.docs.MarkCompleted(ctx, doc.ID, len(chunks))
	if err != nil {
		return err
	}
	if !completed {
		// The document left the processing state mid-flight, which only
		// happens on deletion. Remove what this attempt indexed.
		return ing.abandon(ctx, doc)
	}

	logger.Infow("ingestion completed",
		"document_id", doc.ID, "user_id", doc.UserID, "chunks", len(chunks), "unique_texts", len(uniqueTexts))
	return nil
}

// checkpoint records progress and reports whether the document still exists.
// A deleted document stops the pipeline and triggers vector cleanup.
func (ing *Ingestor) checkpoint(ctx context.Context, doc *model.Document, progress int) (bool, error) {
	if _, err := ing.docs.GetDocumentByID(ctx, doc.ID); err != nil {
		if errors.Is(err, apierrors.ErrDocumentNotFound) {
			return false, ing.abandon(ctx, doc)
		}
		return false, err
	}
	if err := ing.docs.SetProgress(ctx, doc.ID, progress); err != nil {
		return false, err
	}
	return true, nil
}

func (ing *Ingestor) abandon(ctx context.Context, doc *model.Document) error {
	logger.Infow("document deleted during ingestion", "document_id", doc.ID, "user_id", doc.UserID)
	if err := ing.vectors.DeleteByDocument(ctx, doc.UserID, doc.ID); err != nil {
		logger.Warnw("failed to clean up vectors of deleted document",
			"document_id", doc.ID, "error", err.Error())
	}
	return nil
}

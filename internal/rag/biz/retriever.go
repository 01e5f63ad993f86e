package biz

import (
	"context"
	"sort"

	"github.com/kart-io/logger"

	"github.com/kart-io/lexica/internal/model"
	"github.com/kart-io/lexica/internal/rag/store"
	apierrors "github.com/kart-io/lexica/pkg/errors"
	"github.com/kart-io/lexica/pkg/llm/resilience"
)

// Retriever answers similarity queries over one user's indexed chunks.
//
// Results are ordered deterministically: score descending, then document ID,
// then chunk index. Hits whose chunk row has disappeared (a concurrent
// delete between search and hydration) are dropped silently.
type Retriever struct {
	embedder *Embedder
	vectors  store.VectorStore
	docs     store.DocumentStore
	policy   *resilience.Policy
}

// NewRetriever creates a Retriever. A transient search failure is retried
// once before surfacing; the caller is waiting on this path.
func NewRetriever(embedder *Embedder, vectors store.VectorStore, docs store.DocumentStore) *Retriever {
	return &Retriever{embedder: embedder, vectors: vectors, docs: docs, policy: resilience.OncePolicy()}
}

// Retrieve returns the topK chunks of the user most similar to the query,
// optionally restricted to the given document IDs.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string, topK int, documentIDs []string) ([]model.RetrievedChunk, error) {
	if userID == "" {
		return nil, apierrors.ErrInvalidParam.WithMessage("user id is required")
	}
	if topK <= 0 {
		return nil, apierrors.ErrInvalidParam.WithMessage("top k must be positive")
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	var hits []store.VectorHit
	err = resilience.Retry(ctx, r.policy, func(ctx context.Context) error {
		var searchErr error
		hits, searchErr = r.vectors.Search(ctx, vector, topK, store.SearchFilter{
			UserID:      userID,
			DocumentIDs: documentIDs,
		})
		return searchErr
	})
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	chunkIDs := make([]string, len(hits))
	for i, hit := range hits {
		chunkIDs[i] = hit.ChunkID
	}
	chunks, err := r.docs.GetChunksByIDs(ctx, userID, chunkIDs)
	if err != nil {
		return nil, err
	}

	results := make([]model.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		chunk, ok := chunks[hit.ChunkID]
		if !ok {
			logger.Debugw("dropping hit without chunk row", "chunk_id", hit.ChunkID, "user_id", userID)
			continue
		}
		results = append(results, model.RetrievedChunk{
			ChunkID:    hit.ChunkID,
			DocumentID: hit.DocumentID,
			ChunkIndex: hit.ChunkIndex,
			Text:       chunk.Text,
			Score:      hit.Score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
	return results, nil
}

package store

import (
	"context"
	"math"
	"sort"
	"sync"

	apierrors "github.com/kart-io/lexica/pkg/errors"
)

// memoryVectorStore is an in-memory VectorStore with the same filter
// semantics as the Milvus one. It backs tests and local development.
type memoryVectorStore struct {
	mu      sync.RWMutex
	records map[string]VectorRecord
}

var _ VectorStore = (*memoryVectorStore)(nil)

// NewMemoryVectorStore creates an empty in-memory VectorStore.
func NewMemoryVectorStore() VectorStore {
	return &memoryVectorStore{records: make(map[string]VectorRecord)}
}

func (s *memoryVectorStore) EnsureReady(_ context.Context, _ int) error {
	return nil
}

func (s *memoryVectorStore) Upsert(_ context.Context, records []VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.ChunkID] = r
	}
	return nil
}

func (s *memoryVectorStore) Search(_ context.Context, vector []float32, topK int, filter SearchFilter) ([]VectorHit, error) {
	if filter.UserID == "" {
		return nil, apierrors.ErrInvalidParam.WithMessage("search filter requires a user id")
	}

	allowed := map[string]bool{}
	for _, id := range filter.DocumentIDs {
		allowed[id] = true
	}

	s.mu.RLock()
	hits := make([]VectorHit, 0)
	for _, r := range s.records {
		if r.UserID != filter.UserID {
			continue
		}
		if len(allowed) > 0 && !allowed[r.DocumentID] {
			continue
		}
		hits = append(hits, VectorHit{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			ChunkIndex: r.ChunkIndex,
			Score:      cosineSimilarity(vector, r.Embedding),
		})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].DocumentID != hits[j].DocumentID {
			return hits[i].DocumentID < hits[j].DocumentID
		}
		return hits[i].ChunkIndex < hits[j].ChunkIndex
	})

	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *memoryVectorStore) DeleteByDocument(_ context.Context, userID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if r.UserID == userID && r.DocumentID == documentID {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *memoryVectorStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

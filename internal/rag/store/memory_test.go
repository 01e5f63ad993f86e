package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryVectorStoreTenantIsolation(t *testing.T) {
	s := NewMemoryVectorStore()
	ctx := context.Background()

	// Identical vectors for two users.
	require.NoError(t, s.Upsert(ctx, []VectorRecord{
		{ChunkID: "u1-c0", DocumentID: "d1", UserID: "u1", ChunkIndex: 0, Embedding: []float32{1, 0}},
		{ChunkID: "u2-c0", DocumentID: "d2", UserID: "u2", ChunkIndex: 0, Embedding: []float32{1, 0}},
	}))

	hits, err := s.Search(ctx, []float32{1, 0}, 10, SearchFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "u1-c0", hits[0].ChunkID)
}

func TestMemoryVectorStoreRequiresUserFilter(t *testing.T) {
	s := NewMemoryVectorStore()

	_, err := s.Search(context.Background(), []float32{1, 0}, 10, SearchFilter{})
	assert.Error(t, err)
}

func TestMemoryVectorStoreDocumentFilter(t *testing.T) {
	s := NewMemoryVectorStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []VectorRecord{
		{ChunkID: "c0", DocumentID: "d1", UserID: "u1", ChunkIndex: 0, Embedding: []float32{1, 0}},
		{ChunkID: "c1", DocumentID: "d2", UserID: "u1", ChunkIndex: 0, Embedding: []float32{1, 0}},
	}))

	hits, err := s.Search(ctx, []float32{1, 0}, 10, SearchFilter{UserID: "u1", DocumentIDs: []string{"d2"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ChunkID)
}

func TestMemoryVectorStoreOrderingAndTieBreak(t *testing.T) {
	s := NewMemoryVectorStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []VectorRecord{
		// Same similarity; order must fall back to document_id then chunk_index.
		{ChunkID: "b1", DocumentID: "db", UserID: "u1", ChunkIndex: 1, Embedding: []float32{1, 0}},
		{ChunkID: "a0", DocumentID: "da", UserID: "u1", ChunkIndex: 0, Embedding: []float32{1, 0}},
		{ChunkID: "b0", DocumentID: "db", UserID: "u1", ChunkIndex: 0, Embedding: []float32{1, 0}},
		// Lower similarity always sorts last.
		{ChunkID: "far", DocumentID: "da", UserID: "u1", ChunkIndex: 9, Embedding: []float32{0, 1}},
	}))

	hits, err := s.Search(ctx, []float32{1, 0}, 10, SearchFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, hits, 4)

	got := []string{hits[0].ChunkID, hits[1].ChunkID, hits[2].ChunkID, hits[3].ChunkID}
	assert.Equal(t, []string{"a0", "b0", "b1", "far"}, got)
}

func TestMemoryVectorStoreUpsertReplaces(t *testing.T) {
	s := NewMemoryVectorStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []VectorRecord{
		{ChunkID: "c0", DocumentID: "d1", UserID: "u1", Embedding: []float32{1, 0}},
	}))
	require.NoError(t, s.Upsert(ctx, []VectorRecord{
		{ChunkID: "c0", DocumentID: "d1", UserID: "u1", Embedding: []float32{0, 1}},
	}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryVectorStoreDeleteByDocument(t *testing.T) {
	s := NewMemoryVectorStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []VectorRecord{
		{ChunkID: "c0", DocumentID: "d1", UserID: "u1", Embedding: []float32{1, 0}},
		{ChunkID: "c1", DocumentID: "d1", UserID: "u1", Embedding: []float32{0, 1}},
		{ChunkID: "c2", DocumentID: "d2", UserID: "u1", Embedding: []float32{1, 1}},
	}))

	require.NoError(t, s.DeleteByDocument(ctx, "u1", "d1"))

	hits, err := s.Search(ctx, []float32{1, 0}, 10, SearchFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c2", hits[0].ChunkID)
}

func TestBuildFilterExpr(t *testing.T) {
	expr, err := buildFilterExpr(SearchFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, `user_id == "u1"`, expr)

	expr, err = buildFilterExpr(SearchFilter{UserID: "u1", DocumentIDs: []string{"d1", "d2"}})
	require.NoError(t, err)
	assert.Equal(t, `user_id == "u1" && document_id in ["d1", "d2"]`, expr)

	// Quotes in identifiers cannot break out of the expression.
	expr, err = buildFilterExpr(SearchFilter{UserID: `u"1`})
	require.NoError(t, err)
	assert.Equal(t, `user_id == "u\"1"`, expr)

	_, err = buildFilterExpr(SearchFilter{})
	assert.Error(t, err)
}

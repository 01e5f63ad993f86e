package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/lexica/internal/model"
	apierrors "github.com/kart-io/lexica/pkg/errors"
)

func newTestStore(t *testing.T) DocumentStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	return NewDocumentStore(db)
}

func newTestDocument(id, userID, hash string) *model.Document {
	return &model.Document{
		ID:          id,
		UserID:      userID,
		Filename:    "contract.txt",
		FileType:    model.FileTypeTXT,
		SizeBytes:   128,
		ContentHash: hash,
		Status:      model.StatusPending,
		Content:     []byte("raw content"),
	}
}

func TestCreateDocumentIdempotentPerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.CreateDocument(ctx, newTestDocument("doc-1", "u1", "hash-a"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "doc-1", first.ID)

	// Same user, same content: existing record, no new document.
	again, created, err := s.CreateDocument(ctx, newTestDocument("doc-2", "u1", "hash-a"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "doc-1", again.ID)

	// Different user, same content: independent document.
	other, created, err := s.CreateDocument(ctx, newTestDocument("doc-3", "u2", "hash-a"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "doc-3", other.ID)
}

func TestGetDocumentScopedByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateDocument(ctx, newTestDocument("doc-1", "u1", "hash-a"))
	require.NoError(t, err)

	got, err := s.GetDocument(ctx, "u1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.ID)

	_, err = s.GetDocument(ctx, "u2", "doc-1")
	assert.ErrorIs(t, err, apierrors.ErrDocumentNotFound)
}

func TestClaimDocumentIsExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateDocument(ctx, newTestDocument("doc-1", "u1", "hash-a"))
	require.NoError(t, err)

	claimed, err := s.ClaimDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim must lose.
	claimed, err = s.ClaimDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	doc, err := s.GetDocument(ctx, "u1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, doc.Status)
	assert.Equal(t, 1, doc.Attempts)
}

func TestStatusTransitionsAreGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateDocument(ctx, newTestDocument("doc-1", "u1", "hash-a"))
	require.NoError(t, err)

	// Completing a pending document must not work.
	ok, err := s.MarkCompleted(ctx, "doc-1", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	claimed, err := s.ClaimDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.True(t, claimed)

	ok, err = s.MarkCompleted(ctx, "doc-1", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	doc, err := s.GetDocument(ctx, "u1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, doc.Status)
	assert.Equal(t, 100, doc.Progress)
	assert.Equal(t, 3, doc.ChunkNum)

	// Completed is terminal for MarkFailed.
	ok, err = s.MarkFailed(ctx, "doc-1", "late failure")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetForReindexOnlyFromFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateDocument(ctx, newTestDocument("doc-1", "u1", "hash-a"))
	require.NoError(t, err)

	ok, err := s.ResetForReindex(ctx, "u1", "doc-1")
	require.NoError(t, err)
	assert.False(t, ok, "pending document must not be re-indexable")

	_, err = s.ClaimDocument(ctx, "doc-1")
	require.NoError(t, err)
	_, err = s.MarkFailed(ctx, "doc-1", "embedding backend down")
	require.NoError(t, err)

	// Wrong user cannot reset.
	ok, err = s.ResetForReindex(ctx, "u2", "doc-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ResetForReindex(ctx, "u1", "doc-1")
	require.NoError(t, err)
	assert.True(t, ok)

	doc, err := s.GetDocument(ctx, "u1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, doc.Status)
	assert.Empty(t, doc.ProcessingError)
}

func TestSetProgressIgnoredOutsideProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateDocument(ctx, newTestDocument("doc-1", "u1", "hash-a"))
	require.NoError(t, err)

	require.NoError(t, s.SetProgress(ctx, "doc-1", 45))
	doc, err := s.GetDocument(ctx, "u1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Progress)

	_, err = s.ClaimDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.NoError(t, s.SetProgress(ctx, "doc-1", 45))

	doc, err = s.GetDocument(ctx, "u1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 45, doc.Progress)
}

func TestReplaceChunksIsAtomicPerDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateDocument(ctx, newTestDocument("doc-1", "u1", "hash-a"))
	require.NoError(t, err)

	first := []*model.Chunk{
		{ID: "c1", DocumentID: "doc-1", UserID: "u1", Index: 0, Text: "alpha", TextHash: "h1"},
		{ID: "c2", DocumentID: "doc-1", UserID: "u1", Index: 1, Text: "beta", TextHash: "h2"},
	}
	require.NoError(t, s.ReplaceChunks(ctx, "doc-1", first))

	second := []*model.Chunk{
		{ID: "c3", DocumentID: "doc-1", UserID: "u1", Index: 0, Text: "gamma", TextHash: "h3"},
	}
	require.NoError(t, s.ReplaceChunks(ctx, "doc-1", second))

	chunks, err := s.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "c3", chunks[0].ID)
}

func TestGetChunksByIDsFiltersByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateDocument(ctx, newTestDocument("doc-1", "u1", "hash-a"))
	require.NoError(t, err)
	require.NoError(t, s.ReplaceChunks(ctx, "doc-1", []*model.Chunk{
		{ID: "c1", DocumentID: "doc-1", UserID: "u1", Index: 0, Text: "alpha"},
	}))

	byID, err := s.GetChunksByIDs(ctx, "u1", []string{"c1", "missing"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "alpha", byID["c1"].Text)

	// Another tenant sees nothing even with the right chunk ID.
	byID, err = s.GetChunksByIDs(ctx, "u2", []string{"c1"})
	require.NoError(t, err)
	assert.Empty(t, byID)
}

func TestDeleteDocumentCascadesToChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateDocument(ctx, newTestDocument("doc-1", "u1", "hash-a"))
	require.NoError(t, err)
	require.NoError(t, s.ReplaceChunks(ctx, "doc-1", []*model.Chunk{
		{ID: "c1", DocumentID: "doc-1", UserID: "u1", Index: 0, Text: "alpha"},
		{ID: "c2", DocumentID: "doc-1", UserID: "u1", Index: 1, Text: "beta"},
	}))

	// Wrong user cannot delete.
	err = s.DeleteDocument(ctx, "u2", "doc-1")
	assert.ErrorIs(t, err, apierrors.ErrDocumentNotFound)

	require.NoError(t, s.DeleteDocument(ctx, "u1", "doc-1"))

	_, err = s.GetDocument(ctx, "u1", "doc-1")
	assert.ErrorIs(t, err, apierrors.ErrDocumentNotFound)

	n, err := s.CountChunks(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	// Registration after delete creates a fresh document.
	_, created, err := s.CreateDocument(ctx, newTestDocument("doc-9", "u1", "hash-a"))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.CreateDocument(ctx, newTestDocument("doc-1", "u1", "hash-a"))
	require.NoError(t, err)
	_, _, err = s.CreateDocument(ctx, newTestDocument("doc-2", "u1", "hash-b"))
	require.NoError(t, err)
	_, _, err = s.CreateDocument(ctx, newTestDocument("doc-3", "u2", "hash-a"))
	require.NoError(t, err)

	n, err := s.CountDocuments(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.CountDocuments(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecoverInterrupted(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	s := NewDocumentStore(db)
	ctx := context.Background()

	// A pending document whose queue delivery was lost.
	_, _, err = s.CreateDocument(ctx, newTestDocument("doc-lost", "u1", "hash-a"))
	require.NoError(t, err)

	// A processing document from a run that crashed long ago.
	_, _, err = s.CreateDocument(ctx, newTestDocument("doc-stale", "u1", "hash-b"))
	require.NoError(t, err)
	claimed, err := s.ClaimDocument(ctx, "doc-stale")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, db.Model(&model.Document{}).Where("id = ?", "doc-stale").
		UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error)

	// A document being processed right now.
	_, _, err = s.CreateDocument(ctx, newTestDocument("doc-live", "u1", "hash-c"))
	require.NoError(t, err)
	claimed, err = s.ClaimDocument(ctx, "doc-live")
	require.NoError(t, err)
	require.True(t, claimed)

	// A finished document.
	_, _, err = s.CreateDocument(ctx, newTestDocument("doc-done", "u1", "hash-d"))
	require.NoError(t, err)
	claimed, err = s.ClaimDocument(ctx, "doc-done")
	require.NoError(t, err)
	require.True(t, claimed)
	done, err := s.MarkCompleted(ctx, "doc-done", 1)
	require.NoError(t, err)
	require.True(t, done)

	ids, err := s.RecoverInterrupted(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-lost", "doc-stale"}, ids)

	stale, err := s.GetDocumentByID(ctx, "doc-stale")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stale.Status)
	assert.Zero(t, stale.Progress)

	live, err := s.GetDocumentByID(ctx, "doc-live")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, live.Status, "a fresh attempt is not reclaimed")

	finished, err := s.GetDocumentByID(ctx, "doc-done")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, finished.Status)
}

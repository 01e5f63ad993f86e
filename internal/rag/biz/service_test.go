package biz

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/lexica/internal/model"
	"github.com/kart-io/lexica/internal/rag/metrics"
	"github.com/kart-io/lexica/internal/rag/queue"
	"github.com/kart-io/lexica/internal/rag/store"
	apierrors "github.com/kart-io/lexica/pkg/errors"
)

// vocabEmbedding embeds text as a bag of vocabulary word counts, so texts
// sharing words land close in vector space. Deterministic, no network.
type vocabEmbedding struct {
	vocab []string
	calls int
}

func newVocabEmbedding() *vocabEmbedding {
	return &vocabEmbedding{
		vocab: []string{"section", "a", "b", "c", "indemnity", "liability", "termination", "say"},
	}
}

func (v *vocabEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	v.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(v.vocab))
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,:;?!\"'")
			for j, known := range v.vocab {
				if word == known {
					vec[j]++
				}
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (v *vocabEmbedding) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := v.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (v *vocabEmbedding) Name() string { return "vocab" }

type serviceFixture struct {
	svc      Service
	docs     store.DocumentStore
	vectors  store.VectorStore
	queue    queue.Queue
	ingestor *Ingestor
	chat     *stubChat
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))

	docs := store.NewDocumentStore(db)
	vectors := store.NewMemoryVectorStore()
	q := queue.NewMemoryQueue(64)
	m := metrics.New()
	provider := newVocabEmbedding()

	embedder, err := NewEmbedder(provider, EmbedderConfig{Dimension: 8, BatchSize: 16, Policy: fastPolicy(2)})
	require.NoError(t, err)
	chunker, err := NewChunker(100, 0)
	require.NoError(t, err)
	ingestor := NewIngestor(docs, vectors, NewParser(), chunker, embedder, fastPolicy(2), m)

	chat := &stubChat{answer: "Section B limits liability to direct damages."}
	generator, err := NewGenerator(chat, testPrompt, m)
	require.NoError(t, err)
	assembler, err := NewAssembler(6000)
	require.NoError(t, err)

	svc := NewService(
		ServiceConfig{DefaultTopK: 2, MaxTopK: 5, MaxUploadBytes: 1 << 20},
		docs, vectors, q,
		NewRetriever(embedder, vectors, docs),
		assembler, generator,
		NewAnswerCache(nil, nil),
		m,
	)

	return &serviceFixture{svc: svc, docs: docs, vectors: vectors, queue: q, ingestor: ingestor, chat: chat}
}

// drainQueue processes every queued document, standing in for the worker.
func (f *serviceFixture) drainQueue(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for {
		docID, err := f.queue.Dequeue(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		if docID == "" {
			return
		}
		_ = f.ingestor.Process(ctx, docID)
	}
}

// pad extends a section to exactly n runes, newline included, so the chunker
// cuts one chunk per section.
func pad(section string, n int) string {
	return section + strings.Repeat(" ", n-len([]rune(section))-1) + "\n"
}

func threeSectionContract() string {
	return pad("Section A: the supplier shall indemnity the customer for third party claims.", 90) +
		pad("Section B: liability is limited to direct damages paid under this agreement.", 90) +
		pad("Section C: termination requires ninety days of prior written notice here.", 90)
}

func (f *serviceFixture) registerAndIngest(t *testing.T, userID, filename, content string) *model.Document {
	t.Helper()

	doc, created, err := f.svc.RegisterDocument(context.Background(), userID, &DocumentUpload{
		Filename: filename,
		Content:  []byte(content),
	})
	require.NoError(t, err)
	require.True(t, created)
	f.drainQueue(t)
	return doc
}

func TestServiceAskAnswersWithCitations(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	doc := f.registerAndIngest(t, "u1", "contract.txt", threeSectionContract())

	stored, err := f.svc.GetDocument(ctx, "u1", doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, stored.Status)
	require.Equal(t, 3, stored.ChunkNum, "one chunk per section")

	result, err := f.svc.Ask(ctx, "u1", &AskRequest{Question: "What does section B say?", TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, "Section B limits liability to direct damages.", result.Answer)

	require.Len(t, result.Citations, 1)
	assert.Equal(t, doc.ID, result.Citations[0].DocumentID)

	chunks, err := f.docs.GetChunks(ctx, doc.ID)
	require.NoError(t, err)
	cited := result.Citations[0].ChunkID
	var citedText string
	for _, chunk := range chunks {
		if chunk.ID == cited {
			citedText = chunk.Text
		}
	}
	assert.Contains(t, citedText, "Section B", "citation must point at the matching section")
	assert.Contains(t, f.chat.messages[0].Content, "Section B", "prompt context must carry the cited text")
}

func TestServiceAskIsTenantScoped(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.registerAndIngest(t, "u1", "contract.txt", threeSectionContract())

	result, err := f.svc.Ask(ctx, "u2", &AskRequest{Question: "What does section B say?"})
	require.NoError(t, err)
	assert.Equal(t, noContextAnswer, result.Answer)
	assert.Empty(t, result.Citations)
	assert.Zero(t, f.chat.calls, "no LLM call without retrieved context")
}

func TestServiceDuplicateUploadIsNotRequeued(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	doc := f.registerAndIngest(t, "u1", "contract.txt", threeSectionContract())

	again, created, err := f.svc.RegisterDocument(ctx, "u1", &DocumentUpload{
		Filename: "renamed.txt",
		Content:  []byte(threeSectionContract()),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, doc.ID, again.ID)

	queued, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestServiceRegisterRejectsBadUploads(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.RegisterDocument(ctx, "u1", &DocumentUpload{Filename: "notes.md", Content: []byte("x")})
	assert.ErrorIs(t, err, apierrors.ErrUnsupportedFormat)

	_, _, err = f.svc.RegisterDocument(ctx, "u1", &DocumentUpload{Filename: "a.txt"})
	assert.ErrorIs(t, err, apierrors.ErrEmptyDocument)

	_, _, err = f.svc.RegisterDocument(ctx, "u1", &DocumentUpload{
		Filename: "big.txt",
		Content:  []byte(strings.Repeat("x", 2<<20)),
	})
	assert.ErrorIs(t, err, apierrors.ErrInvalidParam)

	_, _, err = f.svc.RegisterDocument(ctx, "", &DocumentUpload{Filename: "a.txt", Content: []byte("x")})
	assert.ErrorIs(t, err, apierrors.ErrInvalidParam)
}

func TestServiceReindexFailedDocument(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	doc, created, err := f.svc.RegisterDocument(ctx, "u1", &DocumentUpload{
		Filename: "broken.txt",
		Content:  []byte{0xff, 0xfe, 0x41},
	})
	require.NoError(t, err)
	require.True(t, created)
	f.drainQueue(t)

	stored, err := f.svc.GetDocument(ctx, "u1", doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, stored.Status)

	require.NoError(t, f.svc.Reindex(ctx, "u1", doc.ID))

	stored, err = f.svc.GetDocument(ctx, "u1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)

	queued, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), queued)
}

func TestServiceReindexRejectsWrongState(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	doc := f.registerAndIngest(t, "u1", "contract.txt", threeSectionContract())

	err := f.svc.Reindex(ctx, "u1", doc.ID)
	assert.ErrorIs(t, err, apierrors.ErrDocumentNotFailed)

	err = f.svc.Reindex(ctx, "u1", "no-such-doc")
	assert.ErrorIs(t, err, apierrors.ErrDocumentNotFound)

	// Another user cannot reset the document.
	err = f.svc.Reindex(ctx, "u2", doc.ID)
	assert.ErrorIs(t, err, apierrors.ErrDocumentNotFound)
}

func TestServiceDeleteDocumentRemovesEverything(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	doc := f.registerAndIngest(t, "u1", "contract.txt", threeSectionContract())

	require.NoError(t, f.svc.DeleteDocument(ctx, "u1", doc.ID))

	_, err := f.svc.GetDocument(ctx, "u1", doc.ID)
	assert.ErrorIs(t, err, apierrors.ErrDocumentNotFound)

	count, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	result, err := f.svc.Ask(ctx, "u1", &AskRequest{Question: "What does section B say?"})
	require.NoError(t, err)
	assert.Equal(t, noContextAnswer, result.Answer)
}

func TestServiceDeleteIsTenantScoped(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	doc := f.registerAndIngest(t, "u1", "contract.txt", threeSectionContract())

	err := f.svc.DeleteDocument(ctx, "u2", doc.ID)
	assert.ErrorIs(t, err, apierrors.ErrDocumentNotFound)

	// Still intact for the owner.
	_, err = f.svc.GetDocument(ctx, "u1", doc.ID)
	assert.NoError(t, err)
}

func TestServiceStats(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.registerAndIngest(t, "u1", "contract.txt", threeSectionContract())

	stats, err := f.svc.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Documents)
	assert.Equal(t, int64(3), stats.Chunks)
	assert.Equal(t, int64(3), stats.Vectors)

	other, err := f.svc.Stats(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, other.Documents)
	assert.Zero(t, other.Chunks)
}

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/lexica/pkg/component/milvus"
	apierrors "github.com/kart-io/lexica/pkg/errors"
)

// milvusVectorStore implements VectorStore on Milvus.
type milvusVectorStore struct {
	client     *milvus.Client
	collection string
}

var _ VectorStore = (*milvusVectorStore)(nil)

// NewMilvusVectorStore creates a VectorStore backed by a Milvus collection.
func NewMilvusVectorStore(client *milvus.Client, collection string) VectorStore {
	return &milvusVectorStore{client: client, collection: collection}
}

func (s *milvusVectorStore) EnsureReady(ctx context.Context, dimension int) error {
	if err := s.client.EnsureCollection(ctx, s.collection, dimension); err != nil {
		return apierrors.ErrVectorTimeout.WithCause(err)
	}
	return nil
}

func (s *milvusVectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]milvus.Record, len(records))
	for i, r := range records {
		rows[i] = milvus.Record{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			UserID:     r.UserID,
			ChunkIndex: int64(r.ChunkIndex),
			Embedding:  r.Embedding,
		}
	}

	if err := s.client.Upsert(ctx, s.collection, rows); err != nil {
		return apierrors.ErrVectorTimeout.WithCause(err)
	}
	return nil
}

func (s *milvusVectorStore) Search(ctx context.Context, vector []float32, topK int, filter SearchFilter) ([]VectorHit, error) {
	expr, err := buildFilterExpr(filter)
	if err != nil {
		return nil, err
	}

	hits, err := s.client.Search(ctx, s.collection, vector, topK, expr)
	if err != nil {
		return nil, apierrors.ErrVectorTimeout.WithCause(err)
	}

	out := make([]VectorHit, len(hits))
	for i, h := range hits {
		out[i] = VectorHit{
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			ChunkIndex: int(h.ChunkIndex),
			Score:      h.Score,
		}
	}
	return out, nil
}

func (s *milvusVectorStore) DeleteByDocument(ctx context.Context, userID, documentID string) error {
	expr := fmt.Sprintf(`%s == %s && %s == %s`,
		milvus.FieldUserID, quoteExprValue(userID),
		milvus.FieldDocumentID, quoteExprValue(documentID))
	if err := s.client.DeleteByExpr(ctx, s.collection, expr); err != nil {
		return apierrors.ErrVectorTimeout.WithCause(err)
	}
	return nil
}

func (s *milvusVectorStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.Count(ctx, s.collection)
	if err != nil {
		return 0, apierrors.ErrVectorTimeout.WithCause(err)
	}
	return n, nil
}

// buildFilterExpr renders a SearchFilter as a Milvus boolean expression.
// The user_id clause is always present; document IDs narrow it further.
func buildFilterExpr(filter SearchFilter) (string, error) {
	if filter.UserID == "" {
		return "", apierrors.ErrInvalidParam.WithMessage("search filter requires a user id")
	}

	expr := fmt.Sprintf("%s == %s", milvus.FieldUserID, quoteExprValue(filter.UserID))

	if len(filter.DocumentIDs) > 0 {
		quoted := make([]string, len(filter.DocumentIDs))
		for i, id := range filter.DocumentIDs {
			quoted[i] = quoteExprValue(id)
		}
		expr += fmt.Sprintf(" && %s in [%s]", milvus.FieldDocumentID, strings.Join(quoted, ", "))
	}

	return expr, nil
}

// quoteExprValue quotes a string literal for a Milvus filter expression.
func quoteExprValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

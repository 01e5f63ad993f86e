// Package milvus wraps the Milvus SDK client for chunk vector storage.
package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	milvusopts "github.com/kart-io/lexica/pkg/options/milvus"
)

// Field names of the chunk collection.
const (
	FieldChunkID    = "chunk_id"
	FieldDocumentID = "document_id"
	FieldUserID     = "user_id"
	FieldChunkIndex = "chunk_index"
	FieldEmbedding  = "embedding"
)

// Client wraps the Milvus SDK client.
type Client struct {
	client *milvusclient.Client
	opts   *milvusopts.Options
}

// New creates a new Milvus client.
func New(opts *milvusopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("milvus options is nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	return &Client{
		client: c,
		opts:   opts,
	}, nil
}

// withOpTimeout bounds a single data-path call so a hung Milvus node cannot
// block an ingestion worker or a waiting query indefinitely.
func (c *Client) withOpTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opts.Timeout)
}

// Close closes the Milvus client connection.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// RawClient returns the underlying Milvus client.
func (c *Client) RawClient() *milvusclient.Client {
	return c.client
}

// EnsureCollection creates the chunk collection if it does not exist.
//
// The primary key is the chunk ULID so that re-inserting the same chunk is an
// upsert and never produces duplicate vectors. Every record carries
// document_id and user_id so searches can be filtered per tenant and deletes
// can cascade per document.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension int) error {
	exists, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	schema := entity.NewSchema().
		WithName(name).
		WithDescription("Lexica document chunk embeddings").
		WithField(entity.NewField().
			WithName(FieldChunkID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64).
			WithIsPrimaryKey(true)).
		WithField(entity.NewField().
			WithName(FieldDocumentID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64)).
		WithField(entity.NewField().
			WithName(FieldUserID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(128)).
		WithField(entity.NewField().
			WithName(FieldChunkIndex).
			WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().
			WithName(FieldEmbedding).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dimension)))

	if err := c.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx := index.NewIvfFlatIndex(entity.COSINE, 128)
	createIdxTask, err := c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, FieldEmbedding, idx))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := createIdxTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for index creation: %w", err)
	}

	loadTask, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}

	return nil
}

// Record is one chunk embedding with its filterable payload.
type Record struct {
	ChunkID    string
	DocumentID string
	UserID     string
	ChunkIndex int64
	Embedding  []float32
}

// Upsert writes chunk embeddings. Existing chunk IDs are overwritten.
func (c *Client) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := c.withOpTimeout(ctx)
	defer cancel()

	chunkIDs := make([]string, len(records))
	docIDs := make([]string, len(records))
	userIDs := make([]string, len(records))
	indexes := make([]int64, len(records))
	vectors := make([][]float32, len(records))
	for i, r := range records {
		chunkIDs[i] = r.ChunkID
		docIDs[i] = r.DocumentID
		userIDs[i] = r.UserID
		indexes[i] = r.ChunkIndex
		vectors[i] = r.Embedding
	}

	columns := []column.Column{
		column.NewColumnVarChar(FieldChunkID, chunkIDs),
		column.NewColumnVarChar(FieldDocumentID, docIDs),
		column.NewColumnVarChar(FieldUserID, userIDs),
		column.NewColumnInt64(FieldChunkIndex, indexes),
		column.NewColumnFloatVector(FieldEmbedding, len(vectors[0]), vectors),
	}

	if _, err := c.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(collection, columns...)); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}

	flushTask, err := c.client.Flush(ctx, milvusclient.NewFlushOption(collection))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}

	return nil
}

// Hit is a single search hit.
type Hit struct {
	ChunkID    string
	DocumentID string
	UserID     string
	ChunkIndex int64
	Score      float32
}

// Search performs a filtered vector similarity search.
// The filter expression is mandatory; unfiltered search is never exposed.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int, filter string) ([]Hit, error) {
	if filter == "" {
		return nil, fmt.Errorf("search filter expression is required")
	}

	ctx, cancel := c.withOpTimeout(ctx)
	defer cancel()

	results, err := c.client.Search(ctx, milvusclient.NewSearchOption(
		collection,
		topK,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(FieldEmbedding).
		WithFilter(filter).
		WithSearchParam("nprobe", "16").
		WithOutputFields(FieldDocumentID, FieldUserID, FieldChunkIndex))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	if len(results) == 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount; i++ {
		hit := Hit{Score: results[0].Scores[i]}

		if idCol, ok := results[0].IDs.(*column.ColumnVarChar); ok {
			hit.ChunkID = idCol.Data()[i]
		}

		for _, field := range results[0].Fields {
			switch col := field.(type) {
			case *column.ColumnVarChar:
				switch col.Name() {
				case FieldDocumentID:
					hit.DocumentID = col.Data()[i]
				case FieldUserID:
					hit.UserID = col.Data()[i]
				}
			case *column.ColumnInt64:
				if col.Name() == FieldChunkIndex {
					hit.ChunkIndex = col.Data()[i]
				}
			}
		}

		hits = append(hits, hit)
	}

	return hits, nil
}

// DeleteByExpr deletes all vectors matching a filter expression.
func (c *Client) DeleteByExpr(ctx context.Context, collection string, expr string) error {
	ctx, cancel := c.withOpTimeout(ctx)
	defer cancel()

	if _, err := c.client.Delete(ctx, milvusclient.NewDeleteOption(collection).WithExpr(expr)); err != nil {
		return fmt.Errorf("failed to delete by expression: %w", err)
	}
	return nil
}

// DropCollection drops a collection.
func (c *Client) DropCollection(ctx context.Context, collection string) error {
	if err := c.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(collection)); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// Count returns the number of entities in a collection.
func (c *Client) Count(ctx context.Context, collection string) (int64, error) {
	ctx, cancel := c.withOpTimeout(ctx)
	defer cancel()

	stats, err := c.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(collection))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}

	if val, ok := stats["row_count"]; ok {
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, nil
}

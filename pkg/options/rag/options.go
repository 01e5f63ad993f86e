// Package rag provides RAG pipeline configuration options.
package rag

import (
	"fmt"
	"time"

	"github.com/kart-io/lexica/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// DefaultSystemPrompt is the default system prompt for answer generation.
const DefaultSystemPrompt = `You are a legal research assistant that answers questions strictly from the provided source excerpts.
Use only the context below. If the context does not contain the answer, say you cannot find it in the provided documents.
Cite the sources you rely on.

Context:
{{context}}`

// Options contains RAG pipeline configuration.
type Options struct {
	// ChunkSize is the chunk window size in runes.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the overlap between consecutive chunks in runes.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// TopK is the default number of results from similarity search.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// MaxTopK caps per-request top_k overrides.
	MaxTopK int `json:"max-top-k" mapstructure:"max-top-k"`

	// Collection is the vector collection name.
	Collection string `json:"collection" mapstructure:"collection"`

	// EmbeddingDim is the dimension of embedding vectors. Verified against
	// the provider with a probe embedding at startup.
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// ContextBudget is the maximum assembled context size in runes.
	ContextBudget int `json:"context-budget" mapstructure:"context-budget"`

	// WorkerConcurrency is the number of concurrent ingestion workers.
	WorkerConcurrency int `json:"worker-concurrency" mapstructure:"worker-concurrency"`

	// EmbedBatchSize is the number of chunks embedded per provider call.
	EmbedBatchSize int `json:"embed-batch-size" mapstructure:"embed-batch-size"`

	// MaxAttempts is the ingestion attempt budget per document, including
	// the first attempt.
	MaxAttempts int `json:"max-attempts" mapstructure:"max-attempts"`

	// MaxUploadBytes bounds document upload size.
	MaxUploadBytes int64 `json:"max-upload-bytes" mapstructure:"max-upload-bytes"`

	// QueueName is the ingestion job queue name.
	QueueName string `json:"queue-name" mapstructure:"queue-name"`

	// CacheTTL is the answer cache TTL. Zero disables the cache.
	CacheTTL time.Duration `json:"cache-ttl" mapstructure:"cache-ttl"`

	// SystemPrompt is the system prompt template for answer generation.
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		ChunkSize:         1000,
		ChunkOverlap:      150,
		TopK:              5,
		MaxTopK:           20,
		Collection:        "lexica_chunks",
		EmbeddingDim:      768, // nomic-embed-text dimension
		ContextBudget:     6000,
		WorkerConcurrency: 4,
		EmbedBatchSize:    16,
		MaxAttempts:       4,
		MaxUploadBytes:    32 << 20,
		QueueName:         "lexica:ingest",
		CacheTTL:          10 * time.Minute,
		SystemPrompt:      DefaultSystemPrompt,
	}
}

// AddFlags adds flags for RAG options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.ChunkSize, options.Join(prefixes...)+"rag.chunk-size", o.ChunkSize, "Chunk window size in runes.")
	fs.IntVar(&o.ChunkOverlap, options.Join(prefixes...)+"rag.chunk-overlap", o.ChunkOverlap, "Overlap between consecutive chunks in runes.")
	fs.IntVar(&o.TopK, options.Join(prefixes...)+"rag.top-k", o.TopK, "Default number of results from similarity search.")
	fs.IntVar(&o.MaxTopK, options.Join(prefixes...)+"rag.max-top-k", o.MaxTopK, "Maximum per-request top_k override.")
	fs.StringVar(&o.Collection, options.Join(prefixes...)+"rag.collection", o.Collection, "Vector collection name.")
	fs.IntVar(&o.EmbeddingDim, options.Join(prefixes...)+"rag.embedding-dim", o.EmbeddingDim, "Embedding vector dimension.")
	fs.IntVar(&o.ContextBudget, options.Join(prefixes...)+"rag.context-budget", o.ContextBudget, "Maximum assembled context size in runes.")
	fs.IntVar(&o.WorkerConcurrency, options.Join(prefixes...)+"rag.worker-concurrency", o.WorkerConcurrency, "Number of concurrent ingestion workers.")
	fs.IntVar(&o.EmbedBatchSize, options.Join(prefixes...)+"rag.embed-batch-size", o.EmbedBatchSize, "Number of chunks embedded per provider call.")
	fs.IntVar(&o.MaxAttempts, options.Join(prefixes...)+"rag.max-attempts", o.MaxAttempts, "Ingestion attempt budget per document.")
	fs.Int64Var(&o.MaxUploadBytes, options.Join(prefixes...)+"rag.max-upload-bytes", o.MaxUploadBytes, "Maximum document upload size in bytes.")
	fs.StringVar(&o.QueueName, options.Join(prefixes...)+"rag.queue-name", o.QueueName, "Ingestion job queue name.")
	fs.DurationVar(&o.CacheTTL, options.Join(prefixes...)+"rag.cache-ttl", o.CacheTTL, "Answer cache TTL (0 disables the cache).")
}

// Validate validates the RAG options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("chunk-overlap must not be negative"))
	}
	if o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk-overlap must be smaller than chunk-size"))
	}
	if o.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top-k must be positive"))
	}
	if o.MaxTopK < o.TopK {
		errs = append(errs, fmt.Errorf("max-top-k must be at least top-k"))
	}
	if o.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("embedding-dim must be positive"))
	}
	if o.ContextBudget <= 0 {
		errs = append(errs, fmt.Errorf("context-budget must be positive"))
	}
	if o.WorkerConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker-concurrency must be positive"))
	}
	if o.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("max-attempts must be positive"))
	}
	return errs
}

// Complete completes the RAG options with defaults.
func (o *Options) Complete() error {
	if o.SystemPrompt == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
	if o.EmbedBatchSize <= 0 {
		o.EmbedBatchSize = 16
	}
	if o.QueueName == "" {
		o.QueueName = "lexica:ingest"
	}
	return nil
}

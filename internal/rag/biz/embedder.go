package biz

import (
	"context"

	apierrors "github.com/kart-io/lexica/pkg/errors"
	"github.com/kart-io/lexica/pkg/llm"
	"github.com/kart-io/lexica/pkg/llm/resilience"
)

// Embedder wraps an embedding provider with batching, retry and dimension
// enforcement. Every vector leaving the Embedder has the configured dimension.
type Embedder struct {
	provider  llm.EmbeddingProvider
	dimension int
	batchSize int
	policy    *resilience.Policy
	// onRetry is invoked once per retried provider call. Optional.
	onRetry func()
}

// EmbedderConfig configures an Embedder.
type EmbedderConfig struct {
	Dimension int
	BatchSize int
	Policy    *resilience.Policy
	OnRetry   func()
}

// NewEmbedder creates an Embedder around the provider.
func NewEmbedder(provider llm.EmbeddingProvider, cfg EmbedderConfig) (*Embedder, error) {
	if provider == nil {
		return nil, apierrors.ErrInvalidParam.WithMessage("embedding provider is required")
	}
	if cfg.Dimension <= 0 {
		return nil, apierrors.ErrInvalidParam.WithMessage("embedding dimension must be positive")
	}
	if cfg.BatchSize <= 0 {
		return nil, apierrors.ErrInvalidParam.WithMessage("embed batch size must be positive")
	}
	policy := cfg.Policy
	if policy == nil {
		policy = resilience.DefaultPolicy()
	}
	return &Embedder{
		provider:  provider,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		policy:    policy,
		onRetry:   cfg.OnRetry,
	}, nil
}

// Dimension returns the configured embedding dimension.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// VerifyDimension probes the provider with a short text and checks that the
// returned vector matches the configured dimension. Run once at startup; a
// mismatch is fatal because mixed dimensions would poison the vector index.
func (e *Embedder) VerifyDimension(ctx context.Context) error {
	vec, err := e.embedBatch(ctx, []string{"dimension probe"})
	if err != nil {
		return err
	}
	if len(vec) != 1 || len(vec[0]) != e.dimension {
		got := 0
		if len(vec) == 1 {
			got = len(vec[0])
		}
		return apierrors.ErrDimensionMismatch.WithMessagef(
			"provider %s returned dimension %d, index expects %d", e.provider.Name(), got, e.dimension)
	}
	return nil
}

// Embed embeds texts in batches and returns one vector per input, in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	attempts := 0

	err := resilience.Retry(ctx, e.policy, func(ctx context.Context) error {
		attempts++
		if attempts > 1 && e.onRetry != nil {
			e.onRetry()
		}

		out, err := e.provider.Embed(ctx, texts)
		if err != nil {
			if _, ok := err.(*apierrors.Errno); ok {
				return err
			}
			return apierrors.ErrEmbeddingUnavailable.WithCause(err)
		}
		if len(out) != len(texts) {
			return apierrors.ErrEmbeddingUnavailable.WithMessagef(
				"provider %s returned %d vectors for %d texts", e.provider.Name(), len(out), len(texts))
		}
		for _, v := range out {
			if len(v) != e.dimension {
				return apierrors.ErrDimensionMismatch.WithMessagef(
					"provider %s returned dimension %d, index expects %d", e.provider.Name(), len(v), e.dimension)
			}
		}
		vectors = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

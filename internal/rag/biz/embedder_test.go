package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/kart-io/lexica/pkg/errors"
	"github.com/kart-io/lexica/pkg/llm/resilience"
)

// stubEmbedding returns deterministic vectors and records batch sizes. It can
// be scripted to fail a number of leading calls.
type stubEmbedding struct {
	dim        int
	batches    []int
	calls      int
	failFirst  int
	failErr    error
	wrongDimAt int // 1-based call index that returns dim+1 vectors, 0 disables
}

func (s *stubEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	s.batches = append(s.batches, len(texts))
	if s.calls <= s.failFirst {
		return nil, s.failErr
	}

	dim := s.dim
	if s.wrongDimAt == s.calls {
		dim++
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(len(text))
		}
		out[i] = vec
	}
	return out, nil
}

func (s *stubEmbedding) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (s *stubEmbedding) Name() string { return "stub" }

func fastPolicy(maxAttempts int) *resilience.Policy {
	return &resilience.Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1.0,
	}
}

func TestEmbedderBatching(t *testing.T) {
	provider := &stubEmbedding{dim: 4}
	e, err := NewEmbedder(provider, EmbedderConfig{Dimension: 4, BatchSize: 2})
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, vectors, 5)
	assert.Equal(t, []int{2, 2, 1}, provider.batches)
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "vector order must follow input order")
	}
}

func TestEmbedderEmptyInput(t *testing.T) {
	provider := &stubEmbedding{dim: 4}
	e, err := NewEmbedder(provider, EmbedderConfig{Dimension: 4, BatchSize: 2})
	require.NoError(t, err)

	vectors, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Zero(t, provider.calls)
}

func TestEmbedderRetriesTransientFailure(t *testing.T) {
	provider := &stubEmbedding{
		dim:       4,
		failFirst: 2,
		failErr:   errors.New("connection refused"),
	}

	retries := 0
	e, err := NewEmbedder(provider, EmbedderConfig{
		Dimension: 4,
		BatchSize: 8,
		Policy:    fastPolicy(4),
		OnRetry:   func() { retries++ },
	})
	require.NoError(t, err)

	vectors, err := e.Embed(context.Background(), []string{"q"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Equal(t, 3, provider.calls)
	assert.Equal(t, 2, retries)
}

func TestEmbedderExhaustsRetries(t *testing.T) {
	provider := &stubEmbedding{
		dim:       4,
		failFirst: 100,
		failErr:   errors.New("connection refused"),
	}
	e, err := NewEmbedder(provider, EmbedderConfig{Dimension: 4, BatchSize: 8, Policy: fastPolicy(3)})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"q"})
	assert.ErrorIs(t, err, apierrors.ErrEmbeddingUnavailable)
	assert.Equal(t, 3, provider.calls)
}

func TestEmbedderDimensionMismatchIsNotRetried(t *testing.T) {
	provider := &stubEmbedding{dim: 4, wrongDimAt: 1}
	e, err := NewEmbedder(provider, EmbedderConfig{Dimension: 4, BatchSize: 8, Policy: fastPolicy(4)})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"q"})
	assert.ErrorIs(t, err, apierrors.ErrDimensionMismatch)
	assert.Equal(t, 1, provider.calls, "config errors are terminal")
}

func TestEmbedderVerifyDimension(t *testing.T) {
	e, err := NewEmbedder(&stubEmbedding{dim: 4}, EmbedderConfig{Dimension: 4, BatchSize: 8})
	require.NoError(t, err)
	assert.NoError(t, e.VerifyDimension(context.Background()))

	e, err = NewEmbedder(&stubEmbedding{dim: 8}, EmbedderConfig{Dimension: 4, BatchSize: 8})
	require.NoError(t, err)
	assert.ErrorIs(t, e.VerifyDimension(context.Background()), apierrors.ErrDimensionMismatch)
}

func TestEmbedderQuery(t *testing.T) {
	e, err := NewEmbedder(&stubEmbedding{dim: 4}, EmbedderConfig{Dimension: 4, BatchSize: 8})
	require.NoError(t, err)

	vec, err := e.EmbedQuery(context.Background(), "question")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

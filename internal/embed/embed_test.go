package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder is a deterministic hash-vector embedder used to test
// SequentialBatch and dimension checking without a real provider.
type stubEmbedder struct {
	dimension  int
	failOn     string
	batchCalls int
}

func (s *stubEmbedder) Dimension() int { return s.dimension }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == s.failOn {
		return nil, errors.New("boom")
	}
	vec := make([]float32, s.dimension)
	for i := range vec {
		vec[i] = float32(len(text)+i) / 100
	}
	return vec, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.batchCalls++
	return SequentialBatch(ctx, s, texts)
}

func TestSequentialBatch_PreservesOrder(t *testing.T) {
	e := &stubEmbedder{dimension: 4}
	vectors, err := SequentialBatch(context.Background(), e, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.NotEqual(t, vectors[0], vectors[1])
}

func TestSequentialBatch_PropagatesFirstError(t *testing.T) {
	e := &stubEmbedder{dimension: 4, failOn: "bb"}
	_, err := SequentialBatch(context.Background(), e, []string{"a", "bb", "ccc"})
	require.Error(t, err)
}

func TestSequentialBatch_RespectsCancellation(t *testing.T) {
	e := &stubEmbedder{dimension: 4}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SequentialBatch(ctx, e, []string{"a", "b"})
	require.Error(t, err)
}

func TestCheckDimension_Mismatch(t *testing.T) {
	err := checkDimension([]float32{1, 2, 3}, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimMismatch)
}

func TestCheckDimension_ZeroExpectedSkipsCheck(t *testing.T) {
	err := checkDimension([]float32{1, 2, 3}, 0)
	require.NoError(t, err)
}

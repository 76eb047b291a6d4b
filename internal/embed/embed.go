// Package embed turns text into fixed-dimensional vectors (spec §4.1).
// Embedder is provider-agnostic: the default is an in-process fastembed
// model, with an HTTP (TEI-style) fallback for remote providers.
package embed

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimMismatch signals a provider returned a vector whose width doesn't
// match Dimension(). The indexer records it as a per-chunk warning.
var ErrDimMismatch = errors.New("embed: returned vector dimension mismatch")

// ErrProvider wraps network/auth failures from a remote embedding provider.
var ErrProvider = errors.New("embed: provider error")

// Embedder turns text into dense vectors. Dimension is stable for the
// lifetime of a bundle (spec §4.1 contract).
type Embedder interface {
	// Embed returns the vector for a single piece of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns vectors in the same order as texts. Implementations
	// that cannot batch natively fall back to sequential Embed calls so the
	// caller sees no difference (spec §4.1).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the fixed vector width this embedder produces.
	Dimension() int
}

// SequentialBatch is the spec-mandated fallback: call Embed once per text,
// preserving order, and surface the first error encountered.
func SequentialBatch(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed: sequential fallback at index %d: %w", i, err)
		}
		out[i] = vec
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// checkDimension validates a returned vector's width against the expected
// dimension, wrapping ErrDimMismatch with the observed/expected counts.
func checkDimension(vec []float32, expected int) error {
	if expected > 0 && len(vec) != expected {
		return fmt.Errorf("%w: got %d, want %d", ErrDimMismatch, len(vec), expected)
	}
	return nil
}

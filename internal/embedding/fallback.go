package embedding

import (
	"context"

	"github.com/blueberrycongee/semcache/internal/hash"
)

// FallbackEmbedder derives a pseudo-embedding purely from the prompt
// fingerprint. It is used when no provider is configured or the provider is
// unusable. The vectors carry no semantic meaning; the only contract is
// determinism (identical text yields an identical vector) and dimensional
// compatibility with the real provider, so similarity search never sees a
// dimension mismatch.
type FallbackEmbedder struct {
	dimension int
}

// NewFallbackEmbedder creates a fallback embedder producing vectors of the
// given dimension.
func NewFallbackEmbedder(dimension int) *FallbackEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &FallbackEmbedder{dimension: dimension}
}

// Embed returns the deterministic pseudo-embedding for text.
// Each coordinate is a small affine function of a byte of the hex digest.
func (e *FallbackEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	digest := hash.Fingerprint(text)
	vec := make([]float64, e.dimension)
	for i := range vec {
		vec[i] = (float64(digest[i%len(digest)]) - 64) / 64
	}
	return vec, nil
}

// Model returns the sentinel model name for fallback vectors.
func (e *FallbackEmbedder) Model() string {
	return "fingerprint-fallback"
}

// Dimension returns the embedding dimension.
func (e *FallbackEmbedder) Dimension() int {
	return e.dimension
}

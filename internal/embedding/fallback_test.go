package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackDeterministic(t *testing.T) {
	e := NewFallbackEmbedder(DefaultDimension)

	a, err := e.Embed(context.Background(), "capital of France?")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "capital of France?")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, DefaultDimension)
}

func TestFallbackNormalizesLikeFingerprint(t *testing.T) {
	e := NewFallbackEmbedder(64)

	a, _ := e.Embed(context.Background(), "Hello World")
	b, _ := e.Embed(context.Background(), "  hello world  ")
	assert.Equal(t, a, b)
}

func TestFallbackDistinctTexts(t *testing.T) {
	e := NewFallbackEmbedder(64)

	a, _ := e.Embed(context.Background(), "alpha")
	b, _ := e.Embed(context.Background(), "beta")
	assert.NotEqual(t, a, b)
}

func TestFallbackCoordinateRange(t *testing.T) {
	e := NewFallbackEmbedder(256)

	vec, _ := e.Embed(context.Background(), "range check")
	for _, x := range vec {
		// Hex digest bytes are '0'-'9' and 'a'-'f'.
		assert.GreaterOrEqual(t, x, (48.0-64)/64)
		assert.LessOrEqual(t, x, (102.0-64)/64)
	}
}

func TestFallbackDefaultsDimension(t *testing.T) {
	e := NewFallbackEmbedder(0)
	assert.Equal(t, DefaultDimension, e.Dimension())
	assert.Equal(t, "fingerprint-fallback", e.Model())
}

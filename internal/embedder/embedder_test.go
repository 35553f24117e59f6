package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	c := NewCache(2)

	c.Set("a", []float32{1, 2})
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)

	// Returned slices are copies
	got[0] = 99
	again, _ := c.Get("a")
	assert.Equal(t, float32(1), again[0])

	c.Set("b", []float32{3})
	c.Set("c", []float32{4})
	assert.Equal(t, 2, c.Size())
	_, ok = c.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestComputeHash(t *testing.T) {
	assert.Equal(t, ComputeHash("x"), ComputeHash("x"))
	assert.NotEqual(t, ComputeHash("x"), ComputeHash("y"))
	assert.Len(t, ComputeHash("x"), 64)
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}

func TestLocalProvider(t *testing.T) {
	p := NewLocalProvider()
	ctx := context.Background()

	a, err := p.Embed(ctx, "The quick brown fox")
	require.NoError(t, err)
	assert.Len(t, a, LocalDimension)

	b, err := p.Embed(ctx, "the QUICK brown fox!")
	require.NoError(t, err)
	assert.Equal(t, a, b, "tokenization is case and punctuation insensitive")

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	_, err = p.Embed(ctx, "  ")
	assert.ErrorIs(t, err, ErrEmptyText)

	assert.Equal(t, "local/"+DefaultLocalModel, ModelID(p))
}

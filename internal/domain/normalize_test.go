package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_ScalesToOne(t *testing.T) {
	out := Normalize([]float64{0.7, 0.5, 0.3})
	require.Len(t, out, 3)
	assert.InDelta(t, 0.4667, out[0], 1e-4)
	assert.InDelta(t, 0.3333, out[1], 1e-4)
	assert.InDelta(t, 0.2000, out[2], 1e-4)

	sum := out[0] + out[1] + out[2]
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestNormalize_EqualDistributionOnZero(t *testing.T) {
	out := Normalize([]float64{0, 0, 0, 0})
	for _, v := range out {
		assert.InDelta(t, 0.25, v, 1e-9)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	first := Normalize([]float64{0.6, 0.4})
	second := Normalize(first)
	for i := range first {
		assert.InDelta(t, first[i], second[i], 1e-6)
	}
}

func TestNormalizeWithRenormalizeOnce_Succeeds(t *testing.T) {
	out, ok := NormalizeWithRenormalizeOnce([]float64{0.6, 0.4})
	require.True(t, ok)
	assert.True(t, SumWithinTolerance(out))
}

func TestSumWithinTolerance(t *testing.T) {
	assert.True(t, SumWithinTolerance([]float64{0.5, 0.5}))
	assert.True(t, SumWithinTolerance([]float64{0.3334, 0.3333, 0.3333}))
	assert.False(t, SumWithinTolerance([]float64{0.5, 0.3}))
}

func TestClampedMaxDepth(t *testing.T) {
	assert.Equal(t, DefaultMaxDepth, SeedInput{}.ClampedMaxDepth())
	assert.Equal(t, 1, SeedInput{MaxDepth: -2}.ClampedMaxDepth())
	assert.Equal(t, 5, SeedInput{MaxDepth: 9}.ClampedMaxDepth())
	assert.Equal(t, 2, SeedInput{MaxDepth: 2}.ClampedMaxDepth())
}

package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoBlobs returns points in two well-separated groups.
func twoBlobs() [][]float64 {
	return [][]float64{
		{0.0, 0.1}, {0.1, 0.0}, {0.1, 0.1}, {0.0, 0.0},
		{10.0, 10.1}, {10.1, 10.0}, {10.1, 10.1}, {10.0, 10.0},
	}
}

func TestKMeansSeparatesBlobs(t *testing.T) {
	labels, err := KMeans(twoBlobs(), 2)
	require.NoError(t, err)
	require.Len(t, labels, 8)

	first := labels[0]
	second := labels[4]
	assert.NotEqual(t, first, second, "blobs land in different clusters")
	for i := 0; i < 4; i++ {
		assert.Equal(t, first, labels[i])
	}
	for i := 4; i < 8; i++ {
		assert.Equal(t, second, labels[i])
	}
}

func TestKMeansDeterministic(t *testing.T) {
	a, err := KMeans(twoBlobs(), 2)
	require.NoError(t, err)
	b, err := KMeans(twoBlobs(), 2)
	require.NoError(t, err)
	assert.Equal(t, a, b, "fixed seed gives identical assignments")
}

func TestKMeansErrors(t *testing.T) {
	t.Run("too few points", func(t *testing.T) {
		_, err := KMeans([][]float64{{1}, {2}}, 3)
		require.ErrorIs(t, err, ErrTooFewPoints)
	})

	t.Run("non-positive k", func(t *testing.T) {
		_, err := KMeans(twoBlobs(), 0)
		require.Error(t, err)
	})
}

func TestKMeansSinglePointClusters(t *testing.T) {
	points := [][]float64{{0, 0}, {5, 5}, {10, 10}}
	labels, err := KMeans(points, 3)
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, l := range labels {
		seen[l] = true
	}
	assert.Len(t, seen, 3, "each point gets its own cluster")
}

func TestKMeansIdenticalPoints(t *testing.T) {
	points := [][]float64{{1, 1}, {1, 1}, {1, 1}, {1, 1}}
	labels, err := KMeans(points, 2)
	require.NoError(t, err)
	require.Len(t, labels, 4)
}

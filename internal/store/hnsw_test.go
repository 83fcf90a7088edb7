package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(VectorIndexConfig{Dimensions: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func seedVectors(t *testing.T, idx *HNSWIndex) {
	t.Helper()
	err := idx.Add(context.Background(),
		[]string{"a", "b", "c"},
		[][]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0.9, 0.1, 0, 0},
		})
	require.NoError(t, err)
}

func TestNewHNSWIndex_RejectsZeroDimensions(t *testing.T) {
	_, err := NewHNSWIndex(VectorIndexConfig{})
	assert.Error(t, err)
}

func TestHNSWIndex_SearchReturnsNearestFirst(t *testing.T) {
	// Given: three vectors, two pointing along the first axis
	idx := newTestHNSW(t)
	seedVectors(t, idx)

	// When: querying along the first axis
	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)

	// Then: the exact match ranks first with a score near 1
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)
	assert.Equal(t, "c", results[1].ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestHNSWIndex_ScoresWithinUnitRange(t *testing.T) {
	idx := newTestHNSW(t)
	seedVectors(t, idx)

	results, err := idx.Search(context.Background(), []float32{-1, 0, 0, 0}, 3)
	require.NoError(t, err)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, float32(0))
		assert.LessOrEqual(t, r.Score, float32(1.0001))
	}
}

func TestHNSWIndex_DimensionMismatch(t *testing.T) {
	idx := newTestHNSW(t)

	err := idx.Add(context.Background(), []string{"x"}, [][]float32{{1, 2}})
	var dimErr ErrDimensionMismatch
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = idx.Search(context.Background(), []float32{1}, 1)
	assert.True(t, errors.As(err, &dimErr))
}

func TestHNSWIndex_DeleteHidesVector(t *testing.T) {
	idx := newTestHNSW(t)
	seedVectors(t, idx)

	require.NoError(t, idx.Delete(context.Background(), []string{"a"}))

	assert.Equal(t, 2, idx.Count())
	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestHNSWIndex_ReaddRepointsID(t *testing.T) {
	idx := newTestHNSW(t)
	seedVectors(t, idx)

	// "a" now points along the fourth axis
	require.NoError(t, idx.Add(context.Background(), []string{"a"}, [][]float32{{0, 0, 0, 1}}))

	assert.Equal(t, 3, idx.Count())
	results, err := idx.Search(context.Background(), []float32{0, 0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestHNSWIndex_SearchHonorsCancelledContext(t *testing.T) {
	idx := newTestHNSW(t)
	seedVectors(t, idx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHNSWIndex_EmptyIndexSearch(t *testing.T) {
	idx := newTestHNSW(t)

	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// =============================================================================
// Persistence
// =============================================================================

func TestHNSWIndex_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	idx := newTestHNSW(t)
	seedVectors(t, idx)
	require.NoError(t, idx.Save(path))

	loaded, err := LoadHNSWIndex(path, VectorIndexConfig{Dimensions: 4})
	require.NoError(t, err)
	defer func() { _ = loaded.Close() }()

	assert.Equal(t, 3, loaded.Count())
	results, err := loaded.Search(context.Background(), []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestLoadHNSWIndex_MissingFileIsEmpty(t *testing.T) {
	loaded, err := LoadHNSWIndex(filepath.Join(t.TempDir(), "none.hnsw"), VectorIndexConfig{Dimensions: 4})
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Count())
}

func TestLoadHNSWIndex_DimensionChangeFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	idx := newTestHNSW(t)
	seedVectors(t, idx)
	require.NoError(t, idx.Save(path))

	_, err := LoadHNSWIndex(path, VectorIndexConfig{Dimensions: 8})
	var dimErr ErrDimensionMismatch
	assert.True(t, errors.As(err, &dimErr))
}

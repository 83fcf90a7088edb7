package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsistencyChecker_AfterLoad(t *testing.T) {
	s := newTestStores(t, "")
	_, err := newTestRunner(t, s, nil).Run(context.Background(), loadSample(t))
	require.NoError(t, err)

	res, err := NewConsistencyChecker(s).Check(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Consistent)
	assert.Equal(t, 7, res.Chunks)
	assert.Equal(t, 7, res.Lexical)
	assert.Equal(t, 7, res.Vectors)
	assert.Equal(t, 6, res.Rows)
	assert.Equal(t, 3, res.Mappings)
	assert.Equal(t, 1, res.Unmapped)
}

func TestConsistencyChecker_DetectsMissingVectors(t *testing.T) {
	s := newTestStores(t, "")
	ctx := context.Background()
	_, err := newTestRunner(t, s, nil).Run(ctx, loadSample(t))
	require.NoError(t, err)

	// An interrupted load leaves chunks without vectors.
	require.NoError(t, s.Vector.Delete(ctx, []string{"ar24-p3-0"}))

	res, err := NewConsistencyChecker(s).Check(ctx)
	require.NoError(t, err)
	assert.False(t, res.Consistent)
	assert.Equal(t, 6, res.Vectors)
}

func TestConsistencyChecker_Empty(t *testing.T) {
	res, err := NewConsistencyChecker(newTestStores(t, "")).Check(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Consistent)
	assert.Zero(t, res.Chunks)
}

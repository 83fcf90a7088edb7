package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/finrag/internal/embed"
	ferrors "github.com/Aman-CERP/finrag/internal/errors"
	"github.com/Aman-CERP/finrag/internal/store"
)

func testChunks() []*store.Chunk {
	return []*store.Chunk{
		{ID: "c1", DocumentID: "report-2025", PageNumber: 3, SectionTitle: "1.1.1 Portugal",
			ElementType: store.ElementParagraph,
			Text:        "Kiln maintenance in Portugal raised variable cost in August."},
		{ID: "c2", DocumentID: "report-2025", PageNumber: 4, SectionTitle: "1.1.1 Portugal",
			ElementType: store.ElementTable, Text: "| Portugal | variable cost | 23.2 |"},
		{ID: "c3", DocumentID: "report-2025", PageNumber: 4, SectionTitle: "1.1.1 Portugal",
			ElementType: store.ElementTableSummary, ParentChunkID: "c2",
			Text: "Table of Portugal variable cost per ton."},
		{ID: "c4", DocumentID: "report-2025", PageNumber: 9, SectionTitle: "1.2 Tunisia",
			ElementType: store.ElementParagraph, Text: "Tunisia volumes recovered after the strike."},
	}
}

func newChunkStore(t *testing.T) *store.ChunkStore {
	t.Helper()
	cs, err := store.NewChunkStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	require.NoError(t, cs.SaveChunks(context.Background(), testChunks()))
	return cs
}

// =============================================================================
// Lexical
// =============================================================================

func TestLexicalRetriever_ResolvesProvenance(t *testing.T) {
	ctx := context.Background()
	idx, err := store.NewSQLiteFTSIndex("", store.DefaultLexicalConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	docs := make([]*store.Document, 0, 4)
	for _, c := range testChunks() {
		docs = append(docs, &store.Document{ID: c.ID, Content: c.Text})
	}
	require.NoError(t, idx.Index(ctx, docs))

	r, err := NewLexicalRetriever(idx, newChunkStore(t))
	require.NoError(t, err)

	got, err := r.Retrieve(ctx, &ClassifiedQuery{Raw: "kiln maintenance"}, 10)

	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "c1", got[0].Reference)
	assert.Equal(t, SourceChunk, got[0].Kind)
	require.NotNil(t, got[0].Chunk)
	assert.Equal(t, "report-2025", got[0].provenance().DocumentID)
	assert.Equal(t, 3, got[0].provenance().PageNumber)
	assert.Positive(t, got[0].Score)
	assert.Equal(t, BackendLexical, r.Name())
}

func TestLexicalRetriever_IndexFailureIsUnavailable(t *testing.T) {
	idx, err := store.NewSQLiteFTSIndex("", store.DefaultLexicalConfig())
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	r, err := NewLexicalRetriever(idx, newChunkStore(t))
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), &ClassifiedQuery{Raw: "kiln"}, 10)

	assert.ErrorIs(t, err, ferrors.ErrBackendUnavailable)
}

// =============================================================================
// Vector
// =============================================================================

func newVectorFixture(t *testing.T, dims int) (*store.HNSWIndex, embed.Embedder) {
	t.Helper()
	ctx := context.Background()
	emb := embed.NewStaticEmbedder(embed.StaticDimensions)
	idx, err := store.NewHNSWIndex(store.VectorIndexConfig{Dimensions: dims})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	if dims != embed.StaticDimensions {
		return idx, emb
	}

	chunks := testChunks()
	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i], ids[i] = c.Text, c.ID
	}
	vecs, err := emb.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, ids, vecs))
	return idx, emb
}

func TestVectorRetriever_NearestChunkFirst(t *testing.T) {
	idx, emb := newVectorFixture(t, embed.StaticDimensions)
	r, err := NewVectorRetriever(idx, emb, newChunkStore(t))
	require.NoError(t, err)

	got, err := r.Retrieve(context.Background(),
		&ClassifiedQuery{Raw: "Tunisia volumes recovered after the strike."}, 2)

	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "c4", got[0].Reference)
	assert.Equal(t, "1.2 Tunisia", got[0].Chunk.SectionTitle)
	assert.LessOrEqual(t, got[0].Score, 1.0)
	assert.Equal(t, BackendVector, r.Name())
}

func TestVectorRetriever_DimensionMismatch(t *testing.T) {
	idx, emb := newVectorFixture(t, 8)
	r, err := NewVectorRetriever(idx, emb, newChunkStore(t))
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), &ClassifiedQuery{Raw: "kiln"}, 5)

	require.Error(t, err)
	assert.ErrorIs(t, err, ferrors.ErrDimensionMismatch)
	var dim store.ErrDimensionMismatch
	assert.True(t, errors.As(err, &dim))
}

func TestVectorRetriever_EmbedderClosedIsUnavailable(t *testing.T) {
	idx, _ := newVectorFixture(t, embed.StaticDimensions)
	emb := embed.NewStaticEmbedder(embed.StaticDimensions)
	require.NoError(t, emb.Close())
	r, err := NewVectorRetriever(idx, emb, newChunkStore(t))
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), &ClassifiedQuery{Raw: "kiln"}, 5)

	assert.ErrorIs(t, err, ferrors.ErrBackendUnavailable)
}

// =============================================================================
// Structured
// =============================================================================

func TestStructuredRetriever_ScoresByTier(t *testing.T) {
	r, err := NewStructuredRetriever(newTableSearch(t, newSeededTableStore(t), newTestNormalizer(t)))
	require.NoError(t, err)

	got, err := r.Retrieve(context.Background(), &ClassifiedQuery{Entities: []string{"Portugal"}}, 10)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "row:1", got[0].Reference)
	assert.Equal(t, SourceStructuredRow, got[0].Kind)
	assert.Equal(t, 6.0, got[0].Score)
	assert.Equal(t, TierExact, got[0].MatchTier)
	assert.Equal(t, BackendStructured, r.Name())
}

func TestNewRetrievers_RequireDependencies(t *testing.T) {
	_, err := NewStructuredRetriever(nil)
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewLexicalRetriever(nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)

	idx, err := store.NewHNSWIndex(store.VectorIndexConfig{Dimensions: 4})
	require.NoError(t, err)
	_, err = NewVectorRetriever(idx, nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/Aman-CERP/finrag/internal/embed"
	ferrors "github.com/Aman-CERP/finrag/internal/errors"
	"github.com/Aman-CERP/finrag/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// ChunkResolver resolves chunk ids to stored chunks for provenance.
type ChunkResolver interface {
	GetChunks(ctx context.Context, ids []string) (map[string]*store.Chunk, error)
}

// StructuredRetriever serves the structured backend from the table store.
type StructuredRetriever struct {
	search *TableSearch
}

// NewStructuredRetriever wraps a table search.
func NewStructuredRetriever(ts *TableSearch) (*StructuredRetriever, error) {
	if ts == nil {
		return nil, fmt.Errorf("%w: table search is required", ErrNilDependency)
	}
	return &StructuredRetriever{search: ts}, nil
}

// Name implements Retriever.
func (r *StructuredRetriever) Name() Backend { return BackendStructured }

// Retrieve implements Retriever.
func (r *StructuredRetriever) Retrieve(ctx context.Context, q *ClassifiedQuery, limit int) ([]Candidate, error) {
	rows, err := r.search.Search(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(rows))
	for i, s := range rows {
		out[i] = Candidate{
			Reference: s.Row.Reference(),
			Score:     s.Score(),
			Kind:      SourceStructuredRow,
			Row:       s.Row,
			MatchTier: s.Tier,
		}
	}
	return out, nil
}

// LexicalRetriever serves the lexical backend from a term index.
type LexicalRetriever struct {
	index  store.LexicalIndex
	chunks ChunkResolver
}

// NewLexicalRetriever creates a lexical retriever.
func NewLexicalRetriever(index store.LexicalIndex, chunks ChunkResolver) (*LexicalRetriever, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}
	if chunks == nil {
		return nil, fmt.Errorf("%w: chunk resolver is required", ErrNilDependency)
	}
	return &LexicalRetriever{index: index, chunks: chunks}, nil
}

// Name implements Retriever.
func (r *LexicalRetriever) Name() Backend { return BackendLexical }

// Retrieve implements Retriever.
func (r *LexicalRetriever) Retrieve(ctx context.Context, q *ClassifiedQuery, limit int) ([]Candidate, error) {
	hits, err := r.index.Search(ctx, q.Raw, limit)
	if err != nil {
		return nil, backendError(BackendLexical, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, backendError(BackendLexical, err)
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
	}
	chunks, err := r.chunks.GetChunks(ctx, ids)
	if err != nil {
		return nil, backendError(BackendLexical, err)
	}

	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, Candidate{
			Reference:    h.DocID,
			Score:        h.Score,
			Kind:         SourceChunk,
			Chunk:        chunks[h.DocID],
			MatchedTerms: h.MatchedTerms,
		})
	}
	return out, nil
}

// VectorRetriever serves the vector backend: it embeds the query and asks
// the nearest-neighbour index.
type VectorRetriever struct {
	index    store.VectorIndex
	embedder embed.Embedder
	chunks   ChunkResolver
}

// NewVectorRetriever creates a vector retriever.
func NewVectorRetriever(index store.VectorIndex, embedder embed.Embedder, chunks ChunkResolver) (*VectorRetriever, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if chunks == nil {
		return nil, fmt.Errorf("%w: chunk resolver is required", ErrNilDependency)
	}
	return &VectorRetriever{index: index, embedder: embedder, chunks: chunks}, nil
}

// Name implements Retriever.
func (r *VectorRetriever) Name() Backend { return BackendVector }

// Retrieve implements Retriever.
func (r *VectorRetriever) Retrieve(ctx context.Context, q *ClassifiedQuery, limit int) ([]Candidate, error) {
	vec, err := r.embedder.Embed(ctx, q.Raw)
	if err != nil {
		return nil, backendError(BackendVector, err)
	}

	hits, err := r.index.Search(ctx, vec, limit)
	if err != nil {
		var dim store.ErrDimensionMismatch
		if errors.As(err, &dim) {
			return nil, ferrors.New(ferrors.ErrCodeDimensionMismatch, dim.Error(), err).
				WithSuggestion("Rebuild the vector index with the configured embedder")
		}
		return nil, backendError(BackendVector, err)
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	chunks, err := r.chunks.GetChunks(ctx, ids)
	if err != nil {
		return nil, backendError(BackendVector, err)
	}

	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, Candidate{
			Reference: h.ID,
			Score:     float64(h.Score),
			Kind:      SourceChunk,
			Chunk:     chunks[h.ID],
		})
	}
	return out, nil
}

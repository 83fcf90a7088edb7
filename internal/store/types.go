// Package store provides the three retrieval stores: a lexical index (SQLite
// FTS5 or Bleve), a vector index (HNSW), and the structured table store
// (SQLite or Postgres), plus chunk provenance in SQLite.
// Stores are written by ingestion and read concurrently at query time.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ElementType is the kind of document element a chunk was cut from.
type ElementType string

const (
	ElementTable        ElementType = "table"
	ElementParagraph    ElementType = "paragraph"
	ElementTableSummary ElementType = "table_summary"
)

// Valid reports whether t is a known element type.
func (t ElementType) Valid() bool {
	switch t {
	case ElementTable, ElementParagraph, ElementTableSummary:
		return true
	}
	return false
}

// Chunk is a retrievable unit of document text. The embedding lives in the
// vector index under the same ID. Chunks are immutable once indexed and ids
// of retired chunks are never reused.
type Chunk struct {
	ID           string
	Text         string
	DocumentID   string
	PageNumber   int
	SectionTitle string
	ElementType  ElementType

	// ParentChunkID links a table_summary to the table chunk it summarizes.
	ParentChunkID string
}

// LogicalID is the id a chunk deduplicates under: a table_summary and its
// parent table are the same logical reference.
func (c *Chunk) LogicalID() string {
	if c.ElementType == ElementTableSummary && c.ParentChunkID != "" {
		return c.ParentChunkID
	}
	return c.ID
}

// StructuredRow is one fact extracted from a financial table.
// DocumentID, PageNumber and ChunkText are always set so the row can be
// cited even when EntityNormalized is nil.
type StructuredRow struct {
	ID               int64
	DocumentID       string
	PageNumber       int
	TableIndex       int
	EntityRaw        string
	EntityNormalized *string
	Metric           string
	Period           string
	FiscalYear       int

	// Value is the exact decimal literal, e.g. "23.2".
	Value string
	Unit  string

	ChunkText      string
	SectionContext string
}

// Normalized returns EntityNormalized or "".
func (r *StructuredRow) Normalized() string {
	if r.EntityNormalized == nil {
		return ""
	}
	return *r.EntityNormalized
}

// Float parses Value.
func (r *StructuredRow) Float() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
}

// Reference is the id a row is fused and cited under.
func (r *StructuredRow) Reference() string {
	return "row:" + strconv.FormatInt(r.ID, 10)
}

// EntityMapping is one canonical entity and the raw mentions that map to it.
// CanonicalName is unique. RawMentions may overlap across mappings only when
// SectionContext tells them apart.
type EntityMapping struct {
	CanonicalName  string   `yaml:"canonical_name" json:"canonical_name"`
	RawMentions    []string `yaml:"raw_mentions" json:"raw_mentions"`
	EntityType     string   `yaml:"entity_type" json:"entity_type"`
	SectionContext string   `yaml:"section_context,omitempty" json:"section_context,omitempty"`
}

// Document is a chunk's text as handed to a lexical index.
type Document struct {
	ID      string
	Content string
}

// LexicalResult is one lexical hit. Scores are unbounded positive BM25
// values, higher is better.
type LexicalResult struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// LexicalIndex is an inverted term index over chunk text.
type LexicalIndex interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error)
	Delete(ctx context.Context, docIDs []string) error
	Count() int
	Close() error
}

// LexicalConfig configures tokenization for lexical indexes.
type LexicalConfig struct {
	StopWords []string
}

// DefaultLexicalConfig returns the English stop list tuned for report prose.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{StopWords: DefaultStopWords}
}

// DefaultStopWords are dropped at index and query time. Units and "per" are
// kept since they carry meaning in financial tables.
var DefaultStopWords = []string{
	"a", "an", "the", "of", "in", "on", "at", "to", "for", "and", "or",
	"is", "was", "were", "be", "been", "are", "what", "which", "how",
	"did", "does", "do", "with", "by", "from", "as", "it", "its", "that",
	"this", "these", "those",
}

// VectorResult is one nearest-neighbour hit.
type VectorResult struct {
	ID       string
	Distance float32 // cosine distance, 0-2
	Score    float32 // similarity mapped to 0-1
}

// VectorIndexConfig configures the HNSW graph.
type VectorIndexConfig struct {
	Dimensions int
	// M is max connections per layer (default: 16)
	M int
	// EfSearch is query-time search width (default: 20)
	EfSearch int
}

// VectorIndex is a nearest-neighbour index over chunk embeddings.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	Count() int
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Package search routes a financial question to the structured, lexical and
// vector backends, runs them concurrently under per-backend deadlines, and
// fuses what came back into one ranked, provenance-carrying result list.
package search

import (
	"context"
	"sort"
	"time"

	"github.com/Aman-CERP/finrag/internal/store"
)

// Route is the classifier's decision about which retrieval path fits a query.
type Route string

const (
	RouteLexical    Route = "LEXICAL"
	RouteVector     Route = "VECTOR"
	RouteStructured Route = "STRUCTURED"
	RouteHybrid     Route = "HYBRID"
)

// Backend names a retrieval backend.
type Backend string

const (
	BackendStructured Backend = "structured"
	BackendLexical    Backend = "lexical"
	BackendVector     Backend = "vector"
)

// AllBackends is every backend in dispatch order.
var AllBackends = []Backend{BackendStructured, BackendLexical, BackendVector}

// SourceKind is what a ranked result points at.
type SourceKind string

const (
	SourceChunk         SourceKind = "chunk"
	SourceStructuredRow SourceKind = "structured_row"
)

// ClassifiedQuery is the classifier's reading of a query. It is owned by a
// single request and never mutated after classification.
type ClassifiedQuery struct {
	Raw      string
	Route    Route
	Backends []Backend

	Entities []string
	Metrics  []string
	Periods  []string

	// Cues names the rule that fired and the tokens that triggered it.
	Cues []string

	// HighConfidence is set when entity, metric and period were all
	// extracted. The structured weight is boosted for such queries.
	HighConfidence bool
}

// Dispatches reports whether b is in the query's backend set.
func (q *ClassifiedQuery) Dispatches(b Backend) bool {
	for _, d := range q.Backends {
		if d == b {
			return true
		}
	}
	return false
}

// Provenance locates a result in its source document.
type Provenance struct {
	DocumentID   string `json:"document_id"`
	PageNumber   int    `json:"page_number"`
	Snippet      string `json:"snippet"`
	SectionTitle string `json:"section_title,omitempty"`
}

// Candidate is one backend hit handed to fusion. Backends return candidates
// ordered best first.
type Candidate struct {
	Reference string
	Score     float64
	Kind      SourceKind

	// Chunk is set for chunk hits that resolved in the chunk store.
	Chunk *store.Chunk

	// Row and MatchTier are set for structured hits.
	Row       *store.StructuredRow
	MatchTier int

	MatchedTerms []string
}

// logicalID is the key fusion deduplicates on.
func (c Candidate) logicalID() string {
	if c.Kind == SourceChunk && c.Chunk != nil {
		return c.Chunk.LogicalID()
	}
	return c.Reference
}

// provenance derives the citation for a candidate.
func (c Candidate) provenance() Provenance {
	switch {
	case c.Row != nil:
		return Provenance{
			DocumentID:   c.Row.DocumentID,
			PageNumber:   c.Row.PageNumber,
			Snippet:      snippet(c.Row.ChunkText),
			SectionTitle: c.Row.SectionContext,
		}
	case c.Chunk != nil:
		return Provenance{
			DocumentID:   c.Chunk.DocumentID,
			PageNumber:   c.Chunk.PageNumber,
			Snippet:      snippet(c.Chunk.Text),
			SectionTitle: c.Chunk.SectionTitle,
		}
	}
	return Provenance{}
}

// MaxSnippetLength caps provenance snippets, in runes.
const MaxSnippetLength = 240

func snippet(text string) string {
	r := []rune(text)
	if len(r) <= MaxSnippetLength {
		return text
	}
	return string(r[:MaxSnippetLength]) + "…"
}

// RankedResult is one fused result.
type RankedResult struct {
	SourceKind SourceKind `json:"source_kind"`
	Reference  string     `json:"reference"`
	FusedScore float64    `json:"fused_score"`

	// BackendScores holds each contributing backend's raw score.
	BackendScores map[Backend]float64 `json:"backend_scores"`

	// BackendRanks holds each contributing backend's 1-based rank.
	BackendRanks map[Backend]int `json:"backend_ranks"`

	Provenance Provenance `json:"provenance"`

	// Row and MatchTier are set for structured_row results.
	Row       *store.StructuredRow `json:"row,omitempty"`
	MatchTier int                  `json:"match_tier,omitempty"`

	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// Backends lists the contributing backends in a stable order.
func (r *RankedResult) Backends() []Backend {
	out := make([]Backend, 0, len(r.BackendScores))
	for b := range r.BackendScores {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Retriever is a backend the orchestrator can dispatch to. Retrieve must
// honor ctx's deadline and return candidates best first.
type Retriever interface {
	Name() Backend
	Retrieve(ctx context.Context, q *ClassifiedQuery, limit int) ([]Candidate, error)
}

// BackendStatus is the outcome of one backend call.
type BackendStatus string

const (
	StatusOK          BackendStatus = "ok"
	StatusTimeout     BackendStatus = "timeout"
	StatusUnavailable BackendStatus = "unavailable"
	StatusError       BackendStatus = "error"
	StatusDegenerate  BackendStatus = "degenerate"
	StatusSkipped     BackendStatus = "skipped"
)

// Succeeded reports whether the backend returned a usable answer.
func (s BackendStatus) Succeeded() bool {
	return s == StatusOK || s == StatusDegenerate
}

// State is a request lifecycle state.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateClassified State = "CLASSIFIED"
	StateDispatched State = "DISPATCHED"
	StateFused      State = "FUSED"
	StateReturned   State = "RETURNED"
	StateFailed     State = "FAILED"
)

// BackendDiagnostics records one backend's part in a request.
type BackendDiagnostics struct {
	Backend Backend       `json:"backend"`
	Status  BackendStatus `json:"status"`
	Count   int           `json:"count"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Diagnostics describes how a request was served.
type Diagnostics struct {
	RequestID      string               `json:"request_id"`
	Query          string               `json:"query"`
	Route          Route                `json:"route"`
	Cues           []string             `json:"cues,omitempty"`
	Strategy       Strategy             `json:"strategy"`
	Weights        map[Backend]float64  `json:"weights,omitempty"`
	TopK           int                  `json:"top_k"`
	TopKClamped    bool                 `json:"top_k_clamped,omitempty"`
	FallbackReason string               `json:"fallback_reason,omitempty"`
	Backends       []BackendDiagnostics `json:"backends"`
	FusedCount     int                  `json:"fused_count"`
	NoEvidence     bool                 `json:"no_evidence"`
	States         []State              `json:"states"`
	TotalLatency   time.Duration        `json:"total_latency"`
}

// Backend returns the diagnostics recorded for b.
func (d *Diagnostics) Backend(b Backend) (BackendDiagnostics, bool) {
	for _, bd := range d.Backends {
		if bd.Backend == b {
			return bd, true
		}
	}
	return BackendDiagnostics{}, false
}

// Succeeded counts backends with a usable answer.
func (d *Diagnostics) Succeeded() int {
	n := 0
	for _, bd := range d.Backends {
		if bd.Status.Succeeded() {
			n++
		}
	}
	return n
}

func (d *Diagnostics) enter(s State) {
	d.States = append(d.States, s)
}

// Response is the result of one orchestrated query.
type Response struct {
	Results []*RankedResult `json:"results"`

	// NoEvidence is set when at least one backend answered but nothing
	// matched.
	NoEvidence bool `json:"no_evidence"`

	Diagnostics Diagnostics `json:"diagnostics"`
}

// MetricsRecorder receives the diagnostics of every finished request.
type MetricsRecorder interface {
	ObserveQuery(d *Diagnostics, err error)
}

package validation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/Aman-CERP/finrag/internal/errors"
	"github.com/Aman-CERP/finrag/internal/search"
	"github.com/Aman-CERP/finrag/internal/store"
)

// stubSearcher answers queries from a fixed table.
type stubSearcher struct {
	responses map[string]*search.Response
	errs      map[string]error
	calls     []string
}

func (s *stubSearcher) Query(_ context.Context, text string, _ int, _ time.Duration) (*search.Response, error) {
	s.calls = append(s.calls, text)
	if err, ok := s.errs[text]; ok {
		return nil, err
	}
	if resp, ok := s.responses[text]; ok {
		return resp, nil
	}
	return &search.Response{Results: []*search.RankedResult{}, NoEvidence: true}, nil
}

func rowResult(id int64, entity, metric, period string) *search.RankedResult {
	row := &store.StructuredRow{ID: id, EntityRaw: entity, EntityNormalized: &entity, Metric: metric, Period: period, DocumentID: "doc"}
	return &search.RankedResult{SourceKind: search.SourceStructuredRow, Reference: row.Reference(), Row: row}
}

func chunkResult(id, doc string) *search.RankedResult {
	return &search.RankedResult{
		SourceKind: search.SourceChunk,
		Reference:  id,
		Provenance: search.Provenance{DocumentID: doc, PageNumber: 3},
	}
}

func response(route search.Route, results ...*search.RankedResult) *search.Response {
	return &search.Response{
		Results:     results,
		NoEvidence:  len(results) == 0,
		Diagnostics: search.Diagnostics{Route: route},
	}
}

// =============================================================================
// Query sets
// =============================================================================

func TestLoadQueries_DefaultSet(t *testing.T) {
	cfg, err := LoadQueries("")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Tier1)
	assert.NotEmpty(t, cfg.Negative)
	for _, q := range cfg.Tier1 {
		assert.Equal(t, 1, q.Tier, q.ID)
		assert.NotEmpty(t, q.Expected, q.ID)
	}
	for _, q := range cfg.Tier2 {
		assert.Equal(t, 2, q.Tier, q.ID)
	}
	assert.Equal(t, len(cfg.Tier1)+len(cfg.Tier2)+len(cfg.Negative), cfg.Count())
}

func TestLoadQueries_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tier1:
  - id: A
    query: Portugal Cement EBITDA 2024
    expected: ["row:3"]
    expected_route: STRUCTURED
`), 0o644))

	cfg, err := LoadQueries(path)
	require.NoError(t, err)
	require.Len(t, cfg.Tier1, 1)
	assert.Equal(t, search.RouteStructured, cfg.Tier1[0].ExpectedRoute)
	assert.Equal(t, 1, cfg.Tier1[0].Tier)
}

func TestLoadQueries_Errors(t *testing.T) {
	_, err := LoadQueries(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseQueries([]byte("tier1: [unclosed"))
	assert.Error(t, err)
}

// =============================================================================
// RunQuery
// =============================================================================

func TestRunQuery(t *testing.T) {
	s := &stubSearcher{
		responses: map[string]*search.Response{
			"portugal vc": response(search.RouteStructured,
				chunkResult("c1", "monthly-report"),
				rowResult(1, "Portugal Cement", "variable cost", "Aug-25")),
			"outlook": response(search.RouteHybrid, chunkResult("c9", "annual-report-2024")),
		},
		errs: map[string]error{
			"":     ferrors.New(ferrors.ErrCodeQueryEmpty, "query is empty", nil),
			"down": ferrors.New(ferrors.ErrCodeAllBackendsFailed, "all backends failed", nil),
		},
	}
	v, err := NewValidator(s, 5, 0)
	require.NoError(t, err)

	tests := []struct {
		name      string
		spec      QuerySpec
		passed    bool
		matchedAt int
	}{
		{
			name:      "row key hit at rank 2",
			spec:      QuerySpec{Tier: 1, Query: "portugal vc", Expected: []string{"portugal cement | variable cost | aug-25"}},
			passed:    true,
			matchedAt: 1,
		},
		{
			name:      "reference hit",
			spec:      QuerySpec{Tier: 1, Query: "portugal vc", Expected: []string{"row:1"}},
			passed:    true,
			matchedAt: 1,
		},
		{
			name:      "document id hit",
			spec:      QuerySpec{Tier: 2, Query: "outlook", Expected: []string{"annual-report-2024"}},
			passed:    true,
			matchedAt: 0,
		},
		{
			name:      "miss",
			spec:      QuerySpec{Tier: 1, Query: "outlook", Expected: []string{"row:7"}},
			passed:    false,
			matchedAt: -1,
		},
		{
			name:      "route mismatch fails a hit",
			spec:      QuerySpec{Tier: 1, Query: "outlook", Expected: []string{"c9"}, ExpectedRoute: search.RouteStructured},
			passed:    false,
			matchedAt: 0,
		},
		{
			name:      "negative rejected input passes",
			spec:      QuerySpec{Tier: 0, Query: ""},
			passed:    true,
			matchedAt: -1,
		},
		{
			name:      "negative no evidence passes",
			spec:      QuerySpec{Tier: 0, Query: "zzqx"},
			passed:    true,
			matchedAt: -1,
		},
		{
			name:      "backend failure never passes",
			spec:      QuerySpec{Tier: 0, Query: "down"},
			passed:    false,
			matchedAt: -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.RunQuery(context.Background(), tt.spec)
			assert.Equal(t, tt.passed, got.Passed, got.Error)
			assert.Equal(t, tt.matchedAt, got.MatchedAt)
		})
	}
}

func TestRunQuery_ReportsTopResults(t *testing.T) {
	s := &stubSearcher{responses: map[string]*search.Response{
		"q": response(search.RouteStructured,
			rowResult(4, "Egypt Cement", "revenue", "2024"),
			chunkResult("c2", "annual-report-2024")),
	}}
	v, err := NewValidator(s, 0, 0)
	require.NoError(t, err)

	got := v.RunQuery(context.Background(), QuerySpec{Tier: 1, Query: "q", Expected: []string{"x"}})

	assert.Equal(t, []string{"Egypt Cement | revenue | 2024", "annual-report-2024 p3 c2"}, got.TopResults)
	assert.Equal(t, search.RouteStructured, got.Route)
}

func TestResultKey_UnmappedRowUsesRawEntity(t *testing.T) {
	r := &search.RankedResult{Row: &store.StructuredRow{EntityRaw: "Lebanon ops", Metric: "variable cost", Period: "Jul-25"}}
	assert.Equal(t, "Lebanon ops | variable cost | Jul-25", ResultKey(r))
}

// =============================================================================
// Run
// =============================================================================

func TestRun_AggregatesTiers(t *testing.T) {
	s := &stubSearcher{
		responses: map[string]*search.Response{
			"hit":  response(search.RouteStructured, rowResult(1, "Portugal Cement", "ebitda", "FY24")),
			"late": response(search.RouteHybrid, chunkResult("a", "d1"), chunkResult("b", "target-doc")),
		},
		errs: map[string]error{"broken": errors.New("boom")},
	}
	v, err := NewValidator(s, 0, time.Second)
	require.NoError(t, err)

	cfg := &QueryConfig{
		Tier1:    []QuerySpec{{ID: "1", Tier: 1, Query: "hit", Expected: []string{"row:1"}}},
		Tier2:    []QuerySpec{{ID: "2", Tier: 2, Query: "late", Expected: []string{"target-doc"}}, {ID: "3", Tier: 2, Query: "miss", Expected: []string{"nothing"}}},
		Negative: []QuerySpec{{ID: "N", Tier: 0, Query: "broken"}},
	}

	res := v.Run(context.Background(), cfg)

	assert.Equal(t, 1, res.Tier1Pass)
	assert.Equal(t, 1, res.Tier1Total)
	assert.Equal(t, 1, res.Tier2Pass)
	assert.Equal(t, 2, res.Tier2Total)
	assert.Equal(t, 0, res.NegPass)
	assert.Equal(t, 1, res.NegTotal)
	assert.InDelta(t, 2.0/3, res.HitRate(), 1e-9)
	// Ranks 1, 2 and a miss.
	assert.InDelta(t, (1+0.5+0)/3, res.MRR(), 1e-9)
	assert.False(t, res.Passed())
	assert.Equal(t, []string{"hit", "late", "miss", "broken"}, s.calls)
}

func TestValidationResult_EmptyRates(t *testing.T) {
	r := &ValidationResult{}
	assert.Equal(t, 0.0, r.HitRate())
	assert.Equal(t, 0.0, r.MRR())
	assert.True(t, r.Passed())
}

func TestNewValidator_NilSearcher(t *testing.T) {
	_, err := NewValidator(nil, 10, 0)
	assert.Error(t, err)
}

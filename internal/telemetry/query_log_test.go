package telemetry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/Aman-CERP/finrag/internal/errors"
	"github.com/Aman-CERP/finrag/internal/search"
)

func diagnostics(query string, route search.Route, fused int, latency time.Duration, backends ...search.BackendDiagnostics) *search.Diagnostics {
	return &search.Diagnostics{
		RequestID:    "req",
		Query:        query,
		Route:        route,
		Backends:     backends,
		FusedCount:   fused,
		NoEvidence:   fused == 0,
		TotalLatency: latency,
	}
}

func okBackend(b search.Backend, n int) search.BackendDiagnostics {
	return search.BackendDiagnostics{Backend: b, Status: search.StatusOK, Count: n, Latency: 10 * time.Millisecond}
}

// =============================================================================
// Latency buckets
// =============================================================================

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    LatencyBucket
	}{
		{0, BucketP50},
		{49 * time.Millisecond, BucketP50},
		{50 * time.Millisecond, BucketP300},
		{299 * time.Millisecond, BucketP300},
		{300 * time.Millisecond, BucketP800},
		{800 * time.Millisecond, BucketP1500},
		{1499 * time.Millisecond, BucketP1500},
		{1500 * time.Millisecond, BucketSlow},
		{10 * time.Second, BucketSlow},
	}
	for _, tt := range tests {
		t.Run(tt.latency.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, LatencyToBucket(tt.latency))
		})
	}
}

// =============================================================================
// CircularBuffer
// =============================================================================

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	buf := NewCircularBuffer[string](3)
	for _, q := range []string{"q1", "q2", "q3", "q4", "q5"} {
		buf.Add(q)
	}

	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, []string{"q3", "q4", "q5"}, buf.Items())
}

func TestCircularBuffer_PartiallyFilled(t *testing.T) {
	buf := NewCircularBuffer[string](5)
	buf.Add("a")
	buf.Add("b")

	assert.Equal(t, []string{"a", "b"}, buf.Items())
}

func TestCircularBuffer_DefaultCapacity(t *testing.T) {
	buf := NewCircularBuffer[int](0)
	for i := 0; i < 150; i++ {
		buf.Add(i)
	}
	assert.Equal(t, 100, buf.Size())
	assert.Equal(t, 50, buf.Items()[0])
}

// =============================================================================
// Terms
// =============================================================================

func TestExtractTerms(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"folds and drops short words", "Portugal Cement EBITDA in Q3", []string{"portugal", "cement", "ebitda"}},
		{"drops stop words", "what was the revenue", []string{"revenue"}},
		{"punctuation", "variable-cost, per ton?", []string{"variable", "cost", "per", "ton"}},
		{"empty", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTerms(tt.query))
		})
	}
}

// =============================================================================
// QueryLog
// =============================================================================

func TestQueryLog_ObserveQuery_Aggregates(t *testing.T) {
	// Given a query log without a store
	l := NewQueryLog(nil, DefaultQueryLogConfig())
	defer l.Close()

	// When three queries finish
	l.ObserveQuery(diagnostics("Portugal Cement EBITDA 2024", search.RouteStructured, 3, 20*time.Millisecond,
		okBackend(search.BackendStructured, 3), okBackend(search.BackendVector, 5)), nil)
	l.ObserveQuery(diagnostics("cement market outlook", search.RouteHybrid, 0, 400*time.Millisecond,
		okBackend(search.BackendLexical, 0), okBackend(search.BackendVector, 0)), nil)
	l.ObserveQuery(diagnostics("Egypt Cement capex 2025", search.RouteStructured, 0, 2*time.Second,
		search.BackendDiagnostics{Backend: search.BackendStructured, Status: search.StatusTimeout},
		search.BackendDiagnostics{Backend: search.BackendVector, Status: search.StatusUnavailable}),
		ferrors.New(ferrors.ErrCodeAllBackendsFailed, "all failed", nil))

	// Then the snapshot reflects routes, outcomes, backends and latency
	s := l.Snapshot()
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Equal(t, int64(2), s.RouteCounts[search.RouteStructured])
	assert.Equal(t, int64(1), s.RouteCounts[search.RouteHybrid])
	assert.Equal(t, int64(1), s.OutcomeCounts[OutcomeResults])
	assert.Equal(t, int64(1), s.OutcomeCounts[OutcomeNoEvidence])
	assert.Equal(t, int64(1), s.OutcomeCounts[OutcomeFailed])
	assert.Equal(t, int64(2), s.BackendOutcomes[BackendOutcomeKey(search.BackendVector, search.StatusOK)])
	assert.Equal(t, int64(1), s.BackendOutcomes[BackendOutcomeKey(search.BackendStructured, search.StatusTimeout)])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP50])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP800])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketSlow])
	assert.Equal(t, []string{"cement market outlook"}, s.NoEvidenceQueries)
	assert.InDelta(t, 1.0/3, s.NoEvidenceRate(), 1e-9)

	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, TermCount{Term: "cement", Count: 3}, s.TopTerms[0])
}

func TestQueryLog_RejectedQueriesIgnored(t *testing.T) {
	l := NewQueryLog(nil, DefaultQueryLogConfig())
	defer l.Close()

	l.ObserveQuery(diagnostics("", "", 0, 0), ferrors.New(ferrors.ErrCodeQueryEmpty, "query is empty", nil))
	l.ObserveQuery(nil, nil)

	assert.Equal(t, int64(0), l.Snapshot().TotalQueries)
}

func TestSnapshot_NoEvidenceRate_Empty(t *testing.T) {
	s := &Snapshot{}
	assert.Equal(t, 0.0, s.NoEvidenceRate())
}

func TestQueryLog_Flush_WritesIncrementsOnce(t *testing.T) {
	// Given a query log backed by SQLite
	st := newTestStore(t)
	l := NewQueryLog(st, QueryLogConfig{})
	defer l.Close()

	l.ObserveQuery(diagnostics("tunisia cement revenue", search.RouteHybrid, 0, 10*time.Millisecond,
		okBackend(search.BackendLexical, 0)), nil)

	// When it flushes twice
	require.NoError(t, l.Flush())
	require.NoError(t, l.Flush())

	// Then counts are persisted exactly once
	today := time.Now().Format("2006-01-02")
	routes, err := st.GetCounts(KindRoute, today, today)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{string(search.RouteHybrid): 1}, routes)

	backends, err := st.GetCounts(KindBackend, today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), backends[BackendOutcomeKey(search.BackendLexical, search.StatusOK)])

	terms, err := st.GetTopTerms(10)
	require.NoError(t, err)
	assert.Len(t, terms, 3)

	queries, err := st.GetNoEvidenceQueries(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"tunisia cement revenue"}, queries)
}

func TestLoadSnapshot_RebuildsPersistedAggregates(t *testing.T) {
	// Given two flushed queries
	st := newTestStore(t)
	l := NewQueryLog(st, QueryLogConfig{})
	l.ObserveQuery(diagnostics("tunisia cement revenue", search.RouteHybrid, 0, 10*time.Millisecond,
		okBackend(search.BackendLexical, 0)), nil)
	l.ObserveQuery(diagnostics("Portugal Cement EBITDA 2024", search.RouteStructured, 2, 10*time.Millisecond,
		okBackend(search.BackendStructured, 2)), nil)
	require.NoError(t, l.Close())

	// When a snapshot is loaded from the store
	s, err := LoadSnapshot(st, 7, 10)
	require.NoError(t, err)

	// Then it matches what was recorded
	assert.Equal(t, int64(2), s.TotalQueries)
	assert.Equal(t, int64(1), s.RouteCounts[search.RouteHybrid])
	assert.Equal(t, int64(1), s.RouteCounts[search.RouteStructured])
	assert.InDelta(t, 0.5, s.NoEvidenceRate(), 1e-9)
	assert.Equal(t, []string{"tunisia cement revenue"}, s.NoEvidenceQueries)
	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, TermCount{Term: "cement", Count: 2}, s.TopTerms[0])
	assert.True(t, s.Since.Before(time.Now()))
}

func TestLoadSnapshot_EmptyStore(t *testing.T) {
	s, err := LoadSnapshot(newTestStore(t), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.TotalQueries)
	assert.Empty(t, s.TopTerms)
}

type failingStore struct {
	*SQLiteQueryLogStore
	fail bool
}

func (f *failingStore) UpsertTermCounts(terms map[string]int64) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.SQLiteQueryLogStore.UpsertTermCounts(terms)
}

func TestQueryLog_Flush_FailureKeepsTerms(t *testing.T) {
	st := &failingStore{SQLiteQueryLogStore: newTestStore(t), fail: true}
	l := NewQueryLog(st, QueryLogConfig{})

	l.ObserveQuery(diagnostics("lebanon ebitda", search.RouteHybrid, 1, time.Millisecond,
		okBackend(search.BackendLexical, 1)), nil)

	require.Error(t, l.Flush())

	st.fail = false
	require.NoError(t, l.Close())

	terms, err := st.GetTopTerms(10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []TermCount{{Term: "lebanon", Count: 1}, {Term: "ebitda", Count: 1}}, terms)
}

func TestQueryLog_CloseIsIdempotent(t *testing.T) {
	l := NewQueryLog(newTestStore(t), QueryLogConfig{FlushInterval: time.Hour})

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	// Recording after close is ignored.
	l.ObserveQuery(diagnostics("late query", search.RouteHybrid, 1, 0), nil)
	assert.Equal(t, int64(0), l.Snapshot().TotalQueries)
}

func TestQueryLog_ConcurrentRecord(t *testing.T) {
	l := NewQueryLog(nil, DefaultQueryLogConfig())
	defer l.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.ObserveQuery(diagnostics("egypt cement volume", search.RouteHybrid, 2, time.Millisecond), nil)
		}()
	}
	wg.Wait()

	s := l.Snapshot()
	assert.Equal(t, int64(50), s.TotalQueries)
	assert.Equal(t, int64(50), s.RouteCounts[search.RouteHybrid])
}

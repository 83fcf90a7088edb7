package telemetry

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteQueryLogStore {
	t.Helper()

	s, err := OpenSQLiteQueryLogStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// =============================================================================
// Counts
// =============================================================================

func TestSQLiteQueryLogStore_SaveCounts_Incremental(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveCounts("2026-10-01", KindRoute, map[string]int64{"STRUCTURED": 10, "HYBRID": 2}))
	require.NoError(t, s.SaveCounts("2026-10-01", KindRoute, map[string]int64{"STRUCTURED": 5}))

	got, err := s.GetCounts(KindRoute, "2026-10-01", "2026-10-01")
	require.NoError(t, err)
	assert.Equal(t, int64(15), got["STRUCTURED"])
	assert.Equal(t, int64(2), got["HYBRID"])
}

func TestSQLiteQueryLogStore_GetCounts_KindsAndDatesAreSeparate(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveCounts("2026-10-01", KindRoute, map[string]int64{"HYBRID": 1}))
	require.NoError(t, s.SaveCounts("2026-10-02", KindRoute, map[string]int64{"HYBRID": 2}))
	require.NoError(t, s.SaveCounts("2026-10-05", KindRoute, map[string]int64{"HYBRID": 4}))
	require.NoError(t, s.SaveCounts("2026-10-02", KindOutcome, map[string]int64{"HYBRID": 100}))

	got, err := s.GetCounts(KindRoute, "2026-10-01", "2026-10-02")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"HYBRID": 3}, got)
}

func TestSQLiteQueryLogStore_SaveCounts_EmptyIsNoop(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveCounts("2026-10-01", KindLatency, nil))

	got, err := s.GetCounts(KindLatency, "2026-01-01", "2026-12-31")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// Terms
// =============================================================================

func TestSQLiteQueryLogStore_UpsertTermCounts_Incremental(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertTermCounts(map[string]int64{"ebitda": 10}))
	require.NoError(t, s.UpsertTermCounts(map[string]int64{"ebitda": 5}))

	got, err := s.GetTopTerms(1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(15), got[0].Count)
}

func TestSQLiteQueryLogStore_GetTopTerms_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertTermCounts(map[string]int64{
		"cement": 1, "portugal": 5, "ebitda": 3, "revenue": 3, "tunisia": 2,
	}))

	got, err := s.GetTopTerms(3)
	require.NoError(t, err)
	assert.Equal(t, []TermCount{
		{Term: "portugal", Count: 5},
		{Term: "ebitda", Count: 3},
		{Term: "revenue", Count: 3},
	}, got)
}

// =============================================================================
// No-evidence queries
// =============================================================================

func TestSQLiteQueryLogStore_NoEvidenceQueries_NewestFirst(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddNoEvidenceQueries([]string{"first", "second"}, time.Now()))
	require.NoError(t, s.AddNoEvidenceQueries([]string{"third"}, time.Now()))

	got, err := s.GetNoEvidenceQueries(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second", "first"}, got)
}

func TestSQLiteQueryLogStore_NoEvidenceQueries_Trimmed(t *testing.T) {
	s := newTestStore(t)

	var queries []string
	for i := 0; i < MaxNoEvidenceQueries+20; i++ {
		queries = append(queries, fmt.Sprintf("query %d", i))
	}
	require.NoError(t, s.AddNoEvidenceQueries(queries, time.Now()))

	got, err := s.GetNoEvidenceQueries(1000)
	require.NoError(t, err)
	assert.Len(t, got, MaxNoEvidenceQueries)
	assert.Equal(t, fmt.Sprintf("query %d", MaxNoEvidenceQueries+19), got[0])
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestOpenSQLiteQueryLogStore_FilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.db")

	s, err := OpenSQLiteQueryLogStore(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertTermCounts(map[string]int64{"capex": 2}))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLiteQueryLogStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetTopTerms(5)
	require.NoError(t, err)
	assert.Equal(t, []TermCount{{Term: "capex", Count: 2}}, got)
}

func TestNewSQLiteQueryLogStore_NilDB(t *testing.T) {
	_, err := NewSQLiteQueryLogStore(nil)
	assert.Error(t, err)
}

func TestNewSQLiteQueryLogStore_SharedDBNotClosed(t *testing.T) {
	owned := newTestStore(t)

	shared, err := NewSQLiteQueryLogStore(owned.db)
	require.NoError(t, err)
	require.NoError(t, shared.Close())

	// The shared connection is still usable.
	assert.NoError(t, owned.db.Ping())
}

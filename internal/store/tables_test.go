package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/Aman-CERP/finrag/internal/errors"
)

func strPtr(s string) *string { return &s }

func newTestTableStore(t *testing.T) *TableStore {
	t.Helper()
	s, err := OpenTableStore(context.Background(), "sqlite", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRows(t *testing.T, s *TableStore) []*StructuredRow {
	t.Helper()
	rows := []*StructuredRow{
		{DocumentID: "doc-1", PageNumber: 4, EntityRaw: "Portugal", EntityNormalized: strPtr("Portugal Cement"),
			Metric: "variable cost", Period: "Aug-25", FiscalYear: 2025, Value: "23.2", Unit: "EUR/ton",
			ChunkText: "| Portugal | 23.2 |", SectionContext: "1.1.1 Portugal"},
		{DocumentID: "doc-1", PageNumber: 5, EntityRaw: "Tunisia", EntityNormalized: strPtr("Tunisia Cement"),
			Metric: "variable cost", Period: "Aug-25", FiscalYear: 2025, Value: "18.9", Unit: "EUR/ton",
			ChunkText: "| Tunisia | 18.9 |", SectionContext: "1.2 Tunisia"},
		{DocumentID: "doc-0", PageNumber: 9, EntityRaw: "Portugal", EntityNormalized: strPtr("Portugal Cement"),
			Metric: "EBITDA", Period: "FY24", FiscalYear: 2024, Value: "310.0", Unit: "EUR m",
			ChunkText: "| Portugal | 310.0 |"},
		{DocumentID: "doc-1", PageNumber: 7, EntityRaw: "Lebanon ops", Metric: "variable cost",
			Period: "Jul-25", FiscalYear: 2025, Value: "40.1", Unit: "USD/ton", ChunkText: "| Lebanon ops | 40.1 |"},
	}
	require.NoError(t, s.SaveRows(context.Background(), rows))
	return rows
}

func rowIDs(rows []*StructuredRow) []int64 {
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}

// =============================================================================
// SQLite (real queries)
// =============================================================================

func TestTableStore_SaveRowsAssignsIDs(t *testing.T) {
	s := newTestTableStore(t)
	rows := seedRows(t, s)

	assert.Equal(t, []int64{1, 2, 3, 4}, rowIDs(rows))
	assert.Equal(t, "row:1", rows[0].Reference())

	n, err := s.CountRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestTableStore_SaveRowsKeepsExplicitID(t *testing.T) {
	s := newTestTableStore(t)
	row := &StructuredRow{ID: 42, DocumentID: "d", EntityRaw: "X", Metric: "m", Period: "2025",
		Value: "1", ChunkText: "x"}

	require.NoError(t, s.SaveRows(context.Background(), []*StructuredRow{row}))
	assert.Equal(t, int64(42), row.ID)
}

func TestTableStore_SaveRowsRequiresProvenance(t *testing.T) {
	s := newTestTableStore(t)

	err := s.SaveRows(context.Background(), []*StructuredRow{{EntityRaw: "X", Value: "1"}})
	assert.Equal(t, ferrors.ErrCodeInvalidInput, ferrors.GetCode(err))
}

func TestTableStore_ExactNormalized(t *testing.T) {
	s := newTestTableStore(t)
	seedRows(t, s)
	ctx := context.Background()

	// Case-insensitive, newest fiscal year first
	got, err := s.ExactNormalized(ctx, []string{"portugal cement"}, Filter{}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, rowIDs(got))

	// Metric and period filters narrow the match
	got, err = s.ExactNormalized(ctx, []string{"Portugal Cement"},
		Filter{Metrics: []string{"Variable Cost"}, Periods: []string{"aug-25"}}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "23.2", got[0].Value)
	assert.Equal(t, "Portugal Cement", got[0].Normalized())
	assert.Equal(t, "1.1.1 Portugal", got[0].SectionContext)
}

func TestTableStore_SubstringNormalized(t *testing.T) {
	s := newTestTableStore(t)
	seedRows(t, s)

	got, err := s.SubstringNormalized(context.Background(), "cement", Filter{Periods: []string{"Aug-25"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, rowIDs(got))
}

func TestTableStore_SubstringEscapesWildcards(t *testing.T) {
	s := newTestTableStore(t)
	seedRows(t, s)

	got, err := s.SubstringNormalized(context.Background(), "%", Filter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTableStore_ByRawEntities(t *testing.T) {
	s := newTestTableStore(t)
	seedRows(t, s)

	got, err := s.ByRawEntities(context.Background(), []string{"LEBANON OPS"}, Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].EntityNormalized)
	assert.Equal(t, "", got[0].Normalized())
}

func TestTableStore_FilterOnly(t *testing.T) {
	s := newTestTableStore(t)
	seedRows(t, s)
	ctx := context.Background()

	got, err := s.FilterOnly(ctx, Filter{Metrics: []string{"variable cost"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 4}, rowIDs(got))

	got, err = s.FilterOnly(ctx, Filter{FiscalYears: []int{2024}}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, rowIDs(got))

	got, err = s.FilterOnly(ctx, Filter{}, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestTableStore_Distinct(t *testing.T) {
	s := newTestTableStore(t)
	seedRows(t, s)
	ctx := context.Background()

	normalized, err := s.DistinctNormalized(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Portugal Cement", "Tunisia Cement"}, normalized)

	raw, err := s.DistinctRaw(ctx, Filter{Metrics: []string{"variable cost"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Lebanon ops", "Portugal", "Tunisia"}, raw)
}

func TestTableStore_BackfillNormalized(t *testing.T) {
	s := newTestTableStore(t)
	seedRows(t, s)
	ctx := context.Background()

	missing, err := s.RowsMissingNormalized(ctx)
	require.NoError(t, err)
	require.Len(t, missing, 1)

	// Row 1 already has a value and must not be overwritten
	n, err := s.BackfillNormalized(ctx, map[int64]string{missing[0].ID: "Lebanon Cement", 1: "Other"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.ExactNormalized(ctx, []string{"Lebanon Cement"}, Filter{}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, rowIDs(got))

	got, err = s.ExactNormalized(ctx, []string{"Portugal Cement"}, Filter{}, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestTableStore_Mappings(t *testing.T) {
	s := newTestTableStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMappings(ctx, []EntityMapping{
		{CanonicalName: "Portugal Cement", RawMentions: []string{"Portugal", "Secil"}, EntityType: "business_unit"},
		{CanonicalName: "Egypt Cement", RawMentions: []string{"Egypt"}, EntityType: "business_unit"},
	}))

	// Upsert replaces mentions
	require.NoError(t, s.SaveMappings(ctx, []EntityMapping{
		{CanonicalName: "Egypt Cement", RawMentions: []string{"Egypt", "Alexandria"}, EntityType: "business_unit",
			SectionContext: "1.3"},
	}))

	got, err := s.LoadMappings(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Egypt Cement", got[0].CanonicalName)
	assert.Equal(t, []string{"Egypt", "Alexandria"}, got[0].RawMentions)
	assert.Equal(t, "1.3", got[0].SectionContext)
	assert.Equal(t, []string{"Portugal", "Secil"}, got[1].RawMentions)
}

func TestTableStore_MappingNeedsCanonicalName(t *testing.T) {
	s := newTestTableStore(t)

	err := s.SaveMappings(context.Background(), []EntityMapping{{RawMentions: []string{"x"}}})
	assert.Equal(t, ferrors.ErrCodeInvalidInput, ferrors.GetCode(err))
}

func TestTableStore_DeleteDocument(t *testing.T) {
	s := newTestTableStore(t)
	seedRows(t, s)
	ctx := context.Background()

	n, err := s.DeleteDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := s.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n, err = s.DeleteDocument(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// =============================================================================
// Dialect and failure paths (sqlmock)
// =============================================================================

func TestTableStore_LimitKeepsMostRecentPeriods(t *testing.T) {
	// Given: one fiscal year of monthly rows inserted oldest first
	ctx := context.Background()
	s, err := OpenTableStore(ctx, "sqlite", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var rows []*StructuredRow
	for _, p := range []string{"Jan-25", "Feb-25", "Mar-25", "Sep-25", "Oct-25", "Nov-25", "Dec-25", "FY24"} {
		rows = append(rows, &StructuredRow{DocumentID: "doc-1", PageNumber: 1, EntityRaw: "Portugal",
			Metric: "revenue", Period: p, Value: "1", ChunkText: "| Portugal | " + p + " |"})
	}
	require.NoError(t, s.SaveRows(ctx, rows))

	// When: the query is capped below the row count
	got, err := s.FilterOnly(ctx, Filter{Metrics: []string{"revenue"}}, 3)

	// Then: the newest months survive the limit
	require.NoError(t, err)
	periods := make([]string, len(got))
	for i, r := range got {
		periods[i] = r.Period
	}
	assert.Equal(t, []string{"Dec-25", "Nov-25", "Oct-25"}, periods)
}

func TestTableStore_PostgresRebindsAndUsesILIKE(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewTableStore(db, DialectPostgres)
	cols := []string{"id", "document_id", "page_number", "table_index", "entity_raw", "entity_normalized",
		"metric", "period", "fiscal_year", "value", "unit", "chunk_text", "section_context"}

	mock.ExpectQuery(`entity_normalized ILIKE \$1 ESCAPE .*metric ILIKE \$2 ESCAPE .*LOWER\(period\) IN \(\$3\).*ORDER BY period_key DESC, id ASC LIMIT 10`).
		WithArgs("%portugal%", "%variable cost%", "aug-25").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(7, "doc-1", 4, 0, "Portugal", "Portugal Cement", "variable cost", "Aug-25", 2025,
				"23.2", "EUR/ton", "| Portugal | 23.2 |", ""))

	got, err := s.SubstringNormalized(context.Background(), "Portugal",
		Filter{Metrics: []string{"variable cost"}, Periods: []string{"Aug-25"}}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "row:7", got[0].Reference())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableStore_QueryFailureIsStoreError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewTableStore(db, DialectSQLite)
	mock.ExpectQuery(`SELECT .* FROM structured_rows`).WillReturnError(errors.New("connection refused"))

	_, err = s.ExactNormalized(context.Background(), []string{"Portugal Cement"}, Filter{}, 10)
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeStoreQuery, ferrors.GetCode(err))
	assert.ErrorContains(t, err, "structured row query failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableStore_BackfillRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewTableStore(db, DialectPostgres)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE structured_rows SET entity_normalized = \$1 WHERE id = \$2`).
		WithArgs("Portugal Cement", int64(1)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = s.BackfillNormalized(context.Background(), map[int64]string{1: "Portugal Cement"})
	assert.Equal(t, ferrors.ErrCodeStoreQuery, ferrors.GetCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableStore_LoadMappingsCorruptMentions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewTableStore(db, DialectSQLite)
	mock.ExpectQuery(`SELECT canonical_name, raw_mentions`).
		WillReturnRows(sqlmock.NewRows([]string{"canonical_name", "raw_mentions", "entity_type", "section_context"}).
			AddRow("Portugal Cement", "not-json", "business_unit", ""))

	_, err = s.LoadMappings(context.Background())
	assert.Equal(t, ferrors.ErrCodeMappingLoad, ferrors.GetCode(err))
}

func TestOpenTableStore_PostgresNeedsDSN(t *testing.T) {
	_, err := OpenTableStore(context.Background(), "postgres", "")
	assert.Equal(t, ferrors.ErrCodeConfigInvalid, ferrors.GetCode(err))
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{"", DialectSQLite, false},
		{"sqlite", DialectSQLite, false},
		{"Postgres", DialectPostgres, false},
		{"pgx", DialectPostgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDialect(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPeriodSortKey_OrdersByRecency(t *testing.T) {
	// oldest to newest
	periods := []string{"2024", "FY24", "Q4-24", "2025", "Jan-25", "Q1-25", "Jul-25", "Aug-25"}
	for i := 1; i < len(periods); i++ {
		prev := PeriodSortKey(periods[i-1], 0)
		cur := PeriodSortKey(periods[i], 0)
		assert.Less(t, prev, cur, "%s should sort before %s", periods[i-1], periods[i])
	}

	// unparseable periods fall back to the fiscal year
	assert.Equal(t, PeriodSortKey("", 2025), PeriodSortKey("latest", 2025))
	assert.Less(t, PeriodSortKey("latest", 2024), PeriodSortKey("Jan-25", 0))
}

func TestTableStore_DeleteDocumentPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewTableStore(db, DialectPostgres)
	mock.ExpectExec(`DELETE FROM structured_rows WHERE document_id = \$1`).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.DeleteDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

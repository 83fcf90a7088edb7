package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	ferrors "github.com/Aman-CERP/finrag/internal/errors"
)

// Dialect selects SQL flavour for the table store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unknown table driver %q (use sqlite or postgres)", driver)
}

// Filter restricts structured rows by metric and period. Empty fields do
// not filter.
type Filter struct {
	// Metrics match as case-insensitive substrings of the row metric.
	Metrics []string
	// Periods match canonical period tokens exactly, case-insensitive.
	Periods []string
	// FiscalYears match rows of those fiscal years, OR-ed with Periods.
	FiscalYears []int
}

// Empty reports whether the filter restricts nothing.
func (f Filter) Empty() bool {
	return len(f.Metrics) == 0 && len(f.Periods) == 0 && len(f.FiscalYears) == 0
}

// TableStore holds structured rows and the entity dimension table.
type TableStore struct {
	db      *sql.DB
	dialect Dialect
}

const rowColumns = `id, document_id, page_number, table_index, entity_raw, entity_normalized,
	metric, period, fiscal_year, value, unit, chunk_text, section_context`

// OpenTableStore opens the store for driver at dsn, retrying transient
// connection failures, and creates the schema if missing.
func OpenTableStore(ctx context.Context, driver, dsn string) (*TableStore, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, ferrors.ConfigError("invalid table driver", err)
	}

	var db *sql.DB
	switch dialect {
	case DialectPostgres:
		if dsn == "" {
			return nil, ferrors.ConfigError("postgres table store needs a dsn", nil).
				WithSuggestion("Set stores.table_dsn or FINRAG_TABLE_DSN")
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, ferrors.New(ferrors.ErrCodeStoreOpen, "failed to open table store", err)
		}
		db.SetMaxOpenConns(8)
		db.SetConnMaxIdleTime(5 * time.Minute)
	default:
		db, err = OpenSQLite(dsn)
		if err != nil {
			return nil, ferrors.New(ferrors.ErrCodeStoreOpen, "failed to open table store", err)
		}
	}

	retry := ferrors.DefaultRetryConfig()
	err = ferrors.Retry(ctx, retry, func() error {
		if pingErr := db.PingContext(ctx); pingErr != nil {
			return ferrors.New(ferrors.ErrCodeStoreOpen, "table store unreachable", pingErr)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := NewTableStore(db, dialect)
	if err := s.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewTableStore wraps an open database. The schema is not touched.
func NewTableStore(db *sql.DB, dialect Dialect) *TableStore {
	return &TableStore{db: db, dialect: dialect}
}

// Dialect returns the store's SQL dialect.
func (s *TableStore) Dialect() Dialect {
	return s.dialect
}

func (s *TableStore) schema() []string {
	idCol := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	valueCol := "value TEXT NOT NULL"
	if s.dialect == DialectPostgres {
		idCol = "id BIGSERIAL PRIMARY KEY"
		valueCol = "value NUMERIC NOT NULL"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS structured_rows (
			` + idCol + `,
			document_id       TEXT NOT NULL,
			page_number       INTEGER NOT NULL,
			table_index       INTEGER NOT NULL DEFAULT 0,
			entity_raw        TEXT NOT NULL,
			entity_normalized TEXT,
			metric            TEXT NOT NULL,
			period            TEXT NOT NULL,
			fiscal_year       INTEGER NOT NULL DEFAULT 0,
			period_key        INTEGER NOT NULL DEFAULT 0,
			` + valueCol + `,
			unit              TEXT NOT NULL DEFAULT '',
			chunk_text        TEXT NOT NULL,
			section_context   TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rows_entity_normalized ON structured_rows(entity_normalized)`,
		`CREATE INDEX IF NOT EXISTS idx_rows_metric_period ON structured_rows(metric, period)`,
		`CREATE INDEX IF NOT EXISTS idx_rows_period_key ON structured_rows(period_key)`,
		`CREATE TABLE IF NOT EXISTS entity_mappings (
			canonical_name  TEXT PRIMARY KEY,
			raw_mentions    TEXT NOT NULL,
			entity_type     TEXT NOT NULL DEFAULT '',
			section_context TEXT NOT NULL DEFAULT ''
		)`,
	}
}

// InitSchema creates the tables and indexes if they do not exist.
func (s *TableStore) InitSchema(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return ferrors.New(ferrors.ErrCodeStoreOpen, "failed to initialize table schema", err)
		}
	}
	return nil
}

// Ping checks the store is reachable.
func (s *TableStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *TableStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// likeClause returns a case-insensitive LIKE on column for the dialect.
func (s *TableStore) likeClause(column string) string {
	if s.dialect == DialectPostgres {
		return column + ` ILIKE ? ESCAPE '\'`
	}
	return `LOWER(` + column + `) LIKE ? ESCAPE '\'`
}

// escapeLike escapes LIKE wildcards in a literal.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// where appends the filter predicates to conds and args.
func (s *TableStore) where(f Filter, conds []string, args []any) ([]string, []any) {
	if len(f.Metrics) > 0 {
		ors := make([]string, 0, len(f.Metrics))
		for _, m := range f.Metrics {
			ors = append(ors, s.likeClause("metric"))
			args = append(args, "%"+escapeLike(strings.ToLower(m))+"%")
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}

	var periodOrs []string
	if len(f.Periods) > 0 {
		periodOrs = append(periodOrs, "LOWER(period) IN ("+placeholders(len(f.Periods))+")")
		for _, p := range f.Periods {
			args = append(args, strings.ToLower(p))
		}
	}
	if len(f.FiscalYears) > 0 {
		periodOrs = append(periodOrs, "fiscal_year IN ("+placeholders(len(f.FiscalYears))+")")
		for _, y := range f.FiscalYears {
			args = append(args, y)
		}
	}
	if len(periodOrs) > 0 {
		conds = append(conds, "("+strings.Join(periodOrs, " OR ")+")")
	}
	return conds, args
}

func (s *TableStore) selectRows(ctx context.Context, conds []string, args []any, limit int) ([]*StructuredRow, error) {
	query := "SELECT " + rowColumns + " FROM structured_rows"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// Newest period first, so LIMIT keeps the most recent rows.
	query += " ORDER BY period_key DESC, id ASC"
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, ferrors.StoreError("structured row query failed", err)
	}
	defer rows.Close()

	var out []*StructuredRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, ferrors.StoreError("failed to scan structured row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.StoreError("structured row query failed", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (*StructuredRow, error) {
	var r StructuredRow
	var normalized sql.NullString
	if err := sc.Scan(&r.ID, &r.DocumentID, &r.PageNumber, &r.TableIndex, &r.EntityRaw, &normalized,
		&r.Metric, &r.Period, &r.FiscalYear, &r.Value, &r.Unit, &r.ChunkText, &r.SectionContext); err != nil {
		return nil, err
	}
	if normalized.Valid {
		v := normalized.String
		r.EntityNormalized = &v
	}
	return &r, nil
}

// ExactNormalized returns rows whose entity_normalized equals one of names,
// case-insensitive.
func (s *TableStore) ExactNormalized(ctx context.Context, names []string, f Filter, limit int) ([]*StructuredRow, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(names))
	for _, n := range names {
		args = append(args, strings.ToLower(n))
	}
	conds := []string{"LOWER(entity_normalized) IN (" + placeholders(len(names)) + ")"}
	conds, args = s.where(f, conds, args)
	return s.selectRows(ctx, conds, args, limit)
}

// SubstringNormalized returns rows whose entity_normalized contains term.
func (s *TableStore) SubstringNormalized(ctx context.Context, term string, f Filter, limit int) ([]*StructuredRow, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	conds := []string{"entity_normalized IS NOT NULL", s.likeClause("entity_normalized")}
	args := []any{"%" + escapeLike(strings.ToLower(term)) + "%"}
	conds, args = s.where(f, conds, args)
	return s.selectRows(ctx, conds, args, limit)
}

// ByRawEntities returns rows whose entity_raw equals one of raws,
// case-insensitive.
func (s *TableStore) ByRawEntities(ctx context.Context, raws []string, f Filter, limit int) ([]*StructuredRow, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(raws))
	for _, r := range raws {
		args = append(args, strings.ToLower(r))
	}
	conds := []string{"LOWER(entity_raw) IN (" + placeholders(len(raws)) + ")"}
	conds, args = s.where(f, conds, args)
	return s.selectRows(ctx, conds, args, limit)
}

// FilterOnly returns rows matching f regardless of entity.
func (s *TableStore) FilterOnly(ctx context.Context, f Filter, limit int) ([]*StructuredRow, error) {
	conds, args := s.where(f, nil, nil)
	return s.selectRows(ctx, conds, args, limit)
}

func (s *TableStore) distinct(ctx context.Context, column string, f Filter) ([]string, error) {
	conds, args := s.where(f, []string{column + " IS NOT NULL"}, nil)
	query := "SELECT DISTINCT " + column + " FROM structured_rows WHERE " +
		strings.Join(conds, " AND ") + " ORDER BY " + column

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, ferrors.StoreError("distinct entity query failed", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, ferrors.StoreError("failed to scan entity", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.StoreError("distinct entity query failed", err)
	}
	return out, nil
}

// DistinctNormalized lists the distinct entity_normalized values among rows
// matching f.
func (s *TableStore) DistinctNormalized(ctx context.Context, f Filter) ([]string, error) {
	return s.distinct(ctx, "entity_normalized", f)
}

// DistinctRaw lists the distinct entity_raw values among rows matching f.
func (s *TableStore) DistinctRaw(ctx context.Context, f Filter) ([]string, error) {
	return s.distinct(ctx, "entity_raw", f)
}

// SaveRows inserts rows and sets the ID of rows saved without one.
func (s *TableStore) SaveRows(ctx context.Context, rows []*StructuredRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ferrors.StoreError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	const cols = `document_id, page_number, table_index, entity_raw, entity_normalized,
		metric, period, fiscal_year, period_key, value, unit, chunk_text, section_context`

	for _, r := range rows {
		if r.DocumentID == "" || r.ChunkText == "" {
			return ferrors.ValidationError("structured row needs document_id and chunk_text", nil).
				WithDetail("entity_raw", r.EntityRaw)
		}
		args := []any{r.DocumentID, r.PageNumber, r.TableIndex, r.EntityRaw, nullable(r.EntityNormalized),
			r.Metric, r.Period, r.FiscalYear, PeriodSortKey(r.Period, r.FiscalYear), r.Value, r.Unit,
			r.ChunkText, r.SectionContext}

		if r.ID > 0 {
			query := "INSERT INTO structured_rows (id, " + cols + ") VALUES (?, " + placeholders(len(args)) + ")"
			if _, err := tx.ExecContext(ctx, s.rebind(query), append([]any{r.ID}, args...)...); err != nil {
				return ferrors.StoreError("failed to insert structured row", err)
			}
			continue
		}

		query := "INSERT INTO structured_rows (" + cols + ") VALUES (" + placeholders(len(args)) + ") RETURNING id"
		if err := tx.QueryRowContext(ctx, s.rebind(query), args...).Scan(&r.ID); err != nil {
			return ferrors.StoreError("failed to insert structured row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ferrors.StoreError("failed to commit structured rows", err)
	}
	return nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// RowsMissingNormalized returns rows whose entity_normalized is null.
func (s *TableStore) RowsMissingNormalized(ctx context.Context) ([]*StructuredRow, error) {
	return s.selectRows(ctx, []string{"entity_normalized IS NULL"}, nil, 0)
}

// BackfillNormalized sets entity_normalized for the given row ids. Rows that
// already carry a value are left alone. Returns the number of rows updated.
func (s *TableStore) BackfillNormalized(ctx context.Context, values map[int64]string) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ferrors.StoreError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.rebind(`UPDATE structured_rows SET entity_normalized = ? WHERE id = ? AND entity_normalized IS NULL`)
	updated := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, query, values[id], id)
		if err != nil {
			return 0, ferrors.StoreError("failed to backfill entity_normalized", err).
				WithDetail("row_id", strconv.FormatInt(id, 10))
		}
		n, _ := res.RowsAffected()
		updated += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, ferrors.StoreError("failed to commit backfill", err)
	}
	return updated, nil
}

// SaveMappings upserts entity mappings by canonical name.
func (s *TableStore) SaveMappings(ctx context.Context, mappings []EntityMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ferrors.StoreError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.rebind(`INSERT INTO entity_mappings (canonical_name, raw_mentions, entity_type, section_context)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (canonical_name) DO UPDATE SET
			raw_mentions = excluded.raw_mentions,
			entity_type = excluded.entity_type,
			section_context = excluded.section_context`)

	for _, m := range mappings {
		if strings.TrimSpace(m.CanonicalName) == "" {
			return ferrors.ValidationError("entity mapping needs a canonical_name", nil)
		}
		mentions, err := json.Marshal(m.RawMentions)
		if err != nil {
			return ferrors.InternalError("failed to encode raw mentions", err)
		}
		if _, err := tx.ExecContext(ctx, query, m.CanonicalName, string(mentions), m.EntityType, m.SectionContext); err != nil {
			return ferrors.StoreError("failed to save entity mapping", err).
				WithDetail("canonical_name", m.CanonicalName)
		}
	}

	if err := tx.Commit(); err != nil {
		return ferrors.StoreError("failed to commit entity mappings", err)
	}
	return nil
}

// LoadMappings reads the entity dimension table ordered by canonical name.
func (s *TableStore) LoadMappings(ctx context.Context) ([]EntityMapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT canonical_name, raw_mentions, entity_type, section_context
		FROM entity_mappings ORDER BY canonical_name`)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeMappingLoad, "failed to load entity mappings", err)
	}
	defer rows.Close()

	var out []EntityMapping
	for rows.Next() {
		var m EntityMapping
		var mentions string
		if err := rows.Scan(&m.CanonicalName, &mentions, &m.EntityType, &m.SectionContext); err != nil {
			return nil, ferrors.New(ferrors.ErrCodeMappingLoad, "failed to scan entity mapping", err)
		}
		if mentions != "" {
			if err := json.Unmarshal([]byte(mentions), &m.RawMentions); err != nil {
				return nil, ferrors.New(ferrors.ErrCodeMappingLoad, "corrupt raw_mentions", err).
					WithDetail("canonical_name", m.CanonicalName)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.New(ferrors.ErrCodeMappingLoad, "failed to load entity mappings", err)
	}
	return out, nil
}

// DeleteDocument removes every structured row of a document and returns
// how many were removed.
func (s *TableStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM structured_rows WHERE document_id = ?`), documentID)
	if err != nil {
		return 0, ferrors.StoreError("failed to delete document rows", err).WithDetail("document_id", documentID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, ferrors.StoreError("failed to delete document rows", err)
	}
	return int(n), nil
}

// CountRows returns the number of structured rows.
func (s *TableStore) CountRows(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM structured_rows`).Scan(&n); err != nil {
		return 0, ferrors.StoreError("failed to count structured rows", err)
	}
	return n, nil
}

// Close closes the database.
func (s *TableStore) Close() error {
	return s.db.Close()
}

var monthIndex = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// PeriodSortKey orders canonical periods by recency: larger is newer.
// A quarter or half sorts just after its last month and a bare year sorts
// before any period inside it. fiscalYear is used when the period carries
// no year.
func PeriodSortKey(period string, fiscalYear int) int {
	p := strings.ToLower(strings.TrimSpace(period))
	year := fiscalYear
	sub := 0

	switch {
	case len(p) == 6 && p[3] == '-': // mon-yy
		if m, ok := monthIndex[p[:3]]; ok {
			if y, err := strconv.Atoi(p[4:]); err == nil {
				year = 2000 + y
			}
			sub = m * 10
		}
	case len(p) == 5 && p[0] == 'q' && p[2] == '-': // qn-yy
		if q, err := strconv.Atoi(p[1:2]); err == nil {
			if y, err := strconv.Atoi(p[3:]); err == nil {
				year = 2000 + y
			}
			sub = q*30 + 5
		}
	case len(p) == 5 && p[0] == 'h' && p[2] == '-': // hn-yy
		if h, err := strconv.Atoi(p[1:2]); err == nil {
			if y, err := strconv.Atoi(p[3:]); err == nil {
				year = 2000 + y
			}
			sub = h*60 + 3
		}
	case len(p) == 4 && strings.HasPrefix(p, "fy"):
		if y, err := strconv.Atoi(p[2:]); err == nil {
			year = 2000 + y
		}
		sub = 2
	case len(p) == 4:
		if y, err := strconv.Atoi(p); err == nil {
			year = y
		}
		sub = 1
	}
	return year*1000 + sub
}

package telemetry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Aman-CERP/finrag/internal/store"
)

// MaxNoEvidenceQueries bounds the persisted no-evidence list.
const MaxNoEvidenceQueries = 100

// SQLiteQueryLogStore implements QueryLogStore on SQLite.
type SQLiteQueryLogStore struct {
	db    *sql.DB
	owned bool
}

// OpenSQLiteQueryLogStore opens (or creates) a query log database at path.
// An empty path opens an in-memory database.
func OpenSQLiteQueryLogStore(path string) (*SQLiteQueryLogStore, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := InitQueryLogSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteQueryLogStore{db: db, owned: true}, nil
}

// NewSQLiteQueryLogStore wraps a shared connection whose schema was already
// created with InitQueryLogSchema. Close leaves db open.
func NewSQLiteQueryLogStore(db *sql.DB) (*SQLiteQueryLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteQueryLogStore{db: db}, nil
}

// InitQueryLogSchema creates the query log tables if they don't exist.
func InitQueryLogSchema(db *sql.DB) error {
	schema := `
	-- Daily counters, one row per (date, kind, key)
	CREATE TABLE IF NOT EXISTS query_log_counts (
		date TEXT NOT NULL,
		kind TEXT NOT NULL,
		key TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, kind, key)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	-- Bounded FIFO of queries that returned no evidence
	CREATE TABLE IF NOT EXISTS no_evidence_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create query log schema: %w", err)
	}
	return nil
}

// SaveCounts adds counts to the day's totals for kind.
func (s *SQLiteQueryLogStore) SaveCounts(date, kind string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	return s.inTx(`
		INSERT INTO query_log_counts (date, kind, key, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date, kind, key) DO UPDATE SET count = count + excluded.count
	`, func(stmt *sql.Stmt) error {
		for key, count := range counts {
			if _, err := stmt.Exec(date, kind, key, count); err != nil {
				return fmt.Errorf("insert %s count: %w", kind, err)
			}
		}
		return nil
	})
}

// GetCounts sums kind over [from, to] (YYYY-MM-DD, inclusive).
func (s *SQLiteQueryLogStore) GetCounts(kind, from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT key, SUM(count) AS total
		FROM query_log_counts
		WHERE kind = ? AND date >= ? AND date <= ?
		GROUP BY key
	`, kind, from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s counts: %w", kind, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

// UpsertTermCounts adds to term frequency counts.
func (s *SQLiteQueryLogStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	return s.inTx(`
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`, func(stmt *sql.Stmt) error {
		for term, count := range terms {
			if _, err := stmt.Exec(term, count); err != nil {
				return fmt.Errorf("upsert term count: %w", err)
			}
		}
		return nil
	})
}

// GetTopTerms retrieves the top terms by frequency, ties by term.
func (s *SQLiteQueryLogStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddNoEvidenceQueries appends queries and trims the list to
// MaxNoEvidenceQueries, oldest first out.
func (s *SQLiteQueryLogStore) AddNoEvidenceQueries(queries []string, at time.Time) error {
	if len(queries) == 0 {
		return nil
	}
	err := s.inTx(`
		INSERT INTO no_evidence_queries (query, timestamp)
		VALUES (?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, q := range queries {
			if _, err := stmt.Exec(q, at); err != nil {
				return fmt.Errorf("insert no-evidence query: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		DELETE FROM no_evidence_queries
		WHERE id NOT IN (
			SELECT id FROM no_evidence_queries
			ORDER BY id DESC
			LIMIT ?
		)
	`, MaxNoEvidenceQueries)
	if err != nil {
		return fmt.Errorf("trim no-evidence queries: %w", err)
	}
	return nil
}

// GetNoEvidenceQueries returns the most recent no-evidence queries, newest
// first.
func (s *SQLiteQueryLogStore) GetNoEvidenceQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT query
		FROM no_evidence_queries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query no-evidence queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// Close releases the database if the store opened it.
func (s *SQLiteQueryLogStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteQueryLogStore) inTx(query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

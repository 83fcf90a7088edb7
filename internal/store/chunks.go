package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// ChunkStore keeps chunk text and provenance in SQLite so lexical and
// vector hits can be resolved to document, page and parent table.
type ChunkStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewChunkStore opens or creates the chunk store at path.
// If path is empty, creates an in-memory store.
func NewChunkStore(path string) (*ChunkStore, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS chunks (
		id              TEXT PRIMARY KEY,
		text            TEXT NOT NULL,
		document_id     TEXT NOT NULL,
		page_number     INTEGER NOT NULL,
		section_title   TEXT NOT NULL DEFAULT '',
		element_type    TEXT NOT NULL,
		parent_chunk_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, page_number);`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize chunk schema: %w", err)
	}

	return &ChunkStore{db: db}, nil
}

// SaveChunks inserts or replaces chunks.
func (s *ChunkStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, text, document_id, page_number, section_title, element_type, parent_chunk_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if !c.ElementType.Valid() {
			return fmt.Errorf("chunk %s: unknown element type %q", c.ID, c.ElementType)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Text, c.DocumentID, c.PageNumber,
			c.SectionTitle, string(c.ElementType), c.ParentChunkID); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetChunks returns the chunks found for ids, keyed by id. Unknown ids are
// skipped.
func (s *ChunkStore) GetChunks(ctx context.Context, ids []string) (map[string]*Chunk, error) {
	out := make(map[string]*Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, text, document_id, page_number, section_title, element_type, parent_chunk_id
		FROM chunks WHERE id IN (%s)`, placeholders(len(ids))), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Chunk
		var elementType string
		if err := rows.Scan(&c.ID, &c.Text, &c.DocumentID, &c.PageNumber,
			&c.SectionTitle, &elementType, &c.ParentChunkID); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.ElementType = ElementType(elementType)
		out[c.ID] = &c
	}
	return out, rows.Err()
}

// DeleteDocument removes every chunk of a document and returns their ids so
// the caller can retire them from the indexes.
func (s *ChunkStore) DeleteDocument(ctx context.Context, documentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE document_id = ? ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list document chunks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return nil, fmt.Errorf("failed to delete document chunks: %w", err)
	}
	return ids, nil
}

// Count returns the number of stored chunks.
func (s *ChunkStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *ChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

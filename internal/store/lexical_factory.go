package store

import (
	"fmt"
	"path/filepath"
)

// LexicalBackend names a LexicalIndex implementation.
type LexicalBackend string

const (
	// LexicalBackendSQLite uses SQLite FTS5 (default).
	LexicalBackendSQLite LexicalBackend = "sqlite"

	// LexicalBackendBleve uses Bleve v2. Bleve holds an exclusive file lock,
	// so only one process can open the index.
	LexicalBackendBleve LexicalBackend = "bleve"
)

// NewLexicalIndex opens the lexical index for backend under dataDir.
// An empty dataDir creates an in-memory index.
func NewLexicalIndex(dataDir string, cfg LexicalConfig, backend string) (LexicalIndex, error) {
	switch LexicalBackend(backend) {
	case LexicalBackendSQLite, "":
		return NewSQLiteFTSIndex(LexicalIndexPath(dataDir, backend), cfg)
	case LexicalBackendBleve:
		return NewBleveIndex(LexicalIndexPath(dataDir, backend))
	default:
		return nil, fmt.Errorf("unknown lexical backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// LexicalIndexPath returns the index file (SQLite) or directory (Bleve).
func LexicalIndexPath(dataDir, backend string) string {
	if dataDir == "" {
		return ""
	}
	base := filepath.Join(dataDir, "lexical")
	if LexicalBackend(backend) == LexicalBackendBleve {
		return base + ".bleve"
	}
	return base + ".db"
}

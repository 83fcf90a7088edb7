package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/finrag/internal/config"
	"github.com/Aman-CERP/finrag/internal/embed"
	ferrors "github.com/Aman-CERP/finrag/internal/errors"
	"github.com/Aman-CERP/finrag/internal/store"
)

// VectorIndexFile is the HNSW graph file under the data directory.
const VectorIndexFile = "vectors.hnsw"

// Stores bundles everything ingestion writes and retrieval reads.
type Stores struct {
	Chunks   *store.ChunkStore
	Lexical  store.LexicalIndex
	Vector   *store.HNSWIndex
	Tables   *store.TableStore
	Embedder embed.Embedder

	dataDir string
}

// OpenStores opens every store under cfg.Stores.DataDir. An empty DataDir
// keeps all stores in memory, which only makes sense with the SQLite table
// driver.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	dataDir := cfg.Stores.DataDir
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, ferrors.StoreError("failed to create data directory", err).WithDetail("path", dataDir)
		}
	}

	s := &Stores{dataDir: dataDir}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	var err error
	if s.Chunks, err = store.NewChunkStore(s.path("chunks.db")); err != nil {
		return nil, ferrors.StoreError("failed to open chunk store", err)
	}

	if s.Lexical, err = store.NewLexicalIndex(dataDir, store.DefaultLexicalConfig(), cfg.Stores.LexicalBackend); err != nil {
		return nil, ferrors.StoreError("failed to open lexical index", err).
			WithDetail("backend", cfg.Stores.LexicalBackend)
	}

	vcfg := store.VectorIndexConfig{Dimensions: cfg.Stores.VectorDimensions}
	if dataDir == "" {
		s.Vector, err = store.NewHNSWIndex(vcfg)
	} else {
		s.Vector, err = store.LoadHNSWIndex(s.path(VectorIndexFile), vcfg)
	}
	if err != nil {
		var mismatch store.ErrDimensionMismatch
		if errors.As(err, &mismatch) {
			return nil, ferrors.New(ferrors.ErrCodeDimensionMismatch, "vector index dimensions differ from config", err).
				WithSuggestion("Set stores.vector_dimensions to the indexed value or reload the corpus into a fresh data directory")
		}
		return nil, ferrors.New(ferrors.ErrCodeCorruptIndex, "failed to load vector index", err)
	}

	dsn := cfg.TableDSN()
	if dataDir == "" && cfg.Stores.TableDSN == "" {
		dsn = ""
	}
	if s.Tables, err = store.OpenTableStore(ctx, cfg.Stores.TableDriver, dsn); err != nil {
		return nil, err
	}

	s.Embedder = embed.NewCachedEmbedder(embed.NewStaticEmbedder(cfg.Stores.VectorDimensions), 0)

	ok = true
	slog.Debug("stores_opened",
		slog.String("data_dir", dataDir),
		slog.String("lexical_backend", cfg.Stores.LexicalBackend),
		slog.String("table_driver", cfg.Stores.TableDriver),
		slog.Int("vectors", s.Vector.Count()))
	return s, nil
}

func (s *Stores) path(name string) string {
	if s.dataDir == "" {
		return ""
	}
	return filepath.Join(s.dataDir, name)
}

// Save persists the in-memory vector graph. The SQLite-backed stores
// write through and need no save.
func (s *Stores) Save() error {
	if s.dataDir == "" || s.Vector == nil {
		return nil
	}
	if err := s.Vector.Save(s.path(VectorIndexFile)); err != nil {
		return ferrors.StoreError("failed to save vector index", err)
	}
	return nil
}

// Close closes every open store.
func (s *Stores) Close() error {
	var errs []error
	if s.Embedder != nil {
		errs = append(errs, s.Embedder.Close())
	}
	if s.Vector != nil {
		errs = append(errs, s.Vector.Close())
	}
	if s.Lexical != nil {
		errs = append(errs, s.Lexical.Close())
	}
	if s.Chunks != nil {
		errs = append(errs, s.Chunks.Close())
	}
	if s.Tables != nil {
		errs = append(errs, s.Tables.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close stores: %w", err)
	}
	return nil
}

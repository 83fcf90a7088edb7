package index

import (
	"context"
	"fmt"
	"log/slog"
)

// RemoveResult counts what a document removal retired.
type RemoveResult struct {
	Chunks int
	Rows   int
}

// Coordinator keeps the stores in step when documents are replaced or
// removed. The chunk store is the source of truth for which chunk ids a
// document owns.
type Coordinator struct {
	stores *Stores
}

// NewCoordinator creates a coordinator over stores.
func NewCoordinator(stores *Stores) (*Coordinator, error) {
	if stores == nil || stores.Chunks == nil || stores.Lexical == nil || stores.Vector == nil || stores.Tables == nil {
		return nil, fmt.Errorf("all stores are required")
	}
	return &Coordinator{stores: stores}, nil
}

// RemoveDocument retires a document's chunks from every index and deletes
// its structured rows. Index deletes are best-effort: an orphan left in the
// lexical or vector index resolves to no chunk and is dropped at query time.
func (c *Coordinator) RemoveDocument(ctx context.Context, documentID string) (RemoveResult, error) {
	var res RemoveResult

	ids, err := c.stores.Chunks.DeleteDocument(ctx, documentID)
	if err != nil {
		return res, fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
	}
	res.Chunks = len(ids)

	if len(ids) > 0 {
		if err := c.stores.Lexical.Delete(ctx, ids); err != nil {
			slog.Warn("failed to delete lexical entries",
				slog.String("document_id", documentID),
				slog.Int("count", len(ids)),
				slog.String("error", err.Error()))
		}
		if err := c.stores.Vector.Delete(ctx, ids); err != nil {
			slog.Warn("failed to delete vectors",
				slog.String("document_id", documentID),
				slog.Int("count", len(ids)),
				slog.String("error", err.Error()))
		}
	}

	rows, err := c.stores.Tables.DeleteDocument(ctx, documentID)
	if err != nil {
		return res, err
	}
	res.Rows = rows

	if res.Chunks > 0 || res.Rows > 0 {
		slog.Debug("document_removed",
			slog.String("document_id", documentID),
			slog.Int("chunks", res.Chunks),
			slog.Int("rows", res.Rows))
	}
	return res, nil
}

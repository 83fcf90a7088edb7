package searcher

import (
	"context"
	"errors"
	"time"

	"github.com/Aman-CERP/finrag/internal/search"
)

// ErrNilConfig is returned when Open is called without a configuration.
var ErrNilConfig = errors.New("config is required")

// Searcher answers retrieval queries.
//
// Implementations must be thread-safe for concurrent use.
type Searcher interface {
	// Query classifies text, fans it out to the selected backends and
	// returns at most topK fused results. A zero timeout uses the
	// configured end-to-end deadline.
	//
	// A response with no results has NoEvidence set. An error is returned
	// only for rejected input or when every dispatched backend failed.
	Query(ctx context.Context, text string, topK int, timeout time.Duration) (*search.Response, error)
}

var _ Searcher = (*Engine)(nil)

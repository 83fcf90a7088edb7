package index

import (
	"context"
	"log/slog"
	"time"
)

// CheckResult is a count-level comparison of the stores.
type CheckResult struct {
	Chunks   int `json:"chunks"`
	Lexical  int `json:"lexical"`
	Vectors  int `json:"vectors"`
	Rows     int `json:"rows"`
	Mappings int `json:"mappings"`

	// Unmapped is the number of rows without a normalized entity.
	Unmapped int `json:"unmapped"`

	Consistent bool          `json:"consistent"`
	Duration   time.Duration `json:"duration"`
}

// ConsistencyChecker compares store sizes. Every stored chunk should have
// one lexical entry and one vector; a mismatch means a load was
// interrupted and the corpus should be reloaded.
type ConsistencyChecker struct {
	stores *Stores
}

// NewConsistencyChecker creates a checker over stores.
func NewConsistencyChecker(stores *Stores) *ConsistencyChecker {
	return &ConsistencyChecker{stores: stores}
}

// Check counts entries in every store.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	res := &CheckResult{}

	var err error
	if res.Chunks, err = c.stores.Chunks.Count(ctx); err != nil {
		return nil, err
	}
	res.Lexical = c.stores.Lexical.Count()
	res.Vectors = c.stores.Vector.Count()

	if res.Rows, err = c.stores.Tables.CountRows(ctx); err != nil {
		return nil, err
	}
	mappings, err := c.stores.Tables.LoadMappings(ctx)
	if err != nil {
		return nil, err
	}
	res.Mappings = len(mappings)

	missing, err := c.stores.Tables.RowsMissingNormalized(ctx)
	if err != nil {
		return nil, err
	}
	res.Unmapped = len(missing)

	res.Consistent = res.Chunks == res.Lexical && res.Chunks == res.Vectors
	res.Duration = time.Since(start)

	if !res.Consistent {
		slog.Warn("index counts mismatch",
			slog.Int("chunks", res.Chunks),
			slog.Int("lexical", res.Lexical),
			slog.Int("vectors", res.Vectors))
	}
	return res, nil
}

package preflight

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/finrag/internal/config"
	"github.com/Aman-CERP/finrag/internal/index"
	"github.com/Aman-CERP/finrag/internal/normalize"
)

// CheckMappingFile checks that a configured entity mapping file parses.
func (c *Checker) CheckMappingFile(path string) CheckResult {
	result := CheckResult{
		Name:     "entity_mappings",
		Required: true,
	}
	if path == "" {
		result.Status = StatusPass
		result.Message = "loaded from the table store"
		return result
	}

	snap, err := normalize.LoadFileSnapshot(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot load %s", path)
		result.Details = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d entities from %s", snap.Len(), path)
	return result
}

// CheckStores opens the stores described by cfg and compares their sizes.
// A dimension mismatch or an unreachable table store fails; size
// disagreement or unmapped rows only warn.
func (c *Checker) CheckStores(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:     "stores",
		Required: true,
	}

	stores, err := index.OpenStores(ctx, cfg)
	if err != nil {
		result.Status = StatusFail
		result.Message = "cannot open stores"
		result.Details = err.Error()
		return result
	}
	defer func() { _ = stores.Close() }()

	check, err := index.NewConsistencyChecker(stores).Check(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = "cannot read stores"
		result.Details = err.Error()
		return result
	}

	result.Message = fmt.Sprintf("%d chunks, %d lexical, %d vectors, %d rows",
		check.Chunks, check.Lexical, check.Vectors, check.Rows)
	switch {
	case !check.Consistent:
		result.Status = StatusWarn
		result.Details = "Store sizes disagree; reload the corpus with 'finrag load'"
	case check.Unmapped > 0:
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("%d rows have no normalized entity; run 'finrag normalize --list'", check.Unmapped)
	default:
		result.Status = StatusPass
	}
	return result
}

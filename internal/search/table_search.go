package search

import (
	"context"
	"errors"
	"sort"
	"strings"

	ferrors "github.com/Aman-CERP/finrag/internal/errors"
	"github.com/Aman-CERP/finrag/internal/normalize"
	"github.com/Aman-CERP/finrag/internal/store"
)

// Match tiers, strongest first.
const (
	TierExact        = 0
	TierSubstring    = 1
	TierFuzzy        = 2
	TierTokenOverlap = 3
	TierRawFuzzy     = 4

	// TierFilterOnly marks rows found by metric/period filters alone.
	TierFilterOnly = 5
)

// Default similarity cutoffs.
const (
	DefaultFuzzyThreshold     = 0.45
	DefaultRawFuzzyThreshold  = 0.35
	DefaultCandidateThreshold = 0.5
)

// RowStore is the read side of the structured table store.
type RowStore interface {
	ExactNormalized(ctx context.Context, names []string, f store.Filter, limit int) ([]*store.StructuredRow, error)
	SubstringNormalized(ctx context.Context, term string, f store.Filter, limit int) ([]*store.StructuredRow, error)
	ByRawEntities(ctx context.Context, raws []string, f store.Filter, limit int) ([]*store.StructuredRow, error)
	FilterOnly(ctx context.Context, f store.Filter, limit int) ([]*store.StructuredRow, error)
	DistinctNormalized(ctx context.Context, f store.Filter) ([]string, error)
	DistinctRaw(ctx context.Context, f store.Filter) ([]string, error)
}

// TableSearchConfig holds the similarity cutoffs.
type TableSearchConfig struct {
	// FuzzyThreshold applies to entity_normalized (tier 2).
	FuzzyThreshold float64
	// RawFuzzyThreshold applies to entity_raw (tier 4).
	RawFuzzyThreshold float64
	// CandidateThreshold widens query entities into canonical names.
	CandidateThreshold float64
}

// DefaultTableSearchConfig returns the default cutoffs.
func DefaultTableSearchConfig() TableSearchConfig {
	return TableSearchConfig{
		FuzzyThreshold:     DefaultFuzzyThreshold,
		RawFuzzyThreshold:  DefaultRawFuzzyThreshold,
		CandidateThreshold: DefaultCandidateThreshold,
	}
}

// ScoredRow is a structured row with the tier that reached it.
type ScoredRow struct {
	Row        *store.StructuredRow
	Tier       int
	Similarity float64
}

// Score is the value surfaced to fusion: (5 - tier) + similarity. Tiers
// dominate and similarity orders rows inside a tier.
func (s *ScoredRow) Score() float64 {
	return float64(TierFilterOnly-s.Tier) + s.Similarity
}

// TableSearch finds structured rows for a classified query through five
// match tiers of decreasing strictness. Metric and period candidates filter
// every tier, and a row reached by several tiers keeps its strongest one.
type TableSearch struct {
	rows       RowStore
	normalizer *normalize.Normalizer
	cfg        TableSearchConfig
}

// NewTableSearch creates a table search. n may be nil, in which case query
// entities are matched as written.
func NewTableSearch(rows RowStore, n *normalize.Normalizer, cfg TableSearchConfig) (*TableSearch, error) {
	if rows == nil {
		return nil, ErrNilDependency
	}
	def := DefaultTableSearchConfig()
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = def.FuzzyThreshold
	}
	if cfg.RawFuzzyThreshold <= 0 {
		cfg.RawFuzzyThreshold = def.RawFuzzyThreshold
	}
	if cfg.CandidateThreshold <= 0 {
		cfg.CandidateThreshold = def.CandidateThreshold
	}
	return &TableSearch{rows: rows, normalizer: n, cfg: cfg}, nil
}

// FilterFor turns a query's metrics and periods into a store filter.
// Year-level periods also match rows by fiscal year.
func FilterFor(q *ClassifiedQuery) store.Filter {
	f := store.Filter{Metrics: append([]string(nil), q.Metrics...)}
	for _, p := range q.Periods {
		f.Periods = append(f.Periods, p)
		if !isYearLevel(p) {
			continue
		}
		if y, ok := FiscalYearOf(p); ok {
			f.FiscalYears = append(f.FiscalYears, y)
		}
	}
	return f
}

// Search returns at most limit rows ordered by tier asc, similarity desc,
// period recency desc, id asc. A store failure is returned as
// BackendUnavailable (or BackendTimeout on deadline), never as an empty
// result.
func (t *TableSearch) Search(ctx context.Context, q *ClassifiedQuery, limit int) ([]*ScoredRow, error) {
	if limit <= 0 {
		return []*ScoredRow{}, nil
	}
	rows, err := t.search(ctx, q, limit)
	if err != nil {
		return nil, backendError(BackendStructured, err)
	}
	return rows, nil
}

func (t *TableSearch) search(ctx context.Context, q *ClassifiedQuery, limit int) ([]*ScoredRow, error) {
	f := FilterFor(q)

	if len(q.Entities) == 0 {
		if f.Empty() {
			return []*ScoredRow{}, nil
		}
		rows, err := t.rows.FilterOnly(ctx, f, limit)
		if err != nil {
			return nil, err
		}
		c := newCollector()
		c.add(rows, TierFilterOnly, func(*store.StructuredRow) float64 { return 0 })
		return c.ranked(limit), nil
	}

	c := newCollector()
	entities := q.Entities
	exact, near := t.widen(entities)
	tiers := []func() error{
		// Tier 0: exact on entity_normalized, widened through normalizer aliases.
		func() error {
			rows, err := t.rows.ExactNormalized(ctx, exact, f, limit)
			if err != nil {
				return err
			}
			c.add(rows, TierExact, func(*store.StructuredRow) float64 { return 1 })
			return nil
		},
		// Tier 1: substring on entity_normalized.
		func() error {
			for _, e := range entities {
				rows, err := t.rows.SubstringNormalized(ctx, e, f, limit)
				if err != nil {
					return err
				}
				c.add(rows, TierSubstring, bestSimilarity(entities, (*store.StructuredRow).Normalized))
			}
			return nil
		},
		// Tier 2: trigram similarity on entity_normalized.
		func() error {
			values, err := t.rows.DistinctNormalized(ctx, f)
			if err != nil {
				return err
			}
			names := similarValues(values, entities, normalize.Similarity, t.cfg.FuzzyThreshold)
			names = append(names, near...)
			if len(names) == 0 {
				return nil
			}
			rows, err := t.rows.ExactNormalized(ctx, names, f, limit)
			if err != nil {
				return err
			}
			c.add(rows, TierFuzzy, bestSimilarity(entities, (*store.StructuredRow).Normalized))
			return nil
		},
		// Tier 3: token overlap on entity_raw.
		func() error {
			values, err := t.rows.DistinctRaw(ctx, f)
			if err != nil {
				return err
			}
			raws := similarValues(values, entities, symmetricOverlap, minOverlap)
			if len(raws) == 0 {
				return nil
			}
			rows, err := t.rows.ByRawEntities(ctx, raws, f, limit)
			if err != nil {
				return err
			}
			c.add(rows, TierTokenOverlap, bestSimilarity(entities, rawEntity))
			return nil
		},
		// Tier 4: trigram similarity on entity_raw.
		func() error {
			values, err := t.rows.DistinctRaw(ctx, f)
			if err != nil {
				return err
			}
			raws := similarValues(values, entities, normalize.Similarity, t.cfg.RawFuzzyThreshold)
			if len(raws) == 0 {
				return nil
			}
			rows, err := t.rows.ByRawEntities(ctx, raws, f, limit)
			if err != nil {
				return err
			}
			c.add(rows, TierRawFuzzy, bestSimilarity(entities, rawEntity))
			return nil
		},
	}

	for _, tier := range tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := tier(); err != nil {
			return nil, err
		}
		// Later tiers rank below every row already held.
		if c.len() >= limit {
			break
		}
	}
	return c.ranked(limit), nil
}

// widen splits the names a query entity can reach into exact names (the
// entity, its normalized form and canonical names whose alias it spells)
// and near names (other fuzzy candidates, matched at tier 2).
func (t *TableSearch) widen(entities []string) (exact, near []string) {
	seen := make(map[string]bool)
	add := func(dst *[]string, s string) {
		k := strings.ToLower(strings.TrimSpace(s))
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		*dst = append(*dst, s)
	}
	for _, e := range entities {
		add(&exact, e)
		if t.normalizer == nil {
			continue
		}
		if canonical, ok := t.normalizer.Normalize(e, ""); ok {
			add(&exact, canonical)
		}
	}
	if t.normalizer == nil {
		return exact, near
	}
	var fuzzy []normalize.Candidate
	for _, e := range entities {
		folded := normalize.Fold(e)
		for _, cand := range t.normalizer.FuzzyCandidates(e, t.cfg.CandidateThreshold) {
			if normalize.Fold(cand.Matched) == folded {
				add(&exact, cand.CanonicalName)
				continue
			}
			fuzzy = append(fuzzy, cand)
		}
	}
	for _, cand := range fuzzy {
		add(&near, cand.CanonicalName)
	}
	return exact, near
}

// minOverlap is the smallest shared-word share that counts as overlap.
const minOverlap = 0.5

// symmetricOverlap is the larger of the two directional word overlaps.
func symmetricOverlap(a, b string) float64 {
	x, y := normalize.TokenOverlap(a, b), normalize.TokenOverlap(b, a)
	if x > y {
		return x
	}
	return y
}

// similarValues returns the stored values scoring at least threshold
// against any query entity.
func similarValues(values, entities []string, score func(a, b string) float64, threshold float64) []string {
	var out []string
	for _, v := range values {
		for _, e := range entities {
			if s := score(e, v); s > 0 && s >= threshold {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

func rawEntity(r *store.StructuredRow) string { return r.EntityRaw }

func bestSimilarity(entities []string, field func(*store.StructuredRow) string) func(*store.StructuredRow) float64 {
	return func(r *store.StructuredRow) float64 {
		best := 0.0
		v := field(r)
		for _, e := range entities {
			if s := normalize.Similarity(e, v); s > best {
				best = s
			}
		}
		return best
	}
}

// collector keeps the strongest tier seen per row.
type collector struct {
	byID map[int64]*ScoredRow
}

func newCollector() *collector {
	return &collector{byID: make(map[int64]*ScoredRow)}
}

func (c *collector) len() int { return len(c.byID) }

func (c *collector) add(rows []*store.StructuredRow, tier int, sim func(*store.StructuredRow) float64) {
	for _, r := range rows {
		s := sim(r)
		prev, ok := c.byID[r.ID]
		if ok && (prev.Tier < tier || (prev.Tier == tier && prev.Similarity >= s)) {
			continue
		}
		c.byID[r.ID] = &ScoredRow{Row: r, Tier: tier, Similarity: s}
	}
}

func (c *collector) ranked(limit int) []*ScoredRow {
	out := make([]*ScoredRow, 0, len(c.byID))
	for _, s := range c.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		ka := store.PeriodSortKey(a.Row.Period, a.Row.FiscalYear)
		kb := store.PeriodSortKey(b.Row.Period, b.Row.FiscalYear)
		if ka != kb {
			return ka > kb
		}
		return a.Row.ID < b.Row.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// backendError maps a backend failure onto BackendTimeout or
// BackendUnavailable, leaving already-classified errors alone.
func backendError(b Backend, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ferrors.ErrBackendTimeout) || errors.Is(err, ferrors.ErrBackendUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ferrors.BackendTimeout(string(b), err)
	}
	return ferrors.BackendUnavailable(string(b), err)
}

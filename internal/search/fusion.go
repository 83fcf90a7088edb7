package search

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// Strategy selects how backend scores are combined.
type Strategy string

const (
	// StrategyWeighted min-max normalizes each backend's scores and sums
	// them by weight.
	StrategyWeighted Strategy = "weighted"

	// StrategyRRF sums 1/(k+rank) across backends and ignores raw scores.
	StrategyRRF Strategy = "rrf"
)

// ParseStrategy maps a configured name to a Strategy. Empty selects
// StrategyWeighted.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyWeighted:
		return StrategyWeighted, nil
	case StrategyRRF:
		return StrategyRRF, nil
	}
	return "", fmt.Errorf("unknown fusion strategy %q (want rrf or weighted)", s)
}

// Fuser combines per-backend candidate lists into one ranking.
//
// Weighted: fused(d) = Σ w_b · norm_b(d), where norm_b min-max scales the
// backend's scores to [0,1]. A single candidate normalizes to 1. A backend
// whose two or more candidates share one score is degenerate and
// contributes w_b · (k+1)/(k+rank) instead, so rank 1 maps to w_b.
//
// RRF: fused(d) = Σ 1/(k + rank_b(d)) with 1-based ranks.
//
// A table_summary chunk and its parent table chunk deduplicate to one
// result. Output is sorted by fused score desc, structured rows before
// chunks, then reference asc, and is identical for identical input.
type Fuser struct {
	Strategy Strategy
	K        int
}

// NewFuser creates a fuser. If k <= 0, defaults to 60.
func NewFuser(strategy Strategy, k int) *Fuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if strategy == "" {
		strategy = StrategyWeighted
	}
	return &Fuser{Strategy: strategy, K: k}
}

// Degenerate reports whether cands carry no score information: two or more
// candidates that all share one score.
func Degenerate(cands []Candidate) bool {
	if len(cands) < 2 {
		return false
	}
	first := cands[0].Score
	for _, c := range cands[1:] {
		if c.Score != first {
			return false
		}
	}
	return true
}

// DegenerateBackends lists the backends in results whose scores are
// degenerate, in stable order.
func DegenerateBackends(results map[Backend][]Candidate) []Backend {
	var out []Backend
	for _, b := range sortedBackends(results) {
		if Degenerate(results[b]) {
			out = append(out, b)
		}
	}
	return out
}

// Fuse merges results and returns at most topK ranked results. Backends
// missing from weights contribute nothing under the weighted strategy.
func (f *Fuser) Fuse(results map[Backend][]Candidate, weights map[Backend]float64, topK int) []*RankedResult {
	if topK <= 0 {
		return []*RankedResult{}
	}

	byRef := make(map[string]*fused)
	for _, b := range sortedBackends(results) {
		cands := results[b]
		contribute := f.contributions(cands, weights[b])
		seen := make(map[string]bool, len(cands))
		for i, c := range cands {
			// A backend listing the same reference twice keeps its best rank.
			if seen[c.Reference] {
				continue
			}
			seen[c.Reference] = true

			r := byRef[c.Reference]
			if r == nil {
				r = newFused(c)
				byRef[c.Reference] = r
			} else {
				r.absorb(c)
			}
			term := contribute(i, c)
			r.BackendScores[b] = c.Score
			r.BackendRanks[b] = i + 1
			r.contrib[b] = term
			r.FusedScore += term
		}
	}

	merged := dedupe(byRef)
	sort.Slice(merged, func(i, j int) bool {
		return compareRanked(merged[i], merged[j])
	})

	if len(merged) > topK {
		merged = merged[:topK]
	}
	out := make([]*RankedResult, len(merged))
	for i, r := range merged {
		out[i] = r.RankedResult
	}
	return out
}

// contributions returns the per-candidate term for one backend's list.
func (f *Fuser) contributions(cands []Candidate, weight float64) func(i int, c Candidate) float64 {
	k := float64(f.K)
	rankTerm := func(i int) float64 { return 1 / (k + float64(i+1)) }

	if f.Strategy == StrategyRRF {
		return func(i int, _ Candidate) float64 { return rankTerm(i) }
	}

	if Degenerate(cands) {
		return func(i int, _ Candidate) float64 { return weight * (k + 1) * rankTerm(i) }
	}

	lo, hi := scoreRange(cands)
	return func(_ int, c Candidate) float64 {
		if hi == lo {
			return weight
		}
		return weight * (c.Score - lo) / (hi - lo)
	}
}

func scoreRange(cands []Candidate) (lo, hi float64) {
	for i, c := range cands {
		if i == 0 || c.Score < lo {
			lo = c.Score
		}
		if i == 0 || c.Score > hi {
			hi = c.Score
		}
	}
	return lo, hi
}

// fused is a RankedResult under construction.
type fused struct {
	*RankedResult
	logical string
	contrib map[Backend]float64
}

func newFused(c Candidate) *fused {
	return &fused{
		RankedResult: &RankedResult{
			SourceKind:    c.Kind,
			Reference:     c.Reference,
			BackendScores: make(map[Backend]float64, 2),
			BackendRanks:  make(map[Backend]int, 2),
			Provenance:    c.provenance(),
			Row:           c.Row,
			MatchTier:     c.MatchTier,
			MatchedTerms:  append([]string(nil), c.MatchedTerms...),
		},
		logical: c.logicalID(),
		contrib: make(map[Backend]float64, 2),
	}
}

// absorb fills fields a later backend knows and an earlier one did not.
func (r *fused) absorb(c Candidate) {
	if r.Provenance.DocumentID == "" {
		r.Provenance = c.provenance()
		r.logical = c.logicalID()
	}
	if r.Row == nil && c.Row != nil {
		r.Row = c.Row
		r.MatchTier = c.MatchTier
	}
	r.MatchedTerms = mergeTerms(r.MatchedTerms, c.MatchedTerms)
}

// dedupe collapses results sharing a logical id, keeping the higher scoring
// representation. Backends that reached only the other representation move
// over with their score, rank and fused contribution, so FusedScore always
// sums the backends listed in BackendScores.
func dedupe(byRef map[string]*fused) []*fused {
	refs := make([]string, 0, len(byRef))
	for ref := range byRef {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	groups := make(map[string]*fused, len(byRef))
	order := make([]string, 0, len(byRef))
	for _, ref := range refs {
		r := byRef[ref]
		key := string(r.SourceKind) + "\x00" + r.logical
		kept, ok := groups[key]
		if !ok {
			groups[key] = r
			order = append(order, key)
			continue
		}
		winner, loser := kept, r
		if compareRanked(r, kept) {
			winner, loser = r, kept
		}
		for b, s := range loser.BackendScores {
			if _, has := winner.BackendScores[b]; !has {
				winner.BackendScores[b] = s
				winner.BackendRanks[b] = loser.BackendRanks[b]
				winner.contrib[b] = loser.contrib[b]
				winner.FusedScore += loser.contrib[b]
			}
		}
		winner.MatchedTerms = mergeTerms(winner.MatchedTerms, loser.MatchedTerms)
		groups[key] = winner
	}

	out := make([]*fused, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	return out
}

// compareRanked reports whether a ranks before b.
//
// Priority:
//  1. Higher fused score
//  2. Structured rows before chunks
//  3. Lexicographically smaller reference
func compareRanked(a, b *fused) bool {
	if a.FusedScore != b.FusedScore {
		return a.FusedScore > b.FusedScore
	}
	if a.SourceKind != b.SourceKind {
		return a.SourceKind == SourceStructuredRow
	}
	return a.Reference < b.Reference
}

func mergeTerms(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range append(append([]string(nil), a...), b...) {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func sortedBackends(results map[Backend][]Candidate) []Backend {
	out := make([]Backend, 0, len(results))
	for b := range results {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

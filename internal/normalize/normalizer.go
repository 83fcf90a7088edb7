package normalize

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/finrag/internal/store"
)

const (
	// DefaultBusinessUnitSuffix is appended to bare names under a numbered
	// section header.
	DefaultBusinessUnitSuffix = "Cement"

	// DefaultCacheSize is the number of fuzzy lookups kept per normalizer.
	DefaultCacheSize = 1024
)

// sectionHeader matches numbered headers such as "1.1.1 Portugal" or
// "2.3. Tunisia" and captures the title.
var sectionHeader = regexp.MustCompile(`^\s*\d+(?:\.\d+)*\.?\s+(.+?)\s*$`)

// Candidate is one fuzzy match against the dimension table.
type Candidate struct {
	CanonicalName string
	Similarity    float64
	// Matched is the surface form (canonical name or raw mention) that scored.
	Matched string
}

// Options configures a Normalizer.
type Options struct {
	BusinessUnitSuffix string
	CacheSize          int
}

type cacheKey struct {
	version   uint64
	text      string
	threshold float64
}

// Normalizer resolves raw entity mentions against the current snapshot.
// It is safe for concurrent use.
type Normalizer struct {
	current atomic.Pointer[Snapshot]
	cache   *lru.Cache[cacheKey, []Candidate]
	suffix  string
}

// New returns a Normalizer reading snap. A nil snap starts empty.
func New(snap *Snapshot, opts Options) *Normalizer {
	if snap == nil {
		snap = EmptySnapshot()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[cacheKey, []Candidate](opts.CacheSize)

	n := &Normalizer{
		cache:  cache,
		suffix: strings.TrimSpace(opts.BusinessUnitSuffix),
	}
	n.current.Store(snap)
	return n
}

// Snapshot returns the snapshot currently in use.
func (n *Normalizer) Snapshot() *Snapshot {
	return n.current.Load()
}

// Swap installs snap and returns the previous snapshot. In-flight readers
// keep the snapshot they loaded.
func (n *Normalizer) Swap(snap *Snapshot) *Snapshot {
	if snap == nil {
		snap = EmptySnapshot()
	}
	old := n.current.Swap(snap)
	n.cache.Purge()
	slog.Debug("entity_snapshot_swapped",
		slog.Uint64("version", snap.Version()),
		slog.Int("entities", snap.Len()))
	return old
}

// Normalize maps a raw mention to its canonical name:
//  1. an alias in the table whose section context matches (or is unscoped);
//  2. a bare name repeating its numbered section header ("Portugal" under
//     "1.1.1 Portugal") becomes "<Name> <suffix>".
//
// ok is false when no rule applies.
func (n *Normalizer) Normalize(raw, sectionContext string) (canonical string, ok bool) {
	snap := n.current.Load()
	folded := Fold(raw)
	if folded == "" {
		return "", false
	}
	section := Fold(sectionContext)

	if c, ok := snap.lookup(folded, section); ok {
		return c, true
	}

	if n.suffix == "" {
		return "", false
	}
	m := sectionHeader.FindStringSubmatch(sectionContext)
	if m == nil || Fold(m[1]) != folded || !isBareName(raw) {
		return "", false
	}
	if strings.HasSuffix(folded, " "+Fold(n.suffix)) {
		return "", false
	}

	expanded := strings.Join(strings.Fields(raw), " ") + " " + n.suffix
	if c, ok := snap.lookup(Fold(expanded), section); ok {
		return c, true
	}
	return expanded, true
}

// isBareName reports whether s is only letters, spaces, hyphens and
// apostrophes.
func isBareName(s string) bool {
	hasLetter := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case r == ' ' || r == '-' || r == '\'':
		default:
			return false
		}
	}
	return hasLetter
}

// FuzzyCandidates ranks canonical names by trigram similarity to text over
// every canonical name and raw mention. Only matches with similarity above
// zero and at least threshold are returned, ordered by similarity desc,
// then shorter canonical name, then canonical name.
func (n *Normalizer) FuzzyCandidates(text string, threshold float64) []Candidate {
	snap := n.current.Load()
	key := cacheKey{version: snap.Version(), text: Fold(text), threshold: threshold}
	if key.text == "" {
		return []Candidate{}
	}
	if cached, ok := n.cache.Get(key); ok {
		return append([]Candidate(nil), cached...)
	}

	grams := Trigrams(text)
	best := make(map[string]Candidate)
	for _, t := range snap.terms {
		sim := jaccard(grams, t.grams)
		if sim <= 0 || sim < threshold {
			continue
		}
		if cur, ok := best[t.canonical]; !ok || sim > cur.Similarity {
			best[t.canonical] = Candidate{CanonicalName: t.canonical, Similarity: sim, Matched: t.text}
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if len(out[i].CanonicalName) != len(out[j].CanonicalName) {
			return len(out[i].CanonicalName) < len(out[j].CanonicalName)
		}
		return out[i].CanonicalName < out[j].CanonicalName
	})

	n.cache.Add(key, out)
	return append([]Candidate(nil), out...)
}

// NormalizeRows resolves rows whose EntityNormalized is nil. The result maps
// row id to canonical name and only holds rows a rule matched.
func (n *Normalizer) NormalizeRows(rows []*store.StructuredRow) map[int64]string {
	out := make(map[int64]string)
	for _, r := range rows {
		if r.EntityNormalized != nil {
			continue
		}
		if c, ok := n.Normalize(r.EntityRaw, r.SectionContext); ok {
			out[r.ID] = c
		}
	}
	return out
}

package normalize

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/Aman-CERP/finrag/internal/store"
)

var snapshotSeq atomic.Uint64

// alias is one raw mention (or canonical name) pointing at a canonical name.
type alias struct {
	canonical      string
	sectionContext string // folded; empty matches any section
}

// term is a fuzzy-matchable surface form with its trigram set.
type term struct {
	text      string
	canonical string
	grams     map[string]struct{}
}

// Mention is a folded surface form of a canonical entity, used to spot
// entities in free text.
type Mention struct {
	Text      string
	Canonical string
}

// Snapshot is an immutable copy of the entity dimension table.
type Snapshot struct {
	version  uint64
	mappings []store.EntityMapping
	aliases  map[string][]alias
	terms    []term
	mentions []Mention
}

// NewSnapshot indexes mappings. Canonical names must be non-empty and unique
// after folding.
func NewSnapshot(mappings []store.EntityMapping) (*Snapshot, error) {
	sorted := make([]store.EntityMapping, len(mappings))
	copy(sorted, mappings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CanonicalName < sorted[j].CanonicalName
	})

	s := &Snapshot{
		version:  snapshotSeq.Add(1),
		mappings: sorted,
		aliases:  make(map[string][]alias),
	}

	seen := make(map[string]bool, len(sorted))
	mentionSeen := make(map[Mention]bool)
	for _, m := range sorted {
		canonical := strings.TrimSpace(m.CanonicalName)
		folded := Fold(canonical)
		if folded == "" {
			return nil, fmt.Errorf("entity mapping with empty canonical_name")
		}
		if seen[folded] {
			return nil, fmt.Errorf("duplicate canonical_name %q", canonical)
		}
		seen[folded] = true

		section := Fold(m.SectionContext)
		surfaces := append([]string{canonical}, m.RawMentions...)
		for i, surface := range surfaces {
			f := Fold(surface)
			if f == "" {
				continue
			}
			// the canonical name is valid in any section
			sec := section
			if i == 0 {
				sec = ""
			}
			s.aliases[f] = append(s.aliases[f], alias{canonical: canonical, sectionContext: sec})
			s.terms = append(s.terms, term{text: surface, canonical: canonical, grams: Trigrams(surface)})

			mention := Mention{Text: f, Canonical: canonical}
			if !mentionSeen[mention] {
				mentionSeen[mention] = true
				s.mentions = append(s.mentions, mention)
			}
		}
	}

	// longest mention first so "portugal cement" wins over "portugal"
	sort.SliceStable(s.mentions, func(i, j int) bool {
		if len(s.mentions[i].Text) != len(s.mentions[j].Text) {
			return len(s.mentions[i].Text) > len(s.mentions[j].Text)
		}
		return s.mentions[i].Text < s.mentions[j].Text
	})
	return s, nil
}

// EmptySnapshot returns a snapshot with no entities.
func EmptySnapshot() *Snapshot {
	s, _ := NewSnapshot(nil)
	return s
}

// Version identifies the snapshot; every NewSnapshot call yields a new one.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of canonical entities.
func (s *Snapshot) Len() int {
	return len(s.mappings)
}

// Mappings returns the mappings ordered by canonical name. Callers must not
// modify the result.
func (s *Snapshot) Mappings() []store.EntityMapping {
	return s.mappings
}

// Mentions returns every folded surface form, longest first. Callers must
// not modify the result.
func (s *Snapshot) Mentions() []Mention {
	return s.mentions
}

// lookup resolves a folded alias within a section. Section-specific aliases
// beat unscoped ones; remaining ties go to the first canonical name.
func (s *Snapshot) lookup(folded, section string) (string, bool) {
	entries := s.aliases[folded]
	if len(entries) == 0 {
		return "", false
	}
	fallback := ""
	for _, e := range entries {
		if e.sectionContext == "" {
			if fallback == "" {
				fallback = e.canonical
			}
			continue
		}
		if section != "" && strings.Contains(section, e.sectionContext) {
			return e.canonical, true
		}
	}
	if fallback != "" {
		return fallback, true
	}
	return "", false
}

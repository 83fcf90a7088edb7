package normalize

import (
	"strings"
	"unicode"
)

// Fold lowercases s, maps punctuation to spaces and collapses whitespace.
// Two mentions that fold equal are the same alias.
func Fold(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
			space = false
			continue
		}
		if !space {
			sb.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

// Trigrams returns the set of character trigrams of the folded text, each
// word padded with two leading blanks and one trailing blank.
func Trigrams(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(Fold(s)) {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}

// Similarity is the Jaccard index of the trigram sets of a and b, in [0,1].
func Similarity(a, b string) float64 {
	return jaccard(Trigrams(a), Trigrams(b))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for g := range small {
		if _, ok := large[g]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

// TokenOverlap is the share of a's words that also appear in b.
func TokenOverlap(a, b string) float64 {
	aw := strings.Fields(Fold(a))
	if len(aw) == 0 {
		return 0
	}
	bw := make(map[string]struct{})
	for _, w := range strings.Fields(Fold(b)) {
		bw[w] = struct{}{}
	}
	hit := 0
	for _, w := range aw {
		if _, ok := bw[w]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(aw))
}

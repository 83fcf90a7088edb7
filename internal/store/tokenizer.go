package store

import (
	"regexp"
	"strings"
)

// tokenRegex matches words ("q3", "fy24") and decimal numbers ("23.2", "1,250.5").
var tokenRegex = regexp.MustCompile(`\p{L}[\p{L}0-9]*|[0-9]+(?:[.,][0-9]+)*`)

// Tokenize splits report text into lowercase terms. Unit compounds such as
// "EUR/ton" split into their parts. Thousands separators are dropped from
// numbers so "1,250" and "1250" match. Single letters are dropped, single
// digits are kept.
func Tokenize(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)
		if isNumeric(lower) {
			tokens = append(tokens, normalizeNumber(lower))
			continue
		}
		if len([]rune(lower)) >= 2 {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

func isNumeric(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// normalizeNumber drops thousands separators. A comma followed by exactly
// three digits is a separator, anything else is a decimal comma.
func normalizeNumber(s string) string {
	if !strings.Contains(s, ",") {
		return s
	}
	parts := strings.Split(s, ",")
	var sb strings.Builder
	sb.WriteString(parts[0])
	for _, p := range parts[1:] {
		if len(p) == 3 || (strings.Contains(p, ".") && strings.Index(p, ".") == 3) {
			sb.WriteString(p)
		} else {
			sb.WriteString(".")
			sb.WriteString(p)
		}
	}
	return sb.String()
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

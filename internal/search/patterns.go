package search

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Compiled regex patterns for query classification.
var (
	// Any explicit number, including the digits of a year or quarter.
	numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

	// Currency and magnitude tokens.
	unitPattern = regexp.MustCompile(`(?i)(%|€|\$|\b(?:eur|usd|gbp|chf|ton|tons|tonne|tonnes|million|billion|thousand|percent|pct)\b)`)

	// Magnitude suffixes count only right after a digit ("12m", "3.4 bn"),
	// so contractions like "I'm" are not units.
	magnitudePattern = regexp.MustCompile(`(?i)\d\s*(m|mn|bn|k)\b`)

	// Phrases that ask for a value.
	valuePhrasePattern = regexp.MustCompile(`(?i)\b(how much|how many|what was the value|what is the value|what were the|value of|amount of|per ton)\b`)

	// Relational and analytical wording.
	analyticalPattern = regexp.MustCompile(`(?i)\b(compare|compared|comparison|trend|trends|correlate|correlated|correlation|why|versus|vs)\b`)
)

// Period patterns, applied in this order. Each match is blanked out before
// the next pattern runs so "Q3 2024" does not also yield "2024".
var (
	monthPattern       = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|sept|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec)\.?[\s\-/]*'?(\d{4}|\d{2})\b`)
	quarterPattern     = regexp.MustCompile(`(?i)\bq([1-4])[\s\-/]*(?:fy)?'?(\d{4}|\d{2})\b`)
	yearQuarterPattern = regexp.MustCompile(`(?i)\b(\d{4})[\s\-/]*q([1-4])\b`)
	halfPattern        = regexp.MustCompile(`(?i)\bh([12])[\s\-/]*(?:fy)?'?(\d{4}|\d{2})\b`)
	fiscalYearPattern  = regexp.MustCompile(`(?i)\bfy[\s\-/]*'?(\d{4}|\d{2})\b`)
	yearPattern        = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
)

var monthAbbrev = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

var monthIndex = map[string]int{
	"jan": 0, "feb": 1, "mar": 2, "apr": 3, "may": 4, "jun": 5,
	"jul": 6, "aug": 7, "sep": 8, "oct": 9, "nov": 10, "dec": 11,
}

// monthNames are skipped by the capitalized-phrase heuristic.
var monthNames = []string{
	"january", "february", "march", "april", "may", "june", "july",
	"august", "september", "october", "november", "december",
	"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
}

// queryWords never start an entity phrase.
var queryWords = []string{
	"who", "whom", "whose", "when", "where", "why", "show", "list", "give",
	"tell", "find", "please", "compare", "versus", "vs", "trend", "between",
	"total", "per", "year", "quarter", "month", "fiscal", "q1", "q2", "q3", "q4",
	"h1", "h2", "fy", "eur", "usd", "gbp", "chf", "m", "mn", "bn", "k",
	"million", "billion", "ton", "tons", "tonne", "tonnes", "i", "we", "our",
}

// twoDigitYear renders a year as its last two digits.
func twoDigitYear(y string) string {
	n, err := strconv.Atoi(y)
	if err != nil {
		return y
	}
	return fmt.Sprintf("%02d", n%100)
}

// ExtractPeriods finds period expressions in text and returns them in
// canonical form (Mon-YY, Qn-YY, Hn-YY, FYyy or yyyy), in order of first
// appearance and without duplicates.
func ExtractPeriods(text string) []string {
	type hit struct {
		pos    int
		period string
	}
	var hits []hit
	work := text

	consume := func(re *regexp.Regexp, render func(m []string) string) {
		for _, loc := range re.FindAllStringSubmatchIndex(work, -1) {
			groups := make([]string, len(loc)/2)
			for i := range groups {
				if loc[2*i] >= 0 {
					groups[i] = work[loc[2*i]:loc[2*i+1]]
				}
			}
			hits = append(hits, hit{pos: loc[0], period: render(groups)})
		}
		work = re.ReplaceAllStringFunc(work, func(m string) string {
			return strings.Repeat(" ", len(m))
		})
	}

	consume(monthPattern, func(m []string) string {
		return monthAbbrev[monthIndex[strings.ToLower(m[1][:3])]] + "-" + twoDigitYear(m[2])
	})
	consume(quarterPattern, func(m []string) string {
		return "Q" + m[1] + "-" + twoDigitYear(m[2])
	})
	consume(yearQuarterPattern, func(m []string) string {
		return "Q" + m[2] + "-" + twoDigitYear(m[1])
	})
	consume(halfPattern, func(m []string) string {
		return "H" + m[1] + "-" + twoDigitYear(m[2])
	})
	consume(fiscalYearPattern, func(m []string) string {
		return "FY" + twoDigitYear(m[1])
	})
	consume(yearPattern, func(m []string) string {
		return m[1]
	})

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := make(map[string]bool, len(hits))
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if seen[h.period] {
			continue
		}
		seen[h.period] = true
		out = append(out, h.period)
	}
	return out
}

// FiscalYearOf returns the four-digit year a canonical period belongs to.
func FiscalYearOf(period string) (int, bool) {
	p := strings.TrimSpace(period)
	var yy string
	switch {
	case len(p) == 4 && yearPattern.MatchString(p):
		y, _ := strconv.Atoi(p)
		return y, true
	case strings.HasPrefix(strings.ToUpper(p), "FY"):
		yy = p[2:]
	default:
		i := strings.LastIndex(p, "-")
		if i < 0 {
			return 0, false
		}
		yy = p[i+1:]
	}
	n, err := strconv.Atoi(yy)
	if err != nil {
		return 0, false
	}
	if len(yy) == 2 {
		n += 2000
	}
	return n, true
}

// isYearLevel reports whether a canonical period names a whole year.
func isYearLevel(period string) bool {
	if len(period) == 4 && yearPattern.MatchString(period) {
		return true
	}
	return strings.HasPrefix(strings.ToUpper(period), "FY")
}

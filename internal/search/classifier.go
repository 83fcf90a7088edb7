package search

import (
	"sort"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/finrag/internal/normalize"
	"github.com/Aman-CERP/finrag/internal/store"
)

// DefaultClassifierCacheSize is the default number of cached classifications.
const DefaultClassifierCacheSize = 1000

// Rule names reported as the first cue of a classified query.
const (
	RuleNumericLookup = "numeric_lookup"
	RuleAnalytical    = "analytical"
	RuleDefault       = "default"
	RuleAmbiguous     = "ambiguous"
	RuleEmpty         = "empty"
)

// DefaultMetricVocabulary is used when no metric list is configured.
var DefaultMetricVocabulary = []string{
	"revenue", "sales", "ebitda", "ebit", "net income", "net debt",
	"variable cost", "fixed cost", "cash cost", "capex", "opex", "margin",
	"volume", "price", "production", "headcount", "free cash flow",
}

type classifyKey struct {
	version uint64
	query   string
}

// Classifier routes queries with deterministic rules. Entity recognition
// reads the normalizer's current snapshot; nothing else is consulted, so
// Classify does no I/O and never fails.
//
// Rules, first match wins:
//  1. a numeric cue plus an entity or metric routes STRUCTURED, dispatched
//     with VECTOR as semantic fallback
//  2. analytical wording routes HYBRID over structured and vector
//  3. text with no usable word, entity or period routes HYBRID over every
//     backend
//  4. anything else routes HYBRID over lexical and vector
type Classifier struct {
	normalizer *normalize.Normalizer
	metrics    []string
	skip       map[string]struct{}
	cache      *lru.Cache[classifyKey, ClassifiedQuery]
}

// NewClassifier creates a classifier. n may be nil, in which case only the
// capitalized-phrase heuristic recognizes entities. An empty metrics list
// uses DefaultMetricVocabulary.
func NewClassifier(n *normalize.Normalizer, metrics []string) *Classifier {
	if len(metrics) == 0 {
		metrics = DefaultMetricVocabulary
	}

	folded := make([]string, 0, len(metrics))
	seen := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		f := normalize.Fold(m)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		folded = append(folded, f)
	}
	// Longest first so "variable cost" wins over "cost".
	sort.SliceStable(folded, func(i, j int) bool { return len(folded[i]) > len(folded[j]) })

	skip := make(map[string]struct{})
	for _, words := range [][]string{store.DefaultStopWords, queryWords, monthNames} {
		for _, w := range words {
			skip[w] = struct{}{}
		}
	}
	for _, m := range folded {
		for _, w := range strings.Fields(m) {
			skip[w] = struct{}{}
		}
	}

	cache, _ := lru.New[classifyKey, ClassifiedQuery](DefaultClassifierCacheSize)
	return &Classifier{
		normalizer: n,
		metrics:    folded,
		skip:       skip,
		cache:      cache,
	}
}

// Classify reads query and decides its route and backend set.
func (c *Classifier) Classify(query string) ClassifiedQuery {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return ClassifiedQuery{
			Raw:      query,
			Route:    RouteHybrid,
			Backends: append([]Backend(nil), AllBackends...),
			Cues:     []string{RuleEmpty},
		}
	}

	var snap *normalize.Snapshot
	if c.normalizer != nil {
		snap = c.normalizer.Snapshot()
	}
	key := classifyKey{query: trimmed}
	if snap != nil {
		key.version = snap.Version()
	}
	if cached, ok := c.cache.Get(key); ok {
		cached.Raw = query
		return cloneClassified(cached)
	}

	cq := c.classify(trimmed, snap)
	c.cache.Add(key, cq)
	cq.Raw = query
	return cloneClassified(cq)
}

func (c *Classifier) classify(text string, snap *normalize.Snapshot) ClassifiedQuery {
	cq := ClassifiedQuery{
		Raw:      text,
		Entities: c.extractEntities(text, snap),
		Metrics:  c.extractMetrics(text),
		Periods:  ExtractPeriods(text),
	}

	numericCues := numericCues(text)
	if len(numericCues) > 0 && (len(cq.Entities) > 0 || len(cq.Metrics) > 0) {
		cq.Route = RouteStructured
		cq.Backends = []Backend{BackendStructured, BackendVector}
		cq.Cues = append([]string{RuleNumericLookup}, numericCues...)
		cq.HighConfidence = len(cq.Entities) > 0 && len(cq.Metrics) > 0 && len(cq.Periods) > 0
		return cq
	}

	if m := analyticalPattern.FindAllString(text, -1); len(m) > 0 {
		cq.Route = RouteHybrid
		cq.Backends = []Backend{BackendStructured, BackendVector}
		cq.Cues = []string{RuleAnalytical}
		for _, w := range m {
			cq.Cues = append(cq.Cues, "cue:"+strings.ToLower(w))
		}
		return cq
	}

	cq.Route = RouteHybrid
	if len(cq.Entities) == 0 && len(cq.Periods) == 0 && !c.hasUsableWord(text) {
		cq.Backends = append([]Backend(nil), AllBackends...)
		cq.Cues = []string{RuleAmbiguous}
		return cq
	}
	cq.Backends = []Backend{BackendLexical, BackendVector}
	cq.Cues = []string{RuleDefault}
	return cq
}

// hasUsableWord reports whether text holds a word with a letter that is not
// a stop word, query word or month name.
func (c *Classifier) hasUsableWord(text string) bool {
	for _, w := range strings.Fields(normalize.Fold(text)) {
		if _, skip := c.skip[w]; skip {
			continue
		}
		if strings.IndexFunc(w, unicode.IsLetter) >= 0 {
			return true
		}
	}
	return false
}

// numericCues lists the numbers, units and value phrases found in text.
func numericCues(text string) []string {
	var cues []string
	for _, n := range numberPattern.FindAllString(text, -1) {
		cues = append(cues, "number:"+n)
	}
	for _, u := range unitPattern.FindAllString(text, -1) {
		cues = append(cues, "unit:"+strings.ToLower(u))
	}
	for _, m := range magnitudePattern.FindAllStringSubmatch(text, -1) {
		cues = append(cues, "unit:"+strings.ToLower(m[1]))
	}
	for _, p := range valuePhrasePattern.FindAllString(text, -1) {
		cues = append(cues, "phrase:"+strings.ToLower(p))
	}
	return cues
}

// extractEntities spots snapshot mentions, longest first, then adds
// capitalized phrases the snapshot does not cover.
func (c *Classifier) extractEntities(text string, snap *normalize.Snapshot) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(e string) {
		k := normalize.Fold(e)
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, e)
	}

	work := " " + normalize.Fold(text) + " "
	if snap != nil {
		for _, m := range snap.Mentions() {
			needle := " " + m.Text + " "
			if !strings.Contains(work, needle) {
				continue
			}
			add(m.Canonical)
			work = strings.ReplaceAll(work, needle, " | ")
		}
	}

	for _, phrase := range c.capitalizedPhrases(text) {
		if !strings.Contains(work, " "+normalize.Fold(phrase)+" ") {
			continue
		}
		add(phrase)
	}
	return out
}

// capitalizedPhrases returns runs of capitalized words that are not query
// words, months, units or metric terms.
func (c *Classifier) capitalizedPhrases(text string) []string {
	var phrases []string
	var run []string
	flush := func() {
		if len(run) > 0 {
			phrases = append(phrases, strings.Join(run, " "))
			run = nil
		}
	}

	for _, field := range strings.Fields(text) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&'
		})
		if !c.entityWord(word) {
			flush()
			continue
		}
		run = append(run, word)
		// Trailing punctuation ends the phrase.
		if last := field[len(field)-1]; last == ',' || last == '?' || last == '.' || last == ';' || last == ':' {
			flush()
		}
	}
	flush()
	return phrases
}

func (c *Classifier) entityWord(word string) bool {
	if word == "" {
		return false
	}
	first := []rune(word)[0]
	if !unicode.IsUpper(first) {
		return false
	}
	for _, r := range word {
		if unicode.IsDigit(r) {
			return false
		}
	}
	_, skip := c.skip[normalize.Fold(word)]
	return !skip
}

// extractMetrics matches the metric vocabulary on word boundaries.
func (c *Classifier) extractMetrics(text string) []string {
	var out []string
	work := " " + normalize.Fold(text) + " "
	for _, m := range c.metrics {
		needle := " " + m + " "
		if !strings.Contains(work, needle) {
			continue
		}
		out = append(out, m)
		work = strings.ReplaceAll(work, needle, " | ")
	}
	return out
}

func cloneClassified(q ClassifiedQuery) ClassifiedQuery {
	q.Backends = append([]Backend(nil), q.Backends...)
	q.Entities = append([]string(nil), q.Entities...)
	q.Metrics = append([]string(nil), q.Metrics...)
	q.Periods = append([]string(nil), q.Periods...)
	q.Cues = append([]string(nil), q.Cues...)
	return q
}

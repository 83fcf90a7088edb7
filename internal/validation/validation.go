// Package validation runs a held-out query set through the retrieval
// orchestrator and reports hit rates. Thresholds and fusion weights are
// tuned against these numbers.
//
// Query sets are data-driven YAML with three sections: tier1 (must hit),
// tier2 (should hit) and negative (must not fail). A default set is
// embedded; operators point eval at their own file.
package validation

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "github.com/Aman-CERP/finrag/internal/errors"
	"github.com/Aman-CERP/finrag/internal/search"
)

//go:embed testdata/queries.yaml
var defaultQueries []byte

// DefaultTopK is how deep a query's results are searched for an expected
// reference.
const DefaultTopK = 10

// QuerySpec defines a query and what should come back.
type QuerySpec struct {
	ID    string `yaml:"id"`    // e.g. "T1-Q3"
	Name  string `yaml:"name"`  // human-readable name
	Query string `yaml:"query"` // query text

	// Expected lists result keys, any of which counts as a hit. A key
	// matches a result's reference, document id, or for structured rows
	// "<entity> | <metric> | <period>" (case-insensitive substring).
	Expected []string `yaml:"expected"`

	// ExpectedRoute, when set, must equal the classified route.
	ExpectedRoute search.Route `yaml:"expected_route"`

	Notes string `yaml:"notes"` // optional explanation for maintainers
	Tier  int    `yaml:"-"`     // set from the section
}

// QueryConfig holds a query set.
type QueryConfig struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

// Count returns the number of queries in the set.
func (c *QueryConfig) Count() int {
	return len(c.Tier1) + len(c.Tier2) + len(c.Negative)
}

// ParseQueries parses a YAML query set.
func ParseQueries(data []byte) (*QueryConfig, error) {
	var cfg QueryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse queries YAML: %w", err)
	}
	for i := range cfg.Tier1 {
		cfg.Tier1[i].Tier = 1
	}
	for i := range cfg.Tier2 {
		cfg.Tier2[i].Tier = 2
	}
	for i := range cfg.Negative {
		cfg.Negative[i].Tier = 0
	}
	return &cfg, nil
}

// LoadQueries reads a query set from path. An empty path returns the
// embedded default set.
func LoadQueries(path string) (*QueryConfig, error) {
	if path == "" {
		return ParseQueries(defaultQueries)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read queries file %s: %w", path, err)
	}
	return ParseQueries(data)
}

// TestResult captures the outcome of a single query.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ms"`
	Route      search.Route  `json:"route,omitempty"`
	TopResults []string      `json:"top_results"`
	MatchedAt  int           `json:"matched_at"` // 0-based rank of first hit, -1 if none
	NoEvidence bool          `json:"no_evidence,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// ValidationResult captures a full run.
type ValidationResult struct {
	Timestamp  time.Time    `json:"timestamp"`
	Tier1      []TestResult `json:"tier1"`
	Tier2      []TestResult `json:"tier2"`
	Negative   []TestResult `json:"negative"`
	Tier1Pass  int          `json:"tier1_pass"`
	Tier1Total int          `json:"tier1_total"`
	Tier2Pass  int          `json:"tier2_pass"`
	Tier2Total int          `json:"tier2_total"`
	NegPass    int          `json:"negative_pass"`
	NegTotal   int          `json:"negative_total"`
}

// HitRate is the share of tier 1 and tier 2 queries that hit.
func (r *ValidationResult) HitRate() float64 {
	total := r.Tier1Total + r.Tier2Total
	if total == 0 {
		return 0
	}
	return float64(r.Tier1Pass+r.Tier2Pass) / float64(total)
}

// MRR is the mean reciprocal rank of the first hit over tier 1 and tier 2.
func (r *ValidationResult) MRR() float64 {
	var sum float64
	n := 0
	for _, set := range [][]TestResult{r.Tier1, r.Tier2} {
		for _, tr := range set {
			n++
			if tr.MatchedAt >= 0 {
				sum += 1 / float64(tr.MatchedAt+1)
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Passed reports whether every tier 1 and negative query passed.
func (r *ValidationResult) Passed() bool {
	return r.Tier1Pass == r.Tier1Total && r.NegPass == r.NegTotal
}

// Searcher is the query side of the orchestrator.
type Searcher interface {
	Query(ctx context.Context, text string, topK int, timeout time.Duration) (*search.Response, error)
}

// Validator runs query sets against a Searcher.
type Validator struct {
	searcher Searcher
	topK     int
	timeout  time.Duration
}

// NewValidator creates a validator. topK <= 0 uses DefaultTopK; timeout <= 0
// uses the searcher's configured deadline.
func NewValidator(s Searcher, topK int, timeout time.Duration) (*Validator, error) {
	if s == nil {
		return nil, errors.New("searcher is required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Validator{searcher: s, topK: topK, timeout: timeout}, nil
}

// RunQuery executes a single query and scores it.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	start := time.Now()
	result := TestResult{Spec: spec, MatchedAt: -1}

	resp, err := v.searcher.Query(ctx, spec.Query, v.topK, v.timeout)
	result.Duration = time.Since(start)

	if err != nil {
		result.Error = err.Error()
		// Negative queries may be rejected, never fail.
		result.Passed = spec.Tier == 0 && errors.Is(err, ferrors.ErrInvalidInput)
		return result
	}

	result.Route = resp.Diagnostics.Route
	result.NoEvidence = resp.NoEvidence
	for _, r := range resp.Results {
		result.TopResults = append(result.TopResults, ResultKey(r))
	}

	if len(spec.Expected) == 0 {
		result.Passed = true
	} else {
		result.MatchedAt = matchExpected(resp.Results, spec.Expected)
		result.Passed = result.MatchedAt >= 0
	}
	if spec.ExpectedRoute != "" && spec.ExpectedRoute != result.Route {
		result.Passed = false
		if result.Error == "" {
			result.Error = fmt.Sprintf("route %s, want %s", result.Route, spec.ExpectedRoute)
		}
	}
	return result
}

// Run executes every query in cfg.
func (v *Validator) Run(ctx context.Context, cfg *QueryConfig) *ValidationResult {
	result := &ValidationResult{Timestamp: time.Now()}

	for _, spec := range cfg.Tier1 {
		tr := v.RunQuery(ctx, spec)
		result.Tier1 = append(result.Tier1, tr)
		result.Tier1Total++
		if tr.Passed {
			result.Tier1Pass++
		}
	}
	for _, spec := range cfg.Tier2 {
		tr := v.RunQuery(ctx, spec)
		result.Tier2 = append(result.Tier2, tr)
		result.Tier2Total++
		if tr.Passed {
			result.Tier2Pass++
		}
	}
	for _, spec := range cfg.Negative {
		tr := v.RunQuery(ctx, spec)
		result.Negative = append(result.Negative, tr)
		result.NegTotal++
		if tr.Passed {
			result.NegPass++
		}
	}
	return result
}

// ResultKey is the human-readable key a result is matched and reported by.
func ResultKey(r *search.RankedResult) string {
	if r.Row != nil {
		entity := r.Row.Normalized()
		if entity == "" {
			entity = r.Row.EntityRaw
		}
		return fmt.Sprintf("%s | %s | %s", entity, r.Row.Metric, r.Row.Period)
	}
	if r.Provenance.DocumentID != "" {
		return fmt.Sprintf("%s p%d %s", r.Provenance.DocumentID, r.Provenance.PageNumber, r.Reference)
	}
	return r.Reference
}

// matchExpected returns the rank of the first result any expected key
// matches, or -1.
func matchExpected(results []*search.RankedResult, expected []string) int {
	for i, r := range results {
		keys := []string{
			strings.ToLower(r.Reference),
			strings.ToLower(r.Provenance.DocumentID),
			strings.ToLower(ResultKey(r)),
		}
		for _, exp := range expected {
			exp = strings.ToLower(strings.TrimSpace(exp))
			if exp == "" {
				continue
			}
			for _, k := range keys {
				if k != "" && (k == exp || strings.Contains(k, exp)) {
					return i
				}
			}
		}
	}
	return -1
}

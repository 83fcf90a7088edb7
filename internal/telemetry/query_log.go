// Package telemetry records retrieval diagnostics: Prometheus series for
// scraping, and a local query log that tracks routes, latency buckets,
// backend outcomes and queries that found no evidence. Query log data is
// stored locally only.
package telemetry

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/finrag/internal/normalize"
	"github.com/Aman-CERP/finrag/internal/search"
	"github.com/Aman-CERP/finrag/internal/store"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP50   LatencyBucket = "p50"   // <50ms
	BucketP300  LatencyBucket = "p300"  // 50-300ms
	BucketP800  LatencyBucket = "p800"  // 300-800ms
	BucketP1500 LatencyBucket = "p1500" // 800-1500ms
	BucketSlow  LatencyBucket = "slow"  // >=1500ms
)

// LatencyToBucket converts a duration to its histogram bucket. Bucket edges
// follow the default backend and request deadlines.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 50:
		return BucketP50
	case ms < 300:
		return BucketP300
	case ms < 800:
		return BucketP800
	case ms < 1500:
		return BucketP1500
	default:
		return BucketSlow
	}
}

// =============================================================================
// Query Event
// =============================================================================

// QueryEvent is one finished query as seen by the log.
type QueryEvent struct {
	Query       string
	Route       search.Route
	Outcome     string
	ResultCount int
	Latency     time.Duration
	Backends    map[search.Backend]search.BackendStatus
	Timestamp   time.Time
}

// EventFromDiagnostics builds a QueryEvent from a request's diagnostics.
func EventFromDiagnostics(d *search.Diagnostics, err error) QueryEvent {
	ev := QueryEvent{
		Query:       d.Query,
		Route:       d.Route,
		Outcome:     Outcome(d, err),
		ResultCount: d.FusedCount,
		Latency:     d.TotalLatency,
		Backends:    make(map[search.Backend]search.BackendStatus, len(d.Backends)),
		Timestamp:   time.Now(),
	}
	for _, bd := range d.Backends {
		ev.Backends[bd.Backend] = bd.Status
	}
	return ev
}

// IsNoEvidence reports whether the query completed without any result.
func (e QueryEvent) IsNoEvidence() bool {
	return e.Outcome == OutcomeNoEvidence
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // next write position
	size  int
}

// NewCircularBuffer creates a buffer. A capacity <= 0 defaults to 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity)}
}

// Add appends item, evicting the oldest entry when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Items returns the buffered items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, 0, b.size)
	start := (b.head - b.size + len(b.items)) % len(b.items)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(start+i)%len(b.items)])
	}
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// =============================================================================
// Term Extraction
// =============================================================================

// ExtractTerms returns the folded query words worth counting: at least three
// characters and not a stop word.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(normalize.Fold(query)) {
		if _, stop := stopWords[w]; stop || len(w) < 3 {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

var stopWords = store.BuildStopWordMap(store.DefaultStopWords)

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is an immutable view of the query log.
type Snapshot struct {
	RouteCounts         map[search.Route]int64  `json:"route_counts"`
	OutcomeCounts       map[string]int64        `json:"outcome_counts"`
	BackendOutcomes     map[string]int64        `json:"backend_outcomes"`
	TopTerms            []TermCount             `json:"top_terms"`
	NoEvidenceQueries   []string                `json:"no_evidence_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	Since               time.Time               `json:"since"`
}

// NoEvidenceRate returns the share of queries that found nothing.
func (s *Snapshot) NoEvidenceRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.OutcomeCounts[OutcomeNoEvidence]) / float64(s.TotalQueries)
}

// BackendOutcomeKey is the BackendOutcomes key for a backend and status.
func BackendOutcomeKey(b search.Backend, s search.BackendStatus) string {
	return string(b) + "/" + string(s)
}

// =============================================================================
// Store Interface
// =============================================================================

// QueryLogStore persists query log aggregates.
type QueryLogStore interface {
	// SaveCounts adds the counts of one kind ("route", "outcome",
	// "backend", "latency") to the day's totals.
	SaveCounts(date, kind string, counts map[string]int64) error

	// GetCounts sums one kind over an inclusive date range.
	GetCounts(kind, from, to string) (map[string]int64, error)

	// UpsertTermCounts adds to term frequency counts.
	UpsertTermCounts(terms map[string]int64) error

	// GetTopTerms returns the most frequent terms.
	GetTopTerms(limit int) ([]TermCount, error)

	// AddNoEvidenceQueries appends queries to the bounded no-evidence list.
	AddNoEvidenceQueries(queries []string, at time.Time) error

	// GetNoEvidenceQueries returns the most recent no-evidence queries.
	GetNoEvidenceQueries(limit int) ([]string, error)

	Close() error
}

// Count kinds stored by SaveCounts.
const (
	KindRoute   = "route"
	KindOutcome = "outcome"
	KindBackend = "backend"
	KindLatency = "latency"
)

// =============================================================================
// Query Log
// =============================================================================

// QueryLogConfig configures the query log.
type QueryLogConfig struct {
	TopTermsCapacity   int           // max terms tracked (default 100)
	NoEvidenceCapacity int           // max no-evidence queries kept (default 100)
	FlushInterval      time.Duration // 0 disables auto-flush
}

// DefaultQueryLogConfig returns the defaults.
func DefaultQueryLogConfig() QueryLogConfig {
	return QueryLogConfig{
		TopTermsCapacity:   100,
		NoEvidenceCapacity: 100,
		FlushInterval:      60 * time.Second,
	}
}

// QueryLog aggregates finished queries in memory and flushes the increments
// to a QueryLogStore. Safe for concurrent use.
type QueryLog struct {
	mu sync.Mutex

	routes     map[search.Route]int64
	outcomes   map[string]int64
	backends   map[string]int64
	latencies  map[LatencyBucket]int64
	total      int64
	topTerms   *lru.Cache[string, int64]
	noEvidence *CircularBuffer[string]
	startTime  time.Time

	// increments not yet flushed
	pending pendingCounts

	store  QueryLogStore
	ticker *time.Ticker
	stopCh chan struct{}
	closed bool
}

type pendingCounts struct {
	routes     map[string]int64
	outcomes   map[string]int64
	backends   map[string]int64
	latencies  map[string]int64
	terms      map[string]int64
	noEvidence []string
}

func newPending() pendingCounts {
	return pendingCounts{
		routes:    make(map[string]int64),
		outcomes:  make(map[string]int64),
		backends:  make(map[string]int64),
		latencies: make(map[string]int64),
		terms:     make(map[string]int64),
	}
}

// NewQueryLog creates a query log. If store is nil, data is kept in memory
// only.
func NewQueryLog(store QueryLogStore, cfg QueryLogConfig) *QueryLog {
	def := DefaultQueryLogConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.NoEvidenceCapacity <= 0 {
		cfg.NoEvidenceCapacity = def.NoEvidenceCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	l := &QueryLog{
		routes:     make(map[search.Route]int64),
		outcomes:   make(map[string]int64),
		backends:   make(map[string]int64),
		latencies:  make(map[LatencyBucket]int64),
		topTerms:   topTerms,
		noEvidence: NewCircularBuffer[string](cfg.NoEvidenceCapacity),
		startTime:  time.Now(),
		pending:    newPending(),
		store:      store,
		stopCh:     make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		l.ticker = time.NewTicker(cfg.FlushInterval)
		go l.flushLoop()
	}
	return l
}

func (l *QueryLog) flushLoop() {
	for {
		select {
		case <-l.ticker.C:
			if err := l.Flush(); err != nil {
				slog.Warn("query_log_flush_failed", slog.String("error", err.Error()))
			}
		case <-l.stopCh:
			return
		}
	}
}

// ObserveQuery implements search.MetricsRecorder. Rejected queries are not
// logged.
func (l *QueryLog) ObserveQuery(d *search.Diagnostics, err error) {
	if d == nil {
		return
	}
	ev := EventFromDiagnostics(d, err)
	if ev.Outcome == OutcomeRejected {
		return
	}
	l.Record(ev)
}

// Record adds one event.
func (l *QueryLog) Record(ev QueryEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	l.total++
	l.routes[ev.Route]++
	l.pending.routes[string(ev.Route)]++
	l.outcomes[ev.Outcome]++
	l.pending.outcomes[ev.Outcome]++

	bucket := LatencyToBucket(ev.Latency)
	l.latencies[bucket]++
	l.pending.latencies[string(bucket)]++

	for b, s := range ev.Backends {
		key := BackendOutcomeKey(b, s)
		l.backends[key]++
		l.pending.backends[key]++
	}

	for _, term := range ExtractTerms(ev.Query) {
		count, _ := l.topTerms.Get(term)
		l.topTerms.Add(term, count+1)
		l.pending.terms[term]++
	}

	if ev.IsNoEvidence() {
		l.noEvidence.Add(ev.Query)
		l.pending.noEvidence = append(l.pending.noEvidence, ev.Query)
	}
}

// Snapshot returns the in-memory aggregates.
func (l *QueryLog) Snapshot() *Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := &Snapshot{
		RouteCounts:         make(map[search.Route]int64, len(l.routes)),
		OutcomeCounts:       make(map[string]int64, len(l.outcomes)),
		BackendOutcomes:     make(map[string]int64, len(l.backends)),
		LatencyDistribution: make(map[LatencyBucket]int64, len(l.latencies)),
		NoEvidenceQueries:   l.noEvidence.Items(),
		TotalQueries:        l.total,
		Since:               l.startTime,
	}
	for k, v := range l.routes {
		s.RouteCounts[k] = v
	}
	for k, v := range l.outcomes {
		s.OutcomeCounts[k] = v
	}
	for k, v := range l.backends {
		s.BackendOutcomes[k] = v
	}
	for k, v := range l.latencies {
		s.LatencyDistribution[k] = v
	}
	for _, key := range l.topTerms.Keys() {
		if count, ok := l.topTerms.Peek(key); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: key, Count: count})
		}
	}
	sortTerms(s.TopTerms)
	return s
}

// LoadSnapshot rebuilds a snapshot from the persisted aggregates of the
// last days days (today included). limit bounds top terms and no-evidence
// queries.
func LoadSnapshot(store QueryLogStore, days, limit int) (*Snapshot, error) {
	if days <= 0 {
		days = 1
	}
	now := time.Now()
	from := now.AddDate(0, 0, -(days - 1))
	fromKey, toKey := from.Format("2006-01-02"), now.Format("2006-01-02")

	counts := make(map[string]map[string]int64, 4)
	for _, kind := range []string{KindRoute, KindOutcome, KindBackend, KindLatency} {
		c, err := store.GetCounts(kind, fromKey, toKey)
		if err != nil {
			return nil, err
		}
		counts[kind] = c
	}
	terms, err := store.GetTopTerms(limit)
	if err != nil {
		return nil, err
	}
	noEvidence, err := store.GetNoEvidenceQueries(limit)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		RouteCounts:         make(map[search.Route]int64, len(counts[KindRoute])),
		OutcomeCounts:       counts[KindOutcome],
		BackendOutcomes:     counts[KindBackend],
		LatencyDistribution: make(map[LatencyBucket]int64, len(counts[KindLatency])),
		TopTerms:            terms,
		NoEvidenceQueries:   noEvidence,
		Since:               time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location()),
	}
	for k, v := range counts[KindRoute] {
		s.RouteCounts[search.Route(k)] = v
	}
	for k, v := range counts[KindLatency] {
		s.LatencyDistribution[LatencyBucket(k)] = v
	}
	for _, v := range s.OutcomeCounts {
		s.TotalQueries += v
	}
	sortTerms(s.TopTerms)
	return s, nil
}

func sortTerms(terms []TermCount) {
	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})
}

// Flush writes the increments recorded since the last flush to the store.
// Safe to call when no store is configured. On failure the increments are
// kept for the next attempt, so counts written before the failure may be
// written again.
func (l *QueryLog) Flush() error {
	if l.store == nil {
		return nil
	}

	l.mu.Lock()
	p := l.pending
	l.pending = newPending()
	l.mu.Unlock()

	if err := l.write(p); err != nil {
		l.mu.Lock()
		l.pending = mergePending(p, l.pending)
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *QueryLog) write(p pendingCounts) error {
	today := time.Now().Format("2006-01-02")
	for kind, counts := range map[string]map[string]int64{
		KindRoute:   p.routes,
		KindOutcome: p.outcomes,
		KindBackend: p.backends,
		KindLatency: p.latencies,
	} {
		if len(counts) == 0 {
			continue
		}
		if err := l.store.SaveCounts(today, kind, counts); err != nil {
			return err
		}
	}
	if err := l.store.UpsertTermCounts(p.terms); err != nil {
		return err
	}
	if len(p.noEvidence) > 0 {
		if err := l.store.AddNoEvidenceQueries(p.noEvidence, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

func mergePending(a, b pendingCounts) pendingCounts {
	out := newPending()
	for _, src := range []pendingCounts{a, b} {
		for k, v := range src.routes {
			out.routes[k] += v
		}
		for k, v := range src.outcomes {
			out.outcomes[k] += v
		}
		for k, v := range src.backends {
			out.backends[k] += v
		}
		for k, v := range src.latencies {
			out.latencies[k] += v
		}
		for k, v := range src.terms {
			out.terms[k] += v
		}
		out.noEvidence = append(out.noEvidence, src.noEvidence...)
	}
	return out
}

// Close stops auto-flush and flushes what is left. The store is not closed.
func (l *QueryLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if l.ticker != nil {
		l.ticker.Stop()
		close(l.stopCh)
	}
	return l.Flush()
}

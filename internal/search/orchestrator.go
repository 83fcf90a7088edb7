package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	ferrors "github.com/Aman-CERP/finrag/internal/errors"
	"github.com/Aman-CERP/finrag/internal/resilience"
)

// Defaults for OrchestratorConfig.
const (
	DefaultTimeout         = 1500 * time.Millisecond
	DefaultMaxTopK         = 100
	DefaultCandidateLimit  = 50
	DefaultStructuredBoost = 1.5
	DefaultMaxQueryLength  = 1000
)

// DefaultBackendTimeouts are the per-backend budgets inside the request
// deadline.
var DefaultBackendTimeouts = map[Backend]time.Duration{
	BackendStructured: 300 * time.Millisecond,
	BackendLexical:    300 * time.Millisecond,
	BackendVector:     800 * time.Millisecond,
}

// DefaultWeights returns the default per-backend fusion weights.
func DefaultWeights() map[Backend]float64 {
	return map[Backend]float64{
		BackendStructured: 0.4,
		BackendLexical:    0.3,
		BackendVector:     0.3,
	}
}

// OrchestratorConfig configures fan-out budgets and fusion.
type OrchestratorConfig struct {
	Strategy    Strategy
	RRFConstant int
	Weights     map[Backend]float64

	// StructuredBoost multiplies the structured weight for high-confidence
	// structured queries.
	StructuredBoost float64

	Timeout         time.Duration
	BackendTimeouts map[Backend]time.Duration

	MaxTopK        int
	CandidateLimit int
	MaxQueryLength int
}

// DefaultOrchestratorConfig returns the default configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	timeouts := make(map[Backend]time.Duration, len(DefaultBackendTimeouts))
	for b, d := range DefaultBackendTimeouts {
		timeouts[b] = d
	}
	return OrchestratorConfig{
		Strategy:        StrategyWeighted,
		RRFConstant:     DefaultRRFConstant,
		Weights:         DefaultWeights(),
		StructuredBoost: DefaultStructuredBoost,
		Timeout:         DefaultTimeout,
		BackendTimeouts: timeouts,
		MaxTopK:         DefaultMaxTopK,
		CandidateLimit:  DefaultCandidateLimit,
		MaxQueryLength:  DefaultMaxQueryLength,
	}
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	def := DefaultOrchestratorConfig()
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = def.RRFConstant
	}
	if len(c.Weights) == 0 {
		c.Weights = def.Weights
	}
	if c.StructuredBoost <= 0 {
		c.StructuredBoost = def.StructuredBoost
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.BackendTimeouts == nil {
		c.BackendTimeouts = def.BackendTimeouts
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = def.MaxTopK
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = def.CandidateLimit
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = def.MaxQueryLength
	}
	return c
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithBreakers guards every backend call with a circuit breaker.
func WithBreakers(b *resilience.Breakers) OrchestratorOption {
	return func(o *Orchestrator) {
		o.breakers = b
	}
}

// WithMetrics sets an optional recorder fed from every request's
// diagnostics.
func WithMetrics(m MetricsRecorder) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator classifies a query, fans it out to the selected backends
// under per-backend deadlines, and fuses whatever arrives in time.
//
// Request lifecycle: RECEIVED → CLASSIFIED → DISPATCHED → FUSED → RETURNED,
// or FAILED when every dispatched backend failed or timed out.
type Orchestrator struct {
	classifier *Classifier
	retrievers map[Backend]Retriever
	fuser      *Fuser
	cfg        OrchestratorConfig
	breakers   *resilience.Breakers
	metrics    MetricsRecorder
}

// NewOrchestrator creates an orchestrator over the given retrievers. At
// least one retriever is required; a backend without a retriever is
// reported as unavailable when a query routes to it.
func NewOrchestrator(
	classifier *Classifier,
	retrievers []Retriever,
	cfg OrchestratorConfig,
	opts ...OrchestratorOption,
) (*Orchestrator, error) {
	if classifier == nil {
		return nil, fmt.Errorf("%w: classifier is required", ErrNilDependency)
	}
	if len(retrievers) == 0 {
		return nil, fmt.Errorf("%w: at least one retriever is required", ErrNilDependency)
	}
	if _, err := ParseStrategy(string(cfg.Strategy)); err != nil {
		return nil, ferrors.ConfigError(err.Error(), err)
	}

	cfg = cfg.withDefaults()
	o := &Orchestrator{
		classifier: classifier,
		retrievers: make(map[Backend]Retriever, len(retrievers)),
		fuser:      NewFuser(cfg.Strategy, cfg.RRFConstant),
		cfg:        cfg,
	}
	for _, r := range retrievers {
		if r == nil {
			return nil, fmt.Errorf("%w: retriever is nil", ErrNilDependency)
		}
		o.retrievers[r.Name()] = r
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Classifier returns the orchestrator's classifier.
func (o *Orchestrator) Classifier() *Classifier {
	return o.classifier
}

// outcome is one backend's answer.
type outcome struct {
	backend    Backend
	candidates []Candidate
	err        error
	latency    time.Duration
}

// Query answers text with at most topK fused results. A timeout <= 0 uses
// the configured request deadline.
//
// topK < 0 or an empty query is rejected with ErrInvalidInput. topK == 0
// returns an empty result without dispatching. topK above MaxTopK is
// clamped. When every dispatched backend fails the error is
// ErrAllBackendsFailed; when at least one answers but nothing matched the
// response has NoEvidence set.
func (o *Orchestrator) Query(ctx context.Context, text string, topK int, timeout time.Duration) (*Response, error) {
	start := time.Now()
	diag := Diagnostics{
		RequestID: uuid.NewString(),
		Query:     text,
		Strategy:  o.cfg.Strategy,
		TopK:      topK,
	}
	diag.enter(StateReceived)

	if err := o.validate(text, topK); err != nil {
		return nil, err
	}
	if topK == 0 {
		diag.enter(StateReturned)
		return &Response{Results: []*RankedResult{}, Diagnostics: diag}, nil
	}
	if topK > o.cfg.MaxTopK {
		diag.TopK = o.cfg.MaxTopK
		diag.TopKClamped = true
		topK = o.cfg.MaxTopK
	}
	if timeout <= 0 {
		timeout = o.cfg.Timeout
	}

	cq := o.classifier.Classify(text)
	diag.Route = cq.Route
	diag.Cues = cq.Cues
	diag.Weights = o.weightsFor(&cq)
	if cq.Route == RouteStructured {
		diag.FallbackReason = "vector dispatched as semantic fallback for structured route"
	}
	diag.enter(StateClassified)

	results := o.dispatch(ctx, &cq, timeout, &diag)
	diag.enter(StateDispatched)

	if diag.Succeeded() == 0 {
		diag.enter(StateFailed)
		diag.TotalLatency = time.Since(start)
		err := o.allFailed(&diag)
		o.finish(&diag, err)
		return nil, err
	}

	if o.cfg.Strategy == StrategyWeighted {
		for _, b := range DegenerateBackends(results) {
			o.markDegenerate(&diag, b)
		}
	}
	fused := o.fuser.Fuse(results, diag.Weights, topK)
	diag.enter(StateFused)

	resp := &Response{Results: fused}
	if len(fused) == 0 {
		resp.NoEvidence = true
	}
	diag.FusedCount = len(fused)
	diag.NoEvidence = resp.NoEvidence
	diag.enter(StateReturned)
	diag.TotalLatency = time.Since(start)
	resp.Diagnostics = diag

	o.finish(&diag, nil)
	return resp, nil
}

func (o *Orchestrator) validate(text string, topK int) error {
	if topK < 0 {
		return ferrors.ValidationError(fmt.Sprintf("top_k must be >= 0, got %d", topK), nil).
			WithDetail("top_k", fmt.Sprint(topK))
	}
	if strings.TrimSpace(text) == "" {
		return ferrors.New(ferrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if n := utf8.RuneCountInString(text); n > o.cfg.MaxQueryLength {
		return ferrors.New(ferrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query is %d characters, limit is %d", n, o.cfg.MaxQueryLength), nil)
	}
	return nil
}

// weightsFor returns the fusion weights for cq's backends, with the
// structured weight boosted for high-confidence structured queries.
func (o *Orchestrator) weightsFor(cq *ClassifiedQuery) map[Backend]float64 {
	w := make(map[Backend]float64, len(cq.Backends))
	for _, b := range cq.Backends {
		w[b] = o.cfg.Weights[b]
	}
	if cq.HighConfidence {
		w[BackendStructured] *= o.cfg.StructuredBoost
	}
	return w
}

// dispatch runs one goroutine per backend and collects outcomes until all
// have settled or the request deadline passes, whichever comes first.
// Backends still running at the deadline are cancelled, not awaited.
func (o *Orchestrator) dispatch(
	ctx context.Context,
	cq *ClassifiedQuery,
	timeout time.Duration,
	diag *Diagnostics,
) map[Backend][]Candidate {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backends := cq.Backends
	outcomes := make(chan outcome, len(backends))
	g, gctx := errgroup.WithContext(dctx)

	for _, b := range backends {
		b := b
		r, ok := o.retrievers[b]
		if !ok {
			outcomes <- outcome{
				backend: b,
				err:     ferrors.BackendUnavailable(string(b), errors.New("backend not configured")),
			}
			continue
		}
		budget := o.cfg.BackendTimeouts[b]
		g.Go(func() error {
			bctx := gctx
			if budget > 0 {
				var bcancel context.CancelFunc
				bctx, bcancel = context.WithTimeout(gctx, budget)
				defer bcancel()
			}
			began := time.Now()
			cands, err := resilience.Execute(o.breakers, string(b), func() ([]Candidate, error) {
				return r.Retrieve(bctx, cq, o.cfg.CandidateLimit)
			})
			if err == nil && bctx.Err() != nil {
				// Answers that arrive after the budget are discarded.
				err = bctx.Err()
			}
			outcomes <- outcome{backend: b, candidates: cands, err: err, latency: time.Since(began)}
			// Failures stay contained to this backend.
			return nil
		})
	}

	results := make(map[Backend][]Candidate, len(backends))
	settled := make(map[Backend]bool, len(backends))
collect:
	for len(settled) < len(backends) {
		select {
		case out := <-outcomes:
			settled[out.backend] = true
			o.record(diag, out)
			if out.err == nil {
				results[out.backend] = out.candidates
			}
		case <-dctx.Done():
			break collect
		}
	}

	if len(settled) == len(backends) {
		// Every goroutine has reported; reap the group.
		_ = g.Wait()
	}

	for _, b := range backends {
		if settled[b] {
			continue
		}
		diag.Backends = append(diag.Backends, BackendDiagnostics{
			Backend: b,
			Status:  StatusTimeout,
			Latency: timeout,
			Error:   "request deadline passed before backend answered",
		})
		slog.Warn("backend_timeout",
			slog.String("request_id", diag.RequestID),
			slog.String("backend", string(b)),
			slog.Duration("deadline", timeout))
	}
	sort.Slice(diag.Backends, func(i, j int) bool {
		return diag.Backends[i].Backend < diag.Backends[j].Backend
	})
	return results
}

// record turns one outcome into diagnostics and a warn line on failure.
func (o *Orchestrator) record(diag *Diagnostics, out outcome) {
	bd := BackendDiagnostics{
		Backend: out.backend,
		Status:  StatusOK,
		Count:   len(out.candidates),
		Latency: out.latency,
	}
	if out.err != nil {
		bd.Count = 0
		bd.Error = out.err.Error()
		bd.Status = statusOf(out.err)
		event := "backend_error"
		switch bd.Status {
		case StatusTimeout:
			event = "backend_timeout"
		case StatusUnavailable:
			event = "backend_unavailable"
		}
		attrs := append([]slog.Attr{
			slog.String("request_id", diag.RequestID),
			slog.String("backend", string(out.backend)),
			slog.Duration("latency", out.latency),
		}, ferrors.LogAttrs(out.err)...)
		slog.LogAttrs(context.Background(), slog.LevelWarn, event, attrs...)
	}
	diag.Backends = append(diag.Backends, bd)
}

// statusOf classifies a backend error.
func statusOf(err error) BackendStatus {
	switch {
	case errors.Is(err, ferrors.ErrBackendTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return StatusTimeout
	case errors.Is(err, ferrors.ErrBackendUnavailable), resilience.IsCircuitOpen(err):
		return StatusUnavailable
	}
	return StatusError
}

func (o *Orchestrator) markDegenerate(diag *Diagnostics, b Backend) {
	for i := range diag.Backends {
		if diag.Backends[i].Backend == b && diag.Backends[i].Status == StatusOK {
			diag.Backends[i].Status = StatusDegenerate
		}
	}
}

func (o *Orchestrator) allFailed(diag *Diagnostics) error {
	err := ferrors.New(ferrors.ErrCodeAllBackendsFailed,
		fmt.Sprintf("all %d dispatched backends failed", len(diag.Backends)), nil).
		WithDetail("request_id", diag.RequestID)
	for _, bd := range diag.Backends {
		err.WithDetail(string(bd.Backend), string(bd.Status))
	}
	return err
}

// finish logs the request and feeds the metrics recorder.
func (o *Orchestrator) finish(diag *Diagnostics, err error) {
	attrs := []any{
		slog.String("request_id", diag.RequestID),
		slog.String("route", string(diag.Route)),
		slog.String("strategy", string(diag.Strategy)),
		slog.Int("fused_count", diag.FusedCount),
		slog.Bool("no_evidence", diag.NoEvidence),
		slog.Duration("total_latency", diag.TotalLatency),
	}
	for _, bd := range diag.Backends {
		attrs = append(attrs, slog.String("backend_"+string(bd.Backend), fmt.Sprintf("%s/%d", bd.Status, bd.Count)))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	slog.Debug("query_completed", attrs...)

	if o.metrics != nil {
		o.metrics.ObserveQuery(diag, err)
	}
}

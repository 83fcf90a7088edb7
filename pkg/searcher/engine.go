package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/finrag/internal/config"
	"github.com/Aman-CERP/finrag/internal/index"
	"github.com/Aman-CERP/finrag/internal/normalize"
	"github.com/Aman-CERP/finrag/internal/resilience"
	"github.com/Aman-CERP/finrag/internal/search"
)

// Engine is a ready-to-query retrieval stack built from a Config.
//
// Thread-safe for concurrent use.
type Engine struct {
	cfg          *config.Config
	stores       *index.Stores
	ownsStores   bool
	normalizer   *normalize.Normalizer
	breakers     *resilience.Breakers
	orchestrator *search.Orchestrator

	watcher     *normalize.Watcher
	stopWatch   context.CancelFunc
	watchDone   chan struct{}
	closeOnce   sync.Once
	closeResult error
}

// Option configures Open.
type Option func(*options)

type options struct {
	stores  *index.Stores
	metrics search.MetricsRecorder
}

// WithStores reuses already open stores. The engine does not close them.
func WithStores(s *index.Stores) Option {
	return func(o *options) {
		o.stores = s
	}
}

// WithMetrics feeds every request's diagnostics to m.
func WithMetrics(m search.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Open assembles the stores, the entity normalizer, the three retrievers
// and the orchestrator described by cfg.
//
// Entity mappings come from cfg.Normalizer.MappingFile when set, otherwise
// from the table store. With Watch enabled the mapping file is reloaded on
// change until Close.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	ocfg, err := OrchestratorConfig(cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, stores: o.stores}
	if e.stores == nil {
		if e.stores, err = index.OpenStores(ctx, cfg); err != nil {
			return nil, err
		}
		e.ownsStores = true
	}
	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	if e.normalizer, err = loadNormalizer(ctx, cfg, e.stores); err != nil {
		return nil, err
	}

	ts, err := search.NewTableSearch(e.stores.Tables, e.normalizer, search.TableSearchConfig{
		FuzzyThreshold:     cfg.Normalizer.FuzzyThreshold,
		RawFuzzyThreshold:  cfg.Normalizer.RawFuzzyThreshold,
		CandidateThreshold: cfg.Normalizer.CandidateThreshold,
	})
	if err != nil {
		return nil, err
	}
	structured, err := search.NewStructuredRetriever(ts)
	if err != nil {
		return nil, err
	}
	lexical, err := search.NewLexicalRetriever(e.stores.Lexical, e.stores.Chunks)
	if err != nil {
		return nil, err
	}
	vector, err := search.NewVectorRetriever(e.stores.Vector, e.stores.Embedder, e.stores.Chunks)
	if err != nil {
		return nil, err
	}

	e.breakers = resilience.NewBreakers(resilience.Config{
		Failures: cfg.Search.BreakerFailures,
		Cooldown: cfg.Search.BreakerCooldown,
	})
	orchOpts := []search.OrchestratorOption{search.WithBreakers(e.breakers)}
	if o.metrics != nil {
		orchOpts = append(orchOpts, search.WithMetrics(o.metrics))
	}

	classifier := search.NewClassifier(e.normalizer, cfg.Search.Metrics)
	e.orchestrator, err = search.NewOrchestrator(classifier,
		[]search.Retriever{structured, lexical, vector}, ocfg, orchOpts...)
	if err != nil {
		return nil, err
	}

	if cfg.Normalizer.Watch && cfg.Normalizer.MappingFile != "" {
		if err := e.startWatcher(); err != nil {
			return nil, err
		}
	}

	ok = true
	slog.Debug("engine_opened",
		slog.String("strategy", string(ocfg.Strategy)),
		slog.Int("entities", e.normalizer.Snapshot().Len()),
		slog.Bool("watching", e.watcher != nil))
	return e, nil
}

// OrchestratorConfig maps the search section of cfg onto the orchestrator.
func OrchestratorConfig(cfg *config.Config) (search.OrchestratorConfig, error) {
	strategy, err := search.ParseStrategy(cfg.Search.Strategy)
	if err != nil {
		return search.OrchestratorConfig{}, err
	}
	s := cfg.Search
	return search.OrchestratorConfig{
		Strategy:    strategy,
		RRFConstant: s.RRFConstant,
		Weights: map[search.Backend]float64{
			search.BackendStructured: s.Weights.Structured,
			search.BackendLexical:    s.Weights.Lexical,
			search.BackendVector:     s.Weights.Vector,
		},
		StructuredBoost: s.StructuredBoost,
		Timeout:         s.Timeout,
		BackendTimeouts: map[search.Backend]time.Duration{
			search.BackendStructured: s.StructuredTimeout,
			search.BackendLexical:    s.LexicalTimeout,
			search.BackendVector:     s.VectorTimeout,
		},
		MaxTopK:        s.MaxTopK,
		CandidateLimit: s.CandidateLimit,
	}, nil
}

func loadNormalizer(ctx context.Context, cfg *config.Config, stores *index.Stores) (*normalize.Normalizer, error) {
	var (
		snap *normalize.Snapshot
		err  error
	)
	if path := cfg.Normalizer.MappingFile; path != "" {
		snap, err = normalize.LoadFileSnapshot(path)
	} else {
		snap, err = normalize.LoadSnapshot(ctx, stores.Tables)
	}
	if err != nil {
		return nil, err
	}
	return normalize.New(snap, normalize.Options{
		BusinessUnitSuffix: cfg.Normalizer.BusinessUnitSuffix,
		CacheSize:          cfg.Normalizer.CacheSize,
	}), nil
}

func (e *Engine) startWatcher() error {
	w, err := normalize.NewWatcher(e.cfg.Normalizer.MappingFile, e.normalizer, 0)
	if err != nil {
		return fmt.Errorf("failed to watch entity mappings: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.watcher = w
	e.stopWatch = cancel
	e.watchDone = make(chan struct{})
	go func() {
		defer close(e.watchDone)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("entity_mapping_watcher_stopped", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Query implements Searcher.
func (e *Engine) Query(ctx context.Context, text string, topK int, timeout time.Duration) (*search.Response, error) {
	return e.orchestrator.Query(ctx, text, topK, timeout)
}

// Classify returns the route the engine would take for text without
// dispatching it.
func (e *Engine) Classify(text string) search.ClassifiedQuery {
	return e.orchestrator.Classifier().Classify(text)
}

// Stores returns the underlying stores.
func (e *Engine) Stores() *index.Stores {
	return e.stores
}

// Normalizer returns the live entity normalizer.
func (e *Engine) Normalizer() *normalize.Normalizer {
	return e.normalizer
}

// Breakers returns the per-backend circuit breakers.
func (e *Engine) Breakers() *resilience.Breakers {
	return e.breakers
}

// Close stops the mapping watcher and closes stores the engine opened.
// Safe to call multiple times.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.stopWatch != nil {
			e.stopWatch()
			_ = e.watcher.Stop()
			<-e.watchDone
		}
		if e.ownsStores && e.stores != nil {
			e.closeResult = e.stores.Close()
		}
	})
	return e.closeResult
}

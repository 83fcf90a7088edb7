// Package index loads pre-parsed corpora into the retrieval stores: chunk
// provenance, the lexical index, the vector index and the structured table
// store, then backfills normalized entity names on structured rows.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/finrag/internal/normalize"
	"github.com/Aman-CERP/finrag/internal/store"
)

// DefaultEmbedBatchSize is how many chunks are embedded per call.
const DefaultEmbedBatchSize = 32

// ProgressReporter receives load progress. *output.Writer and ui.Renderer
// satisfy it.
type ProgressReporter interface {
	Progress(current, total int, msg string)
	ProgressDone()
}

// RunnerResult contains the outcome of a load.
type RunnerResult struct {
	Documents int
	Chunks    int
	Rows      int
	Mappings  int

	// Replaced counts documents that were already loaded and got replaced.
	Replaced int

	Backfill BackfillResult
	Duration time.Duration
}

// BackfillResult counts the outcome of entity normalization.
type BackfillResult struct {
	Normalized int
	Unmapped   int
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Stores to load into (required).
	Stores *Stores

	// Progress display; nil disables progress output.
	Progress ProgressReporter

	// Normalizer, when set, receives the reloaded mapping snapshot so a
	// live orchestrator sees new mappings without a restart.
	Normalizer *normalize.Normalizer

	// NormalizerOptions configure the normalizer built for backfill when
	// Normalizer is nil.
	NormalizerOptions normalize.Options

	// EmbedBatchSize defaults to DefaultEmbedBatchSize.
	EmbedBatchSize int
}

// Runner loads corpora with progress reporting.
type Runner struct {
	stores      *Stores
	coordinator *Coordinator
	progress    ProgressReporter
	normalizer  *normalize.Normalizer
	normOpts    normalize.Options
	batchSize   int
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Stores == nil {
		return nil, fmt.Errorf("stores are required")
	}
	if deps.Stores.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	coord, err := NewCoordinator(deps.Stores)
	if err != nil {
		return nil, err
	}

	batch := deps.EmbedBatchSize
	if batch <= 0 {
		batch = DefaultEmbedBatchSize
	}
	progress := deps.Progress
	if progress == nil {
		progress = noProgress{}
	}

	return &Runner{
		stores:      deps.Stores,
		coordinator: coord,
		progress:    progress,
		normalizer:  deps.Normalizer,
		normOpts:    deps.NormalizerOptions,
		batchSize:   batch,
	}, nil
}

type noProgress struct{}

func (noProgress) Progress(int, int, string) {}
func (noProgress) ProgressDone()             {}

// stageTiming tracks duration for each load stage.
type stageTiming struct {
	replace   time.Duration
	chunks    time.Duration
	embed     time.Duration
	rows      time.Duration
	normalize time.Duration
}

// Run loads c. Documents already present are replaced wholesale, so
// loading the same corpus twice leaves the stores unchanged.
func (r *Runner) Run(ctx context.Context, c *Corpus) (*RunnerResult, error) {
	if c == nil {
		return nil, fmt.Errorf("corpus is required")
	}
	start := time.Now()
	var timing stageTiming
	res := &RunnerResult{Documents: len(c.Documents)}

	// Stage 1: retire previous versions
	stageStart := time.Now()
	for _, d := range c.Documents {
		removed, err := r.coordinator.RemoveDocument(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if removed.Chunks > 0 || removed.Rows > 0 {
			res.Replaced++
		}
	}
	timing.replace = time.Since(stageStart)

	// Stage 2: chunk provenance and lexical index
	stageStart = time.Now()
	var chunks []*store.Chunk
	titles := make(map[string]string, len(c.Documents))
	for i := range c.Documents {
		d := &c.Documents[i]
		titles[d.ID] = d.Title
		chunks = append(chunks, d.storeChunks()...)
	}
	if err := r.stores.Chunks.SaveChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to save chunks: %w", err)
	}
	docs := make([]*store.Document, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ContextualText(ch, titles[ch.DocumentID])
		docs[i] = &store.Document{ID: ch.ID, Content: texts[i]}
	}
	if err := r.stores.Lexical.Index(ctx, docs); err != nil {
		return nil, fmt.Errorf("failed to index chunks: %w", err)
	}
	timing.chunks = time.Since(stageStart)
	res.Chunks = len(chunks)

	// Stage 3: embeddings
	stageStart = time.Now()
	if err := r.embed(ctx, chunks, texts); err != nil {
		return nil, err
	}
	timing.embed = time.Since(stageStart)

	// Stage 4: structured rows and mappings
	stageStart = time.Now()
	for i := range c.Documents {
		rows := c.Documents[i].storeRows()
		if err := r.stores.Tables.SaveRows(ctx, rows); err != nil {
			return nil, err
		}
		res.Rows += len(rows)
		r.progress.Progress(i+1, len(c.Documents), "loading table rows")
	}
	if len(c.Documents) > 0 {
		r.progress.ProgressDone()
	}
	if len(c.Entities) > 0 {
		if err := r.stores.Tables.SaveMappings(ctx, c.Entities); err != nil {
			return nil, err
		}
		res.Mappings = len(c.Entities)
	}
	timing.rows = time.Since(stageStart)

	// Stage 5: normalization backfill
	stageStart = time.Now()
	backfill, err := r.Backfill(ctx)
	if err != nil {
		return nil, err
	}
	res.Backfill = backfill
	timing.normalize = time.Since(stageStart)

	if err := r.stores.Save(); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	slog.Info("load_complete",
		slog.Int("documents", res.Documents),
		slog.Int("replaced", res.Replaced),
		slog.Int("chunks", res.Chunks),
		slog.Int("rows", res.Rows),
		slog.Int("mappings", res.Mappings),
		slog.Int("normalized", res.Backfill.Normalized),
		slog.Int("unmapped", res.Backfill.Unmapped),
		slog.String("duration_total", res.Duration.String()),
		slog.Int64("duration_total_ms", res.Duration.Milliseconds()),
		slog.Int64("duration_replace_ms", timing.replace.Milliseconds()),
		slog.Int64("duration_chunks_ms", timing.chunks.Milliseconds()),
		slog.Int64("duration_embed_ms", timing.embed.Milliseconds()),
		slog.Int64("duration_rows_ms", timing.rows.Milliseconds()),
		slog.Int64("duration_normalize_ms", timing.normalize.Milliseconds()))
	return res, nil
}

func (r *Runner) embed(ctx context.Context, chunks []*store.Chunk, texts []string) error {
	total := len(chunks)
	for i := 0; i < total; i += r.batchSize {
		end := min(i+r.batchSize, total)

		vecs, err := r.stores.Embedder.EmbedBatch(ctx, texts[i:end])
		if err != nil {
			return fmt.Errorf("failed to embed chunks: %w", err)
		}
		ids := make([]string, 0, end-i)
		for _, ch := range chunks[i:end] {
			ids = append(ids, ch.ID)
		}
		if err := r.stores.Vector.Add(ctx, ids, vecs); err != nil {
			return fmt.Errorf("failed to add vectors: %w", err)
		}
		r.progress.Progress(end, total, "embedding chunks")
	}
	if total > 0 {
		r.progress.ProgressDone()
	}
	return nil
}

// Backfill sets entity_normalized on every row that lacks it, resolving
// raw mentions against the mappings in the table store. Rows with no
// confident match stay unmapped and keep serving raw-entity search.
func (r *Runner) Backfill(ctx context.Context) (BackfillResult, error) {
	var res BackfillResult

	snap, err := normalize.LoadSnapshot(ctx, r.stores.Tables)
	if err != nil {
		return res, err
	}
	n := r.normalizer
	if n != nil {
		n.Swap(snap)
	} else {
		n = normalize.New(snap, r.normOpts)
	}

	missing, err := r.stores.Tables.RowsMissingNormalized(ctx)
	if err != nil {
		return res, err
	}
	if len(missing) == 0 {
		return res, nil
	}

	values := n.NormalizeRows(missing)
	updated, err := r.stores.Tables.BackfillNormalized(ctx, values)
	if err != nil {
		return res, err
	}
	res.Normalized = updated
	res.Unmapped = len(missing) - updated

	if res.Unmapped > 0 {
		slog.Info("rows_left_unmapped", slog.Int("count", res.Unmapped))
	}
	return res, nil
}

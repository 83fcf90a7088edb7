package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/finrag/internal/index"
	"github.com/Aman-CERP/finrag/internal/normalize"
	"github.com/Aman-CERP/finrag/internal/output"
	"github.com/Aman-CERP/finrag/internal/profiling"
	"github.com/Aman-CERP/finrag/internal/ui"
)

// loadSummary is the JSON output of load.
type loadSummary struct {
	Files      []string `json:"files"`
	Documents  int      `json:"documents"`
	Chunks     int      `json:"chunks"`
	Rows       int      `json:"rows"`
	Mappings   int      `json:"mappings"`
	Replaced   int      `json:"replaced"`
	Normalized int      `json:"normalized"`
	Unmapped   int      `json:"unmapped"`
	DurationMS int64    `json:"duration_ms"`
}

func newLoadCmd() *cobra.Command {
	var (
		jsonOutput bool
		batchSize  int
	)

	cmd := &cobra.Command{
		Use:   "load <corpus.yaml>...",
		Short: "Load parsed report corpora into the stores",
		Long: `Load one or more corpus files into the chunk store, the lexical and
vector indexes and the structured table store, then normalize entities.

Documents already loaded are replaced, so loading the same file twice
leaves the stores unchanged.`,
		Example: `  finrag load reports/annual-2024.yaml
  finrag load reports/*.yaml --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), cmd, args, jsonOutput, batchSize)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output summary as JSON")
	cmd.Flags().IntVar(&batchSize, "batch-size", index.DefaultEmbedBatchSize, "Chunks embedded per batch")

	return cmd
}

func runLoad(ctx context.Context, cmd *cobra.Command, files []string, jsonOutput bool, batchSize int) error {
	start := time.Now()
	out := output.New(cmd.OutOrStdout())

	// Parse everything first so a bad file loads nothing
	corpora := make([]*index.Corpus, 0, len(files))
	for _, f := range files {
		c, err := index.LoadCorpus(f)
		if err != nil {
			return err
		}
		corpora = append(corpora, c)
	}

	cfg, err := loadConfig(projectDir)
	if err != nil {
		return err
	}
	stores, err := index.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	deps := index.RunnerDependencies{
		Stores: stores,
		NormalizerOptions: normalize.Options{
			BusinessUnitSuffix: cfg.Normalizer.BusinessUnitSuffix,
			CacheSize:          cfg.Normalizer.CacheSize,
		},
		EmbedBatchSize: batchSize,
	}
	var renderer ui.Renderer
	if !jsonOutput {
		renderer = ui.NewRenderer(ui.Config{
			Output:  cmd.OutOrStdout(),
			Title:   "finrag load",
			NoColor: ui.DetectNoColor(),
		})
		if ctx, err = renderer.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = renderer.Stop() }()
		deps.Progress = renderer
	}
	runner, err := index.NewRunner(deps)
	if err != nil {
		return err
	}

	summary := loadSummary{Files: files}
	for i, c := range corpora {
		if renderer != nil {
			renderer.Begin(fmt.Sprintf("Loading %s (%d documents)", files[i], len(c.Documents)))
		}
		res, err := runner.Run(ctx, c)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", files[i], err)
		}
		summary.Documents += res.Documents
		summary.Chunks += res.Chunks
		summary.Rows += res.Rows
		summary.Mappings += res.Mappings
		summary.Replaced += res.Replaced
		summary.Normalized += res.Backfill.Normalized
		// Backfill rescans every unmapped row, so the last count is current
		summary.Unmapped = res.Backfill.Unmapped
	}
	summary.DurationMS = time.Since(start).Milliseconds()

	slog.Debug("cli_load_complete",
		slog.Int("files", len(files)),
		slog.Int64("duration_ms", summary.DurationMS),
		slog.String("heap_in_use", profiling.FormatBytes(profiling.HeapInUse())))

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), summary)
	}
	_ = renderer.Stop()

	out.Successf("Loaded %d documents: %d chunks, %d table rows (%s)",
		summary.Documents, summary.Chunks, summary.Rows, time.Duration(summary.DurationMS)*time.Millisecond)
	if summary.Replaced > 0 {
		out.Statusf("♻️ ", "Replaced %d previously loaded documents", summary.Replaced)
	}
	out.Statusf("🏷️ ", "Normalized %d rows, %d unmapped", summary.Normalized, summary.Unmapped)
	if summary.Unmapped > 0 {
		out.Status("💡", "Run 'finrag normalize --list' to see unmapped entities")
	}
	return nil
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <document-id>...",
		Short: "Remove documents from every store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), cmd, args)
		},
	}
}

func runRemove(ctx context.Context, cmd *cobra.Command, ids []string) error {
	out := output.New(cmd.OutOrStdout())
	cfg, err := loadConfig(projectDir)
	if err != nil {
		return err
	}
	stores, err := index.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	coord, err := index.NewCoordinator(stores)
	if err != nil {
		return err
	}
	for _, id := range ids {
		res, err := coord.RemoveDocument(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", id, err)
		}
		if res.Chunks == 0 && res.Rows == 0 {
			out.Warningf("%s: not loaded", id)
			continue
		}
		out.Successf("%s: removed %d chunks, %d table rows", id, res.Chunks, res.Rows)
	}
	return stores.Save()
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/finrag/internal/output"
	"github.com/Aman-CERP/finrag/internal/validation"
	"github.com/Aman-CERP/finrag/pkg/searcher"
)

// evalOptions holds CLI flags for eval.
type evalOptions struct {
	queries string
	topK    int
	timeout time.Duration
	json    bool
}

func newEvalCmd() *cobra.Command {
	var opts evalOptions

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the retrieval evaluation query set",
		Long: `Run a tiered query set against the loaded corpus and report hit rate
and mean reciprocal rank.

Tier 1 queries must hit; tier 2 queries are reported but do not fail the
run; negative queries must not fail. The command exits non-zero when a
tier 1 or negative query fails.`,
		Example: `  finrag eval
  finrag eval --queries eval/queries.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEval(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.queries, "queries", "", "Query set YAML (default: built-in set)")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", validation.DefaultTopK, "Results searched per query")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Per-query deadline (default: search.timeout)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output results as JSON")

	return cmd
}

func runEval(ctx context.Context, cmd *cobra.Command, opts evalOptions) error {
	set, err := validation.LoadQueries(opts.queries)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(projectDir)
	if err != nil {
		return err
	}
	tel, err := openTelemetry(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = tel.Close() }()

	engine, err := searcher.Open(ctx, cfg, tel.options()...)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	v, err := validation.NewValidator(engine, opts.topK, opts.timeout)
	if err != nil {
		return err
	}
	res := v.Run(ctx, set)

	if opts.json {
		if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		out := output.New(cmd.OutOrStdout())
		printTier(out, "Tier 1", res.Tier1)
		printTier(out, "Tier 2", res.Tier2)
		printTier(out, "Negative", res.Negative)
		out.Statusf("📊", "Tier 1: %d/%d  Tier 2: %d/%d  Negative: %d/%d",
			res.Tier1Pass, res.Tier1Total, res.Tier2Pass, res.Tier2Total, res.NegPass, res.NegTotal)
		out.Statusf("🎯", "Hit rate: %.1f%%  MRR: %.3f", res.HitRate()*100, res.MRR())
		if tel.metrics != nil {
			if err := printMetrics(out, tel.metrics); err != nil {
				return err
			}
		}
	}

	if !res.Passed() {
		return fmt.Errorf("evaluation failed: tier 1 %d/%d, negative %d/%d",
			res.Tier1Pass, res.Tier1Total, res.NegPass, res.NegTotal)
	}
	return nil
}

func printTier(out *output.Writer, name string, results []validation.TestResult) {
	if len(results) == 0 {
		return
	}
	out.Statusf("", "%s:", name)
	for _, r := range results {
		icon := "✅"
		if !r.Passed {
			icon = "❌"
		}
		line := fmt.Sprintf("%s %-6s %s", icon, r.Spec.ID, r.Spec.Name)
		if r.MatchedAt >= 0 {
			line += fmt.Sprintf(" (rank %d)", r.MatchedAt+1)
		}
		if r.Error != "" {
			line += " - " + r.Error
		}
		out.Status("", line)
	}
	out.Newline()
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/finrag/internal/output"
	"github.com/Aman-CERP/finrag/internal/search"
	"github.com/Aman-CERP/finrag/pkg/searcher"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	topK     int
	timeout  time.Duration
	strategy string
	format   string // "text", "json", or "" for auto
	explain  bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Ask a question over the loaded corpus",
		Long: `Classify a question, fan it out to the structured, lexical and vector
backends and print the fused results with document and page provenance.

Examples:
  finrag query "Portugal Cement variable cost Aug 2025"
  finrag query "cement market outlook for the Mediterranean" --top-k 5
  finrag query "Secil EBITDA FY24" --strategy rrf --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Maximum number of results (default: search.default_top_k)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "End-to-end deadline (default: search.timeout)")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "Fusion strategy: weighted, rrf")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format: text, json (default: text on a terminal)")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show routing and per-backend diagnostics")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, text string, opts queryOptions) error {
	format, err := resolveFormat(opts.format, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	cfg, err := loadConfig(projectDir)
	if err != nil {
		return err
	}
	if opts.strategy != "" {
		cfg.Search.Strategy = strings.ToLower(opts.strategy)
	}
	topK := opts.topK
	if topK == 0 {
		topK = cfg.Search.DefaultTopK
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

	slog.Info("query_started", slog.String("query", text), slog.Int("top_k", topK))
	resp, err := engine.Query(ctx, text, topK, opts.timeout)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	slog.Info("query_complete",
		slog.String("request_id", resp.Diagnostics.RequestID),
		slog.Int("results", len(resp.Results)))

	if format == formatJSON {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	out := output.New(cmd.OutOrStdout())
	formatResponse(out, text, resp, opts.explain)
	if opts.explain && tel.metrics != nil {
		return printMetrics(out, tel.metrics)
	}
	return nil
}

// formatResponse prints a response for humans.
func formatResponse(out *output.Writer, text string, resp *search.Response, explain bool) {
	d := resp.Diagnostics
	if explain {
		formatExplain(out, &d)
	}

	if resp.NoEvidence || len(resp.Results) == 0 {
		out.Warningf("No evidence found for %q", text)
		return
	}

	out.Statusf("🔍", "Found %d results for %q (%s, %s):",
		len(resp.Results), text, d.Route, d.TotalLatency.Round(time.Millisecond))
	out.Newline()

	for i, r := range resp.Results {
		out.Statusf("", "%d. %s (score: %.3f)", i+1, resultTitle(r), r.FusedScore)

		p := r.Provenance
		location := fmt.Sprintf("%s, page %d", p.DocumentID, p.PageNumber)
		if p.SectionTitle != "" {
			location += " · " + p.SectionTitle
		}
		out.Status("", "   "+location)
		if p.Snippet != "" {
			out.Status("", "   "+firstLine(p.Snippet))
		}
		out.Newline()
	}
}

// resultTitle names a result by its fact for rows and its reference for chunks.
func resultTitle(r *search.RankedResult) string {
	if r.Row == nil {
		return fmt.Sprintf("[%s] %s", r.SourceKind, r.Reference)
	}
	entity := r.Row.Normalized()
	if entity == "" {
		entity = r.Row.EntityRaw
	}
	value := r.Row.Value
	if r.Row.Unit != "" {
		value += " " + r.Row.Unit
	}
	return fmt.Sprintf("[%s] %s | %s | %s = %s", r.SourceKind, entity, r.Row.Metric, r.Row.Period, value)
}

// formatExplain outputs how the query was routed and served.
func formatExplain(out *output.Writer, d *search.Diagnostics) {
	out.Status("", "════════════════════════════════════════")
	out.Status("", "QUERY EXPLANATION")
	out.Status("", "════════════════════════════════════════")
	out.Statusf("", "Request: %s", d.RequestID)
	out.Statusf("", "Route: %s", d.Route)
	if len(d.Cues) > 0 {
		out.Statusf("", "Cues: %s", strings.Join(d.Cues, ", "))
	}
	if d.FallbackReason != "" {
		out.Statusf("", "Fallback: %s", d.FallbackReason)
	}
	out.Statusf("", "Strategy: %s (top-k %d)", d.Strategy, d.TopK)
	out.Newline()

	for _, b := range d.Backends {
		line := fmt.Sprintf("%-10s %-11s %3d candidates  %s",
			b.Backend, b.Status, b.Count, b.Latency.Round(time.Microsecond))
		if w, ok := d.Weights[b.Backend]; ok {
			line += fmt.Sprintf("  (weight %.2f)", w)
		}
		if b.Error != "" {
			line += "  " + b.Error
		}
		out.Status("", line)
	}
	out.Status("", "════════════════════════════════════════")
	out.Newline()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/finrag/internal/index"
	"github.com/Aman-CERP/finrag/internal/output"
	"github.com/Aman-CERP/finrag/internal/telemetry"
)

// statsOutput is the JSON output of stats.
type statsOutput struct {
	Stores  *index.CheckResult  `json:"stores"`
	Queries *telemetry.Snapshot `json:"queries,omitempty"`
}

func newStatsCmd() *cobra.Command {
	var (
		jsonOutput bool
		days       int
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store consistency and query statistics",
		Long: `Display store sizes and whether they agree, and, when the query log is
enabled (server.query_log), the recorded query patterns:
  - Route and outcome distribution
  - Per-backend outcomes
  - Top query terms
  - Queries that found no evidence
  - Latency distribution`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput, days, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days of query log to include")
	cmd.Flags().IntVar(&limit, "limit", 10, "Top terms and no-evidence queries to show")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput bool, days, limit int) error {
	cfg, err := loadConfig(projectDir)
	if err != nil {
		return err
	}
	stores, err := index.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	var result statsOutput
	if result.Stores, err = index.NewConsistencyChecker(stores).Check(ctx); err != nil {
		return fmt.Errorf("failed to check stores: %w", err)
	}

	if cfg.Stores.DataDir != "" {
		if _, err := os.Stat(cfg.QueryLogPath()); err == nil {
			st, err := telemetry.OpenSQLiteQueryLogStore(cfg.QueryLogPath())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			if result.Queries, err = telemetry.LoadSnapshot(st, days, limit); err != nil {
				return fmt.Errorf("failed to read query log: %w", err)
			}
		}
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	out := output.New(cmd.OutOrStdout())
	printStoreStats(out, result.Stores)
	if result.Queries == nil {
		out.Status("💡", "Query log is off; set server.query_log: true to record queries")
		return nil
	}
	printQueryStats(out, result.Queries, days)
	return nil
}

func printStoreStats(out *output.Writer, r *index.CheckResult) {
	out.Status("🗄️ ", "Stores:")
	out.Statusf("", "  Chunks:        %d", r.Chunks)
	out.Statusf("", "  Lexical index: %d", r.Lexical)
	out.Statusf("", "  Vectors:       %d", r.Vectors)
	out.Statusf("", "  Table rows:    %d (%d unmapped)", r.Rows, r.Unmapped)
	out.Statusf("", "  Entities:      %d", r.Mappings)
	if r.Consistent {
		out.Success("Stores are consistent")
	} else {
		out.Warning("Store sizes disagree; reload the corpus with 'finrag load'")
	}
	out.Newline()
}

func printQueryStats(out *output.Writer, s *telemetry.Snapshot, days int) {
	out.Statusf("📊", "Queries (last %d days): %d total, %.1f%% no evidence",
		days, s.TotalQueries, s.NoEvidenceRate()*100)
	if s.TotalQueries == 0 {
		return
	}

	out.Status("", "Routes:")
	for _, k := range sortedKeys(s.RouteCounts) {
		out.Statusf("", "  %-12s %d", k, s.RouteCounts[k])
	}
	out.Status("", "Outcomes:")
	for _, k := range sortedKeys(s.OutcomeCounts) {
		out.Statusf("", "  %-12s %d", k, s.OutcomeCounts[k])
	}
	out.Status("", "Backends:")
	for _, k := range sortedKeys(s.BackendOutcomes) {
		out.Statusf("", "  %-22s %d", k, s.BackendOutcomes[k])
	}
	out.Status("", "Latency:")
	for _, b := range []telemetry.LatencyBucket{
		telemetry.BucketP50, telemetry.BucketP300, telemetry.BucketP800,
		telemetry.BucketP1500, telemetry.BucketSlow,
	} {
		out.Statusf("", "  %-12s %d", b, s.LatencyDistribution[b])
	}
	if len(s.TopTerms) > 0 {
		out.Status("", "Top terms:")
		for _, t := range s.TopTerms {
			out.Statusf("", "  %-16s %d", t.Term, t.Count)
		}
	}
	if len(s.NoEvidenceQueries) > 0 {
		out.Status("", "No evidence:")
		for _, q := range s.NoEvidenceQueries {
			out.Statusf("", "  %q", q)
		}
	}
	out.Statusf("", "Since %s", s.Since.Format(time.DateOnly))
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/finrag/internal/index"
	"github.com/Aman-CERP/finrag/internal/normalize"
	"github.com/Aman-CERP/finrag/internal/output"
)

// normalizeOptions holds CLI flags for normalize.
type normalizeOptions struct {
	mappings string
	list     bool
	json     bool
}

// normalizeSummary is the JSON output of normalize.
type normalizeSummary struct {
	Imported   int      `json:"imported"`
	Normalized int      `json:"normalized"`
	Unmapped   int      `json:"unmapped"`
	Entities   []string `json:"unmapped_entities,omitempty"`
}

func newNormalizeCmd() *cobra.Command {
	var opts normalizeOptions

	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Resolve raw entity names on stored table rows",
		Long: `Fill entity_normalized on every table row that lacks it, using the
entity mappings held in the table store.

With --mappings, the alias table in the given YAML file is imported first,
replacing mappings with the same canonical name.`,
		Example: `  finrag normalize
  finrag normalize --mappings entities.yaml
  finrag normalize --list`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNormalize(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.mappings, "mappings", "", "Import entity mappings from a YAML file first")
	cmd.Flags().BoolVar(&opts.list, "list", false, "List raw entity names still unmapped")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output summary as JSON")

	return cmd
}

func runNormalize(ctx context.Context, cmd *cobra.Command, opts normalizeOptions) error {
	cfg, err := loadConfig(projectDir)
	if err != nil {
		return err
	}
	stores, err := index.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	var summary normalizeSummary
	if opts.mappings != "" {
		snap, err := normalize.LoadFileSnapshot(opts.mappings)
		if err != nil {
			return err
		}
		mappings := snap.Mappings()
		if err := stores.Tables.SaveMappings(ctx, mappings); err != nil {
			return fmt.Errorf("failed to import mappings: %w", err)
		}
		summary.Imported = len(mappings)
	}

	runner, err := index.NewRunner(index.RunnerDependencies{
		Stores: stores,
		NormalizerOptions: normalize.Options{
			BusinessUnitSuffix: cfg.Normalizer.BusinessUnitSuffix,
			CacheSize:          cfg.Normalizer.CacheSize,
		},
	})
	if err != nil {
		return err
	}
	res, err := runner.Backfill(ctx)
	if err != nil {
		return err
	}
	summary.Normalized, summary.Unmapped = res.Normalized, res.Unmapped

	if opts.list && res.Unmapped > 0 {
		rows, err := stores.Tables.RowsMissingNormalized(ctx)
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, r := range rows {
			if !seen[r.EntityRaw] {
				seen[r.EntityRaw] = true
				summary.Entities = append(summary.Entities, r.EntityRaw)
			}
		}
		sort.Strings(summary.Entities)
	}

	if opts.json {
		return writeJSON(cmd.OutOrStdout(), summary)
	}

	out := output.New(cmd.OutOrStdout())
	if summary.Imported > 0 {
		out.Statusf("📥", "Imported %d entity mappings from %s", summary.Imported, opts.mappings)
	}
	out.Successf("Normalized %d rows, %d unmapped", summary.Normalized, summary.Unmapped)
	for _, e := range summary.Entities {
		out.Status("", "  - "+e)
	}
	return nil
}

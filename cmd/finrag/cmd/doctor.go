package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/finrag/internal/preflight"
)

// doctorOutput is the JSON output of doctor.
type doctorOutput struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func newDoctorCmd() *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that finrag can run against this project",
		Long: `Run preflight checks against the project configuration:
  - Data directory is writable
  - Enough free disk space
  - File descriptor limit
  - Entity mapping file parses
  - Stores open and agree on their sizes

Exits non-zero when a required check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(projectDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			checker := preflight.New(preflight.WithOutput(out), preflight.WithVerbose(verbose))
			results := checker.RunAll(cmd.Context(), cfg)

			if jsonOutput {
				if err := writeJSON(out, doctorOutput{
					Status: checker.SummaryStatus(results),
					Checks: results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return fmt.Errorf("preflight checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")

	return cmd
}

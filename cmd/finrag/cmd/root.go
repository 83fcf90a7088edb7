// Package cmd provides the CLI commands for finrag.
package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	ferrors "github.com/Aman-CERP/finrag/internal/errors"
	"github.com/Aman-CERP/finrag/internal/logging"
	"github.com/Aman-CERP/finrag/internal/profiling"
	"github.com/Aman-CERP/finrag/pkg/version"
)

// Global flags
var (
	projectDir  string
	debugMode   bool
	profileOpts profiling.Options
	profile     *profiling.Session
	logCleanup  func()
)

// NewRootCmd creates the root command for the finrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finrag",
		Short: "Multi-index retrieval over financial reports",
		Long: `finrag answers questions over financial report corpora by routing each
query to a structured table store, a lexical index and a vector index,
then fusing the results with provenance back to document and page.

Load a corpus with 'finrag load', then ask with 'finrag query'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("finrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Project directory holding .finrag.yaml")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.finrag/logs/")
	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write heap profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newLoadCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newNormalizeCmd())
	cmd.AddCommand(newEvalCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging installs the logger and starts requested profiles.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = "warn"
	if debugMode {
		logCfg = logging.DebugConfig()
	}
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	logCleanup = cleanup
	if debugMode {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logCfg.FilePath),
			slog.String("version", version.Version))
	}

	if profileOpts.Enabled() {
		if profile, err = profiling.Start(profileOpts); err != nil {
			return err
		}
	}
	return nil
}

// stopProfilingAndLogging flushes profiles and closes the log file.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	err := profile.Stop()
	profile = nil

	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
	}
	return err
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	return run(NewRootCmd())
}

func run(root *cobra.Command) error {
	executed, err := root.ExecuteC()
	if err != nil {
		printError(root.ErrOrStderr(), executed, err)
	}
	return err
}

// printError writes err as JSON when the command was asked for JSON output,
// otherwise as CLI text with details under --debug.
func printError(w io.Writer, cmd *cobra.Command, err error) {
	if wantsJSON(cmd) {
		if data, jerr := ferrors.FormatJSON(err); jerr == nil {
			_, _ = fmt.Fprintln(w, string(data))
			return
		}
	}
	_, _ = fmt.Fprint(w, ferrors.FormatForCLI(err, debugMode))
}

func wantsJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return false
	}
	if f := cmd.Flags().Lookup("json"); f != nil && f.Value.String() == "true" {
		return true
	}
	if f := cmd.Flags().Lookup("format"); f != nil && f.Value.String() == formatJSON {
		return true
	}
	return false
}

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/finrag/internal/config"
	"github.com/Aman-CERP/finrag/internal/output"
	"github.com/Aman-CERP/finrag/internal/telemetry"
	"github.com/Aman-CERP/finrag/pkg/searcher"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
)

// loadConfig loads the configuration for dir. Relative data directories and
// mapping files are resolved against dir.
func loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if d := cfg.Stores.DataDir; d != "" && !filepath.IsAbs(d) {
		cfg.Stores.DataDir = filepath.Join(dir, d)
	}
	if m := cfg.Normalizer.MappingFile; m != "" && !filepath.IsAbs(m) {
		cfg.Normalizer.MappingFile = filepath.Join(dir, m)
	}
	return cfg, nil
}

// resolveFormat picks the output format. An empty format means text on a
// terminal and JSON otherwise.
func resolveFormat(format string, w io.Writer) (string, error) {
	switch format {
	case "":
		if output.IsTerminal(w) {
			return formatText, nil
		}
		return formatJSON, nil
	case formatText, formatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("invalid format %q (use: text, json)", format)
	}
}

// telemetrySet holds the recorders enabled by the server section.
type telemetrySet struct {
	metrics  *telemetry.Metrics
	queryLog *telemetry.QueryLog
	logStore *telemetry.SQLiteQueryLogStore
}

// openTelemetry builds the recorders cfg enables. The query log is flushed
// on Close since CLI runs are short.
func openTelemetry(cfg *config.Config) (*telemetrySet, error) {
	t := &telemetrySet{}
	if cfg.Server.MetricsEnabled {
		t.metrics = telemetry.NewMetrics()
	}
	if cfg.Server.QueryLog {
		if err := os.MkdirAll(cfg.Stores.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		st, err := telemetry.OpenSQLiteQueryLogStore(cfg.QueryLogPath())
		if err != nil {
			return nil, err
		}
		t.logStore = st
		t.queryLog = telemetry.NewQueryLog(st, telemetry.QueryLogConfig{})
	}
	return t, nil
}

// options returns the engine options that attach the enabled recorders.
func (t *telemetrySet) options() []searcher.Option {
	var recs telemetry.Recorders
	if t.metrics != nil {
		recs = append(recs, t.metrics)
	}
	if t.queryLog != nil {
		recs = append(recs, t.queryLog)
	}
	if len(recs) == 0 {
		return nil
	}
	return []searcher.Option{searcher.WithMetrics(recs)}
}

// Close flushes the query log and closes its store.
func (t *telemetrySet) Close() error {
	var errs []error
	if t.queryLog != nil {
		errs = append(errs, t.queryLog.Close())
	}
	if t.logStore != nil {
		errs = append(errs, t.logStore.Close())
	}
	return errors.Join(errs...)
}

// printMetrics writes the non-zero counters gathered by m.
func printMetrics(out *output.Writer, m *telemetry.Metrics) error {
	families, err := m.Registry().Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	out.Status("📈", "Metrics:")
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if metric.GetCounter() == nil || metric.GetCounter().GetValue() == 0 {
				continue
			}
			labels := ""
			for i, l := range metric.GetLabel() {
				if i > 0 {
					labels += ","
				}
				labels += l.GetName() + "=" + l.GetValue()
			}
			if labels != "" {
				labels = "{" + labels + "}"
			}
			out.Statusf("", "  %s%s %.0f", f.GetName(), labels, metric.GetCounter().GetValue())
		}
	}
	return nil
}

// writeJSON encodes v indented.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

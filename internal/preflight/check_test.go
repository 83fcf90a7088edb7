package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/finrag/internal/config"
	"github.com/Aman-CERP/finrag/internal/normalize"
	"github.com/Aman-CERP/finrag/internal/store"
)

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_JSONUsesStatusName(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "stores", Status: StatusWarn})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"WARN"`)
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name   string
		result CheckResult
		want   bool
	}{
		{"required pass", CheckResult{Status: StatusPass, Required: true}, false},
		{"required warn", CheckResult{Status: StatusWarn, Required: true}, false},
		{"required fail", CheckResult{Status: StatusFail, Required: true}, true},
		{"optional fail", CheckResult{Status: StatusFail, Required: false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.IsCritical())
		})
	}
}

func TestChecker_NewWithOptions(t *testing.T) {
	// Given: custom options
	buf := &bytes.Buffer{}

	// When: creating a checker with options
	checker := New(WithVerbose(true), WithOutput(buf))

	// Then: options are applied
	assert.True(t, checker.verbose)
	assert.Equal(t, buf, checker.output)
}

func TestChecker_HasCriticalFailures(t *testing.T) {
	checker := New()

	tests := []struct {
		name     string
		results  []CheckResult
		expected bool
	}{
		{"no results", []CheckResult{}, false},
		{"all pass", []CheckResult{{Status: StatusPass, Required: true}}, false},
		{"optional failure", []CheckResult{{Status: StatusFail, Required: false}}, false},
		{"required failure", []CheckResult{
			{Status: StatusPass, Required: true},
			{Status: StatusFail, Required: true},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.HasCriticalFailures(tt.results))
		})
	}
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New()

	tests := []struct {
		name     string
		results  []CheckResult
		expected string
	}{
		{"all pass", []CheckResult{{Status: StatusPass}, {Status: StatusPass}}, "ready"},
		{"with warnings", []CheckResult{{Status: StatusPass}, {Status: StatusWarn}}, "ready_with_warnings"},
		{"with critical failure", []CheckResult{{Status: StatusPass}, {Status: StatusFail, Required: true}}, "failed"},
		{"with optional failure", []CheckResult{{Status: StatusPass}, {Status: StatusFail}}, "ready_with_warnings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.SummaryStatus(tt.results))
		})
	}
}

// =============================================================================
// Individual checks
// =============================================================================

func TestChecker_CheckDataDir_CreatesMissingDirectory(t *testing.T) {
	// Given: a data directory that does not exist yet
	dir := filepath.Join(t.TempDir(), "nested", "data")

	// When: checking it
	result := New().CheckDataDir(dir)

	// Then: it is created and passes without leaving the probe file behind
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "data_dir", result.Name)
	assert.DirExists(t, dir)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChecker_CheckDataDir_EmptyWarns(t *testing.T) {
	result := New().CheckDataDir("")

	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "in memory")
}

func TestChecker_CheckDataDir_ReadOnly(t *testing.T) {
	// Given: a read-only directory (skip on CI/root)
	if os.Getuid() == 0 {
		t.Skip("Skipping read-only test when running as root")
	}

	readOnlyDir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(readOnlyDir, 0555))
	defer func() { _ = os.Chmod(readOnlyDir, 0755) }()

	// When: checking it
	result := New().CheckDataDir(readOnlyDir)

	// Then: fails
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "permission denied")
}

func TestChecker_CheckMappingFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "entities.yaml")
	require.NoError(t, normalize.WriteFile(good, []store.EntityMapping{
		{CanonicalName: "Acme Cement", RawMentions: []string{"cement"}, EntityType: "business_unit"},
	}))
	bad := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("- canonical_name: [unterminated\n"), 0644))

	tests := []struct {
		name   string
		path   string
		status CheckStatus
		msg    string
	}{
		{"unset", "", StatusPass, "table store"},
		{"valid file", good, StatusPass, "1 entities"},
		{"missing file", filepath.Join(dir, "absent.yaml"), StatusFail, "cannot load"},
		{"malformed file", bad, StatusFail, "cannot load"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := New().CheckMappingFile(tt.path)
			assert.Equal(t, tt.status, result.Status)
			assert.Contains(t, result.Message, tt.msg)
		})
	}
}

func TestChecker_CheckStores_EmptyStoresPass(t *testing.T) {
	// Given: a fresh data directory
	cfg := config.NewConfig()
	cfg.Stores.DataDir = t.TempDir()

	// When: checking the stores
	result := New().CheckStores(context.Background(), cfg)

	// Then: empty stores agree with each other
	assert.Equal(t, StatusPass, result.Status, result.Details)
	assert.Contains(t, result.Message, "0 chunks")
}

func TestChecker_CheckStores_UnknownDriverFails(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Stores.DataDir = t.TempDir()
	cfg.Stores.TableDriver = "oracle"

	result := New().CheckStores(context.Background(), cfg)

	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
	assert.NotEmpty(t, result.Details)
}

// =============================================================================
// RunAll and output
// =============================================================================

func TestChecker_RunAll_ReturnsAllChecks(t *testing.T) {
	// Given: a config with a writable data directory
	cfg := config.NewConfig()
	cfg.Stores.DataDir = t.TempDir()

	// When: running all checks
	results := New().RunAll(context.Background(), cfg)

	// Then: every check is present
	names := make(map[string]bool)
	for _, r := range results {
		names[r.Name] = true
	}
	for _, want := range []string{"data_dir", "disk_space", "file_descriptors", "entity_mappings", "stores"} {
		assert.True(t, names[want], "%s check missing", want)
	}
}

func TestChecker_PrintResults(t *testing.T) {
	// Given: some check results
	results := []CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "50.0 GB free"},
		{Name: "stores", Status: StatusWarn, Message: "3 chunks, 2 lexical", Details: "reload"},
		{Name: "entity_mappings", Status: StatusFail, Message: "cannot load", Required: true},
	}

	buf := &bytes.Buffer{}
	checker := New(WithOutput(buf), WithVerbose(true))

	// When: printing results
	checker.PrintResults(results)

	// Then: output contains formatted results
	output := buf.String()
	assert.Contains(t, output, "finrag System Check")
	assert.Contains(t, output, "[PASS] disk_space")
	assert.Contains(t, output, "[WARN] stores")
	assert.Contains(t, output, "      reload")
	assert.Contains(t, output, "Status: FAILED")
	assert.Contains(t, output, "1 error(s):")
	assert.Contains(t, output, "1 warning(s):")
}

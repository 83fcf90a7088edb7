package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/finrag/internal/index"
)

// =============================================================================
// load
// =============================================================================

func TestLoadCmd_LoadsSampleCorpus(t *testing.T) {
	// Given: an empty project
	dir := newProject(t)

	// When: loading the sample corpus
	out, err := execute(t, dir, "load", sampleCorpus, "--json")
	require.NoError(t, err)

	// Then: every document, chunk and row is loaded and persisted
	got := decode[loadSummary](t, out)
	assert.Equal(t, 2, got.Documents)
	assert.Equal(t, 7, got.Chunks)
	assert.Equal(t, 6, got.Rows)
	assert.Equal(t, 3, got.Mappings)
	assert.Equal(t, 5, got.Normalized)
	assert.Equal(t, 1, got.Unmapped)

	_, err = os.Stat(filepath.Join(dir, ".finrag", index.VectorIndexFile))
	assert.NoError(t, err)
}

func TestLoadCmd_ReloadReplaces(t *testing.T) {
	dir := newProject(t)
	loadSample(t, dir)

	out, err := execute(t, dir, "load", sampleCorpus, "--json")
	require.NoError(t, err)

	got := decode[loadSummary](t, out)
	assert.Equal(t, 2, got.Replaced)

	stats := decode[statsOutput](t, mustExecute(t, dir, "stats", "--json"))
	assert.Equal(t, 7, stats.Stores.Chunks)
	assert.Equal(t, 6, stats.Stores.Rows)
}

func TestLoadCmd_TextOutput(t *testing.T) {
	dir := newProject(t)

	out, err := execute(t, dir, "load", sampleCorpus)
	require.NoError(t, err)

	assert.Contains(t, out, "Loaded 2 documents: 7 chunks, 6 table rows")
	assert.Contains(t, out, "Normalized 5 rows, 1 unmapped")
	assert.Contains(t, out, "100%")
	assert.NotContains(t, out, "\r")
}

func TestLoadCmd_BadFileLoadsNothing(t *testing.T) {
	// Given: one good and one missing corpus file
	dir := newProject(t)
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	// When: loading both
	_, err := execute(t, dir, "load", sampleCorpus, missing, "--json")

	// Then: the command fails before touching the stores
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, ".finrag"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadCmd_RequiresFile(t *testing.T) {
	_, err := execute(t, newProject(t), "load")
	assert.Error(t, err)
}

// =============================================================================
// remove
// =============================================================================

func TestRemoveCmd_RemovesDocument(t *testing.T) {
	dir := newProject(t)
	loadSample(t, dir)

	out, err := execute(t, dir, "remove", "monthly-report-2025-08", "no-such-doc")
	require.NoError(t, err)

	assert.Contains(t, out, "monthly-report-2025-08: removed 2 chunks, 3 table rows")
	assert.Contains(t, out, "no-such-doc: not loaded")

	stats := decode[statsOutput](t, mustExecute(t, dir, "stats", "--json"))
	assert.Equal(t, 5, stats.Stores.Chunks)
	assert.Equal(t, 5, stats.Stores.Vectors)
	assert.Equal(t, 3, stats.Stores.Rows)
	assert.True(t, stats.Stores.Consistent)
}

func mustExecute(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := execute(t, dir, args...)
	require.NoError(t, err)
	return out
}

package logging

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLogLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	for _, l := range lines {
		_, err := fmt.Fprintln(f, l)
		require.NoError(t, err)
	}
}

const (
	debugLine = `{"time":"2026-03-01T10:00:00.000Z","level":"DEBUG","msg":"classified","route":"STRUCTURED"}`
	infoLine  = `{"time":"2026-03-01T10:00:01.000Z","level":"INFO","msg":"search complete","results":3,"backend":"lexical"}`
	errorLine = `{"time":"2026-03-01T10:00:02.000Z","level":"ERROR","msg":"backend failed","backend":"vector"}`
)

// =============================================================================
// ParseLine
// =============================================================================

func TestParseLine(t *testing.T) {
	entry := ParseLine(infoLine)

	require.True(t, entry.IsValid)
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "search complete", entry.Msg)
	assert.Equal(t, float64(3), entry.Attrs["results"])
	assert.NotContains(t, entry.Attrs, "msg")
	assert.Equal(t, 2026, entry.Time.Year())
}

func TestParseLine_NotJSON(t *testing.T) {
	entry := ParseLine("panic: runtime error")

	assert.False(t, entry.IsValid)
	assert.Equal(t, "panic: runtime error", entry.Raw)
}

// =============================================================================
// Tail
// =============================================================================

func TestViewer_Tail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finrag.log")
	writeLogLines(t, path, debugLine, infoLine, errorLine)

	tests := []struct {
		name    string
		config  ViewerConfig
		lines   int
		wantMsg []string
	}{
		{"all lines", ViewerConfig{}, 10, []string{"classified", "search complete", "backend failed"}},
		{"last two", ViewerConfig{}, 2, []string{"search complete", "backend failed"}},
		{"level filter", ViewerConfig{Level: "warn"}, 10, []string{"backend failed"}},
		{"pattern filter", ViewerConfig{Pattern: regexp.MustCompile(`"backend":"lexical"`)}, 10, []string{"search complete"}},
		{"zero lines", ViewerConfig{}, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := NewViewer(tt.config, &bytes.Buffer{}).Tail(path, tt.lines)
			require.NoError(t, err)

			var got []string
			for _, e := range entries {
				got = append(got, e.Msg)
			}
			assert.Equal(t, tt.wantMsg, got)
		})
	}
}

func TestViewer_Tail_MissingFile(t *testing.T) {
	_, err := NewViewer(ViewerConfig{}, &bytes.Buffer{}).Tail(filepath.Join(t.TempDir(), "nope.log"), 10)
	assert.Error(t, err)
}

// =============================================================================
// Formatting
// =============================================================================

func TestViewer_FormatEntry_SortsAttributes(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})

	got := v.FormatEntry(ParseLine(infoLine))

	assert.True(t, strings.HasSuffix(got, "INFO  search complete backend=lexical results=3"), got)
}

func TestViewer_FormatEntry_ColorsLevel(t *testing.T) {
	v := NewViewer(ViewerConfig{}, &bytes.Buffer{})

	got := v.FormatEntry(ParseLine(errorLine))

	assert.Contains(t, got, "\033[31mERROR\033[0m")
}

func TestViewer_Print_PassesThroughRawLines(t *testing.T) {
	buf := &bytes.Buffer{}
	v := NewViewer(ViewerConfig{NoColor: true}, buf)

	v.Print([]LogEntry{ParseLine("not json")})

	assert.Equal(t, "not json\n", buf.String())
}

// =============================================================================
// Follow
// =============================================================================

func TestViewer_Follow_SendsAppendedEntries(t *testing.T) {
	// Given: a log file with existing content being followed
	path := filepath.Join(t.TempDir(), "finrag.log")
	writeLogLines(t, path, debugLine)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries := make(chan LogEntry, 10)
	done := make(chan error, 1)
	go func() {
		done <- NewViewer(ViewerConfig{Level: "info"}, &bytes.Buffer{}).Follow(ctx, path, entries)
	}()

	// When: lines are appended after following starts
	var got LogEntry
	require.Eventually(t, func() bool {
		writeLogLines(t, path, debugLine, errorLine)
		select {
		case got = <-entries:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 4*time.Second, 10*time.Millisecond)

	// Then: only new entries at or above the level arrive
	assert.Equal(t, "backend failed", got.Msg)

	cancel()
	assert.NoError(t, <-done)
}

package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Renderer selection
// =============================================================================

func TestNewRenderer_NonTerminalIsPlain(t *testing.T) {
	r := NewRenderer(Config{Output: &bytes.Buffer{}})
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestNewRenderer_ForcePlain(t *testing.T) {
	r := NewRenderer(Config{Output: &bytes.Buffer{}, ForcePlain: true})
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestDetectCI(t *testing.T) {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		t.Setenv(v, "")
	}
	t.Setenv("GITHUB_ACTIONS", "true")
	assert.True(t, DetectCI())
}

func TestPlainRenderer_WritesOneLinePerUpdate(t *testing.T) {
	// Given: a plain renderer over a buffer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(Config{Output: buf})
	ctx, err := r.Start(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ctx)

	// When: reporting a labelled step
	r.Begin("Loading annual.yaml")
	r.Progress(1, 2, "embedding chunks")
	r.Progress(2, 2, "embedding chunks")
	r.ProgressDone()
	require.NoError(t, r.Stop())

	// Then: each update is its own line without carriage returns
	out := buf.String()
	assert.Contains(t, out, "Loading annual.yaml")
	assert.Equal(t, 2, strings.Count(out, "embedding chunks"))
	assert.NotContains(t, out, "\r")
}

// =============================================================================
// Tracker
// =============================================================================

func TestTracker_StatsFraction(t *testing.T) {
	tr := NewTracker()
	tr.Begin("file.yaml")
	tr.Update(25, 100, "embedding chunks")

	s := tr.Stats()
	assert.Equal(t, "file.yaml", s.Label)
	assert.Equal(t, "embedding chunks", s.Step)
	assert.InDelta(t, 0.25, s.Fraction, 1e-9)
}

func TestTracker_NewStepResets(t *testing.T) {
	tr := NewTracker()
	tr.Update(10, 10, "embedding chunks")
	tr.Update(1, 4, "loading table rows")

	s := tr.Stats()
	assert.Equal(t, "loading table rows", s.Step)
	assert.Equal(t, 1, s.Current)
	assert.Equal(t, 4, s.Total)
}

func TestTracker_DoneCompletesStep(t *testing.T) {
	tr := NewTracker()
	tr.Update(3, 8, "embedding chunks")
	tr.Done()

	s := tr.Stats()
	assert.Equal(t, 8, s.Current)
	assert.Equal(t, 1.0, s.Fraction)
	assert.Zero(t, s.ETA)
}

func TestTracker_ETAPositiveMidStep(t *testing.T) {
	tr := NewTracker()
	tr.Update(0, 100, "embedding chunks")
	time.Sleep(20 * time.Millisecond)
	tr.Update(10, 100, "embedding chunks")

	assert.Greater(t, tr.Stats().ETA, time.Duration(0))
}

// =============================================================================
// Sparkline
// =============================================================================

func TestSparkline_RenderWidth(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		width   int
		want    string
	}{
		{"empty pads with spaces", nil, 4, "    "},
		{"scales to peak", []float64{0, 7}, 2, "▁█"},
		{"keeps newest", []float64{7, 0, 7}, 2, "▁█"},
		{"partial fill", []float64{7}, 3, "  █"},
		{"zero width", []float64{1}, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSparkline(8)
			for _, v := range tt.samples {
				s.Add(v)
			}
			assert.Equal(t, tt.want, s.RenderWidth(tt.width))
		})
	}
}

func TestSparkline_WrapsRing(t *testing.T) {
	s := NewSparkline(3)
	for _, v := range []float64{7, 7, 7, 0, 0} {
		s.Add(v)
	}
	assert.Equal(t, "█▁▁", s.RenderWidth(10))
}

// =============================================================================
// TUI model
// =============================================================================

func TestLoadModel_ViewShowsProgress(t *testing.T) {
	// Given: a model whose tracker is halfway through a step
	tr := NewTracker()
	tr.Begin("annual.yaml")
	tr.Update(5, 10, "embedding chunks")
	m := newLoadModel(tr, "finrag load")
	m.styles = NoColorStyles()

	// When: rendering
	view := m.View()

	// Then: title, label and counts are shown
	assert.Contains(t, view, "finrag load • annual.yaml")
	assert.Contains(t, view, "embedding chunks: 5 / 10")
	assert.Contains(t, view, "50%")
}

func TestLoadModel_FinishQuits(t *testing.T) {
	m := newLoadModel(NewTracker(), "finrag load")
	m.styles = NoColorStyles()

	_, cmd := m.Update(finishMsg{})

	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.View(), "✓ finrag load")
}

func TestLoadModel_CtrlCCancels(t *testing.T) {
	cancelled := false
	m := newLoadModel(NewTracker(), "")
	m.cancel = func() { cancelled = true }

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	require.NotNil(t, cmd)
	assert.True(t, cancelled)
	assert.Equal(t, "Cancelled.\n", m.View())
}

func TestLoadModel_WindowResizeClampsBar(t *testing.T) {
	m := newLoadModel(NewTracker(), "")
	m.Update(tea.WindowSizeMsg{Width: 30, Height: 10})
	assert.Equal(t, 20, m.bar.Width)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{2 * time.Minute, "2m"},
		{2*time.Minute + 15*time.Second, "2m 15s"},
		{90 * time.Minute, "1h 30m"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.d))
		})
	}
}

package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer draws a live progress panel using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	tracker *Tracker
	model   *loadModel
	program *tea.Program
	done    chan struct{}
	stopped bool
}

// NewTUIRenderer creates a TUI renderer. Callers normally go through
// NewRenderer, which falls back to plain output off a terminal.
func NewTUIRenderer(cfg Config) *TUIRenderer {
	tracker := NewTracker()
	model := newLoadModel(tracker, cfg.Title)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		return ctx, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	r.model.cancel = cancel
	r.program = tea.NewProgram(r.model, tea.WithOutput(r.cfg.Output))

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return ctx, nil
}

// Begin implements Renderer.
func (r *TUIRenderer) Begin(label string) {
	r.tracker.Begin(label)
}

// Progress implements Renderer.
func (r *TUIRenderer) Progress(current, total int, msg string) {
	r.tracker.Update(current, total, msg)
}

// ProgressDone implements Renderer.
func (r *TUIRenderer) ProgressDone() {
	r.tracker.Done()
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program == nil || r.stopped {
		return nil
	}
	r.stopped = true
	r.program.Send(finishMsg{})

	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		// an unresponsive terminal must not hang the command
		r.program.Kill()
	}
	return nil
}

type finishMsg struct{}
type tickMsg time.Time

// loadModel is the bubbletea model for load progress.
type loadModel struct {
	tracker  *Tracker
	title    string
	width    int
	finished bool
	quitting bool
	cancel   context.CancelFunc
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
}

func newLoadModel(tracker *Tracker, title string) *loadModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	if title == "" {
		title = "finrag"
	}
	return &loadModel{
		tracker: tracker,
		title:   title,
		width:   80,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(50),
			progress.WithoutPercentage(),
		),
		styles: DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m *loadModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *loadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 20)

	case finishMsg:
		m.finished = true
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *loadModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	stats := m.tracker.Stats()
	if m.finished {
		// the final frame stays on screen above the summary
		return m.styles.Success.Render("✓ "+m.title) + "\n"
	}

	width := max(m.width-4, 40)
	var lines []string

	header := m.title
	if stats.Label != "" {
		header += " • " + stats.Label
	}
	lines = append(lines, m.styles.Header.Render(header))

	if stats.Total == 0 {
		step := stats.Step
		if step == "" {
			step = "preparing"
		}
		lines = append(lines, fmt.Sprintf("%s %s...", m.spinner.View(), step))
	} else {
		pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Fraction*100))
		lines = append(lines, fmt.Sprintf("%s  %s", m.bar.ViewAs(stats.Fraction), pct))
		lines = append(lines, m.styles.Label.Render(fmt.Sprintf("%s %s: %d / %d",
			m.spinner.View(), stats.Step, stats.Current, stats.Total)))
	}

	speed := fmt.Sprintf("%.0f/s", stats.Rate)
	if stats.Peak > 0 {
		speed += fmt.Sprintf(" (peak %.0f)", stats.Peak)
	}
	if stats.ETA > 0 {
		speed += "  •  ETA " + formatDuration(stats.ETA)
	}
	lines = append(lines, m.styles.Label.Render(speed))
	lines = append(lines, m.styles.Sparkline.Render(m.tracker.RenderSparkline(width-4)))

	return m.styles.Panel.Width(width).Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		if s := int(d.Seconds()) % 60; s != 0 {
			return fmt.Sprintf("%dm %ds", int(d.Minutes()), s)
		}
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

var _ Renderer = (*TUIRenderer)(nil)

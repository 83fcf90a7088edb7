// Package ui renders load progress: a bubbletea panel on interactive
// terminals and one line per update everywhere else.
package ui

import (
	"context"
	"io"
	"os"

	"github.com/Aman-CERP/finrag/internal/output"
)

// Renderer displays load progress. It satisfies index.ProgressReporter.
type Renderer interface {
	// Start begins rendering. The returned context is cancelled when the
	// user interrupts the display.
	Start(ctx context.Context) (context.Context, error)

	// Begin announces a new unit of work, such as one corpus file.
	Begin(label string)

	// Progress reports current of total items for the step msg.
	Progress(current, total int, msg string)

	// ProgressDone ends the current step.
	ProgressDone()

	// Stop stops rendering. Safe to call more than once.
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	Title      string
	ForcePlain bool
	NoColor    bool
}

// NewRenderer returns a TUI renderer for interactive terminals and a plain
// renderer for pipes, CI or when ForcePlain is set.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !output.IsTerminal(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	return NewTUIRenderer(cfg)
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

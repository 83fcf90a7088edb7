package ui

import "github.com/charmbracelet/lipgloss"

// Color palette.
const (
	ColorAccent   = "39"  // blue
	ColorGray     = "245" // labels
	ColorDarkGray = "238" // borders
	ColorGreen    = "42"
)

// Styles holds the TUI styles.
type Styles struct {
	Header    lipgloss.Style
	Active    lipgloss.Style
	Success   lipgloss.Style
	Label     lipgloss.Style
	Dim       lipgloss.Style
	Sparkline lipgloss.Style
	Panel     lipgloss.Style
}

// DefaultStyles returns colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Active:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Label:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Sparkline: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
	}
}

// NoColorStyles returns styles without color, keeping the panel border.
func NoColorStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true),
		Active:    lipgloss.NewStyle(),
		Success:   lipgloss.NewStyle(),
		Label:     lipgloss.NewStyle(),
		Dim:       lipgloss.NewStyle(),
		Sparkline: lipgloss.NewStyle(),
		Panel:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
	}
}

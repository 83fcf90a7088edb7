package ui

import "strings"

// sparkRunes are eight bar heights from empty to full.
var sparkRunes = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a fixed-size ring of samples rendered as block characters.
type Sparkline struct {
	samples []float64
	head    int
	count   int
}

// NewSparkline creates a sparkline holding size samples.
func NewSparkline(size int) *Sparkline {
	if size <= 0 {
		size = 60
	}
	return &Sparkline{samples: make([]float64, size)}
}

// Add appends a sample, evicting the oldest when full.
func (s *Sparkline) Add(v float64) {
	s.samples[s.head] = v
	s.head = (s.head + 1) % len(s.samples)
	s.count++
}

// RenderWidth renders the newest width samples, left-padded with spaces
// until enough samples exist. Bars are scaled to the largest visible sample.
func (s *Sparkline) RenderWidth(width int) string {
	if width <= 0 {
		return ""
	}
	width = min(width, len(s.samples))
	n := min(s.count, width)

	recent := make([]float64, n)
	peak := 0.0
	for i := 0; i < n; i++ {
		idx := (s.head - n + i + len(s.samples)) % len(s.samples)
		recent[i] = s.samples[idx]
		peak = max(peak, recent[i])
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", width-n))
	for _, v := range recent {
		level := 0
		if peak > 0 {
			level = int(v / peak * float64(len(sparkRunes)-1))
		}
		level = max(0, min(level, len(sparkRunes)-1))
		b.WriteRune(sparkRunes[level])
	}
	return b.String()
}

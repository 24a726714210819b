package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/tui"
)

// ProgressBar renders a horizontal progress indicator for a project.
type ProgressBar struct {
	Progress  api.Progress
	Width     int
	Color     lipgloss.Color
	ShowLabel bool // Show percentage
	ShowValue bool // Show "2 / 3"
	Label     string
}

// NewProgressBar creates a progress bar with defaults.
func NewProgressBar(p api.Progress) *ProgressBar {
	return &ProgressBar{
		Progress:  p,
		Width:     20,
		Color:     tui.ColorSuccess,
		ShowLabel: true,
	}
}

// WithWidth sets the bar width.
func (p *ProgressBar) WithWidth(w int) *ProgressBar {
	p.Width = max(1, w)
	return p
}

// WithColor sets the filled portion color.
func (p *ProgressBar) WithColor(c lipgloss.Color) *ProgressBar {
	p.Color = c
	return p
}

// WithShowValue enables passing/total display.
func (p *ProgressBar) WithShowValue(show bool) *ProgressBar {
	p.ShowValue = show
	return p
}

// WithLabel sets a custom label prefix.
func (p *ProgressBar) WithLabel(label string) *ProgressBar {
	p.Label = label
	return p
}

// Filled returns how many cells of the bar are filled.
func (p *ProgressBar) Filled() int {
	if !p.Progress.Known() {
		return 0
	}
	pct := min(max(p.Progress.Percentage, 0), 100)
	return int(pct / 100 * float64(p.Width))
}

// Render returns the styled progress bar string.
func (p *ProgressBar) Render() string {
	emptyStyle := lipgloss.NewStyle().Foreground(tui.ColorFgMuted)
	valStyle := lipgloss.NewStyle().Foreground(tui.ColorFgSecondary)

	var sb strings.Builder
	if p.Label != "" {
		sb.WriteString(valStyle.Render(p.Label))
		sb.WriteString(" ")
	}

	filled := p.Filled()
	sb.WriteString(lipgloss.NewStyle().Foreground(p.Color).Render(strings.Repeat("█", filled)))
	sb.WriteString(emptyStyle.Render(strings.Repeat("░", p.Width-filled)))

	if !p.Progress.Known() {
		sb.WriteString(emptyStyle.Render(" no features"))
		return sb.String()
	}
	if p.ShowLabel {
		sb.WriteString(valStyle.Render(fmt.Sprintf(" %.1f%%", p.Progress.Percentage)))
	}
	if p.ShowValue {
		sb.WriteString(valStyle.Render(fmt.Sprintf(" %d / %d", p.Progress.Passing, p.Progress.Total)))
	}
	return sb.String()
}

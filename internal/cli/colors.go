// Package cli provides shared terminal output helpers for autocoder commands.
package cli

import (
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/drewfead/autocoder/internal/api"
)

// Color and style ANSI codes
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Gray   = "\033[90m"
)

// Status indicators
const (
	CheckMark  = "✓"
	Bullet     = "●"
	Circle     = "○"
	ArrowRight = "→"
	Dash       = "—"
	BarFull    = "█"
	BarEmpty   = "░"
)

// colorsEnabled caches whether colors should be used
var colorsEnabled *bool

// ColorsEnabled returns true if the terminal supports colors.
// Checks if stdout is a terminal and NO_COLOR env var is not set.
func ColorsEnabled() bool {
	if colorsEnabled != nil {
		return *colorsEnabled
	}

	enabled := term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""
	colorsEnabled = &enabled
	return enabled
}

// ForceColors enables or disables colors regardless of terminal detection.
func ForceColors(enabled bool) {
	colorsEnabled = &enabled
}

// Styled wraps text with a style code and reset.
func Styled(text, code string) string {
	if !ColorsEnabled() {
		return text
	}
	return code + text + Reset
}

// Convenience functions for common styles

func Bolden(text string) string     { return Styled(text, Bold) }
func RedText(text string) string    { return Styled(text, Red) }
func GreenText(text string) string  { return Styled(text, Green) }
func YellowText(text string) string { return Styled(text, Yellow) }
func BlueText(text string) string   { return Styled(text, Blue) }
func CyanText(text string) string   { return Styled(text, Cyan) }
func GrayText(text string) string   { return Styled(text, Gray) }

// AgentStatus renders a status label in its color.
func AgentStatus(s api.AgentStatus) string {
	switch s {
	case api.AgentRunning:
		return GreenText(s.Label())
	case api.AgentPaused:
		return YellowText(s.Label())
	case api.AgentCrashed:
		return RedText(s.Label())
	default:
		return GrayText(s.Label())
	}
}

// Outcome renders a journaled command outcome in its color.
func Outcome(outcome string) string {
	switch outcome {
	case "confirmed":
		return GreenText(outcome)
	case "failed", "rejected":
		return RedText(outcome)
	case "unconfirmed":
		return YellowText(outcome)
	default:
		return GrayText(outcome)
	}
}

// Bar renders a width-cell progress bar. Unknown progress is all empty.
func Bar(p api.Progress, width int) string {
	filled := 0
	if p.Known() {
		filled = int(min(max(p.Percentage, 0), 100) / 100 * float64(width))
	}
	return GreenText(strings.Repeat(BarFull, filled)) + GrayText(strings.Repeat(BarEmpty, width-filled))
}

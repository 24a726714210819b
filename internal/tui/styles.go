// Package tui provides the terminal user interface for autocoder.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/drewfead/autocoder/internal/api"
)

// Tokyo Night inspired color palette
var (
	ColorBg          = lipgloss.Color("#1a1b26")
	ColorBgAlt       = lipgloss.Color("#24283b")
	ColorFg          = lipgloss.Color("#c0caf5")
	ColorFgSecondary = lipgloss.Color("#a9b1d6")
	ColorFgMuted     = lipgloss.Color("#565f89")
	ColorSuccess     = lipgloss.Color("#9ece6a")
	ColorInfo        = lipgloss.Color("#7aa2f7")
	ColorWarning     = lipgloss.Color("#e0af68")
	ColorDanger      = lipgloss.Color("#f7768e")
	ColorAccent      = lipgloss.Color("#d4a373")
)

// AgentIcons maps agent status to its indicator.
var AgentIcons = map[api.AgentStatus]string{
	api.AgentRunning: "▐▛▜▌",
	api.AgentPaused:  "▐░░▌",
	api.AgentCrashed: "▐▄▄▌",
	api.AgentStopped: "▐▀▀▌",
}

// AgentStatusColor returns the color for an agent status
func AgentStatusColor(status api.AgentStatus) lipgloss.Color {
	switch status {
	case api.AgentRunning:
		return ColorSuccess
	case api.AgentPaused:
		return ColorWarning
	case api.AgentCrashed:
		return ColorDanger
	default:
		return ColorFgMuted
	}
}

// FeatureStatusColor returns the column color for a feature status
func FeatureStatusColor(status api.FeatureStatus) lipgloss.Color {
	switch status {
	case api.FeatureInProgress:
		return ColorInfo
	case api.FeatureDone:
		return ColorSuccess
	default:
		return ColorWarning
	}
}

// Common styles
var (
	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorFg).
			Bold(true)

	StyleLogo = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	StyleHeader = lipgloss.NewStyle().
			Foreground(ColorFgMuted).
			Bold(true)

	StyleSelected = lipgloss.NewStyle().
			Background(ColorBgAlt).
			Foreground(ColorFg)

	StyleNormal = lipgloss.NewStyle().
			Foreground(ColorFg)

	StyleMuted = lipgloss.NewStyle().
			Foreground(ColorFgMuted)

	StyleAccent = lipgloss.NewStyle().
			Foreground(ColorAccent)

	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning)
	StyleDanger  = lipgloss.NewStyle().Foreground(ColorDanger)

	StyleStatus    = lipgloss.NewStyle().Foreground(ColorFgSecondary)
	StyleStatusMsg = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)

	StyleHelp    = lipgloss.NewStyle().Foreground(ColorFgMuted)
	StyleHelpKey = lipgloss.NewStyle().Foreground(ColorFgSecondary)

	StyleTabActive   = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true).Underline(true)
	StyleTabInactive = lipgloss.NewStyle().Foreground(ColorFgMuted)

	StyleDivider = lipgloss.NewStyle().Foreground(ColorBgAlt)

	StyleBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorFgMuted).
			Padding(1, 2)
)

// AgentStatusStyle returns styled text for an agent status
func AgentStatusStyle(status api.AgentStatus) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(AgentStatusColor(status)).Bold(true)
}

// Logo returns the compact logo
func Logo() string {
	return StyleAccent.Render("▐▛█▜▌")
}

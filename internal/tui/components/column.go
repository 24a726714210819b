package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/drewfead/autocoder/internal/tui"
)

// Column is a bordered kanban column with a counted title.
type Column struct {
	Title       string
	Count       int
	Rows        []string
	Width       int
	Height      int // content lines; 0 = fit rows
	BorderColor lipgloss.Color
	Focused     bool
	More        int // rows hidden below
	Less        int // rows hidden above
}

// NewColumn creates a column with default styling.
func NewColumn(title string, count int, rows ...string) *Column {
	return &Column{
		Title:       title,
		Count:       count,
		Rows:        rows,
		BorderColor: tui.ColorFgMuted,
	}
}

// WithWidth sets the outer width.
func (c *Column) WithWidth(w int) *Column {
	c.Width = w
	return c
}

// WithHeight sets the content height.
func (c *Column) WithHeight(h int) *Column {
	c.Height = h
	return c
}

// WithBorderColor sets the border color.
func (c *Column) WithBorderColor(color lipgloss.Color) *Column {
	c.BorderColor = color
	return c
}

// WithFocused highlights the column.
func (c *Column) WithFocused(focused bool) *Column {
	c.Focused = focused
	return c
}

// WithScroll records hidden rows above and below.
func (c *Column) WithScroll(less, more int) *Column {
	c.Less, c.More = less, more
	return c
}

// Render returns the styled column string.
func (c *Column) Render() string {
	border := c.BorderColor
	if c.Focused {
		border = tui.ColorAccent
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1)
	if c.Width > 0 {
		// Width excludes the border.
		style = style.Width(max(1, c.Width-2))
	}

	var lines []string
	title := lipgloss.NewStyle().Foreground(c.BorderColor).Bold(true).Render(c.Title)
	lines = append(lines, title+tui.StyleMuted.Render(fmt.Sprintf(" (%d)", c.Count)))

	if c.Less > 0 {
		lines = append(lines, tui.StyleMuted.Render(fmt.Sprintf("  ↑ %d more", c.Less)))
	}
	if len(c.Rows) == 0 {
		lines = append(lines, tui.StyleMuted.Render("  —"))
	}
	lines = append(lines, c.Rows...)
	if c.More > 0 {
		lines = append(lines, tui.StyleMuted.Render(fmt.Sprintf("  ↓ %d more", c.More)))
	}

	body := strings.Join(lines, "\n")
	if c.Height > 0 {
		style = style.Height(c.Height)
	}
	return style.Render(body)
}

// Package layout provides sizing helpers for the dashboard.
package layout

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/drewfead/autocoder/internal/tui"
)

// Divider returns a full-width divider line
func Divider(width int) string {
	if width <= 0 {
		width = 80
	}
	return tui.StyleDivider.Render(strings.Repeat("─", width))
}

// SplitWidth divides total into n columns separated by gap cells. Leftover
// cells go to the leftmost columns.
func SplitWidth(total, n, gap int) []int {
	if n <= 0 {
		return nil
	}
	avail := max(n, total-gap*(n-1))
	widths := make([]int, n)
	base, extra := avail/n, avail%n
	for i := range widths {
		widths[i] = base
		if i < extra {
			widths[i]++
		}
	}
	return widths
}

// Truncate shortens s to at most width cells, adding an ellipsis.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

// ContentHeight calculates available content height given terminal dimensions.
// Overhead is header, divider, progress, breathing room, column headers and footer.
func ContentHeight(termHeight int) int {
	const overhead = 7
	return max(1, termHeight-overhead)
}

// PinFooterToBottom ensures footer is pinned to the bottom of the terminal.
// If content is too tall, it truncates from the bottom (preserving header).
func PinFooterToBottom(content, footer string, termHeight int) string {
	contentLines := strings.Split(content, "\n")
	footerLines := strings.Split(footer, "\n")

	paddingNeeded := termHeight - len(contentLines) - len(footerLines)

	if paddingNeeded < 0 {
		keepLines := max(1, termHeight-len(footerLines))
		if keepLines < len(contentLines) {
			contentLines = contentLines[:keepLines]
		}
		paddingNeeded = 0
	}

	var b strings.Builder
	b.WriteString(strings.Join(contentLines, "\n"))
	b.WriteString(strings.Repeat("\n", paddingNeeded+1))
	b.WriteString(strings.Join(footerLines, "\n"))
	return b.String()
}

// ScrollWindow calculates visible range for a scrollable list
type ScrollWindow struct {
	Offset      int
	VisibleRows int
	TotalItems  int
	HasMore     bool
	HasLess     bool
}

// End returns the index after the last visible item.
func (w ScrollWindow) End() int {
	return min(w.TotalItems, w.Offset+w.VisibleRows)
}

// CalculateScrollWindow determines which items are visible given scroll state
func CalculateScrollWindow(totalItems, selected, visibleRows int) ScrollWindow {
	if totalItems == 0 || visibleRows <= 0 {
		return ScrollWindow{}
	}

	offset := 0
	if selected >= visibleRows {
		offset = selected - visibleRows + 1
	}
	maxOffset := max(0, totalItems-visibleRows)
	offset = min(offset, maxOffset)

	return ScrollWindow{
		Offset:      offset,
		VisibleRows: visibleRows,
		TotalItems:  totalItems,
		HasMore:     offset+visibleRows < totalItems,
		HasLess:     offset > 0,
	}
}

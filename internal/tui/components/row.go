package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/tui"
	"github.com/drewfead/autocoder/internal/tui/layout"
)

// MultiLineRow renders a multi-line list item with selection indicator.
type MultiLineRow struct {
	Lines     []string
	Selected  bool
	Indicator string // Selection indicator (e.g., "▌")
}

// NewMultiLineRow creates a multi-line row.
func NewMultiLineRow(lines ...string) *MultiLineRow {
	return &MultiLineRow{
		Lines:     lines,
		Indicator: "▌",
	}
}

// WithSelected marks the row as selected.
func (r *MultiLineRow) WithSelected(selected bool) *MultiLineRow {
	r.Selected = selected
	return r
}

// Render returns the styled row string.
func (r *MultiLineRow) Render() string {
	indicatorStyle := lipgloss.NewStyle().Foreground(tui.ColorAccent).Bold(true)
	emptyIndicator := strings.Repeat(" ", lipgloss.Width(r.Indicator))

	out := make([]string, len(r.Lines))
	for i, line := range r.Lines {
		if i == 0 && r.Selected {
			out[i] = indicatorStyle.Render(r.Indicator) + " " + lipgloss.NewStyle().Bold(true).Render(line)
			continue
		}
		out[i] = emptyIndicator + " " + line
	}
	return strings.Join(out, "\n")
}

// FeatureRow renders a feature inside a kanban column.
type FeatureRow struct {
	Feature  api.Feature
	Width    int
	Selected bool
}

// Render returns the styled two-line row.
func (f *FeatureRow) Render() string {
	textWidth := max(4, f.Width-2)

	id := tui.StyleMuted.Render(fmt.Sprintf("#%d ", f.Feature.ID))
	name := layout.Truncate(f.Feature.Name, textWidth-lipgloss.Width(id))
	line1 := id + tui.StyleNormal.Render(name)

	category := f.Feature.Category
	if category == "" {
		category = "uncategorized"
	}
	line2 := tui.StyleMuted.Render(layout.Truncate(category, textWidth))

	return NewMultiLineRow(line1, line2).WithSelected(f.Selected).Render()
}

// ProjectRow renders a project in the project picker.
type ProjectRow struct {
	Project  api.ProjectSummary
	Active   bool
	Selected bool
}

// Render returns the styled one-line row. Progress is shown only when the
// project has features.
func (p *ProjectRow) Render() string {
	name := p.Project.Name
	if p.Active {
		name = tui.StyleAccent.Render(name + " *")
	}
	line := name
	if p.Project.Stats.Total > 0 {
		line += tui.StyleMuted.Render(fmt.Sprintf("  %d/%d", p.Project.Stats.Passing, p.Project.Stats.Total))
	}
	if !p.Project.HasSpec {
		line += tui.StyleWarning.Render("  no spec")
	}
	return NewMultiLineRow(line).WithSelected(p.Selected).Render()
}

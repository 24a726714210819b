package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/drewfead/autocoder/internal/live"
	"github.com/drewfead/autocoder/internal/tui"
	"github.com/drewfead/autocoder/internal/tui/components"
	"github.com/drewfead/autocoder/internal/tui/layout"
)

// View implements tea.Model
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var content string
	switch m.mode {
	case ModeDetail:
		content = m.renderDetail()
	case ModePicker:
		content = m.renderPicker()
	default:
		content = m.renderBoard()
	}
	return layout.PinFooterToBottom(content, m.renderFooter(), m.height)
}

func (m Model) renderHeader() string {
	parts := []string{tui.Logo(), tui.StyleTitle.Render("autocoder")}
	if m.state.Project == "" {
		parts = append(parts, tui.StyleMuted.Render("no project selected"))
		return strings.Join(parts, "  ")
	}

	status := m.state.View.AgentStatus
	parts = append(parts,
		tui.StyleAccent.Render(m.state.Project),
		tui.AgentStatusStyle(status).Render(tui.AgentIcons[status]+" "+status.Label()),
		m.renderConnection(),
	)

	switch {
	case m.state.Command.Pending != nil:
		parts = append(parts, m.spinner.View()+tui.StyleStatus.Render(fmt.Sprintf("%s pending", m.state.Command.Pending.Command)))
	case m.state.Snapshot.Loading:
		parts = append(parts, m.spinner.View()+tui.StyleMuted.Render("loading"))
	case m.state.Snapshot.Stale:
		parts = append(parts, tui.StyleWarning.Render("cached"))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderConnection() string {
	c := m.state.Connection
	switch c.State {
	case live.Connected:
		return tui.StyleSuccess.Render("● live")
	case live.Connecting:
		return tui.StyleWarning.Render("◌ connecting")
	}
	if c.Attempt > 0 {
		return tui.StyleDanger.Render(fmt.Sprintf("○ offline, retry %d in %s", c.Attempt, c.Delay))
	}
	return tui.StyleMuted.Render("○ offline")
}

func (m Model) renderBoard() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(layout.Divider(m.width))
	b.WriteString("\n")

	if m.state.Project == "" {
		b.WriteString("\n")
		b.WriteString(tui.StyleMuted.Render("  Press tab or o to choose a project"))
		return b.String()
	}

	bar := components.NewProgressBar(m.state.View.Progress).
		WithWidth(max(10, m.width/2)).
		WithShowValue(true).
		WithLabel("Progress")
	b.WriteString(" ")
	b.WriteString(bar.Render())
	b.WriteString("\n\n")
	b.WriteString(m.renderColumns())
	return b.String()
}

func (m Model) renderColumns() string {
	widths := layout.SplitWidth(m.width, len(boardColumns), 1)
	// Border, title and scroll markers take four lines; each row takes two.
	visible := max(1, (layout.ContentHeight(m.height)-4)/2)

	var rendered []string
	for i, col := range boardColumns {
		features := m.columnFeatures(i)
		win := layout.CalculateScrollWindow(len(features), m.selected[i], visible)

		rows := make([]string, 0, win.End()-win.Offset)
		for j := win.Offset; j < win.End(); j++ {
			row := &components.FeatureRow{
				Feature:  features[j],
				Width:    widths[i] - 4,
				Selected: i == m.column && j == m.selected[i],
			}
			rows = append(rows, row.Render())
		}

		column := components.NewColumn(col.title, len(features), rows...).
			WithWidth(widths[i]).
			WithBorderColor(tui.FeatureStatusColor(col.status)).
			WithFocused(i == m.column).
			WithScroll(win.Offset, len(features)-win.End())
		if i > 0 {
			rendered = append(rendered, " ")
		}
		rendered = append(rendered, column.Render())
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m Model) renderDetail() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(layout.Divider(m.width))
	b.WriteString("\n")
	b.WriteString(m.detail.View())
	return b.String()
}

func (m Model) renderPicker() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(layout.Divider(m.width))
	b.WriteString("\n")
	b.WriteString(tui.StyleHeader.Render("  PROJECTS"))
	b.WriteString("\n")

	if len(m.projectList) == 0 {
		b.WriteString(tui.StyleMuted.Render("  No projects. Create one with `autocoder projects create`."))
		return b.String()
	}

	win := layout.CalculateScrollWindow(len(m.projectList), m.pickerSel, layout.ContentHeight(m.height))
	if win.HasLess {
		b.WriteString(tui.StyleMuted.Render(fmt.Sprintf("  ↑ %d more", win.Offset)))
		b.WriteString("\n")
	}
	for i := win.Offset; i < win.End(); i++ {
		row := &components.ProjectRow{
			Project:  m.projectList[i],
			Active:   m.projectList[i].Name == m.state.Project,
			Selected: i == m.pickerSel,
		}
		b.WriteString(row.Render())
		b.WriteString("\n")
	}
	if win.HasMore {
		b.WriteString(tui.StyleMuted.Render(fmt.Sprintf("  ↓ %d more", len(m.projectList)-win.End())))
	}
	return b.String()
}

func (m Model) renderFooter() string {
	var msg string
	switch {
	case m.statusMsg != "":
		msg = tui.StyleStatusMsg.Render(m.statusMsg)
	case m.state.Command.Err != nil:
		msg = tui.StyleDanger.Render(m.state.Command.Err.Error())
	case m.state.Command.Warning != nil:
		msg = tui.StyleWarning.Render(m.state.Command.Warning.Error())
	case m.state.Snapshot.Err != nil:
		msg = tui.StyleDanger.Render("refresh failed: " + m.state.Snapshot.Err.Error())
	case m.projectsErr != nil:
		msg = tui.StyleDanger.Render("projects: " + m.projectsErr.Error())
	}

	lines := []string{layout.Divider(m.width)}
	if msg != "" {
		lines = append(lines, " "+msg)
	}
	lines = append(lines, " "+FormatHelp(m.mode, m.state))
	return strings.Join(lines, "\n")
}

// Package dashboard provides the main TUI dashboard view.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/session"
	"github.com/drewfead/autocoder/internal/tui"
)

const callTimeout = 10 * time.Second

// Controller is the session surface the dashboard drives.
type Controller interface {
	State() session.State
	Watch() (<-chan session.State, func())
	Select(ctx context.Context, project string) error
	Refresh(ctx context.Context) error
	Issue(ctx context.Context, cmd api.Command) error
}

// ProjectLister lists the projects available on the backend.
type ProjectLister interface {
	ListProjects(ctx context.Context) ([]api.ProjectSummary, error)
}

var boardColumns = []struct {
	title  string
	status api.FeatureStatus
}{
	{"Pending", api.FeaturePending},
	{"In Progress", api.FeatureInProgress},
	{"Done", api.FeatureDone},
}

// Model is the dashboard's bubbletea model.
type Model struct {
	ctrl      Controller
	projects  ProjectLister
	updates   <-chan session.State
	stopWatch func()

	state          session.State
	projectList    []api.ProjectSummary
	projectsErr    error
	initialProject string

	mode      Mode
	column    int
	selected  [3]int
	pickerSel int

	detail        viewport.Model
	detailFeature *api.Feature

	spinner spinner.Model
	width   int
	height  int

	statusMsg     string
	statusMsgTime time.Time
}

type (
	stateMsg    session.State
	projectsMsg struct {
		projects []api.ProjectSummary
		err      error
	}
	selectResultMsg struct {
		project string
		err     error
	}
	commandResultMsg struct {
		cmd api.Command
		err error
	}
	refreshResultMsg    struct{ err error }
	markdownRenderedMsg struct {
		featureID int
		content   string
	}
	clearStatusMsg struct{}
)

// New creates a new dashboard model. It starts watching ctrl immediately;
// call Close when the program exits.
func New(ctrl Controller, projects ProjectLister) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(tui.ColorAccent)

	updates, stop := ctrl.Watch()
	return Model{
		ctrl:      ctrl,
		projects:  projects,
		updates:   updates,
		stopWatch: stop,
		state:     ctrl.State(),
		spinner:   sp,
	}
}

// WithInitialProject sets a project to select on startup.
func (m Model) WithInitialProject(project string) Model {
	m.initialProject = project
	return m
}

// Close stops watching the controller.
func (m Model) Close() {
	if m.stopWatch != nil {
		m.stopWatch()
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.spinner.Tick,
		m.waitForState(),
		m.fetchProjects(),
	}
	if m.initialProject != "" {
		cmds = append(cmds, m.selectProject(m.initialProject))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.mode {
		case ModeDetail:
			return m.handleDetailMode(msg)
		case ModePicker:
			return m.handlePickerMode(msg)
		}
		return m.handleBoardMode(msg)

	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg), nil

	case stateMsg:
		m = m.applyState(session.State(msg))
		return m, m.waitForState()

	case projectsMsg:
		return m.handleProjects(msg)

	case selectResultMsg:
		if msg.err != nil {
			cmd := m.showStatus(fmt.Sprintf("Select %s: %v", msg.project, msg.err))
			return m, cmd
		}
		return m, nil

	case commandResultMsg:
		var cmd tea.Cmd
		if msg.err != nil {
			cmd = m.showStatus(msg.err.Error())
		} else {
			cmd = m.showStatus(fmt.Sprintf("%s sent", msg.cmd))
		}
		return m, cmd

	case refreshResultMsg:
		if msg.err != nil {
			cmd := m.showStatus(fmt.Sprintf("Refresh: %v", msg.err))
			return m, cmd
		}
		return m, nil

	case markdownRenderedMsg:
		if m.mode == ModeDetail && m.detailFeature != nil && m.detailFeature.ID == msg.featureID {
			m.detail.SetContent(msg.content)
		}
		return m, nil

	case clearStatusMsg:
		if time.Since(m.statusMsgTime) >= statusTTL {
			m.statusMsg = ""
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

const statusTTL = 2 * time.Second

// showStatus displays a temporary status message
func (m *Model) showStatus(msg string) tea.Cmd {
	m.statusMsg = msg
	m.statusMsgTime = time.Now()
	return tea.Tick(statusTTL, func(time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}

func (m Model) handleWindowSize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height
	m.detail.Width = m.detailWidth()
	m.detail.Height = m.detailHeight()
	return m
}

func (m Model) handleBoardMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Start):
		return m.issue(api.CommandStart)

	case key.Matches(msg, keys.Pause):
		if m.state.View.AgentStatus == api.AgentPaused {
			return m.issue(api.CommandResume)
		}
		return m.issue(api.CommandPause)

	case key.Matches(msg, keys.Stop):
		return m.issue(api.CommandStop)

	case key.Matches(msg, keys.Refresh):
		if m.state.Project == "" {
			cmd := m.showStatus("Select a project first")
			return m, cmd
		}
		return m, m.refresh()

	case key.Matches(msg, keys.NextProject):
		return m.cycleProject(1)

	case key.Matches(msg, keys.PrevProject):
		return m.cycleProject(-1)

	case key.Matches(msg, keys.Picker):
		m.mode = ModePicker
		m.pickerSel = max(0, m.projectIndex(m.state.Project))
		return m, m.fetchProjects()

	case key.Matches(msg, keys.Left):
		m.column = max(0, m.column-1)

	case key.Matches(msg, keys.Right):
		m.column = min(len(boardColumns)-1, m.column+1)

	case key.Matches(msg, keys.Up):
		m.selected[m.column] = max(0, m.selected[m.column]-1)

	case key.Matches(msg, keys.Down):
		if n := len(m.columnFeatures(m.column)); m.selected[m.column] < n-1 {
			m.selected[m.column]++
		}

	case key.Matches(msg, keys.Open):
		if f, ok := m.selectedFeature(); ok {
			return m.openDetail(f)
		}
	}
	return m, nil
}

func (m Model) handleDetailMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Back) {
		m.mode = ModeBoard
		m.detailFeature = nil
		return m, nil
	}
	var cmd tea.Cmd
	m.detail, cmd = m.detail.Update(msg)
	return m, cmd
}

func (m Model) handlePickerMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Back):
		m.mode = ModeBoard
	case key.Matches(msg, keys.Up):
		m.pickerSel = max(0, m.pickerSel-1)
	case key.Matches(msg, keys.Down):
		m.pickerSel = min(max(0, len(m.projectList)-1), m.pickerSel+1)
	case key.Matches(msg, keys.Open):
		if m.pickerSel >= len(m.projectList) {
			return m, nil
		}
		m.mode = ModeBoard
		return m, m.selectProject(m.projectList[m.pickerSel].Name)
	}
	return m, nil
}

func (m Model) handleProjects(msg projectsMsg) (tea.Model, tea.Cmd) {
	m.projectsErr = msg.err
	if msg.err != nil {
		return m, nil
	}
	m.projectList = msg.projects
	m.pickerSel = min(m.pickerSel, max(0, len(m.projectList)-1))

	if m.state.Project == "" && m.initialProject == "" && len(m.projectList) > 0 {
		return m, m.selectProject(m.projectList[0].Name)
	}
	return m, nil
}

// applyState installs a new session state. A project switch resets the
// board; otherwise selections are clamped to the new feature lists.
func (m Model) applyState(s session.State) Model {
	if s.Project != m.state.Project {
		m.column = 0
		m.selected = [3]int{}
		if m.mode == ModeDetail {
			m.mode = ModeBoard
			m.detailFeature = nil
		}
	}
	m.state = s
	for i := range boardColumns {
		n := len(m.columnFeatures(i))
		m.selected[i] = min(m.selected[i], max(0, n-1))
	}
	return m
}

func (m Model) issue(cmd api.Command) (tea.Model, tea.Cmd) {
	if !m.state.CanIssue(cmd) {
		status := m.showStatus(blockedReason(m.state, cmd))
		return m, status
	}
	ctrl := m.ctrl
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return commandResultMsg{cmd: cmd, err: ctrl.Issue(ctx, cmd)}
	}
}

func blockedReason(s session.State, cmd api.Command) string {
	switch {
	case s.Project == "":
		return "Select a project first"
	case s.Command.Busy():
		return fmt.Sprintf("Waiting for %s to take effect", s.Command.Pending.Command)
	default:
		return fmt.Sprintf("Cannot %s while %s", cmd, strings.ToLower(s.View.AgentStatus.Label()))
	}
}

func (m Model) cycleProject(delta int) (tea.Model, tea.Cmd) {
	n := len(m.projectList)
	if n == 0 {
		cmd := m.showStatus("No projects available")
		return m, cmd
	}
	idx := m.projectIndex(m.state.Project)
	switch {
	case idx < 0 && delta > 0:
		idx = 0
	case idx < 0:
		idx = n - 1
	default:
		idx = (idx + delta + n) % n
	}
	return m, m.selectProject(m.projectList[idx].Name)
}

func (m Model) projectIndex(name string) int {
	for i, p := range m.projectList {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (m Model) columnFeatures(i int) []api.Feature {
	list := m.state.View.Features
	if list == nil {
		return nil
	}
	switch boardColumns[i].status {
	case api.FeatureInProgress:
		return list.InProgress
	case api.FeatureDone:
		return list.Done
	default:
		return list.Pending
	}
}

func (m Model) selectedFeature() (api.Feature, bool) {
	features := m.columnFeatures(m.column)
	idx := m.selected[m.column]
	if idx >= len(features) {
		return api.Feature{}, false
	}
	return features[idx], true
}

func (m Model) openDetail(f api.Feature) (tea.Model, tea.Cmd) {
	m.mode = ModeDetail
	m.detailFeature = &f

	content := featureMarkdown(f)
	m.detail = viewport.New(m.detailWidth(), m.detailHeight())
	m.detail.SetContent(content)
	return m, renderMarkdownCmd(f.ID, content, m.detailWidth())
}

func (m Model) detailWidth() int  { return max(20, m.width-4) }
func (m Model) detailHeight() int { return max(3, m.height-5) }

func featureMarkdown(f api.Feature) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", f.Name)
	category := f.Category
	if category == "" {
		category = "uncategorized"
	}
	fmt.Fprintf(&b, "**#%d** · %s · priority %d · %s\n\n", f.ID, category, f.Priority, strings.ReplaceAll(string(f.Status()), "_", " "))
	if f.Description != "" {
		b.WriteString(f.Description)
		b.WriteString("\n\n")
	}
	if len(f.Steps) > 0 {
		b.WriteString("## Steps\n\n")
		for i, step := range f.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}
	return b.String()
}

// Commands

func (m Model) waitForState() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return nil
		}
		return stateMsg(s)
	}
}

func (m Model) fetchProjects() tea.Cmd {
	lister := m.projects
	if lister == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		projects, err := lister.ListProjects(ctx)
		return projectsMsg{projects: projects, err: err}
	}
}

func (m Model) selectProject(name string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return selectResultMsg{project: name, err: ctrl.Select(ctx, name)}
	}
}

func (m Model) refresh() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return refreshResultMsg{err: ctrl.Refresh(ctx)}
	}
}

// renderMarkdownCmd renders a feature description off the update loop.
func renderMarkdownCmd(featureID int, content string, width int) tea.Cmd {
	return func() tea.Msg {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return markdownRenderedMsg{featureID: featureID, content: content}
		}
		out, err := r.Render(content)
		if err != nil {
			return markdownRenderedMsg{featureID: featureID, content: content}
		}
		return markdownRenderedMsg{featureID: featureID, content: out}
	}
}

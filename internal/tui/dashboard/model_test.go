package dashboard

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/control"
	"github.com/drewfead/autocoder/internal/live"
	"github.com/drewfead/autocoder/internal/reconcile"
	"github.com/drewfead/autocoder/internal/session"
)

type fakeController struct {
	mu       sync.Mutex
	state    session.State
	updates  chan session.State
	selected []string
	issued   []api.Command
	refresh  int
}

func newFakeController() *fakeController {
	return &fakeController{updates: make(chan session.State, 1)}
}

func (f *fakeController) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) Watch() (<-chan session.State, func()) {
	return f.updates, func() {}
}

func (f *fakeController) Select(_ context.Context, project string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, project)
	return nil
}

func (f *fakeController) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh++
	return nil
}

func (f *fakeController) Issue(_ context.Context, cmd api.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued = append(f.issued, cmd)
	return nil
}

func feature(id int, name string) api.Feature {
	return api.Feature{ID: id, Name: name, Category: "core"}
}

func demoState(status api.AgentStatus) session.State {
	features := &api.FeatureList{
		Pending: []api.Feature{feature(3, "Export report")},
		Done:    []api.Feature{feature(1, "Login"), feature(2, "Signup")},
	}
	return session.State{
		Project: "demo",
		View: reconcile.View{
			Project:     "demo",
			Features:    features,
			Progress:    api.NewProgress(2, 3),
			AgentStatus: status,
			Connected:   true,
			StatusSeen:  true,
		},
		Connection: live.StateChange{Project: "demo", State: live.Connected},
		Command:    control.State{Project: "demo"},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm, cmd
}

func press(t *testing.T, m Model, k string) (Model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch k {
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		msg = tea.KeyMsg{Type: tea.KeyShiftTab}
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	return update(t, m, msg)
}

func newTestModel(t *testing.T, ctrl *fakeController, state session.State) Model {
	t.Helper()
	m := New(ctrl, nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = update(t, m, stateMsg(state))
	return m
}

func TestStartIssuesCommand(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl, demoState(api.AgentStopped))

	m, cmd := press(t, m, "s")
	if cmd == nil {
		t.Fatal("expected a command")
	}
	msg, ok := cmd().(commandResultMsg)
	if !ok {
		t.Fatalf("expected commandResultMsg, got %T", msg)
	}
	if len(ctrl.issued) != 1 || ctrl.issued[0] != api.CommandStart {
		t.Fatalf("issued = %v, want [start]", ctrl.issued)
	}

	m, _ = update(t, m, msg)
	if m.statusMsg != "start sent" {
		t.Errorf("statusMsg = %q", m.statusMsg)
	}
}

func TestRejectedCommandsNeverReachController(t *testing.T) {
	tests := []struct {
		name   string
		status api.AgentStatus
		key    string
		want   string
	}{
		{"stop while stopped", api.AgentStopped, "x", "Cannot stop while stopped"},
		{"pause while stopped", api.AgentStopped, "p", "Cannot pause while stopped"},
		{"start while running", api.AgentRunning, "s", "Cannot start while running"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController()
			m := newTestModel(t, ctrl, demoState(tt.status))

			m, _ = press(t, m, tt.key)
			if len(ctrl.issued) != 0 {
				t.Fatalf("issued = %v, want none", ctrl.issued)
			}
			if m.statusMsg != tt.want {
				t.Errorf("statusMsg = %q, want %q", m.statusMsg, tt.want)
			}
		})
	}
}

func TestPauseKeyResumesWhenPaused(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl, demoState(api.AgentPaused))

	_, cmd := press(t, m, "p")
	if cmd == nil {
		t.Fatal("expected a command")
	}
	cmd()
	if len(ctrl.issued) != 1 || ctrl.issued[0] != api.CommandResume {
		t.Fatalf("issued = %v, want [resume]", ctrl.issued)
	}
}

func TestCommandsDisabledWhilePending(t *testing.T) {
	ctrl := newFakeController()
	state := demoState(api.AgentRunning)
	state.Command.Pending = &control.Pending{ID: "c1", Project: "demo", Command: api.CommandStop, From: api.AgentRunning}
	m := newTestModel(t, ctrl, state)

	m, _ = press(t, m, "p")
	if len(ctrl.issued) != 0 {
		t.Fatalf("issued = %v, want none", ctrl.issued)
	}
	if !strings.Contains(m.statusMsg, "stop") {
		t.Errorf("statusMsg = %q, want mention of pending stop", m.statusMsg)
	}

	for _, a := range GetAvailableActions(ModeBoard) {
		if len(a.Commands) > 0 && actionEnabled(a, state) {
			t.Errorf("action %q enabled while a command is pending", a.Binding.Help().Desc)
		}
	}
	if !strings.Contains(m.View(), "stop pending") {
		t.Error("header should show the pending command")
	}
}

func TestTabCyclesProjects(t *testing.T) {
	projects := []api.ProjectSummary{{Name: "alpha"}, {Name: "demo"}, {Name: "zeta"}}

	tests := []struct {
		key  string
		want string
	}{
		{"tab", "zeta"},
		{"shift+tab", "alpha"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			ctrl := newFakeController()
			m := newTestModel(t, ctrl, demoState(api.AgentStopped))
			m, cmd := update(t, m, projectsMsg{projects: projects})
			if cmd != nil {
				t.Fatal("should not auto-select when a project is already selected")
			}

			_, cmd = press(t, m, tt.key)
			if cmd == nil {
				t.Fatal("expected a select command")
			}
			cmd()
			if len(ctrl.selected) != 1 || ctrl.selected[0] != tt.want {
				t.Errorf("selected = %v, want [%s]", ctrl.selected, tt.want)
			}
		})
	}
}

func TestFirstProjectSelectedOnLoad(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl, session.State{})

	_, cmd := update(t, m, projectsMsg{projects: []api.ProjectSummary{{Name: "alpha"}, {Name: "beta"}}})
	if cmd == nil {
		t.Fatal("expected a select command")
	}
	cmd()
	if len(ctrl.selected) != 1 || ctrl.selected[0] != "alpha" {
		t.Errorf("selected = %v, want [alpha]", ctrl.selected)
	}
}

func TestPickerSelectsProject(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl, demoState(api.AgentStopped))
	m, _ = update(t, m, projectsMsg{projects: []api.ProjectSummary{{Name: "demo"}, {Name: "other", HasSpec: true}}})

	m, _ = press(t, m, "o")
	if m.mode != ModePicker {
		t.Fatalf("mode = %v, want picker", m.mode)
	}
	if !strings.Contains(m.View(), "other") {
		t.Error("picker should list projects")
	}

	m, _ = press(t, m, "j")
	m, cmd := press(t, m, "enter")
	if m.mode != ModeBoard || cmd == nil {
		t.Fatalf("mode = %v, cmd = %v", m.mode, cmd)
	}
	cmd()
	if len(ctrl.selected) != 1 || ctrl.selected[0] != "other" {
		t.Errorf("selected = %v, want [other]", ctrl.selected)
	}
}

func TestStateClampsSelection(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl, demoState(api.AgentRunning))

	m, _ = press(t, m, "l")
	m, _ = press(t, m, "l")
	m, _ = press(t, m, "j")
	if m.column != 2 || m.selected[2] != 1 {
		t.Fatalf("column = %d, selected = %v", m.column, m.selected)
	}

	shrunk := demoState(api.AgentRunning)
	shrunk.View.Features.Done = shrunk.View.Features.Done[:1]
	m, _ = update(t, m, stateMsg(shrunk))
	if m.selected[2] != 0 {
		t.Errorf("selected = %v, want clamped to 0", m.selected)
	}
}

func TestProjectSwitchClosesDetail(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl, demoState(api.AgentRunning))

	m, cmd := press(t, m, "enter")
	if m.mode != ModeDetail || cmd == nil {
		t.Fatalf("mode = %v, want detail with render command", m.mode)
	}
	if m.detailFeature == nil || m.detailFeature.ID != 3 {
		t.Fatalf("detailFeature = %+v, want #3", m.detailFeature)
	}

	other := demoState(api.AgentStopped)
	other.Project = "other"
	m, _ = update(t, m, stateMsg(other))
	if m.mode != ModeBoard || m.detailFeature != nil {
		t.Errorf("mode = %v, detail should close on project switch", m.mode)
	}
}

func TestMarkdownForOtherFeatureIgnored(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl, demoState(api.AgentRunning))
	m, _ = press(t, m, "enter")

	m, _ = update(t, m, markdownRenderedMsg{featureID: 99, content: "RENDERED-OTHER"})
	if strings.Contains(m.View(), "RENDERED-OTHER") {
		t.Error("render for another feature should be ignored")
	}

	m, _ = update(t, m, markdownRenderedMsg{featureID: 3, content: "RENDERED-MINE"})
	if !strings.Contains(m.View(), "RENDERED-MINE") {
		t.Error("render for the open feature should be shown")
	}

	m, _ = press(t, m, "esc")
	if m.mode != ModeBoard {
		t.Errorf("mode = %v, want board after esc", m.mode)
	}
}

func TestViewShowsBoard(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl, demoState(api.AgentRunning))

	out := m.View()
	for _, want := range []string{"demo", "Running", "live", "66.7%", "2 / 3", "Pending", "In Progress", "Done", "Export report"} {
		if !strings.Contains(out, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestViewShowsReconnectAttempt(t *testing.T) {
	ctrl := newFakeController()
	state := demoState(api.AgentStopped)
	state.View.Connected = false
	state.Connection = live.StateChange{Project: "demo", State: live.Disconnected, Attempt: 3}
	m := newTestModel(t, ctrl, state)

	if !strings.Contains(m.View(), "retry 3") {
		t.Error("View() should show the reconnect attempt")
	}
}

func TestFormatHelp(t *testing.T) {
	board := FormatHelp(ModeBoard, demoState(api.AgentStopped))
	for _, want := range []string{"start", "stop", "refresh", "quit"} {
		if !strings.Contains(board, want) {
			t.Errorf("board help missing %q: %s", want, board)
		}
	}

	detail := FormatHelp(ModeDetail, demoState(api.AgentStopped))
	if !strings.Contains(detail, "back") || strings.Contains(detail, "start") {
		t.Errorf("detail help = %s", detail)
	}
}

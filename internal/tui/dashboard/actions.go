package dashboard

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"

	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/session"
	"github.com/drewfead/autocoder/internal/tui"
)

// Mode is the dashboard's current input mode.
type Mode int

const (
	ModeBoard  Mode = iota // kanban board
	ModeDetail             // feature detail pane
	ModePicker             // project picker
)

type keyMap struct {
	Quit        key.Binding
	Back        key.Binding
	Start       key.Binding
	Pause       key.Binding
	Stop        key.Binding
	Refresh     key.Binding
	NextProject key.Binding
	PrevProject key.Binding
	Picker      key.Binding
	Left        key.Binding
	Right       key.Binding
	Up          key.Binding
	Down        key.Binding
	Open        key.Binding
}

var keys = keyMap{
	Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Back:        key.NewBinding(key.WithKeys("esc", "q"), key.WithHelp("esc", "back")),
	Start:       key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
	Pause:       key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause/resume")),
	Stop:        key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop")),
	Refresh:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	NextProject: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "project")),
	PrevProject: key.NewBinding(key.WithKeys("shift+tab")),
	Picker:      key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "projects")),
	Left:        key.NewBinding(key.WithKeys("h", "left")),
	Right:       key.NewBinding(key.WithKeys("l", "right")),
	Up:          key.NewBinding(key.WithKeys("k", "up")),
	Down:        key.NewBinding(key.WithKeys("j", "down")),
	Open:        key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
}

// Action is a help entry shown in the footer.
type Action struct {
	Binding  key.Binding
	Modes    []Mode        // nil = all modes
	Commands []api.Command // agent commands behind the key; greyed out when none can be issued
}

var allActions = []Action{
	{Binding: keys.Start, Modes: []Mode{ModeBoard}, Commands: []api.Command{api.CommandStart}},
	{Binding: keys.Pause, Modes: []Mode{ModeBoard}, Commands: []api.Command{api.CommandPause, api.CommandResume}},
	{Binding: keys.Stop, Modes: []Mode{ModeBoard}, Commands: []api.Command{api.CommandStop}},
	{Binding: keys.Refresh, Modes: []Mode{ModeBoard}},
	{Binding: keys.Open, Modes: []Mode{ModeBoard, ModePicker}},
	{Binding: keys.NextProject, Modes: []Mode{ModeBoard}},
	{Binding: keys.Picker, Modes: []Mode{ModeBoard}},
	{Binding: keys.Back, Modes: []Mode{ModeDetail, ModePicker}},
	{Binding: keys.Quit, Modes: []Mode{ModeBoard}},
}

// GetAvailableActions returns the actions that apply to mode.
func GetAvailableActions(mode Mode) []Action {
	var result []Action
	for _, a := range allActions {
		if a.Modes != nil && !containsMode(a.Modes, mode) {
			continue
		}
		result = append(result, a)
	}
	return result
}

// FormatHelp generates the help string for the current mode. Agent commands
// that cannot be issued in state are dimmed.
func FormatHelp(mode Mode, state session.State) string {
	var parts []string
	for _, a := range GetAvailableActions(mode) {
		parts = append(parts, formatAction(a, actionEnabled(a, state)))
	}
	return strings.Join(parts, "  ")
}

func actionEnabled(a Action, state session.State) bool {
	if len(a.Commands) == 0 {
		return true
	}
	for _, cmd := range a.Commands {
		if state.CanIssue(cmd) {
			return true
		}
	}
	return false
}

// formatAction formats a single action for help display
func formatAction(a Action, enabled bool) string {
	h := a.Binding.Help()
	k := h.Key
	if k == "enter" {
		k = "⏎"
	}
	if !enabled {
		return tui.StyleMuted.Render("[" + k + "]" + h.Desc)
	}
	return tui.StyleHelpKey.Render("["+k+"]") + tui.StyleHelp.Render(h.Desc)
}

func containsMode(modes []Mode, mode Mode) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

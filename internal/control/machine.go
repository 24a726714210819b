// Package control validates agent lifecycle commands and tracks the one
// command each project may have in flight.
package control

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/clock"
	"github.com/drewfead/autocoder/internal/reconcile"
)

var (
	ErrNoProject      = errors.New("no project selected")
	ErrNotPermitted   = errors.New("command not permitted")
	ErrCommandPending = errors.New("another command is still pending")
	ErrUnconfirmed    = errors.New("command may not have taken effect")
)

// CommandError is a transport failure for an issued command.
type CommandError struct {
	Project string
	Command api.Command
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Command, e.Project, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

var transitions = map[api.AgentStatus][]api.Command{
	api.AgentStopped: {api.CommandStart},
	api.AgentCrashed: {api.CommandStart},
	api.AgentRunning: {api.CommandPause, api.CommandStop},
	api.AgentPaused:  {api.CommandResume, api.CommandStop},
}

// Allowed returns the commands permitted from status.
func Allowed(status api.AgentStatus) []api.Command {
	cmds := transitions[status]
	out := make([]api.Command, len(cmds))
	copy(out, cmds)
	return out
}

// Permits reports whether cmd is valid from status.
func Permits(status api.AgentStatus, cmd api.Command) bool {
	for _, c := range transitions[status] {
		if c == cmd {
			return true
		}
	}
	return false
}

// Target returns the status cmd drives the agent to.
func Target(cmd api.Command) api.AgentStatus {
	switch cmd {
	case api.CommandStart, api.CommandResume:
		return api.AgentRunning
	case api.CommandPause:
		return api.AgentPaused
	default:
		return api.AgentStopped
	}
}

// Pending is the command in flight for a project.
type Pending struct {
	ID        string
	Project   string
	Command   api.Command
	From      api.AgentStatus // status the command was validated against
	Target    api.AgentStatus // status that confirms the command
	StatusSeq uint64          // view status sequence at issue; only later statuses settle the command
	IssuedAt  time.Time
	Sent      bool // transport reported success
}

// OutcomeKind classifies a command transition.
type OutcomeKind string

const (
	OutcomeRejected    OutcomeKind = "rejected"
	OutcomeSent        OutcomeKind = "sent"
	OutcomeFailed      OutcomeKind = "failed"
	OutcomeConfirmed   OutcomeKind = "confirmed"
	OutcomeUnconfirmed OutcomeKind = "unconfirmed"
)

// Outcome records one command transition.
type Outcome struct {
	ID      string
	Project string
	Command api.Command
	Kind    OutcomeKind
	From    api.AgentStatus
	To      api.AgentStatus // status that settled the command, if one did
	Err     error
	At      time.Time
}

// Final reports whether the outcome ends the command's lifecycle.
func (o Outcome) Final() bool {
	return o.Kind != OutcomeSent
}

// State is a read-only copy of the machine.
type State struct {
	Project string
	Pending *Pending
	// Err is the last rejection or transport failure. Cleared by the next
	// accepted command.
	Err error
	// Warning is set when a sent command was never confirmed.
	Warning error
	Last    *Outcome
}

// Busy reports whether a command is in flight.
func (s State) Busy() bool { return s.Pending != nil }

// Machine tracks the pending command of the selected project. It is not safe
// for concurrent use.
type Machine struct {
	clock   clock.Clock
	project string
	pending *Pending
	err     error
	warning error
	last    *Outcome
}

// NewMachine creates a machine with no project selected.
func NewMachine(c clock.Clock) *Machine {
	if c == nil {
		c = clock.Real()
	}
	return &Machine{clock: c}
}

// Reset drops all command state and selects project.
func (m *Machine) Reset(project string) {
	*m = Machine{clock: m.clock, project: project}
}

// Check validates cmd against status without changing state.
func (m *Machine) Check(cmd api.Command, status api.AgentStatus) error {
	if m.project == "" {
		return ErrNoProject
	}
	if m.pending != nil {
		return fmt.Errorf("%w: %s", ErrCommandPending, m.pending.Command)
	}
	if !Permits(status, cmd) {
		return fmt.Errorf("%w: cannot %s while %s", ErrNotPermitted, cmd, status)
	}
	return nil
}

// Begin validates cmd against the view's status and marks it pending. A
// rejected command leaves any pending command untouched.
func (m *Machine) Begin(cmd api.Command, v reconcile.View) (Pending, error) {
	status := v.AgentStatus
	if err := m.Check(cmd, status); err != nil {
		if m.pending == nil {
			m.err = err
		}
		m.record(Outcome{Project: m.project, Command: cmd, Kind: OutcomeRejected, From: status, Err: err})
		return Pending{}, err
	}

	p := &Pending{
		ID:        uuid.NewString(),
		Project:   m.project,
		Command:   cmd,
		From:      status,
		Target:    Target(cmd),
		StatusSeq: v.StatusSeq,
		IssuedAt:  m.clock.Now(),
	}
	m.pending = p
	m.err = nil
	m.warning = nil
	return *p, nil
}

// Sent records the transport result for command id. It reports false when id
// is no longer pending.
func (m *Machine) Sent(id string, err error) bool {
	p := m.pending
	if p == nil || p.ID != id {
		return false
	}
	if err != nil {
		m.pending = nil
		m.err = &CommandError{Project: p.Project, Command: p.Command, Err: err}
		m.record(Outcome{ID: p.ID, Project: p.Project, Command: p.Command, Kind: OutcomeFailed, From: p.From, Err: m.err})
		return true
	}
	p.Sent = true
	m.record(Outcome{ID: p.ID, Project: p.Project, Command: p.Command, Kind: OutcomeSent, From: p.From})
	return true
}

// Observe settles the pending command on the first live status received
// after it was issued. The target status confirms it. A repeat of the status
// it was issued from keeps it pending, and any other status clears it with
// the unconfirmed warning. It reports whether the command was settled. The
// confirmation may arrive before the transport reply.
func (m *Machine) Observe(v reconcile.View) bool {
	p := m.pending
	if p == nil || v.Project != p.Project {
		return false
	}
	if !v.Connected || v.StatusSeq <= p.StatusSeq {
		return false
	}

	switch v.AgentStatus {
	case p.Target:
		m.pending = nil
		m.record(Outcome{ID: p.ID, Project: p.Project, Command: p.Command, Kind: OutcomeConfirmed, From: p.From, To: v.AgentStatus})
	case p.From:
		return false
	default:
		m.pending = nil
		m.warning = fmt.Errorf("%w: %s sent but status became %s", ErrUnconfirmed, p.Command, v.AgentStatus)
		m.record(Outcome{ID: p.ID, Project: p.Project, Command: p.Command, Kind: OutcomeUnconfirmed, From: p.From, To: v.AgentStatus, Err: m.warning})
	}
	return true
}

// Expire clears command id if it is still pending and sets the unconfirmed
// warning.
func (m *Machine) Expire(id string) bool {
	p := m.pending
	if p == nil || p.ID != id {
		return false
	}
	m.pending = nil
	m.warning = fmt.Errorf("%w: %s sent but status is still %s", ErrUnconfirmed, p.Command, p.From)
	m.record(Outcome{ID: p.ID, Project: p.Project, Command: p.Command, Kind: OutcomeUnconfirmed, From: p.From, Err: m.warning})
	return true
}

// State returns a copy of the machine state.
func (m *Machine) State() State {
	s := State{Project: m.project, Err: m.err, Warning: m.warning}
	if m.pending != nil {
		p := *m.pending
		s.Pending = &p
	}
	if m.last != nil {
		o := *m.last
		s.Last = &o
	}
	return s
}

func (m *Machine) record(o Outcome) {
	o.At = m.clock.Now()
	m.last = &o
}

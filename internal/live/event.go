// Package live maintains the per-project WebSocket event stream from the backend.
package live

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/drewfead/autocoder/internal/api"
)

// FeatureChange reports that a feature's state moved on the server.
type FeatureChange struct {
	FeatureID int  `json:"feature_id"`
	Passes    bool `json:"passes"`
}

// Event is one decoded stream message. At least one field is set.
type Event struct {
	Project        string
	Status         *api.AgentStatus
	Progress       *api.Progress
	FeatureChanged *FeatureChange
	Received       time.Time
}

// Empty reports whether the event carries nothing the reconciler uses.
func (e Event) Empty() bool {
	return e.Status == nil && e.Progress == nil && e.FeatureChanged == nil
}

// Message types on the wire.
const (
	MsgProgress      = "progress"
	MsgAgentStatus   = "agent_status"
	MsgFeatureUpdate = "feature_update"
	MsgLog           = "log"
	MsgPong          = "pong"
	MsgPing          = "ping"
)

type wireMessage struct {
	Type string `json:"type"`

	// typed form
	Passing    *int     `json:"passing"`
	Total      *int     `json:"total"`
	Percentage *float64 `json:"percentage"`
	Status     string   `json:"status"`
	FeatureID  *int     `json:"feature_id"`
	Passes     bool     `json:"passes"`
	Line       string   `json:"line"`

	// combined form
	AgentStatus    string         `json:"agent_status"`
	Progress       *api.Progress  `json:"progress"`
	FeatureChanged *FeatureChange `json:"feature_changed"`
}

// Decode parses a stream message for project. ok is false for messages that
// carry no state (log lines, pongs, unknown types).
func Decode(project string, data []byte, now time.Time) (ev Event, ok bool, err error) {
	var m wireMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return Event{}, false, fmt.Errorf("decode stream message: %w", err)
	}

	ev = Event{Project: project, Received: now}

	switch m.Type {
	case MsgProgress:
		if m.Passing == nil || m.Total == nil {
			return Event{}, false, fmt.Errorf("progress message missing passing/total")
		}
		p := wireProgress(*m.Passing, *m.Total, m.Percentage)
		ev.Progress = &p
	case MsgAgentStatus:
		st, err := api.ParseAgentStatus(m.Status)
		if err != nil {
			return Event{}, false, err
		}
		ev.Status = &st
	case MsgFeatureUpdate:
		if m.FeatureID == nil {
			return Event{}, false, fmt.Errorf("feature_update message missing feature_id")
		}
		ev.FeatureChanged = &FeatureChange{FeatureID: *m.FeatureID, Passes: m.Passes}
	case MsgLog, MsgPong:
		return Event{}, false, nil
	case "":
		if m.AgentStatus != "" {
			st, err := api.ParseAgentStatus(m.AgentStatus)
			if err != nil {
				return Event{}, false, err
			}
			ev.Status = &st
		}
		if m.Progress != nil {
			pct := m.Progress.Percentage
			p := wireProgress(m.Progress.Passing, m.Progress.Total, &pct)
			ev.Progress = &p
		}
		ev.FeatureChanged = m.FeatureChanged
	default:
		return Event{}, false, nil
	}

	return ev, !ev.Empty(), nil
}

// wireProgress keeps the server's counts and percentage, filling in the
// percentage when the server left it at zero.
func wireProgress(passing, total int, pct *float64) api.Progress {
	p := api.NewProgress(passing, total)
	if pct != nil && *pct > 0 && *pct <= 100 && p.Passing == passing {
		p.Percentage = *pct
	}
	return p
}

// pingMessage is the keepalive sent to the server.
var pingMessage = []byte(`{"type":"ping"}`)

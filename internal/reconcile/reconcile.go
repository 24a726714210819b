// Package reconcile merges feature snapshots and live stream events into the
// single view the dashboard renders.
package reconcile

import (
	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/live"
)

// View is the reconciled state of the selected project.
type View struct {
	Project      string
	Features     *api.FeatureList // nil until the first snapshot
	Progress     api.Progress
	AgentStatus  api.AgentStatus
	Connected    bool
	StatusSeen   bool // a live status has arrived since selection
	LiveProgress bool // Progress came from the stream rather than the snapshot
	// StatusSeq increases with every live status received, including repeats
	// of the current one.
	StatusSeq uint64
}

// Loaded reports whether a snapshot has been applied.
func (v View) Loaded() bool { return v.Features != nil }

// Merge derives the view from its inputs.
//
// Status comes from the latest live status while connected, and is stopped
// otherwise. Progress comes from the stream when it carries a non-zero total
// and from snapshot counts when it does not. Features always come from the
// snapshot.
func Merge(in Inputs) View {
	v := View{
		Project:     in.Project,
		Features:    in.Snapshot,
		AgentStatus: api.AgentStopped,
		Connected:   in.Connected,
		StatusSeen:  in.Status != nil,
		StatusSeq:   in.StatusSeq,
	}

	if in.Connected && in.Status != nil {
		v.AgentStatus = *in.Status
	}

	if in.Progress != nil && in.Progress.Known() {
		p := api.NewProgress(in.Progress.Passing, in.Progress.Total)
		if in.Progress.Percentage > 0 && in.Progress.Passing <= in.Progress.Total {
			p.Percentage = in.Progress.Percentage
		}
		v.Progress = p
		v.LiveProgress = true
	} else {
		v.Progress = api.ProgressFromFeatures(in.Snapshot)
	}

	return v
}

// Reconciler owns the input log of the selected project. It is not safe for
// concurrent use; the session drives it from a single goroutine.
type Reconciler struct {
	limit  int
	log    *Log
	inputs Inputs
	view   View
}

// New creates a reconciler with no project selected. logLimit bounds the
// uncompacted log; <= 0 uses DefaultLogLimit.
func New(logLimit int) *Reconciler {
	r := &Reconciler{limit: logLimit}
	r.Reset("")
	return r
}

// Reset discards all inputs and starts a fresh log for project.
func (r *Reconciler) Reset(project string) {
	r.log = NewLog(project, r.limit)
	r.inputs = Inputs{Project: project}
	r.view = Merge(r.inputs)
}

// Project returns the selected project.
func (r *Reconciler) Project() string { return r.log.Project() }

// View returns the current view.
func (r *Reconciler) View() View { return r.view }

// Log returns the input log.
func (r *Reconciler) Log() *Log { return r.log }

// ApplySnapshot records a snapshot for project. It reports false when project
// is not the selected one.
func (r *Reconciler) ApplySnapshot(project string, list *api.FeatureList) bool {
	if !r.owns(project) || list == nil {
		return false
	}
	r.append(Entry{Kind: EntrySnapshot, Snapshot: list})
	return true
}

// EventResult is the outcome of applying a live event.
type EventResult struct {
	Applied bool
	// NeedsRefresh is set when the event reports a feature change that only a
	// new snapshot can show.
	NeedsRefresh bool
}

// ApplyEvent records a live event.
func (r *Reconciler) ApplyEvent(ev live.Event) EventResult {
	if !r.owns(ev.Project) || ev.Empty() {
		return EventResult{}
	}
	r.append(Entry{Kind: EntryEvent, Event: ev, At: ev.Received})
	return EventResult{Applied: true, NeedsRefresh: ev.FeatureChanged != nil}
}

// ApplyConnection records a connection state change.
func (r *Reconciler) ApplyConnection(project string, connected bool) bool {
	if !r.owns(project) {
		return false
	}
	r.append(Entry{Kind: EntryConnection, Connected: connected})
	return true
}

func (r *Reconciler) owns(project string) bool {
	return project != "" && project == r.log.Project()
}

func (r *Reconciler) append(e Entry) {
	r.log.Append(e)
	r.inputs = apply(r.inputs, e)
	r.view = Merge(r.inputs)
}

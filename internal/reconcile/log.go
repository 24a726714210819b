package reconcile

import (
	"time"

	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/live"
)

// EntryKind identifies what an entry carries.
type EntryKind int

const (
	EntrySnapshot EntryKind = iota
	EntryEvent
	EntryConnection
)

func (k EntryKind) String() string {
	switch k {
	case EntrySnapshot:
		return "snapshot"
	case EntryEvent:
		return "event"
	case EntryConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// Entry is one input to a project's view.
type Entry struct {
	Seq       int64
	Kind      EntryKind
	Snapshot  *api.FeatureList // EntrySnapshot
	Event     live.Event       // EntryEvent
	Connected bool             // EntryConnection
	At        time.Time
}

// Inputs is the folded state of a log: the latest value of each input.
type Inputs struct {
	Project   string
	Snapshot  *api.FeatureList
	Status    *api.AgentStatus // latest live status since selection
	Progress  *api.Progress    // latest live progress since selection
	Connected bool
	StatusSeq uint64 // number of live statuses applied since selection
}

// Fold applies entries to base in order. Every field is last-writer-wins
// except StatusSeq, which counts, so folding a prefix into a checkpoint and
// then the rest gives the same result as folding everything at once.
func Fold(base Inputs, entries []Entry) Inputs {
	in := base
	for _, e := range entries {
		in = apply(in, e)
	}
	return in
}

func apply(in Inputs, e Entry) Inputs {
	switch e.Kind {
	case EntrySnapshot:
		if e.Snapshot != nil {
			in.Snapshot = e.Snapshot
		}
	case EntryEvent:
		if e.Event.Status != nil {
			st := *e.Event.Status
			in.Status = &st
			in.StatusSeq++
		}
		if e.Event.Progress != nil {
			p := *e.Event.Progress
			in.Progress = &p
		}
	case EntryConnection:
		in.Connected = e.Connected
	}
	return in
}

// DefaultLogLimit is the number of entries kept before compaction.
const DefaultLogLimit = 256

// Log is the append-only input log for one project selection.
type Log struct {
	project    string
	limit      int
	next       int64
	checkpoint Inputs
	compacted  int64 // entries folded into checkpoint
	entries    []Entry
}

// NewLog creates an empty log for project. A limit <= 0 uses DefaultLogLimit.
func NewLog(project string, limit int) *Log {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	return &Log{
		project:    project,
		limit:      limit,
		checkpoint: Inputs{Project: project},
	}
}

// Project returns the project the log belongs to.
func (l *Log) Project() string { return l.project }

// Append assigns the next sequence number to e and stores it, compacting the
// oldest half of the log into the checkpoint once the limit is exceeded.
func (l *Log) Append(e Entry) int64 {
	e.Seq = l.next
	l.next++
	l.entries = append(l.entries, e)

	if len(l.entries) > l.limit {
		cut := len(l.entries) / 2
		l.checkpoint = Fold(l.checkpoint, l.entries[:cut])
		l.compacted += int64(cut)
		kept := make([]Entry, len(l.entries)-cut, l.limit+1)
		copy(kept, l.entries[cut:])
		l.entries = kept
	}
	return e.Seq
}

// Entries returns the entries since the last checkpoint.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries appended over the log's lifetime.
func (l *Log) Len() int64 { return l.next }

// Compacted returns how many entries have been folded into the checkpoint.
func (l *Log) Compacted() int64 { return l.compacted }

// Inputs folds the checkpoint and live entries.
func (l *Log) Inputs() Inputs {
	return Fold(l.checkpoint, l.entries)
}

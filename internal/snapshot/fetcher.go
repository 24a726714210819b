// Package snapshot keeps the last-known-good feature list of the selected
// project and coalesces refetches.
package snapshot

import (
	"context"
	"time"

	"github.com/drewfead/autocoder/internal/api"
)

// Source fetches a project's feature list.
type Source interface {
	ListFeatures(ctx context.Context, project string) (*api.FeatureList, error)
}

// Ticket identifies one fetch. Results carrying an old generation are ignored.
type Ticket struct {
	Project string
	Gen     uint64
}

// Status is the fetcher's load state.
type Status struct {
	Project   string
	Loading   bool
	Err       error // last fetch error; the data, if any, is last-known-good
	FetchedAt time.Time
	Stale     bool // data came from the cache and has not been refreshed yet
}

// Fetcher owns the snapshot of the selected project. It is not safe for
// concurrent use: Request and Complete are called from the session loop and
// only Fetch runs elsewhere.
type Fetcher struct {
	source Source

	project   string
	gen       uint64
	inFlight  bool
	again     bool
	data      *api.FeatureList
	fetchedAt time.Time
	stale     bool
	err       error
}

// New creates a fetcher with no project selected.
func New(source Source) *Fetcher {
	return &Fetcher{source: source}
}

// Reset selects project and drops all data. In-flight fetches for the
// previous selection will be ignored when they complete.
func (f *Fetcher) Reset(project string) {
	f.gen++
	f.project = project
	f.inFlight = false
	f.again = false
	f.data = nil
	f.fetchedAt = time.Time{}
	f.stale = false
	f.err = nil
}

// Project returns the selected project.
func (f *Fetcher) Project() string { return f.project }

// Seed installs cached data fetched at at. It is ignored once fresh data exists.
func (f *Fetcher) Seed(list *api.FeatureList, at time.Time) bool {
	if f.project == "" || list == nil || (f.data != nil && !f.stale) {
		return false
	}
	f.data = list
	f.fetchedAt = at
	f.stale = true
	return true
}

// Request asks for a refetch. It returns a ticket when the caller should
// start a fetch, and false when nothing is selected or a fetch is already in
// flight; in the latter case the fetch is repeated once it completes.
func (f *Fetcher) Request() (Ticket, bool) {
	if f.project == "" {
		return Ticket{}, false
	}
	if f.inFlight {
		f.again = true
		return Ticket{}, false
	}
	f.inFlight = true
	return Ticket{Project: f.project, Gen: f.gen}, true
}

// Fetch performs the network request for t.
func (f *Fetcher) Fetch(ctx context.Context, t Ticket) (*api.FeatureList, error) {
	return f.source.ListFeatures(ctx, t.Project)
}

// Complete records the result of t at now. applied is false when t belongs
// to a previous selection. again reports that another request arrived while
// t was in flight and the caller should Request again.
//
// A failed fetch keeps the last-known-good data.
func (f *Fetcher) Complete(t Ticket, list *api.FeatureList, err error, now time.Time) (applied, again bool) {
	if t.Gen != f.gen || t.Project != f.project {
		return false, false
	}
	f.inFlight = false
	again = f.again
	f.again = false

	if err != nil {
		f.err = err
		return true, again
	}
	if list == nil {
		list = &api.FeatureList{}
	}
	f.data = list
	f.fetchedAt = now
	f.stale = false
	f.err = nil
	return true, again
}

// Data returns the last-known-good list, or nil.
func (f *Fetcher) Data() *api.FeatureList { return f.data }

// Status returns the load state.
func (f *Fetcher) Status() Status {
	return Status{
		Project:   f.project,
		Loading:   f.inFlight,
		Err:       f.err,
		FetchedAt: f.fetchedAt,
		Stale:     f.stale,
	}
}

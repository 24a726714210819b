// Package session owns the selected project and runs every state change
// for it on one goroutine.
//
// Network and disk I/O run in their own goroutines and post results back to
// the loop tagged with the selection generation. Results for an earlier
// selection are dropped, so switching projects never shows data from the
// project that was left.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/clock"
	"github.com/drewfead/autocoder/internal/control"
	"github.com/drewfead/autocoder/internal/live"
	"github.com/drewfead/autocoder/internal/logging"
	"github.com/drewfead/autocoder/internal/reconcile"
	"github.com/drewfead/autocoder/internal/snapshot"
)

// ErrClosed is returned by calls made after Run has returned.
var ErrClosed = errors.New("session closed")

// Transport issues agent commands to the backend.
type Transport interface {
	SendCommand(ctx context.Context, project string, cmd api.Command) error
}

// Subscriber streams live events for a project until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, project string, h live.Handler)
}

// Cache persists the last-known-good snapshot per project.
type Cache interface {
	LoadSnapshot(ctx context.Context, project string) (*api.FeatureList, time.Time, error)
	SaveSnapshot(ctx context.Context, project string, list *api.FeatureList, fetchedAt time.Time) error
}

// Journal records command outcomes.
type Journal interface {
	RecordOutcome(ctx context.Context, o control.Outcome) error
}

// Options configures a Session. Source and Transport are required.
type Options struct {
	Source     snapshot.Source
	Transport  Transport
	Subscriber Subscriber // nil disables the live stream
	Cache      Cache      // optional
	Journal    Journal    // optional
	Clock      clock.Clock

	RefreshInterval time.Duration // background revalidation; 0 disables
	ConfirmTimeout  time.Duration
	CommandTimeout  time.Duration
	LogLimit        int
}

// State is a read-only copy of the session.
type State struct {
	Project    string
	View       reconcile.View
	Connection live.StateChange
	Snapshot   snapshot.Status
	Command    control.State
}

// CanIssue reports whether cmd would pass validation right now. Every
// command is disabled while another one is pending.
func (s State) CanIssue(cmd api.Command) bool {
	return s.Project != "" && !s.Command.Busy() && control.Permits(s.View.AgentStatus, cmd)
}

// Session is the selection context for one dashboard.
type Session struct {
	opts Options
	log  *slog.Logger

	inbox   chan func()
	persist chan func(context.Context)
	done    chan struct{}
	runCtx  context.Context

	// Owned by the loop.
	gen          uint64
	project      string
	selCtx       context.Context
	selCancel    context.CancelFunc
	fetcher      *snapshot.Fetcher
	rec          *reconcile.Reconciler
	machine      *control.Machine
	conn         live.StateChange
	refreshTimer clock.Timer
	confirmTimer clock.Timer

	mu       sync.RWMutex
	state    State
	watchers map[chan State]struct{}
}

// New creates a session. Call Run to start processing.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 15 * time.Second
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 10 * time.Second
	}

	s := &Session{
		opts:     opts,
		log:      logging.Component("session"),
		inbox:    make(chan func(), 64),
		persist:  make(chan func(context.Context), 64),
		done:     make(chan struct{}),
		fetcher:  snapshot.New(opts.Source),
		rec:      reconcile.New(opts.LogLimit),
		machine:  control.NewMachine(opts.Clock),
		watchers: make(map[chan State]struct{}),
	}
	s.state = s.snapshotState()
	return s
}

// Run processes session work until ctx is cancelled. It must be called once.
func (s *Session) Run(ctx context.Context) error {
	s.runCtx = ctx

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.persistLoop(ctx)
	}()

	defer func() {
		s.teardown()
		close(s.done)
		wg.Wait()
		s.log.Debug("session stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-s.inbox:
			fn()
		}
	}
}

// post queues fn on the loop. It reports false once the session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (s *Session) call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case s.inbox <- func() { fn(); close(ran) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Select switches to project, returning once the switch has been applied.
// Data and events for the previous project are discarded. An empty name
// deselects.
func (s *Session) Select(ctx context.Context, project string) error {
	if project != "" {
		if err := api.ValidateProjectName(project); err != nil {
			return err
		}
	}
	return s.call(ctx, func() { s.selectProject(project) })
}

// Deselect clears the selection.
func (s *Session) Deselect(ctx context.Context) error {
	return s.Select(ctx, "")
}

// Refresh requests a new snapshot of the selected project.
func (s *Session) Refresh(ctx context.Context) error {
	var err error
	if callErr := s.call(ctx, func() {
		if s.project == "" {
			err = control.ErrNoProject
			return
		}
		s.requestFetch()
		s.publish()
	}); callErr != nil {
		return callErr
	}
	return err
}

// Issue validates cmd against the current view and sends it. The returned
// error is the validation result; the transport result and confirmation are
// reported through State().Command.
func (s *Session) Issue(ctx context.Context, cmd api.Command) error {
	var err error
	if callErr := s.call(ctx, func() { err = s.issue(cmd) }); callErr != nil {
		return callErr
	}
	return err
}

func (s *Session) Start(ctx context.Context) error  { return s.Issue(ctx, api.CommandStart) }
func (s *Session) Stop(ctx context.Context) error   { return s.Issue(ctx, api.CommandStop) }
func (s *Session) Pause(ctx context.Context) error  { return s.Issue(ctx, api.CommandPause) }
func (s *Session) Resume(ctx context.Context) error { return s.Issue(ctx, api.CommandResume) }

// State returns the latest published state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Watch returns a channel that always holds the latest state. Intermediate
// states may be skipped. Call the returned func to stop watching.
func (s *Session) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	ch <- s.state
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.watchers, ch)
		s.mu.Unlock()
	}
}

// Loop-side operations.

func (s *Session) selectProject(project string) {
	s.teardown()
	s.gen++
	s.project = project
	s.fetcher.Reset(project)
	s.rec.Reset(project)
	s.machine.Reset(project)
	s.conn = live.StateChange{Project: project, State: live.Disconnected}

	if project == "" {
		s.log.Info("project deselected")
		s.publish()
		return
	}
	s.log.Info("project selected", "project", project, "generation", s.gen)

	s.selCtx, s.selCancel = context.WithCancel(s.runCtx)
	s.loadCache()
	s.requestFetch()
	if s.opts.Subscriber != nil {
		h := &handler{s: s, gen: s.gen}
		go s.opts.Subscriber.Subscribe(s.selCtx, project, h)
	}
	s.scheduleRefresh()
	s.publish()
}

func (s *Session) teardown() {
	if s.selCancel != nil {
		s.selCancel()
		s.selCancel = nil
	}
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	if s.confirmTimer != nil {
		s.confirmTimer.Stop()
		s.confirmTimer = nil
	}
}

func (s *Session) requestFetch() {
	t, ok := s.fetcher.Request()
	if !ok {
		return
	}
	ctx := s.selCtx
	go func() {
		list, err := s.fetcher.Fetch(ctx, t)
		s.post(func() { s.onFetched(t, list, err) })
	}()
}

func (s *Session) onFetched(t snapshot.Ticket, list *api.FeatureList, err error) {
	applied, again := s.fetcher.Complete(t, list, err, s.opts.Clock.Now())
	if !applied {
		return
	}
	if err != nil {
		s.log.Warn("snapshot fetch failed", "project", t.Project, "error", err)
	} else {
		list = s.fetcher.Data()
		s.rec.ApplySnapshot(t.Project, list)
		s.saveCache(t.Project, list)
		s.observe()
	}
	if again {
		s.requestFetch()
	}
	s.publish()
}

// scheduleRefresh arms the background refresh. It runs on a fixed cadence;
// other fetches do not push it back.
func (s *Session) scheduleRefresh() {
	if s.opts.RefreshInterval <= 0 {
		return
	}
	gen := s.gen
	s.refreshTimer = s.opts.Clock.AfterFunc(s.opts.RefreshInterval, func() {
		s.post(func() {
			if gen != s.gen {
				return
			}
			s.requestFetch()
			s.scheduleRefresh()
			s.publish()
		})
	})
}

func (s *Session) onEvent(ev live.Event) {
	res := s.rec.ApplyEvent(ev)
	if !res.Applied {
		return
	}
	if res.NeedsRefresh {
		s.requestFetch()
	}
	s.observe()
	s.publish()
}

func (s *Session) onState(sc live.StateChange) {
	s.conn = sc
	switch sc.State {
	case live.Connected:
		s.rec.ApplyConnection(s.project, true)
		// Anything could have changed while the stream was down.
		s.requestFetch()
	case live.Disconnected:
		s.rec.ApplyConnection(s.project, false)
	}
	s.observe()
	s.publish()
}

func (s *Session) issue(cmd api.Command) error {
	p, err := s.machine.Begin(cmd, s.rec.View())
	if err != nil {
		if last := s.machine.State().Last; last != nil {
			s.journal(*last)
		}
		s.publish()
		return err
	}
	s.log.Info("issuing command", "project", p.Project, "command", p.Command, "from", p.From, "id", p.ID)

	gen := s.gen
	ctx, timeout := s.runCtx, s.opts.CommandTimeout
	go func() {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := s.opts.Transport.SendCommand(cctx, p.Project, p.Command)
		s.post(func() { s.onSent(gen, p, err) })
	}()

	s.publish()
	return nil
}

func (s *Session) onSent(gen uint64, p control.Pending, err error) {
	if gen != s.gen || !s.machine.Sent(p.ID, err) {
		return
	}
	st := s.machine.State()
	if st.Last != nil {
		s.journal(*st.Last)
	}

	if err != nil {
		logging.CaptureError(err, "project", p.Project, "command", p.Command)
	} else if st.Pending != nil {
		id := p.ID
		s.confirmTimer = s.opts.Clock.AfterFunc(s.opts.ConfirmTimeout, func() {
			s.post(func() { s.expire(gen, id) })
		})
	}
	s.publish()
}

func (s *Session) expire(gen uint64, id string) {
	if gen != s.gen || !s.machine.Expire(id) {
		return
	}
	st := s.machine.State()
	s.log.Warn("command unconfirmed", "project", s.project, "id", id, "warning", st.Warning)
	if st.Last != nil {
		s.journal(*st.Last)
	}
	s.publish()
}

// observe lets the control machine settle its pending command.
func (s *Session) observe() {
	if !s.machine.Observe(s.rec.View()) {
		return
	}
	if s.confirmTimer != nil {
		s.confirmTimer.Stop()
		s.confirmTimer = nil
	}
	last := s.machine.State().Last
	if last == nil {
		return
	}
	if last.Kind == control.OutcomeConfirmed {
		s.log.Info("command confirmed", "project", last.Project, "command", last.Command, "status", last.To)
	} else {
		s.log.Warn("command unconfirmed", "project", last.Project, "command", last.Command, "status", last.To, "warning", last.Err)
	}
	s.journal(*last)
}

func (s *Session) snapshotState() State {
	return State{
		Project:    s.project,
		View:       s.rec.View(),
		Connection: s.conn,
		Snapshot:   s.fetcher.Status(),
		Command:    s.machine.State(),
	}
}

func (s *Session) publish() {
	st := s.snapshotState()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

// handler forwards stream callbacks to the loop for one selection.
type handler struct {
	s   *Session
	gen uint64
}

func (h *handler) OnEvent(ev live.Event) {
	h.s.post(func() {
		if h.gen == h.s.gen {
			h.s.onEvent(ev)
		}
	})
}

func (h *handler) OnState(sc live.StateChange) {
	h.s.post(func() {
		if h.gen == h.s.gen {
			h.s.onState(sc)
		}
	})
}

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/clock"
	"github.com/drewfead/autocoder/internal/control"
	"github.com/drewfead/autocoder/internal/live"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type fakeSource struct {
	mu    sync.Mutex
	lists map[string]*api.FeatureList
	errs  map[string]error
	gates map[string]chan struct{}
	calls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		lists: make(map[string]*api.FeatureList),
		errs:  make(map[string]error),
		gates: make(map[string]chan struct{}),
		calls: make(map[string]int),
	}
}

func (f *fakeSource) set(project string, list *api.FeatureList, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[project] = list
	f.errs[project] = err
}

func (f *fakeSource) gate(project string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := make(chan struct{})
	f.gates[project] = g
	return g
}

func (f *fakeSource) count(project string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[project]
}

func (f *fakeSource) ListFeatures(ctx context.Context, project string) (*api.FeatureList, error) {
	f.mu.Lock()
	f.calls[project]++
	g := f.gates[project]
	f.mu.Unlock()

	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists[project], f.errs[project]
}

type sentCommand struct {
	project string
	cmd     api.Command
}

type fakeTransport struct {
	mu    sync.Mutex
	err   error
	gate  chan struct{}
	calls []sentCommand
}

func (f *fakeTransport) SendCommand(ctx context.Context, project string, cmd api.Command) error {
	f.mu.Lock()
	f.calls = append(f.calls, sentCommand{project, cmd})
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeTransport) sent() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentCommand, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakeSubscriber hands the test the handler for each subscription.
type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]live.Handler
	active   map[string]bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: make(map[string]live.Handler), active: make(map[string]bool)}
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, project string, h live.Handler) {
	f.mu.Lock()
	f.handlers[project] = h
	f.active[project] = true
	f.mu.Unlock()

	<-ctx.Done()

	f.mu.Lock()
	f.active[project] = false
	f.mu.Unlock()
}

func (f *fakeSubscriber) handler(t *testing.T, project string) live.Handler {
	t.Helper()
	var h live.Handler
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		h = f.handlers[project]
		return h != nil && f.active[project]
	}, waitFor, tick, "no subscription for %s", project)
	return h
}

func (f *fakeSubscriber) isActive(project string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[project]
}

type fakeJournal struct {
	mu       sync.Mutex
	outcomes []control.Outcome
}

func (f *fakeJournal) RecordOutcome(ctx context.Context, o control.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o)
	return nil
}

func (f *fakeJournal) kinds() []control.OutcomeKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []control.OutcomeKind
	for _, o := range f.outcomes {
		out = append(out, o.Kind)
	}
	return out
}

type fakeCache struct {
	mu    sync.Mutex
	lists map[string]*api.FeatureList
	saved map[string]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{lists: make(map[string]*api.FeatureList), saved: make(map[string]int)}
}

func (f *fakeCache) LoadSnapshot(ctx context.Context, project string) (*api.FeatureList, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lists[project]
	if !ok {
		return nil, time.Time{}, errors.New("not cached")
	}
	return l, time.Unix(1, 0), nil
}

func (f *fakeCache) SaveSnapshot(ctx context.Context, project string, list *api.FeatureList, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[project] = list
	f.saved[project]++
	return nil
}

func (f *fakeCache) saves(project string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[project]
}

type harness struct {
	s         *Session
	source    *fakeSource
	transport *fakeTransport
	sub       *fakeSubscriber
	journal   *fakeJournal
	cache     *fakeCache
	clock     *clock.Fake
}

func newHarness(t *testing.T, tweak ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		source:    newFakeSource(),
		transport: &fakeTransport{},
		sub:       newFakeSubscriber(),
		journal:   &fakeJournal{},
		cache:     newFakeCache(),
		clock:     clock.NewFake(time.Unix(1000, 0)),
	}
	opts := Options{
		Source:         h.source,
		Transport:      h.transport,
		Subscriber:     h.sub,
		Journal:        h.journal,
		Cache:          h.cache,
		Clock:          h.clock,
		ConfirmTimeout: 15 * time.Second,
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	h.s = New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// sync waits until everything already posted to the loop has run.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.call(context.Background(), func() {}))
}

func (h *harness) selectProject(t *testing.T, project string) {
	t.Helper()
	require.NoError(t, h.s.Select(context.Background(), project))
}

// connect brings the stream for project up with the given status.
func (h *harness) connect(t *testing.T, project string, status api.AgentStatus) live.Handler {
	t.Helper()
	hd := h.sub.handler(t, project)
	hd.OnState(live.StateChange{Project: project, State: live.Connected})
	hd.OnEvent(live.Event{Project: project, Status: &status})
	h.sync(t)
	require.Equal(t, status, h.s.State().View.AgentStatus)
	return hd
}

func features(pending, done int) *api.FeatureList {
	l := &api.FeatureList{}
	for i := 0; i < pending; i++ {
		l.Pending = append(l.Pending, api.Feature{ID: i + 1})
	}
	for i := 0; i < done; i++ {
		l.Done = append(l.Done, api.Feature{ID: pending + i + 1, Passes: true})
	}
	return l
}

func statusEvent(project string, st api.AgentStatus) live.Event {
	return live.Event{Project: project, Status: &st}
}

func TestSelectLoadsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.source.set("demo", features(1, 2), nil)

	h.selectProject(t, "demo")
	require.Equal(t, "demo", h.s.State().Project)

	require.Eventually(t, func() bool { return h.s.State().View.Loaded() }, waitFor, tick)
	st := h.s.State()
	require.Equal(t, api.Progress{Passing: 2, Total: 3, Percentage: 66.7}, st.View.Progress)
	require.Equal(t, api.AgentStopped, st.View.AgentStatus)
	require.False(t, st.View.Connected)
	require.False(t, st.Snapshot.Loading)

	require.Eventually(t, func() bool { return h.cache.saves("demo") == 1 }, waitFor, tick)
}

func TestSelectRejectsInvalidName(t *testing.T) {
	h := newHarness(t)
	require.Error(t, h.s.Select(context.Background(), "../etc"))
	require.Equal(t, "", h.s.State().Project)
}

func TestProjectSwitchDropsOldMessages(t *testing.T) {
	h := newHarness(t)
	gateA := h.source.gate("a")
	h.source.set("a", features(0, 9), nil)
	h.source.set("b", features(1, 0), nil)

	h.selectProject(t, "a")
	oldHandler := h.sub.handler(t, "a")

	h.selectProject(t, "b")
	require.Eventually(t, func() bool { return !h.sub.isActive("a") }, waitFor, tick, "subscription for a should be torn down")

	running := api.AgentRunning
	oldHandler.OnState(live.StateChange{Project: "a", State: live.Connected})
	oldHandler.OnEvent(live.Event{Project: "a", Status: &running, Progress: &api.Progress{Passing: 5, Total: 5}})
	close(gateA)
	h.sync(t)

	require.Eventually(t, func() bool { return h.s.State().View.Loaded() }, waitFor, tick)
	st := h.s.State()
	require.Equal(t, "b", st.View.Project)
	require.Equal(t, api.AgentStopped, st.View.AgentStatus)
	require.False(t, st.View.Connected)
	require.Equal(t, api.Progress{Passing: 0, Total: 1, Percentage: 0}, st.View.Progress)
}

func TestStopPendingUntilConfirmed(t *testing.T) {
	h := newHarness(t)
	h.source.set("demo", features(1, 1), nil)
	h.selectProject(t, "demo")
	hd := h.connect(t, "demo", api.AgentRunning)

	require.NoError(t, h.s.Stop(context.Background()))
	st := h.s.State()
	require.NotNil(t, st.Command.Pending)
	require.Equal(t, api.CommandStop, st.Command.Pending.Command)
	require.False(t, st.CanIssue(api.CommandPause), "controls disabled while pending")

	require.Eventually(t, func() bool {
		p := h.s.State().Command.Pending
		return p != nil && p.Sent
	}, waitFor, tick)
	require.Equal(t, []sentCommand{{"demo", api.CommandStop}}, h.transport.sent())
	require.Equal(t, api.AgentRunning, h.s.State().View.AgentStatus, "status never changes optimistically")

	hd.OnEvent(statusEvent("demo", api.AgentStopped))
	h.sync(t)

	st = h.s.State()
	require.Nil(t, st.Command.Pending)
	require.Equal(t, api.AgentStopped, st.View.AgentStatus)
	require.Equal(t, 0, h.clock.Pending(), "confirmation timer stopped")
	require.Eventually(t, func() bool {
		k := h.journal.kinds()
		return len(k) == 2 && k[0] == control.OutcomeSent && k[1] == control.OutcomeConfirmed
	}, waitFor, tick)
}

func TestUnexpectedStatusDoesNotConfirm(t *testing.T) {
	h := newHarness(t)
	h.source.set("demo", features(1, 1), nil)
	h.selectProject(t, "demo")
	hd := h.connect(t, "demo", api.AgentRunning)

	require.NoError(t, h.s.Pause(context.Background()))
	require.Eventually(t, func() bool {
		p := h.s.State().Command.Pending
		return p != nil && p.Sent
	}, waitFor, tick)

	hd.OnEvent(statusEvent("demo", api.AgentCrashed))
	h.sync(t)

	st := h.s.State()
	require.Nil(t, st.Command.Pending)
	require.ErrorIs(t, st.Command.Warning, control.ErrUnconfirmed)
	require.Equal(t, control.OutcomeUnconfirmed, st.Command.Last.Kind)
	require.Equal(t, api.AgentCrashed, st.Command.Last.To)
	require.Equal(t, 0, h.clock.Pending(), "confirmation timer stopped")
	require.Eventually(t, func() bool {
		k := h.journal.kinds()
		return len(k) == 2 && k[0] == control.OutcomeSent && k[1] == control.OutcomeUnconfirmed
	}, waitFor, tick)
}

func TestReconnectDoesNotConfirmWithOldStatus(t *testing.T) {
	h := newHarness(t)
	h.source.set("demo", features(1, 1), nil)
	h.selectProject(t, "demo")
	hd := h.connect(t, "demo", api.AgentRunning)

	hd.OnState(live.StateChange{Project: "demo", State: live.Disconnected, Attempt: 1, Delay: time.Second, Err: live.ErrStreamEnded})
	h.sync(t)
	require.True(t, h.s.State().CanIssue(api.CommandStart), "offline falls back to stopped")

	require.NoError(t, h.s.Start(context.Background()))
	require.Eventually(t, func() bool {
		p := h.s.State().Command.Pending
		return p != nil && p.Sent
	}, waitFor, tick)

	hd.OnState(live.StateChange{Project: "demo", State: live.Connected})
	h.sync(t)
	st := h.s.State()
	require.Equal(t, api.AgentRunning, st.View.AgentStatus)
	require.NotNil(t, st.Command.Pending, "the replayed status is not news")

	hd.OnEvent(statusEvent("demo", api.AgentRunning))
	h.sync(t)
	st = h.s.State()
	require.Nil(t, st.Command.Pending)
	require.Equal(t, control.OutcomeConfirmed, st.Command.Last.Kind)
	require.NoError(t, st.Command.Warning)
	require.Eventually(t, func() bool {
		k := h.journal.kinds()
		return len(k) == 2 && k[0] == control.OutcomeSent && k[1] == control.OutcomeConfirmed
	}, waitFor, tick)
}

func TestRejectedCommandsNeverReachTransport(t *testing.T) {
	h := newHarness(t)
	h.source.set("demo", features(1, 0), nil)

	err := h.s.Start(context.Background())
	require.ErrorIs(t, err, control.ErrNoProject)

	h.selectProject(t, "demo")
	require.ErrorIs(t, h.s.Pause(context.Background()), control.ErrNotPermitted)

	h.connect(t, "demo", api.AgentRunning)
	require.ErrorIs(t, h.s.Start(context.Background()), control.ErrNotPermitted)
	require.ErrorIs(t, h.s.Resume(context.Background()), control.ErrNotPermitted)

	h.sync(t)
	require.Empty(t, h.transport.sent())
	require.ErrorIs(t, h.s.State().Command.Err, control.ErrNotPermitted)
}

func TestSecondCommandRejectedWhilePending(t *testing.T) {
	h := newHarness(t)
	h.transport.gate = make(chan struct{})
	h.source.set("demo", features(1, 0), nil)
	h.selectProject(t, "demo")
	h.connect(t, "demo", api.AgentRunning)

	require.NoError(t, h.s.Pause(context.Background()))
	require.ErrorIs(t, h.s.Stop(context.Background()), control.ErrCommandPending)
	require.Equal(t, api.CommandPause, h.s.State().Command.Pending.Command)

	close(h.transport.gate)
	require.Eventually(t, func() bool { return len(h.transport.sent()) == 1 }, waitFor, tick)
}

func TestTransportFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("connection refused")
	h.transport.err = boom
	h.source.set("demo", features(1, 0), nil)
	h.selectProject(t, "demo")
	h.connect(t, "demo", api.AgentPaused)

	require.NoError(t, h.s.Resume(context.Background()))
	require.Eventually(t, func() bool { return h.s.State().Command.Err != nil }, waitFor, tick)

	st := h.s.State()
	require.Nil(t, st.Command.Pending)
	var cmdErr *control.CommandError
	require.ErrorAs(t, st.Command.Err, &cmdErr)
	require.ErrorIs(t, st.Command.Err, boom)
	require.Equal(t, api.AgentPaused, st.View.AgentStatus)
	require.True(t, st.CanIssue(api.CommandResume), "user can reissue")
}

func TestConfirmTimeoutWarns(t *testing.T) {
	h := newHarness(t)
	h.source.set("demo", features(1, 0), nil)
	h.selectProject(t, "demo")
	h.connect(t, "demo", api.AgentRunning)

	require.NoError(t, h.s.Pause(context.Background()))
	require.Eventually(t, func() bool {
		p := h.s.State().Command.Pending
		return p != nil && p.Sent
	}, waitFor, tick)

	h.clock.Advance(14 * time.Second)
	h.sync(t)
	require.NotNil(t, h.s.State().Command.Pending)

	h.clock.Advance(time.Second)
	h.sync(t)

	st := h.s.State()
	require.Nil(t, st.Command.Pending)
	require.ErrorIs(t, st.Command.Warning, control.ErrUnconfirmed)
	require.Equal(t, api.AgentRunning, st.View.AgentStatus)
}

func TestDisconnectThenReconnectRefreshes(t *testing.T) {
	h := newHarness(t)
	h.source.set("demo", features(2, 1), nil)
	h.selectProject(t, "demo")
	hd := h.connect(t, "demo", api.AgentRunning)

	require.Eventually(t, func() bool { return !h.s.State().Snapshot.Loading }, waitFor, tick)
	before := h.source.count("demo")

	hd.OnState(live.StateChange{Project: "demo", State: live.Disconnected, Attempt: 1, Delay: time.Second, Err: live.ErrStreamEnded})
	h.sync(t)
	st := h.s.State()
	require.False(t, st.View.Connected)
	require.Equal(t, api.AgentStopped, st.View.AgentStatus)
	require.Equal(t, live.Disconnected, st.Connection.State)
	require.Equal(t, 1, st.Connection.Attempt)

	hd.OnState(live.StateChange{Project: "demo", State: live.Connected})
	h.sync(t)
	require.True(t, h.s.State().View.Connected)
	require.Eventually(t, func() bool { return h.source.count("demo") > before }, waitFor, tick)
}

func TestFeatureChangeTriggersRefresh(t *testing.T) {
	h := newHarness(t)
	h.source.set("demo", features(2, 0), nil)
	h.selectProject(t, "demo")
	require.Eventually(t, func() bool { return h.s.State().View.Loaded() }, waitFor, tick)
	before := h.source.count("demo")

	h.source.set("demo", features(1, 1), nil)
	hd := h.sub.handler(t, "demo")
	hd.OnEvent(live.Event{Project: "demo", FeatureChanged: &live.FeatureChange{FeatureID: 1, Passes: true}})

	require.Eventually(t, func() bool {
		return h.source.count("demo") > before && h.s.State().View.Progress.Passing == 1
	}, waitFor, tick)
}

func TestLiveProgressBeatsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.source.set("demo", features(0, 3), nil)
	h.selectProject(t, "demo")
	require.Eventually(t, func() bool { return h.s.State().View.Loaded() }, waitFor, tick)

	hd := h.sub.handler(t, "demo")
	hd.OnEvent(live.Event{Project: "demo", Progress: &api.Progress{Passing: 5, Total: 10, Percentage: 50}})
	h.sync(t)

	require.Equal(t, api.Progress{Passing: 5, Total: 10, Percentage: 50}, h.s.State().View.Progress)
}

func TestStaleWhileRevalidate(t *testing.T) {
	h := newHarness(t)
	h.source.set("demo", features(1, 2), nil)
	h.selectProject(t, "demo")
	require.Eventually(t, func() bool { return h.s.State().View.Loaded() }, waitFor, tick)

	h.source.set("demo", nil, errors.New("backend down"))
	require.NoError(t, h.s.Refresh(context.Background()))
	require.Eventually(t, func() bool { return h.s.State().Snapshot.Err != nil }, waitFor, tick)

	st := h.s.State()
	require.Equal(t, 3, st.View.Features.Len())
	require.Equal(t, 2, st.View.Progress.Passing)
}

func TestRefreshWithoutProject(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.s.Refresh(context.Background()), control.ErrNoProject)
}

func TestSeedsFromCache(t *testing.T) {
	h := newHarness(t)
	h.cache.lists["demo"] = features(3, 1)
	gate := h.source.gate("demo")
	h.source.set("demo", features(1, 3), nil)

	h.selectProject(t, "demo")
	require.Eventually(t, func() bool { return h.s.State().View.Loaded() }, waitFor, tick)
	st := h.s.State()
	require.True(t, st.Snapshot.Stale)
	require.Equal(t, 1, st.View.Progress.Passing)

	close(gate)
	require.Eventually(t, func() bool {
		st := h.s.State()
		return !st.Snapshot.Stale && st.View.Progress.Passing == 3
	}, waitFor, tick)
}

func TestBackgroundRefresh(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.RefreshInterval = 10 * time.Second })
	h.source.set("demo", features(1, 0), nil)
	h.selectProject(t, "demo")
	require.Eventually(t, func() bool { return !h.s.State().Snapshot.Loading && h.s.State().View.Loaded() }, waitFor, tick)
	before := h.source.count("demo")

	h.clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return h.source.count("demo") == before+1 }, waitFor, tick)

	require.Eventually(t, func() bool { return !h.s.State().Snapshot.Loading }, waitFor, tick)
	h.clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return h.source.count("demo") == before+2 }, waitFor, tick)
}

func TestDeselect(t *testing.T) {
	h := newHarness(t)
	h.source.set("demo", features(1, 0), nil)
	h.selectProject(t, "demo")
	h.sub.handler(t, "demo")

	require.NoError(t, h.s.Deselect(context.Background()))
	require.Eventually(t, func() bool { return !h.sub.isActive("demo") }, waitFor, tick)
	st := h.s.State()
	require.Equal(t, "", st.Project)
	require.False(t, st.View.Loaded())
}

func TestWatchDeliversLatestState(t *testing.T) {
	h := newHarness(t)
	h.source.set("demo", features(1, 1), nil)

	updates, stop := h.s.Watch()
	defer stop()

	h.selectProject(t, "demo")
	deadline := time.After(waitFor)
	for {
		select {
		case st := <-updates:
			if st.Project == "demo" && st.View.Loaded() {
				require.Equal(t, 50.0, st.View.Progress.Percentage)
				return
			}
		case <-deadline:
			t.Fatal("no loaded state delivered")
		}
	}
}

func TestCallsAfterCloseFail(t *testing.T) {
	s := New(Options{Source: newFakeSource(), Transport: &fakeTransport{}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	cancel()
	<-done

	require.ErrorIs(t, s.Select(context.Background(), "demo"), ErrClosed)
}

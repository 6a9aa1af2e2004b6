package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"firespread-sim/internal/fallback"
	"firespread-sim/internal/fire"
	"firespread-sim/internal/monitor"
	"firespread-sim/internal/transport"
)

type fakeChecker struct {
	down atomic.Bool
}

func (f *fakeChecker) HealthCheck(context.Context) (transport.Health, error) {
	if f.down.Load() {
		return transport.Health{}, fmt.Errorf("%w: connection refused", transport.ErrTransport)
	}
	return transport.Health{Status: "ok"}, nil
}

type fakeTransport struct {
	mu        sync.Mutex
	calls     []string
	handlers  []transport.Handler
	createErr error
	startErr  error
	pauseErr  error
	stopErr   error
	scenarios map[string]fire.Scenario
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{scenarios: map[string]fire.Scenario{}}
}

func (f *fakeTransport) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) CreateSession(_ context.Context, _ fire.SimulationParameters, _ []fire.IgnitionPoint) (fire.Update, error) {
	f.record("create")
	if f.createErr != nil {
		return fire.Update{}, f.createErr
	}
	return fire.Update{SimulationID: "sim-1", Status: fire.RemoteCreated}, nil
}

func (f *fakeTransport) StartSession(_ context.Context, id string) (fire.Update, error) {
	f.record("start:" + id)
	if f.startErr != nil {
		return fire.Update{}, f.startErr
	}
	return fire.Update{SimulationID: id, Status: fire.RemoteRunning}, nil
}

func (f *fakeTransport) PauseSession(_ context.Context, id string) (fire.Update, error) {
	f.record("pause:" + id)
	if f.pauseErr != nil {
		return fire.Update{}, f.pauseErr
	}
	return fire.Update{SimulationID: id, Status: fire.RemotePaused}, nil
}

func (f *fakeTransport) StopSession(_ context.Context, id string) (fire.Update, error) {
	f.record("stop:" + id)
	if f.stopErr != nil {
		return fire.Update{}, f.stopErr
	}
	return fire.Update{SimulationID: id, Status: fire.RemoteCompleted}, nil
}

func (f *fakeTransport) OpenSubscription(id string, h transport.Handler) {
	f.mu.Lock()
	f.calls = append(f.calls, "open:"+id)
	f.handlers = append(f.handlers, h)
	f.mu.Unlock()
}

func (f *fakeTransport) CloseSubscription() {}

func (f *fakeTransport) handler(i int) transport.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[i]
}

func (f *fakeTransport) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeTransport) CreateScenario(_ context.Context, sc fire.Scenario) (fire.Scenario, error) {
	f.record("create-scenario")
	f.mu.Lock()
	defer f.mu.Unlock()
	sc.ID = fmt.Sprintf("sc-%d", len(f.scenarios)+1)
	f.scenarios[sc.ID] = sc
	return sc, nil
}

func (f *fakeTransport) GetScenario(_ context.Context, id string) (fire.Scenario, error) {
	f.record("get-scenario:" + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.scenarios[id]
	if !ok {
		return fire.Scenario{}, &transport.RequestError{StatusCode: 404, Message: "scenario not found"}
	}
	return sc, nil
}

type harness struct {
	o       *Orchestrator
	tr      *fakeTransport
	checker *fakeChecker
	mon     *monitor.Monitor
	driver  *fallback.Driver
}

type constRand float64

func (c constRand) Float64() float64 { return float64(c) }

func newHarness(t *testing.T, period time.Duration, points ...fire.IgnitionPoint) *harness {
	t.Helper()
	tr := newFakeTransport()
	checker := &fakeChecker{}
	mon := monitor.New(checker, nil)
	driver := fallback.New(fallback.WithPeriod(period), fallback.WithRand(constRand(0.5)))
	o := New(tr, mon, driver, Config{
		ReconnectDelay: 5 * time.Millisecond,
		IgnitionPoints: points,
	})
	t.Cleanup(o.Close)
	return &harness{o: o, tr: tr, checker: checker, mon: mon, driver: driver}
}

func point(id string, lat, lng float64) fire.IgnitionPoint {
	return fire.IgnitionPoint{ID: id, Lat: lat, Lng: lng, Timestamp: 1}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func assertExclusive(t *testing.T, o *Orchestrator) {
	t.Helper()
	s := o.Snapshot()
	if s.IsRunning && s.IsPaused {
		t.Fatalf("running and paused at the same time in phase %s", o.Phase())
	}
}

func TestInitialState(t *testing.T) {
	h := newHarness(t, time.Second)
	if h.o.Phase() != Idle || h.o.Status() != monitor.Checking {
		t.Fatalf("unexpected initial phase %s status %s", h.o.Phase(), h.o.Status())
	}
	if h.o.Parameters() != fire.DefaultParameters() {
		t.Fatalf("unexpected parameters %+v", h.o.Parameters())
	}
	if h.o.SessionID() != "" {
		t.Fatalf("unexpected session id %q", h.o.SessionID())
	}
}

func TestStartFallsBackWhenProbeFails(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond, point("a", 0.1, 0.1), point("b", -0.3, 0.4))
	h.checker.down.Store(true)

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.o.Phase() != LocalActive {
		t.Fatalf("expected local_active, got %s", h.o.Phase())
	}
	if h.o.Status() != monitor.Disconnected {
		t.Fatalf("expected disconnected, got %s", h.o.Status())
	}
	s := h.o.Snapshot()
	if !s.IsRunning || s.IsPaused {
		t.Fatalf("unexpected flags %+v", s)
	}
	if calls := h.tr.Calls(); len(calls) != 0 {
		t.Fatalf("expected no remote calls, got %v", calls)
	}
	waitFor(t, "local frame", func() bool { return len(h.o.Snapshot().FireCells) == 2 })
}

func TestExampleLocalScenarioBurnsAfterOneSecond(t *testing.T) {
	h := newHarness(t, fallback.DefaultPeriod, point("origin", 0, 0))
	h.checker.down.Store(true)

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first tick", func() bool { return h.o.Snapshot().CurrentTime >= 1 })
	s := h.o.Snapshot()
	if len(s.FireCells) != 1 || s.FireCells[0].State != fire.CellBurning {
		t.Fatalf("expected one burning cell, got %+v", s.FireCells)
	}
	if s.FireCells[0].Intensity < 0 {
		t.Fatalf("negative intensity %f", s.FireCells[0].Intensity)
	}
}

func TestStartRemoteCreatesSubscribesAndStarts(t *testing.T) {
	h := newHarness(t, time.Second, point("a", 0, 0))
	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []string{"create", "open:sim-1", "start:sim-1"}
	got := h.tr.Calls()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("calls %v want %v", got, want)
	}
	if h.o.Phase() != RemoteActive || h.o.SessionID() != "sim-1" {
		t.Fatalf("unexpected phase %s id %q", h.o.Phase(), h.o.SessionID())
	}
	if h.o.Status() != monitor.Connected {
		t.Fatalf("expected connected, got %s", h.o.Status())
	}
	if h.driver.Active() {
		t.Fatal("fallback should not run in remote mode")
	}
}

func TestStartRemoteFailureFallsBackWithError(t *testing.T) {
	cases := map[string]func(*fakeTransport){
		"create": func(f *fakeTransport) { f.createErr = &transport.RequestError{StatusCode: 500} },
		"start":  func(f *fakeTransport) { f.startErr = fmt.Errorf("%w: timeout", transport.ErrTransport) },
	}
	for name, breakIt := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, time.Second, point("a", 0, 0))
			breakIt(h.tr)
			if err := h.o.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if h.o.Phase() != LocalActive || !h.driver.Active() {
				t.Fatalf("expected local fallback, phase %s", h.o.Phase())
			}
			if h.o.Status() != monitor.Error {
				t.Fatalf("expected error status, got %s", h.o.Status())
			}
			if !h.o.Snapshot().IsRunning {
				t.Fatal("expected running")
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	h := newHarness(t, time.Second, point("a", 0, 0))
	if err := h.o.Pause(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pause from idle: %v", err)
	}
	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.o.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second start: %v", err)
	}
	if h.o.Phase() != RemoteActive {
		t.Fatalf("phase changed by rejected start: %s", h.o.Phase())
	}
}

func TestRunningAndPausedNeverBothTrue(t *testing.T) {
	for _, down := range []bool{false, true} {
		t.Run(fmt.Sprintf("probe_down=%v", down), func(t *testing.T) {
			h := newHarness(t, 5*time.Millisecond, point("a", 0, 0))
			h.checker.down.Store(down)
			ctx := context.Background()
			steps := []func() error{
				func() error { return h.o.Start(ctx) },
				func() error { return h.o.Pause(ctx) },
				func() error { return h.o.Start(ctx) },
				func() error { return h.o.Pause(ctx) },
				func() error { return h.o.Stop(ctx) },
				func() error { return h.o.Start(ctx) },
				h.o.Reset,
			}
			for i, step := range steps {
				if err := step(); err != nil {
					t.Fatalf("step %d: %v", i, err)
				}
				assertExclusive(t, h.o)
			}
		})
	}
}

func TestPauseRemoteFailureStillPauses(t *testing.T) {
	h := newHarness(t, time.Second, point("a", 0, 0))
	ctx := context.Background()
	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.tr.pauseErr = &transport.RequestError{StatusCode: 500, Message: "engine busy"}
	if err := h.o.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	s := h.o.Snapshot()
	if h.o.Phase() != Paused || s.IsRunning || !s.IsPaused {
		t.Fatalf("expected paused, phase %s state %+v", h.o.Phase(), s)
	}
	if h.o.Status() != monitor.Error {
		t.Fatalf("expected error status, got %s", h.o.Status())
	}
	if err := h.o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	calls := h.tr.Calls()
	if calls[len(calls)-1] != "stop:sim-1" {
		t.Fatalf("expected best-effort remote stop, got %v", calls)
	}
}

func TestPauseRemoteFailureDetachesSubscription(t *testing.T) {
	h := newHarness(t, time.Second, point("a", 0, 0))
	ctx := context.Background()
	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.tr.pauseErr = &transport.RequestError{StatusCode: 500, Message: "engine busy"}
	if err := h.o.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	h.tr.handler(0).OnMessage(fire.Update{SimulationID: "sim-1", Status: fire.RemoteRunning, CurrentTime: 7})
	h.tr.handler(0).OnError(errors.New("late"))
	time.Sleep(20 * time.Millisecond)

	s := h.o.Snapshot()
	if h.o.Phase() != Paused || s.IsRunning || !s.IsPaused || s.CurrentTime == 7 {
		t.Fatalf("push applied after failed pause: phase %s state %+v", h.o.Phase(), s)
	}
	if h.o.Status() != monitor.Error {
		t.Fatalf("expected error status, got %s", h.o.Status())
	}
	if n := h.tr.opened(); n != 1 {
		t.Fatalf("detached subscription scheduled a retry: %d subscriptions", n)
	}

	h.tr.pauseErr = nil
	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := h.tr.opened(); n != 2 {
		t.Fatalf("expected resume to re-subscribe, got %d subscriptions", n)
	}
	h.tr.handler(1).OnMessage(fire.Update{SimulationID: "sim-1", Status: fire.RemoteRunning, CurrentTime: 8})
	if s := h.o.Snapshot(); !s.IsRunning || s.CurrentTime != 8 {
		t.Fatalf("resumed subscription not applied: %+v", s)
	}
}

func TestPauseLocalStopsDriver(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond, point("a", 0, 0))
	h.checker.down.Store(true)
	ctx := context.Background()
	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "a tick", func() bool { return h.o.Snapshot().CurrentTime > 0 })
	if err := h.o.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if h.driver.Active() {
		t.Fatal("driver still active after pause")
	}
	frozen := h.o.Snapshot().CurrentTime
	time.Sleep(30 * time.Millisecond)
	if got := h.o.Snapshot().CurrentTime; got != frozen {
		t.Fatalf("time advanced while paused: %d -> %d", frozen, got)
	}

	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitFor(t, "resumed tick", func() bool { return h.o.Snapshot().CurrentTime > frozen })
}

func TestStopWhileIdleMakesNoRemoteCalls(t *testing.T) {
	h := newHarness(t, time.Second)
	if err := h.o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if calls := h.tr.Calls(); len(calls) != 0 {
		t.Fatalf("unexpected remote calls %v", calls)
	}
	if h.o.Snapshot().IsRunning || h.o.Phase() != Idle {
		t.Fatal("expected idle and not running")
	}
}

func TestStopKeepsCellsAndTime(t *testing.T) {
	h := newHarness(t, time.Second, point("a", 0, 0))
	ctx := context.Background()
	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.tr.handler(0).OnMessage(fire.Update{
		SimulationID: "sim-1",
		Status:       fire.RemoteRunning,
		CurrentTime:  5,
		FireCells:    []fire.FireCell{{X: 1, State: fire.CellBurning}, {X: 2, State: fire.CellBurned}},
	})
	h.tr.stopErr = fmt.Errorf("%w: reset by peer", transport.ErrTransport)
	if err := h.o.Stop(ctx); err != nil {
		t.Fatalf("Stop must not surface remote errors: %v", err)
	}
	s := h.o.Snapshot()
	if s.IsRunning || s.IsPaused || s.CurrentTime != 5 || len(s.FireCells) != 2 {
		t.Fatalf("unexpected state after stop %+v", s)
	}
	if h.o.SessionID() != "" || h.o.Phase() != Idle || h.o.Status() != monitor.Disconnected {
		t.Fatalf("unexpected id %q phase %s status %s", h.o.SessionID(), h.o.Phase(), h.o.Status())
	}
}

func TestResetPreservesPointsAndClearsFire(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond, point("a", 0, 0), point("b", 0.5, 0.5))
	h.checker.down.Store(true)
	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "ticks", func() bool { return h.o.Snapshot().CurrentTime >= 2 })
	if err := h.o.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	s := h.o.Snapshot()
	if s.CurrentTime != 0 || len(s.FireCells) != 0 || s.IsRunning || s.IsPaused {
		t.Fatalf("unexpected state after reset %+v", s)
	}
	if len(s.IgnitionPoints) != 2 || s.IgnitionPoints[0].ID != "a" || s.IgnitionPoints[1].ID != "b" {
		t.Fatalf("ignition points not preserved: %+v", s.IgnitionPoints)
	}
	if h.driver.Active() {
		t.Fatal("driver active after reset")
	}
}

func TestResetMakesNoRemoteCalls(t *testing.T) {
	h := newHarness(t, time.Second, point("a", 0, 0))
	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := len(h.tr.Calls())
	if err := h.o.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if after := h.tr.Calls(); len(after) != before {
		t.Fatalf("reset made remote calls: %v", after[before:])
	}
	if h.o.SessionID() != "" || h.o.Status() != monitor.Disconnected {
		t.Fatalf("unexpected id %q status %s", h.o.SessionID(), h.o.Status())
	}
}

func TestPushUpdateMergesState(t *testing.T) {
	h := newHarness(t, time.Second, point("a", 0, 0))
	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.mon.Set(monitor.Disconnected)
	h.tr.handler(0).OnMessage(fire.Update{SimulationID: "sim-1", Status: fire.RemotePaused, CurrentTime: 9,
		FireCells: []fire.FireCell{{X: 3, Intensity: 40, State: fire.CellBurning}}})

	s := h.o.Snapshot()
	if s.IsRunning || !s.IsPaused || s.CurrentTime != 9 || len(s.FireCells) != 1 {
		t.Fatalf("unexpected merged state %+v", s)
	}
	if h.o.Status() != monitor.Connected {
		t.Fatalf("expected connected, got %s", h.o.Status())
	}
}

func TestRetryExhaustionActivatesFallback(t *testing.T) {
	h := newHarness(t, time.Second, point("a", 0, 0))
	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 2; i++ {
		h.tr.handler(i).OnError(fmt.Errorf("%w: read", transport.ErrTransport))
		if h.o.Status() != monitor.Disconnected {
			t.Fatalf("failure %d: expected disconnected, got %s", i+1, h.o.Status())
		}
		n := i + 2
		waitFor(t, "re-subscription", func() bool { return h.tr.opened() == n })
	}
	h.tr.handler(2).OnClose(1006, "abnormal")

	if h.o.Status() != monitor.Error {
		t.Fatalf("expected error after 3 failures, got %s", h.o.Status())
	}
	if h.o.Phase() != LocalActive || !h.driver.Active() {
		t.Fatalf("expected local fallback, phase %s", h.o.Phase())
	}
	if h.o.SessionID() != "sim-1" {
		t.Fatalf("handle must be kept, got %q", h.o.SessionID())
	}

	h.tr.handler(2).OnError(errors.New("again"))
	time.Sleep(50 * time.Millisecond)
	if n := h.tr.opened(); n != 3 {
		t.Fatalf("expected no 4th subscription, got %d", n)
	}
}

func TestSuccessfulMessageResetsRetries(t *testing.T) {
	h := newHarness(t, time.Second, point("a", 0, 0))
	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 4; i++ {
		h.tr.handler(i).OnError(errors.New("drop"))
		n := i + 2
		waitFor(t, "re-subscription", func() bool { return h.tr.opened() == n })
		if i%2 == 1 {
			h.tr.handler(n-1).OnMessage(fire.Update{SimulationID: "sim-1", Status: fire.RemoteRunning})
		}
	}
	if h.o.Phase() != RemoteActive {
		t.Fatalf("expected remote_active, got %s", h.o.Phase())
	}
}

func TestNormalCloseDoesNotRetry(t *testing.T) {
	h := newHarness(t, time.Second, point("a", 0, 0))
	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.tr.handler(0).OnClose(transport.CloseNormal, "")
	time.Sleep(30 * time.Millisecond)
	if n := h.tr.opened(); n != 1 {
		t.Fatalf("normal closure retried: %d subscriptions", n)
	}
}

func TestStaleSubscriptionEventsIgnored(t *testing.T) {
	h := newHarness(t, time.Second, point("a", 0, 0))
	ctx := context.Background()
	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	old := h.tr.handler(0)
	if err := h.o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	old.OnMessage(fire.Update{SimulationID: "sim-1", Status: fire.RemoteRunning, CurrentTime: 42})
	old.OnError(errors.New("late"))
	time.Sleep(20 * time.Millisecond)

	if s := h.o.Snapshot(); s.IsRunning || s.CurrentTime == 42 {
		t.Fatalf("stale update applied: %+v", s)
	}
	if n := h.tr.opened(); n != 1 {
		t.Fatalf("stale failure scheduled a retry: %d subscriptions", n)
	}
}

func TestStopCancelsPendingRetry(t *testing.T) {
	tr := newFakeTransport()
	mon := monitor.New(&fakeChecker{}, nil)
	o := New(tr, mon, fallback.New(), Config{
		ReconnectDelay: 50 * time.Millisecond,
		IgnitionPoints: []fire.IgnitionPoint{point("a", 0, 0)},
	})
	defer o.Close()
	ctx := context.Background()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.handler(0).OnError(errors.New("drop"))
	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := tr.opened(); n != 1 {
		t.Fatalf("retry fired after stop: %d subscriptions", n)
	}
}

func TestResetCancelsPendingRetry(t *testing.T) {
	tr := newFakeTransport()
	mon := monitor.New(&fakeChecker{}, nil)
	o := New(tr, mon, fallback.New(), Config{
		ReconnectDelay: 50 * time.Millisecond,
		IgnitionPoints: []fire.IgnitionPoint{point("a", 0, 0)},
	})
	defer o.Close()
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.handler(0).OnError(errors.New("drop"))
	if err := o.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := tr.opened(); n != 1 {
		t.Fatalf("retry fired after reset: %d subscriptions", n)
	}
}

func TestStartAfterExhaustionRestoresRetryBudget(t *testing.T) {
	h := newHarness(t, time.Second, point("a", 0, 0))
	ctx := context.Background()
	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		h.tr.handler(i).OnError(errors.New("drop"))
		if i < 2 {
			n := i + 2
			waitFor(t, "re-subscription", func() bool { return h.tr.opened() == n })
		}
	}
	if h.o.Phase() != LocalActive {
		t.Fatalf("expected local_active, got %s", h.o.Phase())
	}
	if err := h.o.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := h.o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.o.Phase() != RemoteActive || h.driver.Active() {
		t.Fatalf("expected remote mode after restart, phase %s", h.o.Phase())
	}
	if n := h.tr.opened(); n != 4 {
		t.Fatalf("expected a new subscription, got %d", n)
	}

	h.tr.handler(3).OnError(errors.New("drop"))
	if h.o.Status() != monitor.Disconnected {
		t.Fatalf("expected a retry after one failure, status %s", h.o.Status())
	}
	waitFor(t, "re-subscription", func() bool { return h.tr.opened() == 5 })
	if h.o.Phase() != RemoteActive {
		t.Fatalf("expected remote_active while retrying, got %s", h.o.Phase())
	}
}

func TestReconnect(t *testing.T) {
	h := newHarness(t, time.Second, point("a", 0, 0))
	if err := h.o.Reconnect(); !errors.Is(err, ErrNoRemoteSession) {
		t.Fatalf("expected ErrNoRemoteSession, got %v", err)
	}
	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		h.tr.handler(i).OnError(errors.New("drop"))
		if i < 2 {
			n := i + 2
			waitFor(t, "re-subscription", func() bool { return h.tr.opened() == n })
		}
	}
	if h.o.Phase() != LocalActive {
		t.Fatalf("expected local_active, got %s", h.o.Phase())
	}
	if err := h.o.Reconnect(); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if h.driver.Active() || h.o.Phase() != RemoteActive {
		t.Fatalf("expected remote mode after reconnect, phase %s", h.o.Phase())
	}
	if n := h.tr.opened(); n != 4 {
		t.Fatalf("expected a new subscription, got %d", n)
	}
	h.tr.handler(3).OnMessage(fire.Update{SimulationID: "sim-1", Status: fire.RemoteRunning, CurrentTime: 7})
	if h.o.Snapshot().CurrentTime != 7 || h.o.Status() != monitor.Connected {
		t.Fatalf("reconnected subscription not applied")
	}
}

func TestSubscribeCoalescesViews(t *testing.T) {
	h := newHarness(t, time.Second)
	views, cancel := h.o.Subscribe()
	defer cancel()

	first := <-views
	if first.Phase != Idle {
		t.Fatalf("unexpected first view %+v", first)
	}
	for i := 0; i < 5; i++ {
		if _, err := h.o.AddIgnitionPoint(0.1*float64(i), 0); err != nil {
			t.Fatalf("AddIgnitionPoint: %v", err)
		}
	}
	latest := <-views
	if n := len(latest.State.IgnitionPoints); n != 5 {
		t.Fatalf("expected latest view with 5 points, got %d", n)
	}
	cancel()
	if _, ok := <-views; ok {
		t.Fatal("expected closed channel after cancel")
	}
}

func TestCloseClosesViewChannels(t *testing.T) {
	h := newHarness(t, time.Second)
	views, _ := h.o.Subscribe()
	<-views
	h.o.Close()
	if _, ok := <-views; ok {
		t.Fatal("expected closed channel")
	}
	if err := h.o.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

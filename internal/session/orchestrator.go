// Package session implements the lifecycle state machine that decides whether
// a fire session is driven by the remote simulation service or by the local
// fallback animation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"firespread-sim/internal/fallback"
	"firespread-sim/internal/fire"
	"firespread-sim/internal/logging"
	"firespread-sim/internal/monitor"
	"firespread-sim/internal/transport"
)

// Defaults of the reconnection policy.
const (
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectDelay       = 2 * time.Second
)

var (
	// ErrInvalidTransition is returned when an action is not allowed in the current phase.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrSessionActive is returned when parameters are edited while a session runs.
	ErrSessionActive = errors.New("session is active")
	// ErrBackendUnavailable is returned by scenario operations when the probe fails.
	ErrBackendUnavailable = errors.New("simulation backend unavailable")
	// ErrNoRemoteSession is returned by Reconnect when no remote handle exists.
	ErrNoRemoteSession = errors.New("no remote session")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// Phase is the lifecycle phase of the session.
type Phase int

// Lifecycle phases.
const (
	Idle Phase = iota
	Starting
	RemoteActive
	LocalActive
	Paused
	Stopping
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case RemoteActive:
		return "remote_active"
	case LocalActive:
		return "local_active"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Transport is the subset of the remote client used by the orchestrator.
type Transport interface {
	CreateSession(ctx context.Context, params fire.SimulationParameters, points []fire.IgnitionPoint) (fire.Update, error)
	StartSession(ctx context.Context, id string) (fire.Update, error)
	PauseSession(ctx context.Context, id string) (fire.Update, error)
	StopSession(ctx context.Context, id string) (fire.Update, error)
	OpenSubscription(id string, h transport.Handler)
	CloseSubscription()
	CreateScenario(ctx context.Context, sc fire.Scenario) (fire.Scenario, error)
	GetScenario(ctx context.Context, id string) (fire.Scenario, error)
}

// Monitor publishes the connection status.
type Monitor interface {
	Probe(ctx context.Context) bool
	Set(s monitor.Status)
	Status() monitor.Status
	OnChange(fn func(monitor.Status))
}

// Driver is the local fallback animation.
type Driver interface {
	Activate(r fallback.Run, emit func(fallback.Tick)) bool
	Stop()
	Active() bool
}

// Config tunes an Orchestrator.
type Config struct {
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	// Parameters seeds the editor; the zero value means fire.DefaultParameters.
	Parameters     fire.SimulationParameters
	IgnitionPoints []fire.IgnitionPoint
	Logger         *slog.Logger
	Now            func() time.Time
}

// Orchestrator owns the session state. Lifecycle actions are serialized by
// opMu. mu guards the state and is never held across a network call or
// across Driver.Stop, which waits for a tick that needs mu.
type Orchestrator struct {
	transport Transport
	monitor   Monitor
	driver    Driver
	log       *slog.Logger
	now       func() time.Time

	maxRetries int
	retryDelay time.Duration

	opMu sync.Mutex

	mu         sync.Mutex
	state      fire.SessionState
	params     fire.SimulationParameters
	phase      Phase
	sessionID  string
	remoteLive bool
	// generation identifies the current subscription; callbacks carrying an
	// older value are ignored.
	generation uint64
	subscribed bool
	retries    int
	retryTimer *time.Timer
	// exhausted is set when the fallback was activated by retry exhaustion.
	exhausted bool
	closed    bool
	subs      map[int]chan View
	nextSub   int
}

// New builds an orchestrator in the Idle phase.
func New(t Transport, m Monitor, d Driver, cfg Config) *Orchestrator {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Parameters == (fire.SimulationParameters{}) {
		cfg.Parameters = fire.DefaultParameters()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	o := &Orchestrator{
		transport:  t,
		monitor:    m,
		driver:     d,
		log:        cfg.Logger,
		now:        cfg.Now,
		maxRetries: cfg.MaxReconnectAttempts,
		retryDelay: cfg.ReconnectDelay,
		params:     cfg.Parameters,
		state: fire.SessionState{
			FireCells:      []fire.FireCell{},
			IgnitionPoints: append([]fire.IgnitionPoint{}, cfg.IgnitionPoints...),
		},
		subs: make(map[int]chan View),
	}
	m.OnChange(func(monitor.Status) {
		o.mu.Lock()
		o.publishLocked()
		o.mu.Unlock()
	})
	return o
}

// Start begins or resumes the session, preferring the remote service and
// falling back to the local driver on any remote failure.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.phase != Idle && o.phase != Paused {
		phase := o.phase
		o.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, phase)
	}
	o.phase = Starting
	params := o.params
	points := append([]fire.IgnitionPoint{}, o.state.IgnitionPoints...)
	id := o.sessionID
	subscribed := o.subscribed
	o.publishLocked()
	o.mu.Unlock()

	if !o.monitor.Probe(ctx) {
		o.log.Info("simulation service unreachable, using local simulation")
		o.startLocal()
		return nil
	}

	if id == "" {
		created, err := o.transport.CreateSession(ctx, params, points)
		if err != nil {
			o.remoteFailed("create", err)
			o.startLocal()
			return nil
		}
		id = created.SimulationID
		o.mu.Lock()
		o.sessionID = id
		o.mu.Unlock()
		o.log.Info("remote simulation created", "simulation_id", id)
		subscribed = false
	}
	if !subscribed {
		o.mu.Lock()
		o.retries = 0
		o.exhausted = false
		o.mu.Unlock()
		o.subscribe(id)
	}

	if _, err := o.transport.StartSession(ctx, id); err != nil {
		o.remoteFailed("start", err)
		o.startLocal()
		return nil
	}

	o.mu.Lock()
	o.phase = RemoteActive
	o.remoteLive = true
	o.exhausted = false
	o.state.IsRunning = true
	o.state.IsPaused = false
	o.publishLocked()
	o.mu.Unlock()
	o.log.Info("remote simulation started", "simulation_id", id)
	return nil
}

// Pause halts the active driving process and keeps the fire state.
func (o *Orchestrator) Pause(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	phase, id, live := o.phase, o.sessionID, o.remoteLive
	o.mu.Unlock()

	switch phase {
	case RemoteActive:
		if id != "" && live {
			if _, err := o.transport.PauseSession(ctx, id); err != nil {
				o.log.Warn("remote pause failed, pausing locally", "simulation_id", id, "err", err)
				o.monitor.Set(monitor.Error)
				o.mu.Lock()
				o.remoteLive = false
				timer := o.unsubscribeLocked()
				o.mu.Unlock()
				if timer != nil {
					timer.Stop()
				}
				o.transport.CloseSubscription()
			}
		}
	case LocalActive:
		o.driver.Stop()
	default:
		return fmt.Errorf("%w: pause while %s", ErrInvalidTransition, phase)
	}

	o.mu.Lock()
	o.phase = Paused
	o.state.IsRunning = false
	o.state.IsPaused = true
	o.publishLocked()
	o.mu.Unlock()
	o.log.Info("simulation paused", "from", phase)
	return nil
}

// Stop ends the session from any phase. The fire cells and current time are
// kept for display. Remote errors are logged and never returned.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	id, live := o.sessionID, o.remoteLive
	o.phase = Stopping
	timer := o.detachLocked()
	o.publishLocked()
	o.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if id != "" {
		if _, err := o.transport.StopSession(ctx, id); err != nil {
			o.log.Warn("remote stop failed", "simulation_id", id, "remote_live", live, "err", err)
		}
		o.transport.CloseSubscription()
	}
	o.driver.Stop()

	o.mu.Lock()
	o.phase = Idle
	o.state.IsRunning = false
	o.state.IsPaused = false
	o.publishLocked()
	o.mu.Unlock()
	o.monitor.Set(monitor.Disconnected)
	o.log.Info("simulation stopped")
	return nil
}

// Reset stops every driving process without remote calls and clears the
// fire state. Ignition points are kept.
func (o *Orchestrator) Reset() error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if err := o.resetLocal(); err != nil {
		return err
	}
	o.log.Info("simulation reset")
	return nil
}

// Reconnect resumes watching the remote session after retries ran out.
func (o *Orchestrator) Reconnect() error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	id := o.sessionID
	if id == "" {
		o.mu.Unlock()
		return ErrNoRemoteSession
	}
	timer := o.retryTimer
	o.retryTimer = nil
	o.retries = 0
	stopDriver := o.exhausted
	o.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if stopDriver {
		o.driver.Stop()
		o.mu.Lock()
		o.exhausted = false
		if o.phase == LocalActive {
			o.phase = RemoteActive
		}
		o.publishLocked()
		o.mu.Unlock()
	}
	o.log.Info("reconnecting to remote simulation", "simulation_id", id)
	o.subscribe(id)
	return nil
}

// Close tears the session down without remote calls and closes every view
// channel.
func (o *Orchestrator) Close() {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	timer := o.detachLocked()
	o.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	o.transport.CloseSubscription()
	o.driver.Stop()

	o.mu.Lock()
	o.phase = Idle
	o.state.IsRunning = false
	o.state.IsPaused = false
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
	o.mu.Unlock()
}

// resetLocal applies the reset semantics. The caller holds opMu.
func (o *Orchestrator) resetLocal() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.phase = Idle
	timer := o.detachLocked()
	o.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	o.transport.CloseSubscription()
	o.driver.Stop()

	o.mu.Lock()
	o.state = fire.SessionState{
		FireCells:      []fire.FireCell{},
		IgnitionPoints: o.state.IgnitionPoints,
	}
	o.publishLocked()
	o.mu.Unlock()
	o.monitor.Set(monitor.Disconnected)
	return nil
}

// detachLocked discards the remote handle, invalidates subscription
// callbacks and returns the pending retry timer for the caller to stop.
func (o *Orchestrator) detachLocked() *time.Timer {
	o.sessionID = ""
	o.remoteLive = false
	o.exhausted = false
	o.retries = 0
	return o.unsubscribeLocked()
}

// unsubscribeLocked invalidates subscription callbacks while keeping the
// remote handle and returns the pending retry timer for the caller to stop.
func (o *Orchestrator) unsubscribeLocked() *time.Timer {
	o.subscribed = false
	o.generation++
	timer := o.retryTimer
	o.retryTimer = nil
	return timer
}

// startLocal marks the session running and activates the fallback driver.
func (o *Orchestrator) startLocal() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phase = LocalActive
	o.state.IsRunning = true
	o.state.IsPaused = false
	o.activateLocked()
	o.publishLocked()
}

// activateLocked starts the driver. Activate never waits on mu, so it is
// safe to call with mu held.
func (o *Orchestrator) activateLocked() {
	run := fallback.Run{
		Points:     append([]fire.IgnitionPoint(nil), o.state.IgnitionPoints...),
		Parameters: o.params,
		StartTime:  o.state.CurrentTime,
	}
	if !o.driver.Activate(run, o.onTick) {
		o.log.Debug("local simulation not activated", "points", len(run.Points), "active", o.driver.Active())
		return
	}
	o.log.Info("local simulation active", "points", len(run.Points))
}

func (o *Orchestrator) onTick(t fallback.Tick) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != LocalActive {
		return
	}
	o.state.CurrentTime = t.CurrentTime
	o.state.FireCells = t.FireCells
	o.publishLocked()
}

func (o *Orchestrator) remoteFailed(op string, err error) {
	o.log.Warn("remote simulation call failed, using local simulation",
		"op", op, "kind", transport.Classify(err), "err", err)
	o.monitor.Set(monitor.Error)
}

package session

import (
	"time"

	"firespread-sim/internal/fire"
	"firespread-sim/internal/monitor"
)

// View is a read-only copy of everything a UI layer renders.
type View struct {
	State      fire.SessionState
	Parameters fire.SimulationParameters
	Status     monitor.Status
	Phase      Phase
	SessionID  string
	Mode       fire.DriveMode
	At         time.Time
}

// Frame converts v into a recording row.
func (v View) Frame() fire.Frame {
	return fire.Frame{
		SessionID:   v.SessionID,
		Mode:        v.Mode,
		Status:      string(v.Status),
		IsRunning:   v.State.IsRunning,
		IsPaused:    v.State.IsPaused,
		CurrentTime: v.State.CurrentTime,
		FireCells:   append([]fire.FireCell(nil), v.State.FireCells...),
		Timestamp:   v.At,
	}
}

// StatusEvent converts v into a status recording row.
func (v View) StatusEvent() fire.StatusEvent {
	return fire.StatusEvent{
		SessionID: v.SessionID,
		Status:    string(v.Status),
		Phase:     v.Phase.String(),
		Timestamp: v.At,
	}
}

// Subscribe returns a channel that always holds the most recent view. Slow
// readers skip intermediate views. The channel is closed by cancel or Close.
func (o *Orchestrator) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	ch <- o.viewLocked()
	o.mu.Unlock()

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
	}
}

// Snapshot returns a deep copy of the session state.
func (o *Orchestrator) Snapshot() fire.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// View returns the current view.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked()
}

// Parameters returns the current simulation parameters.
func (o *Orchestrator) Parameters() fire.SimulationParameters {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.params
}

// Status returns the connection status.
func (o *Orchestrator) Status() monitor.Status {
	return o.monitor.Status()
}

// Phase returns the lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// SessionID returns the remote session handle, empty in local mode.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

func (o *Orchestrator) viewLocked() View {
	return View{
		State:      o.state.Clone(),
		Parameters: o.params,
		Status:     o.monitor.Status(),
		Phase:      o.phase,
		SessionID:  o.sessionID,
		Mode:       o.modeLocked(),
		At:         o.now(),
	}
}

func (o *Orchestrator) modeLocked() fire.DriveMode {
	switch {
	case o.phase == LocalActive:
		return fire.ModeLocal
	case o.phase == RemoteActive:
		return fire.ModeRemote
	case o.phase == Paused && o.sessionID != "":
		return fire.ModeRemote
	case o.phase == Paused:
		return fire.ModeLocal
	}
	return fire.ModeIdle
}

// publishLocked offers the current view to every subscriber without blocking.
func (o *Orchestrator) publishLocked() {
	if len(o.subs) == 0 {
		return
	}
	v := o.viewLocked()
	for _, ch := range o.subs {
		cv := v
		cv.State = v.State.Clone()
		offer(ch, cv)
	}
}

func offer(ch chan View, v View) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

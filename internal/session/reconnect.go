package session

import (
	"fmt"
	"time"

	"firespread-sim/internal/fire"
	"firespread-sim/internal/monitor"
	"firespread-sim/internal/transport"
)

// subscribe opens a push subscription for id under a new generation.
func (o *Orchestrator) subscribe(id string) {
	o.mu.Lock()
	o.generation++
	gen := o.generation
	o.subscribed = true
	o.mu.Unlock()

	o.transport.OpenSubscription(id, transport.Handler{
		OnMessage: func(u fire.Update) { o.onUpdate(gen, u) },
		OnError: func(err error) {
			o.onSubscriptionFailure(gen, id, err.Error())
		},
		OnClose: func(code int, reason string) {
			if code == transport.CloseNormal {
				o.onNormalClose(gen, id)
				return
			}
			o.onSubscriptionFailure(gen, id, fmt.Sprintf("closed with code %d: %s", code, reason))
		},
	})
}

// onUpdate merges a push update. Last write wins.
func (o *Orchestrator) onUpdate(gen uint64, u fire.Update) {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return
	}
	// The local driver owns the cells while it runs.
	if o.phase == LocalActive {
		o.mu.Unlock()
		return
	}
	o.retries = 0
	o.state.CurrentTime = u.CurrentTime
	o.state.FireCells = append([]fire.FireCell{}, u.FireCells...)
	o.state.IsRunning = u.Status == fire.RemoteRunning
	o.state.IsPaused = u.Status == fire.RemotePaused
	o.publishLocked()
	o.mu.Unlock()
	o.monitor.Set(monitor.Connected)
}

func (o *Orchestrator) onNormalClose(gen uint64, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return
	}
	o.subscribed = false
	o.log.Info("subscription closed by service", "simulation_id", id)
}

// onSubscriptionFailure applies the reconnection policy: retry after a fixed
// delay while below the bound, then switch to the local driver and keep the
// handle for a manual Reconnect.
func (o *Orchestrator) onSubscriptionFailure(gen uint64, id, reason string) {
	o.mu.Lock()
	if gen != o.generation || o.closed {
		o.mu.Unlock()
		return
	}
	o.subscribed = false
	o.retries++
	attempt := o.retries

	if attempt < o.maxRetries {
		o.retryTimer = time.AfterFunc(o.retryDelay, func() { o.retry(gen, id) })
		o.mu.Unlock()
		o.log.Warn("subscription lost, retrying",
			"simulation_id", id, "reason", reason, "attempt", attempt, "max", o.maxRetries, "delay", o.retryDelay)
		o.monitor.Set(monitor.Disconnected)
		return
	}

	o.retryTimer = nil
	if o.phase == RemoteActive {
		o.phase = LocalActive
		o.exhausted = true
		o.state.IsRunning = true
		o.state.IsPaused = false
		o.activateLocked()
	}
	o.publishLocked()
	o.mu.Unlock()
	o.log.Error("subscription retries exhausted, using local simulation",
		"simulation_id", id, "reason", reason, "attempts", attempt)
	o.monitor.Set(monitor.Error)
}

func (o *Orchestrator) retry(gen uint64, id string) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	if gen != o.generation || o.sessionID != id || o.closed {
		o.mu.Unlock()
		return
	}
	o.retryTimer = nil
	o.mu.Unlock()
	o.log.Info("re-subscribing", "simulation_id", id)
	o.subscribe(id)
}

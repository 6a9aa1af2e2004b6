// Package monitor tracks reachability of the remote simulation service.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"firespread-sim/internal/logging"
	"firespread-sim/internal/transport"
)

// Status is the user-visible connection status.
type Status string

// Connection statuses.
const (
	Checking     Status = "checking"
	Connected    Status = "connected"
	Disconnected Status = "disconnected"
	Error        Status = "error"
)

// HealthChecker is the part of the transport client used for probing.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (transport.Health, error)
}

// Monitor holds the current connection status and notifies listeners on change.
type Monitor struct {
	checker HealthChecker
	log     *slog.Logger

	mu        sync.Mutex
	status    Status
	listeners []func(Status)
}

// New creates a monitor in the checking state.
func New(checker HealthChecker, log *slog.Logger) *Monitor {
	if log == nil {
		log = logging.Discard()
	}
	return &Monitor{checker: checker, log: log, status: Checking}
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnChange registers fn to receive every status change. Listeners run
// synchronously on the goroutine that changed the status.
func (m *Monitor) OnChange(fn func(Status)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Set publishes s.
func (m *Monitor) Set(s Status) {
	m.mu.Lock()
	if m.status == s {
		m.mu.Unlock()
		return
	}
	prev := m.status
	m.status = s
	listeners := append(([]func(Status))(nil), m.listeners...)
	m.mu.Unlock()

	m.log.Debug("connection status changed", "from", prev, "to", s)
	for _, fn := range listeners {
		fn(s)
	}
}

// Probe checks the service health and reports whether it is reachable.
func (m *Monitor) Probe(ctx context.Context) bool {
	m.Set(Checking)
	_, err := m.checker.HealthCheck(ctx)
	if err == nil {
		m.Set(Connected)
		return true
	}
	switch transport.Classify(err) {
	case transport.KindTransport:
		m.Set(Disconnected)
	default:
		m.Set(Error)
	}
	m.log.Warn("health probe failed", "err", err)
	return false
}

// Schedule probes on the given cron spec (for example "@every 30s") until the
// returned stop function is called.
func (m *Monitor) Schedule(ctx context.Context, spec string) (func(), error) {
	c := cron.New()
	probeCtx, cancel := context.WithCancel(ctx)
	_, err := c.AddFunc(spec, func() {
		m.Probe(probeCtx)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("schedule probe %q: %w", spec, err)
	}
	c.Start()
	m.log.Info("periodic health probe scheduled", "spec", spec)
	return func() {
		cancel()
		<-c.Stop().Done()
	}, nil
}

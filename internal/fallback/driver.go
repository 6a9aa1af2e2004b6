// Package fallback drives a local fire animation when the remote simulation
// service is unavailable.
package fallback

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"firespread-sim/internal/fire"
	"firespread-sim/internal/logging"
)

// DefaultPeriod is the tick period of the local animation.
const DefaultPeriod = time.Second

// Tick is one frame produced by the driver.
type Tick struct {
	CurrentTime int
	FireCells   []fire.FireCell
}

// Run holds the inputs of one activation.
type Run struct {
	Points     []fire.IgnitionPoint
	Parameters fire.SimulationParameters
	StartTime  int
}

// Driver emits a frame every period while active.
type Driver struct {
	period time.Duration
	rnd    Rand
	log    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Driver.
type Option func(*Driver)

// WithPeriod overrides the tick period.
func WithPeriod(d time.Duration) Option {
	return func(dr *Driver) {
		if d > 0 {
			dr.period = d
		}
	}
}

// WithRand injects the randomness source.
func WithRand(r Rand) Option {
	return func(dr *Driver) {
		if r != nil {
			dr.rnd = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(dr *Driver) {
		if l != nil {
			dr.log = l
		}
	}
}

// New returns an inactive driver.
func New(opts ...Option) *Driver {
	d := &Driver{
		period: DefaultPeriod,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		log:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Period returns the tick period.
func (d *Driver) Period() time.Duration {
	return d.period
}

// Active reports whether the ticker is running.
func (d *Driver) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// Activate starts ticking with r and delivers every frame to emit. It returns
// false and does nothing when the driver is already active or r has no
// ignition points.
func (d *Driver) Activate(r Run, emit func(Tick)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil || len(r.Points) == 0 {
		return false
	}
	r.Points = append([]fire.IgnitionPoint(nil), r.Points...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done
	d.log.Info("local fallback simulation started", "points", len(r.Points), "start_time", r.StartTime)
	go d.loop(ctx, r, emit, done)
	return true
}

// Stop halts the ticker and waits for the loop to exit. No frame is emitted
// after Stop returns. emit must not call Stop.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.log.Info("local fallback simulation stopped")
}

func (d *Driver) loop(ctx context.Context, r Run, emit func(Tick), done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	t := r.StartTime
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cells := Spread(r.Points, r.Parameters, t, d.rnd)
			t++
			if ctx.Err() != nil {
				return
			}
			emit(Tick{CurrentTime: t, FireCells: cells})
		}
	}
}

package session

import (
	"context"
	"fmt"

	"firespread-sim/internal/fire"
)

// AddIgnitionPoint validates the coordinates and appends a new point.
func (o *Orchestrator) AddIgnitionPoint(lat, lng float64) (fire.IgnitionPoint, error) {
	p, err := fire.NewIgnitionPoint(lat, lng, o.now())
	if err != nil {
		return fire.IgnitionPoint{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.IgnitionPoints = append(o.state.IgnitionPoints, p)
	o.publishLocked()
	return p, nil
}

// RemoveIgnitionPoint deletes the point with the given id. It reports whether
// a point was removed; unknown ids are ignored.
func (o *Orchestrator) RemoveIgnitionPoint(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, p := range o.state.IgnitionPoints {
		if p.ID == id {
			o.state.IgnitionPoints = append(o.state.IgnitionPoints[:i:i], o.state.IgnitionPoints[i+1:]...)
			o.publishLocked()
			return true
		}
	}
	return false
}

// UpdateParameters merges patch over the current parameters. Only allowed
// while Idle.
func (o *Orchestrator) UpdateParameters(patch fire.ParameterPatch) (fire.SimulationParameters, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != Idle {
		return o.params, fmt.Errorf("%w: parameters are locked while %s", ErrSessionActive, o.phase)
	}
	next := o.params.Apply(patch)
	if err := next.Validate(); err != nil {
		return o.params, err
	}
	o.params = next
	o.publishLocked()
	return next, nil
}

// ApplyScenario replaces parameters and ignition points from sc without
// contacting the service. Only allowed while Idle.
func (o *Orchestrator) ApplyScenario(sc fire.Scenario) error {
	if err := sc.Parameters.Validate(); err != nil {
		return err
	}
	for _, p := range sc.IgnitionPoints {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != Idle {
		return fmt.Errorf("%w: cannot apply scenario while %s", ErrSessionActive, o.phase)
	}
	o.params = sc.Parameters
	o.state = fire.SessionState{
		FireCells:      []fire.FireCell{},
		IgnitionPoints: append([]fire.IgnitionPoint{}, sc.IgnitionPoints...),
	}
	o.publishLocked()
	return nil
}

// SaveScenario stores the current parameters and ignition points on the
// service and returns the stored record.
func (o *Orchestrator) SaveScenario(ctx context.Context, name, description string) (fire.Scenario, error) {
	if !o.monitor.Probe(ctx) {
		return fire.Scenario{}, ErrBackendUnavailable
	}
	o.mu.Lock()
	sc := fire.Scenario{
		Name:           name,
		Description:    description,
		Parameters:     o.params,
		IgnitionPoints: append([]fire.IgnitionPoint{}, o.state.IgnitionPoints...),
	}
	o.mu.Unlock()

	saved, err := o.transport.CreateScenario(ctx, sc)
	if err != nil {
		return fire.Scenario{}, fmt.Errorf("save scenario %q: %w", name, err)
	}
	o.log.Info("scenario saved", "scenario_id", saved.ID, "name", saved.Name)
	return saved, nil
}

// LoadScenario fetches scenario id, resets the session and replaces the
// parameters and ignition points with the record's.
func (o *Orchestrator) LoadScenario(ctx context.Context, id string) (fire.Scenario, error) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if !o.monitor.Probe(ctx) {
		return fire.Scenario{}, ErrBackendUnavailable
	}
	sc, err := o.transport.GetScenario(ctx, id)
	if err != nil {
		return fire.Scenario{}, fmt.Errorf("load scenario %s: %w", id, err)
	}
	if err := sc.Parameters.Validate(); err != nil {
		return fire.Scenario{}, fmt.Errorf("load scenario %s: %w", id, err)
	}
	if err := o.resetLocal(); err != nil {
		return fire.Scenario{}, err
	}

	o.mu.Lock()
	o.params = sc.Parameters
	o.state.IgnitionPoints = append([]fire.IgnitionPoint{}, sc.IgnitionPoints...)
	o.publishLocked()
	o.mu.Unlock()
	o.log.Info("scenario loaded", "scenario_id", sc.ID, "name", sc.Name, "points", len(sc.IgnitionPoints))
	return sc, nil
}

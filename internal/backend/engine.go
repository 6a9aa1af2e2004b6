package backend

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"time"

	"firespread-sim/internal/fire"
)

// The engine is a coarse grid over the normalized canvas. It exists to give
// clients something plausible to render, not to model fire behavior.
const (
	cellSize = 0.05
	gridHalf = 20 // cells from the origin to the canvas edge
)

type fuel struct {
	spread   float64 // base ignition probability per neighbor and tick
	duration int     // ticks a cell burns before it is spent
	energy   float64 // peak intensity scale
}

var fuels = map[fire.VegetationType]fuel{
	fire.VegetationGrassland:    {spread: 0.6, duration: 2, energy: 0.6},
	fire.VegetationShrubland:    {spread: 0.45, duration: 4, energy: 0.8},
	fire.VegetationForest:       {spread: 0.35, duration: 6, energy: 1},
	fire.VegetationAgricultural: {spread: 0.3, duration: 3, energy: 0.5},
	fire.VegetationUrban:        {spread: 0.1, duration: 8, energy: 0.9},
}

type cellKey struct{ X, Y int }

type cell struct {
	state    fire.CellState
	burnTime int
}

// Simulation is one server-side fire session.
type Simulation struct {
	ID         string
	Parameters fire.SimulationParameters
	Points     []fire.IgnitionPoint
	Status     fire.RemoteStatus
	Time       int
	CreatedAt  time.Time

	cells map[cellKey]*cell
	rnd   *rand.Rand
}

// NewSimulation ignites one cell per ignition point. The random source is
// seeded from id so a simulation replays identically.
func NewSimulation(id string, params fire.SimulationParameters, points []fire.IgnitionPoint, now time.Time) *Simulation {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	s := &Simulation{
		ID:         id,
		Parameters: params,
		Points:     append([]fire.IgnitionPoint{}, points...),
		Status:     fire.RemoteCreated,
		CreatedAt:  now,
		cells:      make(map[cellKey]*cell),
		rnd:        rand.New(rand.NewSource(int64(h.Sum64()))),
	}
	for _, p := range points {
		k := keyFor(p.Lng, p.Lat)
		s.cells[k] = &cell{state: fire.CellBurning}
	}
	return s
}

func keyFor(x, y float64) cellKey {
	return cellKey{X: int(math.Round(x / cellSize)), Y: int(math.Round(y / cellSize))}
}

// Transition applies a lifecycle action.
func (s *Simulation) Transition(action string) error {
	switch action {
	case "start":
		switch s.Status {
		case fire.RemoteCreated, fire.RemotePaused, fire.RemoteRunning:
			s.Status = fire.RemoteRunning
			return nil
		}
	case "pause":
		switch s.Status {
		case fire.RemoteRunning, fire.RemotePaused:
			s.Status = fire.RemotePaused
			return nil
		}
	case "stop":
		s.Status = fire.RemoteCompleted
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return fmt.Errorf("cannot %s simulation in state %s", action, s.Status)
}

// Step advances a running simulation by one tick. It reports whether anything
// changed.
func (s *Simulation) Step() bool {
	if s.Status != fire.RemoteRunning {
		return false
	}
	s.Time++
	f := fuelFor(s.Parameters.VegetationType)

	burning := s.burningKeys()
	ignite := map[cellKey]bool{}
	for _, k := range burning {
		c := s.cells[k]
		c.burnTime++
		if c.burnTime >= f.duration {
			c.state = fire.CellBurned
		}
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				if dx == 0 && dy == 0 {
					continue
				}
				n := cellKey{X: k.X + dx, Y: k.Y + dy}
				if !inBounds(n) || s.cells[n] != nil || ignite[n] {
					continue
				}
				if s.rnd.Float64() < s.spreadChance(f, dx, dy) {
					ignite[n] = true
				}
			}
		}
	}
	for k := range ignite {
		s.cells[k] = &cell{state: fire.CellBurning}
	}
	if len(s.burningKeys()) == 0 {
		s.Status = fire.RemoteCompleted
	}
	return true
}

func (s *Simulation) spreadChance(f fuel, dx, dy int) float64 {
	p := s.Parameters
	dryness := 1 - 0.8*p.Humidity/100

	rad := p.WindDirection * math.Pi / 180
	wx, wy := math.Cos(rad), math.Sin(rad)
	norm := math.Hypot(float64(dx), float64(dy))
	align := (wx*float64(dx) + wy*float64(dy)) / norm
	wind := math.Max(0, 1+p.WindSpeed/50*align)

	slope := 1 + p.Slope/45*0.5*float64(dy)

	return math.Min(0.95, math.Max(0, f.spread*dryness*wind*slope/norm))
}

func (s *Simulation) burningKeys() []cellKey {
	var keys []cellKey
	for k, c := range s.cells {
		if c.state == fire.CellBurning {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	return keys
}

// Cells renders the grid, ordered by row then column.
func (s *Simulation) Cells() []fire.FireCell {
	f := fuelFor(s.Parameters.VegetationType)
	dryness := (100 - s.Parameters.Humidity) / 100

	keys := make([]cellKey, 0, len(s.cells))
	for k := range s.cells {
		keys = append(keys, k)
	}
	sortKeys(keys)

	out := make([]fire.FireCell, 0, len(keys))
	for _, k := range keys {
		c := s.cells[k]
		intensity := 0.0
		if c.state == fire.CellBurning {
			remaining := float64(f.duration-c.burnTime) / float64(f.duration)
			intensity = 100 * f.energy * math.Max(0.2, dryness) * math.Max(0.1, remaining)
		}
		out = append(out, fire.FireCell{
			X:           float64(k.X) * cellSize,
			Y:           float64(k.Y) * cellSize,
			Intensity:   intensity,
			Temperature: 20 + intensity*8,
			BurnTime:    c.burnTime,
			State:       c.state,
		})
	}
	return out
}

// Update renders the wire form of the simulation.
func (s *Simulation) Update() fire.Update {
	burned := 0
	for _, c := range s.cells {
		if c.state == fire.CellBurned {
			burned++
		}
	}
	area := cellSize * cellSize
	side := float64(2*gridHalf + 1)
	return fire.Update{
		SimulationID: s.ID,
		Status:       s.Status,
		CurrentTime:  s.Time,
		FireCells:    s.Cells(),
		Metadata: &fire.Metadata{
			TotalArea:         side * side * area,
			BurnedArea:        float64(burned) * area,
			EstimatedDuration: float64(fuelFor(s.Parameters.VegetationType).duration * gridHalf),
		},
	}
}

func fuelFor(v fire.VegetationType) fuel {
	if f, ok := fuels[v]; ok {
		return f
	}
	return fuels[fire.VegetationForest]
}

func inBounds(k cellKey) bool {
	return k.X >= -gridHalf && k.X <= gridHalf && k.Y >= -gridHalf && k.Y <= gridHalf
}

func sortKeys(keys []cellKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].X < keys[j].X
	})
}

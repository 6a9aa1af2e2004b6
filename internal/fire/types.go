// Package fire holds the session domain types shared by the client core and
// the reference service.
package fire

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VegetationType names the fuel model of the terrain.
type VegetationType string

// Vegetation types accepted by the editor.
const (
	VegetationForest       VegetationType = "forest"
	VegetationGrassland    VegetationType = "grassland"
	VegetationShrubland    VegetationType = "shrubland"
	VegetationAgricultural VegetationType = "agricultural"
	VegetationUrban        VegetationType = "urban"
)

// VegetationTypes lists all known vegetation types in display order.
var VegetationTypes = []VegetationType{
	VegetationForest,
	VegetationGrassland,
	VegetationShrubland,
	VegetationAgricultural,
	VegetationUrban,
}

// Valid reports whether v is one of the known vegetation types.
func (v VegetationType) Valid() bool {
	for _, t := range VegetationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// CellState is the burn state of a fire cell.
type CellState string

// Cell states.
const (
	CellUnburned CellState = "unburned"
	CellBurning  CellState = "burning"
	CellBurned   CellState = "burned"
)

// RemoteStatus is the status field of a remote simulation response.
type RemoteStatus string

// Remote simulation statuses.
const (
	RemoteCreated   RemoteStatus = "created"
	RemoteRunning   RemoteStatus = "running"
	RemotePaused    RemoteStatus = "paused"
	RemoteCompleted RemoteStatus = "completed"
	RemoteError     RemoteStatus = "error"
)

// Valid reports whether s is a known remote status.
func (s RemoteStatus) Valid() bool {
	switch s {
	case RemoteCreated, RemoteRunning, RemotePaused, RemoteCompleted, RemoteError:
		return true
	}
	return false
}

var (
	// ErrInvalidParameters is returned when simulation parameters are out of range.
	ErrInvalidParameters = errors.New("invalid simulation parameters")
	// ErrInvalidIgnitionPoint is returned when an ignition point lies outside the canvas.
	ErrInvalidIgnitionPoint = errors.New("invalid ignition point")
)

// SimulationParameters holds the environmental inputs of a scenario.
type SimulationParameters struct {
	VegetationType VegetationType `json:"vegetationType" yaml:"vegetation_type"`
	WindSpeed      float64        `json:"windSpeed" yaml:"wind_speed"`
	WindDirection  float64        `json:"windDirection" yaml:"wind_direction"`
	Humidity       float64        `json:"humidity" yaml:"humidity"`
	Slope          float64        `json:"slope" yaml:"slope"`
}

// DefaultParameters returns the editor's initial parameter set.
func DefaultParameters() SimulationParameters {
	return SimulationParameters{
		VegetationType: VegetationForest,
		WindSpeed:      45,
		WindDirection:  270,
		Humidity:       65,
		Slope:          15,
	}
}

// Validate checks every field against its allowed range.
func (p SimulationParameters) Validate() error {
	var problems []string
	if !p.VegetationType.Valid() {
		problems = append(problems, fmt.Sprintf("vegetation type %q", p.VegetationType))
	}
	if p.WindSpeed < 0 {
		problems = append(problems, fmt.Sprintf("wind speed %.2f < 0", p.WindSpeed))
	}
	if p.WindDirection < 0 || p.WindDirection >= 360 {
		problems = append(problems, fmt.Sprintf("wind direction %.2f not in [0,360)", p.WindDirection))
	}
	if p.Humidity < 0 || p.Humidity > 100 {
		problems = append(problems, fmt.Sprintf("humidity %.2f not in [0,100]", p.Humidity))
	}
	if p.Slope < 0 || p.Slope > 45 {
		problems = append(problems, fmt.Sprintf("slope %.2f not in [0,45]", p.Slope))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(problems, ", "))
	}
	return nil
}

// ParameterPatch is a partial parameter update; nil fields are left unchanged.
type ParameterPatch struct {
	VegetationType *VegetationType `json:"vegetationType,omitempty"`
	WindSpeed      *float64        `json:"windSpeed,omitempty"`
	WindDirection  *float64        `json:"windDirection,omitempty"`
	Humidity       *float64        `json:"humidity,omitempty"`
	Slope          *float64        `json:"slope,omitempty"`
}

// Apply returns p with the non-nil fields of patch applied.
func (p SimulationParameters) Apply(patch ParameterPatch) SimulationParameters {
	if patch.VegetationType != nil {
		p.VegetationType = *patch.VegetationType
	}
	if patch.WindSpeed != nil {
		p.WindSpeed = *patch.WindSpeed
	}
	if patch.WindDirection != nil {
		p.WindDirection = *patch.WindDirection
	}
	if patch.Humidity != nil {
		p.Humidity = *patch.Humidity
	}
	if patch.Slope != nil {
		p.Slope = *patch.Slope
	}
	return p
}

// IgnitionPoint is a user-placed fire origin in normalized canvas space.
type IgnitionPoint struct {
	ID        string  `json:"id" yaml:"id,omitempty"`
	Lat       float64 `json:"lat" yaml:"lat"`
	Lng       float64 `json:"lng" yaml:"lng"`
	Timestamp int64   `json:"timestamp" yaml:"timestamp,omitempty"` // unix milliseconds
}

// NewIgnitionPoint validates the coordinates and assigns an id and timestamp.
func NewIgnitionPoint(lat, lng float64, now time.Time) (IgnitionPoint, error) {
	p := IgnitionPoint{Lat: lat, Lng: lng}
	if err := p.Validate(); err != nil {
		return IgnitionPoint{}, err
	}
	p.ID = newPointID()
	p.Timestamp = now.UnixMilli()
	return p, nil
}

// Validate checks that the point lies within the normalized canvas.
func (p IgnitionPoint) Validate() error {
	if p.Lat < -1 || p.Lat > 1 || p.Lng < -1 || p.Lng > 1 {
		return fmt.Errorf("%w: (%.3f, %.3f) outside [-1,1]", ErrInvalidIgnitionPoint, p.Lat, p.Lng)
	}
	return nil
}

// Time returns the creation time of the point.
func (p IgnitionPoint) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

func newPointID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
}

// FireCell is one rendered unit of fire state at a point in time.
type FireCell struct {
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Intensity   float64   `json:"intensity"`
	Temperature float64   `json:"temperature"`
	BurnTime    int       `json:"burnTime"`
	State       CellState `json:"state"`
}

// SessionState is the shared state of one editing session.
type SessionState struct {
	IsRunning      bool            `json:"isRunning"`
	IsPaused       bool            `json:"isPaused"`
	CurrentTime    int             `json:"currentTime"`
	FireCells      []FireCell      `json:"fireCells"`
	IgnitionPoints []IgnitionPoint `json:"ignitionPoints"`
}

// Clone returns a deep copy of the state.
func (s SessionState) Clone() SessionState {
	out := s
	out.FireCells = append([]FireCell(nil), s.FireCells...)
	out.IgnitionPoints = append([]IgnitionPoint(nil), s.IgnitionPoints...)
	return out
}

// Metadata carries optional aggregate figures from the remote service.
type Metadata struct {
	TotalArea         float64 `json:"totalArea"`
	BurnedArea        float64 `json:"burnedArea"`
	EstimatedDuration float64 `json:"estimatedDuration"`
}

// Update is the remote simulation payload used by REST responses and push messages.
type Update struct {
	SimulationID string       `json:"simulationId"`
	Status       RemoteStatus `json:"status"`
	CurrentTime  int          `json:"currentTime"`
	FireCells    []FireCell   `json:"fireCells"`
	Metadata     *Metadata    `json:"metadata,omitempty"`
}

// SessionRequest is the body used to create a remote simulation.
type SessionRequest struct {
	Parameters     SimulationParameters `json:"parameters"`
	IgnitionPoints []IgnitionPoint      `json:"ignitionPoints"`
	SimulationID   string               `json:"simulationId,omitempty"`
}

// Scenario is the persisted interchange record of a user's scenario.
type Scenario struct {
	ID             string               `json:"id,omitempty"`
	Name           string               `json:"name"`
	Description    string               `json:"description"`
	Parameters     SimulationParameters `json:"parameters"`
	IgnitionPoints []IgnitionPoint      `json:"ignitionPoints"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}
